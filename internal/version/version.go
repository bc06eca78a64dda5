// SPDX-License-Identifier: Apache-2.0

// Package version holds build information set with -ldflags -X
package version

var (
	Version = "dev"
	Commit  = "none"
)
