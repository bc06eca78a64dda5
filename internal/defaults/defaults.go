// SPDX-License-Identifier: Apache-2.0

// Package defaults ships the built-in action catalogue. The definitions are
// embedded in the binary and registered as resolver fallbacks, so a file
// with the same name in the actions directory replaces them.
package defaults

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/kusari-oss/remedy/internal/core/action"
	"github.com/kusari-oss/remedy/internal/core/format"
	"github.com/kusari-oss/remedy/internal/core/resolver"
	"github.com/kusari-oss/remedy/internal/core/schema"
)

//go:embed actions/*.yaml
var embeddedFiles embed.FS

const actionsRoot = "actions"

// ListEmbeddedFiles returns the embedded definition file names, sorted
func ListEmbeddedFiles() ([]string, error) {
	entries, err := fs.ReadDir(embeddedFiles, actionsRoot)
	if err != nil {
		return nil, fmt.Errorf("error reading embedded actions: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Definitions parses every embedded definition
func Definitions() ([]action.Config, error) {
	files, err := ListEmbeddedFiles()
	if err != nil {
		return nil, err
	}

	configs := make([]action.Config, 0, len(files))
	for _, name := range files {
		data, err := embeddedFiles.ReadFile(path.Join(actionsRoot, name))
		if err != nil {
			return nil, fmt.Errorf("error reading embedded action %s: %w", name, err)
		}
		var config action.Config
		if err := format.ParseData(data, &config); err != nil {
			return nil, fmt.Errorf("error parsing embedded action %s: %w", name, err)
		}
		if config.Name == "" {
			config.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		if err := schema.Compile(config.Schema); err != nil {
			return nil, fmt.Errorf("embedded action %s: %w", name, err)
		}
		configs = append(configs, config)
	}
	return configs, nil
}

// Register adds the built-in catalogue to r as fallbacks and returns how
// many definitions were registered
func Register(r *resolver.Resolver) (int, error) {
	configs, err := Definitions()
	if err != nil {
		return 0, err
	}

	var result *multierror.Error
	registered := 0
	for _, config := range configs {
		if err := r.RegisterFallback(config); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		registered++
	}
	return registered, result.ErrorOrNil()
}

// CopyActions writes the embedded definitions into dstDir so they can be
// edited. Existing files are kept unless overwrite is set. The names of the
// written files are returned.
func CopyActions(dstDir string, overwrite bool) ([]string, error) {
	files, err := ListEmbeddedFiles()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return nil, fmt.Errorf("error creating directory %s: %w", dstDir, err)
	}

	var written []string
	for _, name := range files {
		dstPath := filepath.Join(dstDir, name)
		if !overwrite {
			if _, err := os.Stat(dstPath); err == nil {
				continue
			}
		}
		data, err := embeddedFiles.ReadFile(path.Join(actionsRoot, name))
		if err != nil {
			return written, fmt.Errorf("error reading embedded action %s: %w", name, err)
		}
		if err := os.WriteFile(dstPath, data, 0644); err != nil {
			return written, fmt.Errorf("error writing %s: %w", dstPath, err)
		}
		written = append(written, name)
	}
	return written, nil
}
