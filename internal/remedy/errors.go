// SPDX-License-Identifier: Apache-2.0

package remedy

import "errors"

var (
	// ErrPlanNotFound is returned for operations on an unknown plan id
	ErrPlanNotFound = errors.New("plan not found")
	// ErrPlanExists is returned when a plan id has already been submitted
	ErrPlanExists = errors.New("plan already submitted")
	// ErrNotWaiting is returned by Approve and Reject when the plan is not
	// held by the risk gate
	ErrNotWaiting = errors.New("plan is not awaiting approval")
	// ErrAlreadyExecuting is returned when Execute is called twice for a plan
	ErrAlreadyExecuting = errors.New("plan has already been executed")
	// ErrPlanFinished is returned when controlling a plan that has reached a
	// terminal state
	ErrPlanFinished = errors.New("plan has finished")
)
