// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"fmt"

	"github.com/kusari-oss/remedy/internal/core/models"
)

// ExecutionFailure is reported for an action that ended Failed, either
// after its retries ran out or because it could not be started
type ExecutionFailure struct {
	PlanID   string
	ActionID string
	Status   models.ResultStatus
	Attempts int
	Err      error
}

func (e *ExecutionFailure) Error() string {
	if e.Attempts == 0 {
		return fmt.Sprintf("action '%s' %s: %v", e.ActionID, e.Status, e.Err)
	}
	return fmt.Sprintf("action '%s' %s after %d attempt(s): %v", e.ActionID, e.Status, e.Attempts, e.Err)
}

func (e *ExecutionFailure) Unwrap() error { return e.Err }

// RollbackFailure is reported when the rollback action paired with a
// completed action fails. It never stops the remaining rollbacks.
type RollbackFailure struct {
	PlanID           string
	ActionID         string
	RollbackActionID string
	Err              error
}

func (e *RollbackFailure) Error() string {
	return fmt.Sprintf("rollback of action '%s' via '%s' failed: %v", e.ActionID, e.RollbackActionID, e.Err)
}

func (e *RollbackFailure) Unwrap() error { return e.Err }
