// SPDX-License-Identifier: Apache-2.0

package remedy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kusari-oss/remedy/internal/core/logging"
	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/remedy/audit"
	"github.com/kusari-oss/remedy/internal/remedy/executor"
	"github.com/kusari-oss/remedy/internal/remedy/state"
	"github.com/kusari-oss/remedy/internal/remedy/validation"
	"go.uber.org/zap"
)

type phase int

const (
	phaseSubmitted phase = iota
	// held by the risk gate
	phaseAwaiting
	// handed to the run goroutine
	phaseStarted
	phaseFinished
)

type planRecord struct {
	exec        *executor.Execution
	risk        *models.RiskAssessment
	submittedAt time.Time

	mu         sync.Mutex
	phase      phase
	updated    time.Time
	decision   chan bool
	cancel     context.CancelFunc
	handle     *Handle
	validation *models.ValidationResult
}

func (r *planRecord) status() models.PlanStatus {
	r.mu.Lock()
	updated := r.updated
	r.mu.Unlock()
	if last := r.exec.Machine.LastUpdated(); last.After(updated) {
		updated = last
	}
	return models.PlanStatus{
		PlanID:      r.exec.Plan.ID,
		State:       r.exec.Machine.PlanState(),
		Actions:     r.exec.Machine.Snapshots(),
		Risk:        copyRisk(r.risk),
		SubmittedAt: r.submittedAt,
		LastUpdated: updated,
	}
}

// setFlags must be called with r.mu held
func (r *planRecord) setFlags(now time.Time, fn func(*state.Flags)) {
	r.exec.Machine.Update(fn)
	if now.After(r.updated) {
		r.updated = now
	}
}

func copyRisk(r *models.RiskAssessment) *models.RiskAssessment {
	if r == nil {
		return nil
	}
	c := *r
	c.PotentialIssues = append([]string(nil), r.PotentialIssues...)
	c.Mitigations = append([]string(nil), r.Mitigations...)
	c.AffectedComponents = append([]string(nil), r.AffectedComponents...)
	c.ApprovalReasons = append([]string(nil), r.ApprovalReasons...)
	c.ManualApprovalActions = append([]string(nil), r.ManualApprovalActions...)
	return &c
}

func sortBySubmission(recs []*planRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].submittedAt.Before(recs[j].submittedAt)
	})
}

// Handle tracks one asynchronous plan execution
type Handle struct {
	PlanID string

	done   chan struct{}
	result *models.RemediationResult
	err    error
}

func newHandle(planID string) *Handle {
	return &Handle{PlanID: planID, done: make(chan struct{})}
}

func (h *Handle) finish(result *models.RemediationResult, err error) {
	h.result, h.err = result, err
	close(h.done)
}

// Done is closed when the plan has reached a terminal state
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the plan finishes or ctx is done. The error aggregates
// execution and rollback failures; the result is set even when it is not nil.
func (h *Handle) Wait(ctx context.Context) (*models.RemediationResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Execute starts a submitted plan. Plan-scope validation runs first; a plan
// that fails it finishes Failed without running any action. A plan whose
// risk requires approval is left Waiting until Approve or Reject.
//
// Execution continues after ctx is done. Use Cancel to stop it.
func (e *Engine) Execute(ctx context.Context, planID string) (*Handle, error) {
	rec, err := e.lookup(planID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	switch {
	case rec.handle != nil:
		rec.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExecuting, planID)
	case rec.phase == phaseFinished:
		rec.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPlanFinished, planID)
	}
	runCtx, cancel := context.WithCancel(logging.WithPlanID(context.WithoutCancel(ctx), planID))
	h := newHandle(planID)
	rec.handle, rec.cancel, rec.phase = h, cancel, phaseStarted
	rec.mu.Unlock()

	res, err := e.validatePlan(runCtx, rec)
	rec.mu.Lock()
	rec.validation = &res
	rec.mu.Unlock()
	if err != nil {
		rec.mu.Lock()
		rec.setFlags(e.clock.Now(), func(f *state.Flags) { f.ValidationFailed = true })
		rec.mu.Unlock()
		e.audit.Log(runCtx, planID, "", audit.EventValidationFailed, err.Error())
		e.logger.Warn(runCtx, "plan validation failed", zap.Error(err))
		result := e.unstarted(rec, models.ResultSkipped, "plan validation failed")
		e.audit.Log(runCtx, planID, "", audit.EventPlanFailed, "plan validation failed")
		cancel()
		e.finish(rec, result, err)
		return h, nil
	}

	if rec.risk.RequiresApproval {
		rec.mu.Lock()
		awaiting := runCtx.Err() == nil
		if awaiting {
			rec.phase = phaseAwaiting
			rec.decision = make(chan bool, 1)
			rec.setFlags(e.clock.Now(), func(f *state.Flags) { f.AwaitingApproval = true })
		}
		rec.mu.Unlock()
		// A Cancel that arrived during validation skips the gate entirely
		if awaiting {
			e.audit.Log(runCtx, planID, "", audit.EventApprovalRequired, strings.Join(rec.risk.ApprovalReasons, "; "))
			e.logger.Info(runCtx, "plan awaiting approval",
				zap.String("risk", string(rec.risk.Level)),
				zap.Strings("reasons", rec.risk.ApprovalReasons))
		}
	}

	go e.run(runCtx, rec)
	return h, nil
}

func (e *Engine) validatePlan(ctx context.Context, rec *planRecord) (models.ValidationResult, error) {
	plan := rec.exec.Plan
	res, err := e.validator.Check(ctx, validation.ScopePlan, validation.Target{
		Plan:      plan,
		Context:   rec.exec.Data,
		ContextID: rec.exec.ContextID,
		Satisfied: rec.exec.Prerequisites,
	})
	if err != nil {
		return res, err
	}
	for _, w := range res.Warnings {
		e.audit.Log(ctx, plan.ID, "", audit.EventValidationWarning, w)
	}
	if plan.RequiresValidation && len(res.Warnings) > 0 {
		res.IsValid = false
		res.Errors = append(res.Errors, res.Warnings...)
		return res, &validation.ValidationError{Scope: validation.ScopePlan, PlanID: plan.ID, Result: res}
	}
	return res, nil
}

func (e *Engine) run(ctx context.Context, rec *planRecord) {
	defer rec.cancel()

	rec.mu.Lock()
	decision := rec.decision
	rec.mu.Unlock()

	if decision != nil {
		approved := false
		select {
		case approved = <-decision:
		case <-ctx.Done():
		}
		if !approved {
			e.finish(rec, e.unstarted(rec, models.ResultCancelled, "plan was not approved"), nil)
			return
		}
	}

	result, err := e.executor.Run(ctx, rec.exec)
	rec.mu.Lock()
	result.Validation = rec.validation
	rec.mu.Unlock()
	result.Risk = copyRisk(rec.risk)
	e.metrics.Merge(result.Metrics)
	e.finish(rec, result, err)
}

// unstarted builds the result of a plan that ended before any action ran
func (e *Engine) unstarted(rec *planRecord, status models.ResultStatus, reason string) *models.RemediationResult {
	plan := rec.exec.Plan
	now := e.clock.Now()
	rec.mu.Lock()
	validated := rec.validation
	rec.mu.Unlock()

	result := &models.RemediationResult{
		PlanID:     plan.ID,
		Validation: validated,
		Risk:       copyRisk(rec.risk),
		Error:      reason,
		StartedAt:  now,
		FinishedAt: now,
	}
	for _, a := range plan.EnabledActions() {
		r := models.ActionResult{
			PlanID:     plan.ID,
			ActionID:   a.ID,
			ActionType: a.Type,
			Status:     status,
			State:      models.StateNotStarted,
			Error:      reason,
		}
		if st, ok := rec.exec.Machine.Action(a.ID); ok {
			r.State = st.Current()
		}
		result.Actions = append(result.Actions, r)
		e.dispatch(r)
	}
	result.RollbackStatus = models.RollbackStatusFor(&result.Rollback)
	result.State = rec.exec.Machine.PlanState()
	return result
}

func (e *Engine) finish(rec *planRecord, result *models.RemediationResult, err error) {
	rec.mu.Lock()
	rec.phase = phaseFinished
	h := rec.handle
	rec.mu.Unlock()
	h.finish(result, err)
}

// Approve releases a plan held by the risk gate
func (e *Engine) Approve(ctx context.Context, planID string) error {
	rec, err := e.lookup(planID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	if rec.phase != phaseAwaiting {
		rec.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotWaiting, planID)
	}
	rec.phase = phaseStarted
	rec.setFlags(e.clock.Now(), func(f *state.Flags) { f.AwaitingApproval = false })
	rec.decision <- true
	rec.mu.Unlock()

	ctx = logging.WithPlanID(ctx, planID)
	e.audit.Log(ctx, planID, "", audit.EventPlanApproved, fmt.Sprintf("risk %s accepted", rec.risk.Level))
	e.logger.Info(ctx, "plan approved")
	return nil
}

// Reject cancels a plan held by the risk gate. None of its actions run.
func (e *Engine) Reject(ctx context.Context, planID, reason string) error {
	rec, err := e.lookup(planID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	if rec.phase != phaseAwaiting {
		rec.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotWaiting, planID)
	}
	rec.phase = phaseStarted
	rec.setFlags(e.clock.Now(), func(f *state.Flags) {
		f.AwaitingApproval = false
		f.Rejected = true
	})
	rec.decision <- false
	rec.mu.Unlock()

	ctx = logging.WithPlanID(ctx, planID)
	e.audit.Log(ctx, planID, "", audit.EventPlanRejected, reason)
	e.logger.Info(ctx, "plan rejected", zap.String("reason", reason))
	return nil
}

// Cancel stops a plan. Actions that have not started never will; running
// actions finish, then completed work is rolled back.
func (e *Engine) Cancel(ctx context.Context, planID string) error {
	rec, err := e.lookup(planID)
	if err != nil {
		return err
	}
	ctx = logging.WithPlanID(ctx, planID)

	rec.mu.Lock()
	prev := rec.phase
	switch prev {
	case phaseFinished:
		rec.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPlanFinished, planID)
	case phaseSubmitted:
		rec.phase = phaseFinished
		rec.setFlags(e.clock.Now(), func(f *state.Flags) { f.Cancelled = true })
	case phaseAwaiting:
		rec.phase = phaseStarted
		rec.setFlags(e.clock.Now(), func(f *state.Flags) {
			f.AwaitingApproval = false
			f.Cancelled = true
		})
		rec.cancel()
	default:
		rec.setFlags(e.clock.Now(), func(f *state.Flags) { f.Cancelled = true })
		rec.cancel()
	}
	rec.mu.Unlock()

	switch prev {
	case phaseSubmitted:
		e.audit.Log(ctx, planID, "", audit.EventPlanCancelled, "cancelled before execution")
	case phaseAwaiting:
		e.audit.Log(ctx, planID, "", audit.EventPlanCancelled, "cancelled while awaiting approval")
	}
	e.logger.Info(ctx, "plan cancellation requested")
	return nil
}

// Pause stops new actions from launching. Actions that become ready park in
// Paused; running actions are not interrupted.
func (e *Engine) Pause(ctx context.Context, planID string) error {
	return e.setPaused(ctx, planID, true)
}

// Resume lets parked actions continue
func (e *Engine) Resume(ctx context.Context, planID string) error {
	return e.setPaused(ctx, planID, false)
}

func (e *Engine) setPaused(ctx context.Context, planID string, paused bool) error {
	rec, err := e.lookup(planID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	if rec.phase == phaseFinished {
		rec.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPlanFinished, planID)
	}
	var changed bool
	event := audit.EventPlanResumed
	if paused {
		changed = rec.exec.Control.Pause()
		event = audit.EventPlanPaused
	} else {
		changed = rec.exec.Control.Resume()
	}
	if changed {
		rec.setFlags(e.clock.Now(), func(f *state.Flags) { f.Paused = paused })
	}
	rec.mu.Unlock()

	if changed {
		ctx = logging.WithPlanID(ctx, planID)
		e.audit.Log(ctx, planID, "", event, "")
		e.logger.Info(ctx, event)
	}
	return nil
}

// IsPlanValidationError reports whether err came from plan-scope validation
func IsPlanValidationError(err error) bool {
	var verr *validation.ValidationError
	return errors.As(err, &verr) && verr.Scope == validation.ScopePlan
}
