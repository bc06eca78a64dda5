// SPDX-License-Identifier: Apache-2.0

// Package executor runs accepted plans: it launches ready actions
// concurrently, retries failed attempts, and rolls back completed work when
// a plan fails or is cancelled.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/kusari-oss/remedy/internal/core/action"
	"github.com/kusari-oss/remedy/internal/core/logging"
	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/core/resolver"
	"github.com/kusari-oss/remedy/internal/remedy/audit"
	"github.com/kusari-oss/remedy/internal/remedy/state"
	"github.com/kusari-oss/remedy/internal/remedy/validation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrency bounds how many actions of one plan run at once
const DefaultMaxConcurrency = 4

// Executor runs plans. One Executor may run many plans concurrently; all
// per-plan state lives in the Execution.
type Executor struct {
	resolver       *resolver.Resolver
	validator      *validation.Engine
	audit          *audit.Store
	exporter       audit.Exporter
	logger         *logging.Logger
	clock          clock.Clock
	tracer         trace.Tracer
	retry          RetryPolicy
	maxConcurrency int
	defaultTimeout time.Duration
	onResult       func(models.ActionResult)
}

// Option configures an Executor
type Option func(*Executor)

// WithValidator runs action-scope rules before each action starts
func WithValidator(v *validation.Engine) Option {
	return func(e *Executor) { e.validator = v }
}

// WithAudit sets the audit store events are written to
func WithAudit(s *audit.Store) Option {
	return func(e *Executor) { e.audit = s }
}

// WithExporter mirrors per-plan metrics into an external system
func WithExporter(x audit.Exporter) Option {
	return func(e *Executor) { e.exporter = x }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) { e.logger = logging.OrNop(l) }
}

// WithClock sets the clock used for timestamps and retry delays
func WithClock(c clock.Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithTracer sets the tracer for plan and attempt spans
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithRetryPolicy sets the backoff strategy between attempts
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Executor) { e.retry = p }
}

// WithMaxConcurrency bounds concurrent actions per plan
func WithMaxConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxConcurrency = n
		}
	}
}

// WithDefaultTimeout applies to actions that declare no timeout. Zero means
// no limit.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) { e.defaultTimeout = d }
}

// WithResultHandler is called with every action result, from a single
// goroutine, in the order results are recorded
func WithResultHandler(fn func(models.ActionResult)) Option {
	return func(e *Executor) { e.onResult = fn }
}

// New creates an executor that builds actions through r
func New(r *resolver.Resolver, opts ...Option) *Executor {
	e := &Executor{
		resolver:       r,
		logger:         logging.NewNop(),
		clock:          clock.New(),
		tracer:         otel.Tracer("remedy.executor"),
		retry:          DefaultRetryPolicy(),
		maxConcurrency: DefaultMaxConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.audit == nil {
		e.audit = audit.NewStore(audit.WithClock(e.clock), audit.WithLogger(e.logger))
	}
	return e
}

type outcome struct {
	result models.ActionResult
	err    error
}

// Run executes the plan's enabled actions in dependency order. Plan-scope
// validation and the risk gate are the caller's job. Cancelling ctx stops
// new launches, lets running actions finish, then rolls back.
//
// The returned error aggregates every ExecutionFailure and RollbackFailure;
// the result is always populated.
func (e *Executor) Run(ctx context.Context, x *Execution) (*models.RemediationResult, error) {
	planID := x.Plan.ID
	ctx = logging.WithPlanID(ctx, planID)
	ctx, span := e.tracer.Start(ctx, "remedy.plan.execute",
		trace.WithAttributes(
			attribute.String("remedy.plan.id", planID),
			attribute.Int("remedy.plan.actions", len(x.Plan.Actions)),
			attribute.Bool("remedy.plan.fail_fast", x.Plan.IsFailFast()),
		),
	)
	defer span.End()

	metrics := audit.NewMetrics(e.exporter)
	result := &models.RemediationResult{PlanID: planID, StartedAt: e.clock.Now()}
	record := func(r models.ActionResult) {
		result.Actions = append(result.Actions, r)
		metrics.RecordResult(r)
		if e.onResult != nil {
			e.onResult(r)
		}
	}

	e.logger.Info(ctx, "executing plan",
		zap.Int("actions", len(x.Plan.Actions)),
		zap.Bool("fail_fast", x.Plan.IsFailFast()))
	e.audit.Log(ctx, planID, "", audit.EventPlanStarted, fmt.Sprintf("%d action(s)", len(x.Plan.Actions)))

	var errs *multierror.Error
	failures := e.schedule(ctx, x, record)
	errs = multierror.Append(errs, failures...)

	cancelled := ctx.Err() != nil
	if cancelled {
		x.Machine.Update(func(f *state.Flags) { f.Cancelled = true })
	}

	if (len(failures) > 0 || cancelled) && len(x.Machine.InState(models.StateCompleted)) > 0 {
		reason := "plan failed"
		if cancelled {
			reason = "plan cancelled"
		}
		report, err := e.Rollback(ctx, x, reason, metrics)
		result.Rollback = report
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	result.RollbackStatus = models.RollbackStatusFor(&result.Rollback)
	result.State = x.Machine.PlanState()
	result.Success = result.State == models.StateCompleted
	result.Metrics = metrics.Snapshot()
	result.FinishedAt = e.clock.Now()

	err := errs.ErrorOrNil()
	if err != nil {
		result.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	event := audit.EventPlanFailed
	switch result.State {
	case models.StateCompleted:
		event = audit.EventPlanCompleted
	case models.StateCancelled:
		event = audit.EventPlanCancelled
	}
	e.audit.Log(ctx, planID, "", event, fmt.Sprintf("state %s, rollback %s", result.State, result.RollbackStatus))
	e.logger.Info(ctx, "plan finished",
		zap.String("state", string(result.State)),
		zap.String("rollback", string(result.RollbackStatus)),
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)))

	return result, err
}

// schedule launches ready actions until nothing more can run and returns
// the failures
func (e *Executor) schedule(ctx context.Context, x *Execution, record func(models.ActionResult)) []error {
	enabled := make(map[string]bool, len(x.Plan.Actions))
	for _, a := range x.Plan.Actions {
		if a.Enabled() {
			enabled[a.ID] = true
		}
	}

	var (
		g        errgroup.Group
		results  = make(chan outcome, len(enabled))
		running  int
		failed   bool
		stopped  bool
		failures []error
		finished = make(map[string]bool)
		launched = make(map[string]bool)
		parked   = make(map[string]bool)
		prepared = make(map[string]*resolver.Resolved)
		done     = ctx.Done()
	)
	g.SetLimit(e.maxConcurrency)

	// A dependency on a disabled action never blocks
	satisfied := func(id string) bool {
		return !enabled[id] || x.Completed(id)
	}

	for {
		changed := x.Control.Changed()
		paused := x.Control.Paused()

		if !stopped && ctx.Err() != nil {
			stopped = true
			e.logger.Info(ctx, "plan cancelled, no further actions will start", zap.Int("running", running))
		}
		if !stopped && failed && x.Plan.IsFailFast() {
			stopped = true
			e.logger.Info(ctx, "fail-fast: no further actions will start", zap.Int("running", running))
		}

		if !stopped {
			skip := func(id string) bool {
				return !enabled[id] || launched[id] || finished[id] || (paused && parked[id])
			}
			for _, id := range x.Graph.Ready(satisfied, skip) {
				a, _ := x.Plan.ActionByID(id)

				if _, ok := prepared[id]; !ok {
					res, r, err := e.prepare(ctx, x, a)
					if err != nil {
						finished[id] = true
						failed = true
						failures = append(failures, err)
						record(r)
						continue
					}
					prepared[id] = res
				}

				if paused {
					if err := x.Machine.Transition(id, models.StatePaused, "plan paused"); err != nil {
						e.logger.Error(ctx, "parking action", zap.String("action_id", id), zap.Error(err))
					}
					parked[id] = true
					continue
				}

				res := prepared[id]
				if !g.TryGo(func() error {
					r, err := e.runAction(ctx, x, a, res)
					results <- outcome{result: r, err: err}
					return nil
				}) {
					break
				}
				launched[id] = true
				running++
			}
		}

		if running == 0 {
			waiting := false
			for id := range parked {
				if !launched[id] {
					waiting = true
					break
				}
			}
			if stopped || !paused || !waiting {
				break
			}
		}

		select {
		case o := <-results:
			running--
			finished[o.result.ActionID] = true
			record(o.result)
			if o.err != nil {
				failed = true
				failures = append(failures, o.err)
			}
		case <-done:
			done = nil
		case <-changed:
		}
	}
	_ = g.Wait()

	e.recordUnstarted(ctx, x, enabled, finished, record)
	return failures
}

// recordUnstarted reports every enabled action that never ran
func (e *Executor) recordUnstarted(ctx context.Context, x *Execution, enabled, finished map[string]bool, record func(models.ActionResult)) {
	blocked := make(map[string]bool)
	for _, id := range x.Graph.Order() {
		if !enabled[id] || finished[id] {
			continue
		}
		a, _ := x.Plan.ActionByID(id)

		status := models.ResultSkipped
		reason := "plan stopped before the action started"
		for _, dep := range a.Dependencies {
			if blocked[dep] || (enabled[dep] && finished[dep] && !x.Completed(dep)) {
				reason = fmt.Sprintf("dependency %s did not complete", dep)
				break
			}
		}
		if ctx.Err() != nil {
			status = models.ResultCancelled
			reason = "plan cancelled before the action started"
		}
		blocked[id] = true

		st, _ := x.Machine.Action(id)
		now := e.clock.Now()
		record(models.ActionResult{
			PlanID:     x.Plan.ID,
			ActionID:   id,
			ActionType: a.Type,
			Status:     status,
			State:      st.Current(),
			Error:      reason,
			StartedAt:  now,
			FinishedAt: now,
		})
		e.audit.Log(ctx, x.Plan.ID, id, audit.EventActionSkipped, reason)
	}
}

// prepare validates a ready action and builds its runnable form. On failure
// the action moves straight to Failed without running.
func (e *Executor) prepare(ctx context.Context, x *Execution, a *models.RemediationAction) (*resolver.Resolved, models.ActionResult, error) {
	ctx = logging.WithActionID(ctx, a.ID)
	now := e.clock.Now()
	result := models.ActionResult{
		PlanID:     x.Plan.ID,
		ActionID:   a.ID,
		ActionType: a.Type,
		StartedAt:  now,
		FinishedAt: now,
	}

	fail := func(status models.ResultStatus, cause error) (*resolver.Resolved, models.ActionResult, error) {
		if err := x.Machine.Transition(a.ID, models.StateFailed, cause.Error()); err != nil {
			e.logger.Error(ctx, "failing action", zap.Error(err))
		}
		st, _ := x.Machine.Action(a.ID)
		failure := &ExecutionFailure{PlanID: x.Plan.ID, ActionID: a.ID, Status: status, Err: cause}
		result.Status = status
		result.State = st.Current()
		result.Error = failure.Error()
		e.audit.Log(ctx, x.Plan.ID, a.ID, audit.EventActionFailed, result.Error)
		e.logger.Warn(ctx, "action not started", zap.String("status", string(status)), zap.Error(cause))
		return nil, result, failure
	}

	if e.validator != nil {
		vr, err := e.validator.Check(ctx, validation.ScopeAction, validation.Target{
			Plan:      x.Plan,
			Action:    a,
			Context:   x.Data,
			ContextID: x.ContextID,
			Satisfied: x.satisfied(),
		})
		for _, w := range vr.Warnings {
			e.audit.Log(ctx, x.Plan.ID, a.ID, audit.EventValidationWarning, w)
		}
		if err != nil {
			result.Validation = &vr
			e.audit.Log(ctx, x.Plan.ID, a.ID, audit.EventValidationFailed, err.Error())
			return fail(models.ResultValidationFailed, err)
		}
	}

	withRefs, err := x.withOutputRefs(a)
	if err != nil {
		return fail(models.ResultFailed, err)
	}
	res, err := e.resolver.Resolve(withRefs, x.Data)
	if err != nil {
		return fail(models.ResultFailed, fmt.Errorf("resolving action: %w", err))
	}
	return res, result, nil
}

// runAction drives one action through its attempts
func (e *Executor) runAction(ctx context.Context, x *Execution, a *models.RemediationAction, res *resolver.Resolved) (models.ActionResult, error) {
	ctx = logging.WithActionID(ctx, a.ID)
	st, _ := x.Machine.Action(a.ID)
	result := models.ActionResult{
		PlanID:     x.Plan.ID,
		ActionID:   a.ID,
		ActionType: a.Type,
		StartedAt:  e.clock.Now(),
	}

	var (
		values  map[string]interface{}
		attempt int
		lastErr error
	)
	op := func() error {
		attempt++
		reason := "started"
		switch {
		case attempt > 1:
			reason = fmt.Sprintf("retry %d of %d", attempt-1, a.RetryCount)
		case st.Current() == models.StatePaused:
			reason = "resumed"
		}
		if err := st.Start(reason); err != nil {
			return backoff.Permanent(err)
		}

		out, err := e.attempt(ctx, a, res, attempt)
		if err == nil {
			if err := st.Transition(models.StateCompleted, "completed"); err != nil {
				return backoff.Permanent(err)
			}
			values = out
			return nil
		}

		lastErr = err
		willRetry := attempt <= a.RetryCount
		if ferr := st.FailAttempt(err.Error(), willRetry); ferr != nil {
			return backoff.Permanent(ferr)
		}
		if !willRetry {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		e.logger.Warn(ctx, "action attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
		e.audit.Log(ctx, x.Plan.ID, a.ID, audit.EventActionRetry,
			fmt.Sprintf("attempt %d failed, retrying in %s: %v", attempt, wait, err))
	}

	// Cancelling the plan lets the running attempt finish but starts no retry
	policy := backoff.WithContext(e.retry.BackOff(a, e.clock), ctx)
	err := backoff.RetryNotifyWithTimer(op, policy, notify, &clockTimer{clock: e.clock})
	if err != nil && lastErr != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = fmt.Errorf("plan cancelled, retries abandoned: %w", lastErr)
	}

	result.FinishedAt = e.clock.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.State = st.Current()
	result.Attempts = st.Attempts()

	if err != nil {
		status := models.ResultFailed
		if errors.Is(err, context.DeadlineExceeded) {
			status = models.ResultTimedOut
		}
		failure := &ExecutionFailure{PlanID: x.Plan.ID, ActionID: a.ID, Status: status, Attempts: result.Attempts, Err: err}
		result.Status = status
		result.Error = failure.Error()
		e.audit.Log(ctx, x.Plan.ID, a.ID, audit.EventActionFailed, result.Error)
		e.logger.Error(ctx, "action failed", zap.Int("attempts", result.Attempts), zap.Error(err))
		return result, failure
	}

	x.complete(a.ID, values)
	result.Success = true
	result.Status = models.ResultSucceeded
	result.Values = values
	if stdout, ok := values["stdout"].(string); ok {
		result.Output = stdout
	}
	e.audit.Log(ctx, x.Plan.ID, a.ID, audit.EventActionCompleted,
		fmt.Sprintf("completed after %d attempt(s) in %s", result.Attempts, result.Duration))
	e.logger.Info(ctx, "action completed",
		zap.Int("attempts", result.Attempts),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (e *Executor) timeoutFor(a *models.RemediationAction) time.Duration {
	if t := a.Timeout(); t > 0 {
		return t
	}
	return e.defaultTimeout
}

// attempt runs the action body once under its timeout. The body runs on a
// context detached from plan cancellation.
func (e *Executor) attempt(ctx context.Context, a *models.RemediationAction, res *resolver.Resolved, n int) (map[string]interface{}, error) {
	ctx, span := e.tracer.Start(ctx, "remedy.action.attempt",
		trace.WithAttributes(
			attribute.String("remedy.action.id", a.ID),
			attribute.String("remedy.action.type", a.Type),
			attribute.Int("remedy.action.attempt", n),
		),
	)
	defer span.End()

	actx := context.WithoutCancel(ctx)
	timeout := e.timeoutFor(a)
	if timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(actx, timeout)
		defer cancel()
	}

	type reply struct {
		out map[string]interface{}
		err error
	}
	replies := make(chan reply, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				replies <- reply{err: fmt.Errorf("action panicked: %v", p)}
			}
		}()
		out, err := action.Run(actx, res.Action, models.CloneParams(res.Params))
		replies <- reply{out: out, err: err}
	}()

	var r reply
	select {
	case r = <-replies:
	case <-actx.Done():
		r.err = fmt.Errorf("timed out after %s: %w", timeout, actx.Err())
	}

	if r.err != nil {
		span.RecordError(r.err)
		span.SetStatus(codes.Error, r.err.Error())
		return nil, r.err
	}
	span.SetStatus(codes.Ok, "")
	return r.out, nil
}
