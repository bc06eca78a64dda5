// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/kusari-oss/remedy/internal/core/logging"
	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/remedy/audit"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Rollback reverses the plan's completed actions, dependents first. Each
// action is undone by its paired rollback action or, failing that, by the
// matching step of the plan's rollback plan. Actions with neither are
// reported as skipped. A failed rollback is
// recorded and the walk continues; the returned error aggregates every
// RollbackFailure. metrics may be nil.
func (e *Executor) Rollback(ctx context.Context, x *Execution, reason string, metrics *audit.Metrics) (models.RollbackReport, error) {
	// Rollback must run even when the plan was cancelled
	ctx = context.WithoutCancel(ctx)
	ctx, span := e.tracer.Start(ctx, "remedy.plan.rollback",
		trace.WithAttributes(
			attribute.String("remedy.plan.id", x.Plan.ID),
			attribute.String("remedy.rollback.reason", reason),
		),
	)
	defer span.End()

	report := models.RollbackReport{Triggered: true, Reason: reason}
	order := x.Graph.Reverse(x.Machine.InState(models.StateCompleted))

	e.logger.Info(ctx, "rolling back plan", zap.String("reason", reason), zap.Strings("actions", order))
	e.audit.Log(ctx, x.Plan.ID, "", audit.EventRollbackStarted, reason)

	var errs *multierror.Error
	for _, id := range order {
		a, _ := x.Plan.ActionByID(id)
		outcome, err := e.rollbackAction(ctx, x, a)
		report.Outcomes = append(report.Outcomes, outcome)
		if metrics != nil {
			metrics.RecordRollback(a.Type, outcome)
		}
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	status := models.RollbackStatusFor(&report)
	e.audit.Log(ctx, x.Plan.ID, "", audit.EventRollbackFinished, fmt.Sprintf("rollback %s: %d rolled back, %d failed, %d skipped",
		status, len(report.RolledBack()), len(report.Failed()), len(report.Skipped())))

	err := errs.ErrorOrNil()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return report, err
}

func (e *Executor) rollbackAction(ctx context.Context, x *Execution, a *models.RemediationAction) (models.RollbackOutcome, error) {
	ctx = logging.WithActionID(ctx, a.ID)
	outcome := models.RollbackOutcome{ActionID: a.ID}

	rb, ok := x.Plan.RollbackStep(a)
	if !ok {
		outcome.Status = models.ResultRollbackSkipped
		outcome.Error = "action does not support rollback"
		e.audit.Log(ctx, x.Plan.ID, a.ID, audit.EventRollbackSkipped, outcome.Error)
		return outcome, nil
	}
	outcome.RollbackActionID = rb.ID

	start := e.clock.Now()
	err := e.runRollback(ctx, x, &rb)
	outcome.Duration = e.clock.Now().Sub(start)

	if err == nil {
		err = x.Machine.Transition(a.ID, models.StateRolledBack, "rolled back by "+rb.ID)
	}
	if err != nil {
		failure := &RollbackFailure{PlanID: x.Plan.ID, ActionID: a.ID, RollbackActionID: rb.ID, Err: err}
		outcome.Status = models.ResultRollbackFailed
		outcome.Error = err.Error()
		e.audit.Log(ctx, x.Plan.ID, a.ID, audit.EventRollbackFailed, failure.Error())
		e.logger.Error(ctx, "rollback failed", zap.String("rollback_action_id", rb.ID), zap.Error(err))
		return outcome, failure
	}

	outcome.Status = models.ResultRolledBack
	e.audit.Log(ctx, x.Plan.ID, a.ID, audit.EventActionRolledBack, "rolled back by "+rb.ID)
	e.logger.Info(ctx, "action rolled back", zap.String("rollback_action_id", rb.ID))
	return outcome, nil
}

// runRollback runs a rollback action with the same retry policy as forward
// actions. Rollback actions have no lifecycle of their own.
func (e *Executor) runRollback(ctx context.Context, x *Execution, rb *models.RemediationAction) error {
	if rb.Type == "" {
		return errors.New("rollback action has no type")
	}
	withRefs, err := x.withOutputRefs(rb)
	if err != nil {
		return err
	}
	res, err := e.resolver.Resolve(withRefs, x.Data)
	if err != nil {
		return fmt.Errorf("resolving rollback action: %w", err)
	}

	attempt := 0
	op := func() error {
		attempt++
		_, err := e.attempt(ctx, rb, res, attempt)
		return err
	}
	return backoff.RetryNotifyWithTimer(op, e.retry.BackOff(rb, e.clock), nil, &clockTimer{clock: e.clock})
}
