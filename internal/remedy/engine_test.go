// SPDX-License-Identifier: Apache-2.0

package remedy_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/kusari-oss/remedy/internal/core/action"
	"github.com/kusari-oss/remedy/internal/core/config"
	"github.com/kusari-oss/remedy/internal/core/logging"
	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/remedy"
	"github.com/kusari-oss/remedy/internal/remedy/audit"
	"github.com/kusari-oss/remedy/internal/remedy/graph"
	"github.com/kusari-oss/remedy/internal/remedy/planner"
	"github.com/kusari-oss/remedy/internal/remedy/validation"
	"github.com/kusari-oss/remedy/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

type fixture struct {
	engine  *remedy.Engine
	factory *action.Factory
}

func newFixture(t *testing.T, opts ...remedy.Option) *fixture {
	t.Helper()
	factory := action.NewFactory(action.Context{})
	cfg := config.NewDefaultConfig()
	e, err := remedy.New(cfg, append([]remedy.Option{remedy.WithFactory(factory)}, opts...)...)
	require.NoError(t, err)
	return &fixture{engine: e, factory: factory}
}

func (f *fixture) script(actionType string, steps ...testutil.Step) *testutil.ScriptedAction {
	s := testutil.NewScriptedAction(steps...)
	f.factory.RegisterFunc(actionType, s.Run)
	return s
}

func (f *fixture) submit(t *testing.T, plan *models.RemediationPlan, opts ...remedy.SubmitOption) {
	t.Helper()
	_, err := f.engine.SubmitPlan(context.Background(), plan, opts...)
	require.NoError(t, err)
}

func (f *fixture) execute(t *testing.T, planID string) *remedy.Handle {
	t.Helper()
	h, err := f.engine.Execute(context.Background(), planID)
	require.NoError(t, err)
	return h
}

func wait(t *testing.T, h *remedy.Handle) (*models.RemediationResult, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	result, err := h.Wait(ctx)
	require.False(t, errors.Is(err, context.DeadlineExceeded), "plan did not finish")
	require.NotNil(t, result)
	return result, err
}

func (f *fixture) state(t *testing.T, planID string) models.State {
	t.Helper()
	st, err := f.engine.GetStatus(planID)
	require.NoError(t, err)
	return st.State
}

func newPlan(id string, actions ...models.RemediationAction) *models.RemediationPlan {
	return &models.RemediationPlan{ID: id, Actions: actions}
}

func events(entries []models.AuditEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.EventType)
	}
	return out
}

func TestDependentActionCompletesAfterItsDependency(t *testing.T) {
	f := newFixture(t)
	f.script("step")

	f.submit(t, newPlan("plan-a",
		models.RemediationAction{ID: "B", Type: "step", Dependencies: []string{"A"}},
		models.RemediationAction{ID: "A", Type: "step"},
	))
	result, err := wait(t, f.execute(t, "plan-a"))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, models.StateCompleted, result.State)
	assert.Equal(t, models.StateCompleted, f.state(t, "plan-a"))

	completed := f.engine.GetAuditLog(audit.Filter{PlanID: "plan-a", EventType: audit.EventActionCompleted})
	require.Len(t, completed, 2)
	assert.Equal(t, "A", completed[0].ActionID)
	assert.Equal(t, "B", completed[1].ActionID)
}

func TestCyclicPlanIsRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.SubmitPlan(context.Background(), newPlan("plan-b",
		models.RemediationAction{ID: "A", Type: "step", Dependencies: []string{"B"}},
		models.RemediationAction{ID: "B", Type: "step", Dependencies: []string{"A"}},
	))
	var cycle *graph.CircularDependencyError
	require.ErrorAs(t, err, &cycle)
	assert.Contains(t, cycle.Cycle, "A")
	assert.Contains(t, cycle.Cycle, "B")

	_, err = f.engine.GetStatus("plan-b")
	assert.ErrorIs(t, err, remedy.ErrPlanNotFound)
	assert.Empty(t, f.engine.GetAuditLog(audit.Filter{PlanID: "plan-b"}))
}

func TestRetriedActionCompletes(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("connection refused")
	s := f.script("flaky", testutil.Step{Err: boom}, testutil.Step{Err: boom}, testutil.Step{})

	f.submit(t, newPlan("plan-c",
		models.RemediationAction{ID: "A", Type: "flaky", RetryCount: 2, RetryDelayMs: 1},
	))
	result, err := wait(t, f.execute(t, "plan-c"))
	require.NoError(t, err)

	assert.Equal(t, models.StateCompleted, result.State)
	assert.Equal(t, 3, s.Calls())
	assert.False(t, result.Rollback.Triggered)
	assert.Equal(t, models.RollbackNotRequired, result.RollbackStatus)

	st, err := f.engine.GetStatus("plan-c")
	require.NoError(t, err)
	require.Len(t, st.Actions, 1)
	var history []models.State
	for _, c := range st.Actions[0].History {
		history = append(history, c.To)
	}
	assert.Equal(t, []models.State{
		models.StateInProgress, models.StateFailed,
		models.StateInProgress, models.StateFailed,
		models.StateInProgress, models.StateCompleted,
	}, history)
}

func criticalPlan(id string) *models.RemediationPlan {
	p := newPlan(id, models.RemediationAction{ID: "A", Type: "step", Impact: models.ScopeSystem})
	p.Severity = models.SeverityCritical
	return p
}

func TestCriticalPlanWaitsForApproval(t *testing.T) {
	f := newFixture(t)
	s := f.script("step")

	status, err := f.engine.SubmitPlan(context.Background(), criticalPlan("plan-d"))
	require.NoError(t, err)
	require.NotNil(t, status.Risk)
	assert.Equal(t, models.RiskCritical, status.Risk.Level)
	assert.True(t, status.Risk.RequiresApproval)
	assert.Equal(t, models.StateNotStarted, status.State)

	h := f.execute(t, "plan-d")
	assert.Equal(t, models.StateWaiting, f.state(t, "plan-d"))
	select {
	case <-h.Done():
		t.Fatal("plan finished without approval")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, s.Calls())
	assert.Len(t, f.engine.GetAuditLog(audit.Filter{PlanID: "plan-d", EventType: audit.EventApprovalRequired}), 1)

	ctx := logging.WithUserID(context.Background(), "oncall")
	require.NoError(t, f.engine.Approve(ctx, "plan-d"))
	result, err := wait(t, h)
	require.NoError(t, err)

	assert.Equal(t, models.StateCompleted, result.State)
	assert.Equal(t, 1, s.Calls())
	require.NotNil(t, result.Risk)
	assert.Equal(t, models.RiskCritical, result.Risk.Level)

	approved := f.engine.GetAuditLog(audit.Filter{PlanID: "plan-d", EventType: audit.EventPlanApproved})
	require.Len(t, approved, 1)
	assert.Equal(t, "oncall", approved[0].UserID)
	assert.ErrorIs(t, f.engine.Approve(ctx, "plan-d"), remedy.ErrNotWaiting)
}

func TestRejectedPlanRunsNothing(t *testing.T) {
	f := newFixture(t)
	s := f.script("step")
	f.submit(t, criticalPlan("plan-r"))

	h := f.execute(t, "plan-r")
	require.NoError(t, f.engine.Reject(context.Background(), "plan-r", "change freeze"))
	result, err := wait(t, h)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, models.StateCancelled, result.State)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, models.ResultCancelled, result.Actions[0].Status)
	assert.Zero(t, s.Calls())

	rejected := f.engine.GetAuditLog(audit.Filter{PlanID: "plan-r", EventType: audit.EventPlanRejected})
	require.Len(t, rejected, 1)
	assert.Equal(t, "change freeze", rejected[0].Details)
	assert.ErrorIs(t, f.engine.Reject(context.Background(), "plan-r", "again"), remedy.ErrNotWaiting)
}

func TestFailedPlanRollsBackCompletedActions(t *testing.T) {
	f := newFixture(t)
	f.script("step")
	undo := f.script("undo")
	f.script("broken", testutil.Step{Err: errors.New("disk full")})

	plan := newPlan("plan-e",
		models.RemediationAction{ID: "A", Type: "step", CanRollback: true,
			RollbackAction: &models.RemediationAction{Type: "undo"}},
		models.RemediationAction{ID: "B", Type: "broken", Dependencies: []string{"A"}},
	)
	plan.FailFast = models.BoolPtr(true)
	f.submit(t, plan)

	result, err := wait(t, f.execute(t, "plan-e"))
	require.Error(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, models.StateFailed, result.State)
	assert.Equal(t, []string{"B"}, result.FailedActions())
	assert.True(t, result.Rollback.Triggered)
	assert.Equal(t, []string{"A"}, result.Rollback.RolledBack())
	assert.Equal(t, models.RollbackCompleted, result.RollbackStatus)
	assert.Equal(t, 1, undo.Calls())

	st, err := f.engine.GetStatus("plan-e")
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, st.State)
	byID := map[string]models.State{}
	for _, a := range st.Actions {
		byID[a.ActionID] = a.State
	}
	assert.Equal(t, models.StateRolledBack, byID["A"])
	assert.Equal(t, models.StateFailed, byID["B"])
}

func TestRollbackActionWithoutIDIsNamedAfterItsAction(t *testing.T) {
	f := newFixture(t)
	f.script("step")
	f.script("undo")
	f.script("broken", testutil.Step{Err: errors.New("disk full")})

	plan := newPlan("plan-ids",
		models.RemediationAction{ID: "A", Type: "step", CanRollback: true,
			RollbackAction: &models.RemediationAction{Type: "undo", TimeoutMs: 1000}},
		models.RemediationAction{ID: "B", Type: "broken", Dependencies: []string{"A"}},
	)
	status, err := f.engine.SubmitPlan(context.Background(), plan)
	require.NoError(t, err)
	require.NotNil(t, status.Risk)
	assert.False(t, status.Risk.RollbackFeasible, "B cannot be rolled back")

	result, err := wait(t, f.execute(t, "plan-ids"))
	require.Error(t, err)
	require.Len(t, result.Rollback.Outcomes, 1)
	assert.Equal(t, "A-rollback", result.Rollback.Outcomes[0].RollbackActionID)
	assert.Equal(t, models.ResultRolledBack, result.Rollback.Outcomes[0].Status)
}

func TestRollbackWithNothingReversibleIsPartial(t *testing.T) {
	f := newFixture(t)
	f.script("step")
	f.script("broken", testutil.Step{Err: errors.New("disk full")})

	f.submit(t, newPlan("plan-skip",
		models.RemediationAction{ID: "A", Type: "step"},
		models.RemediationAction{ID: "B", Type: "broken", Dependencies: []string{"A"}},
	))
	result, err := wait(t, f.execute(t, "plan-skip"))
	require.Error(t, err)

	assert.True(t, result.Rollback.Triggered)
	assert.Empty(t, result.Rollback.RolledBack())
	assert.Empty(t, result.Rollback.Failed())
	assert.Equal(t, []string{"A"}, result.Rollback.Skipped())
	assert.Equal(t, models.RollbackPartial, result.RollbackStatus)
}

func TestRollbackPlanUndoesActionsWithoutPairedRollback(t *testing.T) {
	f := newFixture(t)
	f.script("step")
	undo := f.script("undo")
	f.script("broken", testutil.Step{Err: errors.New("disk full")})

	plan := newPlan("plan-mirror",
		models.RemediationAction{ID: "A", Type: "step", CanRollback: true},
		models.RemediationAction{ID: "B", Type: "broken", Dependencies: []string{"A"}},
	)
	plan.RollbackPlan = newPlan("plan-mirror-rollback",
		models.RemediationAction{ID: models.RollbackID("A"), Type: "undo", Params: map[string]interface{}{"scope": "all"}},
	)
	f.submit(t, plan)

	result, err := wait(t, f.execute(t, "plan-mirror"))
	require.Error(t, err)

	assert.Equal(t, []string{"A"}, result.Rollback.RolledBack())
	assert.Equal(t, models.RollbackCompleted, result.RollbackStatus)
	require.Equal(t, 1, undo.Calls())
	assert.Equal(t, "all", undo.Params(0)["scope"])
	assert.Equal(t, "A-rollback", result.Rollback.Outcomes[0].RollbackActionID)
}

func TestCyclicRollbackPlanIsRejected(t *testing.T) {
	f := newFixture(t)
	f.script("step")

	plan := newPlan("plan-bad-rollback", models.RemediationAction{ID: "A", Type: "step", CanRollback: true})
	plan.RollbackPlan = newPlan("plan-bad-rollback-rollback",
		models.RemediationAction{ID: "x", Type: "step", Dependencies: []string{"y"}},
		models.RemediationAction{ID: "y", Type: "step", Dependencies: []string{"x"}},
	)
	_, err := f.engine.SubmitPlan(context.Background(), plan)
	var cycle *graph.CircularDependencyError
	require.ErrorAs(t, err, &cycle)
	assert.Contains(t, err.Error(), "invalid rollback plan")

	_, err = f.engine.GetStatus("plan-bad-rollback")
	assert.ErrorIs(t, err, remedy.ErrPlanNotFound)
}

func TestSubmitStoresACopy(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	f := newFixture(t, remedy.WithClock(mock))

	plan := newPlan("plan-1", models.RemediationAction{ID: "A", Type: "step"})
	first, err := f.engine.SubmitPlan(context.Background(), plan)
	require.NoError(t, err)
	plan.Actions[0].ID = "mutated"

	st, err := f.engine.GetStatus("plan-1")
	require.NoError(t, err)
	require.Len(t, st.Actions, 1)
	assert.Equal(t, "A", st.Actions[0].ActionID)

	_, err = f.engine.SubmitPlan(context.Background(), newPlan("plan-1", models.RemediationAction{ID: "A", Type: "step"}))
	assert.ErrorIs(t, err, remedy.ErrPlanExists)

	second, err := f.engine.SubmitPlan(context.Background(), newPlan("plan-2", models.RemediationAction{ID: "A", Type: "step"}))
	require.NoError(t, err)
	assert.True(t, second.SubmittedAt.After(first.SubmittedAt))
	assert.Equal(t, []string{"plan-1", "plan-2"}, f.engine.Plans())
}

func TestSubmitRejectsInvalidPlans(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.SubmitPlan(context.Background(), nil)
	assert.Error(t, err)

	_, err = f.engine.SubmitPlan(context.Background(), newPlan("empty"))
	assert.Error(t, err)

	_, err = f.engine.SubmitPlan(context.Background(), newPlan("dangling",
		models.RemediationAction{ID: "A", Type: "step", Dependencies: []string{"missing"}}))
	var unknown *graph.UnknownDependencyError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "missing", unknown.DependencyID)
}

func TestExecuteTwice(t *testing.T) {
	f := newFixture(t)
	f.script("step")
	f.submit(t, newPlan("plan-1", models.RemediationAction{ID: "A", Type: "step"}))

	h := f.execute(t, "plan-1")
	_, err := f.engine.Execute(context.Background(), "plan-1")
	assert.ErrorIs(t, err, remedy.ErrAlreadyExecuting)
	_, _ = wait(t, h)

	_, err = f.engine.Execute(context.Background(), "nope")
	assert.ErrorIs(t, err, remedy.ErrPlanNotFound)
}

func TestPlanValidationFailureRunsNothing(t *testing.T) {
	f := newFixture(t)
	s := f.script("step")
	require.NoError(t, f.engine.Validator().Register(validation.NewFuncRule(
		validation.RuleSpec{RuleID: "maintenance-window", RuleScope: validation.ScopePlan, Level: models.ValidationError},
		func(context.Context, validation.Target) (bool, string, error) {
			return false, "outside maintenance window", nil
		})))

	f.submit(t, newPlan("plan-v", models.RemediationAction{ID: "A", Type: "step"}))
	result, err := wait(t, f.execute(t, "plan-v"))

	require.Error(t, err)
	assert.True(t, remedy.IsPlanValidationError(err))
	assert.Equal(t, models.StateFailed, result.State)
	require.NotNil(t, result.Validation)
	assert.False(t, result.Validation.IsValid)
	assert.Contains(t, result.Validation.Errors, "maintenance-window: outside maintenance window")
	assert.Zero(t, s.Calls())
	assert.Equal(t, models.StateFailed, f.state(t, "plan-v"))
	assert.Len(t, f.engine.GetAuditLog(audit.Filter{PlanID: "plan-v", EventType: audit.EventValidationFailed}), 1)
}

func TestRequiresValidationBlocksOnWarnings(t *testing.T) {
	f := newFixture(t)
	s := f.script("step")
	require.NoError(t, f.engine.Validator().Register(validation.NewFuncRule(
		validation.RuleSpec{RuleID: "owner", RuleScope: validation.ScopePlan, Level: models.ValidationWarning},
		func(context.Context, validation.Target) (bool, string, error) {
			return false, "no owner on call", nil
		})))

	lenient := newPlan("lenient", models.RemediationAction{ID: "A", Type: "step"})
	f.submit(t, lenient)
	result, err := wait(t, f.execute(t, "lenient"))
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, result.State)
	assert.Len(t, f.engine.GetAuditLog(audit.Filter{PlanID: "lenient", EventType: audit.EventValidationWarning}), 1)

	strict := newPlan("strict", models.RemediationAction{ID: "A", Type: "step"})
	strict.RequiresValidation = true
	f.submit(t, strict)
	result, err = wait(t, f.execute(t, "strict"))
	require.Error(t, err)
	assert.Equal(t, models.StateFailed, result.State)
	assert.Equal(t, 1, s.Calls())
}

func TestPrerequisitesFromSubmission(t *testing.T) {
	f := newFixture(t)
	s := f.script("step")

	f.submit(t, newPlan("missing", models.RemediationAction{ID: "A", Type: "step", Prerequisites: []string{"backup"}}))
	result, err := wait(t, f.execute(t, "missing"))
	require.Error(t, err)
	assert.Equal(t, models.StateFailed, result.State)
	assert.Zero(t, s.Calls())

	f.submit(t, newPlan("met", models.RemediationAction{ID: "A", Type: "step", Prerequisites: []string{"backup"}}),
		remedy.WithPrerequisites("backup"))
	result, err = wait(t, f.execute(t, "met"))
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, result.State)
	assert.Equal(t, 1, s.Calls())
}

func TestCancelBeforeExecute(t *testing.T) {
	f := newFixture(t)
	f.submit(t, newPlan("plan-1", models.RemediationAction{ID: "A", Type: "step"}))

	require.NoError(t, f.engine.Cancel(context.Background(), "plan-1"))
	assert.Equal(t, models.StateCancelled, f.state(t, "plan-1"))

	_, err := f.engine.Execute(context.Background(), "plan-1")
	assert.ErrorIs(t, err, remedy.ErrPlanFinished)
	assert.ErrorIs(t, f.engine.Cancel(context.Background(), "plan-1"), remedy.ErrPlanFinished)
}

func TestCancelWhileWaiting(t *testing.T) {
	f := newFixture(t)
	s := f.script("step")
	f.submit(t, criticalPlan("plan-1"))

	h := f.execute(t, "plan-1")
	require.NoError(t, f.engine.Cancel(context.Background(), "plan-1"))
	result, err := wait(t, h)
	require.NoError(t, err)

	assert.Equal(t, models.StateCancelled, result.State)
	assert.Zero(t, s.Calls())
	assert.ErrorIs(t, f.engine.Approve(context.Background(), "plan-1"), remedy.ErrNotWaiting)
}

func TestCancelDuringValidationSkipsApprovalGate(t *testing.T) {
	f := newFixture(t)
	s := f.script("step")
	require.NoError(t, f.engine.Validator().Register(validation.NewFuncRule(
		validation.RuleSpec{RuleID: "operator-abort", RuleScope: validation.ScopePlan, Level: models.ValidationWarning},
		func(_ context.Context, target validation.Target) (bool, string, error) {
			return true, "", f.engine.Cancel(context.Background(), target.Plan.ID)
		})))
	f.submit(t, criticalPlan("plan-1"))

	result, err := wait(t, f.execute(t, "plan-1"))
	require.NoError(t, err)

	assert.Equal(t, models.StateCancelled, result.State)
	assert.Zero(t, s.Calls())
	assert.Empty(t, f.engine.GetAuditLog(audit.Filter{PlanID: "plan-1", EventType: audit.EventApprovalRequired}))
	assert.ErrorIs(t, f.engine.Approve(context.Background(), "plan-1"), remedy.ErrNotWaiting)
}

func TestCancelWhileRunning(t *testing.T) {
	f := newFixture(t)
	first := f.script("first", testutil.Step{Block: true})
	second := f.script("second")
	undo := f.script("undo")

	f.submit(t, newPlan("plan-1",
		models.RemediationAction{ID: "A", Type: "first", CanRollback: true,
			RollbackAction: &models.RemediationAction{Type: "undo"}},
		models.RemediationAction{ID: "B", Type: "second", Dependencies: []string{"A"}},
	))
	h := f.execute(t, "plan-1")

	select {
	case <-first.Started():
	case <-time.After(waitFor):
		t.Fatal("action A did not start")
	}
	require.NoError(t, f.engine.Cancel(context.Background(), "plan-1"))
	first.Release()

	result, _ := wait(t, h)
	assert.Equal(t, models.StateCancelled, result.State)
	assert.Zero(t, second.Calls())
	assert.Equal(t, 1, undo.Calls())
	b, ok := result.ActionResult("B")
	require.True(t, ok)
	assert.Equal(t, models.ResultCancelled, b.Status)
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(t)
	s := f.script("step")
	f.submit(t, newPlan("plan-1", models.RemediationAction{ID: "A", Type: "step"}))

	require.NoError(t, f.engine.Pause(context.Background(), "plan-1"))
	h := f.execute(t, "plan-1")
	require.Eventually(t, func() bool {
		st, err := f.engine.GetStatus("plan-1")
		return err == nil && len(st.Actions) == 1 && st.Actions[0].State == models.StatePaused
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, models.StatePaused, f.state(t, "plan-1"))
	assert.Zero(t, s.Calls())

	require.NoError(t, f.engine.Resume(context.Background(), "plan-1"))
	result, err := wait(t, h)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, result.State)
	assert.Equal(t, 1, s.Calls())

	assert.Len(t, f.engine.GetAuditLog(audit.Filter{PlanID: "plan-1", EventType: audit.EventPlanPaused}), 1)
	assert.Len(t, f.engine.GetAuditLog(audit.Filter{PlanID: "plan-1", EventType: audit.EventPlanResumed}), 1)
	assert.ErrorIs(t, f.engine.Pause(context.Background(), "plan-1"), remedy.ErrPlanFinished)
}

func TestStatusAndAuditReadsAreIdempotent(t *testing.T) {
	f := newFixture(t)
	f.script("step")
	f.submit(t, newPlan("plan-1", models.RemediationAction{ID: "A", Type: "step"}))
	_, err := wait(t, f.execute(t, "plan-1"))
	require.NoError(t, err)

	first, err := f.engine.GetStatus("plan-1")
	require.NoError(t, err)
	second, err := f.engine.GetStatus("plan-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	log := f.engine.GetAuditLog(audit.Filter{})
	assert.Equal(t, log, f.engine.GetAuditLog(audit.Filter{}))
	assert.Equal(t, []string{audit.EventPlanSubmitted, audit.EventRiskAssessed, audit.EventPlanStarted},
		events(log)[:3])
}

func TestClearAuditLog(t *testing.T) {
	f := newFixture(t)
	f.script("step")
	f.submit(t, newPlan("plan-1", models.RemediationAction{ID: "A", Type: "step"}))
	_, err := wait(t, f.execute(t, "plan-1"))
	require.NoError(t, err)

	before := len(f.engine.GetAuditLog(audit.Filter{}))
	require.NotZero(t, before)
	removed := f.engine.ClearAuditLog(context.Background(), "admin", "retention")
	assert.Equal(t, before, removed)

	log := f.engine.GetAuditLog(audit.Filter{})
	require.Len(t, log, 1)
	assert.Equal(t, audit.EventAuditCleared, log[0].EventType)
	assert.Equal(t, "admin", log[0].UserID)
}

func TestMetricsAccumulateAcrossPlans(t *testing.T) {
	f := newFixture(t)
	f.script("step")
	for _, id := range []string{"plan-1", "plan-2"} {
		f.submit(t, newPlan(id, models.RemediationAction{ID: "A", Type: "step"}))
		_, err := wait(t, f.execute(t, id))
		require.NoError(t, err)
	}

	m := f.engine.Metrics()
	assert.Equal(t, int64(2), m.Total)
	assert.Equal(t, int64(2), m.Succeeded)
	assert.Equal(t, int64(2), m.ByType["step"].Total)

	require.NotNil(t, f.engine.Registry())
	families, err := f.engine.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["remedy_actions_results_total"])
}

func TestMetricsCanBeDisabled(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Metrics.Enabled = false
	e, err := remedy.New(cfg)
	require.NoError(t, err)
	assert.Nil(t, e.Registry())
}

func TestInvalidConfigIsRejected(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Engine.RiskThreshold = "apocalyptic"
	_, err := remedy.New(cfg)
	assert.Error(t, err)
}

func TestRemediateBuildsAndRunsAPlan(t *testing.T) {
	f := newFixture(t)
	restart := f.script("restart")

	ec := models.NewErrorContext("err-7", models.ErrorKindDatabase, "orders-db", models.SeverityLow)
	analysis := models.ErrorAnalysisResult{
		ErrorID:  "err-7",
		Severity: models.SeverityLow,
		CandidateActions: []models.RemediationAction{
			{ID: "restart", Type: "restart"},
		},
	}

	h, err := f.engine.Remediate(context.Background(), ec, analysis, planner.Options{PlanID: "generated"})
	require.NoError(t, err)
	result, err := wait(t, h)
	require.NoError(t, err)

	assert.Equal(t, "generated", result.PlanID)
	assert.Equal(t, models.StateCompleted, result.State)
	assert.Equal(t, 1, restart.Calls())
}
