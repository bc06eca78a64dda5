// SPDX-License-Identifier: Apache-2.0

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePlan() *RemediationPlan {
	return &RemediationPlan{
		ID:       "plan-1",
		Severity: SeverityHigh,
		Actions: []RemediationAction{
			{
				ID:     "restart",
				Type:   "cli",
				Params: map[string]interface{}{"service": "api", "flags": []interface{}{"--force"}},
			},
			{
				ID:           "verify",
				Type:         "cli",
				Dependencies: []string{"restart"},
				Coupling:     map[string]CouplingType{"restart": CouplingTight},
				CanRollback:  true,
				RollbackAction: &RemediationAction{
					ID:   "verify-undo",
					Type: "cli",
				},
			},
		},
	}
}

func TestRemediationPlanValidate(t *testing.T) {
	t.Run("ValidPlan", func(t *testing.T) {
		require.NoError(t, samplePlan().Validate())
	})

	t.Run("MissingPlanID", func(t *testing.T) {
		plan := samplePlan()
		plan.ID = ""
		err := plan.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ID")
	})

	t.Run("NoActions", func(t *testing.T) {
		plan := samplePlan()
		plan.Actions = nil
		err := plan.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Actions")
	})

	t.Run("MissingActionType", func(t *testing.T) {
		plan := samplePlan()
		plan.Actions[0].Type = ""
		err := plan.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Actions[0].Type")
	})

	t.Run("UnknownImpactScope", func(t *testing.T) {
		plan := samplePlan()
		plan.Actions[1].Impact = "galaxy"
		assert.Error(t, plan.Validate())
	})

	t.Run("NegativeRetryCount", func(t *testing.T) {
		plan := samplePlan()
		plan.Actions[0].RetryCount = -1
		assert.Error(t, plan.Validate())
	})

	t.Run("ScoreOutOfRange", func(t *testing.T) {
		plan := samplePlan()
		plan.Confidence = 1.5
		assert.Error(t, plan.Validate())
	})

	t.Run("InvalidNestedRollbackAction", func(t *testing.T) {
		plan := samplePlan()
		plan.Actions[1].RollbackAction.Type = ""
		err := plan.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Actions[1].RollbackAction.Type")
	})

	t.Run("RollbackActionWithoutID", func(t *testing.T) {
		plan := samplePlan()
		plan.Actions[1].RollbackAction.ID = ""
		require.NoError(t, plan.Validate())
	})

	t.Run("NegativeRollbackTimeout", func(t *testing.T) {
		plan := samplePlan()
		plan.Actions[1].RollbackAction.TimeoutMs = -5
		err := plan.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Actions[1].RollbackAction.TimeoutMs")
	})
}

func TestRollbackStep(t *testing.T) {
	plan := samplePlan()
	plan.Actions[1].RollbackAction.ID = ""

	step, ok := plan.RollbackStep(&plan.Actions[1])
	require.True(t, ok)
	assert.Equal(t, "verify-rollback", step.ID)

	_, ok = plan.RollbackStep(&plan.Actions[0])
	assert.False(t, ok, "restart cannot roll back")

	plan.Actions[0].CanRollback = true
	_, ok = plan.RollbackStep(&plan.Actions[0])
	assert.False(t, ok, "no paired action and no rollback plan")

	plan.RollbackPlan = &RemediationPlan{
		ID:      "plan-1-rollback",
		Actions: []RemediationAction{{ID: "restart-rollback", Type: "cli", TimeoutMs: 500}},
	}
	step, ok = plan.RollbackStep(&plan.Actions[0])
	require.True(t, ok)
	assert.Equal(t, "restart-rollback", step.ID)
	assert.Equal(t, int64(500), step.TimeoutMs)
}

func TestRemediationPlanClone(t *testing.T) {
	original := samplePlan()
	original.FailFast = BoolPtr(false)
	clone := original.Clone()

	// Mutate the clone deeply
	clone.Actions[0].Params["service"] = "worker"
	clone.Actions[0].Params["flags"].([]interface{})[0] = "--soft"
	clone.Actions[1].Dependencies[0] = "other"
	clone.Actions[1].Coupling["restart"] = CouplingLoose
	clone.Actions[1].RollbackAction.ID = "changed"
	*clone.FailFast = true

	assert.Equal(t, "api", original.Actions[0].Params["service"])
	assert.Equal(t, "--force", original.Actions[0].Params["flags"].([]interface{})[0])
	assert.Equal(t, "restart", original.Actions[1].Dependencies[0])
	assert.Equal(t, CouplingTight, original.Actions[1].Coupling["restart"])
	assert.Equal(t, "verify-undo", original.Actions[1].RollbackAction.ID)
	assert.False(t, original.IsFailFast())

	assert.Nil(t, (*RemediationPlan)(nil).Clone())
}

func TestRemediationPlanHelpers(t *testing.T) {
	plan := samplePlan()

	t.Run("FailFastDefaultsToTrue", func(t *testing.T) {
		assert.True(t, plan.IsFailFast())
		plan.FailFast = BoolPtr(false)
		assert.False(t, plan.IsFailFast())
	})

	t.Run("ActionByID", func(t *testing.T) {
		a, ok := plan.ActionByID("verify")
		require.True(t, ok)
		assert.Equal(t, "verify", a.ID)

		_, ok = plan.ActionByID("missing")
		assert.False(t, ok)
	})

	t.Run("EnabledActions", func(t *testing.T) {
		p := samplePlan()
		p.Actions[0].Disabled = true
		enabled := p.EnabledActions()
		require.Len(t, enabled, 1)
		assert.Equal(t, "verify", enabled[0].ID)
	})

	t.Run("ActionAccessors", func(t *testing.T) {
		a := plan.Actions[1]
		assert.True(t, a.Rollbackable())
		assert.Equal(t, CouplingTight, a.CouplingTo("restart"))
		assert.Equal(t, CouplingLoose, a.CouplingTo("unknown"))
		assert.Equal(t, "verify", a.DisplayName())

		a.TimeoutMs = 1500
		a.RetryDelayMs = 20
		assert.Equal(t, "1.5s", a.Timeout().String())
		assert.Equal(t, "20ms", a.RetryDelay().String())
	})
}

func TestLevelRanks(t *testing.T) {
	assert.Less(t, SeverityLow.Rank(), SeverityCritical.Rank())
	assert.Equal(t, 0, Severity("bogus").Rank())
	assert.Less(t, ScopeModule.Rank(), ScopeService.Rank())
	assert.Less(t, ScopeService.Rank(), ScopeSystem.Rank())
	assert.True(t, RiskHigh.AtLeast(RiskMedium))
	assert.False(t, RiskLow.AtLeast(RiskHigh))
	assert.Equal(t, SeverityHigh, RiskHigh.AsSeverity())

	level, err := ParseRiskLevel(" High ")
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, level)

	_, err = ParseRiskLevel("extreme")
	assert.Error(t, err)

	assert.Greater(t, CouplingTight.Weight(), CouplingControl.Weight())
	assert.Greater(t, CouplingControl.Weight(), CouplingData.Weight())
	assert.Zero(t, CouplingLoose.Weight())
}

func TestErrorContext(t *testing.T) {
	base := NewErrorContext("err-1", ErrorKindHTTP, "checkout", SeverityHigh)
	withStatus := base.WithAttribute(AttrHTTPStatus, "503")

	_, ok := base.Attribute(AttrHTTPStatus)
	assert.False(t, ok, "WithAttribute must not modify the receiver")

	status, ok := withStatus.Attribute(AttrHTTPStatus)
	require.True(t, ok)
	assert.Equal(t, "503", status)

	data := withStatus.Data()
	assert.Equal(t, "http", data["kind"])
	assert.Equal(t, "checkout", data["component"])
	assert.Equal(t, "503", data["attributes"].(map[string]interface{})[AttrHTTPStatus])

	assert.Equal(t, "generic", ErrorContext{}.Data()["kind"])
}

func TestRollbackStatusFor(t *testing.T) {
	tests := []struct {
		name     string
		report   *RollbackReport
		expected RollbackStatus
	}{
		{name: "nil report", report: nil, expected: RollbackNotRequired},
		{name: "not triggered", report: &RollbackReport{}, expected: RollbackNotRequired},
		{
			name:     "triggered with nothing to do",
			report:   &RollbackReport{Triggered: true},
			expected: RollbackCompleted,
		},
		{
			name: "all rolled back",
			report: &RollbackReport{Triggered: true, Outcomes: []RollbackOutcome{
				{ActionID: "a", Status: ResultRolledBack},
				{ActionID: "b", Status: ResultRolledBack},
			}},
			expected: RollbackCompleted,
		},
		{
			name: "one failed",
			report: &RollbackReport{Triggered: true, Outcomes: []RollbackOutcome{
				{ActionID: "a", Status: ResultRolledBack},
				{ActionID: "b", Status: ResultRollbackFailed},
			}},
			expected: RollbackPartial,
		},
		{
			name: "skipped counts as partial",
			report: &RollbackReport{Triggered: true, Outcomes: []RollbackOutcome{
				{ActionID: "a", Status: ResultRolledBack},
				{ActionID: "b", Status: ResultRollbackSkipped},
			}},
			expected: RollbackPartial,
		},
		{
			name: "nothing rolled back",
			report: &RollbackReport{Triggered: true, Outcomes: []RollbackOutcome{
				{ActionID: "a", Status: ResultRollbackFailed},
			}},
			expected: RollbackFailed,
		},
		{
			name: "failed and skipped",
			report: &RollbackReport{Triggered: true, Outcomes: []RollbackOutcome{
				{ActionID: "a", Status: ResultRollbackFailed},
				{ActionID: "b", Status: ResultRollbackSkipped},
			}},
			expected: RollbackFailed,
		},
		{
			name: "everything skipped",
			report: &RollbackReport{Triggered: true, Outcomes: []RollbackOutcome{
				{ActionID: "a", Status: ResultRollbackSkipped},
				{ActionID: "b", Status: ResultRollbackSkipped},
			}},
			expected: RollbackPartial,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RollbackStatusFor(tt.report))
		})
	}
}

func TestRunningAverage(t *testing.T) {
	var avg RunningAverage
	for _, sample := range []float64{10, 20, 30} {
		avg = avg.Add(sample)
	}
	assert.Equal(t, int64(3), avg.Count)
	assert.InDelta(t, 20.0, avg.Mean, 1e-9)

	snap := MetricsSnapshot{Averages: map[MetricKey]RunningAverage{
		{ActionType: "cli", Kind: MetricExecutionTime}: avg,
	}}
	got, ok := snap.Average("cli", MetricExecutionTime)
	require.True(t, ok)
	assert.Equal(t, avg, got)
	_, ok = snap.Average("file", MetricExecutionTime)
	assert.False(t, ok)
}
