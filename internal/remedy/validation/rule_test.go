// SPDX-License-Identifier: Apache-2.0

package validation_test

import (
	"context"
	"testing"

	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/remedy/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleSpecDefaults(t *testing.T) {
	spec := validation.RuleSpec{RuleID: "r"}
	assert.Equal(t, validation.ScopePlan, spec.Scope())
	assert.Equal(t, models.ValidationError, spec.Severity())
	assert.True(t, spec.Enabled())
	assert.Zero(t, spec.CacheDuration())
}

func TestExpressionRule(t *testing.T) {
	plan := testPlan()

	t.Run("PlanScope", func(t *testing.T) {
		rule, err := validation.NewExpressionRule(validation.RuleSpec{RuleID: "sev"}, "plan.severity != 'critical' && context.component == 'api'", nil)
		require.NoError(t, err)

		ok, _, err := rule.Evaluate(context.Background(), validation.Target{Plan: plan, Context: map[string]interface{}{"component": "api"}})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, msg, err := rule.Evaluate(context.Background(), validation.Target{Plan: plan, Context: map[string]interface{}{"component": "db"}})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Contains(t, msg, "is false")
	})

	t.Run("ActionScope", func(t *testing.T) {
		rule, err := validation.NewExpressionRule(
			validation.RuleSpec{RuleID: "svc", RuleScope: validation.ScopeAction},
			"action.type == 'cli' && action.params.service == 'api'", nil)
		require.NoError(t, err)

		ok, _, err := rule.Evaluate(context.Background(), validation.Target{Plan: plan, Action: &plan.Actions[0]})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("BadExpression", func(t *testing.T) {
		_, err := validation.NewExpressionRule(validation.RuleSpec{RuleID: "bad"}, "plan.severity ==", nil)
		assert.Error(t, err)
	})
}

func TestSchemaRule(t *testing.T) {
	plan := testPlan()
	s := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"service"},
		"properties": map[string]interface{}{
			"service": map[string]interface{}{"type": "string"},
		},
	}

	rule, err := validation.NewSchemaRule(validation.RuleSpec{RuleID: "params"}, s, "cli")
	require.NoError(t, err)
	assert.Equal(t, validation.ScopeAction, rule.Scope())

	ok, _, err := rule.Evaluate(context.Background(), validation.Target{Plan: plan, Action: &plan.Actions[0]})
	require.NoError(t, err)
	assert.True(t, ok)

	bad := models.RemediationAction{ID: "x", Type: "cli", Params: map[string]interface{}{"service": 3}}
	ok, msg, err := rule.Evaluate(context.Background(), validation.Target{Plan: plan, Action: &bad})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, msg, "parameter validation failed")

	other := models.RemediationAction{ID: "y", Type: "file"}
	ok, _, err = rule.Evaluate(context.Background(), validation.Target{Plan: plan, Action: &other})
	require.NoError(t, err)
	assert.True(t, ok, "other action types are ignored")

	_, err = validation.NewSchemaRule(validation.RuleSpec{RuleID: "broken"}, map[string]interface{}{"type": 5})
	assert.Error(t, err)
}

func TestPrerequisiteRule(t *testing.T) {
	plan := testPlan()
	rule := validation.NewPrerequisiteRule(validation.RuleSpec{RuleID: "prereq"})
	assert.Equal(t, validation.ScopeAction, rule.Scope())

	ok, msg, err := rule.Evaluate(context.Background(), validation.Target{Plan: plan, Action: &plan.Actions[0]})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "unsatisfied prerequisites: db-up", msg)

	ok, _, err = rule.Evaluate(context.Background(), validation.Target{
		Plan: plan, Action: &plan.Actions[0], Satisfied: map[string]bool{"db-up": true},
	})
	require.NoError(t, err)
	assert.True(t, ok)
}
