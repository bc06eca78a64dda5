// SPDX-License-Identifier: Apache-2.0

package validation_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/remedy/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPlan() *models.RemediationPlan {
	return &models.RemediationPlan{
		ID:       "plan-1",
		Severity: models.SeverityHigh,
		Actions: []models.RemediationAction{
			{ID: "restart", Type: "cli", Params: map[string]interface{}{"service": "api"}, Prerequisites: []string{"db-up"}},
		},
	}
}

func pass(id string) *validation.FuncRule {
	return validation.NewFuncRule(validation.RuleSpec{RuleID: id}, func(context.Context, validation.Target) (bool, string, error) {
		return true, "", nil
	})
}

// check runs the rules of scope and drops the *ValidationError that
// accompanies an invalid result
func check(ctx context.Context, engine *validation.Engine, scope validation.Scope, target validation.Target) models.ValidationResult {
	result, _ := engine.Check(ctx, scope, target)
	return result
}

func TestRegistry(t *testing.T) {
	engine := validation.NewEngine()

	require.NoError(t, engine.Register(pass("b")))
	second := pass("a")
	second.Order = 5
	require.NoError(t, engine.Register(second))
	require.NoError(t, engine.Register(pass("c")))

	assert.Error(t, engine.Register(pass("b")), "duplicate ids are rejected")
	assert.Error(t, engine.Register(pass("")))
	assert.Error(t, engine.Register(nil))
	assert.Error(t, engine.Register(validation.NewFuncRule(validation.RuleSpec{RuleID: "x", RuleScope: "galaxy"}, nil)))

	var ids []string
	for _, r := range engine.List() {
		ids = append(ids, r.ID())
	}
	assert.Equal(t, []string{"b", "c", "a"}, ids)

	_, ok := engine.Get("c")
	assert.True(t, ok)
	require.NoError(t, engine.Unregister("c"))
	_, ok = engine.Get("c")
	assert.False(t, ok)
	assert.Error(t, engine.Unregister("c"))
}

func TestSeverities(t *testing.T) {
	engine := validation.NewEngine()
	require.NoError(t, engine.Register(validation.NewFuncRule(
		validation.RuleSpec{RuleID: "warn", Level: models.ValidationWarning},
		func(context.Context, validation.Target) (bool, string, error) { return false, "just a warning", nil })))

	target := validation.Target{Plan: testPlan()}
	result := check(context.Background(), engine, validation.ScopePlan, target)
	assert.True(t, result.IsValid, "warnings never block")
	assert.Equal(t, models.ValidationWarning, result.Severity)
	assert.Equal(t, []string{"warn: just a warning"}, result.Warnings)

	require.NoError(t, engine.Register(validation.NewFuncRule(
		validation.RuleSpec{RuleID: "boom", FailMessage: "configured message"},
		func(context.Context, validation.Target) (bool, string, error) { return false, "", nil })))
	require.NoError(t, engine.Register(validation.NewFuncRule(
		validation.RuleSpec{RuleID: "err"},
		func(context.Context, validation.Target) (bool, string, error) { return false, "", errors.New("exploded") })))

	result, err := engine.Check(context.Background(), validation.ScopePlan, target)
	require.Error(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, models.ValidationError, result.Severity)
	assert.ElementsMatch(t, []string{"boom: configured message", "err: exploded"}, result.Errors)
	assert.Len(t, result.Rules, 3)

	var verr *validation.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "plan-1", verr.PlanID)
	assert.Contains(t, err.Error(), "validation failed for plan plan-1")
}

func TestScopesAndDisabledRules(t *testing.T) {
	engine := validation.NewEngine()
	fail := func(context.Context, validation.Target) (bool, string, error) { return false, "no", nil }

	require.NoError(t, engine.Register(validation.NewFuncRule(validation.RuleSpec{RuleID: "plan-rule"}, fail)))
	require.NoError(t, engine.Register(validation.NewFuncRule(validation.RuleSpec{RuleID: "off", RuleScope: validation.ScopeAction, Disabled: true}, fail)))

	plan := testPlan()
	result := check(context.Background(), engine, validation.ScopeAction, validation.Target{Plan: plan, Action: &plan.Actions[0]})
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Rules)

	_, err := engine.Check(context.Background(), validation.ScopeAction, validation.Target{Plan: plan, Action: &plan.Actions[0]})
	assert.NoError(t, err)
}

func TestCaching(t *testing.T) {
	engine := validation.NewEngine()
	var calls int32
	require.NoError(t, engine.Register(validation.NewFuncRule(
		validation.RuleSpec{RuleID: "cached", CacheFor: time.Hour},
		func(context.Context, validation.Target) (bool, string, error) {
			atomic.AddInt32(&calls, 1)
			return true, "", nil
		})))

	plan := testPlan()
	target := validation.Target{Plan: plan, ContextID: "ctx-1"}

	first := check(context.Background(), engine, validation.ScopePlan, target)
	second := check(context.Background(), engine, validation.ScopePlan, target)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.False(t, first.Rules[0].Cached)
	assert.True(t, second.Rules[0].Cached)

	check(context.Background(), engine, validation.ScopePlan, validation.Target{Plan: plan, ContextID: "ctx-2"})
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "a different context id is a different key")

	engine.FlushCache()
	check(context.Background(), engine, validation.ScopePlan, target)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCacheExpiry(t *testing.T) {
	engine := validation.NewEngine(validation.WithCache(time.Minute, time.Minute))
	var calls int32
	require.NoError(t, engine.Register(validation.NewFuncRule(
		validation.RuleSpec{RuleID: "short", CacheFor: 20 * time.Millisecond},
		func(context.Context, validation.Target) (bool, string, error) {
			atomic.AddInt32(&calls, 1)
			return true, "", nil
		})))

	target := validation.Target{Plan: testPlan()}
	check(context.Background(), engine, validation.ScopePlan, target)
	check(context.Background(), engine, validation.ScopePlan, target)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	time.Sleep(50 * time.Millisecond)
	check(context.Background(), engine, validation.ScopePlan, target)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCancelledContextFailsRules(t *testing.T) {
	engine := validation.NewEngine()
	require.NoError(t, engine.Register(pass("p")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := check(ctx, engine, validation.ScopePlan, validation.Target{Plan: testPlan()})
	assert.False(t, result.IsValid)
}
