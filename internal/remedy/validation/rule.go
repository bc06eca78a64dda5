// SPDX-License-Identifier: Apache-2.0

package validation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/core/schema"
	"github.com/kusari-oss/remedy/internal/remedy/condition"
)

// Scope selects whether a rule checks a whole plan or a single action
type Scope string

const (
	ScopePlan   Scope = "plan"
	ScopeAction Scope = "action"
)

// Target is what a rule is evaluated against. Action is nil for plan rules.
type Target struct {
	Plan   *models.RemediationPlan
	Action *models.RemediationAction
	// Context is the error context data the plan was built for
	Context   map[string]interface{}
	ContextID string
	// Satisfied holds the prerequisites known to be met
	Satisfied map[string]bool
}

// Rule is a pre-flight check. Evaluate returns whether the target passed
// and an optional message; an error counts as a failure.
type Rule interface {
	ID() string
	Scope() Scope
	Priority() int
	Enabled() bool
	Severity() models.ValidationSeverity
	// CacheDuration is how long a result may be reused; zero disables caching
	CacheDuration() time.Duration
	Evaluate(ctx context.Context, target Target) (bool, string, error)
}

// RuleSpec holds the attributes shared by the built-in rule kinds
type RuleSpec struct {
	RuleID      string                    `yaml:"id" json:"id"`
	RuleScope   Scope                     `yaml:"scope" json:"scope"`
	Order       int                       `yaml:"priority" json:"priority"`
	Disabled    bool                      `yaml:"disabled" json:"disabled"`
	Level       models.ValidationSeverity `yaml:"severity" json:"severity"`
	CacheFor    time.Duration             `yaml:"cache_for" json:"cache_for"`
	FailMessage string                    `yaml:"message" json:"message"`
}

func (s RuleSpec) ID() string                   { return s.RuleID }
func (s RuleSpec) Priority() int                { return s.Order }
func (s RuleSpec) Enabled() bool                { return !s.Disabled }
func (s RuleSpec) CacheDuration() time.Duration { return s.CacheFor }

func (s RuleSpec) Scope() Scope {
	if s.RuleScope == "" {
		return ScopePlan
	}
	return s.RuleScope
}

func (s RuleSpec) Severity() models.ValidationSeverity {
	if s.Level == "" {
		return models.ValidationError
	}
	return s.Level
}

// failure returns the configured message, falling back to msg
func (s RuleSpec) failure(msg string) string {
	if s.FailMessage != "" {
		return s.FailMessage
	}
	return msg
}

// Predicate is the signature of a FuncRule check
type Predicate func(ctx context.Context, target Target) (bool, string, error)

// FuncRule runs a Go predicate
type FuncRule struct {
	RuleSpec
	Fn Predicate
}

// NewFuncRule creates a rule backed by fn
func NewFuncRule(spec RuleSpec, fn Predicate) *FuncRule {
	return &FuncRule{RuleSpec: spec, Fn: fn}
}

func (r *FuncRule) Evaluate(ctx context.Context, target Target) (bool, string, error) {
	if r.Fn == nil {
		return false, "", fmt.Errorf("rule %s has no predicate", r.RuleID)
	}
	ok, msg, err := r.Fn(ctx, target)
	if !ok && msg == "" {
		msg = r.failure("")
	}
	return ok, msg, err
}

// ExpressionRule passes when a CEL expression over plan, action and context
// evaluates to true
type ExpressionRule struct {
	RuleSpec
	Expression string
	evaluator  *condition.CELEvaluator
}

// NewExpressionRule compiles expression up front so syntax errors surface at
// registration
func NewExpressionRule(spec RuleSpec, expression string, evaluator *condition.CELEvaluator) (*ExpressionRule, error) {
	if evaluator == nil {
		var err error
		if evaluator, err = condition.NewCELEvaluator(); err != nil {
			return nil, err
		}
	}
	if err := evaluator.Compile(expression); err != nil {
		return nil, fmt.Errorf("rule %s: %w", spec.RuleID, err)
	}
	return &ExpressionRule{RuleSpec: spec, Expression: expression, evaluator: evaluator}, nil
}

func (r *ExpressionRule) Evaluate(_ context.Context, target Target) (bool, string, error) {
	data := make(map[string]interface{}, 3)
	if target.Context != nil {
		data[condition.VarContext] = target.Context
	}

	if target.Plan != nil {
		plan, err := condition.ToData(target.Plan)
		if err != nil {
			return false, "", err
		}
		data[condition.VarPlan] = plan
	}
	if target.Action != nil {
		act, err := condition.ToData(target.Action)
		if err != nil {
			return false, "", err
		}
		data[condition.VarAction] = act
	}

	ok, err := r.evaluator.EvaluateExpression(r.Expression, data)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, r.failure(fmt.Sprintf("expression %q is false", r.Expression)), nil
	}
	return true, "", nil
}

// SchemaRule validates an action's params against a JSON schema
type SchemaRule struct {
	RuleSpec
	Schema map[string]interface{}
	// Types limits the rule to these action types; empty means all
	Types []string
}

// NewSchemaRule creates an action-scope schema rule
func NewSchemaRule(spec RuleSpec, s map[string]interface{}, types ...string) (*SchemaRule, error) {
	if err := schema.Compile(s); err != nil {
		return nil, fmt.Errorf("rule %s: %w", spec.RuleID, err)
	}
	spec.RuleScope = ScopeAction
	return &SchemaRule{RuleSpec: spec, Schema: s, Types: types}, nil
}

func (r *SchemaRule) Evaluate(_ context.Context, target Target) (bool, string, error) {
	if target.Action == nil {
		return true, "", nil
	}
	if len(r.Types) > 0 && !contains(r.Types, target.Action.Type) {
		return true, "", nil
	}
	if err := schema.ValidateParams(r.Schema, target.Action.Params); err != nil {
		return false, r.failure(err.Error()), nil
	}
	return true, "", nil
}

// PrerequisiteRule checks that every prerequisite of an action is satisfied
type PrerequisiteRule struct {
	RuleSpec
}

// NewPrerequisiteRule creates an action-scope prerequisite rule
func NewPrerequisiteRule(spec RuleSpec) *PrerequisiteRule {
	spec.RuleScope = ScopeAction
	return &PrerequisiteRule{RuleSpec: spec}
}

func (r *PrerequisiteRule) Evaluate(_ context.Context, target Target) (bool, string, error) {
	if target.Action == nil {
		return true, "", nil
	}
	var missing []string
	for _, p := range target.Action.Prerequisites {
		if !target.Satisfied[p] {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return false, r.failure("unsatisfied prerequisites: " + strings.Join(missing, ", ")), nil
	}
	return true, "", nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
