// SPDX-License-Identifier: Apache-2.0

// Package validation runs pre-flight rules against plans and actions.
package validation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kusari-oss/remedy/internal/core/logging"
	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Defaults for the result cache
const (
	DefaultCacheDuration   = time.Minute
	DefaultCleanupInterval = 5 * time.Minute
)

// ValidationError is returned when error-severity rules fail
type ValidationError struct {
	Scope    Scope
	PlanID   string
	ActionID string
	Result   models.ValidationResult
}

func (e *ValidationError) Error() string {
	target := "plan " + e.PlanID
	if e.Scope == ScopeAction {
		target = "action " + e.ActionID
	}
	return fmt.Sprintf("validation failed for %s: %s", target, strings.Join(e.Result.Errors, "; "))
}

// Engine holds the rule registry and the result cache
type Engine struct {
	mu     sync.RWMutex
	rules  map[string]Rule
	cache  *cache.Cache
	logger *logging.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithCache sets the default expiry and cleanup interval of the result cache
func WithCache(defaultExpiration, cleanupInterval time.Duration) Option {
	return func(e *Engine) { e.cache = cache.New(defaultExpiration, cleanupInterval) }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(l) }
}

// NewEngine creates an engine with no rules
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		rules:  make(map[string]Rule),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = cache.New(DefaultCacheDuration, DefaultCleanupInterval)
	}
	return e
}

// Register adds a rule. Rule ids are unique.
func (e *Engine) Register(rule Rule) error {
	if rule == nil {
		return fmt.Errorf("rule cannot be nil")
	}
	if rule.ID() == "" {
		return fmt.Errorf("rule id cannot be empty")
	}
	switch rule.Scope() {
	case ScopePlan, ScopeAction:
	default:
		return fmt.Errorf("rule '%s' has unknown scope %q", rule.ID(), rule.Scope())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[rule.ID()]; exists {
		return fmt.Errorf("rule '%s' is already registered", rule.ID())
	}
	e.rules[rule.ID()] = rule
	return nil
}

// Unregister removes a rule and its cached results
func (e *Engine) Unregister(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[id]; !exists {
		return fmt.Errorf("rule '%s' is not registered", id)
	}
	delete(e.rules, id)
	for key := range e.cache.Items() {
		if strings.HasPrefix(key, id+"/") {
			e.cache.Delete(key)
		}
	}
	return nil
}

// Get returns a rule by id
func (e *Engine) Get(id string) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rule, ok := e.rules[id]
	return rule, ok
}

// List returns all rules ordered by priority, then id
func (e *Engine) List() []Rule {
	e.mu.RLock()
	rules := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		rules = append(rules, r)
	}
	e.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority() != rules[j].Priority() {
			return rules[i].Priority() < rules[j].Priority()
		}
		return rules[i].ID() < rules[j].ID()
	})
	return rules
}

// FlushCache drops every cached result
func (e *Engine) FlushCache() {
	e.cache.Flush()
}

// Check runs the enabled rules of scope against target. Action-scope rules
// see target.Action. A result that is not valid also comes back as a
// *ValidationError.
func (e *Engine) Check(ctx context.Context, scope Scope, target Target) (models.ValidationResult, error) {
	result := e.run(ctx, scope, target)
	if result.IsValid {
		return result, nil
	}
	verr := &ValidationError{Scope: scope, Result: result}
	if target.Plan != nil {
		verr.PlanID = target.Plan.ID
	}
	if target.Action != nil {
		verr.ActionID = target.Action.ID
	}
	return result, verr
}

func (e *Engine) run(ctx context.Context, scope Scope, target Target) models.ValidationResult {
	result := models.ValidationResult{IsValid: true}

	for _, rule := range e.List() {
		if !rule.Enabled() || rule.Scope() != scope {
			continue
		}

		outcome := e.evaluate(ctx, rule, target)
		result.Rules = append(result.Rules, outcome)
		if outcome.Passed {
			continue
		}

		msg := outcome.RuleID
		if outcome.Message != "" {
			msg = fmt.Sprintf("%s: %s", outcome.RuleID, outcome.Message)
		}
		if outcome.Severity == models.ValidationError {
			result.IsValid = false
			result.Severity = models.ValidationError
			result.Errors = append(result.Errors, msg)
		} else {
			if result.Severity == "" {
				result.Severity = models.ValidationWarning
			}
			result.Warnings = append(result.Warnings, msg)
		}
	}
	return result
}

func (e *Engine) evaluate(ctx context.Context, rule Rule, target Target) models.RuleOutcome {
	key := cacheKey(rule, target)
	ttl := rule.CacheDuration()

	if ttl > 0 {
		if cached, ok := e.cache.Get(key); ok {
			outcome := cached.(models.RuleOutcome)
			outcome.Cached = true
			return outcome
		}
	}

	outcome := models.RuleOutcome{RuleID: rule.ID(), Severity: rule.Severity()}
	if err := ctx.Err(); err != nil {
		outcome.Message = err.Error()
		return outcome
	}

	passed, msg, err := rule.Evaluate(ctx, target)
	if err != nil {
		e.logger.Warn(ctx, "validation rule errored", zap.String("rule", rule.ID()), zap.Error(err))
		outcome.Message = err.Error()
		return outcome
	}
	outcome.Passed = passed
	if !passed {
		outcome.Message = msg
	}

	if ttl > 0 {
		e.cache.Set(key, outcome, ttl)
	}
	return outcome
}

// cacheKey is ruleID/planID/contextID, plus the action id for action rules
func cacheKey(rule Rule, target Target) string {
	planID := ""
	if target.Plan != nil {
		planID = target.Plan.ID
	}
	key := rule.ID() + "/" + planID + "/" + target.ContextID
	if rule.Scope() == ScopeAction && target.Action != nil {
		key += "/" + target.Action.ID
	}
	return key
}
