// SPDX-License-Identifier: Apache-2.0

// Package remedy is the remediation orchestration engine. It accepts
// remediation plans, gates them on validation and risk, runs their actions
// in dependency order and rolls completed work back when a plan fails.
package remedy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/kusari-oss/remedy/internal/core/action"
	"github.com/kusari-oss/remedy/internal/core/config"
	"github.com/kusari-oss/remedy/internal/core/logging"
	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/core/resolver"
	"github.com/kusari-oss/remedy/internal/defaults"
	"github.com/kusari-oss/remedy/internal/remedy/audit"
	"github.com/kusari-oss/remedy/internal/remedy/executor"
	"github.com/kusari-oss/remedy/internal/remedy/graph"
	"github.com/kusari-oss/remedy/internal/remedy/planner"
	"github.com/kusari-oss/remedy/internal/remedy/risk"
	"github.com/kusari-oss/remedy/internal/remedy/state"
	"github.com/kusari-oss/remedy/internal/remedy/validation"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// PrerequisiteRuleID is the id of the built-in prerequisite rule
const PrerequisiteRuleID = "prerequisites"

// Engine owns every submitted plan. The audit log and the metrics store are
// the only state shared between plans.
type Engine struct {
	config    *config.Config
	logger    *logging.Logger
	clock     clock.Clock
	factory   *action.Factory
	resolver  *resolver.Resolver
	validator *validation.Engine
	assessor  *risk.Assessor
	audit     *audit.Store
	metrics   *audit.Metrics
	registry  *prometheus.Registry
	tracer    trace.Tracer
	executor  *executor.Executor
	handlers  handlerRegistry

	mu         sync.RWMutex
	plans      map[string]*planRecord
	lastSubmit time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(l) }
}

// WithClock sets the clock used for every timestamp the engine produces
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithFactory replaces the action factory. The default factory has the
// built-in cli and file types registered.
func WithFactory(f *action.Factory) Option {
	return func(e *Engine) { e.factory = f }
}

// WithRegistry sets the registry the Prometheus collector registers with
func WithRegistry(reg *prometheus.Registry) Option {
	return func(e *Engine) { e.registry = reg }
}

// WithTracer sets the tracer used for execution spans
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// New creates an engine from cfg; nil means the default configuration
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e := &Engine{
		config: cfg,
		logger: logging.NewNop(),
		clock:  clock.New(),
		plans:  make(map[string]*planRecord),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.factory == nil {
		e.factory = action.NewFactory(action.Context{
			TemplatesDir: cfg.TemplatesDir,
			WorkingDir:   cfg.WorkingDir,
			Logger:       e.logger,
		})
		e.factory.RegisterDefaultTypes()
	}
	e.resolver = resolver.NewResolver(e.factory, cfg.ActionsDir)
	if cfg.BuiltinActions {
		if _, err := defaults.Register(e.resolver); err != nil {
			return nil, fmt.Errorf("registering built-in actions: %w", err)
		}
	}

	e.validator = validation.NewEngine(
		validation.WithCache(cfg.Validation.CacheDuration, cfg.Validation.CleanupInterval),
		validation.WithLogger(e.logger),
	)
	if err := e.validator.Register(validation.NewPrerequisiteRule(validation.RuleSpec{
		RuleID: PrerequisiteRuleID,
		Level:  models.ValidationError,
	})); err != nil {
		return nil, fmt.Errorf("registering prerequisite rule: %w", err)
	}

	e.assessor = risk.NewAssessor(
		risk.WithThreshold(cfg.RiskThresholdLevel()),
		risk.WithLogger(e.logger),
	)

	var exporter audit.Exporter
	if cfg.Metrics.Enabled {
		if e.registry == nil {
			e.registry = prometheus.NewRegistry()
		}
		exporter = audit.NewPromCollector(e.registry, cfg.Metrics.Namespace)
	}

	e.audit = audit.NewStore(
		audit.WithClock(e.clock),
		audit.WithSystemUser(cfg.Engine.SystemUser),
		audit.WithExporter(exporter),
		audit.WithLogger(e.logger),
	)
	e.metrics = audit.NewMetrics(nil)

	execOpts := []executor.Option{
		executor.WithValidator(e.validator),
		executor.WithAudit(e.audit),
		executor.WithExporter(exporter),
		executor.WithLogger(e.logger),
		executor.WithClock(e.clock),
		executor.WithRetryPolicy(executor.RetryPolicy{
			Strategy:   cfg.Engine.Retry.Strategy,
			MaxDelay:   cfg.Engine.Retry.MaxDelay,
			Multiplier: cfg.Engine.Retry.Multiplier,
		}),
		executor.WithMaxConcurrency(cfg.Engine.MaxConcurrency),
		executor.WithDefaultTimeout(cfg.Engine.DefaultTimeout),
		executor.WithResultHandler(e.dispatch),
	}
	if e.tracer != nil {
		execOpts = append(execOpts, executor.WithTracer(e.tracer))
	}
	e.executor = executor.New(e.resolver, execOpts...)

	return e, nil
}

// Factory returns the action factory, for registering action types
func (e *Engine) Factory() *action.Factory { return e.factory }

// Resolver returns the action definition catalogue
func (e *Engine) Resolver() *resolver.Resolver { return e.resolver }

// Validator returns the validation engine, for registering rules
func (e *Engine) Validator() *validation.Engine { return e.validator }

// Registry returns the Prometheus registry, or nil when metrics are disabled
func (e *Engine) Registry() *prometheus.Registry { return e.registry }

type submitOptions struct {
	errorContext  *models.ErrorContext
	prerequisites []string
}

// SubmitOption configures a single submission
type SubmitOption func(*submitOptions)

// WithErrorContext attaches the error the plan remediates. Its data is
// available to param templates and validation rules.
func WithErrorContext(ec models.ErrorContext) SubmitOption {
	return func(o *submitOptions) { o.errorContext = &ec }
}

// WithPrerequisites marks prerequisites that are satisfied outside the plan
func WithPrerequisites(ids ...string) SubmitOption {
	return func(o *submitOptions) { o.prerequisites = append(o.prerequisites, ids...) }
}

// SubmitPlan validates the plan's structure and dependency graph, assesses
// its risk and stores a deep copy. It fails with a graph error when the
// dependencies of the plan or of its rollback plan are cyclic or reference
// unknown actions.
func (e *Engine) SubmitPlan(ctx context.Context, plan *models.RemediationPlan, opts ...SubmitOption) (models.PlanStatus, error) {
	if plan == nil {
		return models.PlanStatus{}, fmt.Errorf("plan is nil")
	}
	var so submitOptions
	for _, opt := range opts {
		opt(&so)
	}

	if err := plan.Validate(); err != nil {
		return models.PlanStatus{}, fmt.Errorf("invalid plan %s: %w", plan.ID, err)
	}
	stored := plan.Clone()
	g, err := graph.Build(stored.Actions)
	if err != nil {
		return models.PlanStatus{}, fmt.Errorf("invalid plan %s: %w", plan.ID, err)
	}
	if stored.RollbackPlan != nil {
		if _, err := graph.Build(stored.RollbackPlan.Actions); err != nil {
			return models.PlanStatus{}, fmt.Errorf("invalid rollback plan for %s: %w", plan.ID, err)
		}
	}
	if stored.FailFast == nil {
		stored.FailFast = models.BoolPtr(e.config.Engine.FailFast)
	}
	ctx = logging.WithPlanID(ctx, stored.ID)

	assessment, err := e.assessor.Assess(ctx, stored)
	if err != nil {
		return models.PlanStatus{}, fmt.Errorf("assessing plan %s: %w", stored.ID, err)
	}

	planID := stored.ID
	observed := logging.WithPlanID(context.Background(), planID)
	x := executor.NewExecution(stored, g,
		state.WithClock(e.clock),
		state.WithObserver(func(actionID string, change models.StateChange) {
			details := fmt.Sprintf("%s -> %s", change.From, change.To)
			if change.Reason != "" {
				details += ": " + change.Reason
			}
			e.audit.Log(observed, planID, actionID, audit.EventStateChanged, details)
		}),
	)
	if so.errorContext != nil {
		x.Data = so.errorContext.Data()
		x.ContextID = so.errorContext.ErrorID
	}
	if len(so.prerequisites) > 0 {
		x.Prerequisites = make(map[string]bool, len(so.prerequisites))
		for _, p := range so.prerequisites {
			x.Prerequisites[p] = true
		}
	}

	e.mu.Lock()
	if _, exists := e.plans[planID]; exists {
		e.mu.Unlock()
		return models.PlanStatus{}, fmt.Errorf("%w: %s", ErrPlanExists, planID)
	}
	submitted := e.clock.Now()
	if !submitted.After(e.lastSubmit) {
		submitted = e.lastSubmit.Add(time.Nanosecond)
	}
	e.lastSubmit = submitted
	rec := &planRecord{
		exec:        x,
		risk:        assessment,
		submittedAt: submitted,
		updated:     submitted,
	}
	e.plans[planID] = rec
	e.mu.Unlock()

	e.audit.Log(ctx, planID, "", audit.EventPlanSubmitted,
		fmt.Sprintf("%d action(s), fail_fast=%t", len(stored.Actions), stored.IsFailFast()))
	e.audit.Log(ctx, planID, "", audit.EventRiskAssessed,
		fmt.Sprintf("level %s (threshold %s), requires approval: %t",
			assessment.Level, assessment.Threshold, assessment.RequiresApproval))
	e.logger.Info(ctx, "plan submitted",
		zap.Int("actions", len(stored.Actions)),
		zap.String("risk", string(assessment.Level)),
		zap.Bool("requires_approval", assessment.RequiresApproval))

	return rec.status(), nil
}

// Remediate builds a plan for an analysed error, submits it and starts it
func (e *Engine) Remediate(ctx context.Context, ec models.ErrorContext, analysis models.ErrorAnalysisResult, opts planner.Options) (*Handle, error) {
	plan, err := planner.BuildPlan(ec, analysis, opts)
	if err != nil {
		return nil, err
	}
	if _, err := e.SubmitPlan(ctx, plan, WithErrorContext(ec)); err != nil {
		return nil, err
	}
	return e.Execute(ctx, plan.ID)
}

func (e *Engine) lookup(planID string) (*planRecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.plans[planID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	return rec, nil
}

// GetStatus returns the plan state, every action's state and history, and
// the risk assessment. It has no side effects.
func (e *Engine) GetStatus(planID string) (models.PlanStatus, error) {
	rec, err := e.lookup(planID)
	if err != nil {
		return models.PlanStatus{}, err
	}
	return rec.status(), nil
}

// Plans returns the submitted plan ids in submission order
func (e *Engine) Plans() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	recs := make([]*planRecord, 0, len(e.plans))
	for _, r := range e.plans {
		recs = append(recs, r)
	}
	sortBySubmission(recs)
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.exec.Plan.ID
	}
	return ids
}

// GetAuditLog returns the audit entries matching filter in sequence order
func (e *Engine) GetAuditLog(filter audit.Filter) []models.AuditEntry {
	return e.audit.Entries(filter)
}

// ClearAuditLog removes every audit entry and records who did it. It
// returns the number of entries removed.
func (e *Engine) ClearAuditLog(ctx context.Context, userID, reason string) int {
	n, _ := e.audit.Clear(ctx, userID, reason)
	e.logger.Warn(ctx, "audit log cleared",
		zap.String("user_id", userID),
		zap.String("reason", reason),
		zap.Int("removed", n))
	return n
}

// Metrics returns the metrics accumulated over every finished plan
func (e *Engine) Metrics() models.MetricsSnapshot {
	return e.metrics.Snapshot()
}
