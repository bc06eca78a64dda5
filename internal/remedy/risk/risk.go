// SPDX-License-Identifier: Apache-2.0

// Package risk scores a plan before execution and decides whether it needs
// explicit approval.
package risk

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kusari-oss/remedy/internal/core/logging"
	"github.com/kusari-oss/remedy/internal/core/models"
	"go.uber.org/zap"
)

// DefaultThreshold is the lowest level that blocks automatic execution
const DefaultThreshold = models.RiskHigh

type guidance struct {
	issues      []string
	mitigations []string
}

var levelGuidance = map[models.RiskLevel]guidance{
	models.RiskNone: {},
	models.RiskLow: {
		issues:      []string{"minor transient disruption of the affected module"},
		mitigations: []string{"monitor error rates after execution"},
	},
	models.RiskMedium: {
		issues: []string{
			"temporary degradation of the affected service",
			"dependent requests may fail during execution",
		},
		mitigations: []string{
			"monitor error rates after execution",
			"verify rollback actions before execution",
		},
	},
	models.RiskHigh: {
		issues: []string{
			"service outage during execution",
			"data inconsistency if execution is interrupted",
		},
		mitigations: []string{
			"take a backup of affected state",
			"notify service owners",
			"execute during a low-traffic window",
			"verify rollback actions before execution",
		},
	},
	models.RiskCritical: {
		issues: []string{
			"system-wide outage",
			"data loss",
			"cascading failures in dependent systems",
		},
		mitigations: []string{
			"take a full backup of affected systems",
			"notify stakeholders",
			"have standby engineers available",
			"prepare a manual recovery procedure",
		},
	},
}

// Level applies the monotone lookup table over severity and scope ranks
func Level(severity models.Severity, scope models.ImpactScope) models.RiskLevel {
	s, c := severity.Rank(), scope.Rank()
	switch {
	case s >= 4 && c >= 3:
		return models.RiskCritical
	case s >= 4 || (s >= 3 && c >= 2):
		return models.RiskHigh
	case s >= 3 || (s >= 2 && c >= 1):
		return models.RiskMedium
	case s >= 1 || c >= 1:
		return models.RiskLow
	default:
		return models.RiskNone
	}
}

// Assessor computes risk assessments
type Assessor struct {
	threshold models.RiskLevel
	logger    *logging.Logger
}

// Option configures an Assessor
type Option func(*Assessor)

// WithThreshold sets the approval threshold
func WithThreshold(level models.RiskLevel) Option {
	return func(a *Assessor) { a.threshold = level }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(a *Assessor) { a.logger = logging.OrNop(l) }
}

// NewAssessor creates an assessor with the default threshold
func NewAssessor(opts ...Option) *Assessor {
	a := &Assessor{threshold: DefaultThreshold, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Threshold returns the configured approval threshold
func (a *Assessor) Threshold() models.RiskLevel {
	return a.threshold
}

// Assess computes the risk of plan. Only enabled actions are considered.
func (a *Assessor) Assess(ctx context.Context, plan *models.RemediationPlan) (*models.RiskAssessment, error) {
	if plan == nil {
		return nil, fmt.Errorf("plan is nil")
	}

	actions := plan.EnabledActions()
	severity := plan.Severity
	scope := models.ScopeNone
	if plan.RiskLevel.AsSeverity().Rank() > severity.Rank() {
		severity = plan.RiskLevel.AsSeverity()
	}

	var (
		coupling      float64
		rollbackOK    = true
		rollbackTime  time.Duration
		issues        []string
		manual        []string
		componentsSet = make(map[string]bool)
	)
	if c := plan.Metadata["component"]; c != "" {
		componentsSet[c] = true
	}

	for i := range actions {
		act := &actions[i]
		if s := act.RiskLevel.AsSeverity(); s.Rank() > severity.Rank() {
			severity = s
		}
		if act.Impact.Rank() > scope.Rank() {
			scope = act.Impact
		}
		for _, dep := range act.Dependencies {
			if w := act.CouplingTo(dep).Weight(); w > coupling {
				coupling = w
			}
		}
		if act.Component != "" {
			componentsSet[act.Component] = true
		}
		if act.RequiresManualApproval {
			manual = append(manual, act.ID)
		}
		if rb, ok := plan.RollbackStep(act); ok {
			rollbackTime += rb.Timeout()
		} else {
			rollbackOK = false
			issues = append(issues, fmt.Sprintf("action %s cannot be rolled back", act.ID))
		}
		if act.TimeoutMs == 0 {
			issues = append(issues, fmt.Sprintf("action %s has no timeout", act.ID))
		}
	}

	level := Level(severity, scope)
	if plan.RiskLevel.Rank() > level.Rank() {
		level = plan.RiskLevel
	}
	g := levelGuidance[level]

	assessment := &models.RiskAssessment{
		PlanID:                plan.ID,
		Level:                 level,
		Severity:              severity,
		Scope:                 scope,
		Probability:           plan.Probability,
		Impact:                clamp(plan.Impact + coupling),
		Confidence:            plan.Confidence,
		PotentialIssues:       append(append([]string(nil), g.issues...), issues...),
		Mitigations:           append([]string(nil), g.mitigations...),
		AffectedComponents:    sortedKeys(componentsSet),
		RollbackFeasible:      rollbackOK && len(actions) > 0,
		EstimatedRollback:     rollbackTime,
		Threshold:             a.threshold,
		ManualApprovalActions: manual,
	}

	if level.AtLeast(a.threshold) {
		assessment.ApprovalReasons = append(assessment.ApprovalReasons,
			fmt.Sprintf("risk level %s meets threshold %s", level, a.threshold))
	}
	if len(manual) > 0 {
		assessment.ApprovalReasons = append(assessment.ApprovalReasons,
			fmt.Sprintf("actions require manual approval: %v", manual))
	}
	if plan.RequiresApproval {
		assessment.ApprovalReasons = append(assessment.ApprovalReasons, "plan requires approval")
	}
	assessment.RequiresApproval = len(assessment.ApprovalReasons) > 0

	a.logger.Debug(ctx, "risk assessed",
		zap.String("plan_id", plan.ID),
		zap.String("level", string(level)),
		zap.Bool("requires_approval", assessment.RequiresApproval))
	return assessment, nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
