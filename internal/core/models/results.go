// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"
)

// StateChange is one entry in an action's transition history
type StateChange struct {
	From      State     `json:"from" yaml:"from"`
	To        State     `json:"to" yaml:"to"`
	Reason    string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	Attempt   int       `json:"attempt,omitempty" yaml:"attempt,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// ValidationSeverity says whether a failed rule blocks execution
type ValidationSeverity string

const (
	ValidationError   ValidationSeverity = "error"
	ValidationWarning ValidationSeverity = "warning"
)

// RuleOutcome is the result of a single validation rule
type RuleOutcome struct {
	RuleID   string             `json:"rule_id" yaml:"rule_id"`
	Passed   bool               `json:"passed" yaml:"passed"`
	Severity ValidationSeverity `json:"severity" yaml:"severity"`
	Message  string             `json:"message,omitempty" yaml:"message,omitempty"`
	Cached   bool               `json:"cached,omitempty" yaml:"cached,omitempty"`
}

// ValidationResult aggregates the outcomes of all rules for one target
type ValidationResult struct {
	IsValid  bool               `json:"is_valid" yaml:"is_valid"`
	Severity ValidationSeverity `json:"severity,omitempty" yaml:"severity,omitempty"`
	Errors   []string           `json:"errors,omitempty" yaml:"errors,omitempty"`
	Warnings []string           `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Rules    []RuleOutcome      `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// RiskAssessment is computed for a plan before any of its actions run
type RiskAssessment struct {
	PlanID                string        `json:"plan_id" yaml:"plan_id"`
	Level                 RiskLevel     `json:"level" yaml:"level"`
	Severity              Severity      `json:"severity" yaml:"severity"`
	Scope                 ImpactScope   `json:"scope" yaml:"scope"`
	Probability           float64       `json:"probability" yaml:"probability"`
	Impact                float64       `json:"impact" yaml:"impact"`
	Confidence            float64       `json:"confidence" yaml:"confidence"`
	PotentialIssues       []string      `json:"potential_issues,omitempty" yaml:"potential_issues,omitempty"`
	Mitigations           []string      `json:"mitigations,omitempty" yaml:"mitigations,omitempty"`
	AffectedComponents    []string      `json:"affected_components,omitempty" yaml:"affected_components,omitempty"`
	RollbackFeasible      bool          `json:"rollback_feasible" yaml:"rollback_feasible"`
	EstimatedRollback     time.Duration `json:"estimated_rollback" yaml:"estimated_rollback"`
	RequiresApproval      bool          `json:"requires_approval" yaml:"requires_approval"`
	ApprovalReasons       []string      `json:"approval_reasons,omitempty" yaml:"approval_reasons,omitempty"`
	Threshold             RiskLevel     `json:"threshold" yaml:"threshold"`
	ManualApprovalActions []string      `json:"manual_approval_actions,omitempty" yaml:"manual_approval_actions,omitempty"`
}

// ActionResult is the outcome of running one action. Results are appended,
// never edited.
type ActionResult struct {
	PlanID     string                 `json:"plan_id" yaml:"plan_id"`
	ActionID   string                 `json:"action_id" yaml:"action_id"`
	ActionType string                 `json:"action_type" yaml:"action_type"`
	Success    bool                   `json:"success" yaml:"success"`
	Status     ResultStatus           `json:"status" yaml:"status"`
	State      State                  `json:"state" yaml:"state"`
	Attempts   int                    `json:"attempts" yaml:"attempts"`
	Duration   time.Duration          `json:"duration" yaml:"duration"`
	Output     string                 `json:"output,omitempty" yaml:"output,omitempty"`
	Values     map[string]interface{} `json:"values,omitempty" yaml:"values,omitempty"`
	Error      string                 `json:"error,omitempty" yaml:"error,omitempty"`
	Validation *ValidationResult      `json:"validation,omitempty" yaml:"validation,omitempty"`
	StartedAt  time.Time              `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt time.Time              `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// RollbackOutcome records what happened when rolling back one action
type RollbackOutcome struct {
	ActionID         string        `json:"action_id" yaml:"action_id"`
	RollbackActionID string        `json:"rollback_action_id,omitempty" yaml:"rollback_action_id,omitempty"`
	Status           ResultStatus  `json:"status" yaml:"status"`
	Error            string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration         time.Duration `json:"duration" yaml:"duration"`
}

// RollbackReport is the result of one rollback pass over a plan
type RollbackReport struct {
	Triggered bool              `json:"triggered" yaml:"triggered"`
	Reason    string            `json:"reason,omitempty" yaml:"reason,omitempty"`
	Outcomes  []RollbackOutcome `json:"outcomes,omitempty" yaml:"outcomes,omitempty"`
}

func (r *RollbackReport) idsWithStatus(status ResultStatus) []string {
	var ids []string
	for _, o := range r.Outcomes {
		if o.Status == status {
			ids = append(ids, o.ActionID)
		}
	}
	return ids
}

// RolledBack returns the ids of actions that were rolled back successfully
func (r *RollbackReport) RolledBack() []string { return r.idsWithStatus(ResultRolledBack) }

// Failed returns the ids of actions whose rollback failed
func (r *RollbackReport) Failed() []string { return r.idsWithStatus(ResultRollbackFailed) }

// Skipped returns the ids of completed actions that have no rollback support
func (r *RollbackReport) Skipped() []string { return r.idsWithStatus(ResultRollbackSkipped) }

// RollbackStatusFor maps a rollback report to its aggregate status. Failed
// means at least one rollback failed and none succeeded; a report with only
// skipped actions is partial.
func RollbackStatusFor(report *RollbackReport) RollbackStatus {
	if report == nil || !report.Triggered {
		return RollbackNotRequired
	}
	rolledBack := len(report.RolledBack())
	failed := len(report.Failed())
	skipped := len(report.Skipped())

	switch {
	case failed == 0 && skipped == 0:
		return RollbackCompleted
	case failed > 0 && rolledBack == 0:
		return RollbackFailed
	default:
		return RollbackPartial
	}
}

// MetricKind names one measured quantity
type MetricKind string

const (
	MetricExecutionTime MetricKind = "execution_time_ms"
	MetricResourceUsage MetricKind = "resource_usage"
	MetricAttempts      MetricKind = "attempts"
)

// MetricKey identifies a running average
type MetricKey struct {
	ActionType string     `json:"action_type" yaml:"action_type"`
	Kind       MetricKind `json:"kind" yaml:"kind"`
}

// RunningAverage is an incrementally updated mean
type RunningAverage struct {
	Count int64   `json:"count" yaml:"count"`
	Mean  float64 `json:"mean" yaml:"mean"`
}

// Add folds a new sample into the average
func (r RunningAverage) Add(sample float64) RunningAverage {
	r.Count++
	r.Mean += (sample - r.Mean) / float64(r.Count)
	return r
}

// TypeMetrics are the aggregate counters for one action type
type TypeMetrics struct {
	Total            int64                  `json:"total" yaml:"total"`
	ByStatus         map[ResultStatus]int64 `json:"by_status" yaml:"by_status"`
	Rollbacks        int64                  `json:"rollbacks" yaml:"rollbacks"`
	RollbackFailures int64                  `json:"rollback_failures" yaml:"rollback_failures"`
}

// MetricsSnapshot is a point-in-time copy of the aggregated metrics
type MetricsSnapshot struct {
	Total     int64                        `json:"total" yaml:"total"`
	Succeeded int64                        `json:"succeeded" yaml:"succeeded"`
	Failed    int64                        `json:"failed" yaml:"failed"`
	Rollbacks int64                        `json:"rollbacks" yaml:"rollbacks"`
	ByType    map[string]TypeMetrics       `json:"by_type" yaml:"by_type"`
	Averages  map[MetricKey]RunningAverage `json:"-" yaml:"-"`
}

// Average returns the running average for an action type and metric kind
func (s MetricsSnapshot) Average(actionType string, kind MetricKind) (RunningAverage, bool) {
	avg, ok := s.Averages[MetricKey{ActionType: actionType, Kind: kind}]
	return avg, ok
}

// AuditEntry is an immutable record of one lifecycle event
type AuditEntry struct {
	ID        string    `json:"id" yaml:"id"`
	Sequence  uint64    `json:"sequence" yaml:"sequence"`
	PlanID    string    `json:"plan_id,omitempty" yaml:"plan_id,omitempty"`
	ActionID  string    `json:"action_id,omitempty" yaml:"action_id,omitempty"`
	EventType string    `json:"event_type" yaml:"event_type"`
	Details   string    `json:"details,omitempty" yaml:"details,omitempty"`
	UserID    string    `json:"user_id" yaml:"user_id"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// ActionStatus is the observable state of one action
type ActionStatus struct {
	ActionID    string        `json:"action_id" yaml:"action_id"`
	State       State         `json:"state" yaml:"state"`
	Attempts    int           `json:"attempts" yaml:"attempts"`
	History     []StateChange `json:"history" yaml:"history"`
	LastUpdated time.Time     `json:"last_updated" yaml:"last_updated"`
}

// PlanStatus is the observable state of a plan and its actions
type PlanStatus struct {
	PlanID      string          `json:"plan_id" yaml:"plan_id"`
	State       State           `json:"state" yaml:"state"`
	Actions     []ActionStatus  `json:"actions" yaml:"actions"`
	Risk        *RiskAssessment `json:"risk,omitempty" yaml:"risk,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at" yaml:"submitted_at"`
	LastUpdated time.Time       `json:"last_updated" yaml:"last_updated"`
}

// RemediationResult is handed back to whoever triggered remediation
type RemediationResult struct {
	PlanID         string            `json:"plan_id" yaml:"plan_id"`
	Success        bool              `json:"success" yaml:"success"`
	State          State             `json:"state" yaml:"state"`
	Actions        []ActionResult    `json:"actions" yaml:"actions"`
	Validation     *ValidationResult `json:"validation,omitempty" yaml:"validation,omitempty"`
	Risk           *RiskAssessment   `json:"risk,omitempty" yaml:"risk,omitempty"`
	Rollback       RollbackReport    `json:"rollback" yaml:"rollback"`
	RollbackStatus RollbackStatus    `json:"rollback_status" yaml:"rollback_status"`
	Metrics        MetricsSnapshot   `json:"metrics" yaml:"metrics"`
	Error          string            `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt      time.Time         `json:"started_at" yaml:"started_at"`
	FinishedAt     time.Time         `json:"finished_at" yaml:"finished_at"`
}

// FailedActions returns the ids of actions whose final state is Failed
func (r *RemediationResult) FailedActions() []string {
	var ids []string
	for _, a := range r.Actions {
		if a.State == StateFailed {
			ids = append(ids, a.ActionID)
		}
	}
	return ids
}

// ActionResult returns the result recorded for an action id
func (r *RemediationResult) ActionResult(id string) (ActionResult, bool) {
	for _, a := range r.Actions {
		if a.ActionID == id {
			return a, true
		}
	}
	return ActionResult{}, false
}
