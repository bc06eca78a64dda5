// SPDX-License-Identifier: Apache-2.0

package models

import (
	"fmt"
	"strings"
)

// Severity is the declared seriousness of an error or plan
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from none (0) to critical (4). Unknown values rank as none.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// RiskLevel is the computed or declared risk of running an action or plan
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskLevels = []RiskLevel{RiskNone, RiskLow, RiskMedium, RiskHigh, RiskCritical}

// Rank orders risk levels from none (0) to critical (4). Unknown values rank as none.
func (r RiskLevel) Rank() int {
	for i, level := range riskLevels {
		if level == r {
			return i
		}
	}
	return 0
}

// AtLeast reports whether r is the same as or riskier than other
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Rank() >= other.Rank()
}

// AsSeverity maps a risk level onto the severity scale of the same rank
func (r RiskLevel) AsSeverity() Severity {
	return []Severity{SeverityNone, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}[r.Rank()]
}

// ParseRiskLevel parses a case-insensitive risk level name
func ParseRiskLevel(s string) (RiskLevel, error) {
	candidate := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	for _, level := range riskLevels {
		if level == candidate {
			return level, nil
		}
	}
	return RiskNone, fmt.Errorf("unknown risk level: %q", s)
}

// ImpactScope is how far the effects of an action reach
type ImpactScope string

const (
	ScopeNone    ImpactScope = "none"
	ScopeModule  ImpactScope = "module"
	ScopeService ImpactScope = "service"
	ScopeSystem  ImpactScope = "system"
)

// Rank orders scopes: none < module < service < system
func (s ImpactScope) Rank() int {
	switch s {
	case ScopeModule:
		return 1
	case ScopeService:
		return 2
	case ScopeSystem:
		return 3
	default:
		return 0
	}
}

// CouplingType classifies how tightly two dependent actions interact.
// It only weights risk and never affects ordering.
type CouplingType string

const (
	CouplingLoose   CouplingType = "loose"
	CouplingTight   CouplingType = "tight"
	CouplingData    CouplingType = "data"
	CouplingControl CouplingType = "control"
)

// Weight is the additive impact factor used by risk assessment
func (c CouplingType) Weight() float64 {
	switch c {
	case CouplingTight:
		return 0.15
	case CouplingControl:
		return 0.10
	case CouplingData:
		return 0.05
	default:
		return 0
	}
}

// State is a lifecycle value for an action or a plan
type State string

const (
	StateNotStarted State = "not_started"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
	StateRolledBack State = "rolled_back"
	StateWaiting    State = "waiting"
	StatePaused     State = "paused"
)

// Terminal reports whether no further forward progress is possible from s
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateRolledBack:
		return true
	}
	return false
}

// ResultStatus is the outcome recorded for one action execution or rollback
type ResultStatus string

const (
	ResultSucceeded        ResultStatus = "succeeded"
	ResultFailed           ResultStatus = "failed"
	ResultTimedOut         ResultStatus = "timed_out"
	ResultValidationFailed ResultStatus = "validation_failed"
	ResultSkipped          ResultStatus = "skipped"
	ResultCancelled        ResultStatus = "cancelled"
	ResultRolledBack       ResultStatus = "rolled_back"
	ResultRollbackFailed   ResultStatus = "rollback_failed"
	ResultRollbackSkipped  ResultStatus = "rollback_skipped"
)

// RollbackStatus summarises a whole rollback pass
type RollbackStatus string

const (
	RollbackNotRequired RollbackStatus = "not_required"
	RollbackCompleted   RollbackStatus = "completed"
	RollbackPartial     RollbackStatus = "partial"
	RollbackFailed      RollbackStatus = "failed"
)

// ErrorKind discriminates the attribute bag carried by an ErrorContext
type ErrorKind string

const (
	ErrorKindGeneric       ErrorKind = "generic"
	ErrorKindHTTP          ErrorKind = "http"
	ErrorKindDatabase      ErrorKind = "database"
	ErrorKindNetwork       ErrorKind = "network"
	ErrorKindResource      ErrorKind = "resource"
	ErrorKindConfiguration ErrorKind = "configuration"
)
