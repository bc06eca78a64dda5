// SPDX-License-Identifier: Apache-2.0

// Package planner turns an analysed error into a RemediationPlan and reads
// and writes plan files.
package planner

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/kusari-oss/remedy/internal/core/format"
	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/remedy/condition"
	"github.com/kusari-oss/remedy/internal/remedy/graph"
)

// ErrNoActions is returned when no candidate action survives filtering
var ErrNoActions = errors.New("no applicable remediation actions")

// Metadata keys set on built plans
const (
	MetaComponent = "component"
	MetaKind      = "error_kind"
	MetaCategory  = "category"
	MetaRootCause = "root_cause"
)

// Options control plan construction
type Options struct {
	// PlanID is generated when empty
	PlanID             string
	Name               string
	FailFast           *bool
	RequiresApproval   bool
	RequiresValidation bool
	// Conditions maps candidate action ids to CEL expressions over the
	// error context; a candidate whose expression is false is dropped
	Conditions map[string]string
	Evaluator  *condition.CELEvaluator
}

// BuildPlan builds a plan from the candidate actions of an analysis.
// Disabled candidates and those whose condition does not hold are dropped,
// together with any dependency edges pointing at them. The result is
// ordered by priority and carries a mirror rollback plan when any action
// can be rolled back.
func BuildPlan(ec models.ErrorContext, analysis models.ErrorAnalysisResult, opts Options) (*models.RemediationPlan, error) {
	if ec.ErrorID != "" && analysis.ErrorID != "" && ec.ErrorID != analysis.ErrorID {
		return nil, fmt.Errorf("analysis is for error %s, not %s", analysis.ErrorID, ec.ErrorID)
	}

	evaluator := opts.Evaluator
	if evaluator == nil && len(opts.Conditions) > 0 {
		var err error
		if evaluator, err = condition.NewCELEvaluator(); err != nil {
			return nil, err
		}
	}
	contextData := ec.Data()

	kept := make(map[string]bool, len(analysis.CandidateActions))
	actions := make([]models.RemediationAction, 0, len(analysis.CandidateActions))
	for _, candidate := range analysis.CandidateActions {
		if !candidate.Enabled() {
			continue
		}
		if expr, ok := opts.Conditions[candidate.ID]; ok {
			actionData, err := condition.ToData(candidate)
			if err != nil {
				return nil, err
			}
			matches, err := evaluator.EvaluateExpression(expr, map[string]interface{}{
				condition.VarContext: contextData,
				condition.VarAction:  actionData,
			})
			if err != nil {
				return nil, fmt.Errorf("condition for action %s: %w", candidate.ID, err)
			}
			if !matches {
				continue
			}
		}
		actions = append(actions, candidate.Clone())
		kept[candidate.ID] = true
	}
	if len(actions) == 0 {
		return nil, ErrNoActions
	}

	for i := range actions {
		a := &actions[i]
		deps := a.Dependencies[:0]
		for _, dep := range a.Dependencies {
			if kept[dep] {
				deps = append(deps, dep)
			}
		}
		a.Dependencies = deps
		if a.Component == "" {
			a.Component = ec.Component
		}
		if a.Impact == "" {
			a.Impact = analysis.Scope
		}
	}
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Priority < actions[j].Priority
	})

	severity := ec.Severity
	if analysis.Severity.Rank() > severity.Rank() {
		severity = analysis.Severity
	}

	plan := &models.RemediationPlan{
		ID:                 opts.PlanID,
		CorrelationID:      ec.CorrelationID,
		ErrorID:            ec.ErrorID,
		Name:               opts.Name,
		Severity:           severity,
		Confidence:         analysis.Confidence,
		Probability:        analysis.Probability,
		Impact:             analysis.Impact,
		RequiresApproval:   analysis.RequiresApproval || opts.RequiresApproval,
		RequiresValidation: opts.RequiresValidation,
		FailFast:           opts.FailFast,
		Actions:            actions,
		Metadata:           make(map[string]string),
	}
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.ErrorID == "" {
		plan.ErrorID = analysis.ErrorID
	}
	if plan.Name == "" {
		plan.Name = "Remediation for " + plan.ErrorID
	}
	setMeta(plan.Metadata, MetaComponent, ec.Component)
	setMeta(plan.Metadata, MetaKind, string(ec.Kind))
	setMeta(plan.Metadata, MetaCategory, analysis.Category)
	setMeta(plan.Metadata, MetaRootCause, analysis.RootCause)

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	rollback, err := MirrorRollbackPlan(plan)
	if err != nil {
		return nil, err
	}
	plan.RollbackPlan = rollback
	return plan, nil
}

func setMeta(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// MirrorRollbackPlan builds the plan that undoes plan: one step per
// rollback-capable action, each depending on the rollback steps of the
// actions that depended on it. Steps keep the paired action's id, or
// models.RollbackID of the forward id when it has none. It returns nil when nothing can be rolled
// back.
func MirrorRollbackPlan(plan *models.RemediationPlan) (*models.RemediationPlan, error) {
	g, err := graph.Build(plan.Actions)
	if err != nil {
		return nil, err
	}

	rollbackIDs := make(map[string]string)
	for _, a := range plan.Actions {
		if a.Enabled() && a.Rollbackable() {
			id := a.RollbackAction.ID
			if id == "" {
				id = models.RollbackID(a.ID)
			}
			rollbackIDs[a.ID] = id
		}
	}
	if len(rollbackIDs) == 0 {
		return nil, nil
	}

	mirror := &models.RemediationPlan{
		ID:            models.RollbackID(plan.ID),
		CorrelationID: plan.CorrelationID,
		ErrorID:       plan.ErrorID,
		Name:          "Rollback of " + plan.Name,
		Severity:      plan.Severity,
		RiskLevel:     plan.RiskLevel,
		FailFast:      models.BoolPtr(false),
		Metadata:      map[string]string{"rollback_of": plan.ID},
	}
	// Dependents are undone first, so walk the forward plan in reverse
	order := g.Order()
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		rbID, ok := rollbackIDs[id]
		if !ok {
			continue
		}
		a, _ := plan.ActionByID(id)
		rb := a.RollbackAction.Clone()
		rb.ID = rbID
		rb.CanRollback = false
		rb.RollbackAction = nil
		rb.Dependencies = nil
		rb.Coupling = nil
		for _, dependent := range g.Dependents(id) {
			if depRB, ok := rollbackIDs[dependent]; ok {
				rb.Dependencies = append(rb.Dependencies, depRB)
			}
		}
		if rb.Component == "" {
			rb.Component = a.Component
		}
		mirror.Actions = append(mirror.Actions, rb)
	}
	return mirror, nil
}

// LoadPlanFile reads a plan from a YAML or JSON file. Unknown fields are
// rejected.
func LoadPlanFile(path string) (*models.RemediationPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading plan file: %w", err)
	}
	var plan models.RemediationPlan
	if err := format.ParseStrict(data, &plan); err != nil {
		return nil, fmt.Errorf("error parsing plan file %s: %w", path, err)
	}
	return &plan, nil
}

// SavePlanFile writes a plan as YAML, or JSON for a .json path
func SavePlanFile(path string, plan *models.RemediationPlan) error {
	if err := format.WriteFile(path, plan); err != nil {
		return fmt.Errorf("error writing plan file %s: %w", path, err)
	}
	return nil
}

// LoadAnalysisFile reads an error context and its analysis from one file
func LoadAnalysisFile(path string) (*models.AnalysisInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading analysis file: %w", err)
	}
	var input models.AnalysisInput
	if err := format.ParseStrict(data, &input); err != nil {
		return nil, fmt.Errorf("error parsing analysis file %s: %w", path, err)
	}
	return &input, nil
}
