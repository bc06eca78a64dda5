// SPDX-License-Identifier: Apache-2.0

package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// RemediationAction is a single unit of remediation work inside a plan
type RemediationAction struct {
	ID          string `json:"id" yaml:"id" validate:"required"`
	Type        string `json:"type" yaml:"type" validate:"required"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Lower values run first when several actions are ready at once
	Priority  int         `json:"priority,omitempty" yaml:"priority,omitempty" validate:"gte=0"`
	Impact    ImpactScope `json:"impact,omitempty" yaml:"impact,omitempty" validate:"omitempty,oneof=none module service system"`
	RiskLevel RiskLevel   `json:"risk_level,omitempty" yaml:"risk_level,omitempty" validate:"omitempty,oneof=none low medium high critical"`
	Component string      `json:"component,omitempty" yaml:"component,omitempty"`

	Prerequisites []string                `json:"prerequisites,omitempty" yaml:"prerequisites,omitempty"`
	Dependencies  []string                `json:"dependencies,omitempty" yaml:"dependencies,omitempty" validate:"dive,required"`
	Coupling      map[string]CouplingType `json:"coupling,omitempty" yaml:"coupling,omitempty" validate:"omitempty,dive,oneof=loose tight data control"`

	Params     map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
	OutputRefs map[string]string      `json:"output_refs,omitempty" yaml:"output_refs,omitempty"` // param -> "action_id.output"

	TimeoutMs    int64 `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty" validate:"gte=0"`
	RetryCount   int   `json:"retry_count,omitempty" yaml:"retry_count,omitempty" validate:"gte=0,lte=100"`
	RetryDelayMs int64 `json:"retry_delay_ms,omitempty" yaml:"retry_delay_ms,omitempty" validate:"gte=0"`

	Disabled               bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Hidden                 bool `json:"hidden,omitempty" yaml:"hidden,omitempty"`
	RequiresManualApproval bool `json:"requires_manual_approval,omitempty" yaml:"requires_manual_approval,omitempty"`

	CanRollback    bool               `json:"can_rollback,omitempty" yaml:"can_rollback,omitempty"`
	// Validated separately by RemediationPlan.Validate; its id may be empty
	RollbackAction *RemediationAction `json:"rollback_action,omitempty" yaml:"rollback_action,omitempty" validate:"-"`
}

// RollbackID is the id given to the rollback step of an action when the
// rollback action does not name one
func RollbackID(actionID string) string {
	return actionID + "-rollback"
}

// Enabled reports whether the action takes part in execution
func (a *RemediationAction) Enabled() bool {
	return !a.Disabled
}

// Timeout returns the per-attempt timeout, or zero when none was declared
func (a *RemediationAction) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// RetryDelay returns the delay between attempts
func (a *RemediationAction) RetryDelay() time.Duration {
	return time.Duration(a.RetryDelayMs) * time.Millisecond
}

// Rollbackable reports whether a paired rollback action can be invoked
func (a *RemediationAction) Rollbackable() bool {
	return a.CanRollback && a.RollbackAction != nil
}

// CouplingTo returns the coupling declared for the dependency edge to dep
func (a *RemediationAction) CouplingTo(dep string) CouplingType {
	if c, ok := a.Coupling[dep]; ok {
		return c
	}
	return CouplingLoose
}

// DisplayName returns the name if set, otherwise the id
func (a *RemediationAction) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// Clone returns a deep copy of the action
func (a *RemediationAction) Clone() RemediationAction {
	c := *a
	c.Prerequisites = cloneStrings(a.Prerequisites)
	c.Dependencies = cloneStrings(a.Dependencies)
	if a.Coupling != nil {
		c.Coupling = make(map[string]CouplingType, len(a.Coupling))
		for k, v := range a.Coupling {
			c.Coupling[k] = v
		}
	}
	if a.OutputRefs != nil {
		c.OutputRefs = make(map[string]string, len(a.OutputRefs))
		for k, v := range a.OutputRefs {
			c.OutputRefs[k] = v
		}
	}
	c.Params = CloneParams(a.Params)
	if a.RollbackAction != nil {
		rb := a.RollbackAction.Clone()
		c.RollbackAction = &rb
	}
	return c
}

// RemediationPlan is the ordered set of actions addressing one error occurrence
type RemediationPlan struct {
	ID            string   `json:"id" yaml:"id" validate:"required"`
	CorrelationID string   `json:"correlation_id,omitempty" yaml:"correlation_id,omitempty"`
	ErrorID       string   `json:"error_id,omitempty" yaml:"error_id,omitempty"`
	Name          string   `json:"name,omitempty" yaml:"name,omitempty"`
	Description   string   `json:"description,omitempty" yaml:"description,omitempty"`
	Priority      int      `json:"priority,omitempty" yaml:"priority,omitempty" validate:"gte=0"`
	Severity      Severity `json:"severity,omitempty" yaml:"severity,omitempty" validate:"omitempty,oneof=none low medium high critical"`
	// Overall risk level declared by the caller; the assessor may raise it
	RiskLevel RiskLevel `json:"risk_level,omitempty" yaml:"risk_level,omitempty" validate:"omitempty,oneof=none low medium high critical"`

	// Hints carried over from error analysis, all in [0,1]
	Confidence  float64 `json:"confidence,omitempty" yaml:"confidence,omitempty" validate:"gte=0,lte=1"`
	Probability float64 `json:"probability,omitempty" yaml:"probability,omitempty" validate:"gte=0,lte=1"`
	Impact      float64 `json:"impact,omitempty" yaml:"impact,omitempty" validate:"gte=0,lte=1"`

	RequiresApproval   bool  `json:"requires_approval,omitempty" yaml:"requires_approval,omitempty"`
	RequiresValidation bool  `json:"requires_validation,omitempty" yaml:"requires_validation,omitempty"`
	FailFast           *bool `json:"fail_fast,omitempty" yaml:"fail_fast,omitempty"`

	Actions      []RemediationAction `json:"actions" yaml:"actions" validate:"required,min=1,dive"`
	RollbackPlan *RemediationPlan    `json:"rollback_plan,omitempty" yaml:"rollback_plan,omitempty"`

	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	SubmittedAt time.Time         `json:"submitted_at,omitempty" yaml:"submitted_at,omitempty"`
}

// IsFailFast returns the plan's fail-fast flag, defaulting to true
func (p *RemediationPlan) IsFailFast() bool {
	if p.FailFast == nil {
		return true
	}
	return *p.FailFast
}

// ActionByID returns the action with the given id
func (p *RemediationPlan) ActionByID(id string) (*RemediationAction, bool) {
	for i := range p.Actions {
		if p.Actions[i].ID == id {
			return &p.Actions[i], true
		}
	}
	return nil, false
}

// EnabledActions returns the actions that take part in execution, in declaration order
func (p *RemediationPlan) EnabledActions() []RemediationAction {
	actions := make([]RemediationAction, 0, len(p.Actions))
	for _, a := range p.Actions {
		if a.Enabled() {
			actions = append(actions, a)
		}
	}
	return actions
}

// Clone returns a deep copy of the plan. The engine stores clones so callers
// cannot change a plan's structure after submission.
func (p *RemediationPlan) Clone() *RemediationPlan {
	if p == nil {
		return nil
	}
	c := *p
	if p.FailFast != nil {
		ff := *p.FailFast
		c.FailFast = &ff
	}
	c.Actions = make([]RemediationAction, len(p.Actions))
	for i, a := range p.Actions {
		c.Actions[i] = a.Clone()
	}
	c.RollbackPlan = p.RollbackPlan.Clone()
	if p.Metadata != nil {
		c.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// RollbackStep returns the step that undoes a: its paired rollback action,
// or the step named RollbackID(a.ID) in the plan's rollback plan. Actions
// without CanRollback have no step.
func (p *RemediationPlan) RollbackStep(a *RemediationAction) (RemediationAction, bool) {
	if !a.CanRollback {
		return RemediationAction{}, false
	}
	if a.RollbackAction != nil {
		rb := a.RollbackAction.Clone()
		if rb.ID == "" {
			rb.ID = RollbackID(a.ID)
		}
		return rb, true
	}
	if p.RollbackPlan != nil {
		if rb, ok := p.RollbackPlan.ActionByID(RollbackID(a.ID)); ok {
			return rb.Clone(), true
		}
	}
	return RemediationAction{}, false
}

// Validate checks field-level constraints declared in struct tags. Graph-level
// checks (unique ids, dependency resolution, cycles) are done by the engine.
func (p *RemediationPlan) Validate() error {
	var msgs []string
	if err := structValidator.Struct(p); err != nil {
		fieldMsgs, err := fieldErrors(err, "RemediationPlan.", "")
		if err != nil {
			return err
		}
		msgs = append(msgs, fieldMsgs...)
	}

	for i := range p.Actions {
		a := &p.Actions[i]
		if a.RollbackAction == nil {
			continue
		}
		rb := a.RollbackAction.Clone()
		if rb.ID == "" {
			rb.ID = RollbackID(a.ID)
		}
		if err := structValidator.Struct(&rb); err != nil {
			fieldMsgs, err := fieldErrors(err, "RemediationAction.", fmt.Sprintf("Actions[%d].RollbackAction.", i))
			if err != nil {
				return err
			}
			msgs = append(msgs, fieldMsgs...)
		}
	}

	if len(msgs) > 0 {
		return fmt.Errorf("invalid plan: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func fieldErrors(err error, trim, prefix string) ([]string, error) {
	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil, fmt.Errorf("plan validation error: %w", err)
	}
	msgs := make([]string, 0, len(validationErrs))
	for _, fe := range validationErrs {
		msgs = append(msgs, fmt.Sprintf("%s%s failed on '%s'", prefix, strings.TrimPrefix(fe.Namespace(), trim), fe.Tag()))
	}
	return msgs, nil
}

// BoolPtr is a small helper for optional flags such as FailFast
func BoolPtr(b bool) *bool {
	return &b
}

// CloneParams deep-copies a parameter map, including nested maps and slices
func CloneParams(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return CloneParams(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return cloneStrings(val)
	default:
		return v
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
