// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"fmt"
	"strings"
	"sync"

	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/remedy/graph"
	"github.com/kusari-oss/remedy/internal/remedy/state"
)

// Execution is the runtime of one accepted plan. The plan and graph are
// read-only; outputs and completions are written only by the scheduler.
type Execution struct {
	Plan    *models.RemediationPlan
	Graph   *graph.Graph
	Machine *state.Machine
	Control *Control

	// Data is the error context used to render action params
	Data      map[string]interface{}
	ContextID string
	// Prerequisites satisfied outside the plan
	Prerequisites map[string]bool

	mu        sync.RWMutex
	outputs   map[string]map[string]interface{}
	completed map[string]bool
}

// NewExecution prepares a plan for running. The machine tracks the enabled
// actions only.
func NewExecution(plan *models.RemediationPlan, g *graph.Graph, opts ...state.Option) *Execution {
	ids := make([]string, 0, len(plan.Actions))
	for _, a := range plan.EnabledActions() {
		ids = append(ids, a.ID)
	}
	return &Execution{
		Plan:      plan,
		Graph:     g,
		Machine:   state.NewMachine(ids, opts...),
		Control:   NewControl(),
		outputs:   make(map[string]map[string]interface{}),
		completed: make(map[string]bool),
	}
}

func (x *Execution) complete(id string, outputs map[string]interface{}) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.completed[id] = true
	x.outputs[id] = outputs
}

// Completed reports whether id finished successfully in this run
func (x *Execution) Completed(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.completed[id]
}

// Outputs returns the output values of a completed action
func (x *Execution) Outputs(id string) (map[string]interface{}, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out, ok := x.outputs[id]
	return out, ok
}

// satisfied is the prerequisite set seen by validation: the external
// prerequisites plus every completed action id
func (x *Execution) satisfied() map[string]bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]bool, len(x.Prerequisites)+len(x.completed))
	for k, v := range x.Prerequisites {
		out[k] = v
	}
	for id := range x.completed {
		out[id] = true
	}
	return out
}

// withOutputRefs returns a copy of a with its output references filled in
// from completed actions. References have the form "action_id.output".
func (x *Execution) withOutputRefs(a *models.RemediationAction) (models.RemediationAction, error) {
	c := a.Clone()
	if len(c.OutputRefs) == 0 {
		return c, nil
	}
	if c.Params == nil {
		c.Params = make(map[string]interface{}, len(c.OutputRefs))
	}
	for param, ref := range c.OutputRefs {
		parts := strings.SplitN(ref, ".", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return c, fmt.Errorf("invalid output reference format: %s", ref)
		}
		outputs, ok := x.Outputs(parts[0])
		if !ok {
			return c, fmt.Errorf("referenced action %s has not completed successfully", parts[0])
		}
		value, ok := outputs[parts[1]]
		if !ok {
			return c, fmt.Errorf("output %s not found in action %s", parts[1], parts[0])
		}
		c.Params[param] = value
	}
	return c, nil
}
