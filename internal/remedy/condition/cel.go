// SPDX-License-Identifier: Apache-2.0

package condition

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// Variables available to expressions. Each is a map; absent ones evaluate
// as empty maps so has() checks work.
const (
	VarPlan    = "plan"
	VarAction  = "action"
	VarContext = "context"
)

var variables = []string{VarPlan, VarAction, VarContext}

// CELEvaluator compiles and evaluates boolean CEL expressions. Compiled
// programs are cached by expression text.
type CELEvaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewCELEvaluator creates a new CEL evaluator
func NewCELEvaluator() (*CELEvaluator, error) {
	opts := make([]cel.EnvOption, 0, len(variables))
	for _, v := range variables {
		opts = append(opts, cel.Variable(v, cel.MapType(cel.StringType, cel.DynType)))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %w", err)
	}

	return &CELEvaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

// Compile parses and type-checks expression, caching the program
func (e *CELEvaluator) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

func (e *CELEvaluator) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error compiling expression: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(types.BoolType) && !out.IsExactType(types.DynType) {
		return nil, fmt.Errorf("expression must evaluate to a boolean, got %s", out)
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("error building program: %w", err)
	}

	e.mu.Lock()
	e.programs[expression] = prg
	e.mu.Unlock()
	return prg, nil
}

// EvaluateExpression evaluates expression against data, which maps variable
// names to values
func (e *CELEvaluator) EvaluateExpression(expression string, data map[string]interface{}) (bool, error) {
	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}

	vars := make(map[string]interface{}, len(variables))
	for _, v := range variables {
		value, ok := data[v]
		if !ok || value == nil {
			value = map[string]interface{}{}
		}
		vars[v] = value
	}

	result, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("error evaluating expression: %w", err)
	}
	if result.Type() != types.BoolType {
		return false, fmt.Errorf("expression did not evaluate to a boolean")
	}
	return result.Value().(bool), nil
}

// ToData converts a struct to the map form used for expression variables,
// using its JSON field names
func ToData(v interface{}) (map[string]interface{}, error) {
	if v == nil {
		return map[string]interface{}{}, nil
	}
	if m, ok := v.(map[string]interface{}); ok {
		return m, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("error encoding expression data: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("error decoding expression data: %w", err)
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}
