// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Func is the signature of an in-process action
type Func func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// FuncAction adapts a Go function to the OutputAction interface
type FuncAction struct {
	description string
	fn          Func
}

// NewFuncAction wraps fn
func NewFuncAction(description string, fn Func) *FuncAction {
	return &FuncAction{description: description, fn: fn}
}

func (a *FuncAction) Execute(ctx context.Context, params map[string]interface{}) error {
	_, err := a.ExecuteWithOutput(ctx, params)
	return err
}

func (a *FuncAction) ExecuteWithOutput(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	if a.fn == nil {
		return nil, fmt.Errorf("no function configured")
	}
	return a.fn(ctx, params)
}

func (a *FuncAction) Description() string {
	if a.description != "" {
		return a.description
	}
	return "Run an in-process function"
}

// dryRunAction reports what would run without side effects
type dryRunAction struct {
	config  Config
	context Context
}

func newDryRunAction(config Config, context Context) *dryRunAction {
	return &dryRunAction{config: config, context: context}
}

func (a *dryRunAction) Execute(ctx context.Context, params map[string]interface{}) error {
	_, err := a.ExecuteWithOutput(ctx, params)
	return err
}

func (a *dryRunAction) ExecuteWithOutput(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	a.context.Logger.Info(ctx, "dry run: action skipped",
		zap.String("action", a.config.Name),
		zap.String("type", a.config.Type),
		zap.Any("params", params))
	return map[string]interface{}{"dry_run": true}, nil
}

func (a *dryRunAction) Description() string {
	return fmt.Sprintf("[dry run] %s", a.config.Description)
}
