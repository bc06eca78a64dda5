// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"context"
	"sync"

	"github.com/kusari-oss/remedy/internal/core/action"
	"github.com/stretchr/testify/mock"
)

// MockAction is a testify mock of action.OutputAction. Without expectations
// it behaves like a no-op action that returns no outputs.
type MockAction struct {
	mock.Mock
	Config action.Config
}

// Execute mocks the Execute method
func (m *MockAction) Execute(ctx context.Context, params map[string]interface{}) error {
	_, err := m.ExecuteWithOutput(ctx, params)
	return err
}

// ExecuteWithOutput mocks the ExecuteWithOutput method
func (m *MockAction) ExecuteWithOutput(_ context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	if len(m.ExpectedCalls) == 0 {
		return nil, nil
	}
	args := m.Called(params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

// Description returns the action description
func (m *MockAction) Description() string {
	return m.Config.Description
}

// NewMockActionCreator returns a creator that always hands out m, for
// registering with an action.Factory
func NewMockActionCreator(m *MockAction) action.Creator {
	return func(config action.Config, _ action.Context) (action.Action, error) {
		m.Config = config
		return m, nil
	}
}

// Step describes how a scripted action behaves on successive attempts
type Step struct {
	Outputs map[string]interface{}
	Err     error
	// Block makes the attempt wait until the context is done or Release is called
	Block bool
}

// ScriptedAction is a Func-compatible action that plays back Steps and
// records every invocation. After the script runs out the last step repeats.
type ScriptedAction struct {
	mu      sync.Mutex
	steps   []Step
	calls   []map[string]interface{}
	release chan struct{}
	started chan struct{}
}

// NewScriptedAction creates a scripted action; no steps means always succeed
func NewScriptedAction(steps ...Step) *ScriptedAction {
	return &ScriptedAction{
		steps:   steps,
		release: make(chan struct{}),
		started: make(chan struct{}, 64),
	}
}

// Run implements action.Func
func (s *ScriptedAction) Run(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	s.mu.Lock()
	attempt := len(s.calls)
	s.calls = append(s.calls, params)
	step := Step{}
	if len(s.steps) > 0 {
		if attempt < len(s.steps) {
			step = s.steps[attempt]
		} else {
			step = s.steps[len(s.steps)-1]
		}
	}
	s.mu.Unlock()

	select {
	case s.started <- struct{}{}:
	default:
	}

	if step.Block {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.release:
		}
	}
	return step.Outputs, step.Err
}

// Started receives one value each time an attempt begins
func (s *ScriptedAction) Started() <-chan struct{} {
	return s.started
}

// Release unblocks every current and future blocking attempt
func (s *ScriptedAction) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.release:
	default:
		close(s.release)
	}
}

// Calls returns the number of invocations so far
func (s *ScriptedAction) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Params returns the params passed to the nth invocation
func (s *ScriptedAction) Params(n int) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 || n >= len(s.calls) {
		return nil
	}
	return s.calls[n]
}
