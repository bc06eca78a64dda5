// SPDX-License-Identifier: Apache-2.0

package action

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/kusari-oss/remedy/internal/core/logging"
)

// Creator builds an action from its definition
type Creator func(Config, Context) (Action, error)

// Context provides contextual information for action creation
type Context struct {
	TemplatesDir string
	WorkingDir   string
	DryRun       bool
	Stream       io.Writer // receives command output when set
	Logger       *logging.Logger
}

// Factory creates actions of different types
type Factory struct {
	mu       sync.RWMutex
	creators map[string]Creator
	context  Context
}

// NewFactory creates a new action factory with the given context
func NewFactory(context Context) *Factory {
	context.Logger = logging.OrNop(context.Logger)
	return &Factory{
		creators: make(map[string]Creator),
		context:  context,
	}
}

// Register registers a creator for an action type, replacing any previous one
func (f *Factory) Register(typeName string, creator Creator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[typeName] = creator
}

// RegisterFunc registers fn as an action type. Every Config of that type
// runs the same function.
func (f *Factory) RegisterFunc(typeName string, fn Func) {
	f.Register(typeName, func(config Config, _ Context) (Action, error) {
		return NewFuncAction(config.Description, fn), nil
	})
}

// Create creates an action of the specified type
func (f *Factory) Create(config Config) (Action, error) {
	f.mu.RLock()
	creator, ok := f.creators[config.Type]
	context := f.context
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown action type: %s", config.Type)
	}
	if context.DryRun {
		return newDryRunAction(config, context), nil
	}
	return creator(config, context)
}

// Types lists the registered action types
func (f *Factory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.creators))
	for t := range f.creators {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// RegisterDefaultTypes registers the built-in "file" and "cli" action types
func (f *Factory) RegisterDefaultTypes() {
	f.Register("file", func(config Config, context Context) (Action, error) {
		if config.TemplatePath == "" && config.Content == "" {
			return nil, fmt.Errorf("template_path or content is required for file actions")
		}
		if config.TargetPath == "" {
			return nil, fmt.Errorf("target_path is required for file actions")
		}
		return &FileAction{
			config:       config,
			templatesDir: context.TemplatesDir,
			workingDir:   context.WorkingDir,
			logger:       context.Logger,
		}, nil
	})

	f.Register("cli", func(config Config, context Context) (Action, error) {
		return NewCLIAction(config, context)
	})
}
