// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"
)

// Action defines the interface that all actions must implement
type Action interface {
	// Execute runs the action with the given parameters. Implementations must
	// return promptly once ctx is done.
	Execute(ctx context.Context, params map[string]interface{}) error

	// Description returns a human-readable description of the action
	Description() string
}

// OutputAction extends Action to support returning outputs
type OutputAction interface {
	Action

	// ExecuteWithOutput runs the action and returns named outputs
	ExecuteWithOutput(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)
}

// Run executes a and returns its outputs when it supports them
func Run(ctx context.Context, a Action, params map[string]interface{}) (map[string]interface{}, error) {
	if oa, ok := a.(OutputAction); ok {
		return oa.ExecuteWithOutput(ctx, params)
	}
	return nil, a.Execute(ctx, params)
}

// OutputParser configures how a named output is extracted from command output
type OutputParser struct {
	Format  string `yaml:"format" json:"format"`                       // json or text
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`       // dotted path for json
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"` // regex for text
}

// Config is an action definition, usually loaded from <actions_dir>/<name>.yaml
type Config struct {
	Name         string                  `yaml:"name" json:"name"`
	Type         string                  `yaml:"type" json:"type"`
	Description  string                  `yaml:"description" json:"description"`
	Labels       map[string][]string     `yaml:"labels,omitempty" json:"labels,omitempty"`
	TemplatePath string                  `yaml:"template_path,omitempty" json:"template_path,omitempty"`
	Content      string                  `yaml:"content,omitempty" json:"content,omitempty"`
	TargetPath   string                  `yaml:"target_path,omitempty" json:"target_path,omitempty"`
	CreateDirs   bool                    `yaml:"create_dirs,omitempty" json:"create_dirs,omitempty"`
	Command      string                  `yaml:"command,omitempty" json:"command,omitempty"`
	Args         []string                `yaml:"args,omitempty" json:"args,omitempty"`
	Schema       map[string]interface{}  `yaml:"schema,omitempty" json:"schema,omitempty"`
	Defaults     map[string]interface{}  `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Outputs      map[string]OutputParser `yaml:"outputs,omitempty" json:"outputs,omitempty"`
}
