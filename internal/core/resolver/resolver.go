// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kusari-oss/remedy/internal/core/action"
	"github.com/kusari-oss/remedy/internal/core/format"
	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/core/schema"
)

// ErrNotFound is returned when no definition exists for an action type
var ErrNotFound = errors.New("action definition not found")

// Resolver maps the action types named in plans to runnable actions.
// Definitions registered in memory take precedence over <type>.yaml files
// found in the action paths, which are searched in order. Fallback
// definitions are consulted last.
type Resolver struct {
	mu          sync.RWMutex
	factory     *action.Factory
	actionPaths []string
	definitions map[string]action.Config
	fallbacks   map[string]action.Config
}

// Resolved is an action ready to run together with its final parameters
type Resolved struct {
	Action action.Action
	Config action.Config
	Params map[string]interface{}
}

// NewResolver creates a resolver backed by factory. Empty paths are ignored.
func NewResolver(factory *action.Factory, actionPaths ...string) *Resolver {
	paths := make([]string, 0, len(actionPaths))
	for _, p := range actionPaths {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return &Resolver{
		factory:     factory,
		actionPaths: paths,
		definitions: make(map[string]action.Config),
		fallbacks:   make(map[string]action.Config),
	}
}

// Register adds an in-memory definition keyed by its name
func (r *Resolver) Register(config action.Config) error {
	if err := checkDefinition(config); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[config.Name] = config
	return nil
}

// RegisterFallback adds a definition used only when no registered
// definition or action file exists for its name
func (r *Resolver) RegisterFallback(config action.Config) error {
	if err := checkDefinition(config); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[config.Name] = config
	return nil
}

func checkDefinition(config action.Config) error {
	if config.Name == "" {
		return fmt.Errorf("action definition requires a name")
	}
	if config.Type == "" {
		return fmt.Errorf("action definition %s requires a type", config.Name)
	}
	if err := schema.Compile(config.Schema); err != nil {
		return fmt.Errorf("action definition %s: %w", config.Name, err)
	}
	return nil
}

// Definition returns the definition for an action type. When neither memory
// nor disk has one but the factory knows the type, a bare definition is
// returned so types registered with RegisterFunc work without a file.
func (r *Resolver) Definition(actionType string) (action.Config, error) {
	r.mu.RLock()
	config, ok := r.definitions[actionType]
	r.mu.RUnlock()
	if ok {
		return config, nil
	}

	for _, path := range r.actionPaths {
		actionPath := filepath.Join(path, actionType+".yaml")
		if _, err := os.Stat(actionPath); err != nil {
			continue
		}
		loaded, err := LoadActionConfig(actionPath)
		if err != nil {
			return action.Config{}, err
		}
		return *loaded, nil
	}

	r.mu.RLock()
	config, ok = r.fallbacks[actionType]
	r.mu.RUnlock()
	if ok {
		return config, nil
	}

	for _, t := range r.factory.Types() {
		if t == actionType {
			return action.Config{Name: actionType, Type: actionType}, nil
		}
	}
	return action.Config{}, fmt.Errorf("%w: %s", ErrNotFound, actionType)
}

// Resolve builds the runnable action for a plan action. Definition defaults
// are merged under the plan params, placeholders are filled from data, and
// the result is validated against the definition schema. A nil data map
// leaves params untouched.
func (r *Resolver) Resolve(a models.RemediationAction, data map[string]interface{}) (*Resolved, error) {
	def, err := r.Definition(a.Type)
	if err != nil {
		return nil, err
	}

	params := schema.MergeWithDefaults(models.CloneParams(a.Params), def.Defaults)
	if data != nil {
		params, err = schema.ProcessParamsWithSchema(params, data, def.Schema)
		if err != nil {
			return nil, fmt.Errorf("action %s: %w", a.ID, err)
		}
	}

	if err := schema.ValidateParams(def.Schema, params); err != nil {
		return nil, fmt.Errorf("action %s: %w", a.ID, err)
	}

	act, err := r.factory.Create(def)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", a.ID, err)
	}
	return &Resolved{Action: act, Config: def, Params: params}, nil
}

// ListAvailableActions lists all definitions, in-memory first, then from
// the action paths in precedence order and finally the fallbacks
func (r *Resolver) ListAvailableActions() (map[string]action.Config, error) {
	actions := make(map[string]action.Config)

	r.mu.RLock()
	for name, config := range r.definitions {
		actions[name] = config
	}
	r.mu.RUnlock()

	for _, path := range r.actionPaths {
		entries, err := os.ReadDir(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("error reading actions directory %s: %w", path, err)
		}

		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
				continue
			}
			config, err := LoadActionConfig(filepath.Join(path, entry.Name()))
			if err != nil {
				continue // skip invalid definitions
			}
			if _, exists := actions[config.Name]; !exists {
				actions[config.Name] = *config
			}
		}
	}

	r.mu.RLock()
	for name, config := range r.fallbacks {
		if _, exists := actions[name]; !exists {
			actions[name] = config
		}
	}
	r.mu.RUnlock()
	return actions, nil
}

// Names returns the sorted names of a definition map
func Names(actions map[string]action.Config) []string {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadActionConfig loads a definition file. The name defaults to the file
// name without extension.
func LoadActionConfig(path string) (*action.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading action file: %w", err)
	}

	var config action.Config
	if err := format.ParseData(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing action file %s: %w", path, err)
	}
	if config.Name == "" {
		config.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := schema.Compile(config.Schema); err != nil {
		return nil, fmt.Errorf("action file %s: %w", path, err)
	}
	return &config, nil
}

// FilterActionsByLabels keeps the definitions whose labels match every
// selector key with at least one value
func FilterActionsByLabels(actions map[string]action.Config, selectors map[string][]string) map[string]action.Config {
	if len(selectors) == 0 {
		return actions
	}

	filtered := make(map[string]action.Config)
	for name, config := range actions {
		if matchesLabelSelectors(config.Labels, selectors) {
			filtered[name] = config
		}
	}
	return filtered
}

// ParseLabelSelector parses "key=value,key=other" into selectors
func ParseLabelSelector(s string) (map[string][]string, error) {
	selectors := make(map[string][]string)
	if strings.TrimSpace(s) == "" {
		return selectors, nil
	}
	for _, pair := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || key == "" || value == "" {
			return nil, fmt.Errorf("invalid label selector %q", pair)
		}
		selectors[key] = append(selectors[key], value)
	}
	return selectors, nil
}

func matchesLabelSelectors(labels map[string][]string, selectors map[string][]string) bool {
	for key, wanted := range selectors {
		values, ok := labels[key]
		if !ok || !hasAnyMatchingValue(values, wanted) {
			return false
		}
	}
	return true
}

func hasAnyMatchingValue(values, wanted []string) bool {
	for _, w := range wanted {
		for _, v := range values {
			if v == w {
				return true
			}
		}
	}
	return false
}
