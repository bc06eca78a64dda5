// SPDX-License-Identifier: Apache-2.0

package resolver_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kusari-oss/remedy/internal/core/action"
	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/core/resolver"
	"github.com/kusari-oss/remedy/internal/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const restartYAML = `
name: restart-service
type: cli
description: Restart a service
labels:
  kind: [restart]
command: echo
args: ["restarting", "{{.service}}"]
defaults:
  grace_seconds: 5
schema:
  type: object
  required: [service]
  properties:
    service:
      type: string
    grace_seconds:
      type: integer
`

const scaleYAML = `
type: cli
labels:
  kind: [scale]
command: echo
`

func writeActions(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "restart-service.yaml"), []byte(restartYAML), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scale.yaml"), []byte(scaleYAML), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not an action"), 0644))
	return dir
}

func newResolver(t *testing.T, paths ...string) *resolver.Resolver {
	t.Helper()
	factory := action.NewFactory(action.Context{})
	factory.RegisterDefaultTypes()
	factory.RegisterFunc("noop", func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
		return nil, nil
	})
	return resolver.NewResolver(factory, paths...)
}

func TestLoadActionConfig(t *testing.T) {
	dir := writeActions(t)

	config, err := resolver.LoadActionConfig(filepath.Join(dir, "restart-service.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "restart-service", config.Name)
	assert.Equal(t, "cli", config.Type)
	assert.Equal(t, []string{"restarting", "{{.service}}"}, config.Args)
	assert.Equal(t, []string{"restart"}, config.Labels["kind"])
	assert.Equal(t, 5, config.Defaults["grace_seconds"])

	config, err = resolver.LoadActionConfig(filepath.Join(dir, "scale.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "scale", config.Name, "name defaults to the file name")

	_, err = resolver.LoadActionConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	r := newResolver(t, writeActions(t))

	t.Run("FileDefinitionWithDefaultsAndData", func(t *testing.T) {
		resolved, err := r.Resolve(models.RemediationAction{
			ID:     "a1",
			Type:   "restart-service",
			Params: map[string]interface{}{"service": "{{.component}}"},
		}, map[string]interface{}{"component": "checkout"})
		require.NoError(t, err)

		assert.Equal(t, "checkout", resolved.Params["service"])
		assert.Equal(t, 5, resolved.Params["grace_seconds"])
		assert.IsType(t, &action.CLIAction{}, resolved.Action)

		outputs, err := action.Run(context.Background(), resolved.Action, resolved.Params)
		require.NoError(t, err)
		assert.Equal(t, "restarting checkout", outputs["stdout"])
	})

	t.Run("SchemaViolation", func(t *testing.T) {
		_, err := r.Resolve(models.RemediationAction{ID: "a2", Type: "restart-service"}, nil)
		require.Error(t, err)
		var paramErr *schema.ParamError
		assert.True(t, errors.As(err, &paramErr))
	})

	t.Run("MissingPlaceholderData", func(t *testing.T) {
		_, err := r.Resolve(models.RemediationAction{
			ID:     "a3",
			Type:   "restart-service",
			Params: map[string]interface{}{"service": "{{.nope}}"},
		}, map[string]interface{}{})
		assert.Error(t, err)
	})

	t.Run("FactoryOnlyType", func(t *testing.T) {
		resolved, err := r.Resolve(models.RemediationAction{ID: "a4", Type: "noop"}, nil)
		require.NoError(t, err)
		assert.IsType(t, &action.FuncAction{}, resolved.Action)
	})

	t.Run("UnknownType", func(t *testing.T) {
		_, err := r.Resolve(models.RemediationAction{ID: "a5", Type: "teleport"}, nil)
		assert.ErrorIs(t, err, resolver.ErrNotFound)
	})

	t.Run("PlanParamsNotMutated", func(t *testing.T) {
		params := map[string]interface{}{"service": "{{.component}}"}
		_, err := r.Resolve(models.RemediationAction{ID: "a6", Type: "restart-service", Params: params},
			map[string]interface{}{"component": "api"})
		require.NoError(t, err)
		assert.Equal(t, "{{.component}}", params["service"])
	})
}

func TestRegisterTakesPrecedence(t *testing.T) {
	r := newResolver(t, writeActions(t))

	require.NoError(t, r.Register(action.Config{Name: "scale", Type: "noop", Description: "in memory"}))
	def, err := r.Definition("scale")
	require.NoError(t, err)
	assert.Equal(t, "in memory", def.Description)

	assert.Error(t, r.Register(action.Config{Type: "cli"}))
	assert.Error(t, r.Register(action.Config{Name: "x"}))
	assert.Error(t, r.Register(action.Config{Name: "x", Type: "cli", Schema: map[string]interface{}{"type": 12}}))
}

func TestListAndFilter(t *testing.T) {
	r := newResolver(t, writeActions(t), filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, r.Register(action.Config{Name: "health", Type: "noop"}))

	actions, err := r.ListAvailableActions()
	require.NoError(t, err)
	assert.Equal(t, []string{"health", "restart-service", "scale"}, resolver.Names(actions))

	selectors, err := resolver.ParseLabelSelector("kind=restart,kind=drain")
	require.NoError(t, err)
	filtered := resolver.FilterActionsByLabels(actions, selectors)
	assert.Equal(t, []string{"restart-service"}, resolver.Names(filtered))

	assert.Len(t, resolver.FilterActionsByLabels(actions, nil), 3)

	_, err = resolver.ParseLabelSelector("kind")
	assert.Error(t, err)
}

func TestFallbacksYieldToActionFiles(t *testing.T) {
	r := newResolver(t, writeActions(t))

	require.NoError(t, r.RegisterFallback(action.Config{Name: "scale", Type: "noop", Description: "built in"}))
	require.NoError(t, r.RegisterFallback(action.Config{Name: "drain", Type: "noop", Description: "built in"}))
	assert.Error(t, r.RegisterFallback(action.Config{Name: "broken"}))

	def, err := r.Definition("scale")
	require.NoError(t, err)
	assert.Equal(t, "cli", def.Type, "action file wins over fallback")

	def, err = r.Definition("drain")
	require.NoError(t, err)
	assert.Equal(t, "built in", def.Description)

	actions, err := r.ListAvailableActions()
	require.NoError(t, err)
	assert.Equal(t, []string{"drain", "restart-service", "scale"}, resolver.Names(actions))
	assert.Equal(t, "cli", actions["scale"].Type)
}
