// SPDX-License-Identifier: Apache-2.0

package defaults_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kusari-oss/remedy/internal/core/action"
	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/core/resolver"
	"github.com/kusari-oss/remedy/internal/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefinitions(t *testing.T) {
	configs, err := defaults.Definitions()
	require.NoError(t, err)

	names := make([]string, 0, len(configs))
	for _, c := range configs {
		names = append(names, c.Name)
		assert.NotEmpty(t, c.Type, c.Name)
		assert.NotEmpty(t, c.Description, c.Name)
	}
	assert.Equal(t, []string{"http-check", "restart-service", "rollout-restart", "scale-deployment", "write-file"}, names)
}

func TestRegisterResolvesBuiltIns(t *testing.T) {
	factory := action.NewFactory(action.Context{WorkingDir: t.TempDir(), DryRun: true})
	factory.RegisterDefaultTypes()
	r := resolver.NewResolver(factory)

	n, err := defaults.Register(r)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	resolved, err := r.Resolve(models.RemediationAction{
		ID:     "restart",
		Type:   "rollout-restart",
		Params: map[string]interface{}{"deployment": "orders"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "default", resolved.Params["namespace"])

	_, err = r.Resolve(models.RemediationAction{ID: "scale", Type: "scale-deployment"}, nil)
	assert.Error(t, err, "replicas is required")
}

func TestActionFilesOverrideBuiltIns(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "http-check.yaml"),
		[]byte("name: http-check\ntype: cli\ndescription: local check\ncommand: \"true\"\n"), 0644))

	factory := action.NewFactory(action.Context{})
	factory.RegisterDefaultTypes()
	r := resolver.NewResolver(factory, dir)
	_, err := defaults.Register(r)
	require.NoError(t, err)

	def, err := r.Definition("http-check")
	require.NoError(t, err)
	assert.Equal(t, "local check", def.Description)
}

func TestCopyActions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "actions")

	written, err := defaults.CopyActions(dir, false)
	require.NoError(t, err)
	assert.Len(t, written, 5)

	custom := filepath.Join(dir, "restart-service.yaml")
	require.NoError(t, os.WriteFile(custom, []byte("name: restart-service\ntype: cli\n"), 0644))

	written, err = defaults.CopyActions(dir, false)
	require.NoError(t, err)
	assert.Empty(t, written)
	data, err := os.ReadFile(custom)
	require.NoError(t, err)
	assert.Equal(t, "name: restart-service\ntype: cli\n", string(data))

	written, err = defaults.CopyActions(dir, true)
	require.NoError(t, err)
	assert.Len(t, written, 5)

	loaded, err := resolver.LoadActionConfig(custom)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"service"}, loaded.Schema["required"])
}
