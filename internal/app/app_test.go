package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentline/internal/config"
	"agentline/internal/engine"
)

func TestLoadConfigPrefersExplicitPath(t *testing.T) {
	ws := t.TempDir()
	cfg, err := LoadConfig(ws, "")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/v1", cfg.Server.BasePath)

	path := filepath.Join(t.TempDir(), "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: 0.0.0.0:9999\n"), 0o644))
	cfg, err = LoadConfig(ws, path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.Server.Addr)
	assert.Equal(t, "anthropic", cfg.LLM.Provider, "unset sections keep defaults")
}

func TestOpenSQLiteWorkspacePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()

	a, err := Open(ctx, ws, nil, nil)
	require.NoError(t, err)
	agent, err := a.Engine.CreateAgent(ctx, "user-1", engine.NewAgent{Name: "Runner", Goal: "Run a marathon"})
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))

	b, err := Open(ctx, ws, config.Default(), nil)
	require.NoError(t, err)
	defer b.Close(ctx)
	got, err := b.Engine.GetAgent(ctx, "user-1", agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Run a marathon", got.Goal)
}

func TestOrchestratorBuildsFromDefaults(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.LLM.APIKeyEnv = "AGENTLINE_TEST_LLM_KEY"
	t.Setenv("AGENTLINE_TEST_LLM_KEY", "sk-test")

	a, err := Open(ctx, t.TempDir(), cfg, nil)
	require.NoError(t, err)
	rt, err := a.Orchestrator(ctx, "test")
	require.NoError(t, err)
	assert.NotNil(t, rt.Orchestrator)
	assert.NotNil(t, rt.Gatherer)
	require.NoError(t, a.Close(ctx))
}

func TestOrchestratorRequiresProviderKey(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.LLM.APIKeyEnv = "AGENTLINE_TEST_UNSET_KEY"

	a, err := Open(ctx, t.TempDir(), cfg, nil)
	require.NoError(t, err)
	defer a.Close(ctx)
	_, err = a.Orchestrator(ctx, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENTLINE_TEST_UNSET_KEY")
}

func TestServeRequiresJWTSecret(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Server.JWTSecretEnv = "AGENTLINE_TEST_UNSET_SECRET"

	a, err := Open(ctx, t.TempDir(), cfg, nil)
	require.NoError(t, err)
	defer a.Close(ctx)
	err = a.Serve(ctx, ServeOptions{Addr: "127.0.0.1:0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENTLINE_TEST_UNSET_SECRET")
}
