package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 55*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 30*time.Minute, cfg.Cache.SnapshotTTL)
	assert.False(t, cfg.LocalExecution())
	assert.Contains(t, cfg.Pricing, cfg.LLM.Model)
}

func TestFromYAMLRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"mongo without uri":     "store:\n  driver: mongo\n",
		"unknown driver":        "store:\n  driver: postgres\n",
		"unknown provider":      "llm:\n  provider: openai\n",
		"local without sandbox": "capabilities:\n  execution_mode: local\n",
		"negative price":        "pricing:\n  m:\n    input: -1\n",
		"webhook without url":   "webhooks:\n  - id: a\n",
		"duplicate webhook ids": "webhooks:\n  - id: a\n    url: http://x\n  - id: a\n    url: http://y\n",
		"sample rate":           "tracing:\n  sample_rate: 2\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
capabilities:
  execution_mode: local
  sandbox_root: /tmp/agents
webhooks:
  - id: ops
    url: http://hooks.local/agentline
    events: [action.completed]
    enabled: true
`))
	require.NoError(t, err)
	assert.True(t, cfg.LocalExecution())
	assert.Equal(t, "/tmp/agents", cfg.Capabilities.SandboxRoot)
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, []string{"action.completed"}, cfg.Webhooks[0].Events)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}
