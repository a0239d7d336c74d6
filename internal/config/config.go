package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "agentline.yml"

// Config models agentline.yml.
type Config struct {
	Server struct {
		Addr         string `yaml:"addr"`
		BasePath     string `yaml:"base_path"`
		JWTSecretEnv string `yaml:"jwt_secret_env"`
	} `yaml:"server"`
	Store struct {
		Driver string `yaml:"driver"`
		Mongo  struct {
			URI      string `yaml:"uri"`
			Database string `yaml:"database"`
		} `yaml:"mongo"`
	} `yaml:"store"`
	LLM          LLM                     `yaml:"llm"`
	Pricing      map[string]ModelPricing `yaml:"pricing"`
	Capabilities struct {
		ExecutionMode string `yaml:"execution_mode"`
		SandboxRoot   string `yaml:"sandbox_root"`
	} `yaml:"capabilities"`
	Cache struct {
		RedisAddr   string        `yaml:"redis_addr"`
		SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
	} `yaml:"cache"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Tracing struct {
		Enabled      bool    `yaml:"enabled"`
		OTLPEndpoint string  `yaml:"otlp_endpoint"`
		SampleRate   float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type LLM struct {
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ModelPricing is USD per million tokens.
type ModelPricing struct {
	Input      float64 `yaml:"input"`
	Output     float64 `yaml:"output"`
	CacheRead  float64 `yaml:"cache_read"`
	CacheWrite float64 `yaml:"cache_write"`
}

type Webhook struct {
	ID      string   `yaml:"id"`
	URL     string   `yaml:"url"`
	Events  []string `yaml:"events"`
	Enabled bool     `yaml:"enabled"`
}

// LocalExecution reports whether filesystem tools may run in this deployment.
func (c *Config) LocalExecution() bool {
	return c.Capabilities.ExecutionMode == "local"
}

// Load reads and validates config from workspace, falling back to defaults
// when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
	case "mongo":
		if c.Store.Mongo.URI == "" {
			return fmt.Errorf("config.store.mongo.uri is required for driver mongo")
		}
		if c.Store.Mongo.Database == "" {
			return fmt.Errorf("config.store.mongo.database is required for driver mongo")
		}
	default:
		return fmt.Errorf("config.store.driver must be sqlite or mongo, got %q", c.Store.Driver)
	}
	switch c.LLM.Provider {
	case "anthropic", "gemini":
	default:
		return fmt.Errorf("config.llm.provider must be anthropic or gemini, got %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("config.llm.model is required")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("config.llm.max_tokens must be positive")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("config.llm.timeout must be positive")
	}
	for model, p := range c.Pricing {
		if p.Input < 0 || p.Output < 0 || p.CacheRead < 0 || p.CacheWrite < 0 {
			return fmt.Errorf("pricing for %s has negative rate", model)
		}
	}
	switch c.Capabilities.ExecutionMode {
	case "local":
		if c.Capabilities.SandboxRoot == "" {
			return fmt.Errorf("config.capabilities.sandbox_root is required for local execution")
		}
	case "hosted":
	default:
		return fmt.Errorf("config.capabilities.execution_mode must be local or hosted")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("config.logging.format must be json or console")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("config.tracing.sample_rate must be within [0,1]")
	}
	seen := map[string]bool{}
	for _, h := range c.Webhooks {
		if h.ID == "" || h.URL == "" {
			return fmt.Errorf("webhook entries need id and url")
		}
		if seen[h.ID] {
			return fmt.Errorf("duplicate webhook id %s", h.ID)
		}
		seen[h.ID] = true
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config from raw YAML bytes over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1
  jwt_secret_env: AGENTLINE_JWT_SECRET

store:
  driver: sqlite
  mongo:
    uri: ""
    database: agentline

llm:
  provider: anthropic
  model: claude-sonnet-4-20250514
  base_url: https://api.anthropic.com
  api_key_env: ANTHROPIC_API_KEY
  max_tokens: 4096
  timeout: 55s

pricing:
  claude-sonnet-4-20250514:
    input: 3.0
    output: 15.0
    cache_read: 0.3
    cache_write: 3.75
  gemini-2.5-flash:
    input: 0.3
    output: 2.5
    cache_read: 0.075
    cache_write: 0.3

capabilities:
  execution_mode: hosted
  sandbox_root: ""

cache:
  redis_addr: ""
  snapshot_ttl: 30m

logging:
  level: info
  format: json

tracing:
  enabled: false
  otlp_endpoint: localhost:4318
  sample_rate: 1.0

webhooks: []
`
