package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"scriptdesk/internal/status"
)

// Config models scriptdesk.yml.
type Config struct {
	API struct {
		BaseURL           string        `yaml:"base_url"`
		Timeout           time.Duration `yaml:"timeout"`
		RequestsPerSecond float64       `yaml:"requests_per_second"`
		Burst             int           `yaml:"burst"`
	} `yaml:"api"`
	Statuses struct {
		Mapping string `yaml:"mapping"`
		Strict  bool   `yaml:"strict"`
	} `yaml:"statuses"`
	Projector struct {
		RefreshConcurrency int           `yaml:"refresh_concurrency"`
		PollInterval       time.Duration `yaml:"poll_interval"`
	} `yaml:"projector"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Enabled *bool         `yaml:"enabled"`
	Events  []string      `yaml:"events"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
}

// Active reports whether the hook should receive deliveries.
func (w WebhookConfig) Active() bool {
	return w.Enabled == nil || *w.Enabled
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sd config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
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
	if c.API.BaseURL == "" {
		return fmt.Errorf("config.api.base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config.api.base_url must be an absolute http(s) URL")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("config.api.timeout must be positive")
	}
	if c.API.RequestsPerSecond < 0 {
		return fmt.Errorf("config.api.requests_per_second must not be negative")
	}
	if c.API.RequestsPerSecond > 0 && c.API.Burst < 1 {
		return fmt.Errorf("config.api.burst must be at least 1 when rate limiting")
	}
	if _, err := status.ByVersion(c.Statuses.Mapping); err != nil {
		return fmt.Errorf("config.statuses.mapping: %w", err)
	}
	if c.Projector.RefreshConcurrency < 1 {
		return fmt.Errorf("config.projector.refresh_concurrency must be at least 1")
	}
	if c.Projector.PollInterval < time.Second {
		return fmt.Errorf("config.projector.poll_interval must be at least 1s")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.Timeout < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
		for _, evt := range hook.Events {
			if evt == "" {
				return fmt.Errorf("webhook %d has empty event type", i)
			}
		}
	}
	return nil
}

// StatusMapping resolves the configured wire mapping table.
func (c *Config) StatusMapping() *status.Mapping {
	m, err := status.ByVersion(c.Statuses.Mapping)
	if err != nil {
		return status.V2
	}
	return m
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "scriptdesk.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(baseURL string) string {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return fmt.Sprintf(defaultTemplate, baseURL)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(GenerateDefault("")), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep
// their defaults.
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

const defaultBaseURL = "http://localhost:5050"

const defaultTemplate = `api:
  base_url: %s
  timeout: 10s
  requests_per_second: 10
  burst: 5

statuses:
  # v1: english slugs, v2: backend enum constants, v1+v2: accept both
  mapping: v2
  # strict decoding fails on unmapped wire values; disable for demos only
  strict: true

projector:
  refresh_concurrency: 4
  poll_interval: 15s

webhooks: []
`
