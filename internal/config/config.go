// Package config loads the gateway's single YAML configuration document.
// Environment variables override the file where noted.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BackendConfig describes one upstream inference service.
type BackendConfig struct {
	URL           string   `yaml:"url"`
	Dialect       string   `yaml:"dialect"` // chat-completions | messages | responses
	Specialties   []string `yaml:"specialties"`
	ContextWindow int      `yaml:"context_window"`
	Speed         string   `yaml:"speed"` // fast | medium | slow
	Premium       bool     `yaml:"premium"`
}

// LoggingConfig controls body capture for the monitor.
type LoggingConfig struct {
	Level         string `yaml:"level"`
	CaptureBodies bool   `yaml:"capture_bodies"`
	MaxBodyBytes  int    `yaml:"max_body_bytes"`
}

// RouterConfig controls the smart router.
type RouterConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ClassifierBackend string `yaml:"classifier_backend"`
	HistoryFile       string `yaml:"history_file"`
}

// ArchiveConfig controls the persistent request archive.
type ArchiveConfig struct {
	Path           string `yaml:"path"`
	StoreQueries   bool   `yaml:"store_queries"`
	StoreResponses bool   `yaml:"store_responses"`
	RetentionDays  int    `yaml:"retention_days"`
	MaxDocuments   int    `yaml:"max_documents"`
}

// Config is the root configuration document.
type Config struct {
	Backends       map[string]BackendConfig `yaml:"backends"`
	DefaultBackend string                   `yaml:"default_backend"`
	Logging        LoggingConfig            `yaml:"logging"`
	Router         RouterConfig             `yaml:"router"`
	Archive        ArchiveConfig            `yaml:"archive"`
	SalvageEnabled bool                     `yaml:"salvage_enabled"`
}

// Load reads and validates the configuration document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxBodyBytes <= 0 {
		c.Logging.MaxBodyBytes = 64 * 1024
	}
	if c.Router.HistoryFile == "" {
		c.Router.HistoryFile = "router_history.json"
	}
	if c.Archive.Path == "" {
		c.Archive.Path = "llmproxy.db"
	}
	if c.Archive.RetentionDays <= 0 {
		c.Archive.RetentionDays = 30
	}
	if c.Archive.MaxDocuments <= 0 {
		c.Archive.MaxDocuments = 100000
	}
}

func (c *Config) validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("config: no backends declared")
	}
	if c.DefaultBackend == "" {
		return fmt.Errorf("config: default_backend is required")
	}
	if _, ok := c.Backends[c.DefaultBackend]; !ok {
		return fmt.Errorf("config: default_backend %q is not a declared backend", c.DefaultBackend)
	}
	premiums := 0
	for name, b := range c.Backends {
		if b.URL == "" {
			return fmt.Errorf("config: backend %q has no url", name)
		}
		switch b.Dialect {
		case "chat-completions", "messages", "responses":
		default:
			return fmt.Errorf("config: backend %q has unknown dialect %q", name, b.Dialect)
		}
		if b.Premium {
			premiums++
		}
	}
	if premiums > 1 {
		return fmt.Errorf("config: at most one backend may be premium, found %d", premiums)
	}
	if c.Router.ClassifierBackend != "" {
		if _, ok := c.Backends[c.Router.ClassifierBackend]; !ok {
			return fmt.Errorf("config: classifier_backend %q is not a declared backend", c.Router.ClassifierBackend)
		}
	}
	return nil
}

// Env knob names.
const (
	EnvConfigPath  = "LLMPROXY_CONFIG"
	EnvPort        = "PORT"
	EnvMetricsPort = "METRICS_PORT"
	EnvPremiumKey  = "LLMPROXY_PREMIUM_API_KEY"
)

// EnvOrDefault returns the value of an environment knob or fallback.
func EnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
