package config

import (
	"strings"
	"testing"
)

const sampleConfig = `
backends:
  fastchat:
    url: "http://127.0.0.1:8101"
    dialect: chat-completions
    specialties: [conversation, greetings]
    context_window: 16384
    speed: fast
  scholar:
    url: "http://127.0.0.1:8103"
    dialect: messages
    specialties: [research, complex]
    context_window: 200000
    speed: slow
    premium: true
default_backend: fastchat
logging:
  level: info
  capture_bodies: true
  max_body_bytes: 32768
router:
  enabled: true
  classifier_backend: fastchat
archive:
  path: test.db
  store_queries: true
  store_responses: false
  retention_days: 7
`

func TestParse_Valid(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(cfg.Backends) != 2 {
		t.Fatalf("expected 2 backends, got %d", len(cfg.Backends))
	}
	if cfg.DefaultBackend != "fastchat" {
		t.Errorf("DefaultBackend = %q", cfg.DefaultBackend)
	}
	if !cfg.Backends["scholar"].Premium {
		t.Error("scholar should be premium")
	}
	if cfg.Logging.MaxBodyBytes != 32768 {
		t.Errorf("MaxBodyBytes = %d", cfg.Logging.MaxBodyBytes)
	}
	if cfg.Archive.RetentionDays != 7 {
		t.Errorf("RetentionDays = %d", cfg.Archive.RetentionDays)
	}
	// Defaults fill in the rest
	if cfg.Router.HistoryFile != "router_history.json" {
		t.Errorf("HistoryFile default = %q", cfg.Router.HistoryFile)
	}
	if cfg.Archive.MaxDocuments != 100000 {
		t.Errorf("MaxDocuments default = %d", cfg.Archive.MaxDocuments)
	}
}

func TestParse_MissingDefaultBackend(t *testing.T) {
	bad := strings.Replace(sampleConfig, "default_backend: fastchat", "default_backend: nosuch", 1)
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("Parse() should reject unknown default_backend")
	}
}

func TestParse_UnknownDialect(t *testing.T) {
	bad := strings.Replace(sampleConfig, "dialect: messages", "dialect: carrier-pigeon", 1)
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("Parse() should reject unknown dialect")
	}
}

func TestParse_TwoPremiums(t *testing.T) {
	bad := strings.Replace(sampleConfig, "speed: fast", "speed: fast\n    premium: true", 1)
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("Parse() should reject two premium backends")
	}
}
