package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != 3001 {
		t.Errorf("unexpected port: %d", cfg.Port)
	}
	if cfg.KBServiceURL != "http://localhost:8000" {
		t.Errorf("unexpected KB service URL: %s", cfg.KBServiceURL)
	}
	if cfg.RAGTimeout != 30*time.Second {
		t.Errorf("unexpected RAG timeout: %v", cfg.RAGTimeout)
	}
	if cfg.DuplicatePolicy != DuplicateSupersede {
		t.Errorf("unexpected duplicate policy: %s", cfg.DuplicatePolicy)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("unexpected allowed origins: %v", cfg.AllowedOrigins)
	}
	if cfg.MaxMessageSize != 65536 {
		t.Errorf("unexpected max message size: %d", cfg.MaxMessageSize)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("KB_SERVICE_URL", "http://kb.internal:8000")
	t.Setenv("RAG_TIMEOUT_MS", "5000")
	t.Setenv("WS_DUPLICATE_POLICY", "reject")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")

	cfg := Load()

	if cfg.Port != 9090 {
		t.Errorf("unexpected port: %d", cfg.Port)
	}
	if cfg.KBServiceURL != "http://kb.internal:8000" {
		t.Errorf("unexpected KB service URL: %s", cfg.KBServiceURL)
	}
	if cfg.RAGTimeout != 5*time.Second {
		t.Errorf("unexpected RAG timeout: %v", cfg.RAGTimeout)
	}
	if cfg.DuplicatePolicy != DuplicateReject {
		t.Errorf("unexpected duplicate policy: %s", cfg.DuplicatePolicy)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example.com" {
		t.Errorf("unexpected allowed origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoadIgnoresBadInt(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	cfg := Load()
	if cfg.Port != 3001 {
		t.Errorf("expected default port, got %d", cfg.Port)
	}
}
