package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("logging:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Agent.MaxIterations != 8 {
		t.Errorf("Agent.MaxIterations = %d, want 8", cfg.Agent.MaxIterations)
	}
	if cfg.Turn.Timeout != 300*time.Second {
		t.Errorf("Turn.Timeout = %v, want 300s", cfg.Turn.Timeout)
	}
	if cfg.Routing.CacheTTL != 60*time.Minute {
		t.Errorf("Routing.CacheTTL = %v, want 60m", cfg.Routing.CacheTTL)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("RELAY_TEST_TOKEN", "tok-123")
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	content := "channels:\n  telegram:\n    enabled: true\n    bot_token: ${RELAY_TEST_TOKEN}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Channels.Telegram.BotToken != "tok-123" {
		t.Errorf("BotToken = %q, want tok-123", cfg.Channels.Telegram.BotToken)
	}
}

func TestValidateRejectsBadStore(t *testing.T) {
	if _, err := Parse([]byte("sessions:\n  store: postgres\n")); err == nil {
		t.Fatal("expected error for unknown store backend")
	}
}

func TestValidateRejectsUnknownTier(t *testing.T) {
	if _, err := Parse([]byte("llm:\n  model_tiers:\n    turbo: openai/gpt-4o\n")); err == nil {
		t.Fatal("expected error for unknown model tier")
	}
}

func TestValidateTelegramNeedsToken(t *testing.T) {
	if _, err := Parse([]byte("channels:\n  telegram:\n    enabled: true\n")); err == nil {
		t.Fatal("expected error for enabled telegram without token")
	}
}
