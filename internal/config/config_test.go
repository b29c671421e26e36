package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
listen:
  port: 8088
database:
  path: /var/lib/prospect/prospect.db
openai:
  api_key: sk-test
  model: gpt-4o
mqtt:
  enabled: true
  broker: mqtt://broker.local:1883
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Listen.Port != 8088 {
		t.Errorf("port: got %d, want 8088", cfg.Listen.Port)
	}
	if cfg.Database.Path != "/var/lib/prospect/prospect.db" {
		t.Errorf("db path: got %q", cfg.Database.Path)
	}
	if cfg.OpenAI.Model != "gpt-4o" {
		t.Errorf("model: got %q", cfg.OpenAI.Model)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker != "mqtt://broker.local:1883" {
		t.Errorf("mqtt: got %+v", cfg.MQTT)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level: got %q", cfg.LogLevel)
	}
	// Defaults survive partial config.
	if cfg.Whisper.URL != "http://localhost:9000/asr" {
		t.Errorf("whisper default: got %q", cfg.Whisper.URL)
	}
	if cfg.MQTT.DeviceName != "prospect" {
		t.Errorf("mqtt device default: got %q", cfg.MQTT.DeviceName)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("PROSPECT_TEST_KEY", "sk-from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "openai:\n  api_key: ${PROSPECT_TEST_KEY}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-from-env" {
		t.Errorf("api key: got %q, want sk-from-env", cfg.OpenAI.APIKey)
	}
}

func TestFindConfigExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/prospect.yaml"); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{" debug ", slog.LevelDebug, false},
		{"trace", LevelTrace, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tc := range tests {
		got, err := ParseLogLevel(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseLogLevel(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLogLevel(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLogLevel(%q): got %v, want %v", tc.in, got, tc.want)
		}
	}
}
