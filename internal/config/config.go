// Package config handles Prospect configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/prospect/config.yaml, /etc/prospect/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "prospect", "config.yaml"))
	}

	paths = append(paths, "/etc/prospect/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Prospect configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Database DatabaseConfig `yaml:"database"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Whisper  WhisperConfig  `yaml:"whisper"`
	TTS      TTSConfig      `yaml:"tts"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Email    EmailConfig    `yaml:"email"`
	Report   ReportConfig   `yaml:"report"`
	API      APIConfig      `yaml:"api"`
	LogLevel string         `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// DatabaseConfig defines the SQLite persistence settings.
type DatabaseConfig struct {
	// Path is the SQLite database file. Empty selects an in-memory
	// store, which loses all sessions on restart.
	Path string `yaml:"path"`
}

// OpenAIConfig defines the language-model API settings.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`    // Default: gpt-4
	BaseURL string `yaml:"base_url"` // Override for proxies or compatible servers
}

// WhisperConfig defines the self-hosted transcription fallback.
// When openai.api_key is set, the OpenAI Whisper API is preferred and
// this endpoint is only used when the key is absent.
type WhisperConfig struct {
	URL   string `yaml:"url"`   // e.g. http://localhost:9000/asr
	Model string `yaml:"model"` // Default: base
}

// TTSConfig defines the Coqui text-to-speech service.
type TTSConfig struct {
	URL   string `yaml:"url"`   // e.g. http://localhost:5002/api/tts
	Voice string `yaml:"voice"` // Default: en_0
}

// MQTTConfig defines the optional completion-event publisher.
// When enabled, Prospect publishes session lifecycle events to the
// broker for downstream automation (CRM import, notifications).
type MQTTConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Broker     string `yaml:"broker"` // mqtt://, mqtts:// or ssl:// URL
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DeviceName string `yaml:"device_name"` // Topic segment; default "prospect"
}

// EmailConfig defines report delivery by email.
type EmailConfig struct {
	SMTP SMTPConfig `yaml:"smtp"`
	// From is the sender address for report emails ("Name <addr@host>").
	From string `yaml:"from"`
}

// SMTPConfig holds SMTP server connection settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"` // 587 with starttls, 465 without
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	StartTLS bool   `yaml:"starttls"`
}

// ReportConfig defines report presentation settings.
type ReportConfig struct {
	// BaseURL is the externally reachable base used to build report
	// links (QR codes, email footers), e.g. "https://intake.example.com".
	BaseURL string `yaml:"base_url"`
}

// APIConfig defines API access control.
type APIConfig struct {
	// AdminTokenHash is a bcrypt hash of the bearer token required by
	// admin endpoints (stats, report email). Empty disables the check.
	// Generate with: htpasswd -bnBC 10 "" <token> | tr -d ':\n'
	AdminTokenHash string `yaml:"admin_token_hash"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 3001},
		OpenAI: OpenAIConfig{Model: "gpt-4"},
		Whisper: WhisperConfig{
			URL:   "http://localhost:9000/asr",
			Model: "base",
		},
		TTS: TTSConfig{
			URL:   "http://localhost:5002/api/tts",
			Voice: "en_0",
		},
		MQTT: MQTTConfig{DeviceName: "prospect"},
	}
}
