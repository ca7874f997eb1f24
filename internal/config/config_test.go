package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/communehq/callcore/internal/auth"
)

func validConfig() Config {
	return Config{
		SignalingURL:                  "wss://signal.example.com/ws",
		UserID:                        "user-1",
		AuthMode:                      auth.ModeNone,
		PingInterval:                  20 * time.Second,
		IdleTimeout:                   60 * time.Second,
		MaxSignalingMessageBytes:      64 * 1024,
		MaxSignalingMessagesPerSecond: 50,
		LogFormat:                     LogFormatText,
		LogLevel:                      "info",
		ShutdownTimeout:               15 * time.Second,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing signaling url", func(c *Config) { c.SignalingURL = "" }},
		{"http signaling url", func(c *Config) { c.SignalingURL = "http://signal.example.com" }},
		{"missing user id", func(c *Config) { c.UserID = "" }},
		{"api key mode without key", func(c *Config) { c.AuthMode = auth.ModeAPIKey }},
		{"jwt mode without secret", func(c *Config) { c.AuthMode = auth.ModeJWT }},
		{"unknown auth mode", func(c *Config) { c.AuthMode = "oauth" }},
		{"negative ring timeout", func(c *Config) { c.RingTimeout = -time.Second }},
		{"ping >= idle", func(c *Config) { c.PingInterval = c.IdleTimeout }},
		{"zero message cap", func(c *Config) { c.MaxSignalingMessageBytes = 0 }},
		{"zero message rate", func(c *Config) { c.MaxSignalingMessagesPerSecond = 0 }},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"turn urls without creds", func(c *Config) { c.TURNURLs = "turn:turn.example.com:3478" }},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestValidateAcceptsJWTMode(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.AuthMode = auth.ModeJWT
	cfg.JWTSecret = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tc := range tests {
		got, err := ParseLogLevel(tc.raw)
		if err != nil {
			t.Fatalf("ParseLogLevel(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseLogLevel(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
	if _, err := ParseLogLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
