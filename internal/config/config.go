// Package config loads the agent's configuration from the environment, with
// an optional .env file for development.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/communehq/callcore/internal/auth"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	// SignalingURL is the ws:// or wss:// endpoint of the signaling server.
	SignalingURL string `env:"CALLCORE_SIGNALING_URL"`

	// Identity advertised to peers.
	UserID      string `env:"CALLCORE_USER_ID"`
	DisplayName string `env:"CALLCORE_DISPLAY_NAME"`
	Avatar      string `env:"CALLCORE_AVATAR"`

	// Signaling auth handshake.
	AuthMode  auth.Mode `env:"AUTH_MODE" envDefault:"none"`
	APIKey    string    `env:"API_KEY"`
	JWTSecret string    `env:"JWT_SECRET"`

	// ICE configuration. ICEServersJSON takes precedence over the
	// convenience STUN/TURN variables.
	ICEServersJSON string `env:"CALLCORE_ICE_SERVERS_JSON"`
	STUNURLs       string `env:"CALLCORE_STUN_URLS"`
	TURNURLs       string `env:"CALLCORE_TURN_URLS"`
	TURNUsername   string `env:"CALLCORE_TURN_USERNAME"`
	TURNCredential string `env:"CALLCORE_TURN_CREDENTIAL"`

	// Call timers. Zero disables the timer.
	RingTimeout    time.Duration `env:"CALLCORE_RING_TIMEOUT" envDefault:"0"`
	ConnectTimeout time.Duration `env:"CALLCORE_CONNECT_TIMEOUT" envDefault:"0"`

	// Signaling connection keepalive and hardening.
	PingInterval                  time.Duration `env:"SIGNALING_PING_INTERVAL" envDefault:"20s"`
	IdleTimeout                   time.Duration `env:"SIGNALING_IDLE_TIMEOUT" envDefault:"60s"`
	MaxSignalingMessageBytes      int64         `env:"MAX_SIGNALING_MESSAGE_BYTES" envDefault:"65536"`
	MaxSignalingMessagesPerSecond int           `env:"MAX_SIGNALING_MESSAGES_PER_SECOND" envDefault:"50"`

	// Durable call log sinks. Empty MessagingURL disables the messaging
	// writer; empty HistoryPath disables the local history.
	MessagingURL   string `env:"CALLCORE_MESSAGING_URL"`
	MessagingToken string `env:"CALLCORE_MESSAGING_TOKEN"`
	HistoryPath    string `env:"CALLCORE_HISTORY_PATH"`

	// MetricsAddr enables the debug metrics endpoint when non-empty.
	MetricsAddr string `env:"CALLCORE_METRICS_ADDR"`

	LogFormat LogFormat `env:"CALLCORE_LOG_FORMAT" envDefault:"text"`
	LogLevel  string    `env:"CALLCORE_LOG_LEVEL" envDefault:"info"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Load reads an optional .env file (ENV_FILE overrides the path), parses the
// environment, and validates the result.
func Load() (Config, error) {
	if envfile := os.Getenv("ENV_FILE"); envfile != "" {
		if err := godotenv.Load(envfile); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", envfile, err)
		}
	} else {
		// A missing default .env file is fine.
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.SignalingURL) == "" {
		return fmt.Errorf("CALLCORE_SIGNALING_URL must be set")
	}
	u, err := url.Parse(c.SignalingURL)
	if err != nil {
		return fmt.Errorf("invalid CALLCORE_SIGNALING_URL %q: %w", c.SignalingURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("CALLCORE_SIGNALING_URL must use ws or wss, got %q", u.Scheme)
	}
	if strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("CALLCORE_USER_ID must be set")
	}

	switch c.AuthMode {
	case auth.ModeNone:
	case auth.ModeAPIKey:
		if strings.TrimSpace(c.APIKey) == "" {
			return fmt.Errorf("API_KEY must be set when AUTH_MODE=%s", auth.ModeAPIKey)
		}
	case auth.ModeJWT:
		if strings.TrimSpace(c.JWTSecret) == "" {
			return fmt.Errorf("JWT_SECRET must be set when AUTH_MODE=%s", auth.ModeJWT)
		}
	default:
		return fmt.Errorf("unsupported AUTH_MODE %q", c.AuthMode)
	}

	if c.RingTimeout < 0 {
		return fmt.Errorf("CALLCORE_RING_TIMEOUT must be >= 0")
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("CALLCORE_CONNECT_TIMEOUT must be >= 0")
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("SIGNALING_PING_INTERVAL must be > 0")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("SIGNALING_IDLE_TIMEOUT must be > 0")
	}
	if c.PingInterval >= c.IdleTimeout {
		return fmt.Errorf("SIGNALING_PING_INTERVAL must be < SIGNALING_IDLE_TIMEOUT")
	}
	if c.MaxSignalingMessageBytes <= 0 {
		return fmt.Errorf("MAX_SIGNALING_MESSAGE_BYTES must be > 0")
	}
	if c.MaxSignalingMessagesPerSecond <= 0 {
		return fmt.Errorf("MAX_SIGNALING_MESSAGES_PER_SECOND must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be > 0")
	}

	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("unsupported CALLCORE_LOG_FORMAT %q", c.LogFormat)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}

	if _, err := c.ICEServers(); err != nil {
		return err
	}
	return nil
}

func ParseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported CALLCORE_LOG_LEVEL %q", raw)
	}
}

// Logger builds the process logger per the configured format and level.
func (c Config) Logger(w *os.File) *slog.Logger {
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
