package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/planning-poker/planpoker/internal/poker"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Transport TransportConfig `yaml:"transport"`
	Mock      MockConfig      `yaml:"mock"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type SessionConfig struct {
	DisconnectPolicy poker.DisconnectPolicy `yaml:"disconnect_policy"`
	AutoEndVote      bool                   `yaml:"auto_end_vote"`
}

type BroadcastConfig struct {
	// Throttle coalesces bursts of changes into a single push. Zero pushes
	// every change immediately.
	Throttle time.Duration `yaml:"throttle"`
	// ResyncInterval re-sends the latest snapshot to everyone. Zero disables it.
	ResyncInterval time.Duration `yaml:"resync_interval"`
	MaxConnections int           `yaml:"max_connections"`
	SendBuffer     int           `yaml:"send_buffer"`
}

type TransportConfig struct {
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// MockConfig controls the simulated voters started with -mock.
type MockConfig struct {
	Voters    int           `yaml:"voters"`
	ThinkTime time.Duration `yaml:"think_time"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 40080,
			Host: "127.0.0.1",
		},
		Session: SessionConfig{
			DisconnectPolicy: poker.DisconnectMark,
			AutoEndVote:      true,
		},
		Broadcast: BroadcastConfig{
			Throttle:       50 * time.Millisecond,
			ResyncInterval: 30 * time.Second,
			MaxConnections: 256,
			SendBuffer:     32,
		},
		Transport: TransportConfig{
			WriteTimeout: 10 * time.Second,
			PongTimeout:  60 * time.Second,
			PingInterval: 25 * time.Second,
		},
		Mock: MockConfig{
			Voters:    3,
			ThinkTime: 2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults when path does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// LoadDotEnv loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from PLANPOKER_* environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("PLANPOKER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := getenv("PLANPOKER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PLANPOKER_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := getenv("PLANPOKER_DISCONNECT_POLICY"); v != "" {
		c.Session.DisconnectPolicy = poker.DisconnectPolicy(v)
	}
	if v := getenv("PLANPOKER_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return c.Validate()
}

func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if !c.Session.DisconnectPolicy.Valid() {
		return fmt.Errorf("session.disconnect_policy %q must be %q or %q",
			c.Session.DisconnectPolicy, poker.DisconnectMark, poker.DisconnectRemove)
	}
	if c.Broadcast.Throttle < 0 || c.Broadcast.ResyncInterval < 0 {
		return errors.New("broadcast intervals must not be negative")
	}
	if c.Broadcast.SendBuffer < 1 {
		return fmt.Errorf("broadcast.send_buffer %d must be at least 1", c.Broadcast.SendBuffer)
	}
	if c.Transport.PingInterval <= 0 || c.Transport.PongTimeout <= c.Transport.PingInterval {
		return errors.New("transport.pong_timeout must exceed a positive transport.ping_interval")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SessionOptions maps the session section onto poker.Options.
func (c *Config) SessionOptions() poker.Options {
	return poker.Options{
		DisconnectPolicy: c.Session.DisconnectPolicy,
		AutoEndVote:      c.Session.AutoEndVote,
	}
}

func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// NewLogger builds the process logger described by the log section.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
