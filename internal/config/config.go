// Package config holds the TeleClaw configuration surface: one JSON file
// shared by the serve and run subcommands, with defaults that work for a
// local bring-up.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/clawinfra/teleclaw/internal/policy"
)

// Config holds all TeleClaw configuration.
type Config struct {
	// Server settings (inference side).
	Server ServerConfig `json:"server"`

	// Client settings (control-loop side).
	Client ClientConfig `json:"client"`

	// Policy served by the inference server.
	Policy policy.Config `json:"policy"`

	// Telemetry journal settings.
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`

	// Optional MQTT status publishing.
	Monitor MonitorConfig `json:"monitor,omitempty"`

	LogLevel string `json:"logLevel"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// ResetAtStartup resets the policy once before serving, when the
	// policy supports reset. The serving lifetime is otherwise treated
	// as one continuous rollout.
	ResetAtStartup bool `json:"resetAtStartup"`
}

type ClientConfig struct {
	ServerHost string `json:"serverHost"`
	ServerPort int    `json:"serverPort"`

	// TimeoutMs bounds the wait for each reply attempt.
	TimeoutMs int `json:"timeoutMs"`
	// MaxRetries is the total number of send attempts per tick.
	MaxRetries int `json:"maxRetries"`
	// BackoffFactor is the base backoff in seconds; attempt k waits
	// factor * 2^(k-1) plus uniform jitter.
	BackoffFactor float64 `json:"backoffFactor"`

	// TextPrompt is attached to every request as the task instruction.
	TextPrompt string `json:"textPrompt,omitempty"`
	// RobotProfile points at the robot manifest. Client-side only; the
	// server never needs it.
	RobotProfile string `json:"robotProfile,omitempty"`
	// ControlHz overrides the profile's control rate when > 0.
	ControlHz float64 `json:"controlHz,omitempty"`
}

type TelemetryConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
	// RetentionHours bounds how long exchange rows are kept.
	RetentionHours int `json:"retentionHours"`
	// PruneSchedule is a cron expression for the retention job.
	PruneSchedule string `json:"pruneSchedule"`
}

type MonitorConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"brokerUrl"`
	Topic       string `json:"topic"`
	IntervalSec int    `json:"intervalSec"`
}

// Endpoint returns the host:port the client connects to.
func (c ClientConfig) Endpoint() string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(c.ServerPort))
}

// Addr returns the host:port the server binds.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           5555,
			ResetAtStartup: true,
		},
		Client: ClientConfig{
			ServerHost:    "localhost",
			ServerPort:    5555,
			TimeoutMs:     1000,
			MaxRetries:    3,
			BackoffFactor: 0.5,
			ControlHz:     30,
		},
		Policy: policy.Config{
			Type:         "echo",
			InputChannel: "agent_pos",
		},
		Telemetry: TelemetryConfig{
			Enabled:        true,
			DBPath:         "./data/telemetry.db",
			RetentionHours: 72,
			PruneSchedule:  "@hourly",
		},
		Monitor: MonitorConfig{
			Topic:       "teleclaw/status",
			IntervalSec: 10,
		},
		LogLevel: "info",
	}
}

// Load reads config from a JSON file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

// Validate checks ranges that would otherwise fail deep inside the stack.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: bad server port %d", c.Server.Port)
	}
	if c.Client.ServerPort <= 0 || c.Client.ServerPort > 65535 {
		return fmt.Errorf("config: bad client server port %d", c.Client.ServerPort)
	}
	if c.Client.TimeoutMs <= 0 {
		return fmt.Errorf("config: timeoutMs must be positive, got %d", c.Client.TimeoutMs)
	}
	if c.Client.MaxRetries <= 0 {
		return fmt.Errorf("config: maxRetries must be positive, got %d", c.Client.MaxRetries)
	}
	if c.Client.BackoffFactor < 0 {
		return fmt.Errorf("config: negative backoffFactor %v", c.Client.BackoffFactor)
	}
	if c.Monitor.Enabled && c.Monitor.BrokerURL == "" {
		return fmt.Errorf("config: monitor enabled without brokerUrl")
	}
	return nil
}
