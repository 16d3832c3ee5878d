// Package config loads the executor's YAML configuration: the registered
// agent types, store and event-bus locations, and the driver's behavior
// flags.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/planexec/executor/internal/agent"
)

// Config is the top-level executor configuration document.
type Config struct {
	ListenAddr string             `yaml:"listen_addr"`
	DBPath     string             `yaml:"db_path"`
	AppID      string             `yaml:"app_id"`
	Agents     []agent.TypeConfig `yaml:"agents"`
	EventBus   EventBusConfig     `yaml:"event_bus"`
	Driver     DriverConfig       `yaml:"driver"`
	Recovery   RecoveryConfig     `yaml:"recovery"`
}

// EventBusConfig configures the embedded NATS server.
type EventBusConfig struct {
	Port          int  `yaml:"port"`
	WebSocketPort int  `yaml:"websocket_port"`
	JetStream     bool `yaml:"jetstream"`
	DataDir       string `yaml:"data_dir"`
}

// DriverConfig maps onto executor.Flags, expressed as YAML-friendly durations.
type DriverConfig struct {
	EnableEchoStrip          bool          `yaml:"enable_echo_strip"`
	SubprocessTimeoutSeconds int           `yaml:"subprocess_timeout_seconds"`
	EvaluationGraceSeconds   int           `yaml:"evaluation_grace_seconds"`
}

// SubprocessTimeout returns the configured timeout as a time.Duration.
func (d DriverConfig) SubprocessTimeout() time.Duration {
	return time.Duration(d.SubprocessTimeoutSeconds) * time.Second
}

// EvaluationGrace returns the configured grace period as a time.Duration.
func (d DriverConfig) EvaluationGrace() time.Duration {
	return time.Duration(d.EvaluationGraceSeconds) * time.Second
}

// RecoveryConfig bounds the startup recovery pass.
type RecoveryConfig struct {
	AbsoluteDeadlineMinutes int `yaml:"absolute_deadline_minutes"`
	PollIntervalSeconds     int `yaml:"poll_interval_seconds"`
}

// AbsoluteDeadline returns the configured deadline as a time.Duration,
// defaulting to 45 minutes per the design note.
func (r RecoveryConfig) AbsoluteDeadline() time.Duration {
	if r.AbsoluteDeadlineMinutes <= 0 {
		return 45 * time.Minute
	}
	return time.Duration(r.AbsoluteDeadlineMinutes) * time.Minute
}

// PollInterval returns the recovery monitor loop's poll cadence.
func (r RecoveryConfig) PollInterval() time.Duration {
	if r.PollIntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(r.PollIntervalSeconds) * time.Second
}

// Load reads and parses a YAML config file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.DBPath == "" {
		c.DBPath = "planexec.db"
	}
	return &c, nil
}

// ValidateAgentTypes checks that every agent type in requiredTypes (the
// types named by stored blueprints and nodes) resolves in the built registry, failing fast before recovery runs
// rather than discovering an unregistered type mid-blueprint.
func ValidateAgentTypes(registry *agent.Registry, requiredTypes []string) error {
	for _, t := range requiredTypes {
		if t == "" {
			continue
		}
		if !registry.Has(t) {
			return fmt.Errorf("config: agent type %q referenced but not registered", t)
		}
	}
	return nil
}
