// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the FlowBuddy CLI configuration.
//
// Configuration is a YAML file, ~/.flowbuddy/config.yaml by default,
// with a small set of environment overrides for deployment. Every
// field has a working default; a missing file means defaults.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianFlow/services/flow_buddy/agent"
)

// Duration wraps time.Duration for YAML round-tripping in the usual
// "2m", "90s" notation.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root FlowBuddy configuration.
type Config struct {
	// Model selects and tunes the LLM provider.
	Model ModelConfig `yaml:"model"`

	// Session tunes the build loop ceilings and timeouts.
	Session SessionConfig `yaml:"session"`

	// Server configures the HTTP service for the serve command.
	Server ServerConfig `yaml:"server"`

	// Store configures local session record persistence.
	Store StoreConfig `yaml:"store"`

	// Catalog configures the node type catalog source.
	Catalog CatalogConfig `yaml:"catalog"`

	// Telemetry configures traces and metrics for the serve command.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Archive configures the optional GCS record archive.
	Archive ArchiveConfig `yaml:"archive"`

	// Logging configures structured log output.
	Logging LoggingConfig `yaml:"logging"`
}

// ModelConfig selects the LLM provider.
type ModelConfig struct {
	// Provider is "openai" or "ollama". OpenAI-compatible gateways use
	// "openai" with a BaseURL override.
	Provider string `yaml:"provider" validate:"required,oneof=openai ollama"`

	// Name is the model identifier, e.g. "gpt-4o-mini". Empty falls
	// back to the provider's environment default.
	Name string `yaml:"name"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// RequestsPerMinute paces OpenAI calls. Zero selects the provider
	// default. Ignored for Ollama.
	RequestsPerMinute int `yaml:"requests_per_minute,omitempty" validate:"gte=0"`
}

// SessionConfig tunes the build loop. Zero values select the agent
// package defaults.
type SessionConfig struct {
	MaxIterations       int      `yaml:"max_iterations" validate:"gte=0"`
	MaxFinalizeAttempts int      `yaml:"max_finalize_attempts" validate:"gte=0"`
	MaxTokensPerTurn    int      `yaml:"max_tokens_per_turn" validate:"gte=0"`
	Temperature         float32  `yaml:"temperature" validate:"gte=0,lte=2"`
	TurnTimeout         Duration `yaml:"turn_timeout,omitempty"`
	TotalTimeout        Duration `yaml:"total_timeout,omitempty"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	// Host is the bind address. Empty binds all interfaces.
	Host string `yaml:"host"`

	// Port is the API port.
	Port int `yaml:"port" validate:"gte=1,lte=65535"`

	// MetricsPort serves /metrics and /healthz separately from the API.
	// Zero disables the metrics listener.
	MetricsPort int `yaml:"metrics_port" validate:"gte=0,lte=65535"`

	// MaxConcurrentSessions caps simultaneously running builds.
	// Zero selects the loop default.
	MaxConcurrentSessions int `yaml:"max_concurrent_sessions" validate:"gte=0"`
}

// StoreConfig configures the local Badger record store.
type StoreConfig struct {
	// Path is the database directory. Supports ~ expansion.
	Path string `yaml:"path"`

	// InMemory keeps records in memory only, for tests and demos.
	InMemory bool `yaml:"in_memory"`
}

// CatalogConfig configures the node type catalog.
type CatalogConfig struct {
	// Path is a catalog YAML file. Empty uses the embedded catalog.
	Path string `yaml:"path,omitempty"`

	// Watch reloads the catalog file on change. Requires Path.
	Watch bool `yaml:"watch"`

	// Weaviate enables semantic node search through a Weaviate
	// deployment instead of the in-memory keyword index.
	Weaviate WeaviateConfig `yaml:"weaviate"`
}

// WeaviateConfig points at a Weaviate deployment.
type WeaviateConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host,omitempty"`
	Scheme  string `yaml:"scheme,omitempty" validate:"omitempty,oneof=http https"`
	Class   string `yaml:"class,omitempty"`
}

// TelemetryConfig configures traces and metrics.
type TelemetryConfig struct {
	// TraceExporter is "otlp", "stdout", or "none".
	TraceExporter string `yaml:"trace_exporter" validate:"oneof=otlp stdout none"`

	// MetricExporter is "prometheus", "stdout", or "none".
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`

	// OTLPEndpoint is the OTLP receiver for traces.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`

	// SampleRate is the trace sampling fraction, 0.0 to 1.0.
	SampleRate float64 `yaml:"sample_rate" validate:"gte=0,lte=1"`

	// Environment tags telemetry with the deployment environment.
	Environment string `yaml:"environment,omitempty"`
}

// ArchiveConfig configures the GCS session archive.
type ArchiveConfig struct {
	// Bucket is the GCS bucket. Empty disables archiving.
	Bucket string `yaml:"bucket,omitempty"`

	// Prefix is the object name prefix inside the bucket.
	Prefix string `yaml:"prefix,omitempty"`

	// CredentialsFile is a service account key path. Empty uses
	// application default credentials.
	CredentialsFile string `yaml:"credentials_file,omitempty"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level.
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Dir enables file logging to the directory. Supports ~ expansion.
	Dir string `yaml:"dir,omitempty"`

	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Provider: "openai",
		},
		Session: SessionConfig{
			MaxIterations:       agent.DefaultMaxIterations,
			MaxFinalizeAttempts: agent.DefaultMaxFinalizeAttempts,
			MaxTokensPerTurn:    4096,
			Temperature:         0.2,
			TurnTimeout:         Duration(2 * time.Minute),
			TotalTimeout:        Duration(15 * time.Minute),
		},
		Server: ServerConfig{
			Port:        8080,
			MetricsPort: 9090,
		},
		Store: StoreConfig{
			Path: "~/.flowbuddy/sessions",
		},
		Catalog: CatalogConfig{
			Weaviate: WeaviateConfig{
				Scheme: "http",
			},
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
			SampleRate:     1.0,
			Environment:    "development",
		},
		Archive: ArchiveConfig{
			Prefix: "flowbuddy/sessions",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// AgentConfig converts the session section to an agent.SessionConfig,
// filling zero fields from the agent defaults.
func (c *Config) AgentConfig() *agent.SessionConfig {
	cfg := agent.DefaultSessionConfig()
	if c.Session.MaxIterations > 0 {
		cfg.MaxIterations = c.Session.MaxIterations
	}
	if c.Session.MaxFinalizeAttempts > 0 {
		cfg.MaxFinalizeAttempts = c.Session.MaxFinalizeAttempts
	}
	if c.Session.MaxTokensPerTurn > 0 {
		cfg.MaxTokensPerTurn = c.Session.MaxTokensPerTurn
	}
	if c.Session.Temperature > 0 {
		cfg.Temperature = c.Session.Temperature
	}
	if c.Session.TurnTimeout > 0 {
		cfg.TurnTimeout = c.Session.TurnTimeout.Std()
	}
	if c.Session.TotalTimeout > 0 {
		cfg.TotalTimeout = c.Session.TotalTimeout.Std()
	}
	if c.Model.Name != "" {
		cfg.Model = c.Model.Name
	}
	return cfg
}
