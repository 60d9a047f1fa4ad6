// Package config loads and validates the DeployForge application
// configuration from YAML, with hot reload of the tool server list.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/deployforge/deployforge/pkg/telemetry"
)

// Config is the root application configuration.
type Config struct {
	// Service identifies this instance in logs, traces and metrics.
	Service ServiceConfig `yaml:"service" validate:"required"`

	// Store configures the persistence layer.
	Store StoreConfig `yaml:"store" validate:"required"`

	// Credentials configures the master encryption passphrase source.
	Credentials CredentialsConfig `yaml:"credentials" validate:"required"`

	// Engine tunes the orchestrator work loop.
	Engine EngineConfig `yaml:"engine"`

	// Sandbox tunes credential connection testing.
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Logging configures structured log output.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing configures distributed tracing export.
	Tracing TracingConfig `yaml:"tracing"`

	// ToolServers lists remote tool servers by name. This section is hot
	// reloadable; see Watcher.
	ToolServers []ToolServerConfig `yaml:"tool_servers" validate:"dive"`

	// Environments lists per-environment approval rules.
	Environments []EnvironmentConfig `yaml:"environments" validate:"dive"`

	// Users maps approver user ids to their roles, checked against an
	// environment's approver_roles.
	Users []UserConfig `yaml:"users" validate:"dive"`

	// Policy configures extra policy bundle directories.
	Policy PolicyConfig `yaml:"policy"`
}

// ServiceConfig identifies the running instance.
type ServiceConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" validate:"required"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	// Path is the database file path, or ":memory:" for an in-memory store.
	Path string `yaml:"path" validate:"required"`

	// MaxOpenConns and MaxIdleConns tune the connection pool.
	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`

	// ConnMaxLifetime recycles pooled connections after this duration.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CredentialsConfig configures where the master passphrase comes from.
// Exactly one of PassphraseEnv or PassphraseFile must be set; the
// passphrase itself never appears in the config file.
type CredentialsConfig struct {
	// PassphraseEnv names an environment variable holding the passphrase.
	PassphraseEnv string `yaml:"passphrase_env"`

	// PassphraseFile is a file whose trimmed contents are the passphrase.
	PassphraseFile string `yaml:"passphrase_file"`
}

// EngineConfig tunes the orchestrator.
type EngineConfig struct {
	// HopCap bounds transitions committed per Process call.
	HopCap int `yaml:"hop_cap" validate:"omitempty,min=1"`

	// MonitorInterval is the resource health poll period.
	MonitorInterval time.Duration `yaml:"monitor_interval"`
}

// SandboxConfig tunes credential connection tests.
type SandboxConfig struct {
	// TestTimeout bounds a single connection test.
	TestTimeout time.Duration `yaml:"test_timeout"`

	// MemoryLimitPages caps WASM tester memory in 64KB pages.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`
}

// LoggingConfig mirrors the telemetry logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
	Output string `yaml:"output"`
}

// MetricsConfig mirrors the telemetry metrics settings.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address" validate:"required_if=Enabled true"`
	Path          string `yaml:"path"`
}

// TracingConfig mirrors the telemetry tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"min=0,max=1"`
	Insecure     bool    `yaml:"insecure"`
}

// ToolServerConfig describes one remote tool server.
type ToolServerConfig struct {
	// Name identifies the server to callers.
	Name string `yaml:"name" validate:"required"`

	// URL is the server endpoint. Placeholder URLs make the server
	// fallback-only.
	URL string `yaml:"url"`

	// Eager performs the protocol handshake at startup.
	Eager bool `yaml:"eager"`

	// HandshakeTimeout and CallTimeout override the client defaults.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
}

// EnvironmentConfig holds one environment's approval rule.
type EnvironmentConfig struct {
	// Name is the environment name ("staging", "production").
	Name string `yaml:"name" validate:"required"`

	// ApprovalRequired gates rollout on an approval round.
	ApprovalRequired bool `yaml:"approval_required"`

	// MinApprovals is the number of distinct approvers needed.
	MinApprovals int `yaml:"min_approvals" validate:"required_if=ApprovalRequired true,omitempty,min=1"`

	// ApproverRoles restricts who may decide; empty allows anyone.
	ApproverRoles []string `yaml:"approver_roles"`

	// ApprovalTimeout expires unanswered rounds. Zero means no expiry.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`
}

// UserConfig assigns roles to one user.
type UserConfig struct {
	// ID is the user id approvers pass on the command line.
	ID string `yaml:"id" validate:"required"`

	// Roles the user holds.
	Roles []string `yaml:"roles"`
}

// PolicyConfig configures extra policy sources.
type PolicyConfig struct {
	// Paths lists directories or files with .rego or .json policies.
	Paths []string `yaml:"paths"`

	// Watch reloads policies when the paths change.
	Watch bool `yaml:"watch"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "deployforge",
			Version:     "dev",
			Environment: "development",
		},
		Store: StoreConfig{
			Path:         "deployforge.db",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
		},
		Credentials: CredentialsConfig{
			PassphraseEnv: "DEPLOYFORGE_PASSPHRASE",
		},
		Engine: EngineConfig{
			HopCap:          25,
			MonitorInterval: 30 * time.Second,
		},
		Sandbox: SandboxConfig{
			TestTimeout:      30 * time.Second,
			MemoryLimitPages: 64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
			Path:          "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "stdout",
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Environments: []EnvironmentConfig{
			{Name: "production", ApprovalRequired: true, MinApprovals: 2},
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads, merges over defaults and validates a YAML config file.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for structural and semantic errors.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Credentials.PassphraseEnv == "" && c.Credentials.PassphraseFile == "" {
		return fmt.Errorf("credentials: passphrase_env or passphrase_file is required")
	}
	if c.Credentials.PassphraseEnv != "" && c.Credentials.PassphraseFile != "" {
		return fmt.Errorf("credentials: passphrase_env and passphrase_file are mutually exclusive")
	}

	seen := make(map[string]bool, len(c.ToolServers))
	for _, ts := range c.ToolServers {
		if seen[ts.Name] {
			return fmt.Errorf("tool_servers: duplicate server name %q", ts.Name)
		}
		seen[ts.Name] = true
	}

	envs := make(map[string]bool, len(c.Environments))
	for _, env := range c.Environments {
		if envs[env.Name] {
			return fmt.Errorf("environments: duplicate environment %q", env.Name)
		}
		envs[env.Name] = true
	}

	users := make(map[string]bool, len(c.Users))
	for _, u := range c.Users {
		if users[u.ID] {
			return fmt.Errorf("users: duplicate user %q", u.ID)
		}
		users[u.ID] = true
	}
	return nil
}

// RolesFor returns the roles configured for a user id, or nil for an
// unknown user.
func (c *Config) RolesFor(userID string) []string {
	for _, u := range c.Users {
		if u.ID == userID {
			return u.Roles
		}
	}
	return nil
}

// Passphrase resolves the master passphrase from the configured source.
func (c *CredentialsConfig) Passphrase() (string, error) {
	if c.PassphraseEnv != "" {
		p := os.Getenv(c.PassphraseEnv)
		if p == "" {
			return "", fmt.Errorf("environment variable %s is not set", c.PassphraseEnv)
		}
		return p, nil
	}
	data, err := os.ReadFile(c.PassphraseFile)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase file: %w", err)
	}
	p := strings.TrimSpace(string(data))
	if p == "" {
		return "", fmt.Errorf("passphrase file %s is empty", c.PassphraseFile)
	}
	return p, nil
}

// TelemetryConfig maps the flat settings onto the telemetry package's
// configuration.
func (c *Config) TelemetryConfig() *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceName = c.Service.Name
	tc.ServiceVersion = c.Service.Version
	tc.Environment = c.Service.Environment
	if c.Logging.Level != "" {
		tc.Logging.Level = c.Logging.Level
	}
	if c.Logging.Format != "" {
		tc.Logging.Format = c.Logging.Format
	}
	if c.Logging.Output != "" {
		tc.Logging.Output = c.Logging.Output
	}
	tc.Metrics.Enabled = c.Metrics.Enabled
	if c.Metrics.ListenAddress != "" {
		tc.Metrics.ListenAddress = c.Metrics.ListenAddress
	}
	if c.Metrics.Path != "" {
		tc.Metrics.Path = c.Metrics.Path
	}
	tc.Tracing.Enabled = c.Tracing.Enabled
	if c.Tracing.Exporter != "" {
		tc.Tracing.Exporter = c.Tracing.Exporter
	}
	tc.Tracing.Endpoint = c.Tracing.Endpoint
	tc.Tracing.SamplingRate = c.Tracing.SamplingRate
	tc.Tracing.Insecure = c.Tracing.Insecure
	return tc
}
