// Package config provides configuration management for conductor
package config

import (
	"slices"
	"time"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal:
		return true
	default:
		return false
	}
}

// Config represents the complete conductor configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// Actor runtime configuration
	Actor ActorConfig `yaml:"actor" json:"actor"`

	// Workflow run by the application
	Workflow WorkflowConfig `yaml:"workflow" json:"workflow"`

	// Monitoring configuration
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`

	// TCP ingress for workflow requests
	Ingress IngressConfig `yaml:"ingress" json:"ingress"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name"`

	// Application version
	Version string `yaml:"version" json:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment"`

	// Debug mode
	Debug bool `yaml:"debug" json:"debug"`

	// Application metadata
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (json, console)
	Format string `yaml:"format" json:"format"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Enable colored level names with the console format
	Color bool `yaml:"color" json:"color"`

	// Fields added to every log entry
	Fields map[string]string `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// ActorConfig contains actor runtime defaults
type ActorConfig struct {
	// Default mailbox limit for user messages, 0 for unbounded
	MailboxLimit int `yaml:"mailbox_limit" json:"mailbox_limit"`

	// What a full mailbox does (reject, drop_oldest)
	Overflow string `yaml:"overflow" json:"overflow"`

	// Per-message processing deadline, 0 for none
	ProcessTimeout time.Duration `yaml:"process_timeout" json:"process_timeout"`

	// How long shutdown waits before force-stopping actors
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// WorkflowConfig describes the workflow and the agents serving it
type WorkflowConfig struct {
	// Agent names in routing order
	Steps []string `yaml:"steps" json:"steps"`

	// Agents spawned and supervised by the orchestrator
	Agents []AgentConfig `yaml:"agents" json:"agents"`

	// What happens to messages after the last step (reject, drop)
	Overrun string `yaml:"overrun" json:"overrun"`

	// Failure handling for agents
	Supervisor SupervisorConfig `yaml:"supervisor" json:"supervisor"`
}

// AgentConfig describes one worker agent
type AgentConfig struct {
	// Registry name, referenced by workflow steps
	Name string `yaml:"name" json:"name"`

	// Built-in processor kind
	Processor string `yaml:"processor" json:"processor"`

	// Mailbox overrides; zero values use the actor defaults
	MailboxLimit   int           `yaml:"mailbox_limit,omitempty" json:"mailbox_limit,omitempty"`
	Overflow       string        `yaml:"overflow,omitempty" json:"overflow,omitempty"`
	ProcessTimeout time.Duration `yaml:"process_timeout,omitempty" json:"process_timeout,omitempty"`
}

// SupervisorConfig contains agent failure handling settings
type SupervisorConfig struct {
	// Strategy (restart, escalate, halt)
	Strategy string `yaml:"strategy" json:"strategy"`

	// Maximum restarts of one agent within Window
	MaxRestarts int `yaml:"max_restarts" json:"max_restarts"`

	// Restart counting window, 0 for the whole run
	Window time.Duration `yaml:"window" json:"window"`
}

// MonitorConfig contains monitoring configuration
type MonitorConfig struct {
	// Enable monitoring
	Enabled bool `yaml:"enabled" json:"enabled"`

	// HTTP server for metrics
	HTTP HTTPMonitorConfig `yaml:"http" json:"http"`
}

// HTTPMonitorConfig contains HTTP monitoring server settings
type HTTPMonitorConfig struct {
	// Enable HTTP monitoring server
	Enabled bool `yaml:"enabled" json:"enabled"`

	// HTTP server address
	Address string `yaml:"address" json:"address"`

	// HTTP server port
	Port int `yaml:"port" json:"port"`

	// Metrics endpoint path
	MetricsPath string `yaml:"metrics_path" json:"metrics_path"`

	// Health endpoint path
	HealthPath string `yaml:"health_path" json:"health_path"`
}

// IngressConfig contains the TCP line server settings. Each request line is
// run through the workflow and answered with one reply line.
type IngressConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
	Port    int    `yaml:"port" json:"port"`

	// Maximum concurrent connections, 0 for no limit
	MaxConnections int `yaml:"max_connections" json:"max_connections"`

	// Maximum request line length in bytes
	MaxLineSize int `yaml:"max_line_size" json:"max_line_size"`

	// Idle connection timeout and reply write timeout
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// Deadline for one workflow run, 0 for none
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "conductor",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "console",
			Output: "stderr",
			Color:  true,
		},
		Actor: ActorConfig{
			MailboxLimit:    0,
			Overflow:        "reject",
			ProcessTimeout:  0,
			ShutdownTimeout: 10 * time.Second,
		},
		Workflow: WorkflowConfig{
			Steps: []string{"trim", "upper"},
			Agents: []AgentConfig{
				{Name: "trim", Processor: "trim"},
				{Name: "upper", Processor: "upper"},
			},
			Overrun: "reject",
			Supervisor: SupervisorConfig{
				Strategy:    "restart",
				MaxRestarts: 3,
				Window:      time.Minute,
			},
		},
		Monitor: MonitorConfig{
			Enabled: false,
			HTTP: HTTPMonitorConfig{
				Enabled:     true,
				Address:     "127.0.0.1",
				Port:        9090,
				MetricsPath: "/metrics",
				HealthPath:  "/health",
			},
		},
		Ingress: IngressConfig{
			Enabled:        false,
			Address:        "127.0.0.1",
			Port:           7070,
			MaxConnections: 64,
			MaxLineSize:    64 * 1024,
			ReadTimeout:    5 * time.Minute,
			WriteTimeout:   10 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate app config
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	// Validate log config
	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}
	switch c.Log.Format {
	case "", "json", "console", "text":
	default:
		return ErrInvalidLogFormat
	}

	// Validate actor config
	if c.Actor.MailboxLimit < 0 {
		return ErrInvalidMailboxLimit
	}
	if !validOverflow(c.Actor.Overflow) {
		return ErrInvalidOverflow
	}
	if c.Actor.ProcessTimeout < 0 || c.Actor.ShutdownTimeout < 0 {
		return ErrInvalidTimeout
	}

	if err := c.Workflow.Validate(); err != nil {
		return err
	}

	// Validate monitor config
	if c.Monitor.Enabled && c.Monitor.HTTP.Enabled {
		if c.Monitor.HTTP.Port < 0 || c.Monitor.HTTP.Port > 65535 {
			return ErrInvalidPort
		}
	}

	// Validate ingress config
	if c.Ingress.Enabled {
		if c.Ingress.Port < 0 || c.Ingress.Port > 65535 {
			return ErrInvalidPort
		}
		if c.Ingress.MaxConnections < 0 || c.Ingress.MaxLineSize < 0 {
			return ErrInvalidIngress
		}
		if c.Ingress.ReadTimeout < 0 || c.Ingress.WriteTimeout < 0 || c.Ingress.RequestTimeout < 0 {
			return ErrInvalidTimeout
		}
	}

	return nil
}

// Validate checks the workflow and its agents
func (w *WorkflowConfig) Validate() error {
	if len(w.Steps) == 0 {
		return ErrEmptyWorkflow
	}

	agents := make(map[string]bool, len(w.Agents))
	for _, a := range w.Agents {
		if a.Name == "" || a.Processor == "" {
			return ErrInvalidAgent
		}
		if agents[a.Name] {
			return ErrDuplicateAgent
		}
		if a.MailboxLimit < 0 || a.ProcessTimeout < 0 || !validOverflow(a.Overflow) {
			return ErrInvalidAgent
		}
		agents[a.Name] = true
	}

	for _, step := range w.Steps {
		if step == "" || !agents[step] {
			return ErrUnknownStepAgent
		}
	}

	switch w.Overrun {
	case "", "reject", "drop":
	default:
		return ErrInvalidOverrun
	}

	switch w.Supervisor.Strategy {
	case "", "restart", "escalate", "halt":
	default:
		return ErrInvalidStrategy
	}
	if w.Supervisor.MaxRestarts < 0 || w.Supervisor.Window < 0 {
		return ErrInvalidStrategy
	}

	return nil
}

// Agent returns the agent named name
func (w *WorkflowConfig) Agent(name string) (AgentConfig, bool) {
	i := slices.IndexFunc(w.Agents, func(a AgentConfig) bool { return a.Name == name })
	if i < 0 {
		return AgentConfig{}, false
	}
	return w.Agents[i], true
}

func validOverflow(s string) bool {
	switch s {
	case "", "reject", "drop_oldest":
		return true
	default:
		return false
	}
}

// clone returns a copy that shares no slices or maps with c
func (c *Config) clone() *Config {
	out := *c
	out.App.Metadata = cloneMap(c.App.Metadata)
	out.Log.Fields = cloneMap(c.Log.Fields)
	out.Workflow.Steps = slices.Clone(c.Workflow.Steps)
	out.Workflow.Agents = slices.Clone(c.Workflow.Agents)
	return &out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// IsDebugEnabled returns true if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == EnvDevelopment
}
