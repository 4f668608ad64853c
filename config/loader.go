// Package config provides configuration loading and parsing functionality
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
)

// Loader handles configuration loading from files and the environment
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// Default configuration, the base every file is decoded onto
	defaultConfig *Config
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	paths := []string{".", "./config", "./configs", "/etc/conductor"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".conductor"))
	}

	return &Loader{
		searchPaths:   paths,
		envPrefix:     "CONDUCTOR",
		defaultConfig: DefaultConfig(),
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig sets the default configuration
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

// Load loads configuration from filename, or discovers one when filename is
// empty. Environment overrides are applied and the result is validated.
func (l *Loader) Load(filename string) (*Config, error) {
	if filename == "" {
		return l.AutoLoad()
	}

	config, err := l.loadFromFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from file %s: %w", filename, err)
	}
	return l.finish(config)
}

// LoadFromFile loads configuration from a specific file
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	return l.Load(filename)
}

// LoadFromReader loads configuration from an io.Reader. Environment
// overrides are not applied.
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration data: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigValidateError, err)
	}
	return config, nil
}

// AutoLoad automatically discovers and loads configuration
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, err := l.findConfigFile()
	if errors.Is(err, ErrConfigFileNotFound) {
		// no file, defaults plus environment
		return l.finish(l.base())
	}
	if err != nil {
		return nil, err
	}

	config, err := l.loadFromFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", configFile, err)
	}
	return l.finish(config)
}

// finish applies environment overrides and validates
func (l *Loader) finish(config *Config) (*Config, error) {
	if err := l.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigValidateError, err)
	}
	return config, nil
}

func (l *Loader) base() *Config {
	if l.defaultConfig == nil {
		return DefaultConfig()
	}
	return l.defaultConfig.clone()
}

// findConfigFile searches for configuration files in search paths
func (l *Loader) findConfigFile() (string, error) {
	filenames := []string{
		"conductor.yaml", "conductor.yml",
		"config.yaml", "config.yml",
		"conductor.json", "config.json",
	}

	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if _, err := os.Stat(fullPath); err == nil {
				return fullPath, nil
			}
		}
	}

	return "", ErrConfigFileNotFound
}

func formatOf(filename string) (ConfigFormat, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unsupported config file format: %s", ErrConfigParseError, ext)
	}
}

// loadFromFile decodes filename onto the defaults
func (l *Loader) loadFromFile(filename string) (*Config, error) {
	format, err := formatOf(filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, filename)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.parseConfig(data, format)
}

// parseConfig decodes data over a copy of the default configuration, so
// fields missing from data keep their defaults
func (l *Loader) parseConfig(data []byte, format ConfigFormat) (*Config, error) {
	config := l.base()

	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: YAML: %w", ErrConfigParseError, err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(config); err != nil {
			return nil, fmt.Errorf("%w: JSON: %w", ErrConfigParseError, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported config format: %s", ErrConfigParseError, format)
	}

	return config, nil
}

// loadFromEnv loads configuration overrides from environment variables
func (l *Loader) loadFromEnv(config *Config) error {
	env := func(key string) string {
		return os.Getenv(l.envPrefix + "_" + key)
	}

	// App configuration
	if val := env("APP_NAME"); val != "" {
		config.App.Name = val
	}
	if val := env("APP_ENVIRONMENT"); val != "" {
		config.App.Environment = Environment(val)
	}
	if val := env("APP_DEBUG"); val != "" {
		debug, err := strconv.ParseBool(val)
		if err != nil {
			return envError("APP_DEBUG", err)
		}
		config.App.Debug = debug
	}

	// Log configuration
	if val := env("LOG_LEVEL"); val != "" {
		config.Log.Level = LogLevel(strings.ToLower(val))
	}
	if val := env("LOG_FORMAT"); val != "" {
		config.Log.Format = val
	}
	if val := env("LOG_OUTPUT"); val != "" {
		config.Log.Output = val
	}

	// Actor configuration
	if val := env("ACTOR_MAILBOX_LIMIT"); val != "" {
		limit, err := strconv.Atoi(val)
		if err != nil {
			return envError("ACTOR_MAILBOX_LIMIT", err)
		}
		config.Actor.MailboxLimit = limit
	}
	if val := env("ACTOR_OVERFLOW"); val != "" {
		config.Actor.Overflow = val
	}
	if val := env("ACTOR_PROCESS_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return envError("ACTOR_PROCESS_TIMEOUT", err)
		}
		config.Actor.ProcessTimeout = d
	}
	if val := env("ACTOR_SHUTDOWN_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return envError("ACTOR_SHUTDOWN_TIMEOUT", err)
		}
		config.Actor.ShutdownTimeout = d
	}

	// Workflow configuration
	if val := env("WORKFLOW_STEPS"); val != "" {
		var steps []string
		for _, s := range strings.Split(val, ",") {
			steps = append(steps, strings.TrimSpace(s))
		}
		config.Workflow.Steps = steps
	}
	if val := env("WORKFLOW_OVERRUN"); val != "" {
		config.Workflow.Overrun = val
	}
	if val := env("SUPERVISOR_STRATEGY"); val != "" {
		config.Workflow.Supervisor.Strategy = val
	}
	if val := env("SUPERVISOR_MAX_RESTARTS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return envError("SUPERVISOR_MAX_RESTARTS", err)
		}
		config.Workflow.Supervisor.MaxRestarts = n
	}

	// Monitor configuration
	if val := env("MONITOR_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return envError("MONITOR_ENABLED", err)
		}
		config.Monitor.Enabled = enabled
	}
	if val := env("MONITOR_PORT"); val != "" {
		port, err := parsePort(val)
		if err != nil {
			return envError("MONITOR_PORT", err)
		}
		config.Monitor.HTTP.Port = port
	}

	// Ingress configuration
	if val := env("INGRESS_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return envError("INGRESS_ENABLED", err)
		}
		config.Ingress.Enabled = enabled
	}
	if val := env("INGRESS_ADDRESS"); val != "" {
		config.Ingress.Address = val
	}
	if val := env("INGRESS_PORT"); val != "" {
		port, err := parsePort(val)
		if err != nil {
			return envError("INGRESS_PORT", err)
		}
		config.Ingress.Port = port
	}

	return nil
}

func envError(key string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrEnvironmentVarError, key, err)
}

// Helper function to parse port number
func parsePort(val string) (int, error) {
	port, err := strconv.Atoi(val)
	if err != nil {
		return 0, err
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port number: %d", port)
	}
	return port, nil
}
