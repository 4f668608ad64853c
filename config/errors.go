// Package config provides error definitions for configuration management
package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName      = errors.New("invalid application name")
	ErrInvalidEnvironment  = errors.New("invalid environment")
	ErrInvalidLogLevel     = errors.New("invalid log level")
	ErrInvalidLogFormat    = errors.New("invalid log format")
	ErrInvalidPort         = errors.New("invalid port number")
	ErrInvalidMailboxLimit = errors.New("invalid mailbox limit")
	ErrInvalidOverflow     = errors.New("invalid mailbox overflow policy")
	ErrInvalidTimeout      = errors.New("invalid timeout")
	ErrEmptyWorkflow       = errors.New("workflow has no steps")
	ErrInvalidAgent        = errors.New("invalid agent")
	ErrDuplicateAgent      = errors.New("duplicate agent name")
	ErrUnknownStepAgent    = errors.New("workflow step names no declared agent")
	ErrInvalidOverrun      = errors.New("invalid overrun policy")
	ErrInvalidStrategy     = errors.New("invalid supervisor strategy")
	ErrInvalidIngress      = errors.New("invalid ingress settings")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound  = errors.New("configuration file not found")
	ErrConfigParseError    = errors.New("configuration parse error")
	ErrConfigValidateError = errors.New("configuration validation error")
	ErrEnvironmentVarError = errors.New("environment variable error")
	ErrConfigWatchError    = errors.New("configuration watch error")
)
