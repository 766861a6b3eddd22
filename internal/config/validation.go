package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors aggregates multiple ValidationError.
type ValidationErrors struct {
	Errors []ValidationError
}

func (e *ValidationErrors) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// DefaultValidator provides default validation rules for Config.
type DefaultValidator struct{}

// Validate validates the configuration using default rules.
func (v *DefaultValidator) Validate(config *Config) error {
	var errors []ValidationError

	if err := v.validateDefaults(config.Defaults); err != nil {
		errors = append(errors, *err)
	}
	if err := v.validateNetwork(config.Network); err != nil {
		errors = append(errors, *err)
	}
	if err := v.validateLogging(config.Logging); err != nil {
		errors = append(errors, *err)
	}
	if err := v.validateDevtools(config.Devtools); err != nil {
		errors = append(errors, *err)
	}
	if err := v.validatePersistence(config.Persistence); err != nil {
		errors = append(errors, *err)
	}

	if len(errors) > 0 {
		return &ValidationErrors{Errors: errors}
	}
	return nil
}

func (v *DefaultValidator) validateDefaults(config DefaultsConfig) *ValidationError {
	if config.GCTime < 0 {
		return &ValidationError{Field: "defaults.gc_time", Message: "gc_time cannot be negative"}
	}
	if config.StaleTime < 0 {
		return &ValidationError{Field: "defaults.stale_time", Message: "stale_time cannot be negative"}
	}
	if config.Retry < 0 {
		return &ValidationError{Field: "defaults.retry", Message: "retry cannot be negative"}
	}
	return nil
}

func (v *DefaultValidator) validateNetwork(config NetworkConfig) *ValidationError {
	switch config.Mode {
	case "online", "always":
	default:
		return &ValidationError{Field: "network.mode", Message: "mode must be 'online' or 'always'"}
	}
	if config.PollInterval <= 0 {
		return &ValidationError{Field: "network.poll_interval", Message: "poll_interval must be positive"}
	}
	return nil
}

func (v *DefaultValidator) validateLogging(config LoggingConfig) *ValidationError {
	switch config.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{Field: "logging.level", Message: "level must be one of debug, info, warn, error"}
	}
	return nil
}

func (v *DefaultValidator) validateDevtools(config DevtoolsConfig) *ValidationError {
	if !config.Enabled {
		return nil
	}
	if config.ListenAddr == "" {
		return &ValidationError{Field: "devtools.listen_addr", Message: "listen_addr cannot be empty when devtools is enabled"}
	}
	return nil
}

func (v *DefaultValidator) validatePersistence(config PersistenceConfig) *ValidationError {
	if !config.Enabled {
		return nil
	}
	if config.Path == "" {
		return &ValidationError{Field: "persistence.path", Message: "path cannot be empty when persistence is enabled"}
	}
	if config.MaxAge < 0 {
		return &ValidationError{Field: "persistence.max_age", Message: "max_age cannot be negative"}
	}
	return nil
}

// AddrConflictValidator checks that the devtools listen address does not
// collide with a reserved set of addresses the host application also binds.
type AddrConflictValidator struct {
	Reserved []string
}

// Validate returns an error if config.Devtools.ListenAddr collides with a
// reserved address.
func (v *AddrConflictValidator) Validate(config *Config) error {
	if !config.Devtools.Enabled {
		return nil
	}
	for _, addr := range v.Reserved {
		if addr == config.Devtools.ListenAddr {
			return &ValidationError{
				Field:   "devtools.listen_addr",
				Message: fmt.Sprintf("listen address %q conflicts with a reserved address", addr),
			}
		}
	}
	return nil
}
