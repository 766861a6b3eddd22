// Package config loads and validates a Coordinator's configuration from a
// YAML/JSON file, environment variables, and in-process defaults, with
// optional file-watch hot reload. Adapted from the teacher's
// internal/config package: the same file-then-env-then-validate Manager and
// reflection-based env loader, re-pointed from server/storage/peer sections
// to the query-engine's own configuration surface.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the Coordinator's full configuration surface.
type Config struct {
	Defaults    DefaultsConfig    `yaml:"defaults" json:"defaults"`
	Network     NetworkConfig     `yaml:"network" json:"network"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Devtools    DevtoolsConfig    `yaml:"devtools" json:"devtools"`
	Persistence PersistenceConfig `yaml:"persistence" json:"persistence"`
}

// DefaultsConfig holds the staleTime/gcTime/retry defaults applied to
// queries with no attached observer (spec.md §3).
type DefaultsConfig struct {
	StaleTime time.Duration `yaml:"stale_time" json:"stale_time" env:"FLUQUERY_STALE_TIME" default:"0s"`
	GCTime    time.Duration `yaml:"gc_time" json:"gc_time" env:"FLUQUERY_GC_TIME" default:"5m"`
	Retry     int           `yaml:"retry" json:"retry" env:"FLUQUERY_RETRY" default:"3"`
}

// NetworkConfig controls networkMode behavior and reconnect polling
// (spec.md §4.6, §6.1).
type NetworkConfig struct {
	Mode          string        `yaml:"mode" json:"mode" env:"FLUQUERY_NETWORK_MODE" default:"online"`
	PollInterval  time.Duration `yaml:"poll_interval" json:"poll_interval" env:"FLUQUERY_NETWORK_POLL_INTERVAL" default:"5s"`
}

// LoggingConfig controls internal/obslog setup.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level" env:"FLUQUERY_LOG_LEVEL" default:"info"`
}

// DevtoolsConfig controls the internal/devtools inspector server.
type DevtoolsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled" env:"FLUQUERY_DEVTOOLS_ENABLED" default:"false"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" env:"FLUQUERY_DEVTOOLS_ADDR" default:":9477"`
}

// PersistenceConfig controls the internal/persistence write-through/hydrate
// pipeline (spec.md §4.11).
type PersistenceConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled" env:"FLUQUERY_PERSISTENCE_ENABLED" default:"false"`
	Path    string        `yaml:"path" json:"path" env:"FLUQUERY_PERSISTENCE_PATH" default:"./fluquery-cache.json"`
	MaxAge  time.Duration `yaml:"max_age" json:"max_age" env:"FLUQUERY_PERSISTENCE_MAX_AGE" default:"24h"`
}

// Manager handles configuration loading, validation, and hot reloading.
type Manager struct {
	config     *Config
	configPath string
	watcher    *ConfigWatcher
	validators []Validator
}

// Validator validates a loaded Config.
type Validator interface {
	Validate(config *Config) error
}

// DefaultConfig returns the engine's default configuration.
func DefaultConfig() *Config {
	return &Config{
		Defaults: DefaultsConfig{
			StaleTime: 0,
			GCTime:    5 * time.Minute,
			Retry:     3,
		},
		Network: NetworkConfig{
			Mode:         "online",
			PollInterval: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Devtools: DevtoolsConfig{
			Enabled:    false,
			ListenAddr: ":9477",
		},
		Persistence: PersistenceConfig{
			Enabled: false,
			Path:    "./fluquery-cache.json",
			MaxAge:  24 * time.Hour,
		},
	}
}

// NewManager creates a configuration manager rooted at configPath (may be
// empty, meaning defaults plus environment only).
func NewManager(configPath string) *Manager {
	return &Manager{
		config:     DefaultConfig(),
		configPath: configPath,
		validators: []Validator{},
	}
}

// Load loads configuration from file (if configPath is set), overlays
// environment variables, and validates the result.
func (m *Manager) Load() error {
	if m.configPath != "" {
		if err := m.loadFromFile(); err != nil {
			return fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := m.loadFromEnvironment(); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := m.validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	return nil
}

func (m *Manager) loadFromFile() error {
	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch filepath.Ext(m.configPath) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, m.config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, m.config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", filepath.Ext(m.configPath))
	}

	return nil
}

func (m *Manager) loadFromEnvironment() error {
	return m.loadStructFromEnv(reflect.ValueOf(m.config).Elem())
}

func (m *Manager) loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			if field.Kind() == reflect.Struct {
				if err := m.loadStructFromEnv(field); err != nil {
					return err
				}
			}
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %s", value)
			}
			field.Set(reflect.ValueOf(duration))
		} else {
			intValue, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %s", value)
			}
			field.SetInt(intValue)
		}
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %s", value)
		}
		field.SetBool(boolValue)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(value, ",")
			for i, v := range values {
				values[i] = strings.TrimSpace(v)
			}
			field.Set(reflect.ValueOf(values))
		}
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

func (m *Manager) validate() error {
	for _, validator := range m.validators {
		if err := validator.Validate(m.config); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config { return m.config }

// AddValidator registers a Validator to run on every Load.
func (m *Manager) AddValidator(validator Validator) {
	m.validators = append(m.validators, validator)
}

// Save writes the current configuration to configPath as YAML.
func (m *Manager) Save() error {
	if m.configPath == "" {
		return fmt.Errorf("no config path specified")
	}
	data, err := yaml.Marshal(m.config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(m.configPath, data, 0o644)
}

// Watch starts polling configPath for changes, reloading and invoking
// callback on each change.
func (m *Manager) Watch(callback func(*Config)) error {
	if m.configPath == "" {
		return fmt.Errorf("no config path specified")
	}
	m.watcher = NewConfigWatcher(m.configPath, func() {
		if err := m.Load(); err != nil {
			return
		}
		callback(m.config)
	})
	return m.watcher.Start()
}

// Stop stops the file watcher, if running.
func (m *Manager) Stop() {
	if m.watcher != nil {
		m.watcher.Stop()
	}
}

// GetConfigPath returns the configuration file path.
func (m *Manager) GetConfigPath() string { return m.configPath }

// MarshalYAML marshals cfg to YAML.
func MarshalYAML(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
