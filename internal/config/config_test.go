package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, time.Duration(0), cfg.Defaults.StaleTime)
	assert.Equal(t, 5*time.Minute, cfg.Defaults.GCTime)
	assert.Equal(t, 3, cfg.Defaults.Retry)

	assert.Equal(t, "online", cfg.Network.Mode)
	assert.Equal(t, 5*time.Second, cfg.Network.PollInterval)

	assert.Equal(t, "info", cfg.Logging.Level)

	assert.False(t, cfg.Devtools.Enabled)
	assert.Equal(t, ":9477", cfg.Devtools.ListenAddr)

	assert.False(t, cfg.Persistence.Enabled)
	assert.Equal(t, "./fluquery-cache.json", cfg.Persistence.Path)
	assert.Equal(t, 24*time.Hour, cfg.Persistence.MaxAge)
}

func TestNewManager(t *testing.T) {
	manager := NewManager("test-config.yaml")
	assert.NotNil(t, manager)
	assert.Equal(t, "test-config.yaml", manager.GetConfigPath())
	assert.NotNil(t, manager.Get())
}

func TestLoadFromFile_YAML(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "test-config.yaml")

	configData := `
defaults:
  stale_time: 30s
  gc_time: 10m
network:
  mode: always
devtools:
  enabled: true
  listen_addr: ":9999"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configData), 0644))

	manager := NewManager(configPath)
	require.NoError(t, manager.Load())

	cfg := manager.Get()
	assert.Equal(t, 30*time.Second, cfg.Defaults.StaleTime)
	assert.Equal(t, 10*time.Minute, cfg.Defaults.GCTime)
	assert.Equal(t, "always", cfg.Network.Mode)
	assert.True(t, cfg.Devtools.Enabled)
	assert.Equal(t, ":9999", cfg.Devtools.ListenAddr)
}

func TestLoadFromFile_JSON(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "test-config.json")

	configData := `{
  "persistence": {
    "enabled": true,
    "path": "/tmp/cache.json"
  },
  "logging": {
    "level": "debug"
  }
}`
	require.NoError(t, os.WriteFile(configPath, []byte(configData), 0644))

	manager := NewManager(configPath)
	require.NoError(t, manager.Load())

	cfg := manager.Get()
	assert.True(t, cfg.Persistence.Enabled)
	assert.Equal(t, "/tmp/cache.json", cfg.Persistence.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromFile_NonExistentFile(t *testing.T) {
	manager := NewManager("non-existent.yaml")
	err := manager.Load()
	require.NoError(t, err)

	cfg := manager.Get()
	assert.Equal(t, "info", cfg.Logging.Level) // default value
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "test-config.txt")

	require.NoError(t, os.WriteFile(configPath, []byte("invalid format"), 0644))

	manager := NewManager(configPath)
	err := manager.Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config file format")
}

func TestLoadFromEnvironment(t *testing.T) {
	envVars := map[string]string{
		"FLUQUERY_STALE_TIME":         "15s",
		"FLUQUERY_GC_TIME":            "1h",
		"FLUQUERY_RETRY":              "5",
		"FLUQUERY_NETWORK_MODE":       "always",
		"FLUQUERY_LOG_LEVEL":          "warn",
		"FLUQUERY_DEVTOOLS_ENABLED":   "true",
		"FLUQUERY_DEVTOOLS_ADDR":      ":7777",
		"FLUQUERY_PERSISTENCE_ENABLED": "true",
		"FLUQUERY_PERSISTENCE_PATH":   "/env/cache.json",
	}

	for key, value := range envVars {
		os.Setenv(key, value)
		defer os.Unsetenv(key)
	}

	manager := NewManager("")
	require.NoError(t, manager.Load())

	cfg := manager.Get()
	assert.Equal(t, 15*time.Second, cfg.Defaults.StaleTime)
	assert.Equal(t, time.Hour, cfg.Defaults.GCTime)
	assert.Equal(t, 5, cfg.Defaults.Retry)
	assert.Equal(t, "always", cfg.Network.Mode)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Devtools.Enabled)
	assert.Equal(t, ":7777", cfg.Devtools.ListenAddr)
	assert.True(t, cfg.Persistence.Enabled)
	assert.Equal(t, "/env/cache.json", cfg.Persistence.Path)
}

func TestLoadFromFileAndEnvironment(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "test-config.yaml")

	configData := `
devtools:
  listen_addr: ":1111"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configData), 0644))

	os.Setenv("FLUQUERY_DEVTOOLS_ADDR", ":2222")
	defer os.Unsetenv("FLUQUERY_DEVTOOLS_ADDR")

	manager := NewManager(configPath)
	require.NoError(t, manager.Load())

	cfg := manager.Get()
	assert.Equal(t, ":2222", cfg.Devtools.ListenAddr) // env overrides file
}

func TestSave(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "saved-config.yaml")

	manager := NewManager(configPath)
	cfg := manager.Get()
	cfg.Devtools.ListenAddr = ":8000"
	cfg.Persistence.Path = "/saved/cache.json"

	require.NoError(t, manager.Save())
	assert.FileExists(t, configPath)

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), ":8000")
	assert.Contains(t, string(data), "/saved/cache.json")
}

func TestSave_NoPath(t *testing.T) {
	manager := NewManager("")
	err := manager.Save()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no config path specified")
}

func TestSetFieldValue(t *testing.T) {
	var strField string
	field := reflect.ValueOf(&strField).Elem()
	require.NoError(t, setFieldValue(field, "test_value"))
	assert.Equal(t, "test_value", strField)

	var intField int
	field = reflect.ValueOf(&intField).Elem()
	require.NoError(t, setFieldValue(field, "42"))
	assert.Equal(t, 42, intField)

	var boolField bool
	field = reflect.ValueOf(&boolField).Elem()
	require.NoError(t, setFieldValue(field, "true"))
	assert.True(t, boolField)

	var durationField time.Duration
	field = reflect.ValueOf(&durationField).Elem()
	require.NoError(t, setFieldValue(field, "5m"))
	assert.Equal(t, 5*time.Minute, durationField)

	var sliceField []string
	field = reflect.ValueOf(&sliceField).Elem()
	require.NoError(t, setFieldValue(field, "a,b,c"))
	assert.Equal(t, []string{"a", "b", "c"}, sliceField)
}

func TestSetFieldValue_InvalidValues(t *testing.T) {
	var durationField time.Duration
	field := reflect.ValueOf(&durationField).Elem()
	assert.Error(t, setFieldValue(field, "invalid"))

	var intField int
	field = reflect.ValueOf(&intField).Elem()
	assert.Error(t, setFieldValue(field, "not_a_number"))

	var boolField bool
	field = reflect.ValueOf(&boolField).Elem()
	assert.Error(t, setFieldValue(field, "not_a_bool"))
}

func TestMarshalYAML(t *testing.T) {
	cfg := DefaultConfig()
	data, err := MarshalYAML(cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	var unmarshaled Config
	require.NoError(t, yaml.Unmarshal(data, &unmarshaled))
	assert.Equal(t, cfg.Devtools.ListenAddr, unmarshaled.Devtools.ListenAddr)
}
