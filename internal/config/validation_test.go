package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	err := ValidationError{Field: "test.field", Message: "test error message"}
	assert.Equal(t, "validation error for field 'test.field': test error message", err.Error())
}

func TestDefaultValidator_ValidConfig(t *testing.T) {
	v := &DefaultValidator{}
	assert.NoError(t, v.Validate(DefaultConfig()))
}

func TestDefaultValidator_NegativeGCTime(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Defaults.GCTime = -time.Second

	v := &DefaultValidator{}
	err := v.Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "defaults.gc_time")
}

func TestDefaultValidator_InvalidNetworkMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network.Mode = "sometimes"

	v := &DefaultValidator{}
	err := v.Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "network.mode")
}

func TestDefaultValidator_InvalidLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"

	v := &DefaultValidator{}
	err := v.Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestDefaultValidator_DevtoolsEnabledWithoutAddr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devtools.Enabled = true
	cfg.Devtools.ListenAddr = ""

	v := &DefaultValidator{}
	err := v.Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "devtools.listen_addr")
}

func TestDefaultValidator_PersistenceEnabledWithoutPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Persistence.Enabled = true
	cfg.Persistence.Path = ""

	v := &DefaultValidator{}
	err := v.Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "persistence.path")
}

func TestAddrConflictValidator(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devtools.Enabled = true
	cfg.Devtools.ListenAddr = ":9477"

	v := &AddrConflictValidator{Reserved: []string{":9477"}}
	err := v.Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "conflicts with a reserved address")
}

func TestAddrConflictValidator_DevtoolsDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devtools.Enabled = false
	cfg.Devtools.ListenAddr = ":9477"

	v := &AddrConflictValidator{Reserved: []string{":9477"}}
	assert.NoError(t, v.Validate(cfg))
}
