package obslog

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	require.NoError(t, w.Close())
	os.Stdout = old

	buf := make([]byte, 4096)
	n, _ := r.Read(buf)
	return string(buf[:n])
}

func TestConfigure_JSONOutputWithComponentAndFields(t *testing.T) {
	output := captureStdout(t, func() {
		Configure("info")
		Logger("fetch").Info("fetch started", "attempt", 1)
	})

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(output)), &parsed))
	assert.Equal(t, "INFO", parsed["level"])
	assert.Equal(t, "fetch", parsed["component"])
	assert.Equal(t, "fetch started", parsed["msg"])
}

func TestConfigure_LevelFiltering(t *testing.T) {
	output := captureStdout(t, func() {
		Configure("warn")
		logger := Logger("test")
		logger.Debug("debug message")
		logger.Info("info message")
		logger.Warn("warn message")
	})

	assert.NotContains(t, output, "debug message")
	assert.NotContains(t, output, "info message")
	assert.Contains(t, output, "warn message")
}

func TestWithQueryHashAndMutationID(t *testing.T) {
	output := captureStdout(t, func() {
		Configure("info")
		WithQueryHash("abc123").Info("cache hit")
	})
	assert.Contains(t, output, `"queryHash":"abc123"`)

	output = captureStdout(t, func() {
		WithMutationID("m-1").Info("mutation settled")
	})
	assert.Contains(t, output, `"mutationId":"m-1"`)
}
