package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/shopclerk/shopclerk/internal/config"
)

// testSink is an in-memory WriteSyncer used to capture console output.
type testSink struct {
	bytes.Buffer
}

func (s *testSink) Sync() error { return nil }

func initTestLogger(t *testing.T, cfg config.LoggerConfig) *testSink {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)

	sink := &testSink{}
	Initialize(cfg, zapcore.Lock(sink))
	return sink
}

func TestInitializeConsoleFormat(t *testing.T) {
	sink := initTestLogger(t, config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "test-service",
	})

	GetLogger().Info("engine state changed")

	output := sink.String()
	assert.Contains(t, output, "INFO")
	assert.Contains(t, output, "engine state changed")
	assert.Contains(t, output, colorGreen)
	assert.Contains(t, output, "test-service.")
}

func TestInitializeJSONFormat(t *testing.T) {
	sink := initTestLogger(t, config.LoggerConfig{
		Level:       "info",
		Format:      "json",
		ServiceName: "json-test",
	})

	GetLogger().Warn("locator fallback exhausted")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(sink.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "locator fallback exhausted", entry["msg"])
}

func TestLevelFiltering(t *testing.T) {
	sink := initTestLogger(t, config.LoggerConfig{
		Level:       "warn",
		Format:      "json",
		ServiceName: "filter-test",
	})

	GetLogger().Info("should be dropped")
	GetLogger().Warn("should be kept")

	output := sink.String()
	assert.NotContains(t, output, "should be dropped")
	assert.Contains(t, output, "should be kept")
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	sink := initTestLogger(t, config.LoggerConfig{
		Level:       "chatty",
		Format:      "json",
		ServiceName: "level-test",
	})

	GetLogger().Debug("debug suppressed")
	GetLogger().Info("info visible")

	output := sink.String()
	assert.NotContains(t, output, "debug suppressed")
	assert.Contains(t, output, "info visible")
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	assert.NotNil(t, GetLogger())
}
