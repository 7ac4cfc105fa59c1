package logger

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rama-kairi/termcore/internal/config"
)

func TestNewLogger(t *testing.T) {
	cfg := &config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stderr",
	}

	logger, err := NewLogger(cfg, "test")
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.Equal(t, "test", logger.Component())
}

func TestNewLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "termcore.log")
	cfg := &config.LoggingConfig{
		Level:  "debug",
		Format: "console",
		Output: path,
	}

	logger, err := NewLogger(cfg, "test")
	require.NoError(t, err)

	logger.Debug("Debug message", map[string]interface{}{"key": "value"})
	logger.Info("Info message", map[string]interface{}{"key": "value"})
	logger.Warn("Warning message", map[string]interface{}{"key": "value"})
	logger.Error("Error message", nil, map[string]interface{}{"key": "value"})
	assert.NoError(t, logger.Close())
	assert.FileExists(t, path)
}

func TestFieldsAndLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewWithCore(core, "store").WithSession("abc")

	log.Info("created", map[string]interface{}{"title": "Terminal 1"})
	log.Error("failed", errors.New("boom"))

	entries := logs.All()
	require.Len(t, entries, 2)

	first := entries[0].ContextMap()
	assert.Equal(t, "store", first["component"])
	assert.Equal(t, "abc", first["session_id"])
	assert.Equal(t, "Terminal 1", first["title"])

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}

func TestLogSessionEvent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := NewWithCore(core, "store")

	log.LogSessionEvent("evicted", "id-1", "Terminal 1", map[string]interface{}{"reason": "capacity"})

	entries := logs.FilterMessage("Session evicted").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "capacity", entries[0].ContextMap()["reason"])
}

func TestLogCommand(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewWithCore(core, "dispatch")

	log.LogCommand("s1", "ls", 5*time.Millisecond, true, "a\nb", nil)
	log.LogCommand("s1", "open x", time.Millisecond, false, "", errors.New("missing"))

	assert.Equal(t, 1, logs.FilterMessage("Command completed").Len())

	failed := logs.FilterMessage("Command completed with error").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.WarnLevel, failed[0].Level)
	assert.Equal(t, "missing", failed[0].ContextMap()["error"])
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in       string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.in))
		})
	}
}

func TestNopLogger(t *testing.T) {
	log := NewNop()
	log.WithComponent("x").Info("ignored")
	log.SetLevel("debug")
	assert.NoError(t, log.Close())
}
