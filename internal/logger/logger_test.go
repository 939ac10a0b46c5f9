package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/polyrelay/polyrelay/internal/config"
)

func TestLogBuffer_KeepsLastEntries(t *testing.T) {
	buf := &LogBuffer{entries: make([]LogEntry, 0, 3), limit: 3}

	buf.Add("info", "one")
	buf.Add("info", "two")
	buf.Add("warn", "three")
	buf.Add("error", "four")

	recent := buf.GetRecent(0)
	require.Len(t, recent, 3)
	// Newest first, oldest entry dropped
	assert.Equal(t, "four", recent[0].Message)
	assert.Equal(t, "two", recent[2].Message)

	recent = buf.GetRecent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "four", recent[0].Message)

	buf.Clear()
	assert.Empty(t, buf.GetRecent(0))
}

func TestNew_WritesToBuffer(t *testing.T) {
	cfg := config.LoggingConfig{
		Level:  "info",
		Output: filepath.Join(t.TempDir(), "test.log"),
	}
	log, err := New(cfg)
	require.NoError(t, err)

	GlobalBuffer.Clear()
	log.Info("hello from test")
	log.Sync()

	recent := GlobalBuffer.GetRecent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "hello from test", recent[0].Message)
	assert.Equal(t, "info", recent[0].Level)
}

func TestNew_BadLevelFallsBackToInfo(t *testing.T) {
	cfg := config.LoggingConfig{
		Level:         "chatty",
		ConsoleOutput: true,
	}
	log, err := New(cfg)
	require.NoError(t, err)

	// Debug is below the fallback level
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestNewDevelopment(t *testing.T) {
	log, err := NewDevelopment()
	require.NoError(t, err)
	assert.NotNil(t, log)
}
