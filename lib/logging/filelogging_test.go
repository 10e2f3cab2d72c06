package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingFilePath(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	assert.Equal(t, "logs/relay2024-03-01 12:30:00.log", LoggingFilePath("logs/relay.log", now))
	assert.Equal(t, "logs/relay2024-03-01 12:30:00", LoggingFilePath("logs/relay", now))
	assert.Equal(t, "logs.d/relay2024-03-01 12:30:00", LoggingFilePath("logs.d/relay", now))
}

func TestLoggerWritesToFile(t *testing.T) {
	dir := t.TempDir()
	logger := Logger(filepath.Join(dir, "relay.log"))
	logger.Info("hello")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	content, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(content), "hello")
}

func TestLoggerFallsBackToStdout(t *testing.T) {
	logger := Logger(filepath.Join(t.TempDir(), "missing", "relay.log"))
	assert.NotNil(t, logger)
}
