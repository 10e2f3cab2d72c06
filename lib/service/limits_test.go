package service

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ziflex/lecho/v3"
)

const blockedIP = "192.168.1.403"

func writeLimitsFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "limits.yml")
	content := "block-list:\n  ip:\n    - " + blockedIP + "\n    - 10.0.0.1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadLimitsConfig(t *testing.T) {
	config, err := LoadLimitsConfig(writeLimitsFile(t))
	require.NoError(t, err)
	assert.Equal(t, []string{blockedIP, "10.0.0.1"}, config.BlockList.IP)

	_, err = LoadLimitsConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestIsIPBlocked(t *testing.T) {
	logger := lecho.New(io.Discard)
	limits := NewLimits(true, writeLimitsFile(t), logger)

	assert.True(t, limits.IsIPBlocked(blockedIP))
	assert.False(t, limits.IsIPBlocked("192.168.1.42"))
	assert.False(t, limits.IsIPBlocked(""))
}

func TestIsIPBlockedWhenDisabled(t *testing.T) {
	limits := NewLimits(false, writeLimitsFile(t), lecho.New(io.Discard))
	assert.False(t, limits.IsIPBlocked(blockedIP))

	var nilLimits *Limits
	assert.False(t, nilLimits.IsIPBlocked(blockedIP))
}

func TestIsIPBlockedWithMissingFile(t *testing.T) {
	limits := NewLimits(true, filepath.Join(t.TempDir(), "missing.yml"), lecho.New(io.Discard))
	assert.False(t, limits.IsIPBlocked(blockedIP))
}
