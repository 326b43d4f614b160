package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/errors"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	// Arrange
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "versioning.yaml")
	writeConfig(t, path, "versioning:\n  history_max_versions: 4\n")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	defer w.Stop()

	var seen atomic.Int64
	w.OnChange(func(cfg *Config) {
		seen.Store(int64(cfg.Versioning.HistoryMaxVersions))
	})
	w.Start()
	assert.Equal(t, 4, w.Current().Versioning.HistoryMaxVersions)

	// Act
	writeConfig(t, path, "versioning:\n  history_max_versions: 7\n")

	// Assert
	require.Eventually(t, func() bool { return seen.Load() == 7 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 7, w.Current().Versioning.HistoryMaxVersions)
}

func TestWatcher_KeepsCurrentOnInvalidFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "versioning.yaml")
	writeConfig(t, path, "log_level: debug\n")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	defer w.Stop()

	var calls atomic.Int32
	w.OnChange(func(*Config) { calls.Add(1) })
	w.Start()

	writeConfig(t, path, "log_level: loud\n")
	time.Sleep(300 * time.Millisecond)

	assert.Zero(t, calls.Load())
	assert.Equal(t, "debug", w.Current().LogLevel)
}

func TestNewWatcher_MissingFile(t *testing.T) {
	clearEnv(t)

	_, err := NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil)

	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "versioning.yaml")
	writeConfig(t, path, "service_name: svc\n")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	w.Start()

	w.Stop()
	w.Stop()
}
