package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shamspias/caracal"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "caracal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 80, cfg.Profile.Quality)
	assert.Equal(t, caracal.ModeBalanced, cfg.Profile.Mode)
	assert.Equal(t, 3, cfg.Batch.MaxConcurrency)
	assert.Equal(t, 2, cfg.Batch.RetryLimit)
	assert.Equal(t, 100*time.Millisecond, cfg.Batch.PollInterval)
	assert.Equal(t, "info", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
profile:
  quality: 60
  mode: aggressive
  sharpen_filter: true
batch:
  max_concurrency: 5
  pause_on_error: true
  poll_interval: 250ms
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Profile.Quality)
	assert.Equal(t, caracal.ModeAggressive, cfg.Profile.Mode)
	require.NotNil(t, cfg.Profile.SharpenFilter)
	assert.True(t, *cfg.Profile.SharpenFilter)
	assert.Nil(t, cfg.Profile.WebOptimized)

	assert.Equal(t, 5, cfg.Batch.MaxConcurrency)
	assert.Equal(t, 2, cfg.Batch.RetryLimit)
	assert.True(t, cfg.Batch.PauseOnError)
	assert.Equal(t, 250*time.Millisecond, cfg.Batch.PollInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "profile:\n  quality: 60\n")
	t.Setenv("CARACAL_PROFILE_QUALITY", "90")
	t.Setenv("CARACAL_BATCH_MAX_CONCURRENCY", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.Profile.Quality)
	assert.Equal(t, 7, cfg.Batch.MaxConcurrency)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, "profile:\n  quality: 5\n")
	_, err := Load(path)
	assert.ErrorIs(t, err, caracal.ErrPrecondition)

	path = writeConfig(t, "log:\n  level: chatty\n")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
