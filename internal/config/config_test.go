package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "http://localhost:8000/api/interview", cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, 16000, cfg.Audio.SampleRate)
	assert.Equal(t, 1500*time.Millisecond, cfg.Audio.SilenceDuration)
	assert.Equal(t, 1000, cfg.Audio.MinClipBytes)
	assert.Equal(t, 30*time.Second, cfg.Idle.Threshold)
	assert.Equal(t, 45*time.Second, cfg.Idle.Cooldown)
	assert.Equal(t, 800*time.Millisecond, cfg.Autosave.Debounce)
	assert.Equal(t, "continuous", cfg.Engine.Mode)
	assert.Equal(t, 5, cfg.Engine.MaxRetries)
	assert.Equal(t, ":8090", cfg.Gateway.ListenAddr)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
api:
  base_url: http://interviews.internal/api/interview
  timeout: 10s
audio:
  vad_threshold: 0.05
  silence_duration: 2s
engine:
  mode: manual
  max_retries: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "http://interviews.internal/api/interview", cfg.API.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, 0.05, cfg.Audio.VADThreshold)
	assert.Equal(t, 2*time.Second, cfg.Audio.SilenceDuration)
	assert.Equal(t, "manual", cfg.Engine.Mode)
	assert.Equal(t, 2, cfg.Engine.MaxRetries)

	// Unset keys keep their defaults.
	assert.Equal(t, 16000, cfg.Audio.SampleRate)
	assert.Equal(t, 45*time.Second, cfg.Idle.Cooldown)
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audio:\n  vad_threshold: 0.01\n"), 0644))

	var mu sync.Mutex
	var got *Config
	w, err := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		got = cfg
		mu.Unlock()
	}, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("audio:\n  vad_threshold: 0.07\n"), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil && got.Audio.VADThreshold == 0.07
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audio:\n  vad_threshold: 0.01\n"), 0644))

	calls := make(chan struct{}, 4)
	w, err := NewWatcher(path, func(*Config) { calls <- struct{}{} }, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0644))

	select {
	case <-calls:
		t.Fatal("unrelated file must not trigger a reload")
	case <-time.After(200 * time.Millisecond):
	}
}
