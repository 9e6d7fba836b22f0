package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 3.0, cfg.Timing.IntroSeconds)
	assert.Equal(t, 4.0, cfg.Timing.MinSegmentSeconds)
	assert.Equal(t, 1.2, cfg.Audio.CountdownMaxTempo)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, 6*time.Hour, cfg.Queue.ClaimTTL)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
timing:
  intro_seconds: 2.5
clips:
  poll_interval: 2s
  hero_segments: 1
audio:
  voices:
    en:
      primary: en-GB-RyanNeural
      secondary: en_GB-alan-medium
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2.5, cfg.Timing.IntroSeconds)
	assert.Equal(t, 4.0, cfg.Timing.MinSegmentSeconds, "untouched fields keep defaults")
	assert.Equal(t, 2*time.Second, cfg.Clips.PollInterval)
	assert.Equal(t, 1, cfg.Clips.HeroSegments)
	assert.Equal(t, "en-GB-RyanNeural", cfg.Audio.Voices.Lookup("en").Primary)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  backend: kafka\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka")
}

func TestVoiceTableLookupFallsBackToEnglish(t *testing.T) {
	table := Default().Audio.Voices
	assert.Equal(t, table["en"], table.Lookup("xx"))
	assert.Equal(t, table["es"], table.Lookup("es"))
}
