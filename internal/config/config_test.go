// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vjd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validBase() Config {
	cfg := Default()
	cfg.PlayoutFile = "/etc/vjd/playout.jsonl"
	return cfg
}

func TestDefaultIsValidWithPlayout(t *testing.T) {
	cfg := validBase()
	require.NoError(t, cfg.Validate())
}

func TestLoadFileOverlay(t *testing.T) {
	path := writeTempConfig(t, `
playoutFile: /tmp/playout.jsonl
restartCooldown: 9s
video:
  width: 1920
  height: 1080
hls:
  segmentSeconds: 6
staging:
  queueCapacity: 10
  prebuffer: 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1920, cfg.Video.Width)
	assert.Equal(t, 1080, cfg.Video.Height)
	assert.Equal(t, 6, cfg.HLS.SegmentSeconds)
	assert.Equal(t, 10, cfg.Staging.QueueCapacity)
	assert.Equal(t, 2, cfg.Staging.Prebuffer)
	assert.Equal(t, 9*time.Second, cfg.RestartCooldown)
	// Untouched values keep their defaults.
	assert.Equal(t, 30, cfg.Video.FPS)
	assert.Equal(t, []string{"delete_segments"}, cfg.HLS.Flags)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeTempConfig(t, `
playoutFile: /tmp/playout.jsonl
video:
  width: 1920
  height: 1080
`)
	t.Setenv("VJD_WIDTH", "640")
	t.Setenv("VJD_HEIGHT", "480")
	t.Setenv("VJD_RESTART_COOLDOWN", "1s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.Video.Width)
	assert.Equal(t, 480, cfg.Video.Height)
	assert.Equal(t, time.Second, cfg.RestartCooldown)
}

func TestValidateRejectsAppendList(t *testing.T) {
	for _, flag := range []string{"append_list", "+append_list"} {
		cfg := validBase()
		cfg.HLS.Flags = []string{"delete_segments", flag}
		err := cfg.Validate()
		require.Error(t, err, "flag %q must be rejected", flag)
		assert.Contains(t, err.Error(), "append_list")
	}
}

func TestValidateModeRequirements(t *testing.T) {
	cfg := validBase()
	cfg.PlayoutFile = ""
	assert.Error(t, cfg.Validate(), "pipe mode needs a playout file")

	cfg = validBase()
	cfg.Mode = ModeCapture
	cfg.Surfaces.Enabled = false
	assert.Error(t, cfg.Validate(), "capture mode needs surfaces")

	cfg.Surfaces.Enabled = true
	cfg.Surfaces.Display = ""
	assert.Error(t, cfg.Validate(), "enabled surfaces need a display")

	cfg.Surfaces.Display = ":99"
	assert.NoError(t, cfg.Validate())
}

func TestValidateBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"odd width", func(c *Config) { c.Video.Width = 1281 }},
		{"zero fps", func(c *Config) { c.Video.FPS = 0 }},
		{"window too small", func(c *Config) { c.HLS.WindowSize = 1 }},
		{"zero queue", func(c *Config) { c.Staging.QueueCapacity = 0 }},
		{"prebuffer over capacity", func(c *Config) { c.Staging.Prebuffer = c.Staging.QueueCapacity + 1 }},
		{"stale below poll", func(c *Config) { c.Watchdog.StaleAfter = c.Watchdog.Poll - time.Second }},
		{"zero kill grace", func(c *Config) { c.Watchdog.KillGrace = 0 }},
		{"bad mode", func(c *Config) { c.Mode = "tee" }},
		{"three channels", func(c *Config) { c.Audio.Channels = 3 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBase()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvHLSFlagsSplit(t *testing.T) {
	t.Setenv("VJD_HLS_FLAGS", "delete_segments, independent_segments")
	cfg := validBase()
	cfg.applyEnv()
	assert.Equal(t, []string{"delete_segments", "independent_segments"}, cfg.HLS.Flags)
}

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("VJD_QUEUE_CAPACITY", "many")
	t.Setenv("VJD_WATCHDOG_POLL", "soon")
	t.Setenv("VJD_HTTP_ENABLED", "maybe")

	assert.Equal(t, 20, ParseInt("VJD_QUEUE_CAPACITY", 20))
	assert.Equal(t, 30*time.Second, ParseDuration("VJD_WATCHDOG_POLL", 30*time.Second))
	assert.True(t, ParseBool("VJD_HTTP_ENABLED", true))
}
