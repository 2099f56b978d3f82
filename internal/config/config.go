// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config provides the daemon configuration: defaults, optional YAML
// file overlay, and VJD_* environment overrides, in that precedence order
// (environment wins).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects how the muxer ingests video.
type Mode string

const (
	// ModePipe feeds rendered MPEG-TS segments into the muxer's stdin.
	ModePipe Mode = "pipe"
	// ModeCapture grabs a live X11 display instead of fed segments.
	ModeCapture Mode = "capture"
)

// Video holds output video encoding parameters.
type Video struct {
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	FPS     int    `yaml:"fps"`
	Bitrate string `yaml:"bitrate"`
	Codec   string `yaml:"codec"`
	Preset  string `yaml:"preset"`
	PixFmt  string `yaml:"pixFmt"`
}

// Resolution returns the WxH string ffmpeg filters expect.
func (v Video) Resolution() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// Audio holds output audio encoding parameters.
type Audio struct {
	Codec      string `yaml:"codec"`
	Bitrate    string `yaml:"bitrate"`
	SampleRate int    `yaml:"sampleRate"`
	Channels   int    `yaml:"channels"`
}

// HLS holds playlist/segment emission parameters.
type HLS struct {
	SegmentSeconds int      `yaml:"segmentSeconds"`
	WindowSize     int      `yaml:"windowSize"`
	Flags          []string `yaml:"flags"`
}

// Staging holds the render-ahead buffer parameters.
type Staging struct {
	Dir           string `yaml:"dir"`
	QueueCapacity int    `yaml:"queueCapacity"`
	Prebuffer     int    `yaml:"prebuffer"`
	MaxFiles      int    `yaml:"maxFiles"`
	MinFreeBytes  int64  `yaml:"minFreeBytes"`
}

// Watchdog holds the playlist liveness parameters.
type Watchdog struct {
	Poll       time.Duration `yaml:"poll"`
	StaleAfter time.Duration `yaml:"staleAfter"`
	KillGrace  time.Duration `yaml:"killGrace"`
}

// Surfaces holds the virtual display and render-surface launch parameters.
type Surfaces struct {
	Enabled     bool          `yaml:"enabled"`
	XvfbBin     string        `yaml:"xvfbBin"`
	Display     string        `yaml:"display"`
	ScreenSize  string        `yaml:"screenSize"`
	BrowserCmd  []string      `yaml:"browserCmd"`
	SurfaceURL  string        `yaml:"surfaceURL"`
	ProfileDir  string        `yaml:"profileDir"`
	SettleDelay time.Duration `yaml:"settleDelay"`
}

// HTTP holds the built-in publish server parameters.
type HTTP struct {
	Enabled           bool   `yaml:"enabled"`
	Listen            string `yaml:"listen"`
	RequestsPerMinute int    `yaml:"requestsPerMinute"`
}

// Config is the full daemon configuration.
type Config struct {
	LogLevel string `yaml:"logLevel"`

	FFmpegBin  string `yaml:"ffmpegBin"`
	FFprobeBin string `yaml:"ffprobeBin"`

	Mode Mode `yaml:"mode"`

	PublishDir  string `yaml:"publishDir"`
	PlayoutFile string `yaml:"playoutFile"`
	MusicDir    string `yaml:"musicDir"`
	JournalPath string `yaml:"journalPath"`

	// BugPath is an optional station bug image composited into every
	// rendered segment.
	BugPath string `yaml:"bugPath"`

	RestartCooldown time.Duration `yaml:"restartCooldown"`

	Video    Video    `yaml:"video"`
	Audio    Audio    `yaml:"audio"`
	HLS      HLS      `yaml:"hls"`
	Staging  Staging  `yaml:"staging"`
	Watchdog Watchdog `yaml:"watchdog"`
	Surfaces Surfaces `yaml:"surfaces"`
	HTTP     HTTP     `yaml:"http"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:        "info",
		FFmpegBin:       "ffmpeg",
		FFprobeBin:      "ffprobe",
		Mode:            ModePipe,
		PublishDir:      "/srv/hls",
		PlayoutFile:     "",
		MusicDir:        "",
		JournalPath:     "",
		RestartCooldown: 5 * time.Second,
		Video: Video{
			Width:   1280,
			Height:  720,
			FPS:     30,
			Bitrate: "2500k",
			Codec:   "libx264",
			Preset:  "veryfast",
			PixFmt:  "yuv420p",
		},
		Audio: Audio{
			Codec:      "aac",
			Bitrate:    "128k",
			SampleRate: 44100,
			Channels:   2,
		},
		HLS: HLS{
			SegmentSeconds: 4,
			WindowSize:     6,
			Flags:          []string{"delete_segments"},
		},
		Staging: Staging{
			Dir:           "/var/lib/vjd/staging",
			QueueCapacity: 20,
			Prebuffer:     4,
			MaxFiles:      30,
			MinFreeBytes:  1 << 30,
		},
		Watchdog: Watchdog{
			Poll:       30 * time.Second,
			StaleAfter: 60 * time.Second,
			KillGrace:  2 * time.Second,
		},
		Surfaces: Surfaces{
			Enabled:     false,
			XvfbBin:     "Xvfb",
			Display:     ":99",
			ScreenSize:  "1280x720x24",
			BrowserCmd:  nil,
			SurfaceURL:  "",
			ProfileDir:  "",
			SettleDelay: 5 * time.Second,
		},
		HTTP: HTTP{
			Enabled:           true,
			Listen:            ":8730",
			RequestsPerMinute: 600,
		},
	}
}

// Load builds the effective configuration: defaults, overlaid by the YAML
// file at path (if path is non-empty), overlaid by VJD_* environment
// variables. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays VJD_* environment variables onto the configuration.
func (c *Config) applyEnv() {
	c.LogLevel = ParseString("VJD_LOG_LEVEL", c.LogLevel)
	c.FFmpegBin = ParseString("VJD_FFMPEG_BIN", c.FFmpegBin)
	c.FFprobeBin = ParseString("VJD_FFPROBE_BIN", c.FFprobeBin)
	c.Mode = Mode(ParseString("VJD_MODE", string(c.Mode)))

	c.PublishDir = ParseString("VJD_PUBLISH_DIR", c.PublishDir)
	c.PlayoutFile = ParseString("VJD_PLAYOUT_FILE", c.PlayoutFile)
	c.MusicDir = ParseString("VJD_MUSIC_DIR", c.MusicDir)
	c.JournalPath = ParseString("VJD_JOURNAL_PATH", c.JournalPath)
	c.BugPath = ParseString("VJD_BUG_PATH", c.BugPath)
	c.RestartCooldown = ParseDuration("VJD_RESTART_COOLDOWN", c.RestartCooldown)

	c.Video.Width = ParseInt("VJD_WIDTH", c.Video.Width)
	c.Video.Height = ParseInt("VJD_HEIGHT", c.Video.Height)
	c.Video.FPS = ParseInt("VJD_FPS", c.Video.FPS)
	c.Video.Bitrate = ParseString("VJD_VIDEO_BITRATE", c.Video.Bitrate)
	c.Video.Codec = ParseString("VJD_VIDEO_CODEC", c.Video.Codec)
	c.Video.Preset = ParseString("VJD_VIDEO_PRESET", c.Video.Preset)
	c.Video.PixFmt = ParseString("VJD_PIX_FMT", c.Video.PixFmt)

	c.Audio.Codec = ParseString("VJD_AUDIO_CODEC", c.Audio.Codec)
	c.Audio.Bitrate = ParseString("VJD_AUDIO_BITRATE", c.Audio.Bitrate)
	c.Audio.SampleRate = ParseInt("VJD_AUDIO_RATE", c.Audio.SampleRate)
	c.Audio.Channels = ParseInt("VJD_AUDIO_CHANNELS", c.Audio.Channels)

	c.HLS.SegmentSeconds = ParseInt("VJD_SEGMENT_SECONDS", c.HLS.SegmentSeconds)
	c.HLS.WindowSize = ParseInt("VJD_WINDOW_SIZE", c.HLS.WindowSize)
	if v := ParseString("VJD_HLS_FLAGS", strings.Join(c.HLS.Flags, ",")); v != "" {
		c.HLS.Flags = splitNonEmpty(v, ",")
	}

	c.Staging.Dir = ParseString("VJD_STAGING_DIR", c.Staging.Dir)
	c.Staging.QueueCapacity = ParseInt("VJD_QUEUE_CAPACITY", c.Staging.QueueCapacity)
	c.Staging.Prebuffer = ParseInt("VJD_PREBUFFER", c.Staging.Prebuffer)
	c.Staging.MaxFiles = ParseInt("VJD_MAX_STAGED_FILES", c.Staging.MaxFiles)
	c.Staging.MinFreeBytes = ParseInt64("VJD_MIN_FREE_BYTES", c.Staging.MinFreeBytes)

	c.Watchdog.Poll = ParseDuration("VJD_WATCHDOG_POLL", c.Watchdog.Poll)
	c.Watchdog.StaleAfter = ParseDuration("VJD_STALE_AFTER", c.Watchdog.StaleAfter)
	c.Watchdog.KillGrace = ParseDuration("VJD_KILL_GRACE", c.Watchdog.KillGrace)

	c.Surfaces.Enabled = ParseBool("VJD_SURFACES", c.Surfaces.Enabled)
	c.Surfaces.XvfbBin = ParseString("VJD_XVFB_BIN", c.Surfaces.XvfbBin)
	c.Surfaces.Display = ParseString("VJD_DISPLAY", c.Surfaces.Display)
	c.Surfaces.ScreenSize = ParseString("VJD_SCREEN_SIZE", c.Surfaces.ScreenSize)
	if v := ParseString("VJD_BROWSER_CMD", ""); v != "" {
		c.Surfaces.BrowserCmd = strings.Fields(v)
	}
	c.Surfaces.SurfaceURL = ParseString("VJD_SURFACE_URL", c.Surfaces.SurfaceURL)
	c.Surfaces.ProfileDir = ParseString("VJD_PROFILE_DIR", c.Surfaces.ProfileDir)
	c.Surfaces.SettleDelay = ParseDuration("VJD_SETTLE_DELAY", c.Surfaces.SettleDelay)

	c.HTTP.Enabled = ParseBool("VJD_HTTP_ENABLED", c.HTTP.Enabled)
	c.HTTP.Listen = ParseString("VJD_HTTP_LISTEN", c.HTTP.Listen)
	c.HTTP.RequestsPerMinute = ParseInt("VJD_HTTP_RPM", c.HTTP.RequestsPerMinute)
}

// Validate rejects configurations the pipeline cannot run with. It is the
// single gate for the append_list ban: a playlist that accumulates entries
// across sessions grows without bound, so that flag is never allowed.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModePipe, ModeCapture:
	default:
		return fmt.Errorf("mode: %q is not one of %q, %q", c.Mode, ModePipe, ModeCapture)
	}

	if c.PublishDir == "" {
		return fmt.Errorf("publishDir must not be empty")
	}
	if c.Staging.Dir == "" {
		return fmt.Errorf("staging.dir must not be empty")
	}
	if c.Mode == ModePipe && c.PlayoutFile == "" {
		return fmt.Errorf("playoutFile is required in pipe mode")
	}
	if c.Mode == ModeCapture && !c.Surfaces.Enabled {
		return fmt.Errorf("capture mode requires surfaces.enabled")
	}
	if c.Surfaces.Enabled && c.Surfaces.Display == "" {
		return fmt.Errorf("surfaces.display must not be empty when surfaces are enabled")
	}

	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		return fmt.Errorf("video resolution %dx%d is invalid", c.Video.Width, c.Video.Height)
	}
	if c.Video.Width%2 != 0 || c.Video.Height%2 != 0 {
		return fmt.Errorf("video resolution %dx%d must have even dimensions", c.Video.Width, c.Video.Height)
	}
	if c.Video.FPS <= 0 {
		return fmt.Errorf("video.fps must be positive, got %d", c.Video.FPS)
	}
	if c.Audio.Codec == "" {
		return fmt.Errorf("audio.codec must not be empty")
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sampleRate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got %d", c.Audio.Channels)
	}

	if c.HLS.SegmentSeconds < 1 {
		return fmt.Errorf("hls.segmentSeconds must be at least 1, got %d", c.HLS.SegmentSeconds)
	}
	if c.HLS.WindowSize < 2 {
		return fmt.Errorf("hls.windowSize must be at least 2, got %d", c.HLS.WindowSize)
	}
	for _, f := range c.HLS.Flags {
		if strings.Trim(f, "+") == "append_list" {
			return fmt.Errorf("hls.flags: append_list preserves prior-session entries and grows the playlist without bound; remove it")
		}
	}

	if c.Staging.QueueCapacity < 1 {
		return fmt.Errorf("staging.queueCapacity must be at least 1, got %d", c.Staging.QueueCapacity)
	}
	if c.Staging.Prebuffer < 0 || c.Staging.Prebuffer > c.Staging.QueueCapacity {
		return fmt.Errorf("staging.prebuffer must be within [0, queueCapacity], got %d", c.Staging.Prebuffer)
	}
	if c.Staging.MaxFiles < 1 {
		return fmt.Errorf("staging.maxFiles must be at least 1, got %d", c.Staging.MaxFiles)
	}
	if c.Staging.MinFreeBytes < 0 {
		return fmt.Errorf("staging.minFreeBytes must not be negative")
	}

	if c.Watchdog.Poll <= 0 {
		return fmt.Errorf("watchdog.poll must be positive, got %s", c.Watchdog.Poll)
	}
	if c.Watchdog.StaleAfter < c.Watchdog.Poll {
		return fmt.Errorf("watchdog.staleAfter (%s) must be at least the poll interval (%s)", c.Watchdog.StaleAfter, c.Watchdog.Poll)
	}
	if c.Watchdog.KillGrace <= 0 {
		return fmt.Errorf("watchdog.killGrace must be positive, got %s", c.Watchdog.KillGrace)
	}

	if c.RestartCooldown < 0 {
		return fmt.Errorf("restartCooldown must not be negative")
	}

	if c.HTTP.Enabled {
		if c.HTTP.Listen == "" {
			return fmt.Errorf("http.listen must not be empty when the server is enabled")
		}
		if c.HTTP.RequestsPerMinute < 1 {
			return fmt.Errorf("http.requestsPerMinute must be at least 1, got %d", c.HTTP.RequestsPerMinute)
		}
	}

	return nil
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
