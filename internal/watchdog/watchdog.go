// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package watchdog enforces the pipeline's only liveness timeout: the
// published playlist must keep changing. A muxer can wedge without exiting
// (blocked input, dead encoder thread) and the player just sees an aging
// playlist; the watchdog turns that silent stall into a session restart.
package watchdog

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/starlitetv/vjd/internal/log"
	"github.com/starlitetv/vjd/internal/metrics"
)

type clock interface {
	Now() time.Time
	NewTicker(d time.Duration) ticker
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) Now() time.Time                   { return time.Now() }
func (realClock) NewTicker(d time.Duration) ticker { return &realTicker{time.NewTicker(d)} }

type realTicker struct {
	*time.Ticker
}

func (rt *realTicker) C() <-chan time.Time { return rt.Ticker.C }

// Terminator stops the watched session. It must be safe to call while the
// session is exiting on its own.
type Terminator interface {
	Stop() error
}

// ErrStalled reports that the playlist went stale and the session was
// terminated for it.
var ErrStalled = errors.New("watchdog: playlist stalled")

// Config are the liveness parameters for one session.
type Config struct {
	// PlaylistPath is the playlist file whose mtime proves the muxer is
	// alive.
	PlaylistPath string
	// Poll is how often the mtime is checked.
	Poll time.Duration
	// StaleAfter is the maximum playlist age before the session is
	// declared dead.
	StaleAfter time.Duration
}

// Watchdog watches one session's playlist. Bind a fresh Watchdog to every
// session; it carries per-session state and never outlives its muxer.
type Watchdog struct {
	cfg    Config
	term   Terminator
	logger zerolog.Logger
	clock  clock
}

func New(cfg Config, term Terminator) *Watchdog {
	return &Watchdog{
		cfg:    cfg,
		term:   term,
		logger: log.WithComponent("watchdog"),
		clock:  realClock{},
	}
}

// Run polls until ctx ends (returns nil) or the playlist goes stale. On
// staleness it calls the terminator exactly once and returns ErrStalled.
// A playlist that never appears counts as stale from the moment Run
// started, so a muxer that wedges before its first segment is still caught.
func (w *Watchdog) Run(ctx context.Context) error {
	logger := log.WithContext(ctx, w.logger)
	start := w.clock.Now()

	tick := w.clock.NewTicker(w.cfg.Poll)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C():
			staleness := w.staleness(start)
			metrics.SetPlaylistStaleness(staleness)
			if staleness <= w.cfg.StaleAfter {
				continue
			}

			logger.Warn().
				Str(log.FieldEvent, "watchdog.stall").
				Str(log.FieldPlaylistPath, w.cfg.PlaylistPath).
				Dur("staleness", staleness).
				Dur("threshold", w.cfg.StaleAfter).
				Msg("playlist stale, terminating muxer")
			metrics.WatchdogKills.Inc()
			if err := w.term.Stop(); err != nil {
				logger.Error().Err(err).Msg("stall termination failed")
			}
			return ErrStalled
		}
	}
}

func (w *Watchdog) staleness(start time.Time) time.Duration {
	fi, err := os.Stat(w.cfg.PlaylistPath)
	if err != nil {
		return w.clock.Now().Sub(start)
	}
	return w.clock.Now().Sub(fi.ModTime())
}
