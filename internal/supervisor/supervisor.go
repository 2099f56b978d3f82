// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package supervisor owns the 24/7 restart loop. It builds one complete
// session at a time (renderer, staging queue, feeder, audio feed, muxer,
// watchdog), runs it until any part fails, tears the whole thing down, and
// starts over after a cooldown. Sessions share nothing but the playout
// rotation and the publish directory.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/starlitetv/vjd/internal/audiofeed"
	"github.com/starlitetv/vjd/internal/config"
	"github.com/starlitetv/vjd/internal/feeder"
	"github.com/starlitetv/vjd/internal/fsutil"
	"github.com/starlitetv/vjd/internal/journal"
	"github.com/starlitetv/vjd/internal/log"
	"github.com/starlitetv/vjd/internal/metrics"
	"github.com/starlitetv/vjd/internal/publish"
	"github.com/starlitetv/vjd/internal/render"
	"github.com/starlitetv/vjd/internal/stagequeue"
	"github.com/starlitetv/vjd/internal/watchdog"
)

// State names the supervisor's phase for status reporting.
type State string

const (
	StateStarting     State = "starting"
	StatePrebuffering State = "prebuffering"
	StateStreaming    State = "streaming"
	StateRestarting   State = "restarting"
	StateStopped      State = "stopped"
)

const (
	lockFileName = "vjd.lock"
	fifoName     = "audio.fifo"
)

// ErrAlreadyRunning reports that another daemon holds the staging lock.
var ErrAlreadyRunning = errors.New("supervisor: another instance is already running")

// Supervisor runs sessions until its context ends. One Supervisor serves
// one daemon.
type Supervisor struct {
	cfg     config.Config
	tasks   render.TaskSource
	journal *journal.Store
	logger  zerolog.Logger
	alloc   *render.OffsetAllocator

	// Both are seams for the restart-loop tests.
	sleep  func(ctx context.Context, d time.Duration) error
	runOne func(ctx context.Context) (string, error)

	mu           sync.Mutex
	state        State
	sessionID    string
	sessionStart time.Time
	restarts     int64
	queue        *stagequeue.Queue
}

// New wires a supervisor. tasks may be nil in capture mode; store may be
// nil to run without a session journal.
func New(cfg config.Config, tasks render.TaskSource, store *journal.Store) *Supervisor {
	s := &Supervisor{
		cfg:     cfg,
		tasks:   tasks,
		journal: store,
		logger:  log.WithComponent("supervisor"),
		alloc:   render.NewOffsetAllocator(),
		sleep:   sleepCtx,
		state:   StateStarting,
	}
	s.runOne = s.runSession
	return s
}

// Run acquires the single-instance lock and loops sessions until ctx ends.
// A dying session is never fatal; the loop always relaunches after the
// cooldown. Run returns nil on shutdown and an error only for conditions
// that make running impossible at all.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := fsutil.EnsureDir(s.cfg.Staging.Dir); err != nil {
		return err
	}
	if err := fsutil.EnsureDir(s.cfg.PublishDir); err != nil {
		return err
	}

	lock := flock.New(filepath.Join(s.cfg.Staging.Dir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to release instance lock")
		}
		_ = fsutil.RemoveIfExists(lock.Path())
	}()

	s.logger.Info().
		Str(log.FieldEvent, "supervisor.start").
		Str("mode", string(s.cfg.Mode)).
		Str(log.FieldStagingPath, s.cfg.Staging.Dir).
		Msg("supervisor started")

	for {
		if ctx.Err() != nil {
			break
		}
		s.setState(StateStarting)
		s.publishStatus()

		reason, runErr := s.runOne(ctx)

		if ctx.Err() != nil {
			break
		}

		s.mu.Lock()
		s.restarts++
		restarts := s.restarts
		s.mu.Unlock()
		metrics.IncSessionRestart(reason)

		s.logger.Warn().
			Str(log.FieldEvent, "session.restart").
			Err(runErr).
			Str(log.FieldReason, reason).
			Int64("restarts", restarts).
			Dur("cooldown", s.cfg.RestartCooldown).
			Msg("session ended, restarting")

		s.setState(StateRestarting)
		s.publishStatus()
		if err := s.sleep(ctx, s.cfg.RestartCooldown); err != nil {
			break
		}
	}

	s.setState(StateStopped)
	s.publishStatus()
	s.logger.Info().Str(log.FieldEvent, "supervisor.stop").Msg("supervisor stopped")
	return nil
}

// Snapshot reports the live pipeline state for the status endpoints.
func (s *Supervisor) Snapshot() publish.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := publish.Snapshot{
		State:           string(s.state),
		Mode:            string(s.cfg.Mode),
		SessionID:       s.sessionID,
		Restarts:        s.restarts,
		QueueCapacity:   s.cfg.Staging.QueueCapacity,
		TimelineSeconds: s.alloc.Next().Seconds(),
		UpdatedAt:       time.Now().UTC(),
	}
	if !s.sessionStart.IsZero() {
		started := s.sessionStart
		snap.SessionStartedAt = &started
	}
	if s.queue != nil {
		snap.QueueDepth = s.queue.Depth()
	}
	return snap
}

// publishStatus mirrors the snapshot into the publish directory so plain
// file hosting exposes it alongside the playlist.
func (s *Supervisor) publishStatus() {
	if err := publish.WriteStatusFile(s.cfg.PublishDir, s.Snapshot()); err != nil {
		s.logger.Warn().Err(err).Msg("failed to write status file")
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Supervisor) noteSession(id string, start time.Time, q *stagequeue.Queue) {
	s.mu.Lock()
	s.sessionID = id
	s.sessionStart = start
	s.queue = q
	s.mu.Unlock()
}

func (s *Supervisor) fifoPath() string {
	return filepath.Join(s.cfg.Staging.Dir, fifoName)
}

// exitReason maps a session error to its restart-reason label.
func exitReason(err error) string {
	switch {
	case err == nil:
		return "shutdown"
	case errors.Is(err, watchdog.ErrStalled):
		return "stalled"
	case errors.Is(err, errMuxerExited):
		return "muxer_exit"
	case errors.Is(err, audiofeed.ErrFIFOBroken):
		return "audio_lost"
	case errors.Is(err, feeder.ErrSinkClosed):
		return "feed_failed"
	default:
		return "error"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
