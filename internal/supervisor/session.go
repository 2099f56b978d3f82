// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/starlitetv/vjd/internal/audiofeed"
	"github.com/starlitetv/vjd/internal/config"
	"github.com/starlitetv/vjd/internal/feeder"
	"github.com/starlitetv/vjd/internal/fsutil"
	"github.com/starlitetv/vjd/internal/log"
	"github.com/starlitetv/vjd/internal/metrics"
	"github.com/starlitetv/vjd/internal/muxer"
	"github.com/starlitetv/vjd/internal/render"
	"github.com/starlitetv/vjd/internal/stagequeue"
	"github.com/starlitetv/vjd/internal/surfaces"
	"github.com/starlitetv/vjd/internal/watchdog"
)

const (
	prebufferPoll = 100 * time.Millisecond
	journalGrace  = 5 * time.Second
)

// errMuxerExited reports a muxer that died without anyone asking it to.
var errMuxerExited = errors.New("muxer exited unexpectedly")

// runSession builds, runs, and tears down one complete session. It returns
// the exit reason label and the error that ended the session; ending
// because ctx was canceled returns ("shutdown", nil).
func (s *Supervisor) runSession(ctx context.Context) (string, error) {
	id := uuid.NewString()
	tag := strings.SplitN(id, "-", 2)[0]
	start := time.Now()

	logger := s.logger.With().Str(log.FieldSessionID, id).Logger()
	logger.Info().
		Str(log.FieldEvent, "session.start").
		Str("mode", string(s.cfg.Mode)).
		Msg("session starting")

	if s.journal != nil {
		if err := s.journal.RecordStart(ctx, id, string(s.cfg.Mode), start); err != nil {
			logger.Warn().Err(err).Msg("failed to journal session start")
		}
	}

	queue := stagequeue.New(s.cfg.Staging.QueueCapacity)
	s.alloc.Reset()
	s.noteSession(id, start, queue)

	sctx, cancel := context.WithCancel(log.ContextWithSessionID(ctx, id))
	defer cancel()
	g, gctx := errgroup.WithContext(sctx)

	mux, surf, launchErr := s.launch(gctx, g, logger, id, tag, queue)

	var runErr error
	if launchErr != nil {
		cancel()
		// A component may have failed first and made the launch step fail
		// with a bare cancellation; the component's error is the cause.
		if werr := g.Wait(); werr != nil {
			runErr = werr
		} else {
			runErr = launchErr
		}
	} else {
		s.setState(StateStreaming)
		s.publishStatus()
		runErr = g.Wait()
	}

	// Teardown. Order matters: stop the processes first, then drop what
	// they were consuming, then sweep the disk.
	cancel()
	exitCode := 0
	if mux != nil {
		if err := mux.Stop(); err != nil {
			logger.Warn().Err(err).Msg("muxer stop failed")
		}
		exitCode = mux.Wait().Code
	}
	if surf != nil {
		if err := surf.Stop(); err != nil {
			logger.Warn().Err(err).Msg("surfaces stop failed")
		}
	}

	queue.Close()
	dropped := queue.Drain()
	for _, seg := range dropped {
		if err := fsutil.RemoveIfExists(seg.Path); err != nil {
			logger.Warn().Err(err).Str(log.FieldPath, seg.Path).Msg("failed to delete dropped segment")
		}
	}
	if len(dropped) > 0 {
		metrics.SegmentsDropped.Add(float64(len(dropped)))
		logger.Info().Int("segments", len(dropped)).Msg("dropped queued segments")
	}

	if removed, err := fsutil.RemoveGlob(s.cfg.Staging.Dir, "*.ts"); err != nil {
		logger.Warn().Err(err).Str(log.FieldStagingPath, s.cfg.Staging.Dir).Msg("staging sweep failed")
	} else if removed > 0 {
		logger.Info().Int("files", removed).Msg("swept staging files")
	}
	if err := fsutil.RemoveIfExists(s.fifoPath()); err != nil {
		logger.Warn().Err(err).Msg("failed to remove audio fifo")
	}

	reason := exitReason(runErr)
	if s.journal != nil {
		jctx, jcancel := context.WithTimeout(context.WithoutCancel(ctx), journalGrace)
		if err := s.journal.RecordExit(jctx, id, time.Now(), exitCode, reason); err != nil {
			logger.Warn().Err(err).Msg("failed to journal session exit")
		}
		jcancel()
	}

	metrics.ObserveSessionDuration(time.Since(start))
	logger.Info().
		Str(log.FieldEvent, "session.end").
		Str(log.FieldReason, reason).
		Int(log.FieldExitCode, exitCode).
		Dur(log.FieldDuration, time.Since(start)).
		Msg("session ended")
	return reason, runErr
}

// launch starts every session component into g. The returned muxer and
// surfaces may be non-nil even when err is set; the caller tears down
// whatever was already running.
func (s *Supervisor) launch(gctx context.Context, g *errgroup.Group, logger zerolog.Logger, id, tag string, queue *stagequeue.Queue) (*muxer.Session, *surfaces.Surfaces, error) {
	if removed, err := muxer.ResetPublishDir(s.cfg.PublishDir); err != nil {
		return nil, nil, fmt.Errorf("reset publish dir: %w", err)
	} else if removed > 0 {
		logger.Info().Int("files", removed).Str(log.FieldPath, s.cfg.PublishDir).Msg("cleared stale publish files")
	}

	fifoPath := s.fifoPath()
	if err := audiofeed.CreateFIFO(fifoPath); err != nil {
		return nil, nil, fmt.Errorf("create audio fifo: %w", err)
	}

	var surf *surfaces.Surfaces
	if s.cfg.Surfaces.Enabled {
		surf = surfaces.New(surfaces.Config{
			XvfbBin:     s.cfg.Surfaces.XvfbBin,
			Display:     s.cfg.Surfaces.Display,
			ScreenSize:  s.cfg.Surfaces.ScreenSize,
			BrowserCmd:  s.cfg.Surfaces.BrowserCmd,
			SurfaceURL:  s.cfg.Surfaces.SurfaceURL,
			ProfileDir:  s.cfg.Surfaces.ProfileDir,
			SettleDelay: s.cfg.Surfaces.SettleDelay,
		})
		if err := surf.Start(gctx); err != nil {
			return nil, surf, fmt.Errorf("start surfaces: %w", err)
		}
	}

	audio := audiofeed.New(audiofeed.Config{
		Bin:        s.cfg.FFmpegBin,
		MusicDir:   s.cfg.MusicDir,
		FIFOPath:   fifoPath,
		SampleRate: s.cfg.Audio.SampleRate,
		Channels:   s.cfg.Audio.Channels,
	})
	g.Go(func() error {
		if err := audio.Run(gctx); err != nil {
			return fmt.Errorf("audio feed: %w", err)
		}
		return nil
	})

	if s.cfg.Mode == config.ModePipe {
		if s.tasks == nil {
			return nil, surf, errors.New("pipe mode requires a task source")
		}
		renderer := render.NewRenderer(render.RendererConfig{
			Bin: s.cfg.FFmpegBin,
			Encoding: render.Encoding{
				Width:   s.cfg.Video.Width,
				Height:  s.cfg.Video.Height,
				FPS:     s.cfg.Video.FPS,
				Bitrate: s.cfg.Video.Bitrate,
				Codec:   s.cfg.Video.Codec,
				Preset:  s.cfg.Video.Preset,
				PixFmt:  s.cfg.Video.PixFmt,
			},
			BugPath:    s.cfg.BugPath,
			StagingDir: s.cfg.Staging.Dir,
			SessionTag: tag,
		})
		guard := render.NewStagingGuard(s.cfg.Staging.Dir, s.cfg.Staging.MaxFiles, s.cfg.Staging.MinFreeBytes)
		producer := render.NewProducer(s.tasks, renderer, queue, s.alloc, guard)
		g.Go(func() error {
			if err := producer.Run(gctx); err != nil {
				return fmt.Errorf("producer: %w", err)
			}
			return nil
		})

		// The muxer paces its input in real time, so it must not start
		// against an empty queue or the playlist stutters immediately.
		if s.cfg.Staging.Prebuffer > 0 {
			s.setState(StatePrebuffering)
			s.publishStatus()
			logger.Info().
				Str(log.FieldEvent, "session.prebuffer").
				Int("segments", s.cfg.Staging.Prebuffer).
				Msg("prebuffering")
			if err := waitForDepth(gctx, queue, s.cfg.Staging.Prebuffer); err != nil {
				return nil, surf, fmt.Errorf("prebuffer: %w", err)
			}
		}
	}

	audioSpec := muxer.AudioSpec{
		FIFOPath:   fifoPath,
		SampleRate: s.cfg.Audio.SampleRate,
		Channels:   s.cfg.Audio.Channels,
		Codec:      s.cfg.Audio.Codec,
		Bitrate:    s.cfg.Audio.Bitrate,
	}
	hlsSpec := muxer.HLSSpec{
		Dir:            s.cfg.PublishDir,
		SegmentSeconds: s.cfg.HLS.SegmentSeconds,
		WindowSize:     s.cfg.HLS.WindowSize,
		Flags:          s.cfg.HLS.Flags,
	}

	var (
		args []string
		err  error
	)
	switch s.cfg.Mode {
	case config.ModeCapture:
		args, err = muxer.BuildCaptureArgs(s.cfg.Surfaces.Display, muxer.VideoSpec{
			Width:   s.cfg.Video.Width,
			Height:  s.cfg.Video.Height,
			FPS:     s.cfg.Video.FPS,
			Bitrate: s.cfg.Video.Bitrate,
			Codec:   s.cfg.Video.Codec,
			Preset:  s.cfg.Video.Preset,
			PixFmt:  s.cfg.Video.PixFmt,
		}, audioSpec, hlsSpec)
	default:
		args, err = muxer.BuildPipeArgs(audioSpec, hlsSpec)
	}
	if err != nil {
		return nil, surf, fmt.Errorf("build muxer args: %w", err)
	}

	mux := muxer.NewSession(id, s.cfg.FFmpegBin, args, s.cfg.Watchdog.KillGrace, s.cfg.Mode == config.ModePipe)
	if err := mux.Start(); err != nil {
		return nil, surf, fmt.Errorf("start muxer: %w", err)
	}

	if s.cfg.Mode == config.ModePipe {
		f := feeder.New(queue, mux.Stdin())
		g.Go(func() error {
			if err := f.Run(gctx); err != nil {
				return fmt.Errorf("feeder: %w", err)
			}
			return nil
		})
	}

	wd := watchdog.New(watchdog.Config{
		PlaylistPath: hlsSpec.PlaylistPath(),
		Poll:         s.cfg.Watchdog.Poll,
		StaleAfter:   s.cfg.Watchdog.StaleAfter,
	}, mux)
	g.Go(func() error {
		return wd.Run(gctx)
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-mux.Done():
			if mux.StopRequested() {
				// The watchdog or the teardown asked for this exit; they
				// report the reason themselves.
				return nil
			}
			st := mux.Wait()
			return fmt.Errorf("%w with code %d", errMuxerExited, st.Code)
		}
	})

	return mux, surf, nil
}

// waitForDepth blocks until the queue holds at least want segments. Nothing
// drains the queue during the prebuffer phase, so depth only grows.
func waitForDepth(ctx context.Context, q *stagequeue.Queue, want int) error {
	if want > q.Capacity() {
		want = q.Capacity()
	}
	tick := time.NewTicker(prebufferPoll)
	defer tick.Stop()
	for {
		if q.Depth() >= want {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}
