// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

package render

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/starlitetv/vjd/internal/fsutil"
	"github.com/starlitetv/vjd/internal/log"
	"github.com/starlitetv/vjd/internal/metrics"
	"github.com/starlitetv/vjd/internal/procgroup"
)

const (
	defaultRenderTimeout = 5 * time.Minute
	stderrTailBytes      = 500
)

// RendererConfig carries the per-session constants of the render stage.
type RendererConfig struct {
	// Bin is the ffmpeg binary, empty means "ffmpeg" from PATH.
	Bin      string
	Encoding Encoding
	// BugPath is the optional station bug image composited into every
	// segment. Empty disables the bug.
	BugPath    string
	StagingDir string
	// SessionTag is folded into staging filenames so two sessions can
	// never collide on a name, even if a staging wipe was incomplete.
	SessionTag string
	// Timeout bounds a single render. Blend renders get twice this,
	// they decode two sources.
	Timeout time.Duration
}

// Renderer executes render tasks one at a time, writing each result to a
// uniquely named file in staging storage.
type Renderer struct {
	cfg    RendererConfig
	logger zerolog.Logger
}

func NewRenderer(cfg RendererConfig) *Renderer {
	if cfg.Bin == "" {
		cfg.Bin = "ffmpeg"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRenderTimeout
	}
	return &Renderer{
		cfg:    cfg,
		logger: log.WithComponent("render"),
	}
}

// OutputPath returns the staging file a task renders into. Sequence numbers
// never repeat within a session, so neither do filenames.
func (r *Renderer) OutputPath(t Task) string {
	name := fmt.Sprintf("seg_%06d.ts", t.Seq)
	if r.cfg.SessionTag != "" {
		name = fmt.Sprintf("seg_%s_%06d.ts", r.cfg.SessionTag, t.Seq)
	}
	return filepath.Join(r.cfg.StagingDir, name)
}

// Render executes one task. On success the returned segment exists in
// staging storage and is owned by the renderer until enqueued. On failure
// any partial output has been deleted and the timeline is untouched; the
// caller must not commit the task's offset.
func (r *Renderer) Render(ctx context.Context, t Task) (*StagedSegment, error) {
	logger := log.WithContext(ctx, r.logger)
	outPath := r.OutputPath(t)

	var (
		args []string
		err  error
	)
	timeout := r.cfg.Timeout
	if t.Overlay != "" {
		args, err = BuildBlendArgs(t, r.cfg.Encoding, r.cfg.BugPath, outPath)
		timeout *= 2
	} else {
		args, err = BuildClipArgs(t, r.cfg.Encoding, r.cfg.BugPath, outPath)
	}
	if err != nil {
		return nil, fmt.Errorf("render task %d: %w", t.Seq, err)
	}

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// ffmpeg must not read the terminal; renders run headless.
	cmd := exec.CommandContext(rctx, r.cfg.Bin, append([]string{"-nostdin"}, args...)...)
	procgroup.Set(cmd)
	cmd.Cancel = func() error {
		return procgroup.Kill(cmd, syscall.SIGKILL)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)
	metrics.ObserveRenderDuration(elapsed)

	if runErr != nil {
		// Never leave a partial segment behind, the feeder would push
		// garbage into the live stream.
		if rmErr := fsutil.RemoveIfExists(outPath); rmErr != nil {
			logger.Warn().Err(rmErr).Str(log.FieldPath, outPath).Msg("failed to remove partial segment")
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		metrics.IncSegmentRendered("failed")
		logger.Warn().
			Err(runErr).
			Str("source", filepath.Base(t.Source)).
			Dur(log.FieldDuration, elapsed).
			Str("stderr_tail", tail(stderr.Bytes(), stderrTailBytes)).
			Msg("render failed")
		return nil, fmt.Errorf("render task %d: %w", t.Seq, runErr)
	}

	if err := fsutil.IsRegularFile(outPath); err != nil {
		metrics.IncSegmentRendered("failed")
		return nil, fmt.Errorf("render task %d: ffmpeg exited clean but wrote no usable output: %w", t.Seq, err)
	}

	metrics.IncSegmentRendered("ok")
	logger.Debug().
		Str(log.FieldPath, outPath).
		Dur(log.FieldOffset, t.Offset).
		Dur(log.FieldDuration, t.OutputDuration()).
		Msg("segment rendered")

	return &StagedSegment{
		Path:     outPath,
		Duration: t.OutputDuration(),
		Offset:   t.Offset,
		Seq:      t.Seq,
		Owner:    OwnerRenderer,
	}, nil
}

func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(bytes.TrimSpace(b))
	}
	return string(bytes.TrimSpace(b[len(b)-n:]))
}
