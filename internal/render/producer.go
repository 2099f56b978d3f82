// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

package render

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/starlitetv/vjd/internal/fsutil"
	"github.com/starlitetv/vjd/internal/log"
	"github.com/starlitetv/vjd/internal/metrics"
)

// TaskSource supplies the next unit of work. Next blocks until a task is
// available or ctx ends.
type TaskSource interface {
	Next(ctx context.Context) (Task, error)
}

// Enqueuer hands finished segments to the feed stage. Enqueue blocks while
// the queue is full and returns an error only when the queue is closed or
// ctx ends.
type Enqueuer interface {
	Enqueue(ctx context.Context, seg *StagedSegment) error
}

// SegmentRenderer renders one task into staging storage.
type SegmentRenderer interface {
	Render(ctx context.Context, t Task) (*StagedSegment, error)
}

const defaultGuardPoll = 5 * time.Second

// StagingGuard blocks the producer while staging storage is saturated,
// either too many undelivered segments or too little free disk. Without it
// a stalled feeder would let the renderer fill the disk.
type StagingGuard struct {
	Dir          string
	MaxFiles     int
	MinFreeBytes int64
	Poll         time.Duration

	logger zerolog.Logger
}

func NewStagingGuard(dir string, maxFiles int, minFreeBytes int64) *StagingGuard {
	return &StagingGuard{
		Dir:          dir,
		MaxFiles:     maxFiles,
		MinFreeBytes: minFreeBytes,
		Poll:         defaultGuardPoll,
		logger:       log.WithComponent("staging-guard"),
	}
}

// Wait returns once staging storage has room for another segment.
func (g *StagingGuard) Wait(ctx context.Context) error {
	for {
		reason := g.check()
		if reason == "" {
			return nil
		}
		metrics.IncStagingGuardWait(reason)
		g.logger.Warn().
			Str(log.FieldEvent, "staging.saturated").
			Str(log.FieldReason, reason).
			Str(log.FieldStagingPath, g.Dir).
			Msg("staging saturated, pausing renders")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.Poll):
		}
	}
}

func (g *StagingGuard) check() string {
	if g.MaxFiles > 0 {
		if n, err := fsutil.CountFiles(g.Dir, ".ts"); err == nil && n >= g.MaxFiles {
			return "max_files"
		}
	}
	if g.MinFreeBytes > 0 {
		if free, err := fsutil.FreeBytes(g.Dir); err == nil && free < g.MinFreeBytes {
			return "disk_space"
		}
	}
	return ""
}

// Producer is the session's render loop: pull a task, render it at the
// next timeline offset, commit the offset, enqueue the segment. A failed
// render skips to the next task without committing, so the timeline never
// gains a hole.
type Producer struct {
	source TaskSource
	render SegmentRenderer
	queue  Enqueuer
	alloc  *OffsetAllocator
	guard  *StagingGuard
	logger zerolog.Logger
	seq    int64
}

// NewProducer wires a render loop. guard may be nil.
func NewProducer(source TaskSource, r SegmentRenderer, q Enqueuer, alloc *OffsetAllocator, guard *StagingGuard) *Producer {
	return &Producer{
		source: source,
		render: r,
		queue:  q,
		alloc:  alloc,
		guard:  guard,
		logger: log.WithComponent("producer"),
	}
}

// Run renders until ctx ends. It returns nil on cancellation and an error
// only when the task source or queue fails while the session is alive.
func (p *Producer) Run(ctx context.Context) error {
	logger := log.WithContext(ctx, p.logger)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if p.guard != nil {
			if err := p.guard.Wait(ctx); err != nil {
				return nil
			}
		}

		task, err := p.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("task source: %w", err)
		}

		p.seq++
		task.Seq = p.seq
		task.Offset = p.alloc.Next()

		seg, err := p.render.Render(log.ContextWithTaskSeq(ctx, task.Seq), task)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Offset was not committed; the next task takes this slot.
			logger.Warn().
				Str(log.FieldEvent, "render.failed").
				Int64(log.FieldTaskSeq, task.Seq).
				Err(err).
				Msg("skipping failed render")
			continue
		}

		p.alloc.Commit(seg.Duration)

		// Ownership must flip before the send; the feeder may pick the
		// segment up the instant it lands in the channel.
		seg.Owner = OwnerFeeder
		if err := p.queue.Enqueue(ctx, seg); err != nil {
			// The segment never reached the feeder, so it is ours to
			// clean up again.
			seg.Owner = OwnerRenderer
			if rmErr := fsutil.RemoveIfExists(seg.Path); rmErr != nil {
				logger.Warn().Err(rmErr).Str(log.FieldPath, seg.Path).Msg("failed to remove unqueued segment")
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("enqueue segment %d: %w", seg.Seq, err)
		}
	}
}
