// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package feeder drains the staging queue in order and streams each
// segment's bytes into the muxer. It owns staging-file lifetimes: a file
// is deleted only after every one of its bytes reached the sink, so the
// muxer can never lose input it has not consumed yet.
package feeder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/starlitetv/vjd/internal/log"
	"github.com/starlitetv/vjd/internal/metrics"
	"github.com/starlitetv/vjd/internal/render"
	"github.com/starlitetv/vjd/internal/stagequeue"
)

const copyBufSize = 64 * 1024

// Dequeuer hands out staged segments in FIFO order.
type Dequeuer interface {
	Dequeue(ctx context.Context) (*render.StagedSegment, error)
}

// ErrSinkClosed reports that the muxer stopped accepting input. The
// session is dead; the supervisor must tear it down and start over.
var ErrSinkClosed = errors.New("feeder: muxer input closed")

// Feeder is the consumer half of the pipeline.
type Feeder struct {
	queue  Dequeuer
	sink   io.Writer
	logger zerolog.Logger
	buf    []byte
}

// New wires a feeder to a queue and the muxer's input stream.
func New(queue Dequeuer, sink io.Writer) *Feeder {
	return &Feeder{
		queue:  queue,
		sink:   sink,
		logger: log.WithComponent("feeder"),
		buf:    make([]byte, copyBufSize),
	}
}

// Run feeds segments until ctx ends or the queue closes, both of which
// return nil. A transfer failure returns an error wrapping ErrSinkClosed;
// the segment's file is left in place for the session teardown to sweep.
func (f *Feeder) Run(ctx context.Context) error {
	f.logger = log.WithContext(ctx, f.logger)
	for {
		seg, err := f.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, stagequeue.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("dequeue: %w", err)
		}
		if err := f.feed(seg); err != nil {
			return err
		}
	}
}

// feed transfers one segment. Segments are never interleaved or reordered;
// the sink sees exactly the bytes of each file, back to back, in enqueue
// order.
func (f *Feeder) feed(seg *render.StagedSegment) error {
	src, err := os.Open(seg.Path)
	if err != nil {
		// Nothing was written, so feeding the next segment would tear a
		// hole in the timeline. Give up on the session.
		return fmt.Errorf("open staged segment %d: %w", seg.Seq, err)
	}

	n, copyErr := io.CopyBuffer(f.sink, src, f.buf)
	closeErr := src.Close()
	metrics.AddFeederBytes(n)

	if copyErr != nil {
		// The file stays: its bytes may be mid-flight in the muxer and
		// deletion is only permitted after full consumption.
		f.logger.Error().
			Err(copyErr).
			Int64(log.FieldTaskSeq, seg.Seq).
			Str(log.FieldPath, seg.Path).
			Int64("bytes_written", n).
			Msg("segment transfer failed")
		return fmt.Errorf("feed segment %d after %d bytes: %w: %w", seg.Seq, n, ErrSinkClosed, copyErr)
	}
	if closeErr != nil {
		f.logger.Warn().Err(closeErr).Str(log.FieldPath, seg.Path).Msg("staged segment close failed")
	}

	if seg.Owner != render.OwnerFeeder {
		// Protocol violation; refuse to delete what we do not own.
		f.logger.Error().
			Int64(log.FieldTaskSeq, seg.Seq).
			Str("owner", string(seg.Owner)).
			Msg("fed a segment the feeder does not own, leaving file in place")
	} else if err := os.Remove(seg.Path); err != nil && !os.IsNotExist(err) {
		f.logger.Warn().Err(err).Str(log.FieldPath, seg.Path).Msg("failed to delete consumed segment")
	}

	metrics.SegmentsFed.Inc()
	f.logger.Debug().
		Int64(log.FieldTaskSeq, seg.Seq).
		Int64("bytes", n).
		Dur(log.FieldOffset, seg.Offset).
		Msg("segment fed")
	return nil
}
