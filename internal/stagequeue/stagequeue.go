// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package stagequeue is the bounded handoff between the render stage and
// the feed stage. The bound is the pipeline's backpressure: when the feeder
// stalls, the queue fills, enqueue blocks, and rendering pauses instead of
// flooding staging storage.
package stagequeue

import (
	"context"
	"errors"
	"sync"

	"github.com/starlitetv/vjd/internal/metrics"
	"github.com/starlitetv/vjd/internal/render"
)

// DefaultCapacity bounds undelivered segments per session.
const DefaultCapacity = 20

// ErrClosed is returned by Enqueue and Dequeue once the queue is shut.
var ErrClosed = errors.New("stagequeue: closed")

// Queue is a FIFO of staged segment handles. Segment bytes stay on disk;
// only the handles flow through the channel.
type Queue struct {
	ch        chan *render.StagedSegment
	done      chan struct{}
	closeOnce sync.Once
}

// New builds a queue with the given capacity, or DefaultCapacity if cap
// is not positive.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		ch:   make(chan *render.StagedSegment, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue blocks while the queue is full. It returns ctx's error on
// cancellation and ErrClosed once the queue is shut.
func (q *Queue) Enqueue(ctx context.Context, seg *render.StagedSegment) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- seg:
		metrics.SetQueueDepth(len(q.ch))
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks while the queue is empty. It returns ctx's error on
// cancellation and ErrClosed once the queue is shut.
func (q *Queue) Dequeue(ctx context.Context) (*render.StagedSegment, error) {
	select {
	case seg := <-q.ch:
		metrics.SetQueueDepth(len(q.ch))
		return seg, nil
	case <-q.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Depth reports the number of queued segments.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// Capacity reports the queue bound.
func (q *Queue) Capacity() int {
	return cap(q.ch)
}

// Close unblocks all pending Enqueue and Dequeue calls. Safe to call more
// than once. Queued segments stay in the queue for Drain; the producer
// must already be stopped, a send racing Close may still land.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Drain empties the queue without blocking and returns the remainder in
// FIFO order. The session teardown uses this to collect the segments it
// must drop and delete.
func (q *Queue) Drain() []*render.StagedSegment {
	var out []*render.StagedSegment
	for {
		select {
		case seg := <-q.ch:
			out = append(out, seg)
		default:
			metrics.SetQueueDepth(len(q.ch))
			return out
		}
	}
}
