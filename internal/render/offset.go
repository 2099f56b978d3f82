// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

package render

import (
	"sync"
	"time"

	"github.com/starlitetv/vjd/internal/metrics"
)

// OffsetAllocator hands out cumulative timeline offsets. Next returns the
// offset the upcoming segment must start at; Commit advances the timeline
// by the segment's output duration once the render succeeded. A failed
// render never calls Commit, so the failed slot is reassigned to the next
// task and the timeline stays contiguous.
type OffsetAllocator struct {
	mu   sync.Mutex
	next time.Duration
}

// NewOffsetAllocator starts a timeline at zero.
func NewOffsetAllocator() *OffsetAllocator {
	return &OffsetAllocator{}
}

// Next returns the timeline offset for the next segment. It does not
// advance the timeline.
func (a *OffsetAllocator) Next() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}

// Commit advances the timeline by d and returns the new cumulative offset.
func (a *OffsetAllocator) Commit(d time.Duration) time.Duration {
	a.mu.Lock()
	a.next += d
	cur := a.next
	a.mu.Unlock()
	metrics.SetTimelineOffset(cur)
	return cur
}

// Reset rewinds the timeline to zero. Called when a new muxer session
// starts, since each session re-times its output from scratch.
func (a *OffsetAllocator) Reset() {
	a.mu.Lock()
	a.next = 0
	a.mu.Unlock()
	metrics.SetTimelineOffset(0)
}
