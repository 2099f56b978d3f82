// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

package render

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffsetAllocatorContiguous(t *testing.T) {
	alloc := NewOffsetAllocator()
	rng := rand.New(rand.NewSource(7))

	var prev, prevDur time.Duration
	for i := 0; i < 200; i++ {
		dur := time.Duration(rng.Intn(30)+1) * time.Second

		off := alloc.Next()
		if i > 0 {
			require.Equal(t, prev+prevDur, off, "segment %d must start where the previous ended", i)
			require.Greater(t, off, prev)
		}
		alloc.Commit(dur)

		prev, prevDur = off, dur
	}
}

func TestOffsetAllocatorFailedRenderDoesNotAdvance(t *testing.T) {
	alloc := NewOffsetAllocator()
	alloc.Commit(10 * time.Second)

	// Two failed attempts: Next is consulted but never committed.
	assert.Equal(t, 10*time.Second, alloc.Next())
	assert.Equal(t, 10*time.Second, alloc.Next())

	alloc.Commit(5 * time.Second)
	assert.Equal(t, 15*time.Second, alloc.Next())
}

func TestOffsetAllocatorReset(t *testing.T) {
	alloc := NewOffsetAllocator()
	alloc.Commit(time.Minute)
	require.Equal(t, time.Minute, alloc.Next())

	alloc.Reset()
	assert.Equal(t, time.Duration(0), alloc.Next())
}
