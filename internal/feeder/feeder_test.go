// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

package feeder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/starlitetv/vjd/internal/render"
	"github.com/starlitetv/vjd/internal/stagequeue"
)

// sliceDequeuer serves a fixed segment list, then reports the queue closed.
type sliceDequeuer struct {
	segs []*render.StagedSegment
}

func (s *sliceDequeuer) Dequeue(context.Context) (*render.StagedSegment, error) {
	if len(s.segs) == 0 {
		return nil, stagequeue.ErrClosed
	}
	seg := s.segs[0]
	s.segs = s.segs[1:]
	return seg, nil
}

func stageFile(t *testing.T, dir, name string, content []byte) *render.StagedSegment {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return &render.StagedSegment{Path: path, Owner: render.OwnerFeeder}
}

func TestFeederFeedsInOrderAndDeletes(t *testing.T) {
	dir := t.TempDir()
	a := stageFile(t, dir, "seg_000001.ts", bytes.Repeat([]byte("A"), 100*1024))
	b := stageFile(t, dir, "seg_000002.ts", []byte("BB"))
	c := stageFile(t, dir, "seg_000003.ts", []byte("CCC"))
	a.Seq, b.Seq, c.Seq = 1, 2, 3

	var sink bytes.Buffer
	f := New(&sliceDequeuer{segs: []*render.StagedSegment{a, b, c}}, &sink)

	require.NoError(t, f.Run(context.Background()))

	want := append(bytes.Repeat([]byte("A"), 100*1024), []byte("BBCCC")...)
	assert.Equal(t, want, sink.Bytes(), "sink must see whole segments back to back in enqueue order")

	assert.NoFileExists(t, a.Path)
	assert.NoFileExists(t, b.Path)
	assert.NoFileExists(t, c.Path)
}

// limitedSink accepts n bytes, then fails like a closed pipe.
type limitedSink struct {
	n       int
	written int
}

func (s *limitedSink) Write(p []byte) (int, error) {
	room := s.n - s.written
	if room <= 0 {
		return 0, os.ErrClosed
	}
	if len(p) > room {
		s.written += room
		return room, os.ErrClosed
	}
	s.written += len(p)
	return len(p), nil
}

func TestFeederKeepsFileWhenTransferFails(t *testing.T) {
	dir := t.TempDir()
	seg := stageFile(t, dir, "seg_000001.ts", bytes.Repeat([]byte("x"), 256*1024))
	next := stageFile(t, dir, "seg_000002.ts", []byte("never fed"))

	f := New(&sliceDequeuer{segs: []*render.StagedSegment{seg, next}}, &limitedSink{n: 70 * 1024})

	err := f.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSinkClosed)

	// Deletion requires full consumption; a half-fed file must survive.
	assert.FileExists(t, seg.Path)
	// The session is dead, so later segments are never consumed.
	assert.FileExists(t, next.Path)
}

func TestFeederFailsWhenSegmentUnreadable(t *testing.T) {
	seg := &render.StagedSegment{Path: filepath.Join(t.TempDir(), "gone.ts"), Seq: 4, Owner: render.OwnerFeeder}
	f := New(&sliceDequeuer{segs: []*render.StagedSegment{seg}}, &bytes.Buffer{})

	err := f.Run(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSinkClosed)
}

func TestFeederRefusesToDeleteUnownedSegment(t *testing.T) {
	dir := t.TempDir()
	seg := stageFile(t, dir, "seg_000001.ts", []byte("data"))
	seg.Owner = render.OwnerRenderer

	var sink bytes.Buffer
	f := New(&sliceDequeuer{segs: []*render.StagedSegment{seg}}, &sink)

	require.NoError(t, f.Run(context.Background()))
	assert.Equal(t, "data", sink.String())
	assert.FileExists(t, seg.Path, "feeder must not delete a file it does not own")
}

func TestFeederStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := stagequeue.New(2)
	f := New(q, &bytes.Buffer{})
	assert.NoError(t, f.Run(ctx))
}

func TestFeederStopsOnQueueClose(t *testing.T) {
	q := stagequeue.New(2)
	q.Close()

	f := New(q, &bytes.Buffer{})
	assert.NoError(t, f.Run(context.Background()))
}

func TestFeederPropagatesDequeueError(t *testing.T) {
	f := New(&errDequeuer{}, &bytes.Buffer{})
	err := f.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dequeue")
}

type errDequeuer struct{}

func (errDequeuer) Dequeue(context.Context) (*render.StagedSegment, error) {
	return nil, errors.New("queue corrupt")
}

// pipelineSource hands out n fixed-length tasks, then blocks until ctx
// ends, like a playout rotation with nothing left to say.
type pipelineSource struct {
	n     int
	given int
}

func (s *pipelineSource) Next(ctx context.Context) (render.Task, error) {
	if s.given >= s.n {
		<-ctx.Done()
		return render.Task{}, ctx.Err()
	}
	s.given++
	return render.Task{Source: "/dev/null", Duration: 5 * time.Second}, nil
}

// markerRenderer writes one small file per task whose content identifies
// the task, and records the offsets and paths it was handed. Only the
// producer goroutine touches it.
type markerRenderer struct {
	dir     string
	offsets []time.Duration
	paths   []string
}

func (r *markerRenderer) Render(_ context.Context, t render.Task) (*render.StagedSegment, error) {
	r.offsets = append(r.offsets, t.Offset)
	path := filepath.Join(r.dir, fmt.Sprintf("seg_%06d.ts", t.Seq))
	if err := os.WriteFile(path, []byte(fmt.Sprintf("<%02d>", t.Seq)), 0o600); err != nil {
		return nil, err
	}
	r.paths = append(r.paths, path)
	return &render.StagedSegment{
		Path:     path,
		Duration: t.OutputDuration(),
		Offset:   t.Offset,
		Seq:      t.Seq,
		Owner:    render.OwnerRenderer,
	}, nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestPipelineTenSegmentsStrictOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const segs = 10
	rend := &markerRenderer{dir: t.TempDir()}
	alloc := render.NewOffsetAllocator()
	// Capacity below the task count so the producer has to block on the
	// feeder at least once.
	q := stagequeue.New(4)

	producer := render.NewProducer(&pipelineSource{n: segs}, rend, q, alloc, nil)
	sink := &syncBuffer{}
	f := New(q, sink)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); errs[0] = producer.Run(ctx) }()
	go func() { defer wg.Done(); errs[1] = f.Run(ctx) }()

	var want strings.Builder
	for i := 1; i <= segs; i++ {
		fmt.Fprintf(&want, "<%02d>", i)
	}
	require.Eventually(t, func() bool { return sink.Len() == want.Len() },
		5*time.Second, 10*time.Millisecond, "all segments must reach the sink")

	cancel()
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	assert.Equal(t, want.String(), sink.String(), "segments must arrive whole and in render order")

	require.Len(t, rend.paths, segs)
	for _, p := range rend.paths {
		assert.NoFileExists(t, p)
	}

	require.Len(t, rend.offsets, segs)
	for i, off := range rend.offsets {
		assert.Equal(t, time.Duration(i)*5*time.Second, off, "offset of segment %d", i+1)
	}
	assert.Equal(t, 50*time.Second, alloc.Next(), "ten 5s renders span 50 seconds of timeline")
}
