// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

package playout

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/starlitetv/vjd/internal/media"
)

type fakeProber struct {
	infos map[string]*media.Info
}

func (p *fakeProber) Probe(_ context.Context, path string) (*media.Info, error) {
	info, ok := p.infos[path]
	if !ok {
		return nil, errors.New("probe failed")
	}
	return info, nil
}

func writeClip(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("clip"), 0o644))
	return path
}

func writePlayout(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func line(source string, dur float64) string {
	return fmt.Sprintf("{\"source\":%q,\"duration\":%g}\n", source, dur)
}

func TestNewLoadsTasksInOrder(t *testing.T) {
	dir := t.TempDir()
	a := writeClip(t, dir, "a.mp4")
	b := writeClip(t, dir, "b.mp4")
	path := filepath.Join(dir, "playout.jsonl")
	writePlayout(t, path, strings.Join([]string{
		"# morning rotation",
		"",
		fmt.Sprintf(`{"source":%q,"sourceStart":3.5,"duration":12,"speed":2,"effects":["sepia"]}`, a),
		fmt.Sprintf(`{"source":%q,"duration":6,"loop":true,"overlay":%q,"overlayStart":1.25,"blendMode":"screen"}`, b, a),
	}, "\n"))

	s, err := New(context.Background(), path, &fakeProber{})
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())

	t1, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a, t1.Source)
	assert.Equal(t, 3500*time.Millisecond, t1.SourceStart)
	assert.Equal(t, 12*time.Second, t1.Duration)
	assert.Equal(t, 2.0, t1.Speed)
	assert.Equal(t, []string{"sepia"}, t1.Effects)

	t2, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, b, t2.Source)
	assert.True(t, t2.Loop)
	assert.Equal(t, a, t2.Overlay)
	assert.Equal(t, 1250*time.Millisecond, t2.OverlayStart)
	assert.Equal(t, "screen", t2.BlendMode)

	// Wraps back to the top of the list.
	t3, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a, t3.Source)
}

func TestNewFailsWithoutUsableTasks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "playout.jsonl")
	writePlayout(t, path, "# nothing here\n\n")

	_, err := New(context.Background(), path, &fakeProber{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable tasks")
}

func TestNewFailsWhenFileMissing(t *testing.T) {
	_, err := New(context.Background(), filepath.Join(t.TempDir(), "absent.jsonl"), &fakeProber{})
	require.Error(t, err)
}

func TestLoadSkipsBadLines(t *testing.T) {
	dir := t.TempDir()
	a := writeClip(t, dir, "a.mp4")
	path := filepath.Join(dir, "playout.jsonl")
	writePlayout(t, path, strings.Join([]string{
		"this is not json",
		`{"source":"","duration":5}`,
		fmt.Sprintf(`{"source":%q,"duration":5}`, filepath.Join(dir, "missing.mp4")),
		fmt.Sprintf(`{"source":%q,"duration":5,"effects":["no_such_effect"]}`, a),
		fmt.Sprintf(`{"source":%q,"duration":5}`, a),
	}, "\n"))

	s, err := New(context.Background(), path, &fakeProber{})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	task, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a, task.Source)
}

func TestDurationDefaultsToProbedRemainder(t *testing.T) {
	dir := t.TempDir()
	a := writeClip(t, dir, "a.mp4")
	b := writeClip(t, dir, "b.mp4")
	c := writeClip(t, dir, "c.mp4")
	d := writeClip(t, dir, "d.mp4")
	path := filepath.Join(dir, "playout.jsonl")
	writePlayout(t, path, strings.Join([]string{
		fmt.Sprintf(`{"source":%q,"sourceStart":10}`, a),
		fmt.Sprintf(`{"source":%q}`, b),
		fmt.Sprintf(`{"source":%q}`, c),
		fmt.Sprintf(`{"source":%q,"sourceStart":60}`, d),
	}, "\n"))

	prober := &fakeProber{infos: map[string]*media.Info{
		a: {Duration: 42 * time.Second, VideoCodec: "h264"},
		// b missing: probe fails.
		c: {Duration: 30 * time.Second, AudioCodec: "aac"},
		d: {Duration: 45 * time.Second, VideoCodec: "h264"},
	}}

	s, err := New(context.Background(), path, prober)
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())

	task, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a, task.Source)
	assert.Equal(t, 32*time.Second, task.Duration)
}

func TestNextHonorsContext(t *testing.T) {
	dir := t.TempDir()
	a := writeClip(t, dir, "a.mp4")
	path := filepath.Join(dir, "playout.jsonl")
	writePlayout(t, path, line(a, 5))

	s, err := New(context.Background(), path, &fakeProber{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWatchReloadsOnAtomicReplace(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	a := writeClip(t, dir, "a.mp4")
	b := writeClip(t, dir, "b.mp4")
	path := filepath.Join(dir, "playout.jsonl")
	writePlayout(t, path, line(a, 5))

	s, err := New(context.Background(), path, &fakeProber{})
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Watch(ctx))

	// Replace the file the way a scheduler would: sibling write + rename.
	tmp := filepath.Join(dir, "playout.jsonl.new")
	writePlayout(t, tmp, line(a, 5)+line(b, 7))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool { return s.Len() == 2 },
		5*time.Second, 50*time.Millisecond)

	// A reload restarts the rotation from the top.
	task, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a, task.Source)
}

func TestReloadKeepsCurrentListOnBadEdit(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	a := writeClip(t, dir, "a.mp4")
	path := filepath.Join(dir, "playout.jsonl")
	writePlayout(t, path, line(a, 5))

	s, err := New(context.Background(), path, &fakeProber{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Watch(ctx))

	writePlayout(t, path, "oops, not json at all\n")

	// Past the debounce window the old list must still be serving.
	time.Sleep(900 * time.Millisecond)
	assert.Equal(t, 1, s.Len())
	task, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a, task.Source)
}
