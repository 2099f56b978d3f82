// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build unix && !windows

package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/starlitetv/vjd/internal/config"
	"github.com/starlitetv/vjd/internal/fsutil"
	"github.com/starlitetv/vjd/internal/journal"
	"github.com/starlitetv/vjd/internal/render"
	"github.com/starlitetv/vjd/internal/watchdog"
)

// The stub stands in for every ffmpeg role the session spawns. The last
// argument tells the roles apart: renders end in a .ts output path, the
// muxer ends in the playlist path.
const healthyStub = `#!/bin/sh
last=""
for a in "$@"; do last="$a"; done
case "$last" in
*.ts) printf 'tsdata' > "$last" ;;
*.m3u8) cat > /dev/null ;;
*) cat > /dev/null ;;
esac
`

// stallStub accepts the muxer role but never consumes stdin or writes a
// playlist, so only the watchdog can end the session.
const stallStub = `#!/bin/sh
last=""
for a in "$@"; do last="$a"; done
case "$last" in
*.m3u8) sleep 30 ;;
*) cat > /dev/null ;;
esac
`

// dyingStub exits immediately in the muxer role.
const dyingStub = `#!/bin/sh
last=""
for a in "$@"; do last="$a"; done
case "$last" in
*.ts) printf 'tsdata' > "$last" ;;
*.m3u8) exit 3 ;;
*) cat > /dev/null ;;
esac
`

// backpressureStub renders segments too large for the stdin pipe buffer
// while the muxer role consumes nothing, so segments pile up in the queue.
const backpressureStub = `#!/bin/sh
last=""
for a in "$@"; do last="$a"; done
case "$last" in
*.ts) dd if=/dev/zero of="$last" bs=1024 count=1024 2>/dev/null ;;
*.m3u8) sleep 30 ;;
*) cat > /dev/null ;;
esac
`

func writeStub(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func sessionConfig(t *testing.T, stub string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Mode = config.ModePipe
	cfg.FFmpegBin = stub
	cfg.PlayoutFile = "unused.jsonl"
	cfg.PublishDir = t.TempDir()
	cfg.MusicDir = t.TempDir()
	cfg.Staging.Dir = t.TempDir()
	cfg.Staging.QueueCapacity = 8
	cfg.Staging.Prebuffer = 2
	cfg.Staging.MinFreeBytes = 0
	cfg.Watchdog.Poll = time.Hour
	cfg.Watchdog.StaleAfter = 2 * time.Hour
	cfg.Watchdog.KillGrace = 2 * time.Second
	return cfg
}

// stubSource serves tasks from a channel and blocks once it runs dry.
type stubSource struct {
	tasks chan render.Task
}

func (s *stubSource) Next(ctx context.Context) (render.Task, error) {
	select {
	case task := <-s.tasks:
		return task, nil
	case <-ctx.Done():
		return render.Task{}, ctx.Err()
	}
}

func taskSource(n int) *stubSource {
	src := &stubSource{tasks: make(chan render.Task, n)}
	for i := 0; i < n; i++ {
		src.tasks <- render.Task{Source: "/dev/null", Duration: 4 * time.Second}
	}
	return src
}

type sessionResult struct {
	reason string
	err    error
}

func runInBackground(sup *Supervisor, ctx context.Context) chan sessionResult {
	done := make(chan sessionResult, 1)
	go func() {
		reason, err := sup.runSession(ctx)
		done <- sessionResult{reason, err}
	}()
	return done
}

func TestRunSessionShutsDownCleanly(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := sessionConfig(t, writeStub(t, healthyStub))
	store, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer store.Close()

	sup := New(cfg, taskSource(6), store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runInBackground(sup, ctx)

	require.Eventually(t, func() bool {
		return sup.Snapshot().State == string(StateStreaming)
	}, 15*time.Second, 50*time.Millisecond, "session never reached streaming")

	cancel()
	var res sessionResult
	select {
	case res = <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("session did not shut down")
	}
	require.NoError(t, res.err)
	assert.Equal(t, "shutdown", res.reason)

	// Teardown sweeps staging and removes the fifo.
	n, err := fsutil.CountFiles(cfg.Staging.Dir, ".ts")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoFileExists(t, filepath.Join(cfg.Staging.Dir, fifoName))

	sessions, err := store.RecentSessions(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].EndedAt)
	assert.Equal(t, "shutdown", sessions[0].Reason)
}

func TestRunSessionEndsOnPlaylistStall(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := sessionConfig(t, writeStub(t, stallStub))
	cfg.Staging.Prebuffer = 0
	cfg.Watchdog.Poll = 50 * time.Millisecond
	cfg.Watchdog.StaleAfter = 200 * time.Millisecond
	cfg.Watchdog.KillGrace = 500 * time.Millisecond

	// No tasks at all: the queue stays empty and the feeder stays idle, so
	// the stall is the only thing that can end this session.
	sup := New(cfg, &stubSource{tasks: make(chan render.Task)}, nil)

	reason, err := sup.runSession(context.Background())
	require.ErrorIs(t, err, watchdog.ErrStalled)
	assert.Equal(t, "stalled", reason)
}

func TestRunSessionEndsWhenMuxerDies(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := sessionConfig(t, writeStub(t, dyingStub))
	cfg.Staging.Prebuffer = 0
	store, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer store.Close()

	sup := New(cfg, &stubSource{tasks: make(chan render.Task)}, store)

	reason, err := sup.runSession(context.Background())
	require.ErrorIs(t, err, errMuxerExited)
	assert.Equal(t, "muxer_exit", reason)

	sessions, err := store.RecentSessions(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 3, sessions[0].ExitCode)
	assert.Equal(t, "muxer_exit", sessions[0].Reason)
}

func TestRunSessionDropsQueuedSegmentsOnFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := sessionConfig(t, writeStub(t, backpressureStub))
	cfg.Staging.Prebuffer = 2
	cfg.Watchdog.Poll = 50 * time.Millisecond
	cfg.Watchdog.StaleAfter = 300 * time.Millisecond
	cfg.Watchdog.KillGrace = 500 * time.Millisecond

	// Renders pile up behind a muxer that consumes nothing until the
	// watchdog ends the session. Killing the muxer breaks the feeder's
	// pipe at the same time, so either may report first.
	sup := New(cfg, taskSource(6), nil)

	reason, err := sup.runSession(context.Background())
	require.Error(t, err)
	assert.Contains(t, []string{"stalled", "feed_failed"}, reason)

	// Every staged file is gone: queued ones dropped, the in-flight one
	// swept.
	n, err := fsutil.CountFiles(cfg.Staging.Dir, ".ts")
	require.NoError(t, err)
	assert.Zero(t, n)
}
