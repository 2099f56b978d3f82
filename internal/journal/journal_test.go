// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenCreatesSchemaAndParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "journal.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening against the existing schema must succeed.
	s, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestRecordStartAndExit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordStart(ctx, "sess-1", "pipe", started))

	sessions, err := s.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-1", sessions[0].ID)
	assert.Equal(t, "pipe", sessions[0].Mode)
	assert.True(t, sessions[0].StartedAt.Equal(started))
	assert.Nil(t, sessions[0].EndedAt)

	ended := started.Add(2 * time.Hour)
	require.NoError(t, s.RecordExit(ctx, "sess-1", ended, 1, "watchdog_stall"))

	sessions, err = s.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].EndedAt)
	assert.True(t, sessions[0].EndedAt.Equal(ended))
	assert.Equal(t, 1, sessions[0].ExitCode)
	assert.Equal(t, "watchdog_stall", sessions[0].Reason)
}

func TestRecentSessionsNewestFirstWithLimit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, s.RecordStart(ctx, id, "pipe", base.Add(time.Duration(i)*time.Minute)))
	}

	sessions, err := s.RecentSessions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "new", sessions[0].ID)
	assert.Equal(t, "mid", sessions[1].ID)
}

func TestRecordExitUnknownSession(t *testing.T) {
	s := openStore(t)
	err := s.RecordExit(context.Background(), "ghost", time.Now(), 0, "clean")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
