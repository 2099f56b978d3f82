// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

package publish

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/starlitetv/vjd/internal/journal"
)

// StatusFileName is the snapshot mirrored into the publish directory so
// dashboards can read pipeline state without hitting /status.
const StatusFileName = "status.json"

// Snapshot is the pipeline state served by /status and written to
// status.json.
type Snapshot struct {
	// State is the supervisor phase: starting, prebuffering, streaming,
	// restarting or stopped.
	State            string            `json:"state"`
	Mode             string            `json:"mode,omitempty"`
	SessionID        string            `json:"sessionId,omitempty"`
	SessionStartedAt *time.Time        `json:"sessionStartedAt,omitempty"`
	Restarts         int64             `json:"restarts"`
	QueueDepth       int               `json:"queueDepth"`
	QueueCapacity    int               `json:"queueCapacity"`
	TimelineSeconds  float64           `json:"timelineSeconds"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	Recent           []journal.Session `json:"recentSessions,omitempty"`
}

// WriteStatusFile atomically replaces status.json in dir. Readers never see
// a torn write; renameio stages the content in a sibling temp file and
// renames it into place.
func WriteStatusFile(dir string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	data = append(data, '\n')
	if err := renameio.WriteFile(filepath.Join(dir, StatusFileName), data, 0o644); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}
	return nil
}
