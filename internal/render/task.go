// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package render turns one unit of source material into a self-contained,
// timestamp-continuous MPEG-TS segment in staging storage. What to render
// is decided elsewhere; this package guarantees that whatever task it is
// handed lands on the session timeline exactly once, at its assigned
// offset.
package render

import (
	"errors"
	"fmt"
	"time"

	"github.com/starlitetv/vjd/internal/effects"
)

// Owner names the component currently allowed to delete a staged file.
type Owner string

const (
	// OwnerRenderer holds a freshly written segment that has not been
	// handed off yet.
	OwnerRenderer Owner = "renderer"
	// OwnerFeeder holds a segment after enqueue; only the feeder may
	// delete it from here on.
	OwnerFeeder Owner = "feeder"
)

// Task is one unit of work for the renderer: a source clip, optional
// compositing inputs, and the timeline position the output must start at.
type Task struct {
	// Seq is the per-producer sequence number; it also keys the staging
	// filename so names are never reused within a session.
	Seq int64

	Source      string
	SourceStart time.Duration
	Duration    time.Duration
	Loop        bool

	// Speed is the PTS multiplier: >1 plays slower, <1 faster. Zero means
	// unchanged (1.0).
	Speed float64

	Effects []string

	// Overlay is an optional second clip blended over the source.
	Overlay      string
	OverlayStart time.Duration
	BlendMode    string

	// Offset is the cumulative timeline position assigned by the offset
	// allocator. The segment's internal timestamps start here.
	Offset time.Duration
}

var (
	ErrNoSource    = errors.New("task has no source")
	ErrNoDuration  = errors.New("task has no duration")
	ErrBadSpeed    = errors.New("task speed must be positive")
	ErrBlendNoMode = errors.New("task has an overlay clip but no blend mode")
)

// EffectiveSpeed returns the PTS multiplier with the zero value defaulted.
func (t *Task) EffectiveSpeed() float64 {
	if t.Speed == 0 {
		return 1.0
	}
	return t.Speed
}

// OutputDuration is the wall-clock length the rendered segment occupies on
// the timeline. A PTS multiplier above 1 stretches the source.
func (t *Task) OutputDuration() time.Duration {
	return time.Duration(float64(t.Duration) * t.EffectiveSpeed())
}

// Validate rejects tasks the renderer cannot execute.
func (t *Task) Validate() error {
	if t.Source == "" {
		return ErrNoSource
	}
	if t.Duration <= 0 {
		return ErrNoDuration
	}
	if t.Speed < 0 {
		return ErrBadSpeed
	}
	if err := effects.Validate(t.Effects); err != nil {
		return fmt.Errorf("task effects: %w", err)
	}
	if t.Overlay != "" {
		if t.BlendMode == "" {
			return ErrBlendNoMode
		}
		if err := effects.ValidateBlendMode(t.BlendMode); err != nil {
			return fmt.Errorf("task blend: %w", err)
		}
	}
	return nil
}

// StagedSegment is the renderer's output: one file in staging storage plus
// the bookkeeping the feeder needs. Ownership transfers to the feeder at
// enqueue time; only the owner may delete the file.
type StagedSegment struct {
	Path     string
	Duration time.Duration
	Offset   time.Duration
	Seq      int64
	Owner    Owner
}
