// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package playout supplies render tasks from a JSONL playout file: one
// task per line, served in order and looped forever. The file is the
// seam to the external scheduling system; whatever writes it owns all
// selection policy. Blank lines and lines starting with # are ignored.
package playout

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/starlitetv/vjd/internal/log"
	"github.com/starlitetv/vjd/internal/media"
	"github.com/starlitetv/vjd/internal/render"
)

const (
	probeTimeout   = 15 * time.Second
	reloadDebounce = 500 * time.Millisecond
	// maxLineBytes bounds one playout line; effects lists are short, so
	// anything near this is a corrupt file.
	maxLineBytes = 1 << 20
)

// taskLine is the wire form of one playout entry. Times are in seconds,
// the unit operators think in.
type taskLine struct {
	Source       string   `json:"source"`
	SourceStart  float64  `json:"sourceStart"`
	Duration     float64  `json:"duration"`
	Loop         bool     `json:"loop"`
	Speed        float64  `json:"speed"`
	Effects      []string `json:"effects"`
	Overlay      string   `json:"overlay"`
	OverlayStart float64  `json:"overlayStart"`
	BlendMode    string   `json:"blendMode"`
}

func (l taskLine) task() render.Task {
	return render.Task{
		Source:       l.Source,
		SourceStart:  secondsToDuration(l.SourceStart),
		Duration:     secondsToDuration(l.Duration),
		Loop:         l.Loop,
		Speed:        l.Speed,
		Effects:      l.Effects,
		Overlay:      l.Overlay,
		OverlayStart: secondsToDuration(l.OverlayStart),
		BlendMode:    l.BlendMode,
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// durationProber fills in task durations from the source file. media.Prober
// satisfies it.
type durationProber interface {
	Probe(ctx context.Context, path string) (*media.Info, error)
}

// Source serves the playout list round-robin. It satisfies the producer's
// task source contract and never runs dry: a 24/7 channel replays the list
// until someone replaces the file.
type Source struct {
	path   string
	prober durationProber
	logger zerolog.Logger

	watcher *fsnotify.Watcher

	mu    sync.Mutex
	tasks []render.Task
	idx   int
}

// New loads the playout file and fails when it yields no usable task; a
// channel with nothing to play cannot start. Lines that do not parse or
// validate are logged and skipped, they do not fail the load.
func New(ctx context.Context, path string, prober durationProber) (*Source, error) {
	s := &Source{
		path:   filepath.Clean(path),
		prober: prober,
		logger: log.WithComponent("playout"),
	}
	tasks, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("playout %s: no usable tasks", path)
	}
	s.tasks = tasks
	s.logger.Info().
		Str(log.FieldEvent, "playout.load").
		Int("tasks", len(tasks)).
		Str(log.FieldPath, s.path).
		Msg("playout loaded")
	return s, nil
}

// Next returns the next task in playout order, wrapping at the end of the
// list. It never blocks.
func (s *Source) Next(ctx context.Context) (render.Task, error) {
	if err := ctx.Err(); err != nil {
		return render.Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[s.idx]
	s.idx = (s.idx + 1) % len(s.tasks)
	return t, nil
}

// Len returns the number of tasks currently in rotation.
func (s *Source) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Watch reloads the task list whenever the playout file changes. The watch
// is on the parent directory, not the file, so rename-style atomic
// replacement is seen as a Create instead of silently orphaning the watch.
func (s *Source) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create playout watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch playout dir: %w", err)
	}
	s.watcher = w
	go s.watchLoop(ctx)
	return nil
}

func (s *Source) watchLoop(ctx context.Context) {
	// Editors and atomic replaces fire bursts of events; reload once per
	// burst.
	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			_ = s.watcher.Close()
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() { s.reload(ctx) })
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Msg("playout watcher error")
		}
	}
}

// reload swaps in the new task list, or keeps the current one when the new
// file is unreadable or empty. The running channel must not die on a bad
// edit.
func (s *Source) reload(ctx context.Context) {
	tasks, err := s.load(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str(log.FieldPath, s.path).Msg("playout reload failed, keeping current list")
		return
	}
	if len(tasks) == 0 {
		s.logger.Error().Str(log.FieldPath, s.path).Msg("playout reload yielded no usable tasks, keeping current list")
		return
	}
	s.mu.Lock()
	s.tasks = tasks
	s.idx = 0
	s.mu.Unlock()
	s.logger.Info().
		Str(log.FieldEvent, "playout.reload").
		Int("tasks", len(tasks)).
		Str(log.FieldPath, s.path).
		Msg("playout reloaded")
}

func (s *Source) load(ctx context.Context) ([]render.Task, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open playout: %w", err)
	}
	defer f.Close()

	var tasks []render.Task
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var tl taskLine
		if err := json.Unmarshal([]byte(line), &tl); err != nil {
			s.logger.Warn().Err(err).Int("line", lineNo).Msg("skipping unparseable playout line")
			continue
		}
		t := tl.task()
		if err := s.prepare(ctx, &t); err != nil {
			s.logger.Warn().Err(err).Int("line", lineNo).Str("source", t.Source).Msg("skipping unusable playout task")
			continue
		}
		tasks = append(tasks, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read playout: %w", err)
	}
	return tasks, nil
}

// prepare fills a task's duration from the source clip when the line omits
// it and rejects tasks the renderer could never execute.
func (s *Source) prepare(ctx context.Context, t *render.Task) error {
	if t.Source == "" {
		return render.ErrNoSource
	}
	if t.Duration == 0 {
		d, err := s.remainder(ctx, t.Source, t.SourceStart)
		if err != nil {
			return err
		}
		t.Duration = d
	} else if _, err := os.Stat(t.Source); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	return t.Validate()
}

// remainder probes the source and returns how much of it plays after the
// start point.
func (s *Source) remainder(ctx context.Context, source string, start time.Duration) (time.Duration, error) {
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	info, err := s.prober.Probe(pctx, source)
	if err != nil {
		return 0, fmt.Errorf("probe source: %w", err)
	}
	if !info.HasVideo() {
		return 0, fmt.Errorf("source %s has no video stream", source)
	}
	rest := info.Duration - start
	if rest <= 0 {
		return 0, fmt.Errorf("start %s is beyond the clip length %s", start, info.Duration)
	}
	return rest, nil
}
