// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package surfaces launches the virtual display and the render-surface
// process that capture mode grabs from. The muxer must not start until the
// surface is visually ready, otherwise the first published segments show a
// blank or half-painted frame.
package surfaces

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/starlitetv/vjd/internal/fsutil"
	"github.com/starlitetv/vjd/internal/log"
	"github.com/starlitetv/vjd/internal/procgroup"
)

const (
	x11SocketDir     = "/tmp/.X11-unix"
	defaultReadyWait = 15 * time.Second
	stopGrace        = 3 * time.Second
)

// Config describes the display and render-surface processes.
type Config struct {
	XvfbBin    string
	Display    string
	ScreenSize string
	// BrowserCmd is the render-surface command line; empty means display
	// only.
	BrowserCmd []string
	// SurfaceURL, when set, is appended to BrowserCmd.
	SurfaceURL string
	// ProfileDir is the surface's scratch state, created on start and
	// removed on stop.
	ProfileDir string
	// SettleDelay is how long the surface gets to paint after the display
	// socket exists.
	SettleDelay time.Duration
	// ReadyTimeout bounds the wait for the display socket.
	ReadyTimeout time.Duration
}

// Surfaces owns the Xvfb and render-surface process pair.
type Surfaces struct {
	cfg    Config
	logger zerolog.Logger

	xvfb        *exec.Cmd
	xvfbWait    chan error
	browser     *exec.Cmd
	browserWait chan error
}

func New(cfg Config) *Surfaces {
	if cfg.XvfbBin == "" {
		cfg.XvfbBin = "Xvfb"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyWait
	}
	return &Surfaces{
		cfg:    cfg,
		logger: log.WithComponent("surfaces"),
	}
}

// SocketPath returns the X11 socket that marks the display as accepting
// clients.
func SocketPath(display string) string {
	return filepath.Join(x11SocketDir, "X"+strings.TrimPrefix(display, ":"))
}

// Start launches the display, waits for its socket, launches the render
// surface, and sleeps the settle delay. On any failure everything already
// launched is stopped again.
func (s *Surfaces) Start(ctx context.Context) error {
	return s.startWithSocket(ctx, SocketPath(s.cfg.Display))
}

func (s *Surfaces) startWithSocket(ctx context.Context, socket string) error {
	if s.cfg.ProfileDir != "" {
		if err := fsutil.EnsureDir(s.cfg.ProfileDir); err != nil {
			return fmt.Errorf("surface profile dir: %w", err)
		}
	}

	xvfb := exec.Command(s.cfg.XvfbBin, // #nosec G204 -- binary comes from validated config
		s.cfg.Display,
		"-screen", "0", s.cfg.ScreenSize,
		"-nolisten", "tcp",
	)
	procgroup.Set(xvfb)
	if err := xvfb.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.cfg.XvfbBin, err)
	}
	s.xvfb = xvfb
	s.xvfbWait = waitChan(xvfb)
	s.logger.Info().
		Str(log.FieldEvent, "surfaces.display_up").
		Int(log.FieldPID, xvfb.Process.Pid).
		Str("display", s.cfg.Display).
		Msg("virtual display started")

	if err := waitForPath(ctx, s.logger, socket, s.cfg.ReadyTimeout); err != nil {
		_ = s.Stop()
		return fmt.Errorf("display %s never became ready: %w", s.cfg.Display, err)
	}

	if len(s.cfg.BrowserCmd) > 0 {
		args := append([]string{}, s.cfg.BrowserCmd[1:]...)
		if s.cfg.SurfaceURL != "" {
			args = append(args, s.cfg.SurfaceURL)
		}
		browser := exec.Command(s.cfg.BrowserCmd[0], args...) // #nosec G204 -- command comes from validated config
		browser.Env = append(os.Environ(), "DISPLAY="+s.cfg.Display)
		procgroup.Set(browser)
		if err := browser.Start(); err != nil {
			_ = s.Stop()
			return fmt.Errorf("start render surface: %w", err)
		}
		s.browser = browser
		s.browserWait = waitChan(browser)
		s.logger.Info().
			Str(log.FieldEvent, "surfaces.browser_up").
			Int(log.FieldPID, browser.Process.Pid).
			Msg("render surface started")
	}

	if s.cfg.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			_ = s.Stop()
			return ctx.Err()
		case <-time.After(s.cfg.SettleDelay):
		}
	}
	return nil
}

// Stop terminates the surface processes in reverse launch order and removes
// the profile directory. Safe to call repeatedly and on partial starts.
func (s *Surfaces) Stop() error {
	var firstErr error
	if s.browser != nil {
		if err := terminate(s.browser, s.browserWait); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("render surface: %w", err)
		}
		s.browser = nil
	}
	if s.xvfb != nil {
		if err := terminate(s.xvfb, s.xvfbWait); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("virtual display: %w", err)
		}
		s.xvfb = nil
	}
	if s.cfg.ProfileDir != "" {
		if err := fsutil.RemoveAllIfExists(s.cfg.ProfileDir); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// terminate stops one process and swallows its exit status. Display and
// browser processes only ever die from our signal here; how they exited is
// not worth reporting.
func terminate(cmd *exec.Cmd, waitCh chan error) error {
	err := procgroup.Terminate(cmd, waitCh, stopGrace)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func waitChan(cmd *exec.Cmd) chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- cmd.Wait()
	}()
	return ch
}

// waitForPath blocks until path exists. Unlike a playlist, the readiness
// marker here is a unix socket, so existence is the signal and size is
// meaningless.
func waitForPath(ctx context.Context, logger zerolog.Logger, path string, timeout time.Duration) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}

	// Re-check after the watch is in place; the socket may have appeared
	// in between.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	targetName := filepath.Base(path)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("timeout waiting for %s", targetName)
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher channel closed")
			}
			if filepath.Base(event.Name) == targetName && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if _, err := os.Stat(path); err == nil {
					return nil
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			logger.Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}
