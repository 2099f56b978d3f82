// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

package muxer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/starlitetv/vjd/internal/fsutil"
	"github.com/starlitetv/vjd/internal/log"
	"github.com/starlitetv/vjd/internal/procgroup"
)

var (
	startTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vjd_muxer_start_total",
		Help: "Muxer process starts by result",
	}, []string{"result"})

	exitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vjd_muxer_exit_total",
		Help: "Muxer process exits by reason",
	}, []string{"reason"})
)

// Exit reasons reported by Wait.
const (
	ReasonClean  = "clean"
	ReasonError  = "error"
	ReasonKilled = "killed"
)

// ExitStatus describes how a session ended.
type ExitStatus struct {
	Code      int
	Reason    string
	StartedAt time.Time
	EndedAt   time.Time
}

const defaultStopGrace = 5 * time.Second

// Session is one muxer process lifecycle: Start, optionally feed Stdin,
// Wait for exit, Stop to terminate. Restarting is the supervisor's job; a
// Session never relaunches itself.
type Session struct {
	ID string

	bin       string
	args      []string
	grace     time.Duration
	needStdin bool

	logger zerolog.Logger
	ring   *LineRing

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	started  time.Time
	ended    time.Time
	waitErr  error
	stopping bool
	done     chan struct{}
	ioWg     sync.WaitGroup
}

// NewSession prepares a session. needStdin must be true in pipe mode so the
// feeder has a sink; grace <= 0 uses a 5s default.
func NewSession(id, bin string, args []string, grace time.Duration, needStdin bool) *Session {
	if bin == "" {
		bin = "ffmpeg"
	}
	if grace <= 0 {
		grace = defaultStopGrace
	}
	return &Session{
		ID:        id,
		bin:       bin,
		args:      args,
		grace:     grace,
		needStdin: needStdin,
		logger:    log.WithComponent("muxer").With().Str(log.FieldSessionID, id).Logger(),
		ring:      NewLineRing(256),
		done:      make(chan struct{}),
	}
}

// Start launches the process. The caller owns termination via Stop; Start
// never blocks on the process.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return fmt.Errorf("session %s already started", s.ID)
	}

	cmd := exec.Command(s.bin, s.args...) // #nosec G204 -- binary and args come from validated config
	procgroup.Set(cmd)

	if s.needStdin {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			startTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("muxer stdin pipe: %w", err)
		}
		s.stdin = stdin
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		startTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("muxer stderr pipe: %w", err)
	}
	s.ioWg.Add(1)
	go func() {
		defer s.ioWg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			_, _ = s.ring.Write(scanner.Bytes())
			_, _ = s.ring.Write([]byte("\n"))
		}
	}()

	if err := cmd.Start(); err != nil {
		startTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("muxer start: %w", err)
	}
	s.cmd = cmd
	s.started = time.Now()
	startTotal.WithLabelValues("ok").Inc()
	s.logger.Info().
		Str(log.FieldEvent, "muxer.start").
		Int(log.FieldPID, cmd.Process.Pid).
		Msg("muxer started")

	go func() {
		err := cmd.Wait()
		s.ioWg.Wait()
		s.mu.Lock()
		s.waitErr = err
		s.ended = time.Now()
		s.mu.Unlock()
		s.logExit(err)
		close(s.done)
	}()
	return nil
}

// logExit runs exactly once, from the exit reaper, so repeated Wait calls
// do not double-log or double-count.
func (s *Session) logExit(waitErr error) {
	if waitErr == nil {
		exitTotal.WithLabelValues(ReasonClean).Inc()
		s.logger.Info().Str(log.FieldEvent, "muxer.exit_clean").Msg("muxer exited cleanly")
		return
	}
	code := 1
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	}
	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		// A requested kill dies on the signal. That exit is the plan
		// working, not a muxer problem worth a stderr dump.
		exitTotal.WithLabelValues(ReasonKilled).Inc()
		s.logger.Info().
			Str(log.FieldEvent, "muxer.exit_killed").
			Int(log.FieldExitCode, code).
			Msg("muxer stopped")
		return
	}
	exitTotal.WithLabelValues(ReasonError).Inc()
	s.logger.Warn().
		Str(log.FieldEvent, "muxer.exit_error").
		Int(log.FieldExitCode, code).
		Strs("stderr", s.ring.LastN(20)).
		Msg("muxer exited abnormally")
}

// Stdin returns the feeder's sink in pipe mode, nil otherwise. Only valid
// after Start.
func (s *Session) Stdin() io.WriteCloser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdin
}

// Done is closed once the process has exited and its output is drained.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the process exits and reports how. A non-zero exit is
// routine for a 24/7 muxer and is returned as status, not as an error.
// Safe to call any number of times; every call reports the same exit.
func (s *Session) Wait() ExitStatus {
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()

	status := ExitStatus{
		Code:      0,
		Reason:    ReasonClean,
		StartedAt: s.started,
		EndedAt:   s.ended,
	}
	if s.waitErr != nil {
		status.Code = 1
		status.Reason = ReasonError
		if s.stopping {
			status.Reason = ReasonKilled
		}
		if exitErr, ok := s.waitErr.(*exec.ExitError); ok {
			status.Code = exitErr.ExitCode()
		}
	}
	return status
}

// Stop terminates the process group: SIGTERM, bounded grace, then SIGKILL.
// Safe to call on a session that already exited or never started.
func (s *Session) Stop() error {
	s.mu.Lock()
	s.stopping = true
	cmd := s.cmd
	stdin := s.stdin
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}

	// Closing stdin first lets a healthy pipe-mode muxer flush and exit on
	// its own before the signal arrives.
	if stdin != nil {
		_ = stdin.Close()
	}

	waitCh := make(chan error, 1)
	go func() {
		<-s.done
		s.mu.Lock()
		waitCh <- s.waitErr
		s.mu.Unlock()
	}()

	err := procgroup.Terminate(cmd, waitCh, s.grace)
	// Stop wants the process gone; how it exited is Wait's business. A
	// non-zero exit after the signal still means Stop did its job.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// StopRequested reports whether Stop has been called. The supervisor uses
// it to tell a deliberate kill apart from the muxer dying on its own.
func (s *Session) StopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// LastLogLines exposes the stderr tail for diagnostics.
func (s *Session) LastLogLines(n int) []string {
	return s.ring.LastN(n)
}

// ResetPublishDir enforces the fresh-playlist rule: every session starts
// with no playlist and no segments left over from a predecessor. Returns
// how many files were removed.
func ResetPublishDir(dir string) (int, error) {
	return fsutil.RemoveGlob(dir, "*.ts", "*.m3u8")
}
