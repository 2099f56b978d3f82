// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

package procgroup

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/starlitetv/vjd/internal/metrics"
)

// ErrKillFailed reports a process group that survived SIGKILL. Nothing
// more can be done from userspace; the caller should give up on the
// group's resources rather than block on them.
var ErrKillFailed = errors.New("process group survived SIGKILL")

// Terminate attempts to gracefully stop a process group.
// It sends SIGTERM, waits for the process to exit (via the provided wait
// channel), and if it doesn't exit within grace, sends SIGKILL and waits
// out one more grace period. It consumes and returns the error from
// waitCh, or ErrKillFailed if even SIGKILL left the group running.
// It is safe to call on nil commands (returns nil).
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	// If the process already finished, Kill calls are no-ops or harmless
	// ESRCH errors.
	if err := Kill(cmd, syscall.SIGTERM); err == nil {
		metrics.IncProcTerminate("SIGTERM", "sent")
	} else if isGone(err) {
		metrics.IncProcTerminate("SIGTERM", "esrch")
	} else {
		metrics.IncProcTerminate("SIGTERM", "error")
	}

	select {
	case err := <-waitCh:
		if err == nil {
			metrics.IncProcWait("exit0")
		} else {
			metrics.IncProcWait("exit_nonzero")
		}
		return err
	case <-time.After(grace):
	}

	if err := Kill(cmd, syscall.SIGKILL); err == nil {
		metrics.IncProcTerminate("SIGKILL", "sent")
	} else if isGone(err) {
		metrics.IncProcTerminate("SIGKILL", "esrch")
	} else {
		metrics.IncProcTerminate("SIGKILL", "error")
	}

	// Drain waitCh so the caller's Wait goroutine finishes, but bounded:
	// a process stuck in uninterruptible sleep survives SIGKILL, and an
	// eternal wait here would wedge the whole teardown behind it.
	select {
	case err := <-waitCh:
		if err == nil {
			metrics.IncProcWait("forced_exit0")
		} else {
			metrics.IncProcWait("forced_error")
		}
		return err
	case <-time.After(grace):
		metrics.IncProcWait("kill_timeout")
		return fmt.Errorf("%w: pid %d", ErrKillFailed, cmd.Process.Pid)
	}
}

func isGone(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "process already finished") ||
		strings.Contains(err.Error(), "no such process")
}
