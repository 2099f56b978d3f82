// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build unix && !windows

package audiofeed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const openRetryInterval = 100 * time.Millisecond

// CreateFIFO makes a fresh named pipe at path, replacing whatever sits
// there. The muxer opens it as its audio input; Run writes into it.
func CreateFIFO(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale fifo: %w", err)
	}
	if err := unix.Mkfifo(path, 0o600); err != nil {
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}
	return nil
}

// openWriteEnd opens the FIFO for writing without committing to a blocking
// open(2), which would hang until the muxer appears and ignore ctx. With
// O_NONBLOCK the kernel answers ENXIO while no reader exists, so we poll
// until the muxer opens its side or ctx ends.
//
// The descriptor stays nonblocking. os.NewFile registers pollable files
// with the runtime poller, so writes still block at the API level and a
// concurrent Close unblocks a writer stuck on a stalled reader.
func openWriteEnd(ctx context.Context, path string) (*os.File, error) {
	tick := time.NewTicker(openRetryInterval)
	defer tick.Stop()
	for {
		fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK, 0)
		if err == nil {
			return os.NewFile(uintptr(fd), path), nil
		}
		if !errors.Is(err, unix.ENXIO) {
			return nil, fmt.Errorf("open fifo %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tick.C:
		}
	}
}
