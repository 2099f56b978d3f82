// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package audiofeed keeps a continuous PCM stream flowing into the audio
// FIFO the muxer reads. Tracks from the music library are decoded one at
// a time by an ffmpeg child process; the FIFO write end stays open across
// tracks so the muxer never sees EOF between them.
package audiofeed

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/starlitetv/vjd/internal/log"
	"github.com/starlitetv/vjd/internal/metrics"
	"github.com/starlitetv/vjd/internal/procgroup"
)

const (
	copyBufSize      = 64 << 10
	emptyLibraryWait = 30 * time.Second
)

// ErrFIFOBroken reports that the muxer stopped reading the FIFO. The
// session cannot continue without its audio sink.
var ErrFIFOBroken = errors.New("audio fifo broken")

// audioExtensions lists file suffixes treated as playable tracks.
var audioExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".ogg":  true,
	".m4a":  true,
	".wav":  true,
	".aac":  true,
	".opus": true,
	".wma":  true,
}

// Config carries the per-session constants of the audio feed. SampleRate
// and Channels must match what the muxer expects on the FIFO; raw PCM
// carries no header to correct a mismatch.
type Config struct {
	// Bin is the ffmpeg binary, empty means "ffmpeg" from PATH.
	Bin        string
	MusicDir   string
	FIFOPath   string
	SampleRate int
	Channels   int
}

// Feed decodes the music library to signed 16-bit PCM and writes it into
// the FIFO. One Feed serves one muxer session.
type Feed struct {
	cfg    Config
	logger zerolog.Logger
	buf    []byte
}

func New(cfg Config) *Feed {
	if cfg.Bin == "" {
		cfg.Bin = "ffmpeg"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 2
	}
	return &Feed{
		cfg:    cfg,
		logger: log.WithComponent("audiofeed"),
		buf:    make([]byte, copyBufSize),
	}
}

// Run opens the FIFO and streams tracks until ctx is canceled or the muxer
// stops reading. The library is rescanned after every full pass, so edits
// show up without a restart. Returns nil on cancellation; a broken FIFO
// comes back as an error wrapping ErrFIFOBroken so the supervisor treats
// it as a session failure.
func (f *Feed) Run(ctx context.Context) error {
	f.logger = log.WithContext(ctx, f.logger)
	f.logger.Info().Str(log.FieldPath, f.cfg.FIFOPath).Msg("opening audio fifo, waiting for muxer")
	fifo, err := openWriteEnd(ctx, f.cfg.FIFOPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	f.logger.Info().Str(log.FieldEvent, "audiofeed.connected").Msg("audio fifo connected")

	// A second goroutine closes the FIFO on cancellation. That unblocks a
	// write stuck on a muxer that stopped draining without closing its
	// read end.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			fifo.Close()
		case <-watchDone:
		}
	}()
	defer func() {
		close(watchDone)
		fifo.Close()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		tracks := f.listTracks()
		if len(tracks) == 0 {
			f.logger.Warn().Str(log.FieldPath, f.cfg.MusicDir).Msg("music library empty, waiting")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(emptyLibraryWait):
			}
			continue
		}
		f.logger.Info().
			Str(log.FieldEvent, "audiofeed.pass").
			Int("tracks", len(tracks)).
			Msg("starting library pass")
		for _, track := range tracks {
			if ctx.Err() != nil {
				return nil
			}
			if err := f.playTrack(ctx, fifo, track); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// playTrack decodes one track to PCM and copies it into the FIFO. Write
// errors mean the muxer is gone and end the session. Decode failures only
// skip the track.
func (f *Feed) playTrack(ctx context.Context, fifo *os.File, track string) error {
	cmd := exec.CommandContext(ctx, f.cfg.Bin,
		"-nostdin", "-v", "quiet",
		"-i", track,
		"-f", "s16le",
		"-ar", strconv.Itoa(f.cfg.SampleRate),
		"-ac", strconv.Itoa(f.cfg.Channels),
		"pipe:1",
	)
	procgroup.Set(cmd)
	cmd.Cancel = func() error {
		return procgroup.Kill(cmd, syscall.SIGKILL)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("decoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start decoder for %s: %w", filepath.Base(track), err)
	}

	var written int64
	var writeErr error
	for {
		n, rerr := stdout.Read(f.buf)
		if n > 0 {
			if _, werr := fifo.Write(f.buf[:n]); werr != nil {
				writeErr = werr
				break
			}
			written += int64(n)
		}
		if rerr != nil {
			// EOF and decoder death both end the track here; Wait
			// below sorts out which.
			break
		}
	}
	metrics.AddAudioBytes(written)

	if writeErr != nil {
		_ = procgroup.Kill(cmd, syscall.SIGKILL)
		_ = cmd.Wait()
		return fmt.Errorf("%w after %d bytes: %w", ErrFIFOBroken, written, writeErr)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		f.logger.Warn().
			Err(err).
			Str("track", filepath.Base(track)).
			Msg("decoder exited abnormally, skipping track")
		return nil
	}

	metrics.IncTrackPlayed()
	f.logger.Debug().
		Str("track", filepath.Base(track)).
		Int64("pcm_bytes", written).
		Msg("track played")
	return nil
}

// listTracks walks the music library for playable files in lexical order.
// Scan problems are logged and reported as an empty library so the caller
// retries instead of dying on a transient mount issue.
func (f *Feed) listTracks() []string {
	var tracks []string
	err := filepath.WalkDir(f.cfg.MusicDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if audioExtensions[strings.ToLower(filepath.Ext(path))] {
			tracks = append(tracks, path)
		}
		return nil
	})
	if err != nil {
		f.logger.Warn().Err(err).Str(log.FieldPath, f.cfg.MusicDir).Msg("music library scan failed")
		return nil
	}
	return tracks
}
