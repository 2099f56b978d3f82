// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package muxer runs the long-lived ffmpeg process that turns the fed
// segment stream (or a live display grab) plus the PCM audio feed into a
// rolling HLS playlist in the publish directory.
package muxer

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// PlaylistName is the playlist file every session writes.
	PlaylistName = "index.m3u8"
	// segmentPattern names rolling segments inside the publish directory.
	segmentPattern = "segment_%05d.ts"

	// loudnorm keeps program loudness broadcast-safe regardless of how hot
	// the source tracks were mastered.
	loudnormFilter = "loudnorm=I=-16:TP=-1.5:LRA=11"
)

// AudioSpec describes the PCM feed read from the named FIFO and how to
// encode it.
type AudioSpec struct {
	FIFOPath   string
	SampleRate int
	Channels   int
	Codec      string
	Bitrate    string
}

// VideoSpec describes capture-mode encoding. Pipe mode stream-copies the
// already encoded segments and ignores it.
type VideoSpec struct {
	Width   int
	Height  int
	FPS     int
	Bitrate string
	Codec   string
	Preset  string
	PixFmt  string
}

// HLSSpec describes the published playlist.
type HLSSpec struct {
	Dir            string
	SegmentSeconds int
	WindowSize     int
	Flags          []string
}

// PlaylistPath returns the absolute playlist location for this spec.
func (h HLSSpec) PlaylistPath() string {
	return filepath.Join(h.Dir, PlaylistName)
}

// SegmentPath returns the segment filename pattern ffmpeg expands.
func (h HLSSpec) SegmentPath() string {
	return filepath.Join(h.Dir, segmentPattern)
}

func (h HLSSpec) validate() error {
	if h.Dir == "" {
		return fmt.Errorf("missing publish directory")
	}
	for _, f := range h.Flags {
		// A playlist that appends across sessions never shrinks and
		// replays dead timelines; sessions must start from scratch.
		if strings.Trim(f, "+") == "append_list" {
			return fmt.Errorf("hls flag append_list is not allowed")
		}
	}
	return nil
}

func (a AudioSpec) validate() error {
	if a.FIFOPath == "" {
		return fmt.Errorf("missing audio fifo path")
	}
	if a.SampleRate <= 0 {
		return fmt.Errorf("invalid audio sample rate %d", a.SampleRate)
	}
	return nil
}

// audioInput is the shared FIFO input block: raw PCM, generously queued so
// a briefly stalled video input does not starve the audio thread.
func audioInput(a AudioSpec) []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(a.SampleRate),
		"-ac", strconv.Itoa(a.Channels),
		"-thread_queue_size", "4096",
		"-i", a.FIFOPath,
	}
}

// hlsTail is the shared output block: normalize and encode audio, then emit
// the rolling playlist.
func hlsTail(a AudioSpec, h HLSSpec) []string {
	args := []string{
		"-af", loudnormFilter,
		"-c:a", a.Codec,
		"-b:a", a.Bitrate,
		"-ar", strconv.Itoa(a.SampleRate),
		"-f", "hls",
		"-hls_time", strconv.Itoa(h.SegmentSeconds),
		"-hls_list_size", strconv.Itoa(h.WindowSize),
	}
	if len(h.Flags) > 0 {
		args = append(args, "-hls_flags", strings.Join(h.Flags, "+"))
	}
	return append(args,
		"-hls_segment_filename", h.SegmentPath(),
		h.PlaylistPath(),
	)
}

// BuildPipeArgs constructs the muxer invocation for pipe mode: MPEG-TS
// segments on stdin, paced to real time, video stream-copied because the
// renderer already encoded it.
func BuildPipeArgs(audio AudioSpec, hls HLSSpec) ([]string, error) {
	if err := audio.validate(); err != nil {
		return nil, err
	}
	if err := hls.validate(); err != nil {
		return nil, err
	}

	args := []string{
		"-y", "-hide_banner", "-loglevel", "warning",
		"-re",
		"-fflags", "+genpts",
		"-f", "mpegts", "-i", "pipe:0",
	}
	args = append(args, audioInput(audio)...)
	args = append(args,
		"-map", "0:v", "-map", "1:a",
		"-c:v", "copy",
	)
	return append(args, hlsTail(audio, hls)...), nil
}

// BuildCaptureArgs constructs the muxer invocation for capture mode: grab
// the render surface display live and encode it here, since no upstream
// encoder exists in this mode.
func BuildCaptureArgs(display string, video VideoSpec, audio AudioSpec, hls HLSSpec) ([]string, error) {
	if display == "" {
		return nil, fmt.Errorf("missing capture display")
	}
	if err := audio.validate(); err != nil {
		return nil, err
	}
	if err := hls.validate(); err != nil {
		return nil, err
	}

	args := []string{
		"-y", "-hide_banner", "-loglevel", "warning",
		"-f", "x11grab",
		"-framerate", strconv.Itoa(video.FPS),
		"-video_size", fmt.Sprintf("%dx%d", video.Width, video.Height),
		"-i", display,
	}
	args = append(args, audioInput(audio)...)
	args = append(args,
		"-map", "0:v", "-map", "1:a",
		"-c:v", video.Codec,
		"-preset", video.Preset,
		"-b:v", video.Bitrate,
		"-g", strconv.Itoa(video.FPS*4),
		"-pix_fmt", video.PixFmt,
	)
	return append(args, hlsTail(audio, hls)...), nil
}
