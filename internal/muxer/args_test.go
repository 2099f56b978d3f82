// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

package muxer

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAudio() AudioSpec {
	return AudioSpec{
		FIFOPath:   "/run/vjd/audio.fifo",
		SampleRate: 44100,
		Channels:   2,
		Codec:      "aac",
		Bitrate:    "128k",
	}
}

func testHLS() HLSSpec {
	return HLSSpec{
		Dir:            "/srv/hls",
		SegmentSeconds: 4,
		WindowSize:     6,
		Flags:          []string{"delete_segments", "independent_segments"},
	}
}

func TestBuildPipeArgs(t *testing.T) {
	args, err := BuildPipeArgs(testAudio(), testHLS())
	require.NoError(t, err)

	want := []string{
		"-y", "-hide_banner", "-loglevel", "warning",
		"-re",
		"-fflags", "+genpts",
		"-f", "mpegts", "-i", "pipe:0",
		"-f", "s16le",
		"-ar", "44100",
		"-ac", "2",
		"-thread_queue_size", "4096",
		"-i", "/run/vjd/audio.fifo",
		"-map", "0:v", "-map", "1:a",
		"-c:v", "copy",
		"-af", "loudnorm=I=-16:TP=-1.5:LRA=11",
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", "44100",
		"-f", "hls",
		"-hls_time", "4",
		"-hls_list_size", "6",
		"-hls_flags", "delete_segments+independent_segments",
		"-hls_segment_filename", "/srv/hls/segment_%05d.ts",
		"/srv/hls/index.m3u8",
	}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildPipeArgsRejectsAppendList(t *testing.T) {
	hls := testHLS()
	hls.Flags = []string{"delete_segments", "append_list"}
	_, err := BuildPipeArgs(testAudio(), hls)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append_list")

	hls.Flags = []string{"+append_list"}
	_, err = BuildPipeArgs(testAudio(), hls)
	assert.Error(t, err)
}

func TestBuildPipeArgsValidation(t *testing.T) {
	audio := testAudio()
	audio.FIFOPath = ""
	_, err := BuildPipeArgs(audio, testHLS())
	assert.Error(t, err)

	hls := testHLS()
	hls.Dir = ""
	_, err = BuildPipeArgs(testAudio(), hls)
	assert.Error(t, err)
}

func TestBuildPipeArgsOmitsEmptyFlags(t *testing.T) {
	hls := testHLS()
	hls.Flags = nil
	args, err := BuildPipeArgs(testAudio(), hls)
	require.NoError(t, err)
	assert.NotContains(t, strings.Join(args, " "), "-hls_flags")
}

func TestBuildCaptureArgs(t *testing.T) {
	video := VideoSpec{
		Width: 1280, Height: 720, FPS: 30,
		Bitrate: "2500k", Codec: "libx264", Preset: "veryfast", PixFmt: "yuv420p",
	}
	args, err := BuildCaptureArgs(":99", video, testAudio(), testHLS())
	require.NoError(t, err)

	str := strings.Join(args, " ")
	assert.Contains(t, str, "-f x11grab -framerate 30 -video_size 1280x720 -i :99")
	assert.Contains(t, str, "-c:v libx264 -preset veryfast -b:v 2500k -g 120 -pix_fmt yuv420p")
	assert.Contains(t, str, "-af loudnorm=I=-16:TP=-1.5:LRA=11")
	assert.Contains(t, str, "/srv/hls/index.m3u8")
	assert.NotContains(t, str, "-re ", "a live grab paces itself")
	assert.NotContains(t, str, "pipe:0")
}

func TestBuildCaptureArgsValidation(t *testing.T) {
	_, err := BuildCaptureArgs("", VideoSpec{}, testAudio(), testHLS())
	assert.Error(t, err)
}
