// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/starlitetv/vjd/internal/effects"
)

// Encoding holds the output video parameters shared by every segment of a
// session. All segments must be encoded identically or the muxer's stream
// copy produces a broken transport stream.
type Encoding struct {
	Width   int
	Height  int
	FPS     int
	Bitrate string
	Codec   string
	Preset  string
	PixFmt  string
}

// scaleFilter letterboxes arbitrary source material into the session
// resolution without distortion and normalizes the sample aspect ratio.
func scaleFilter(e Encoding) string {
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1",
		e.Width, e.Height, e.Width, e.Height)
}

// baseChain is the per-input filter chain: letterbox, retime, lock the
// frame rate, then any effects.
func baseChain(e Encoding, speed float64, chain string) string {
	vf := fmt.Sprintf("%s,setpts=%s*PTS,fps=%d",
		scaleFilter(e), formatFloat(speed), e.FPS)
	if chain != "" {
		vf += "," + chain
	}
	return vf
}

// bugOverlay alpha-blends the station bug into the bottom-right corner.
const bugOverlay = "colorchannelmixer=aa=0.5"

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func formatSeconds(d time.Duration, decimals int) string {
	return strconv.FormatFloat(d.Seconds(), 'f', decimals, 64)
}

// BuildClipArgs constructs the ffmpeg invocation for a single-source
// segment. The output is always video-only MPEG-TS with timestamps
// starting at the task's assigned offset, so the muxer can concatenate
// segments by stream copy.
func BuildClipArgs(t Task, e Encoding, bugPath, outPath string) ([]string, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if outPath == "" {
		return nil, fmt.Errorf("missing output path")
	}
	chain, err := effects.Compile(t.Effects)
	if err != nil {
		return nil, err
	}

	args := []string{"-y", "-hide_banner", "-loglevel", "warning"}
	if t.Loop {
		args = append(args, "-stream_loop", "-1")
	}
	args = append(args,
		"-ss", formatSeconds(t.SourceStart, 2),
		"-t", formatSeconds(t.Duration, 2),
		"-i", t.Source,
	)

	vf := baseChain(e, t.EffectiveSpeed(), chain)
	if bugPath != "" {
		fc := fmt.Sprintf("[0:v]%s[vid];[1:v]%s[bug];[vid][bug]overlay=W-w-45:H-h-40[out]",
			vf, bugOverlay)
		args = append(args, "-i", bugPath, "-filter_complex", fc, "-map", "[out]")
	} else {
		args = append(args, "-vf", vf)
	}

	return append(args, encodeTail(t, e, outPath)...), nil
}

// BuildBlendArgs constructs the ffmpeg invocation for a two-source
// composite. Both clips are normalized through the same base chain, the
// effects apply to the base layer only, and the layers are merged with the
// task's blend mode.
func BuildBlendArgs(t Task, e Encoding, bugPath, outPath string) ([]string, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if t.Overlay == "" {
		return nil, fmt.Errorf("blend task has no overlay clip")
	}
	if outPath == "" {
		return nil, fmt.Errorf("missing output path")
	}
	chain, err := effects.Compile(t.Effects)
	if err != nil {
		return nil, err
	}

	args := []string{
		"-y", "-hide_banner", "-loglevel", "warning",
		"-ss", formatSeconds(t.SourceStart, 2),
		"-t", formatSeconds(t.Duration, 2),
		"-i", t.Source,
		"-ss", formatSeconds(t.OverlayStart, 2),
		"-t", formatSeconds(t.Duration, 2),
		"-i", t.Overlay,
	}

	base := baseChain(e, t.EffectiveSpeed(), chain)
	top := baseChain(e, t.EffectiveSpeed(), "")

	var fc strings.Builder
	fmt.Fprintf(&fc, "[0:v]%s[base];[1:v]%s[top];", base, top)
	if bugPath != "" {
		args = append(args, "-i", bugPath)
		fmt.Fprintf(&fc, "[base][top]blend=all_mode=%s[blended];[2:v]%s[bug];[blended][bug]overlay=W-w-45:H-h-40[out]",
			t.BlendMode, bugOverlay)
	} else {
		fmt.Fprintf(&fc, "[base][top]blend=all_mode=%s[out]", t.BlendMode)
	}
	args = append(args, "-filter_complex", fc.String(), "-map", "[out]")

	return append(args, encodeTail(t, e, outPath)...), nil
}

// encodeTail is the shared output half of every render: strip audio, encode
// with the session parameters, stamp the timeline offset, write MPEG-TS.
// The GOP is pinned to four seconds so downstream segmentation always finds
// a keyframe boundary.
func encodeTail(t Task, e Encoding, outPath string) []string {
	return []string{
		"-an",
		"-c:v", e.Codec,
		"-preset", e.Preset,
		"-b:v", e.Bitrate,
		"-g", strconv.Itoa(e.FPS * 4),
		"-pix_fmt", e.PixFmt,
		"-output_ts_offset", formatSeconds(t.Offset, 3),
		"-f", "mpegts",
		outPath,
	}
}
