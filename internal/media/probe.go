// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package media probes source clips with ffprobe. The pipeline uses it to
// default a task's duration to the clip length and to reject unreadable
// sources before they reach the renderer.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/starlitetv/vjd/internal/log"
)

// Info describes the playable content of one source file.
type Info struct {
	Container  string
	Duration   time.Duration
	Width      int
	Height     int
	FPS        float64
	VideoCodec string
	AudioCodec string
}

// HasVideo reports whether a decodable video stream was found.
func (i *Info) HasVideo() bool { return i.VideoCodec != "" }

// HasAudio reports whether a decodable audio stream was found.
func (i *Info) HasAudio() bool { return i.AudioCodec != "" }

// Prober runs ffprobe against local files.
type Prober struct {
	bin    string
	logger zerolog.Logger
}

// NewProber returns a Prober using the given ffprobe binary.
func NewProber(bin string) *Prober {
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{bin: bin, logger: log.WithComponent("media")}
}

// Probe executes ffprobe and returns stream info.
func (p *Prober) Probe(ctx context.Context, path string) (*Info, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	// #nosec G204 -- binary comes from config; args are fixed and path is opaque
	cmd := exec.CommandContext(ctx, p.bin, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()

	info, decodeErr := decode(out)
	if decodeErr == nil {
		// Valid JSON with playable content. A non-zero exit on top of that
		// usually means a truncated file that is still usable.
		if err != nil {
			errStr := stderr.String()
			if len(errStr) > 4096 {
				errStr = errStr[:4096] + "..."
			}
			p.logger.Warn().
				Err(err).
				Str(log.FieldPath, path).
				Str("stderr", errStr).
				Msg("ffprobe non-zero exit but JSON accepted")
		}
		return info, nil
	}

	if err != nil {
		errStr := stderr.String()
		if len(errStr) > 4096 {
			errStr = errStr[:4096] + "..."
		}
		return nil, fmt.Errorf("ffprobe failed: %w (stderr: %s)", err, errStr)
	}
	return nil, decodeErr
}

type probeData struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Duration     string `json:"duration,omitempty"`
		Width        int    `json:"width,omitempty"`
		Height       int    `json:"height,omitempty"`
		AvgFrameRate string `json:"avg_frame_rate,omitempty"`
	} `json:"streams"`
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

// decode parses ffprobe JSON output and validates that it describes playable
// content.
func decode(out []byte) (*Info, error) {
	var data probeData
	if err := json.Unmarshal(out, &data); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}
	if data.Format.FormatName == "" {
		return nil, fmt.Errorf("ffprobe returned empty format data")
	}

	info := &Info{}
	var streamDuration float64

	for _, s := range data.Streams {
		switch s.CodecType {
		case "video":
			if s.CodecName == "" {
				continue
			}
			info.VideoCodec = s.CodecName
			info.Width = s.Width
			info.Height = s.Height
			if s.Duration != "" {
				if d, err := strconv.ParseFloat(s.Duration, 64); err == nil && d > streamDuration {
					streamDuration = d
				}
			}
			if s.AvgFrameRate != "" && s.AvgFrameRate != "0/0" {
				parts := strings.Split(s.AvgFrameRate, "/")
				if len(parts) == 2 {
					num, _ := strconv.ParseFloat(parts[0], 64)
					den, _ := strconv.ParseFloat(parts[1], 64)
					if den > 0 {
						info.FPS = num / den
					}
				}
			}
		case "audio":
			if s.CodecName == "" {
				continue
			}
			info.AudioCodec = s.CodecName
			if s.Duration != "" {
				if d, err := strconv.ParseFloat(s.Duration, 64); err == nil && d > streamDuration {
					streamDuration = d
				}
			}
		}
	}

	if !info.HasVideo() && !info.HasAudio() {
		return nil, fmt.Errorf("ffprobe returned no playable streams")
	}

	if streamDuration == 0 && data.Format.Duration != "" {
		if d, err := strconv.ParseFloat(data.Format.Duration, 64); err == nil {
			streamDuration = d
		}
	}
	info.Duration = time.Duration(streamDuration * float64(time.Second))

	// Normalize container vocabulary (format_name can be a comma list;
	// mpegts is reported as "mpegts" but referred to as "ts" everywhere
	// else in the pipeline).
	canonical := ""
	for _, part := range strings.Split(data.Format.FormatName, ",") {
		t := strings.TrimSpace(part)
		if t == "mpegts" {
			canonical = "ts"
			break
		}
		if canonical == "" && t != "" {
			canonical = t
		}
	}
	info.Container = canonical

	return info, nil
}
