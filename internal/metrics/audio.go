// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TracksPlayed tracks music tracks fully decoded into the audio FIFO.
	TracksPlayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vjd_audio_tracks_played_total",
		Help: "Music tracks fully decoded into the audio FIFO",
	})

	// AudioBytes tracks raw PCM bytes written into the audio FIFO.
	AudioBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vjd_audio_bytes_total",
		Help: "Raw PCM bytes written into the audio FIFO",
	})
)

// IncTrackPlayed records one fully played track.
func IncTrackPlayed() {
	TracksPlayed.Inc()
}

// AddAudioBytes records PCM bytes delivered to the muxer's audio input.
func AddAudioBytes(n int64) {
	AudioBytes.Add(float64(n))
}
