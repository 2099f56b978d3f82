// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionRestarts tracks muxer relaunches by exit reason. Rapid growth
	// with no backoff is visible here; the restart loop itself never
	// escalates.
	SessionRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vjd_session_restarts_total",
		Help: "Muxer session restarts by exit reason",
	}, []string{"reason"})

	// SessionDuration tracks how long each muxer session lived.
	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vjd_session_duration_seconds",
		Help:    "Lifetime of one muxer session",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 14400, 86400},
	})

	// WatchdogKills tracks terminations forced by playlist staleness.
	WatchdogKills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vjd_watchdog_kills_total",
		Help: "Muxer terminations forced by the liveness watchdog",
	})

	// PlaylistStaleness tracks the observed playlist age at each watchdog poll.
	PlaylistStaleness = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vjd_playlist_staleness_seconds",
		Help: "Playlist age observed at the most recent watchdog poll",
	})
)

// IncSessionRestart records a session relaunch with the prior exit reason.
func IncSessionRestart(reason string) {
	SessionRestarts.WithLabelValues(reason).Inc()
}

// ObserveSessionDuration records one session's lifetime.
func ObserveSessionDuration(d time.Duration) {
	SessionDuration.Observe(d.Seconds())
}

// SetPlaylistStaleness records the playlist age seen by the watchdog.
func SetPlaylistStaleness(d time.Duration) {
	PlaylistStaleness.Set(d.Seconds())
}
