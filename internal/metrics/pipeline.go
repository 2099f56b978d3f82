// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SegmentsRendered tracks render outcomes per result ("ok", "failed").
	SegmentsRendered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vjd_segments_rendered_total",
		Help: "Total render attempts by result",
	}, []string{"result"})

	// RenderDuration tracks wall-clock time spent rendering one segment.
	RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vjd_render_duration_seconds",
		Help:    "Wall-clock duration of one segment render",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})

	// QueueDepth tracks the number of staged segments waiting for the feeder.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vjd_staging_queue_depth",
		Help: "Staged segments currently queued",
	})

	// SegmentsFed tracks segments fully transferred into the muxer.
	SegmentsFed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vjd_segments_fed_total",
		Help: "Segments fully transferred into the muxer",
	})

	// FeederBytes tracks bytes copied from staging into the muxer.
	FeederBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vjd_feeder_bytes_total",
		Help: "Bytes copied from staging files into the muxer input",
	})

	// SegmentsDropped tracks staged segments discarded on session failure.
	SegmentsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vjd_segments_dropped_total",
		Help: "Staged segments discarded because their session died",
	})

	// StagingGuardWaits tracks producer stalls on the staging guards.
	StagingGuardWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vjd_staging_guard_waits_total",
		Help: "Producer waits forced by staging guards, by reason",
	}, []string{"reason"})

	// TimelineOffset tracks the cumulative timeline position in seconds.
	TimelineOffset = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vjd_timeline_offset_seconds",
		Help: "Cumulative timestamp offset assigned to rendered segments",
	})
)

// IncSegmentRendered records a render outcome.
func IncSegmentRendered(result string) {
	SegmentsRendered.WithLabelValues(result).Inc()
}

// ObserveRenderDuration records one render's wall-clock duration.
func ObserveRenderDuration(d time.Duration) {
	RenderDuration.Observe(d.Seconds())
}

// SetQueueDepth records the current staging queue depth.
func SetQueueDepth(n int) {
	QueueDepth.Set(float64(n))
}

// AddFeederBytes records bytes copied into the muxer.
func AddFeederBytes(n int64) {
	FeederBytes.Add(float64(n))
}

// IncStagingGuardWait records a producer stall ("max_files" or "disk_space").
func IncStagingGuardWait(reason string) {
	StagingGuardWaits.WithLabelValues(reason).Inc()
}

// SetTimelineOffset records the cumulative timeline position.
func SetTimelineOffset(d time.Duration) {
	TimelineOffset.Set(d.Seconds())
}
