// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProcTerminations tracks termination signals sent to child process groups.
	ProcTerminations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vjd_proc_terminate_total",
		Help: "Termination signals sent to child process groups",
	}, []string{"signal", "outcome"})

	// ProcWaits tracks how child process waits resolved.
	ProcWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vjd_proc_wait_total",
		Help: "Child process wait resolutions",
	}, []string{"outcome"})
)

// IncProcTerminate records a signal delivery attempt.
func IncProcTerminate(signal, outcome string) {
	ProcTerminations.WithLabelValues(signal, outcome).Inc()
}

// IncProcWait records a wait resolution.
func IncProcWait(outcome string) {
	ProcWaits.WithLabelValues(outcome).Inc()
}
