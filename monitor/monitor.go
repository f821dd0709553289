// Package monitor holds the process-wide Prometheus metrics.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sheetbox"

// Episode Metrics
var (
	EpisodesStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "episode",
		Name:      "started_total",
		Help:      "Total number of episodes started, by task mode",
	}, []string{"mode"})

	EpisodesEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "episode",
		Name:      "ended_total",
		Help:      "Total number of episodes ended, by outcome",
	}, []string{"outcome"})

	EpisodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "episode",
		Name:      "duration_seconds",
		Help:      "Wall-clock duration of an episode from start to end",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	})

	ProvisioningFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "episode",
		Name:      "provisioning_failures_total",
		Help:      "Total number of episodes that failed to provision",
	})
)

// Grading Metrics
var (
	GradingScore = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "grading",
		Name:      "score",
		Help:      "Distribution of grading scores",
		Buckets:   []float64{0, 0.25, 0.5, 0.75, 0.9, 0.95, 0.99, 1},
	}, []string{"mode"})
)

// Sandbox Metrics
var (
	SandboxTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sandbox",
		Name:      "timeouts_total",
		Help:      "Total number of sandboxes killed by the deadline watchdog",
	})

	SandboxExecLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sandbox",
		Name:      "exec_latency_seconds",
		Help:      "Latency of commands executed inside a sandbox",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	SandboxActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sandbox",
		Name:      "active_count",
		Help:      "Number of sandboxes currently owned by this process",
	})
)
