// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesReceivedTotal counts frames handed over by the frame source while a run is active
	FramesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "latprobe_frames_received_total",
			Help: "Total number of frames received from the frame source",
		},
	)

	// FramesDroppedTotal counts frames dropped before analysis
	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "latprobe_frames_dropped_total",
			Help: "Total number of frames dropped before analysis",
		},
		[]string{"reason"},
	)

	// FramesClassifiedTotal counts frames classified as test traffic
	FramesClassifiedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "latprobe_frames_classified_total",
			Help: "Total number of frames classified as test traffic",
		},
		[]string{"direction"},
	)

	// FrameErrorsTotal counts per-frame decode errors
	FrameErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "latprobe_frame_errors_total",
			Help: "Total number of frames skipped because of decode errors",
		},
		[]string{"stage"},
	)

	// AnalysisBatchSize tracks how many frames the analysis goroutine drains at once
	AnalysisBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "latprobe_analysis_batch_size",
			Help:    "Number of frames drained per analysis batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1, 2, 4, ..., 8192
		},
	)

	// DrainTimeoutsTotal counts runs whose queue did not drain before the stop timeout
	DrainTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "latprobe_drain_timeouts_total",
			Help: "Total number of capture runs stopped with a non-empty queue",
		},
	)

	// CaptureRunning is 1 while a capture run is active
	CaptureRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "latprobe_capture_running",
			Help: "Whether a capture run is active (0=stopped, 1=running)",
		},
	)

	// OutliersTotal counts flagged outliers by category
	OutliersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "latprobe_outliers_total",
			Help: "Total number of outlier measurements by category",
		},
		[]string{"category"},
	)

	// RunLatencyMs exposes the aggregates of the last correlated run
	RunLatencyMs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "latprobe_run_latency_ms",
			Help: "Latency aggregates of the last correlated run in milliseconds",
		},
		[]string{"run", "stat"},
	)

	// ReporterErrorsTotal counts reporter errors by reporter name
	ReporterErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "latprobe_reporter_errors_total",
			Help: "Total number of reporter errors",
		},
		[]string{"reporter"},
	)
)

// Drop reasons
const (
	DropNotRunning = "not_running"
	DropQueueFull  = "queue_full"
	DropStale      = "stale"
	DropSubscriber = "slow_subscriber"
	DropCancelled  = "cancelled"
)

// Frame error stages
const (
	StageDecode = "decode"
	StageTap    = "tap"
)
