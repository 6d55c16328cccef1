package correlate

import (
	"fmt"
	"strings"

	"firestige.xyz/latprobe/internal/capture"
	"firestige.xyz/latprobe/internal/core"
	"firestige.xyz/latprobe/internal/stats"
	"firestige.xyz/latprobe/internal/tool"
)

// TapObservations records which tap sides saw the ping and the pong of a message.
type TapObservations struct {
	PingClient bool
	PingServer bool
	PongClient bool
	PongServer bool
}

// Measurement is a tool measurement enriched with capture-derived values.
type Measurement struct {
	Index       int64
	SendTime    float64
	ReceiveTime float64
	Latency     float64 // Reported by the tool, ms

	// One-way latencies reported by the tool, if it measures them.
	ClientToServer core.Millis
	ServerToClient core.Millis

	Jitter core.Millis

	CaptureLatency         core.Millis
	CaptureJitter          core.Millis
	CapturedClientToServer core.Millis
	CapturedServerToClient core.Millis
	ServerProcessing       core.Millis
	ClientProcessing       core.Millis

	Tap TapObservations

	IsOutlier                 bool
	IsPingOutlier             bool
	IsPongOutlier             bool
	IsServerProcessingOutlier bool
	IsClientProcessingOutlier bool
}

// Categorized reports whether an outlier was attributed to at least one category.
func (m *Measurement) Categorized() bool {
	return m.IsPingOutlier || m.IsPongOutlier || m.IsServerProcessingOutlier || m.IsClientProcessingOutlier
}

// Aggregate is a run-level summary. It is invalid when its sample had no positive values.
type Aggregate struct {
	stats.Summary
	Valid bool
}

func aggregate(values []float64) (Aggregate, error) {
	s, err := stats.Summarize(stats.Positive(values))
	if err != nil {
		return Aggregate{}, err
	}
	return Aggregate{Summary: s, Valid: true}, nil
}

// OutlierCounts is the outlier breakdown of a run. A measurement may count in several
// categories; Uncategorized counts primary outliers without any category.
type OutlierCounts struct {
	Total            int
	Uncategorized    int
	Ping             int
	Pong             int
	ServerProcessing int
	ClientProcessing int
}

// Result is the correlated outcome of one run.
type Result struct {
	Measurements []Measurement

	Latency        Aggregate
	Jitter         Aggregate
	CaptureLatency Aggregate

	Sent     int
	Received int
	Lost     int
	Reported tool.Report

	TapEnabled bool
	Capture    capture.Counters
	Outliers   OutlierCounts
}

// AggregateError lists the run aggregates that could not be computed.
type AggregateError struct {
	Aggregates []string
	Err        error
}

func (e *AggregateError) Error() string {
	return fmt.Sprintf("latprobe: cannot compute %s: %v", strings.Join(e.Aggregates, ", "), e.Err)
}

func (e *AggregateError) Unwrap() error {
	return e.Err
}
