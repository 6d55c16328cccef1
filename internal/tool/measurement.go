package tool

import (
	"context"
	"fmt"

	"firestige.xyz/latprobe/internal/core"
)

// Measurement is one message as the tool reported it.
type Measurement struct {
	Index          int64
	SendTime       float64 // Tool clock, seconds
	ReceiveTime    float64 // Tool clock, seconds
	Latency        float64 // Milliseconds
	ClientToServer core.Millis
	ServerToClient core.Millis
}

// Report is the tool's own summary of a run.
type Report struct {
	Sent     int
	Received int
	Lost     int
	Min      core.Millis
	Avg      core.Millis
	Max      core.Millis
	StdDev   core.Millis
}

// NewReport derives the received count from sent and lost.
func NewReport(sent, lost int) (Report, error) {
	if sent < 0 || lost < 0 || lost > sent {
		return Report{}, fmt.Errorf("invalid report: sent=%d lost=%d", sent, lost)
	}
	return Report{Sent: sent, Received: sent - lost, Lost: lost}, nil
}

// WithLatency returns r carrying the tool's own latency statistics in milliseconds. A
// negative value means the tool did not report it.
func (r Report) WithLatency(minMs, avgMs, maxMs, stddevMs float64) Report {
	r.Min, r.Avg, r.Max, r.StdDev = reported(minMs), reported(avgMs), reported(maxMs), reported(stddevMs)
	return r
}

func reported(v float64) core.Millis {
	if v < 0 {
		return core.Millis{}
	}
	return core.Observed(v)
}

// IndexShift is the offset between the indices a tool logs and the indices it puts on the
// wire: the tool counts warm-up messages on the wire but only logs valid ones.
func IndexShift(sentTotal, receivedValid int64) int64 {
	return sentTotal - receivedValid + 1
}

// MeasurementSource yields the measurements of one run.
type MeasurementSource interface {
	Measurements(ctx context.Context) ([]Measurement, error)
}
