// Package correlate joins tool measurements with captured frames and flags latency outliers.
package correlate

import (
	"errors"

	"firestige.xyz/latprobe/internal/capture"
	"firestige.xyz/latprobe/internal/core"
	"firestige.xyz/latprobe/internal/log"
	"firestige.xyz/latprobe/internal/stats"
	"firestige.xyz/latprobe/internal/tool"
)

// Sigma multipliers of the outlier test.
const (
	OutlierSigma  = 3.0
	CategorySigma = 2.0
)

type Options struct {
	// TapEnabled selects tap trailer pairing. Without it the capture latency is half the
	// software-timestamped round trip.
	TapEnabled bool
}

type Engine struct {
	opts Options
	log  log.Logger
}

func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts, log: log.Named("correlate")}
}

// Correlate builds the result of one run. measurements keep their order. store may be nil
// when nothing was captured.
//
// The returned Result is always usable. A non-nil error is an *AggregateError naming the
// aggregates left invalid because their sample was empty.
func (e *Engine) Correlate(measurements []tool.Measurement, store *capture.Store, report tool.Report) (*Result, error) {
	res := &Result{
		Measurements: make([]Measurement, len(measurements)),
		Sent:         report.Sent,
		Received:     report.Sent - report.Lost,
		Lost:         report.Lost,
		Reported:     report,
		TapEnabled:   e.opts.TapEnabled,
	}
	if store == nil {
		store = capture.NewStore()
	}
	res.Capture = store.Counters()

	for i, tm := range measurements {
		m := Measurement{
			Index:          tm.Index,
			SendTime:       tm.SendTime,
			ReceiveTime:    tm.ReceiveTime,
			Latency:        tm.Latency,
			ClientToServer: tm.ClientToServer,
			ServerToClient: tm.ServerToClient,
		}
		frames := store.Get(tm.Index)
		if len(frames) == 0 {
			if store.Frames() > 0 {
				e.log.Debugf("no frames captured for index %d", tm.Index)
			}
		} else if e.opts.TapEnabled {
			pairTap(&m, frames)
		} else {
			pairSoftware(&m, frames)
		}
		if m.CaptureLatency.Valid {
			m.ClientProcessing = core.Observed(m.Latency - m.CaptureLatency.Value)
		}
		res.Measurements[i] = m
	}

	var failed []string
	var err error

	latencies := make([]float64, len(res.Measurements))
	for i := range res.Measurements {
		latencies[i] = res.Measurements[i].Latency
	}
	if res.Latency, err = aggregate(latencies); err != nil {
		failed = append(failed, "latency")
	} else {
		for i := range res.Measurements {
			res.Measurements[i].Jitter = core.Observed(res.Measurements[i].Latency - res.Latency.Mean)
		}
	}

	captured := collect(res.Measurements, func(m *Measurement) core.Millis { return m.CaptureLatency })
	if agg, err := aggregate(captured); err == nil {
		res.CaptureLatency = agg
		for i := range res.Measurements {
			m := &res.Measurements[i]
			if m.CaptureLatency.Positive() {
				m.CaptureJitter = core.Observed(m.CaptureLatency.Value - agg.Mean)
			}
		}
	}

	if res.Latency.Valid {
		jitter := collect(res.Measurements, func(m *Measurement) core.Millis { return m.Jitter })
		if res.Jitter, err = aggregate(jitter); err != nil {
			failed = append(failed, "jitter")
		}
		e.flagOutliers(res)
	} else {
		failed = append(failed, "jitter")
	}

	if len(failed) > 0 {
		return res, &AggregateError{Aggregates: failed, Err: stats.ErrEmptySample}
	}
	return res, nil
}

// pairTap derives the one-way and processing times from the first frame seen on each tap side.
func pairTap(m *Measurement, frames []core.CapturedFrame) {
	var pingClient, pingServer, pongClient, pongServer *core.CapturedFrame
	for i := range frames {
		f := &frames[i]
		switch f.Direction {
		case core.DirectionPing:
			if pingClient == nil && f.ClientSide() {
				pingClient = f
			}
			if pingServer == nil && f.ServerSide() {
				pingServer = f
			}
		case core.DirectionPong:
			if pongClient == nil && f.ClientSide() {
				pongClient = f
			}
			if pongServer == nil && f.ServerSide() {
				pongServer = f
			}
		}
	}

	m.Tap = TapObservations{
		PingClient: pingClient != nil,
		PingServer: pingServer != nil,
		PongClient: pongClient != nil,
		PongServer: pongServer != nil,
	}
	m.CapturedClientToServer = tapDelta(pingClient, pingServer)
	m.CapturedServerToClient = tapDelta(pongServer, pongClient)
	m.ServerProcessing = tapDelta(pingServer, pongServer)
	m.CaptureLatency = tapDelta(pingClient, pongClient)
}

// tapDelta returns to − from in milliseconds of tap time.
func tapDelta(from, to *core.CapturedFrame) core.Millis {
	if from == nil || to == nil {
		return core.Millis{}
	}
	ns := int64(to.Tap.TimestampNs) - int64(from.Tap.TimestampNs)
	return core.Observed(float64(ns) / 1e6)
}

// pairSoftware halves the capture round trip when exactly one ping and one pong were seen.
func pairSoftware(m *Measurement, frames []core.CapturedFrame) {
	var ping, pong []core.CapturedFrame
	for _, f := range frames {
		switch f.Direction {
		case core.DirectionPing:
			ping = append(ping, f)
		case core.DirectionPong:
			pong = append(pong, f)
		}
	}
	if len(ping) != 1 || len(pong) != 1 {
		return
	}
	rtt := pong[0].Timestamp.Sub(ping[0].Timestamp)
	m.CaptureLatency = core.Observed(float64(rtt.Microseconds()) / 1e3 / 2)
}

// categoryThreshold is the CategorySigma threshold over the positive values of a category.
// ok is false when the category has no positive value, in which case nothing is flagged.
func categoryThreshold(values []float64) (threshold float64, ok bool) {
	s, err := stats.Summarize(stats.Positive(values))
	if err != nil {
		return 0, false
	}
	return s.Threshold(CategorySigma), true
}

func (e *Engine) flagOutliers(res *Result) {
	primary := res.Latency.Threshold(OutlierSigma)

	type category struct {
		value func(*Measurement) core.Millis
		flag  func(*Measurement) *bool
		count *int
	}
	categories := []category{
		{func(m *Measurement) core.Millis { return m.CapturedClientToServer }, func(m *Measurement) *bool { return &m.IsPingOutlier }, &res.Outliers.Ping},
		{func(m *Measurement) core.Millis { return m.CapturedServerToClient }, func(m *Measurement) *bool { return &m.IsPongOutlier }, &res.Outliers.Pong},
		{func(m *Measurement) core.Millis { return m.ServerProcessing }, func(m *Measurement) *bool { return &m.IsServerProcessingOutlier }, &res.Outliers.ServerProcessing},
		{func(m *Measurement) core.Millis { return m.ClientProcessing }, func(m *Measurement) *bool { return &m.IsClientProcessingOutlier }, &res.Outliers.ClientProcessing},
	}
	thresholds := make([]float64, len(categories))
	usable := make([]bool, len(categories))
	for i, c := range categories {
		thresholds[i], usable[i] = categoryThreshold(collect(res.Measurements, c.value))
	}

	for i := range res.Measurements {
		m := &res.Measurements[i]
		if m.Latency <= primary {
			continue
		}
		m.IsOutlier = true
		res.Outliers.Total++
		for j, c := range categories {
			v := c.value(m)
			if usable[j] && v.Valid && v.Value > thresholds[j] {
				*c.flag(m) = true
				*c.count++
			}
		}
		if !m.Categorized() {
			res.Outliers.Uncategorized++
		}
	}
}

// collect returns the valid values of field; invalid entries are skipped.
func collect(ms []Measurement, field func(*Measurement) core.Millis) []float64 {
	out := make([]float64, 0, len(ms))
	for i := range ms {
		if v := field(&ms[i]); v.Valid {
			out = append(out, v.Value)
		}
	}
	return out
}

// IsAggregateError reports whether err is an *AggregateError.
func IsAggregateError(err error) bool {
	var ae *AggregateError
	return errors.As(err, &ae)
}
