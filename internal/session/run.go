package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"firestige.xyz/latprobe/internal/capture"
	"firestige.xyz/latprobe/internal/config"
	"firestige.xyz/latprobe/internal/core"
	"firestige.xyz/latprobe/internal/correlate"
	"firestige.xyz/latprobe/internal/metrics"
	"firestige.xyz/latprobe/internal/report"
	"firestige.xyz/latprobe/internal/source"
	"firestige.xyz/latprobe/internal/tool"
)

// CaptureResult is the outcome of one capture window.
type CaptureResult struct {
	RunID     string
	Params    capture.RunParams
	StartedAt time.Time
	Duration  time.Duration
	Store     *capture.Store
	TimedOut  bool  // Queue not drained within capture.drain_timeout
	Pending   int64  // Frames left unprocessed on timeout
	Dropped   uint64 // Frames the capturer dropped before analysis
	Source    source.Stats
}

// Capture captures one run. It returns when duration elapses, ctx is done or the source is
// exhausted; a zero duration waits for the latter two only. A drain timeout is reported in
// the result, not as an error. A source failure returns the partial result with the error.
func (r *Runner) Capture(ctx context.Context, messageSize int, duration time.Duration) (*CaptureResult, error) {
	params := r.Params(messageSize)
	src, err := r.open(r.cfg.Capture, r.Filter())
	if err != nil {
		return nil, fmt.Errorf("open %s source: %w", r.cfg.Capture.Source, err)
	}
	defer src.Close()

	c, err := capture.New(capture.Options{
		Profile:       r.profile,
		LinkType:      src.LinkType(),
		QueueCapacity: r.cfg.Capture.QueueCapacity,
		TapEnabled:    r.cfg.Tap.Enabled,
	})
	if err != nil {
		return nil, err
	}
	if err := c.Start(params); err != nil {
		return nil, err
	}

	res := &CaptureResult{RunID: NewRunID(), Params: params, StartedAt: time.Now()}
	logger := r.log.WithField("run_id", res.RunID)
	logger.Infof("capturing %s traffic on %s (source=%s, message size %d)",
		r.profile.Name, r.cfg.Capture.Interface, r.cfg.Capture.Source, messageSize)

	srcCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	handler := source.Handler(c.HandleFrame)
	if r.cfg.Capture.Source == config.SourceFile {
		// A recording is replayed faster than real time; wait for queue space instead of dropping.
		handler = func(f core.RawFrame) { _ = c.HandleFrameWait(srcCtx, f) }
	}
	srcDone := make(chan error, 1)
	go func() {
		srcDone <- src.Capture(srcCtx, handler)
	}()

	var window <-chan time.Time
	if duration > 0 {
		t := time.NewTimer(duration)
		defer t.Stop()
		window = t.C
	}

	var srcErr error
	exhausted := false
	select {
	case <-ctx.Done():
	case <-window:
	case srcErr = <-srcDone:
		exhausted = true
	}

	// Late frames of a live capture still need to reach the queue.
	if !exhausted && r.cfg.Capture.SettleTime > 0 && ctx.Err() == nil {
		time.Sleep(r.cfg.Capture.SettleTime)
	}
	cancel()
	if !exhausted {
		srcErr = <-srcDone
	}

	stop, err := c.Stop(r.cfg.Capture.DrainTimeout)
	if err != nil {
		return nil, err
	}
	res.Duration = time.Since(res.StartedAt)
	res.Store = stop.Store
	res.TimedOut = stop.TimedOut
	res.Pending = stop.Pending
	res.Source = src.Stats()
	res.Dropped = c.Stats().Dropped

	counters := res.Store.Counters()
	logger.WithFields(map[string]interface{}{
		"frames":         res.Source.Packets,
		"kernel_drops":   res.Source.Drops,
		"ping":           counters.Ping,
		"pong":           counters.Pong,
		"full_ping_pong": counters.FullPingPong,
		"dropped":        res.Dropped,
	}).Info("capture finished")
	if res.Dropped > 0 {
		logger.Warnf("capture dropped %d frames before analysis, correlation may miss matches", res.Dropped)
	}

	if srcErr != nil {
		return res, fmt.Errorf("capture source: %w", srcErr)
	}
	return res, nil
}

// Correlate joins the tool measurements with store and updates the run metrics. An
// *correlate.AggregateError is returned together with the usable result.
func (r *Runner) Correlate(runID string, messageSize int, store *capture.Store, ms []tool.Measurement, rep tool.Report) (*correlate.Result, error) {
	res, err := r.engine.Correlate(ms, store, rep)
	if err != nil && !correlate.IsAggregateError(err) {
		return nil, err
	}
	logger := r.log.WithField("run_id", runID)

	logger.Infof("captured ping packets: %d", res.Capture.Ping)
	logger.Infof("captured pong packets: %d", res.Capture.Pong)
	logger.Infof("captured full ping pongs: %d", res.Capture.FullPingPong)
	if res.TapEnabled {
		for _, p := range []string{"A", "B", "C", "D"} {
			logger.Infof("captured packets on tap port %s: %d", p, res.Capture.Ports[p])
		}
	}
	o := res.Outliers
	logger.Infof("outliers: %d (uncategorized %d, ping %d, pong %d, processing client %d, processing server %d)",
		o.Total, o.Uncategorized, o.Ping, o.Pong, o.ClientProcessing, o.ServerProcessing)
	if err != nil {
		logger.WithError(err).Warn("run aggregates incomplete")
	}

	r.observe(messageSize, res)
	return res, err
}

func (r *Runner) observe(messageSize int, res *correlate.Result) {
	run := r.cfg.Label + "/" + strconv.Itoa(messageSize)
	if res.Latency.Valid {
		metrics.RunLatencyMs.WithLabelValues(run, "min").Set(res.Latency.Min)
		metrics.RunLatencyMs.WithLabelValues(run, "avg").Set(res.Latency.Mean)
		metrics.RunLatencyMs.WithLabelValues(run, "max").Set(res.Latency.Max)
		metrics.RunLatencyMs.WithLabelValues(run, "stddev").Set(res.Latency.StdDev)
	}
	if res.Jitter.Valid {
		metrics.RunLatencyMs.WithLabelValues(run, "jitter_avg").Set(res.Jitter.Mean)
	}
	o := res.Outliers
	metrics.OutliersTotal.WithLabelValues("uncategorized").Add(float64(o.Uncategorized))
	metrics.OutliersTotal.WithLabelValues("ping").Add(float64(o.Ping))
	metrics.OutliersTotal.WithLabelValues("pong").Add(float64(o.Pong))
	metrics.OutliersTotal.WithLabelValues("processing_client").Add(float64(o.ClientProcessing))
	metrics.OutliersTotal.WithLabelValues("processing_server").Add(float64(o.ServerProcessing))
}

// StartReporters starts every reporter. On failure the ones already started are stopped.
func (r *Runner) StartReporters(ctx context.Context) error {
	for i, rep := range r.reporters {
		if err := rep.Start(ctx); err != nil {
			err = fmt.Errorf("start reporter %s: %w", rep.Name(), err)
			for _, started := range r.reporters[:i] {
				err = multierr.Append(err, started.Stop(ctx))
			}
			return err
		}
	}
	return nil
}

// StopReporters stops every reporter and returns the combined errors.
func (r *Runner) StopReporters(ctx context.Context) error {
	var err error
	for _, rep := range r.reporters {
		if stopErr := rep.Stop(ctx); stopErr != nil {
			err = multierr.Append(err, fmt.Errorf("stop reporter %s: %w", rep.Name(), stopErr))
		}
	}
	return err
}

// Publish hands the run to every reporter concurrently. Every reporter is tried; the
// failures are combined.
func (r *Runner) Publish(ctx context.Context, info report.RunInfo, res *correlate.Result) error {
	if len(r.reporters) == 0 {
		return nil
	}
	run := report.NewRun(info, res)

	p := pool.New().WithErrors().WithContext(ctx)
	for _, rep := range r.reporters {
		p.Go(func(ctx context.Context) error {
			err := rep.Report(ctx, run)
			if err == nil {
				err = rep.Flush(ctx)
			}
			if err != nil {
				metrics.ReporterErrorsTotal.WithLabelValues(rep.Name()).Inc()
				return fmt.Errorf("reporter %s: %w", rep.Name(), err)
			}
			return nil
		})
	}
	return p.Wait()
}
