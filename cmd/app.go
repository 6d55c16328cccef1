package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/latprobe/internal/config"
	"firestige.xyz/latprobe/internal/log"
	"firestige.xyz/latprobe/internal/metrics"
	"firestige.xyz/latprobe/internal/report"
	"firestige.xyz/latprobe/internal/report/console"
	"firestige.xyz/latprobe/internal/report/csv"
	"firestige.xyz/latprobe/internal/report/kafka"
	"firestige.xyz/latprobe/internal/session"
	"firestige.xyz/latprobe/internal/tool"
)

func reporterRegistry() *report.Registry {
	reg := report.NewRegistry()
	reg.Register(console.Name, console.New)
	reg.Register(csv.Name, csv.New)
	reg.Register(kafka.Name, kafka.New)
	return reg
}

// buildReporters creates the configured reporters, or a console reporter when none is set.
func buildReporters(cfgs []config.ReporterConfig) ([]report.Reporter, error) {
	if len(cfgs) == 0 {
		cfgs = []config.ReporterConfig{{Type: console.Name}}
	}
	reg := reporterRegistry()
	out := make([]report.Reporter, 0, len(cfgs))
	for _, rc := range cfgs {
		r, err := reg.New(rc.Type, rc.Options)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// app holds what the capture and analyze commands share for one invocation.
type app struct {
	cfg     *config.GlobalConfig
	runner  *session.Runner
	metrics *metrics.Server
	log     log.Logger
}

// newApp builds the runner, starts the reporters and, if enabled, the metrics server.
// Callers must call close.
func newApp(ctx context.Context, cfg *config.GlobalConfig, opts ...session.Option) (*app, error) {
	reporters, err := buildReporters(cfg.Reporters)
	if err != nil {
		return nil, err
	}
	runner, err := session.New(cfg, reporters, opts...)
	if err != nil {
		return nil, err
	}
	if err := runner.StartReporters(ctx); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, runner: runner, log: log.Named("cmd")}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := a.metrics.Start(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to start metrics server: %w", err)
		}
	}
	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.runner.StopReporters(ctx); err != nil {
		a.log.WithError(err).Warn("reporter shutdown failed")
	}
	if a.metrics != nil {
		if err := a.metrics.Stop(ctx); err != nil {
			a.log.WithError(err).Warn("metrics server shutdown failed")
		}
	}
}

// toolFlags are the flags describing the benchmark tool's output of a run.
type toolFlags struct {
	indexOffset   int64
	sentTotal     int64
	receivedValid int64
	sent          int
	lost          int
	reported      [4]float64 // min, avg, max, stddev
}

func (f *toolFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.Int64Var(&f.indexOffset, "index-offset", 0, "added to every measurement index")
	fs.Int64Var(&f.sentTotal, "sent-total", 0,
		"messages on the wire including warm-up; with --received-valid derives the index offset")
	fs.Int64Var(&f.receivedValid, "received-valid", 0, "valid messages logged by the tool")
	fs.IntVar(&f.sent, "sent", 0, "messages sent as reported by the tool (default: number of measurements + lost)")
	fs.IntVar(&f.lost, "lost", 0, "messages lost as reported by the tool")
	for i, name := range []string{"min", "avg", "max", "stddev"} {
		fs.Float64Var(&f.reported[i], "reported-"+name, -1, "tool-reported latency "+name+" in ms")
	}
	cmd.MarkFlagsRequiredTogether("sent-total", "received-valid")
	cmd.MarkFlagsMutuallyExclusive("index-offset", "sent-total")
}

// offset returns the index offset, derived from the warm-up shift when the totals are given.
func (f *toolFlags) offset() int64 {
	if f.sentTotal > 0 {
		return tool.IndexShift(f.sentTotal, f.receivedValid)
	}
	return f.indexOffset
}

// input reads the measurements of a run from the CSV file at path.
func (f *toolFlags) input(path string) measurementInput {
	return measurementInput{
		src:      &tool.CSVSource{Path: path, IndexOffset: f.offset()},
		sent:     f.sent,
		lost:     f.lost,
		reported: f.reported,
	}
}

// measurementInput selects the tool output of a run.
type measurementInput struct {
	src      tool.MeasurementSource
	sent     int
	lost     int
	reported [4]float64
}

// load reads the measurements and derives the tool report. Without --sent every
// measurement counts as sent and received.
func (in measurementInput) load(ctx context.Context) ([]tool.Measurement, tool.Report, error) {
	ms, err := in.src.Measurements(ctx)
	if err != nil {
		return nil, tool.Report{}, err
	}
	sent := in.sent
	if sent == 0 {
		sent = len(ms) + in.lost
	}
	rep, err := tool.NewReport(sent, in.lost)
	if err != nil {
		return nil, tool.Report{}, err
	}
	return ms, rep.WithLatency(in.reported[0], in.reported[1], in.reported[2], in.reported[3]), nil
}

// analyse correlates and publishes one run. Incomplete aggregates are published and then
// returned as the error.
func (a *app) analyse(ctx context.Context, info runMeta, in measurementInput) error {
	ms, rep, err := in.load(ctx)
	if err != nil {
		return fmt.Errorf("read measurements: %w", err)
	}
	res, corrErr := a.runner.Correlate(info.runID, info.messageSize, info.store, ms, rep)
	if res == nil {
		return corrErr
	}
	if err := a.runner.Publish(ctx, a.runner.Info(info.runID, info.messageSize, info.startedAt, info.duration), res); err != nil {
		return err
	}
	return corrErr
}
