// Package console prints run summaries to stdout.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/atomic"

	"firestige.xyz/latprobe/internal/log"
	"firestige.xyz/latprobe/internal/report"
)

const Name = "console"

type Config struct {
	Format       string `mapstructure:"format"`       // text|json, default text
	Measurements bool   `mapstructure:"measurements"` // also print every row
}

type Reporter struct {
	cfg Config
	out io.Writer
	log log.Logger

	reported *atomic.Uint64
}

func New() report.Reporter {
	return &Reporter{
		cfg:      Config{Format: "text"},
		out:      os.Stdout,
		log:      log.Named("report.console"),
		reported: atomic.NewUint64(0),
	}
}

func (r *Reporter) Name() string {
	return Name
}

func (r *Reporter) Init(options map[string]any) error {
	if options == nil {
		return nil
	}
	if err := report.DecodeOptions(options, &r.cfg); err != nil {
		return err
	}
	if r.cfg.Format != "json" && r.cfg.Format != "text" {
		return fmt.Errorf("invalid format %q, must be json or text", r.cfg.Format)
	}
	return nil
}

func (r *Reporter) Start(ctx context.Context) error {
	r.log.Debugf("console reporter started, format=%s", r.cfg.Format)
	return nil
}

func (r *Reporter) Stop(ctx context.Context) error {
	r.log.Debugf("console reporter stopped, total_reported=%d", r.reported.Load())
	return nil
}

func (r *Reporter) Report(ctx context.Context, run *report.Run) error {
	if run == nil {
		return fmt.Errorf("nil run")
	}
	r.reported.Inc()
	if r.cfg.Format == "json" {
		return r.reportJSON(run)
	}
	return r.reportText(run)
}

func (r *Reporter) reportJSON(run *report.Run) error {
	enc := json.NewEncoder(r.out)
	if r.cfg.Measurements {
		for _, row := range run.Rows {
			if err := enc.Encode(row); err != nil {
				return fmt.Errorf("json encode failed: %w", err)
			}
		}
	}
	if err := enc.Encode(run.Summary); err != nil {
		return fmt.Errorf("json encode failed: %w", err)
	}
	return nil
}

func (r *Reporter) reportText(run *report.Run) error {
	s := run.Summary
	var b strings.Builder

	if r.cfg.Measurements {
		b.WriteString(strings.Join(report.Header, "\t"))
		b.WriteByte('\n')
		for _, row := range run.Rows {
			b.WriteString(strings.Join(row.Record(), "\t"))
			b.WriteByte('\n')
		}
	}

	fmt.Fprintf(&b, "run %s [%s] %s %s -> %s, %d bytes\n", s.RunID, s.Label, s.Tool, s.Protocol, s.Server, s.MessageSize)
	fmt.Fprintf(&b, "  sent=%d received=%d lost=%d\n", s.Sent, s.Received, s.Lost)
	fmt.Fprintf(&b, "  latency ms: min=%s avg=%s max=%s stddev=%s\n",
		num(s.LatencyMin), num(s.LatencyAvg), num(s.LatencyMax), num(s.LatencyStdDev))
	if max(s.ReportedMin, s.ReportedAvg, s.ReportedMax, s.ReportedStdDev) >= 0 {
		fmt.Fprintf(&b, "  tool ms:    min=%s avg=%s max=%s stddev=%s\n",
			num(s.ReportedMin), num(s.ReportedAvg), num(s.ReportedMax), num(s.ReportedStdDev))
	}
	fmt.Fprintf(&b, "  jitter ms:  min=%s avg=%s max=%s stddev=%s\n",
		num(s.JitterMin), num(s.JitterAvg), num(s.JitterMax), num(s.JitterStdDev))
	fmt.Fprintf(&b, "  captured: ping=%d pong=%d full=%d avg_latency=%s\n",
		s.CapturedPing, s.CapturedPong, s.CapturedFullPingPong, num(s.CaptureLatencyAvg))
	if s.TapEnabled {
		fmt.Fprintf(&b, "  tap ports: A=%d B=%d C=%d D=%d\n",
			s.TapPorts["A"], s.TapPorts["B"], s.TapPorts["C"], s.TapPorts["D"])
	}
	fmt.Fprintf(&b, "  outliers=%d uncategorized=%d ping=%d pong=%d processing_client=%d processing_server=%d\n",
		s.Outliers, s.UncategorizedOutliers, s.PingOutliers, s.PongOutliers,
		s.ClientProcessingOutliers, s.ServerProcessingOutliers)

	_, err := io.WriteString(r.out, b.String())
	return err
}

func num(v float64) string {
	if v < 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", v)
}

// Flush is a no-op, stdout is unbuffered.
func (r *Reporter) Flush(ctx context.Context) error {
	return nil
}
