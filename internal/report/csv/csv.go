// Package csv writes one measurement file and one summary file per run.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"go.uber.org/atomic"

	"firestige.xyz/latprobe/internal/log"
	"firestige.xyz/latprobe/internal/report"
)

const Name = "csv"

type Config struct {
	Dir string `mapstructure:"dir"` // default "."
}

var summaryHeader = []string{
	"run_id", "label", "tool", "protocol", "server", "client", "message_size", "started_at", "duration_sec",
	"tap_enabled", "sent", "received", "lost",
	"latency_min_ms", "latency_avg_ms", "latency_max_ms", "latency_stddev_ms",
	"jitter_min_ms", "jitter_avg_ms", "jitter_max_ms", "jitter_stddev_ms",
	"captured_latency_avg_ms", "captured_ping", "captured_pong", "captured_full_ping_pong",
	"tap_port_a", "tap_port_b", "tap_port_c", "tap_port_d",
	"outliers", "uncategorized_outliers", "ping_outliers", "pong_outliers",
	"server_processing_outliers", "client_processing_outliers",
	"reported_min_ms", "reported_avg_ms", "reported_max_ms", "reported_stddev_ms",
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

type Reporter struct {
	cfg Config
	log log.Logger

	files *atomic.Uint64
}

func New() report.Reporter {
	return &Reporter{cfg: Config{Dir: "."}, log: log.Named("report.csv"), files: atomic.NewUint64(0)}
}

func (r *Reporter) Name() string {
	return Name
}

func (r *Reporter) Init(options map[string]any) error {
	if options != nil {
		if err := report.DecodeOptions(options, &r.cfg); err != nil {
			return err
		}
	}
	if r.cfg.Dir == "" {
		r.cfg.Dir = "."
	}
	return nil
}

func (r *Reporter) Start(ctx context.Context) error {
	return os.MkdirAll(r.cfg.Dir, 0o755)
}

func (r *Reporter) Stop(ctx context.Context) error {
	r.log.Debugf("csv reporter stopped, files_written=%d", r.files.Load())
	return nil
}

// Paths returns the measurement and summary file paths of a run.
func (r *Reporter) Paths(s report.Summary) (measurements, summary string) {
	base := unsafeName.ReplaceAllString(s.Label, "_")
	if base != "" {
		base += "_"
	}
	base += s.RunID
	return filepath.Join(r.cfg.Dir, base+"_measurements.csv"), filepath.Join(r.cfg.Dir, base+"_summary.csv")
}

func (r *Reporter) Report(ctx context.Context, run *report.Run) error {
	if run == nil {
		return fmt.Errorf("nil run")
	}
	mPath, sPath := r.Paths(run.Summary)

	records := make([][]string, 0, len(run.Rows)+1)
	records = append(records, report.Header)
	for _, row := range run.Rows {
		records = append(records, row.Record())
	}
	if err := writeFile(mPath, records); err != nil {
		return err
	}
	if err := writeFile(sPath, [][]string{summaryHeader, summaryRecord(run.Summary)}); err != nil {
		return err
	}
	r.files.Add(2)
	r.log.Infof("wrote %d measurements to %s", len(run.Rows), mPath)
	return nil
}

func writeFile(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func summaryRecord(s report.Summary) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	i := strconv.Itoa
	return []string{
		s.RunID, s.Label, s.Tool, s.Protocol, s.Server, s.Client, i(s.MessageSize),
		s.StartedAt.Format("2006-01-02T15:04:05.000Z07:00"), f(s.DurationSec),
		strconv.FormatBool(s.TapEnabled), i(s.Sent), i(s.Received), i(s.Lost),
		f(s.LatencyMin), f(s.LatencyAvg), f(s.LatencyMax), f(s.LatencyStdDev),
		f(s.JitterMin), f(s.JitterAvg), f(s.JitterMax), f(s.JitterStdDev),
		f(s.CaptureLatencyAvg), i(s.CapturedPing), i(s.CapturedPong), i(s.CapturedFullPingPong),
		i(s.TapPorts["A"]), i(s.TapPorts["B"]), i(s.TapPorts["C"]), i(s.TapPorts["D"]),
		i(s.Outliers), i(s.UncategorizedOutliers), i(s.PingOutliers), i(s.PongOutliers),
		i(s.ServerProcessingOutliers), i(s.ClientProcessingOutliers),
		f(s.ReportedMin), f(s.ReportedAvg), f(s.ReportedMax), f(s.ReportedStdDev),
	}
}

// Flush is a no-op, files are closed after every run.
func (r *Reporter) Flush(ctx context.Context) error {
	return nil
}
