package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/latprobe/internal/capture"
	"firestige.xyz/latprobe/internal/config"
)

// runMeta identifies the run being analysed.
type runMeta struct {
	runID       string
	messageSize int
	store       *capture.Store
	startedAt   time.Time
	duration    time.Duration
}

type captureOptions struct {
	duration     time.Duration
	measurements []string
	save         string
	tool         toolFlags
}

var captureOpts captureOptions

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture the test traffic of every configured message size",
	Long: `Capture the ping-pong traffic of the configured benchmark on the capture interface.

One run is captured per entry of test.message_sizes, each for --duration (default
test.duration) or until interrupted. Start the benchmark tool once the capture is running.

With --measurements every run is correlated with the tool output right away (one CSV
file per message size, in order). With --save the captured frames are written to a
snapshot for a later 'latprobe analyze --store'.

Examples:
  latprobe capture -c latprobe.yml --duration 60s --save run.yaml
  latprobe capture -c latprobe.yml --measurements sockperf-64.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configFile, logLevel)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runCapture(ctx, cfg, captureOpts)
	},
}

func init() {
	captureCmd.Flags().DurationVarP(&captureOpts.duration, "duration", "d", 0,
		"capture window per run (default test.duration)")
	captureCmd.Flags().StringSliceVarP(&captureOpts.measurements, "measurements", "m", nil,
		"tool measurement CSV per message size")
	captureCmd.Flags().StringVar(&captureOpts.save, "save", "",
		"write the captured frames to this snapshot file")
	captureOpts.tool.register(captureCmd)
}

func runCapture(ctx context.Context, cfg *config.GlobalConfig, opts captureOptions) error {
	if len(opts.measurements) > len(cfg.Test.MessageSizes) {
		return fmt.Errorf("%d measurement files for %d message sizes", len(opts.measurements), len(cfg.Test.MessageSizes))
	}
	if cfg.Capture.Source == config.SourceFile {
		return fmt.Errorf("capture.source=file replays a recording, use 'latprobe analyze --pcap'")
	}
	duration := opts.duration
	if duration == 0 {
		duration = cfg.Test.Duration
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	sizes := cfg.Test.MessageSizes
	for i, size := range sizes {
		if ctx.Err() != nil {
			a.log.Warnf("interrupted, skipping %d remaining runs", len(sizes)-i)
			break
		}
		res, err := a.runner.Capture(ctx, size, duration)
		if err != nil {
			return err
		}
		if opts.save != "" {
			path := snapshotPath(opts.save, size, len(sizes) > 1)
			if err := capture.SaveSnapshot(path, res.Store, cfg.Label); err != nil {
				return err
			}
			a.log.Infof("snapshot written to %s", path)
		}
		if i >= len(opts.measurements) {
			continue
		}
		meta := runMeta{runID: res.RunID, messageSize: size, store: res.Store, startedAt: res.StartedAt, duration: res.Duration}
		if err := a.analyse(ctx, meta, opts.tool.input(opts.measurements[i])); err != nil {
			return err
		}
	}
	return nil
}

// snapshotPath appends the message size to path when several runs are saved.
func snapshotPath(path string, size int, multiple bool) string {
	if !multiple {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + strconv.Itoa(size) + ext
}
