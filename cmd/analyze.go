package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/latprobe/internal/capture"
	"firestige.xyz/latprobe/internal/config"
	"firestige.xyz/latprobe/internal/session"
)

type analyzeOptions struct {
	pcap         string
	store        string
	measurements string
	messageSize  int
	tool         toolFlags
}

var analyzeOpts analyzeOptions

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Correlate recorded traffic with tool measurements",
	Long: `Correlate a recording with the measurements of the benchmark tool.

The recording is either a pcap/pcapng file (--pcap), replayed through the same
classification as a live capture, or a snapshot written by 'latprobe capture --save'
(--store).

Examples:
  latprobe analyze -c latprobe.yml --pcap run.pcap --measurements sockperf.csv
  latprobe analyze -c latprobe.yml --store run.yaml --measurements sockperf.csv --sent 10000 --lost 3
  latprobe analyze -c latprobe.yml --store run.yaml -m sockperf.csv --sent-total 10010 --received-valid 10000 \
    --reported-avg 12.4 --reported-stddev 0.8`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configFile, logLevel)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runAnalyze(ctx, cfg, analyzeOpts)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeOpts.pcap, "pcap", "", "pcap or pcapng file to replay")
	analyzeCmd.Flags().StringVar(&analyzeOpts.store, "store", "", "snapshot file written by capture --save")
	analyzeCmd.Flags().StringVarP(&analyzeOpts.measurements, "measurements", "m", "", "tool measurement CSV (required)")
	analyzeCmd.Flags().IntVar(&analyzeOpts.messageSize, "message-size", 0,
		"message size of the run (default: first of test.message_sizes)")
	analyzeOpts.tool.register(analyzeCmd)
	analyzeCmd.MarkFlagRequired("measurements")
	analyzeCmd.MarkFlagsMutuallyExclusive("pcap", "store")
	analyzeCmd.MarkFlagsOneRequired("pcap", "store")
}

func runAnalyze(ctx context.Context, cfg *config.GlobalConfig, opts analyzeOptions) error {
	if opts.pcap == "" && opts.store == "" {
		return fmt.Errorf("one of --pcap or --store is required")
	}
	size := opts.messageSize
	if size == 0 {
		size = cfg.Test.MessageSizes[0]
	}
	if opts.pcap != "" {
		cfg.Capture.Source = config.SourceFile
		cfg.Capture.File = opts.pcap
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	meta := runMeta{messageSize: size}
	if opts.pcap != "" {
		res, err := a.runner.Capture(ctx, size, 0)
		if err != nil {
			return err
		}
		meta.runID, meta.store, meta.startedAt, meta.duration = res.RunID, res.Store, res.StartedAt, res.Duration
	} else {
		store, err := capture.LoadSnapshot(opts.store)
		if err != nil {
			return err
		}
		meta.runID, meta.store, meta.startedAt = session.NewRunID(), store, time.Now()
	}

	return a.analyse(ctx, meta, opts.tool.input(opts.measurements))
}
