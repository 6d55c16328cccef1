// Package kafka publishes correlated runs to a Kafka topic.
// Every row becomes one JSON message keyed by the run label, followed by the summary.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"
	"go.uber.org/atomic"

	"firestige.xyz/latprobe/internal/log"
	"firestige.xyz/latprobe/internal/report"
)

const Name = "kafka"

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

// Message kinds, sent in the "kind" header.
const (
	KindRow     = "row"
	KindSummary = "summary"
)

// Config represents Kafka reporter configuration.
type Config struct {
	Brokers      []string      `mapstructure:"brokers"`       // required
	Topic        string        `mapstructure:"topic"`         // required
	BatchSize    int           `mapstructure:"batch_size"`    // optional, default 100
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // optional, default 100ms
	Compression  string        `mapstructure:"compression"`   // optional: none|gzip|snappy|lz4, default snappy
	MaxAttempts  int           `mapstructure:"max_attempts"`  // optional, default 3
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Reporter struct {
	config Config
	writer messageWriter
	log    log.Logger

	reportedCount *atomic.Uint64
	errorCount    *atomic.Uint64
}

func New() report.Reporter {
	return &Reporter{
		log:           log.Named("report.kafka"),
		reportedCount: atomic.NewUint64(0),
		errorCount:    atomic.NewUint64(0),
	}
}

func (r *Reporter) Name() string {
	return Name
}

// Init validates the configuration and creates the writer. No connection is made until the
// first write.
func (r *Reporter) Init(options map[string]any) error {
	if options == nil {
		return fmt.Errorf("kafka reporter requires configuration")
	}
	cfg := Config{
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Compression:  defaultCompression,
		MaxAttempts:  defaultMaxAttempts,
	}
	if err := report.DecodeOptions(options, &cfg); err != nil {
		return err
	}
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return err
	}
	r.config = cfg

	r.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Compression:  codec,
	}
	return nil
}

func compressionCodec(name string) (compress.Compression, error) {
	switch name {
	case "none", "":
		return compress.None, nil
	case "gzip":
		return compress.Gzip, nil
	case "snappy":
		return compress.Snappy, nil
	case "lz4":
		return compress.Lz4, nil
	default:
		return compress.None, fmt.Errorf("invalid compression type: %s", name)
	}
}

func (r *Reporter) Start(ctx context.Context) error {
	r.log.WithFields(map[string]interface{}{
		"brokers":     r.config.Brokers,
		"topic":       r.config.Topic,
		"compression": r.config.Compression,
	}).Info("kafka reporter started")
	return nil
}

func (r *Reporter) Stop(ctx context.Context) error {
	if r.writer != nil {
		if err := r.writer.Close(); err != nil {
			r.log.WithError(err).Error("error closing kafka writer")
			return err
		}
	}
	r.log.Infof("kafka reporter stopped, total_reported=%d total_errors=%d", r.reportedCount.Load(), r.errorCount.Load())
	return nil
}

// Report writes the rows and the summary of run in one batch.
func (r *Reporter) Report(ctx context.Context, run *report.Run) error {
	if run == nil {
		return fmt.Errorf("nil run")
	}
	msgs, err := r.messages(run)
	if err != nil {
		r.errorCount.Inc()
		return err
	}
	if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
		r.errorCount.Inc()
		return fmt.Errorf("kafka write failed: %w", err)
	}
	r.reportedCount.Add(uint64(len(msgs)))
	return nil
}

func (r *Reporter) messages(run *report.Run) ([]kafka.Message, error) {
	key := []byte(run.Summary.Label)
	if len(key) == 0 {
		key = []byte(run.Summary.RunID)
	}
	ts := run.Summary.StartedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	msgs := make([]kafka.Message, 0, len(run.Rows)+1)
	for i := range run.Rows {
		value, err := json.Marshal(&run.Rows[i])
		if err != nil {
			return nil, fmt.Errorf("serialize row failed: %w", err)
		}
		msgs = append(msgs, message(key, value, KindRow, run.Summary.RunID, ts))
	}
	value, err := json.Marshal(&run.Summary)
	if err != nil {
		return nil, fmt.Errorf("serialize summary failed: %w", err)
	}
	return append(msgs, message(key, value, KindSummary, run.Summary.RunID, ts)), nil
}

func message(key, value []byte, kind, runID string, ts time.Time) kafka.Message {
	return kafka.Message{
		Key:   key,
		Value: value,
		Time:  ts,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(kind)},
			{Key: "run_id", Value: []byte(runID)},
		},
	}
}

// Flush is a no-op, Report writes synchronously.
func (r *Reporter) Flush(ctx context.Context) error {
	return nil
}
