// Package capture runs the capture pipeline: frames handed over by a frame source are queued
// (without blocking for live sources) and classified on a dedicated analysis goroutine into a per-run Store.
package capture

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/tevino/abool"
	"go.uber.org/atomic"

	"firestige.xyz/latprobe/internal/core"
	"firestige.xyz/latprobe/internal/core/decoder"
	"firestige.xyz/latprobe/internal/core/tap"
	"firestige.xyz/latprobe/internal/log"
	"firestige.xyz/latprobe/internal/metrics"
	"firestige.xyz/latprobe/internal/tool"
)

const (
	defaultQueueCapacity = 65536
	defaultPollInterval  = 100 * time.Millisecond
	maxBatch             = 4096
)

// Options configures a Capturer.
type Options struct {
	Profile       tool.Profile
	LinkType      layers.LinkType
	QueueCapacity int
	TapEnabled    bool
	PollInterval  time.Duration // Drain check interval during Stop
}

// RunParams identifies the test traffic of one run.
type RunParams struct {
	ClientIP    netip.Addr
	ServerIP    netip.Addr
	Port        uint16
	MessageSize int
}

// StopResult is returned by Stop. A drain timeout is not an error: the partial Store is
// returned with TimedOut set and Pending holding the frames left unprocessed.
type StopResult struct {
	Store    *Store
	TimedOut bool
	Pending  int64
}

// Stats are lifetime counters of a Capturer.
type Stats struct {
	Received   uint64
	Dropped    uint64
	Classified uint64
	Errors     uint64
}

type run struct {
	params     RunParams
	classifier *decoder.Classifier
	store      *Store
	cancel     context.CancelFunc
	done       chan struct{}
}

// Capturer owns the frame queue and the analysis goroutine. One run is active at a time.
type Capturer struct {
	opts   Options
	logger log.Logger

	queue   chan core.RawFrame
	running *abool.AtomicBool
	pending *atomic.Int64 // Queued but not yet analysed

	mu  sync.Mutex // Guards run lifecycle
	run *run

	subMu       sync.Mutex
	subscribers []chan core.CapturedFrame

	errLog *logLimiter

	received   *atomic.Uint64
	dropped    *atomic.Uint64
	classified *atomic.Uint64
	errors     *atomic.Uint64
}

// New creates a Capturer.
func New(opts Options) (*Capturer, error) {
	if opts.Profile.Name == "" {
		return nil, fmt.Errorf("%w: capture requires a tool profile", core.ErrConfigInvalid)
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = defaultQueueCapacity
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.LinkType == 0 {
		opts.LinkType = layers.LinkTypeEthernet
	}

	return &Capturer{
		opts:       opts,
		logger:     log.Named("capture"),
		queue:      make(chan core.RawFrame, opts.QueueCapacity),
		running:    abool.New(),
		pending:    atomic.NewInt64(0),
		errLog:     newLogLimiter(20, 10*time.Second),
		received:   atomic.NewUint64(0),
		dropped:    atomic.NewUint64(0),
		classified: atomic.NewUint64(0),
		errors:     atomic.NewUint64(0),
	}, nil
}

// Running reports whether a run is accepting frames.
func (c *Capturer) Running() bool {
	return c.running.IsSet()
}

// Start resets the store and begins accepting frames for params.
func (c *Capturer) Start(params RunParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != nil {
		return core.ErrRunActive
	}

	classifier, err := decoder.NewClassifier(c.opts.Profile.Rule(params.ClientIP, params.ServerIP, params.Port, params.MessageSize))
	if err != nil {
		return err
	}

	// Frames that slipped in after the previous Stop belong to no run.
	if stale := c.discardQueued(); stale > 0 {
		metrics.FramesDroppedTotal.WithLabelValues(metrics.DropStale).Add(float64(stale))
		c.logger.Debugf("discarded %d stale frames", stale)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		params:     params,
		classifier: classifier,
		store:      NewStore(),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	c.run = r

	go c.analyse(ctx, r)

	c.running.Set()
	metrics.CaptureRunning.Set(1)

	rule := classifier.Rule()
	c.logger.WithFields(map[string]interface{}{
		"tool":      c.opts.Profile.Name,
		"client":    params.ClientIP.String(),
		"server":    params.ServerIP.String(),
		"port":      params.Port,
		"ping_size": rule.PingSize,
		"pong_size": rule.PongSize,
		"tap":       c.opts.TapEnabled,
	}).Info("capture started")
	return nil
}

// Stop stops accepting frames, waits up to timeout for the queue to drain and returns the
// run's Store.
func (c *Capturer) Stop(timeout time.Duration) (StopResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.run
	if r == nil {
		return StopResult{}, core.ErrRunNotActive
	}

	c.running.UnSet()
	metrics.CaptureRunning.Set(0)

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.opts.PollInterval)
	for c.pending.Load() > 0 && time.Now().Before(deadline) {
		<-ticker.C
	}
	ticker.Stop()
	// Frames accepted after this point saw running unset and are not counted.
	pending := c.pending.Load()

	r.cancel()
	<-r.done
	c.run = nil

	c.closeSubscribers()

	res := StopResult{Store: r.store, Pending: pending}
	if res.Pending > 0 {
		res.TimedOut = true
		metrics.DrainTimeoutsTotal.Inc()
		c.logger.Warnf("capture queue not drained within %s: %d frames left unprocessed", timeout, res.Pending)
	}

	c.logger.WithFields(map[string]interface{}{
		"indices": r.store.Len(),
		"frames":  r.store.Frames(),
	}).Info("capture stopped")
	return res, nil
}

// HandleFrame is the frame source callback. It never blocks and never parses: the frame is
// copied into the queue, or dropped when no run is active or the queue is full.
// frame.Data only needs to stay valid for the duration of the call.
func (c *Capturer) HandleFrame(frame core.RawFrame) {
	owned, ok := c.accept(frame)
	if !ok {
		return
	}
	select {
	case c.queue <- owned:
	default:
		c.pending.Dec()
		c.drop(metrics.DropQueueFull)
	}
}

// HandleFrameWait queues frame like HandleFrame but waits for queue space instead of
// dropping. Replayed sources use it so that no recorded frame is lost. It returns
// core.ErrRunNotActive when no run is active and ctx.Err() when ctx is done first.
func (c *Capturer) HandleFrameWait(ctx context.Context, frame core.RawFrame) error {
	owned, ok := c.accept(frame)
	if !ok {
		return core.ErrRunNotActive
	}
	select {
	case c.queue <- owned:
		return nil
	case <-ctx.Done():
		c.pending.Dec()
		c.drop(metrics.DropCancelled)
		return ctx.Err()
	}
}

// accept counts frame as pending and returns an owned copy while a run is active. pending is
// raised before running is checked so that Stop waits for every accepted frame.
func (c *Capturer) accept(frame core.RawFrame) (core.RawFrame, bool) {
	c.pending.Inc()
	if !c.running.IsSet() {
		c.pending.Dec()
		c.drop(metrics.DropNotRunning)
		return core.RawFrame{}, false
	}
	c.received.Inc()
	metrics.FramesReceivedTotal.Inc()

	owned := frame
	owned.Data = append([]byte(nil), frame.Data...)
	return owned, true
}

func (c *Capturer) drop(reason string) {
	c.dropped.Inc()
	metrics.FramesDroppedTotal.WithLabelValues(reason).Inc()
}

func (c *Capturer) discardQueued() int {
	n := 0
	for {
		select {
		case <-c.queue:
			c.pending.Dec()
			n++
		default:
			return n
		}
	}
}

// analyse blocks for the first frame, then drains what else is queued and processes the batch.
func (c *Capturer) analyse(ctx context.Context, r *run) {
	defer close(r.done)

	batch := make([]core.RawFrame, 0, 64)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-c.queue:
			batch = append(batch[:0], f)
		drain:
			for len(batch) < maxBatch {
				select {
				case f := <-c.queue:
					batch = append(batch, f)
				default:
					break drain
				}
			}

			metrics.AnalysisBatchSize.Observe(float64(len(batch)))
			for i := range batch {
				c.process(r, batch[i])
				batch[i] = core.RawFrame{}
				c.pending.Dec()
			}
		}
	}
}

func (c *Capturer) process(r *run, raw core.RawFrame) {
	cl, ok, err := r.classifier.Classify(raw.Data, c.opts.LinkType)
	if err != nil {
		c.frameError(metrics.StageDecode, err)
		return
	}
	if !ok {
		return
	}

	frame := core.CapturedFrame{
		Index:     cl.Index,
		Direction: cl.Direction,
		Size:      cl.Size,
		SrcIP:     cl.SrcIP,
		SrcPort:   cl.SrcPort,
		DstIP:     cl.DstIP,
		DstPort:   cl.DstPort,
		Timestamp: raw.Timestamp.Truncate(time.Microsecond),
	}

	if c.opts.TapEnabled {
		tr, err := tap.Parse(raw.Data)
		if err != nil {
			c.frameError(metrics.StageTap, err)
			return
		}
		if !tr.Mapped() && c.logger.IsDebugEnabled() {
			c.logger.Debugf("unmapped tap port code %#02x on index %d", tr.PortCode, frame.Index)
		}
		frame.Tap = tr
	}

	r.store.Add(frame)
	c.classified.Inc()
	metrics.FramesClassifiedTotal.WithLabelValues(frame.Direction.String()).Inc()
	c.publish(frame)
}

func (c *Capturer) frameError(stage string, err error) {
	c.errors.Inc()
	metrics.FrameErrorsTotal.WithLabelValues(stage).Inc()

	allow, suppressed := c.errLog.Allow(stage, time.Now())
	for k, n := range suppressed {
		c.logger.Debugf("suppressed %d %s frame errors", n, k)
	}
	if allow {
		c.logger.WithError(err).WithField("stage", stage).Debug("frame skipped")
	}
}

// Subscribe returns a channel receiving every classified frame until the current (or next)
// run stops. A subscriber that falls behind by more than buffer frames loses notifications.
func (c *Capturer) Subscribe(buffer int) <-chan core.CapturedFrame {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan core.CapturedFrame, buffer)
	c.subMu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.subMu.Unlock()
	return ch
}

func (c *Capturer) publish(f core.CapturedFrame) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- f:
		default:
			metrics.FramesDroppedTotal.WithLabelValues(metrics.DropSubscriber).Inc()
		}
	}
}

func (c *Capturer) closeSubscribers() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subscribers {
		close(ch)
	}
	c.subscribers = nil
}

// Stats returns lifetime counters.
func (c *Capturer) Stats() Stats {
	return Stats{
		Received:   c.received.Load(),
		Dropped:    c.dropped.Load(),
		Classified: c.classified.Load(),
		Errors:     c.errors.Load(),
	}
}
