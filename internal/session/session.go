// Package session runs the capture, correlation and publication steps of a benchmark run.
package session

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	uuid "github.com/satori/go.uuid"

	"firestige.xyz/latprobe/internal/capture"
	"firestige.xyz/latprobe/internal/config"
	"firestige.xyz/latprobe/internal/correlate"
	"firestige.xyz/latprobe/internal/log"
	"firestige.xyz/latprobe/internal/netutil"
	"firestige.xyz/latprobe/internal/report"
	"firestige.xyz/latprobe/internal/source"
	"firestige.xyz/latprobe/internal/tool"
)

// SourceOpener opens the frame source of a run with the given BPF filter.
type SourceOpener func(cfg config.CaptureConfig, filter string) (source.Source, error)

type Option func(*Runner)

// WithSourceOpener replaces the source selection by capture.source.
func WithSourceOpener(open SourceOpener) Option {
	return func(r *Runner) { r.open = open }
}

// WithResolver sets the resolver used for the client address.
func WithResolver(res *netutil.Resolver) Option {
	return func(r *Runner) { r.resolver = res }
}

// Runner executes runs for one configuration. Runs are sequential.
type Runner struct {
	cfg       *config.GlobalConfig
	profile   tool.Profile
	server    netip.Addr
	client    netip.Addr
	engine    *correlate.Engine
	reporters []report.Reporter
	open      SourceOpener
	resolver  *netutil.Resolver
	log       log.Logger
}

// New validates the test settings and resolves the run addresses. Configuration errors are
// returned before anything is opened.
func New(cfg *config.GlobalConfig, reporters []report.Reporter, opts ...Option) (*Runner, error) {
	r := &Runner{
		cfg:       cfg,
		engine:    correlate.NewEngine(correlate.Options{TapEnabled: cfg.Tap.Enabled}),
		reporters: reporters,
		open:      OpenSource,
		log:       log.Named("session"),
	}
	for _, o := range opts {
		o(r)
	}

	var err error
	if r.profile, err = tool.Lookup(cfg.Test.Tool); err != nil {
		return nil, err
	}
	if r.server, err = cfg.Test.Server(); err != nil {
		return nil, err
	}
	if r.client, err = cfg.Test.Client(); err != nil {
		return nil, err
	}
	if !r.client.IsValid() && cfg.Capture.Source != config.SourceFile && cfg.Capture.Interface != "" {
		if r.resolver == nil {
			r.resolver = netutil.NewResolver()
		}
		if r.client, err = r.resolver.IPv4(cfg.Capture.Interface); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Profile returns the tool profile of the runs.
func (r *Runner) Profile() tool.Profile {
	return r.profile
}

// Params returns the capture parameters of a run with the given message size.
func (r *Runner) Params(messageSize int) capture.RunParams {
	return capture.RunParams{
		ClientIP:    r.client,
		ServerIP:    r.server,
		Port:        uint16(r.cfg.Test.Port),
		MessageSize: messageSize,
	}
}

// Filter returns the configured BPF filter or one matching the test traffic.
func (r *Runner) Filter() string {
	if r.cfg.Capture.BPFFilter != "" {
		return r.cfg.Capture.BPFFilter
	}
	return BuildFilter(r.cfg.Test.Protocol, r.server, uint16(r.cfg.Test.Port))
}

// BuildFilter returns a BPF expression selecting the test traffic to and from server:port.
// IP fragments are kept since only the first carries the port.
func BuildFilter(protocol string, server netip.Addr, port uint16) string {
	parts := make([]string, 0, 3)
	if protocol != "" {
		parts = append(parts, fmt.Sprintf("(%s port %d or (ip[6:2] & 0x1fff != 0))", strings.ToLower(protocol), port))
	}
	if server.IsValid() {
		parts = append(parts, "host "+server.String())
	}
	if len(parts) == 0 {
		return fmt.Sprintf("port %d", port)
	}
	return strings.Join(parts, " and ")
}

// NewRunID returns a unique run identifier.
func NewRunID() string {
	return uuid.Must(uuid.NewV4()).String()
}

// Info describes a run for the reporters.
func (r *Runner) Info(runID string, messageSize int, startedAt time.Time, duration time.Duration) report.RunInfo {
	info := report.RunInfo{
		RunID:       runID,
		Label:       r.cfg.Label,
		Tool:        r.profile.Name,
		Protocol:    r.cfg.Test.Protocol,
		Server:      netip.AddrPortFrom(r.server, uint16(r.cfg.Test.Port)).String(),
		MessageSize: messageSize,
		StartedAt:   startedAt,
		Duration:    duration,
		TapEnabled:  r.cfg.Tap.Enabled,
	}
	if r.client.IsValid() {
		info.Client = r.client.String()
	}
	return info
}
