// Package report publishes correlated runs to external sinks.
package report

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/latprobe/internal/correlate"
)

// Reporter publishes correlated runs.
type Reporter interface {
	Name() string
	Init(options map[string]any) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Report(ctx context.Context, run *Run) error
	Flush(ctx context.Context) error
}

// Factory creates an uninitialized reporter.
type Factory func() Reporter

// RunInfo describes the run a result belongs to.
type RunInfo struct {
	RunID       string
	Label       string
	Tool        string
	Protocol    string
	Server      string // ip:port
	Client      string
	MessageSize int
	StartedAt   time.Time
	Duration    time.Duration
	TapEnabled  bool
}

// Run is what reporters receive: the flattened rows and the summary of one run.
type Run struct {
	Summary Summary
	Rows    []Row
}

// NewRun flattens res for publication.
func NewRun(info RunInfo, res *correlate.Result) *Run {
	return &Run{Summary: NewSummary(info, res), Rows: Rows(info.RunID, res)}
}

// Registry maps reporter type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	r.factories[name] = f
	r.mu.Unlock()
}

// New creates and initializes a reporter of type name.
func (r *Registry) New(name string, options map[string]any) (Reporter, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown reporter type %q (available: %v)", name, r.Names())
	}
	rep := f()
	if err := rep.Init(options); err != nil {
		return nil, fmt.Errorf("reporter %s: %w", name, err)
	}
	return rep, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DecodeOptions decodes a reporter options map into out. Durations may be given as strings
// and scalars are converted leniently, as YAML and env values arrive untyped.
func DecodeOptions(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(options)
}
