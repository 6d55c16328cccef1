// Package pcap reads frames through libpcap. It is the portable alternative to afpacket.
package pcap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"go.uber.org/atomic"

	"firestige.xyz/latprobe/internal/source"
)

const Name = "pcap"

type Config struct {
	Interface    string
	SnapLen      int
	BufferSizeMB int
	Timeout      time.Duration
	BPFFilter    string
	Promiscuous  bool
}

type Source struct {
	handle  *pcap.Handle
	packets *atomic.Uint64
}

func New(cfg Config) (*Source, error) {
	if cfg.Interface == "" {
		return nil, fmt.Errorf("pcap: interface is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 100 * time.Millisecond
	}

	inactive, err := pcap.NewInactiveHandle(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("pcap: %s: %w", cfg.Interface, err)
	}
	defer inactive.CleanUp()

	if cfg.SnapLen > 0 {
		if err := inactive.SetSnapLen(cfg.SnapLen); err != nil {
			return nil, fmt.Errorf("pcap: snap_len: %w", err)
		}
	}
	if err := inactive.SetPromisc(cfg.Promiscuous); err != nil {
		return nil, fmt.Errorf("pcap: promiscuous: %w", err)
	}
	if err := inactive.SetTimeout(cfg.Timeout); err != nil {
		return nil, fmt.Errorf("pcap: timeout: %w", err)
	}
	if cfg.BufferSizeMB > 0 {
		if err := inactive.SetBufferSize(cfg.BufferSizeMB << 20); err != nil {
			return nil, fmt.Errorf("pcap: buffer size: %w", err)
		}
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("pcap: activate %s: %w", cfg.Interface, err)
	}
	if cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("pcap: filter %q: %w", cfg.BPFFilter, err)
		}
	}
	return &Source{handle: handle, packets: atomic.NewUint64(0)}, nil
}

func (s *Source) Capture(ctx context.Context, handler source.Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		data, ci, err := s.handle.ZeroCopyReadPacketData()
		switch {
		case err == nil:
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		case errors.Is(err, io.EOF):
			return nil
		default:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pcap: read: %w", err)
		}
		s.packets.Inc()
		handler(source.Frame(data, ci))
	}
}

func (s *Source) LinkType() layers.LinkType {
	return s.handle.LinkType()
}

func (s *Source) Stats() source.Stats {
	st := source.Stats{Packets: s.packets.Load()}
	if ps, err := s.handle.Stats(); err == nil {
		st.Drops = uint64(ps.PacketsDropped + ps.PacketsIfDropped)
	}
	return st
}

func (s *Source) Close() error {
	s.handle.Close()
	return nil
}
