//go:build linux

// Package afpacket reads frames from a Linux TPACKET_V3 ring.
package afpacket

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"go.uber.org/atomic"
	"golang.org/x/net/bpf"

	"firestige.xyz/latprobe/internal/log"
	"firestige.xyz/latprobe/internal/source"
)

const Name = "afpacket"

// Config configures the ring.
type Config struct {
	Interface    string
	SnapLen      int
	BufferSizeMB int
	Timeout      time.Duration // Poll timeout; bounds how quickly cancellation is observed
	BPFFilter    string
	Promiscuous  bool
}

type Source struct {
	cfg    Config
	handle *afpacket.TPacket

	packets *atomic.Uint64
}

// New opens the ring on cfg.Interface.
func New(cfg Config) (*Source, error) {
	if cfg.Interface == "" {
		return nil, fmt.Errorf("afpacket: interface is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 100 * time.Millisecond
	}

	frameSize, blockSize, numBlocks, err := ringSize(cfg.BufferSizeMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Interface),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(cfg.Timeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("afpacket: open %s: %w", cfg.Interface, err)
	}

	s := &Source{cfg: cfg, handle: tp, packets: atomic.NewUint64(0)}

	if cfg.BPFFilter != "" {
		if err := s.setFilter(frameSize); err != nil {
			tp.Close()
			return nil, err
		}
	}

	if cfg.Promiscuous {
		if err := setPromiscuous(cfg.Interface); err != nil {
			log.Named("source").WithError(err).Warnf("could not enable promiscuous mode on %s", cfg.Interface)
		}
	}
	return s, nil
}

func (s *Source) setFilter(snapLen int) error {
	pcapBPF, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, s.cfg.BPFFilter)
	if err != nil {
		return fmt.Errorf("afpacket: compile filter %q: %w", s.cfg.BPFFilter, err)
	}
	rawBPF := make([]bpf.RawInstruction, len(pcapBPF))
	for i, inst := range pcapBPF {
		rawBPF[i] = bpf.RawInstruction{
			Op: inst.Code,
			Jt: inst.Jt,
			Jf: inst.Jf,
			K:  inst.K,
		}
	}
	return s.handle.SetBPF(rawBPF)
}

func (s *Source) Capture(ctx context.Context, handler source.Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		data, ci, err := s.handle.ZeroCopyReadPacketData()
		if err != nil {
			if errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, afpacket.ErrPoll) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("afpacket: read: %w", err)
		}
		s.packets.Inc()
		handler(source.Frame(data, ci))
	}
}

func (s *Source) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

func (s *Source) Stats() source.Stats {
	st := source.Stats{Packets: s.packets.Load()}
	if _, v3, err := s.handle.SocketStats(); err == nil {
		st.Drops = uint64(v3.Drops())
	}
	return st
}

func (s *Source) Close() error {
	s.handle.Close()
	return nil
}
