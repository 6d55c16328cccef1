package session

import (
	"fmt"

	"firestige.xyz/latprobe/internal/config"
	"firestige.xyz/latprobe/internal/source"
	"firestige.xyz/latprobe/internal/source/file"
	"firestige.xyz/latprobe/internal/source/pcap"
)

// OpenSource opens the source selected by cfg.Source. The file source ignores filter.
func OpenSource(cfg config.CaptureConfig, filter string) (source.Source, error) {
	switch cfg.Source {
	case config.SourceFile:
		return file.Open(cfg.File)
	case config.SourcePcap:
		return pcap.New(pcap.Config{
			Interface:    cfg.Interface,
			SnapLen:      cfg.SnapLen,
			BufferSizeMB: cfg.BlockSizeMB * cfg.NumBlocks,
			BPFFilter:    filter,
			Promiscuous:  cfg.Promiscuous,
		})
	case config.SourceAFPacket:
		return openAFPacket(cfg, filter)
	default:
		return nil, fmt.Errorf("unsupported capture source %q", cfg.Source)
	}
}
