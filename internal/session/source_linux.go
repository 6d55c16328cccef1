//go:build linux

package session

import (
	"firestige.xyz/latprobe/internal/config"
	"firestige.xyz/latprobe/internal/source"
	"firestige.xyz/latprobe/internal/source/afpacket"
)

func openAFPacket(cfg config.CaptureConfig, filter string) (source.Source, error) {
	return afpacket.New(afpacket.Config{
		Interface:    cfg.Interface,
		SnapLen:      cfg.SnapLen,
		BufferSizeMB: cfg.BlockSizeMB * cfg.NumBlocks,
		BPFFilter:    filter,
		Promiscuous:  cfg.Promiscuous,
	})
}
