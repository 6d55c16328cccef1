//go:build !linux

package session

import (
	"fmt"

	"firestige.xyz/latprobe/internal/config"
	"firestige.xyz/latprobe/internal/source"
)

func openAFPacket(cfg config.CaptureConfig, filter string) (source.Source, error) {
	return nil, fmt.Errorf("afpacket source is only available on linux, use capture.source=pcap")
}
