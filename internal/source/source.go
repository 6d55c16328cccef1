// Package source defines the frame sources feeding the capture pipeline.
package source

import (
	"context"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/latprobe/internal/core"
)

// Handler receives every frame read by a Source. The frame data is only valid during the call.
type Handler func(frame core.RawFrame)

// Source reads link-layer frames.
type Source interface {
	// Capture reads frames and hands them to handler until ctx is done, the source is
	// exhausted or an error occurs. It returns nil on cancellation and at end of input.
	Capture(ctx context.Context, handler Handler) error
	LinkType() layers.LinkType
	Stats() Stats
	Close() error
}

// Stats are the source-level counters.
type Stats struct {
	Packets uint64 // Frames handed to the handler
	Drops   uint64 // Frames dropped by the kernel or capture library
}

// Frame converts gopacket capture metadata into a RawFrame.
func Frame(data []byte, ci gopacket.CaptureInfo) core.RawFrame {
	return core.RawFrame{
		Data:       data,
		Timestamp:  ci.Timestamp,
		CaptureLen: uint32(ci.CaptureLength),
		OrigLen:    uint32(ci.Length),
	}
}
