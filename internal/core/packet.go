// Package core defines the frame and measurement types shared by the capture and
// correlation stages.
package core

import (
	"net/netip"
	"time"

	"firestige.xyz/latprobe/internal/core/tap"
)

// RawFrame is one link-layer frame handed over by a frame source.
type RawFrame struct {
	Data       []byte    // Frame bytes; sources may reuse the buffer after the callback returns
	Timestamp  time.Time // Capture timestamp as reported by the source
	CaptureLen uint32    // Actual captured length
	OrigLen    uint32    // Original frame length on the wire
}

// CapturedFrame is one classified test packet.
//
// Index is the sequence number decoded from the payload, not the capture order. It is only
// meaningful within one run. Several frames share an index: the ping and pong side and, behind
// a tap, up to four port observations of the same packet.
type CapturedFrame struct {
	Index     int64
	Direction Direction
	Size      int // Transport payload length
	SrcIP     netip.Addr
	SrcPort   uint16
	DstIP     netip.Addr
	DstPort   uint16
	Timestamp time.Time    // Microsecond resolution
	Tap       *tap.Trailer // nil unless tap correlation is enabled
}

// TapPort returns the tap port name of the frame or "" when the frame carries no mapped
// trailer.
func (f *CapturedFrame) TapPort() string {
	if f.Tap == nil {
		return ""
	}
	return f.Tap.Port
}

// ClientSide reports whether the frame was observed on a client-side tap port (A or B).
func (f *CapturedFrame) ClientSide() bool {
	p := f.TapPort()
	return p == tap.PortA || p == tap.PortB
}

// ServerSide reports whether the frame was observed on a server-side tap port (C or D).
func (f *CapturedFrame) ServerSide() bool {
	p := f.TapPort()
	return p == tap.PortC || p == tap.PortD
}
