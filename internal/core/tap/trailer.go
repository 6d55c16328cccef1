// Package tap decodes the 20-byte timestamp trailer a hardware tap appends to the frames it
// forwards.
package tap

import (
	"encoding/binary"
	"errors"
)

// TrailerLen is the size of the tap trailer at the tail of a frame.
const TrailerLen = 20

// Tap port names.
const (
	PortA = "A"
	PortB = "B"
	PortC = "C"
	PortD = "D"
)

// UnmappedChannel is the channel of a trailer whose port code is not one of the four known codes.
const UnmappedChannel = -1

// ErrTrailerTooShort is returned when a frame is shorter than TrailerLen.
var ErrTrailerTooShort = errors.New("latprobe: tap trailer too short")

// Trailer field offsets inside the 20 raw bytes. The identifier overlaps the last FCS byte.
const (
	fcsOffset       = 0
	fcsLen          = 4
	identOffset     = 3
	identLen        = 6
	portOffset      = 10
	timestampOffset = 12
	timestampLen    = 8
)

type portMapping struct {
	channel int
	port    string
}

var portTable = map[byte]portMapping{
	0x10: {2, PortD},
	0x20: {2, PortC},
	0x40: {1, PortB},
	0x80: {1, PortA},
}

// Trailer is a decoded tap trailer. It is immutable once parsed.
type Trailer struct {
	Raw         [TrailerLen]byte
	FCS         [fcsLen]byte   // Byte-reversed
	Identifier  [identLen]byte // Byte-reversed
	PortCode    byte
	Channel     int    // 1 or 2, UnmappedChannel otherwise
	Port        string // A..D, empty when unmapped
	TimestampNs uint64
}

// Parse decodes the trailer from the last TrailerLen bytes of frame. An unknown port code is
// not an error: the trailer is returned with Mapped() == false.
func Parse(frame []byte) (*Trailer, error) {
	if len(frame) < TrailerLen {
		return nil, ErrTrailerTooShort
	}

	t := &Trailer{}
	copy(t.Raw[:], frame[len(frame)-TrailerLen:])

	reverseInto(t.FCS[:], t.Raw[fcsOffset:fcsOffset+fcsLen])
	reverseInto(t.Identifier[:], t.Raw[identOffset:identOffset+identLen])

	// Reversing and reading big-endian is a little-endian read of the raw bytes.
	t.TimestampNs = binary.LittleEndian.Uint64(t.Raw[timestampOffset : timestampOffset+timestampLen])

	t.PortCode = t.Raw[portOffset]
	if m, ok := portTable[t.PortCode]; ok {
		t.Channel = m.channel
		t.Port = m.port
	} else {
		t.Channel = UnmappedChannel
	}

	return t, nil
}

// Mapped reports whether the port code resolved to a known tap port.
func (t *Trailer) Mapped() bool {
	return t.Channel != UnmappedChannel && t.Port != ""
}

// TimestampMs returns the hardware timestamp in milliseconds.
func (t *Trailer) TimestampMs() float64 {
	return float64(t.TimestampNs) / 1e6
}

func reverseInto(dst, src []byte) {
	for i, b := range src {
		dst[len(src)-1-i] = b
	}
}
