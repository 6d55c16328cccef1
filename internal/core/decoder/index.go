package decoder

import (
	"encoding/binary"
	"errors"
)

// IndexLen is the number of payload bytes holding the message index.
const IndexLen = 8

// Supported index widths in bytes.
const (
	IndexWidth32 = 4
	IndexWidth64 = 8
)

// ErrPayloadTooShort is returned when a matching payload cannot hold the index.
var ErrPayloadTooShort = errors.New("latprobe: payload too short for message index")

// DecodeIndex reads the message index from the first IndexLen bytes of payload. The bytes are
// big-endian regardless of host order. With IndexWidth32 only the low-order four bytes count,
// read as a signed 32-bit value.
func DecodeIndex(payload []byte, width int) (int64, error) {
	if len(payload) < IndexLen {
		return 0, ErrPayloadTooShort
	}
	v := binary.BigEndian.Uint64(payload[:IndexLen])
	if width == IndexWidth32 {
		return int64(int32(uint32(v))), nil
	}
	return int64(v), nil
}

// EncodeIndex writes index into the first IndexLen bytes of payload the way the test tools do.
func EncodeIndex(payload []byte, index int64) error {
	if len(payload) < IndexLen {
		return ErrPayloadTooShort
	}
	binary.BigEndian.PutUint64(payload[:IndexLen], uint64(index))
	return nil
}
