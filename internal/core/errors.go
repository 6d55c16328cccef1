// Sentinel errors.

package core

import "errors"

// Sentinel errors, matched with errors.Is.
var (
	// Capture run errors
	ErrRunActive    = errors.New("latprobe: capture run already active")
	ErrRunNotActive = errors.New("latprobe: no active capture run")

	// Frame decoding errors
	ErrPacketTooShort   = errors.New("latprobe: packet too short")
	ErrUnsupportedProto = errors.New("latprobe: unsupported protocol")

	// Configuration errors
	ErrConfigInvalid = errors.New("latprobe: invalid configuration")
)
