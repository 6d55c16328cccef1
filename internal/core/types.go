// Direction and optional millisecond values.

package core

import "strconv"

// Direction of a test message.
type Direction uint8

const (
	DirectionUnknown Direction = iota
	DirectionPing              // client -> server
	DirectionPong              // server -> client
)

func (d Direction) String() string {
	switch d {
	case DirectionPing:
		return "PING"
	case DirectionPong:
		return "PONG"
	default:
		return "UNKNOWN"
	}
}

// Sentinel is the value written for an unobserved millisecond field in flattened rows.
const Sentinel = -1.0

// Millis is a millisecond value that may not have been observed.
type Millis struct {
	Value float64
	Valid bool
}

// Observed returns a valid Millis.
func Observed(v float64) Millis {
	return Millis{Value: v, Valid: true}
}

// Positive reports whether m holds a strictly positive observed value. Aggregates only
// consider positive values.
func (m Millis) Positive() bool {
	return m.Valid && m.Value > 0
}

// OrSentinel flattens m, mapping an unobserved value to Sentinel.
func (m Millis) OrSentinel() float64 {
	if !m.Valid {
		return Sentinel
	}
	return m.Value
}

func (m Millis) String() string {
	if !m.Valid {
		return "n/a"
	}
	return strconv.FormatFloat(m.Value, 'f', 3, 64)
}
