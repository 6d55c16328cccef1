// Package tool describes the external ping-pong benchmarking tools latprobe correlates with,
// and loads the per-message measurements they log.
package tool

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"firestige.xyz/latprobe/internal/core/decoder"
)

// ErrUnknownTool is returned by Lookup for a tool without a profile.
var ErrUnknownTool = errors.New("latprobe: unknown test tool")

// Profile captures how a tool frames its messages on the wire.
type Profile struct {
	Name string
	// PongFixedSize is the reply payload size when the tool answers with a fixed-size
	// acknowledgement. Zero means the reply mirrors the ping size.
	PongFixedSize int
	IndexWidth    int
}

var (
	Sockperf = Profile{Name: "sockperf", IndexWidth: decoder.IndexWidth32}
	Rperf    = Profile{Name: "rperf", PongFixedSize: 16, IndexWidth: decoder.IndexWidth32}
)

var profiles = map[string]Profile{
	Sockperf.Name: Sockperf,
	Rperf.Name:    Rperf,
}

// Lookup returns the profile registered under name (case-insensitive).
func Lookup(name string) (Profile, error) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownTool, name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Names lists the known tool names in order.
func Names() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PingSize returns the payload size of a ping for the configured message size.
func (p Profile) PingSize(messageSize int) int {
	return messageSize
}

// PongSize returns the payload size of a pong for the configured message size.
func (p Profile) PongSize(messageSize int) int {
	if p.PongFixedSize > 0 {
		return p.PongFixedSize
	}
	return messageSize
}

// Rule builds the classifier rule for one run of this tool.
func (p Profile) Rule(client, server netip.Addr, port uint16, messageSize int) decoder.Rule {
	return decoder.Rule{
		ClientIP:   client,
		ServerIP:   server,
		Port:       port,
		PingSize:   p.PingSize(messageSize),
		PongSize:   p.PongSize(messageSize),
		IndexWidth: p.IndexWidth,
	}
}
