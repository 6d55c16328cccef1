// Package decoder classifies captured frames as test traffic.
package decoder

import (
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/latprobe/internal/core"
)

// Rule holds what the classifier matches against during one run.
type Rule struct {
	ClientIP   netip.Addr // Informational, frames are matched on the server side
	ServerIP   netip.Addr
	Port       uint16
	PingSize   int
	PongSize   int
	IndexWidth int
}

// Validate checks that the rule can match anything.
func (r Rule) Validate() error {
	if !r.ServerIP.Is4() && !r.ServerIP.Is4In6() {
		return fmt.Errorf("%w: server ip %q is not IPv4", core.ErrConfigInvalid, r.ServerIP)
	}
	if r.Port == 0 {
		return fmt.Errorf("%w: port must be set", core.ErrConfigInvalid)
	}
	if r.PingSize <= 0 || r.PongSize <= 0 {
		return fmt.Errorf("%w: ping/pong sizes must be positive (%d/%d)", core.ErrConfigInvalid, r.PingSize, r.PongSize)
	}
	if r.IndexWidth != IndexWidth32 && r.IndexWidth != IndexWidth64 {
		return fmt.Errorf("%w: index width %d", core.ErrConfigInvalid, r.IndexWidth)
	}
	return nil
}

// Classification is the result for a frame that belongs to the test.
type Classification struct {
	Direction core.Direction
	Index     int64
	Size      int
	Transport layers.IPProtocol
	SrcIP     netip.Addr
	SrcPort   uint16
	DstIP     netip.Addr
	DstPort   uint16
}

// Classifier decides whether a raw frame is a ping or a pong of the active run.
// A Classifier reuses its decoding layers and must not be shared between goroutines.
type Classifier struct {
	rule     Rule
	serverIP netip.Addr

	eth   layers.Ethernet
	dot1q layers.Dot1Q
	sll   layers.LinuxSLL
	ip4   layers.IPv4
	ip6   layers.IPv6
	tcp   layers.TCP
	udp   layers.UDP

	parsers map[layers.LinkType]*gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// NewClassifier returns a classifier for rule.
func NewClassifier(rule Rule) (*Classifier, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	c := &Classifier{
		rule:     rule,
		serverIP: rule.ServerIP.Unmap(),
		parsers:  make(map[layers.LinkType]*gopacket.DecodingLayerParser),
		decoded:  make([]gopacket.LayerType, 0, 8),
	}
	return c, nil
}

// Rule returns the rule the classifier matches against.
func (c *Classifier) Rule() Rule {
	return c.rule
}

func (c *Classifier) parserFor(linkType layers.LinkType) (*gopacket.DecodingLayerParser, error) {
	if p, ok := c.parsers[linkType]; ok {
		return p, nil
	}

	var first gopacket.LayerType
	switch linkType {
	case layers.LinkTypeEthernet:
		first = layers.LayerTypeEthernet
	case layers.LinkTypeLinuxSLL:
		first = layers.LayerTypeLinuxSLL
	case layers.LinkTypeRaw:
		first = layers.LayerTypeIPv4
	default:
		return nil, fmt.Errorf("%w: link type %s", core.ErrUnsupportedProto, linkType)
	}

	p := gopacket.NewDecodingLayerParser(first,
		&c.eth, &c.dot1q, &c.sll, &c.ip4, &c.ip6, &c.tcp, &c.udp)
	p.IgnoreUnsupported = true
	c.parsers[linkType] = p
	return p, nil
}

// Classify decodes data and matches it against the rule. It returns ok == false for frames
// that are not test traffic. An error means the frame could not be decoded or a matching
// payload was too short to carry the index.
func (c *Classifier) Classify(data []byte, linkType layers.LinkType) (Classification, bool, error) {
	var out Classification

	parser, err := c.parserFor(linkType)
	if err != nil {
		return out, false, err
	}

	c.decoded = c.decoded[:0]
	if err := parser.DecodeLayers(data, &c.decoded); err != nil {
		return out, false, err
	}

	var (
		haveIPv4 bool
		payload  []byte
	)
	for _, lt := range c.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			haveIPv4 = true
		case layers.LayerTypeTCP:
			out.Transport = layers.IPProtocolTCP
			out.SrcPort, out.DstPort = uint16(c.tcp.SrcPort), uint16(c.tcp.DstPort)
			payload = c.tcp.Payload
		case layers.LayerTypeUDP:
			out.Transport = layers.IPProtocolUDP
			out.SrcPort, out.DstPort = uint16(c.udp.SrcPort), uint16(c.udp.DstPort)
			payload = c.udp.Payload
		}
	}
	if !haveIPv4 || out.Transport == 0 || len(payload) == 0 {
		return out, false, nil
	}

	var ok bool
	if out.SrcIP, ok = netip.AddrFromSlice(c.ip4.SrcIP); !ok {
		return out, false, core.ErrPacketTooShort
	}
	if out.DstIP, ok = netip.AddrFromSlice(c.ip4.DstIP); !ok {
		return out, false, core.ErrPacketTooShort
	}
	out.SrcIP, out.DstIP = out.SrcIP.Unmap(), out.DstIP.Unmap()
	out.Size = len(payload)

	switch {
	case out.DstIP == c.serverIP && out.DstPort == c.rule.Port && out.Size == c.rule.PingSize:
		out.Direction = core.DirectionPing
	case out.SrcIP == c.serverIP && out.SrcPort == c.rule.Port && out.Size == c.rule.PongSize:
		out.Direction = core.DirectionPong
	default:
		return out, false, nil
	}

	out.Index, err = DecodeIndex(payload, c.rule.IndexWidth)
	if err != nil {
		return out, false, err
	}
	return out, true, nil
}
