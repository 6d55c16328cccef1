// Package testutil builds test traffic frames for package tests.
package testutil

import (
	"encoding/binary"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Frame describes one Ethernet/IPv4 test frame.
type Frame struct {
	Src, Dst         netip.Addr
	SrcPort, DstPort uint16
	UDP              bool
	PayloadSize      int
	Index            int64
	// TapPort, when non-zero, appends a tap trailer with this port code and TapNs as timestamp.
	TapPort byte
	TapNs   uint64
}

// Build serializes f. The payload starts with the big-endian index.
func Build(f Frame) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		SrcIP:    f.Src.AsSlice(),
		DstIP:    f.Dst.AsSlice(),
		Protocol: layers.IPProtocolTCP,
	}

	payload := make([]byte, f.PayloadSize)
	if len(payload) >= 8 {
		binary.BigEndian.PutUint64(payload, uint64(f.Index))
	}

	var l4 gopacket.SerializableLayer
	if f.UDP {
		ip.Protocol = layers.IPProtocolUDP
		udp := &layers.UDP{SrcPort: layers.UDPPort(f.SrcPort), DstPort: layers.UDPPort(f.DstPort)}
		_ = udp.SetNetworkLayerForChecksum(ip)
		l4 = udp
	} else {
		tcp := &layers.TCP{SrcPort: layers.TCPPort(f.SrcPort), DstPort: layers.TCPPort(f.DstPort), ACK: true, PSH: true, Window: 1024}
		_ = tcp.SetNetworkLayerForChecksum(ip)
		l4 = tcp
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, l4, gopacket.Payload(payload)); err != nil {
		return nil, err
	}

	out := append([]byte(nil), buf.Bytes()...)
	if f.TapPort != 0 {
		out = append(out, Trailer(f.TapPort, f.TapNs)...)
	}
	return out, nil
}

// Trailer lays out a 20-byte tap trailer with the given port code and timestamp.
func Trailer(port byte, ns uint64) []byte {
	raw := make([]byte, 20)
	raw[10] = port
	binary.LittleEndian.PutUint64(raw[12:], ns)
	return raw
}
