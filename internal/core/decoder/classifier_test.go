package decoder

import (
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/latprobe/internal/core"
)

var (
	testClient = netip.MustParseAddr("10.0.0.1")
	testServer = netip.MustParseAddr("10.0.0.2")
)

func testRule() Rule {
	return Rule{
		ClientIP:   testClient,
		ServerIP:   testServer,
		Port:       5001,
		PingSize:   64,
		PongSize:   16,
		IndexWidth: IndexWidth64,
	}
}

type frameSpec struct {
	src, dst         netip.Addr
	srcPort, dstPort uint16
	udp              bool
	payload          []byte
	vlan             bool
	trailer          []byte
}

func indexedPayload(size int, index int64) []byte {
	p := make([]byte, size)
	if size >= IndexLen {
		_ = EncodeIndex(p, index)
	}
	return p
}

func buildFrame(t *testing.T, fs frameSpec) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		SrcIP:    fs.src.AsSlice(),
		DstIP:    fs.dst.AsSlice(),
		Protocol: layers.IPProtocolTCP,
	}

	var all []gopacket.SerializableLayer
	all = append(all, eth)
	if fs.vlan {
		eth.EthernetType = layers.EthernetTypeDot1Q
		all = append(all, &layers.Dot1Q{VLANIdentifier: 100, Type: layers.EthernetTypeIPv4})
	}
	all = append(all, ip)

	if fs.udp {
		ip.Protocol = layers.IPProtocolUDP
		udp := &layers.UDP{SrcPort: layers.UDPPort(fs.srcPort), DstPort: layers.UDPPort(fs.dstPort)}
		_ = udp.SetNetworkLayerForChecksum(ip)
		all = append(all, udp)
	} else {
		tcp := &layers.TCP{SrcPort: layers.TCPPort(fs.srcPort), DstPort: layers.TCPPort(fs.dstPort), ACK: true, PSH: true, Window: 1024}
		_ = tcp.SetNetworkLayerForChecksum(ip)
		all = append(all, tcp)
	}
	all = append(all, gopacket.Payload(fs.payload))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, all...); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	return append(buf.Bytes(), fs.trailer...)
}

func mustClassifier(t *testing.T, r Rule) *Classifier {
	t.Helper()
	c, err := NewClassifier(r)
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	return c
}

func TestClassify_PingPongScenario(t *testing.T) {
	c := mustClassifier(t, testRule())

	ping := buildFrame(t, frameSpec{src: testClient, dst: testServer, srcPort: 40000, dstPort: 5001, payload: indexedPayload(64, 5)})
	got, ok, err := c.Classify(ping, layers.LinkTypeEthernet)
	if err != nil || !ok {
		t.Fatalf("ping: ok=%v err=%v", ok, err)
	}
	if got.Direction != core.DirectionPing || got.Index != 5 || got.Size != 64 {
		t.Errorf("ping: got %+v", got)
	}
	if got.SrcIP != testClient || got.DstIP != testServer || got.SrcPort != 40000 || got.DstPort != 5001 {
		t.Errorf("ping addressing: got %+v", got)
	}
	if got.Transport != layers.IPProtocolTCP {
		t.Errorf("ping transport = %v, want TCP", got.Transport)
	}

	pong := buildFrame(t, frameSpec{src: testServer, dst: testClient, srcPort: 5001, dstPort: 40000, payload: indexedPayload(16, 5)})
	got, ok, err = c.Classify(pong, layers.LinkTypeEthernet)
	if err != nil || !ok {
		t.Fatalf("pong: ok=%v err=%v", ok, err)
	}
	if got.Direction != core.DirectionPong || got.Index != 5 || got.Size != 16 {
		t.Errorf("pong: got %+v", got)
	}
}

func TestClassify_Rejects(t *testing.T) {
	c := mustClassifier(t, testRule())

	tests := []struct {
		name string
		fs   frameSpec
	}{
		{"PureACK", frameSpec{src: testClient, dst: testServer, srcPort: 40000, dstPort: 5001}},
		{"WrongPingSize", frameSpec{src: testClient, dst: testServer, srcPort: 40000, dstPort: 5001, payload: indexedPayload(63, 1)}},
		{"WrongPort", frameSpec{src: testClient, dst: testServer, srcPort: 40000, dstPort: 5002, payload: indexedPayload(64, 1)}},
		{"WrongServer", frameSpec{src: testClient, dst: netip.MustParseAddr("10.0.0.3"), srcPort: 40000, dstPort: 5001, payload: indexedPayload(64, 1)}},
		{"PongWithPingSize", frameSpec{src: testServer, dst: testClient, srcPort: 5001, dstPort: 40000, payload: indexedPayload(64, 1)}},
		{"PongWrongSourcePort", frameSpec{src: testServer, dst: testClient, srcPort: 5002, dstPort: 40000, payload: indexedPayload(16, 1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := c.Classify(buildFrame(t, tt.fs), layers.LinkTypeEthernet)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok {
				t.Error("frame must not be classified")
			}
		})
	}
}

func TestClassify_NonIPv4(t *testing.T) {
	c := mustClassifier(t, testRule())

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip6 := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      net.ParseIP("fe80::1"),
		DstIP:      net.ParseIP("fe80::2"),
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 5001}
	_ = udp.SetNetworkLayerForChecksum(ip6)

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		eth, ip6, udp, gopacket.Payload(indexedPayload(64, 1))); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}

	_, ok, err := c.Classify(buf.Bytes(), layers.LinkTypeEthernet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("IPv6 frame must not be classified")
	}
}

func TestClassify_UDPAndVLAN(t *testing.T) {
	c := mustClassifier(t, testRule())

	frame := buildFrame(t, frameSpec{src: testClient, dst: testServer, srcPort: 40000, dstPort: 5001, udp: true, vlan: true, payload: indexedPayload(64, 77)})
	got, ok, err := c.Classify(frame, layers.LinkTypeEthernet)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if got.Transport != layers.IPProtocolUDP || got.Index != 77 {
		t.Errorf("got %+v", got)
	}
}

func TestClassify_IgnoresTapTrailer(t *testing.T) {
	c := mustClassifier(t, testRule())

	trailer := make([]byte, 20)
	trailer[10] = 0x80
	for _, udp := range []bool{false, true} {
		frame := buildFrame(t, frameSpec{src: testClient, dst: testServer, srcPort: 40000, dstPort: 5001, udp: udp, payload: indexedPayload(64, 9), trailer: trailer})
		got, ok, err := c.Classify(frame, layers.LinkTypeEthernet)
		if err != nil || !ok {
			t.Fatalf("udp=%v: ok=%v err=%v", udp, ok, err)
		}
		if got.Size != 64 || got.Index != 9 {
			t.Errorf("udp=%v: trailer leaked into payload: %+v", udp, got)
		}
	}
}

func TestClassify_PayloadTooShortForIndex(t *testing.T) {
	r := testRule()
	r.PongSize = 4
	c := mustClassifier(t, r)

	frame := buildFrame(t, frameSpec{src: testServer, dst: testClient, srcPort: 5001, dstPort: 40000, payload: []byte{1, 2, 3, 4}})
	_, ok, err := c.Classify(frame, layers.LinkTypeEthernet)
	if ok {
		t.Error("frame must not be classified")
	}
	if !errors.Is(err, ErrPayloadTooShort) {
		t.Errorf("err = %v, want ErrPayloadTooShort", err)
	}
}

func TestClassify_UnsupportedLinkType(t *testing.T) {
	c := mustClassifier(t, testRule())
	_, _, err := c.Classify([]byte{0, 1, 2}, layers.LinkTypeIEEE802_11)
	if !errors.Is(err, core.ErrUnsupportedProto) {
		t.Errorf("err = %v, want ErrUnsupportedProto", err)
	}
}

func TestRuleValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Rule)
	}{
		{"IPv6Server", func(r *Rule) { r.ServerIP = netip.MustParseAddr("::1") }},
		{"ZeroPort", func(r *Rule) { r.Port = 0 }},
		{"ZeroPing", func(r *Rule) { r.PingSize = 0 }},
		{"BadWidth", func(r *Rule) { r.IndexWidth = 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRule()
			tt.mutate(&r)
			if err := r.Validate(); !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Validate() = %v, want ErrConfigInvalid", err)
			}
		})
	}
}
