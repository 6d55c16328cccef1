package file

import (
	"bytes"
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/latprobe/internal/core"
	"firestige.xyz/latprobe/internal/testutil"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testFrames(t *testing.T, n int) [][]byte {
	t.Helper()
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		data, err := testutil.Build(testutil.Frame{
			Src:         netip.MustParseAddr("10.0.0.2"),
			Dst:         netip.MustParseAddr("10.0.0.1"),
			SrcPort:     40000,
			DstPort:     11111,
			UDP:         true,
			PayloadSize: 64,
			Index:       int64(i),
		})
		require.NoError(t, err)
		out = append(out, data)
	}
	return out
}

func writePcap(t *testing.T, frames [][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriterNanos(&buf)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for i, f := range frames {
		ci := gopacket.CaptureInfo{Timestamp: base.Add(time.Duration(i) * time.Millisecond), CaptureLength: len(f), Length: len(f)}
		require.NoError(t, w.WritePacket(ci, f))
	}
	return buf.Bytes()
}

func collect(t *testing.T, s *Source) []core.RawFrame {
	t.Helper()
	var got []core.RawFrame
	err := s.Capture(context.Background(), func(f core.RawFrame) {
		f.Data = append([]byte(nil), f.Data...)
		got = append(got, f)
	})
	require.NoError(t, err)
	return got
}

func TestReplayPcap(t *testing.T) {
	frames := testFrames(t, 3)
	s, err := NewReader(bytes.NewReader(writePcap(t, frames)))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, layers.LinkTypeEthernet, s.LinkType())
	got := collect(t, s)
	require.Len(t, got, 3)
	for i, f := range got {
		assert.Equal(t, frames[i], f.Data)
		assert.True(t, base.Add(time.Duration(i)*time.Millisecond).Equal(f.Timestamp))
	}
	assert.Equal(t, uint64(3), s.Stats().Packets)
}

func TestReplayPcapng(t *testing.T) {
	frames := testFrames(t, 2)
	var buf bytes.Buffer
	w, err := pcapgo.NewNgWriter(&buf, layers.LinkTypeEthernet)
	require.NoError(t, err)
	for i, f := range frames {
		ci := gopacket.CaptureInfo{Timestamp: base.Add(time.Duration(i) * time.Second), CaptureLength: len(f), Length: len(f), InterfaceIndex: 0}
		require.NoError(t, w.WritePacket(ci, f))
	}
	require.NoError(t, w.Flush())

	s, err := NewReader(&buf)
	require.NoError(t, err)
	got := collect(t, s)
	require.Len(t, got, 2)
	assert.Equal(t, frames[1], got[1].Data)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.pcap")
	require.NoError(t, os.WriteFile(path, writePcap(t, testFrames(t, 4)), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Len(t, collect(t, s), 4)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "missing.pcap"))
	assert.Error(t, err)

	_, err = NewReader(bytes.NewReader([]byte("not a capture file")))
	assert.Error(t, err)
}

func TestCaptureStopsOnCancel(t *testing.T) {
	s, err := NewReader(bytes.NewReader(writePcap(t, testFrames(t, 5))))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	err = s.Capture(ctx, func(core.RawFrame) {
		n++
		if n == 2 {
			cancel()
		}
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
}
