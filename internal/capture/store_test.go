package capture

import (
	"bytes"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/latprobe/internal/core"
	"firestige.xyz/latprobe/internal/core/tap"
	"firestige.xyz/latprobe/internal/testutil"
)

func sampleStore(t *testing.T) *Store {
	t.Helper()
	tr, err := tap.Parse(testutil.Trailer(0x40, 123456789))
	require.NoError(t, err)

	s := NewStore()
	s.Add(core.CapturedFrame{
		Index: 2, Direction: core.DirectionPing, Size: 64,
		SrcIP: client, SrcPort: 40000, DstIP: server, DstPort: 5001,
		Timestamp: time.UnixMicro(1_700_000_000_000_001), Tap: tr,
	})
	s.Add(core.CapturedFrame{
		Index: 1, Direction: core.DirectionPong, Size: 16,
		SrcIP: server, SrcPort: 5001, DstIP: client, DstPort: 40000,
		Timestamp: time.UnixMicro(1_700_000_000_000_500),
	})
	return s
}

func TestStore_Basics(t *testing.T) {
	s := sampleStore(t)

	assert.Equal(t, []int64{1, 2}, s.Indices())
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 2, s.Frames())
	assert.Nil(t, s.Get(99))

	got := s.Get(2)
	got[0].Size = 0
	assert.Equal(t, 64, s.Get(2)[0].Size, "Get must return a copy")

	var visited []int64
	s.Range(func(idx int64, _ []core.CapturedFrame) bool {
		visited = append(visited, idx)
		return false
	})
	assert.Equal(t, []int64{1}, visited, "Range stops when fn returns false")
}

func TestSnapshot_RoundTrip(t *testing.T) {
	s := sampleStore(t)

	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, s, "run-64"))
	assert.True(t, strings.Contains(buf.String(), "direction: PING"))

	loaded, snap, err := ReadSnapshot(&buf)
	require.NoError(t, err)
	assert.Equal(t, "run-64", snap.Label)
	assert.Equal(t, s.Indices(), loaded.Indices())

	want := s.Get(2)[0]
	got := loaded.Get(2)[0]
	assert.Equal(t, want.Direction, got.Direction)
	assert.Equal(t, want.SrcIP, got.SrcIP)
	assert.Equal(t, want.DstPort, got.DstPort)
	assert.True(t, want.Timestamp.Equal(got.Timestamp))
	require.NotNil(t, got.Tap)
	assert.Equal(t, *want.Tap, *got.Tap)

	assert.Nil(t, loaded.Get(1)[0].Tap)
}

func TestSnapshot_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.yaml")
	require.NoError(t, SaveSnapshot(path, sampleStore(t), ""))

	loaded, err := LoadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Frames())
}

func TestSnapshot_Invalid(t *testing.T) {
	tests := map[string]string{
		"Version":   "version: 9\nframes: []\n",
		"Direction": "version: 1\nframes:\n  - {index: 1, direction: SIDEWAYS, src: '10.0.0.1:1', dst: '10.0.0.2:2'}\n",
		"Address":   "version: 1\nframes:\n  - {index: 1, direction: PING, src: 'nope', dst: '10.0.0.2:2'}\n",
		"TapLength": "version: 1\nframes:\n  - {index: 1, direction: PING, src: '10.0.0.1:1', dst: '10.0.0.2:2', tap: 'abcd'}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := ReadSnapshot(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestSnapshot_KeepsAddressFamily(t *testing.T) {
	f, err := fromSnapshotFrame(snapshotFrame{Index: 1, Direction: "PONG", Src: "10.0.0.2:5001", Dst: "10.0.0.1:40000"})
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("10.0.0.2"), f.SrcIP)
	assert.True(t, f.SrcIP.Is4())
}
