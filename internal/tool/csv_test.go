package tool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `# sockperf full log
index,send_time,receive_time,latency_ms
2,10.002,10.0031,1.1
0,10.000,10.0010,1.0
1,10.001,10.0022,1.2,0.5,0.7
bogus,1,2,3
3,10.003,oops,1.0
4,10.004,10.005,1.0,,-1
`

func TestReadCSV(t *testing.T) {
	ms, err := ReadCSV(context.Background(), strings.NewReader(sample), 0)
	require.NoError(t, err)
	require.Len(t, ms, 4)

	assert.Equal(t, []int64{2, 0, 1, 4}, []int64{ms[0].Index, ms[1].Index, ms[2].Index, ms[3].Index}, "file order is kept")
	assert.InDelta(t, 1.2, ms[2].Latency, 1e-9)
	assert.True(t, ms[2].ClientToServer.Valid)
	assert.InDelta(t, 0.5, ms[2].ClientToServer.Value, 1e-9)
	assert.InDelta(t, 0.7, ms[2].ServerToClient.Value, 1e-9)

	assert.False(t, ms[0].ClientToServer.Valid, "4-column rows carry no one-way values")
	assert.False(t, ms[3].ClientToServer.Valid, "empty cell is not reported")
	assert.False(t, ms[3].ServerToClient.Valid, "negative value is not reported")
}

func TestReadCSV_IndexOffset(t *testing.T) {
	ms, err := ReadCSV(context.Background(), strings.NewReader("0,1,2,3\n5,1,2,3\n"), IndexShift(20, 10))
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, int64(11), ms[0].Index)
	assert.Equal(t, int64(16), ms[1].Index)
}

func TestReadCSV_IndexWrap(t *testing.T) {
	// A 32-bit tool counter wrapping mid-run must not be reordered.
	ms, err := ReadCSV(context.Background(), strings.NewReader("2147483647,1,2,3\n-2147483648,1,2,3\n-2147483647,1,2,3\n"), 0)
	require.NoError(t, err)
	require.Len(t, ms, 3)
	assert.Equal(t, []int64{2147483647, -2147483648, -2147483647}, []int64{ms[0].Index, ms[1].Index, ms[2].Index})
}

func TestReadCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadCSV(ctx, strings.NewReader(sample), 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCSVSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.csv")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	src := &CSVSource{Path: path, IndexOffset: 100}
	ms, err := src.Measurements(context.Background())
	require.NoError(t, err)
	require.Len(t, ms, 4)
	assert.Equal(t, int64(102), ms[0].Index)

	_, err = (&CSVSource{Path: filepath.Join(t.TempDir(), "missing.csv")}).Measurements(context.Background())
	assert.Error(t, err)
}
