package csv

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/latprobe/internal/report"
)

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	r := New().(*Reporter)
	require.NoError(t, r.Init(map[string]any{"dir": dir}))
	require.NoError(t, r.Start(context.Background()))

	run := &report.Run{
		Summary: report.Summary{RunID: "abc", Label: "lab 5g/a", Sent: 2, Received: 2, LatencyAvg: 1.5,
			TapPorts: map[string]int{"C": 3}},
		Rows: []report.Row{
			{RunID: "abc", Index: 0, Latency: 1, CaptureLatency: -1},
			{RunID: "abc", Index: 1, Latency: 2, CaptureLatency: 0.75, Outlier: 1},
		},
	}
	require.NoError(t, r.Report(context.Background(), run))

	mPath, sPath := r.Paths(run.Summary)
	assert.Equal(t, filepath.Join(dir, "lab_5g_a_abc_measurements.csv"), mPath)

	rows := readAll(t, mPath)
	require.Len(t, rows, 3)
	assert.Equal(t, report.Header, rows[0])
	assert.Equal(t, "-1", rows[1][8])
	assert.Equal(t, "0.75", rows[2][8])
	assert.Equal(t, "1", rows[2][18])

	summary := readAll(t, sPath)
	require.Len(t, summary, 2)
	assert.Equal(t, summaryHeader, summary[0])
	require.Len(t, summary[1], len(summaryHeader))
	assert.Equal(t, "1.5", summary[1][14])
	assert.Equal(t, "3", summary[1][27])

	require.NoError(t, r.Stop(context.Background()))
	assert.Equal(t, uint64(2), r.files.Load())
}

func TestInitDefaults(t *testing.T) {
	r := New().(*Reporter)
	require.NoError(t, r.Init(nil))
	assert.Equal(t, ".", r.cfg.Dir)
	assert.Error(t, New().Init(map[string]any{"path": "x"}))
}
