package tool

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"firestige.xyz/latprobe/internal/core"
	"firestige.xyz/latprobe/internal/log"
)

// CSVSource reads measurements from a CSV file with the columns
// index,send_time,receive_time,latency_ms[,c2s_ms,s2c_ms].
// Blank lines, '#' comments and a header row are skipped.
type CSVSource struct {
	Path        string
	IndexOffset int64
}

func (s *CSVSource) Measurements(ctx context.Context) ([]Measurement, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open measurements: %w", err)
	}
	defer f.Close()

	ms, err := ReadCSV(ctx, f, s.IndexOffset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	return ms, nil
}

// ReadCSV parses measurements from r, adding offset to every index. Malformed rows are logged
// and skipped. The rows keep the tool's order.
func ReadCSV(ctx context.Context, r io.Reader, offset int64) ([]Measurement, error) {
	logger := log.Named("tool")

	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []Measurement
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "") {
			continue
		}
		if line == 1 && isHeader(rec) {
			continue
		}

		m, err := parseRecord(rec)
		if err != nil {
			logger.WithError(err).Warnf("skipping measurement row %d: %v", line, rec)
			continue
		}
		m.Index += offset
		out = append(out, m)
	}
	return out, nil
}

func isHeader(rec []string) bool {
	_, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
	return err != nil
}

func parseRecord(rec []string) (Measurement, error) {
	var m Measurement
	if len(rec) != 4 && len(rec) != 6 {
		return m, fmt.Errorf("expected 4 or 6 fields, got %d", len(rec))
	}

	var err error
	if m.Index, err = strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64); err != nil {
		return m, fmt.Errorf("index: %w", err)
	}
	if m.SendTime, err = parseFloat(rec[1]); err != nil {
		return m, fmt.Errorf("send_time: %w", err)
	}
	if m.ReceiveTime, err = parseFloat(rec[2]); err != nil {
		return m, fmt.Errorf("receive_time: %w", err)
	}
	if m.Latency, err = parseFloat(rec[3]); err != nil {
		return m, fmt.Errorf("latency_ms: %w", err)
	}

	if len(rec) == 6 {
		if m.ClientToServer, err = parseOptional(rec[4]); err != nil {
			return m, fmt.Errorf("c2s_ms: %w", err)
		}
		if m.ServerToClient, err = parseOptional(rec[5]); err != nil {
			return m, fmt.Errorf("s2c_ms: %w", err)
		}
	}
	return m, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// parseOptional treats an empty cell or a negative value as not reported.
func parseOptional(s string) (core.Millis, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return core.Millis{}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return core.Millis{}, err
	}
	if v < 0 {
		return core.Millis{}, nil
	}
	return core.Observed(v), nil
}
