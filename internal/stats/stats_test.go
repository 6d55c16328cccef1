package stats

import (
	"errors"
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSummarize(t *testing.T) {
	s, err := Summarize([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.Count != 8 || s.Min != 2 || s.Max != 9 {
		t.Errorf("got %+v", s)
	}
	if !almostEqual(s.Mean, 5) {
		t.Errorf("Mean = %v, want 5", s.Mean)
	}
	// Population sigma, not sample sigma.
	if !almostEqual(s.StdDev, 2) {
		t.Errorf("StdDev = %v, want 2", s.StdDev)
	}
	if !almostEqual(s.Threshold(3), 11) {
		t.Errorf("Threshold(3) = %v, want 11", s.Threshold(3))
	}
}

func TestSingleValue(t *testing.T) {
	s, err := Summarize([]float64{3.5})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.Mean != 3.5 || s.StdDev != 0 || s.Min != 3.5 || s.Max != 3.5 {
		t.Errorf("got %+v", s)
	}
}

func TestEmptySample(t *testing.T) {
	if _, err := Mean(nil); !errors.Is(err, ErrEmptySample) {
		t.Errorf("Mean(nil) err = %v", err)
	}
	if _, err := StdDev([]float64{}); !errors.Is(err, ErrEmptySample) {
		t.Errorf("StdDev(empty) err = %v", err)
	}
	if _, err := Summarize(nil); !errors.Is(err, ErrEmptySample) {
		t.Errorf("Summarize(nil) err = %v", err)
	}
}

func TestPositive(t *testing.T) {
	got := Positive([]float64{-1, 0, 1.5, -0.1, 2})
	if len(got) != 2 || got[0] != 1.5 || got[1] != 2 {
		t.Errorf("Positive() = %v", got)
	}
	if got := Positive(nil); len(got) != 0 {
		t.Errorf("Positive(nil) = %v", got)
	}
}
