// Package stats computes the sample statistics used for latency aggregates.
package stats

import (
	"errors"
	"math"
)

// ErrEmptySample is returned when an aggregate is requested over no values.
var ErrEmptySample = errors.New("latprobe: empty sample")

// Summary holds the aggregates of one sample.
type Summary struct {
	Count  int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64 // Population standard deviation
}

// Threshold returns Mean + k*StdDev.
func (s Summary) Threshold(k float64) float64 {
	return s.Mean + k*s.StdDev
}

// Mean returns the arithmetic mean of values.
func Mean(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmptySample
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), nil
}

// StdDev returns the population standard deviation of values.
func StdDev(values []float64) (float64, error) {
	mean, err := Mean(values)
	if err != nil {
		return 0, err
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values))), nil
}

// Summarize computes all aggregates of values in one pass over the data.
func Summarize(values []float64) (Summary, error) {
	if len(values) == 0 {
		return Summary{}, ErrEmptySample
	}
	s := Summary{Count: len(values), Min: values[0], Max: values[0]}
	for _, v := range values {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Mean, _ = Mean(values)
	s.StdDev, _ = StdDev(values)
	return s, nil
}

// Positive returns the strictly positive values of in, in order.
func Positive(in []float64) []float64 {
	out := make([]float64, 0, len(in))
	for _, v := range in {
		if v > 0 {
			out = append(out, v)
		}
	}
	return out
}
