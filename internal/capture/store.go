package capture

import (
	"sort"
	"sync"

	"firestige.xyz/latprobe/internal/core"
	"firestige.xyz/latprobe/internal/core/tap"
)

// Store groups the captured frames of one run by message index.
// It is written by the analysis goroutine and read-only once the run has stopped.
type Store struct {
	mu     sync.RWMutex
	frames map[int64][]core.CapturedFrame
	total  int
}

func NewStore() *Store {
	return &Store{frames: make(map[int64][]core.CapturedFrame)}
}

// Add appends f to the bucket of its index.
func (s *Store) Add(f core.CapturedFrame) {
	s.mu.Lock()
	s.frames[f.Index] = append(s.frames[f.Index], f)
	s.total++
	s.mu.Unlock()
}

// Get returns a copy of the frames captured for index.
func (s *Store) Get(index int64) []core.CapturedFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.frames[index]
	if !ok {
		return nil
	}
	out := make([]core.CapturedFrame, len(bucket))
	copy(out, bucket)
	return out
}

// Len returns the number of distinct indices.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

// Frames returns the total number of frames across all indices.
func (s *Store) Frames() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Indices returns the stored indices in ascending order.
func (s *Store) Indices() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0, len(s.frames))
	for idx := range s.frames {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Range calls fn for every index in ascending order until fn returns false.
// fn must not modify the store.
func (s *Store) Range(fn func(index int64, frames []core.CapturedFrame) bool) {
	for _, idx := range s.Indices() {
		s.mu.RLock()
		bucket := s.frames[idx]
		s.mu.RUnlock()
		if !fn(idx, bucket) {
			return
		}
	}
}

// Counters summarizes what a run captured.
type Counters struct {
	Ping         int
	Pong         int
	FullPingPong int // Indices with at least one ping and one pong
	Ports        map[string]int
}

// Counters tallies directions and tap ports over the whole store.
func (s *Store) Counters() Counters {
	c := Counters{Ports: map[string]int{tap.PortA: 0, tap.PortB: 0, tap.PortC: 0, tap.PortD: 0}}
	s.Range(func(_ int64, frames []core.CapturedFrame) bool {
		var ping, pong int
		for i := range frames {
			switch frames[i].Direction {
			case core.DirectionPing:
				ping++
			case core.DirectionPong:
				pong++
			}
			if p := frames[i].TapPort(); p != "" {
				c.Ports[p]++
			}
		}
		c.Ping += ping
		c.Pong += pong
		if ping > 0 && pong > 0 {
			c.FullPingPong++
		}
		return true
	})
	return c
}
