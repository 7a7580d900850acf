package utils

import (
	"math"
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps the most recent durations in a fixed ring and
// answers percentile queries over whatever the ring currently holds.
type LatencyTracker struct {
	mu    sync.Mutex
	ring  []time.Duration
	next  int
	count int
}

// NewLatencyTracker returns a tracker retaining the last size samples.
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 256
	}
	return &LatencyTracker{ring: make([]time.Duration, size)}
}

// Observe records one duration, overwriting the oldest sample once the
// ring is full.
func (t *LatencyTracker) Observe(d time.Duration) {
	t.mu.Lock()
	t.ring[t.next] = d
	t.next = (t.next + 1) % len(t.ring)
	if t.count < len(t.ring) {
		t.count++
	}
	t.mu.Unlock()
}

// Count reports how many samples the ring currently holds.
func (t *LatencyTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Percentile returns the nearest-rank percentile of the retained samples.
// p is clamped to [0, 100]; an empty tracker returns zero.
func (t *LatencyTracker) Percentile(p float64) time.Duration {
	t.mu.Lock()
	sorted := make([]time.Duration, t.count)
	copy(sorted, t.ring[:t.count])
	t.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
