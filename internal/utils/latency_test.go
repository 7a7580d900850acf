package utils

import (
	"testing"
	"time"
)

func TestPercentileNearestRank(t *testing.T) {
	tracker := NewLatencyTracker(16)
	for _, d := range []time.Duration{
		50 * time.Millisecond,
		10 * time.Millisecond,
		40 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
	} {
		tracker.Observe(d)
	}

	cases := []struct {
		p    float64
		want time.Duration
	}{
		{0, 10 * time.Millisecond},
		{50, 30 * time.Millisecond},
		{95, 50 * time.Millisecond},
		{100, 50 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := tracker.Percentile(tc.p); got != tc.want {
			t.Fatalf("p%.0f: got %v, want %v", tc.p, got, tc.want)
		}
	}
}

func TestRingKeepsOnlyRecentSamples(t *testing.T) {
	tracker := NewLatencyTracker(4)
	for _, d := range []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		400 * time.Millisecond,
	} {
		tracker.Observe(d)
	}
	for i := 1; i <= 4; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}

	if tracker.Count() != 4 {
		t.Fatalf("count: got %d, want 4", tracker.Count())
	}
	if got := tracker.Percentile(100); got != 4*time.Millisecond {
		t.Fatalf("max after eviction: got %v, want 4ms", got)
	}
}

func TestEmptyTrackerReturnsZero(t *testing.T) {
	tracker := NewLatencyTracker(8)
	if got := tracker.Percentile(95); got != 0 {
		t.Fatalf("empty percentile: got %v, want 0", got)
	}
	if got := tracker.Count(); got != 0 {
		t.Fatalf("empty count: got %d, want 0", got)
	}
}
