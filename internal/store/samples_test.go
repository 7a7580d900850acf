package store

import (
	"testing"
	"time"

	"github.com/meridianops/meridian-failover/internal/models"
)

func sampleAt(service, region string, ratio float64, offset int) models.HealthSample {
	return models.HealthSample{
		Service:      service,
		Region:       region,
		Timestamp:    time.Unix(int64(1700000000+offset), 0),
		SuccessRatio: ratio,
		Latency:      120 * time.Millisecond,
		Reachable:    true,
	}
}

func TestRecordEvictsOldestBeyondWindow(t *testing.T) {
	s := New(3)
	for i := 0; i < 5; i++ {
		s.Record(sampleAt("checkout", "eu-west-1", float64(i)/10, i))
	}

	window := s.Window("checkout", "eu-west-1")
	if len(window) != 3 {
		t.Fatalf("expected window of 3 samples, got %d", len(window))
	}
	for i, sample := range window {
		want := float64(i+2) / 10
		if sample.SuccessRatio != want {
			t.Fatalf("window[%d] ratio = %v, want %v", i, sample.SuccessRatio, want)
		}
	}
}

func TestWindowReturnsIndependentCopy(t *testing.T) {
	s := New(5)
	s.Record(sampleAt("checkout", "eu-west-1", 0.9, 0))

	window := s.Window("checkout", "eu-west-1")
	window[0].SuccessRatio = 0.1

	again := s.Window("checkout", "eu-west-1")
	if again[0].SuccessRatio != 0.9 {
		t.Fatalf("stored sample mutated through returned window: got %v", again[0].SuccessRatio)
	}
}

func TestWindowKeepsPairsSeparate(t *testing.T) {
	s := New(5)
	s.Record(sampleAt("checkout", "eu-west-1", 0.9, 0))
	s.Record(sampleAt("checkout", "us-east-1", 0.5, 0))
	s.Record(sampleAt("search", "eu-west-1", 0.7, 0))

	if got := s.Len("checkout", "eu-west-1"); got != 1 {
		t.Fatalf("expected one sample for checkout/eu-west-1, got %d", got)
	}
	window := s.Window("checkout", "us-east-1")
	if len(window) != 1 || window[0].SuccessRatio != 0.5 {
		t.Fatalf("unexpected window for checkout/us-east-1: %+v", window)
	}
}

func TestLatestReturnsNewestSample(t *testing.T) {
	s := New(5)
	if _, ok := s.Latest("checkout", "eu-west-1"); ok {
		t.Fatalf("expected no sample before recording")
	}

	s.Record(sampleAt("checkout", "eu-west-1", 0.6, 0))
	s.Record(sampleAt("checkout", "eu-west-1", 0.8, 1))

	latest, ok := s.Latest("checkout", "eu-west-1")
	if !ok {
		t.Fatalf("expected a latest sample")
	}
	if latest.SuccessRatio != 0.8 {
		t.Fatalf("latest ratio = %v, want 0.8", latest.SuccessRatio)
	}
}

func TestEmptyWindowIsNil(t *testing.T) {
	s := New(5)
	if window := s.Window("checkout", "nowhere"); window != nil {
		t.Fatalf("expected nil window for unknown pair, got %+v", window)
	}
}
