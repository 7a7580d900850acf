// Package store keeps the rolling health sample windows the engine scores
// against. Windows are held per (service, region) pair across a fixed set
// of lock shards so concurrent probes rarely contend.
package store

import (
	"hash/fnv"
	"sync"

	"github.com/meridianops/meridian-failover/internal/models"
)

const shardCount = 32

// Samples is a sharded in-memory store of bounded sample windows.
type Samples struct {
	windowSize int
	shards     [shardCount]shard
}

type shard struct {
	mu      sync.RWMutex
	windows map[string][]models.HealthSample
}

// New creates a store holding up to windowSize samples per pair.
func New(windowSize int) *Samples {
	if windowSize <= 0 {
		windowSize = 20
	}
	s := &Samples{windowSize: windowSize}
	for i := range s.shards {
		s.shards[i].windows = make(map[string][]models.HealthSample)
	}
	return s
}

// Record appends a sample to its pair's window, evicting the oldest sample
// once the window is full.
func (s *Samples) Record(sample models.HealthSample) {
	key := pairKey(sample.Service, sample.Region)
	sh := &s.shards[shardIndex(key)]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	window := append(sh.windows[key], sample)
	if len(window) > s.windowSize {
		copy(window[0:], window[1:])
		window = window[:s.windowSize]
	}
	sh.windows[key] = window
}

// Window returns a copy of the pair's window in arrival order. The copy is
// safe to read while probes keep recording.
func (s *Samples) Window(service, region string) []models.HealthSample {
	key := pairKey(service, region)
	sh := &s.shards[shardIndex(key)]

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	window := sh.windows[key]
	if len(window) == 0 {
		return nil
	}
	return append([]models.HealthSample(nil), window...)
}

// Latest returns the newest sample for the pair, if any.
func (s *Samples) Latest(service, region string) (models.HealthSample, bool) {
	key := pairKey(service, region)
	sh := &s.shards[shardIndex(key)]

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	window := sh.windows[key]
	if len(window) == 0 {
		return models.HealthSample{}, false
	}
	return window[len(window)-1], true
}

// Len reports how many samples the pair's window currently holds.
func (s *Samples) Len(service, region string) int {
	key := pairKey(service, region)
	sh := &s.shards[shardIndex(key)]

	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.windows[key])
}

func pairKey(service, region string) string {
	return service + "|" + region
}

func shardIndex(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}
