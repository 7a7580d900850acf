// Package history keeps a bounded in-memory record of state transitions
// and mines recurring transition shapes from it.
package history

import (
	"sort"
	"sync"
	"time"

	"github.com/meridianops/meridian-failover/internal/models"
)

const (
	defaultMaxEvents = 1000
	defaultListLimit = 50
	maxListLimit     = 500
)

// Log stores the most recent state transitions across all traffic groups.
// Once maxEvents is reached the oldest entries are discarded.
type Log struct {
	maxEvents int

	mu          sync.RWMutex
	transitions []models.StateTransition
}

// NewLog constructs a transition log bounded at maxEvents entries.
func NewLog(maxEvents int) *Log {
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}
	return &Log{maxEvents: maxEvents}
}

// Append records a transition, evicting the oldest entry when full.
func (l *Log) Append(transition models.StateTransition) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.transitions = append(l.transitions, transition)
	if len(l.transitions) > l.maxEvents {
		copy(l.transitions, l.transitions[1:])
		l.transitions = l.transitions[:l.maxEvents]
	}
}

// Len reports how many transitions are currently retained.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.transitions)
}

// List returns retained transitions matching the filter, newest first.
// Start and End bound the transition timestamp inclusively when set.
func (l *Log) List(req models.ListHistoryRequest) []models.StateTransition {
	limit := req.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	matched := make([]models.StateTransition, 0, limit)
	for i := len(l.transitions) - 1; i >= 0; i-- {
		t := l.transitions[i]
		if req.Group != "" && t.Group != req.Group {
			continue
		}
		if !req.Start.IsZero() && t.Timestamp.Before(req.Start) {
			continue
		}
		if !req.End.IsZero() && t.Timestamp.After(req.End) {
			continue
		}
		matched = append(matched, t)
		if len(matched) == limit {
			break
		}
	}
	return matched
}

// Recurrences aggregates retained transitions by group, edge and reason,
// most prevalent first. Prevalence is relative to all retained transitions.
func (l *Log) Recurrences() []models.RecurrenceSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.transitions) == 0 {
		return nil
	}

	stats := make(map[recurrenceKey]*recurrenceAggregate)
	for _, t := range l.transitions {
		key := recurrenceKey{group: t.Group, from: t.From, to: t.To, reason: t.Reason}
		agg, ok := stats[key]
		if !ok {
			agg = &recurrenceAggregate{}
			stats[key] = agg
		}
		agg.count++
		if t.Timestamp.After(agg.lastSeen) {
			agg.lastSeen = t.Timestamp
		}
	}

	total := float64(len(l.transitions))
	summaries := make([]models.RecurrenceSummary, 0, len(stats))
	for key, agg := range stats {
		summaries = append(summaries, models.RecurrenceSummary{
			Group:      key.group,
			From:       key.from,
			To:         key.to,
			Reason:     key.reason,
			Count:      agg.count,
			Prevalence: float64(agg.count) / total,
			LastSeen:   agg.lastSeen,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Prevalence != summaries[j].Prevalence {
			return summaries[i].Prevalence > summaries[j].Prevalence
		}
		return summaries[i].LastSeen.After(summaries[j].LastSeen)
	})
	return summaries
}

type recurrenceKey struct {
	group  string
	from   models.FailoverState
	to     models.FailoverState
	reason string
}

type recurrenceAggregate struct {
	count    int
	lastSeen time.Time
}
