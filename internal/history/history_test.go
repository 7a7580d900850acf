package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/meridianops/meridian-failover/internal/models"
)

func transitionAt(group string, to models.FailoverState, reason string, ts time.Time) models.StateTransition {
	return models.StateTransition{
		ID:        fmt.Sprintf("%s-%d", group, ts.UnixNano()),
		Group:     group,
		From:      models.StateStable,
		To:        to,
		Timestamp: ts,
		Reason:    reason,
	}
}

func TestAppendEvictsOldestBeyondBound(t *testing.T) {
	log := NewLog(3)
	base := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 5; i++ {
		log.Append(transitionAt("checkout-flow", models.StateDegraded, "r", base.Add(time.Duration(i)*time.Minute)))
	}

	if log.Len() != 3 {
		t.Fatalf("expected 3 retained transitions, got %d", log.Len())
	}
	got := log.List(models.ListHistoryRequest{Limit: 10})
	if len(got) != 3 {
		t.Fatalf("expected 3 listed transitions, got %d", len(got))
	}
	if !got[0].Timestamp.Equal(base.Add(4 * time.Minute)) {
		t.Fatalf("expected newest first, got %v", got[0].Timestamp)
	}
	if !got[2].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("expected oldest retained to be minute 2, got %v", got[2].Timestamp)
	}
}

func TestListFiltersByGroupAndTimeRange(t *testing.T) {
	log := NewLog(100)
	base := time.Unix(1700000000, 0).UTC()
	log.Append(transitionAt("checkout-flow", models.StateDegraded, "r", base))
	log.Append(transitionAt("search-flow", models.StateDegraded, "r", base.Add(1*time.Minute)))
	log.Append(transitionAt("checkout-flow", models.StateFailing, "r", base.Add(2*time.Minute)))
	log.Append(transitionAt("checkout-flow", models.StateFailedOver, "r", base.Add(3*time.Minute)))

	got := log.List(models.ListHistoryRequest{
		Group: "checkout-flow",
		Start: base.Add(1 * time.Minute),
		End:   base.Add(2 * time.Minute),
	})
	if len(got) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(got))
	}
	if got[0].To != models.StateFailing {
		t.Fatalf("expected the failing transition, got %s", got[0].To)
	}
}

func TestListHonoursLimit(t *testing.T) {
	log := NewLog(100)
	base := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 10; i++ {
		log.Append(transitionAt("checkout-flow", models.StateDegraded, "r", base.Add(time.Duration(i)*time.Second)))
	}

	got := log.List(models.ListHistoryRequest{Limit: 4})
	if len(got) != 4 {
		t.Fatalf("expected 4 transitions, got %d", len(got))
	}
	if !got[0].Timestamp.Equal(base.Add(9 * time.Second)) {
		t.Fatalf("expected newest transition first, got %v", got[0].Timestamp)
	}
}

func TestRecurrencesAggregateByGroupEdgeAndReason(t *testing.T) {
	log := NewLog(100)
	base := time.Unix(1700000000, 0).UTC()
	for i := 0; i < 3; i++ {
		log.Append(transitionAt("checkout-flow", models.StateDegraded, "composite below warning threshold 0.85",
			base.Add(time.Duration(i)*time.Hour)))
	}
	log.Append(transitionAt("checkout-flow", models.StateFailing, "cascade risk above 0.90", base.Add(30*time.Minute)))

	summaries := log.Recurrences()
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	top := summaries[0]
	if top.Count != 3 {
		t.Fatalf("expected dominant recurrence count 3, got %d", top.Count)
	}
	if top.To != models.StateDegraded {
		t.Fatalf("expected degraded recurrence first, got %s", top.To)
	}
	if top.Prevalence != 0.75 {
		t.Fatalf("expected prevalence 0.75, got %f", top.Prevalence)
	}
	if !top.LastSeen.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("expected last seen at hour 2, got %v", top.LastSeen)
	}
}

func TestRecurrencesEmptyLog(t *testing.T) {
	log := NewLog(10)
	if got := log.Recurrences(); got != nil {
		t.Fatalf("expected nil summaries for empty log, got %v", got)
	}
}
