package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meridianops/meridian-failover/internal/models"
)

type groupListStub struct {
	statuses []models.GroupStatus
}

func (g *groupListStub) ListGroups() ([]models.GroupStatus, error) {
	return g.statuses, nil
}

// startHub starts a test HTTP server with the hub as its handler and runs
// the hub loop on a cancellable context.
func startHub(t *testing.T) (wsURL string, hub *Hub, cancel context.CancelFunc) {
	t.Helper()

	lister := &groupListStub{statuses: []models.GroupStatus{
		{Group: "checkout-flow", State: models.StateStable, ActiveRegion: "eu-west-1"},
	}}
	hub = NewHub(lister, nil)
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

func dialStream(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) StreamEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var event StreamEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		t.Fatalf("unmarshal frame: %v (frame: %s)", err, msg)
	}
	return event
}

func TestStreamSendsGroupsOnConnect(t *testing.T) {
	wsURL, _, _ := startHub(t)

	conn := dialStream(t, wsURL)
	event := readEvent(t, conn)

	if event.Type != "groups" {
		t.Fatalf("type: got %q, want groups", event.Type)
	}
	groups, ok := event.Payload.([]any)
	if !ok {
		t.Fatalf("payload: %T", event.Payload)
	}
	if len(groups) != 1 {
		t.Fatalf("groups: got %d, want 1", len(groups))
	}
	group := groups[0].(map[string]any)
	if group["group"] != "checkout-flow" || group["state"] != "stable" {
		t.Fatalf("group payload: %v", group)
	}
}

func TestStreamDeliversTransitions(t *testing.T) {
	wsURL, hub, _ := startHub(t)

	conn := dialStream(t, wsURL)
	readEvent(t, conn) // consume the initial groups frame

	hub.TransitionOccurred(models.StateTransition{
		ID: "t-1", Group: "checkout-flow",
		From: models.StateStable, To: models.StateDegraded,
		Timestamp: time.Now(), Reason: "composite 0.62 below threshold 0.70",
	})

	event := readEvent(t, conn)
	if event.Type != "transition" {
		t.Fatalf("type: got %q, want transition", event.Type)
	}
	payload := event.Payload.(map[string]any)
	if payload["id"] != "t-1" || payload["to"] != "degraded" {
		t.Fatalf("transition payload: %v", payload)
	}
}

func TestStreamDeliversDecisions(t *testing.T) {
	wsURL, hub, _ := startHub(t)

	conn := dialStream(t, wsURL)
	readEvent(t, conn)

	hub.DecisionIssued(models.FailoverDecision{
		ID: "d-1", Group: "checkout-flow",
		From: "eu-west-1", To: "us-east-1",
		Timestamp: time.Now(),
	})

	event := readEvent(t, conn)
	if event.Type != "decision" {
		t.Fatalf("type: got %q, want decision", event.Type)
	}
	payload := event.Payload.(map[string]any)
	if payload["id"] != "d-1" || payload["to"] != "us-east-1" {
		t.Fatalf("decision payload: %v", payload)
	}
}

func TestStreamFansOutToAllClients(t *testing.T) {
	wsURL, hub, _ := startHub(t)

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dialStream(t, wsURL)
		readEvent(t, conns[i])
	}

	hub.DecisionIssued(models.FailoverDecision{ID: "d-2", Group: "checkout-flow", Timestamp: time.Now()})

	for i, conn := range conns {
		event := readEvent(t, conn)
		if event.Type != "decision" {
			t.Fatalf("client %d: type: got %q, want decision", i, event.Type)
		}
	}
}

func TestStreamCountTracksClients(t *testing.T) {
	wsURL, hub, _ := startHub(t)

	conn := dialStream(t, wsURL)
	readEvent(t, conn)
	time.Sleep(10 * time.Millisecond)

	if n := hub.Count(); n != 1 {
		t.Fatalf("Count: got %d, want 1", n)
	}

	conn.Close()
	time.Sleep(50 * time.Millisecond) // let readPump detect the close

	if n := hub.Count(); n != 0 {
		t.Fatalf("Count after disconnect: got %d, want 0", n)
	}
}

func TestStreamShutdownClosesClients(t *testing.T) {
	wsURL, hub, cancel := startHub(t)

	conn := dialStream(t, wsURL)
	readEvent(t, conn)
	time.Sleep(10 * time.Millisecond)

	cancel()
	time.Sleep(50 * time.Millisecond)

	if n := hub.Count(); n != 0 {
		t.Fatalf("Count after shutdown: got %d, want 0", n)
	}
}

func TestStreamRejectsPlainHTTP(t *testing.T) {
	wsURL, _, _ := startHub(t)

	resp, err := http.Get("http" + strings.TrimPrefix(wsURL, "ws"))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", resp.StatusCode)
	}
}
