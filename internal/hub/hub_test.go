// v2
// internal/hub/hub_test.go

package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"moldsense/internal/monitor"
)

func dialTestHub(t *testing.T, h *Hub) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleConnection))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func waitForCount(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Count() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("subscriber count = %d, want %d", h.Count(), want)
}

func TestBroadcastDeliversEnvelope(t *testing.T) {
	h := New(nil)
	conn, cleanup := dialTestHub(t, h)
	defer cleanup()
	waitForCount(t, h, 1)

	update := monitor.LiveUpdate{
		Type:     monitor.UpdateTypeReading,
		SourceID: "greenhouse-1",
		Data:     map[string]any{"temperature": 21.5},
	}
	if got := h.Broadcast(context.Background(), update); got != 1 {
		t.Fatalf("Broadcast returned %d, want 1", got)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg struct {
		Type      string         `json:"type"`
		SourceID  string         `json:"sourceId"`
		ID        string         `json:"id"`
		Timestamp int64          `json:"timestamp"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != monitor.UpdateTypeReading {
		t.Fatalf("type = %q, want %q", msg.Type, monitor.UpdateTypeReading)
	}
	if msg.SourceID != "greenhouse-1" {
		t.Fatalf("sourceId = %q, want greenhouse-1", msg.SourceID)
	}
	if msg.ID == "" || msg.Timestamp == 0 {
		t.Fatalf("envelope missing id/timestamp: %s", raw)
	}
	if msg.Data["temperature"] != 21.5 {
		t.Fatalf("payload temperature = %v, want 21.5", msg.Data["temperature"])
	}
}

func TestBroadcastWithoutSubscribers(t *testing.T) {
	h := New(nil)
	got := h.Broadcast(context.Background(), monitor.LiveUpdate{Type: monitor.UpdateTypeReading})
	if got != 0 {
		t.Fatalf("Broadcast returned %d, want 0", got)
	}
}

func TestDisconnectRemovesSubscriber(t *testing.T) {
	h := New(nil)
	conn, cleanup := dialTestHub(t, h)
	defer cleanup()
	waitForCount(t, h, 1)

	conn.Close()
	waitForCount(t, h, 0)
}

func TestBroadcastCountsEachSubscriberOnce(t *testing.T) {
	h := New(nil)
	c1, cleanup1 := dialTestHub(t, h)
	defer cleanup1()
	c2, cleanup2 := dialTestHub(t, h)
	defer cleanup2()
	waitForCount(t, h, 2)

	if got := h.Broadcast(context.Background(), monitor.LiveUpdate{Type: monitor.UpdateTypeReading, SourceID: "s"}); got != 2 {
		t.Fatalf("Broadcast returned %d, want 2", got)
	}
	for _, conn := range []*websocket.Conn{c1, c2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatalf("subscriber missed broadcast: %v", err)
		}
	}
}
