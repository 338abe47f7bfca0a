package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/selectedu/select/internal/adapters/http/token"
	"github.com/selectedu/select/internal/adapters/mq/queue"
	"github.com/selectedu/select/internal/domain/model"
	"github.com/selectedu/select/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func newTestHub(t *testing.T) (*Hub, <-chan queue.Activity, *token.Manager, *httptest.Server) {
	t.Helper()
	tokens, err := token.NewManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	q := queue.NewInMemoryQueue(queue.WithCapacity(64))
	h := NewHub(q, tokens)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return h, q.Dequeue(context.Background()), tokens, srv
}

func dial(t *testing.T, srv *httptest.Server, signed string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + signed
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteJSON(envelope{Event: event, Data: raw}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func nextActivity(t *testing.T, events <-chan queue.Activity) model.Activity {
	t.Helper()
	select {
	case a := <-events:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for activity")
		return model.Activity{}
	}
}

func TestRejectsMissingToken(t *testing.T) {
	_, _, _, srv := newTestHub(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %+v", resp)
	}
}

func TestJoinUserEnqueuesActivity(t *testing.T) {
	_, events, tokens, srv := newTestHub(t)

	signed, _ := tokens.Issue("u1", model.RoleUser)
	conn := dial(t, srv, signed)

	sendEvent(t, conn, "join-user", map[string]any{"userId": "u1"})

	a := nextActivity(t, events)
	if a.Kind != model.KindJoinUser || a.UserID != "u1" {
		t.Errorf("activity = %+v", a)
	}
	if a.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not stamped")
	}
}

func TestUserCannotSpoofAnotherUser(t *testing.T) {
	_, events, tokens, srv := newTestHub(t)

	signed, _ := tokens.Issue("u1", model.RoleUser)
	conn := dial(t, srv, signed)

	sendEvent(t, conn, "heartbeat", map[string]any{"userId": "someone-else"})

	a := nextActivity(t, events)
	if a.UserID != "u1" {
		t.Errorf("activity attributed to %q, want u1", a.UserID)
	}
}

func TestAdminRoomBroadcast(t *testing.T) {
	h, _, tokens, srv := newTestHub(t)

	signed, _ := tokens.Issue("admin-1", model.RoleAdmin)
	conn := dial(t, srv, signed)
	sendEvent(t, conn, "join-admin", nil)

	deadline := time.Now().Add(2 * time.Second)
	for h.AdminCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("admin never joined")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.BroadcastToAdmins(model.EventUserStatusUpdate, model.StatusUpdate{
		UserID: "u1", Status: "online", IsOnline: true, Timestamp: time.Now(),
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if env.Event != model.EventUserStatusUpdate {
		t.Errorf("event = %q", env.Event)
	}
	var payload model.StatusUpdate
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.UserID != "u1" || payload.Status != "online" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestNonAdminCannotJoinAdminRoom(t *testing.T) {
	h, _, tokens, srv := newTestHub(t)

	signed, _ := tokens.Issue("u1", model.RoleUser)
	conn := dial(t, srv, signed)
	sendEvent(t, conn, "join-admin", nil)

	// The join is ignored; give the server a moment to process it.
	time.Sleep(100 * time.Millisecond)
	if n := h.AdminCount(); n != 0 {
		t.Errorf("admin count = %d, want 0", n)
	}
}

func TestDisconnectSynthesizedForUserRoom(t *testing.T) {
	_, events, tokens, srv := newTestHub(t)

	signed, _ := tokens.Issue("u1", model.RoleUser)
	conn := dial(t, srv, signed)
	sendEvent(t, conn, "join-user", map[string]any{"userId": "u1"})

	if a := nextActivity(t, events); a.Kind != model.KindJoinUser {
		t.Fatalf("first activity = %+v", a)
	}

	_ = conn.Close()

	a := nextActivity(t, events)
	if a.Kind != model.KindDisconnect || a.UserID != "u1" {
		t.Errorf("activity = %+v", a)
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	_, events, tokens, srv := newTestHub(t)

	signed, _ := tokens.Issue("u1", model.RoleUser)
	conn := dial(t, srv, signed)

	sendEvent(t, conn, "mystery-event", nil)
	sendEvent(t, conn, "heartbeat", nil)

	// Only the heartbeat should surface.
	a := nextActivity(t, events)
	if a.Kind != model.KindHeartbeat {
		t.Errorf("activity = %+v", a)
	}
}
