package arena_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codearena/internal/arena"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func newHubServer(t *testing.T) (*arena.Hub, *arena.Matchmaker, string) {
	t.Helper()
	m := newMatchmaker(t, staticPicker{id: 42})
	hub := arena.NewHub(m, arena.HubConfig{PingInterval: time.Hour})
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", hub.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		srv.Close()
	})
	return hub, m, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func read(t *testing.T, ws *websocket.Conn) arena.OutboundMessage {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg arena.OutboundMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

func send(t *testing.T, ws *websocket.Conn, msg arena.InboundMessage) {
	t.Helper()
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestHubMatchAndSubmission(t *testing.T) {
	_, _, url := newHubServer(t)
	a := dial(t, url)
	b := dial(t, url)

	send(t, a, arena.InboundMessage{Type: arena.TypeJoin, UserID: "7"})
	if got := read(t, a); got.Type != arena.TypeWaiting {
		t.Fatalf("expected waiting, got %+v", got)
	}
	send(t, b, arena.InboundMessage{Type: arena.TypeJoin, UserID: "8"})
	startA := read(t, a)
	startB := read(t, b)
	if startA.Type != arena.TypeStart || startA.RoomID == "" || startA.RoomID != startB.RoomID {
		t.Fatalf("unexpected start frames %+v %+v", startA, startB)
	}

	send(t, a, arena.InboundMessage{Type: arena.TypeSubmission, RoomID: startA.RoomID})
	if got := read(t, b); got.Type != arena.TypeSubmission || got.From != "7" {
		t.Fatalf("unexpected relay %+v", got)
	}

	_ = a.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if got := read(t, b); got.Type != arena.TypeOpponentDisconnected {
		t.Fatalf("expected disconnect notice, got %+v", got)
	}
}

func TestHubRejectsBadFrames(t *testing.T) {
	_, _, url := newHubServer(t)
	ws := dial(t, url)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if got := read(t, ws); got.Type != arena.TypeError || got.Message != "invalid JSON frame" {
		t.Fatalf("unexpected frame %+v", got)
	}

	send(t, ws, arena.InboundMessage{Type: arena.TypeSubmission, RoomID: "r"})
	if got := read(t, ws); got.Type != arena.TypeError {
		t.Fatalf("expected error before join, got %+v", got)
	}

	send(t, ws, arena.InboundMessage{Type: arena.TypeJoin})
	if got := read(t, ws); got.Message != "Missing field: userId" {
		t.Fatalf("unexpected frame %+v", got)
	}
}

func TestHubDuplicateConnection(t *testing.T) {
	hub, m, url := newHubServer(t)
	first := dial(t, url)
	second := dial(t, url)

	send(t, first, arena.InboundMessage{Type: arena.TypeJoin, UserID: "7"})
	_ = read(t, first)

	send(t, second, arena.InboundMessage{Type: arena.TypeJoin, UserID: "7"})
	if got := read(t, first); got.Type != arena.TypeError {
		t.Fatalf("expected duplicate notice on first connection, got %+v", got)
	}
	if got := read(t, second); got.Type != arena.TypeWaiting {
		t.Fatalf("expected second connection to queue, got %+v", got)
	}

	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatalf("expected first connection to be closed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Queue().Len() == 1 && hub.Connections() == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected one queued player and one connection, got %d/%d", m.Queue().Len(), hub.Connections())
}
