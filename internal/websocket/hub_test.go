package websocket

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startHub(t *testing.T, state func() InitialState, origins []string) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(state, origins)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return msg
}

func TestWelcomeThenInitialState(t *testing.T) {
	state := func() InitialState {
		return InitialState{
			Alerts: []map[string]any{{"id": 1, "priority": "HIGH"}},
			Planes: []map[string]any{{"hex": "a1b2c3"}},
		}
	}
	_, srv := startHub(t, state, nil)
	conn := dial(t, srv, nil)

	if msg := readMessage(t, conn); msg.Type != TypeWelcome {
		t.Fatalf("first message type = %q, want %q", msg.Type, TypeWelcome)
	}

	msg := readMessage(t, conn)
	if msg.Type != TypeInitialState {
		t.Fatalf("second message type = %q, want %q", msg.Type, TypeInitialState)
	}
	data, _ := json.Marshal(msg.Data)
	if !strings.Contains(string(data), `"tasks"`) || !strings.Contains(string(data), "a1b2c3") {
		t.Fatalf("initial state missing content: %s", data)
	}
}

func TestBroadcastReachesClients(t *testing.T) {
	hub, srv := startHub(t, func() InitialState { return InitialState{} }, nil)
	conn := dial(t, srv, nil)
	readMessage(t, conn)
	readMessage(t, conn)

	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	hub.BroadcastPlanes([]string{"a1b2c3"})
	if msg := readMessage(t, conn); msg.Type != TypePlanes {
		t.Fatalf("type = %q, want %q", msg.Type, TypePlanes)
	}

	hub.BroadcastAlerts([]int{1, 2})
	if msg := readMessage(t, conn); msg.Type != TypeAlerts {
		t.Fatalf("type = %q, want %q", msg.Type, TypeAlerts)
	}
}

func TestPingGetsPong(t *testing.T) {
	_, srv := startHub(t, func() InitialState { return InitialState{} }, nil)
	conn := dial(t, srv, nil)
	readMessage(t, conn)
	readMessage(t, conn)

	if err := conn.WriteJSON(Message{Type: TypePing}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != TypePong {
		t.Fatalf("type = %q, want %q", msg.Type, TypePong)
	}
}

func TestOriginCheck(t *testing.T) {
	_, srv := startHub(t, nil, []string{"https://ops.example.org"})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	if err == nil {
		t.Fatal("expected foreign origin to be rejected")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	conn := dial(t, srv, http.Header{"Origin": {"https://ops.example.org"}})
	if msg := readMessage(t, conn); msg.Type != TypeWelcome {
		t.Fatalf("type = %q, want %q", msg.Type, TypeWelcome)
	}
}

func TestSanitizeValue(t *testing.T) {
	got := sanitizeValue(map[string]interface{}{
		"ok":  1.5,
		"nan": math.NaN(),
		"inf": []interface{}{math.Inf(1), 2.0},
	}).(map[string]interface{})

	if got["ok"] != 1.5 {
		t.Fatalf("ok = %v", got["ok"])
	}
	if got["nan"] != nil {
		t.Fatalf("nan = %v, want nil", got["nan"])
	}
	list := got["inf"].([]interface{})
	if list[0] != nil || list[1] != 2.0 {
		t.Fatalf("inf = %v", list)
	}
}
