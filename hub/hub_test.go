package hub

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

func startTestHub(t *testing.T) *Hub {
	t.Helper()
	h := New(func() any { return map[string]int{"questions": 7} }, log.New(io.Discard))
	if err := h.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.Shutdown(ctx)
	})
	return h
}

func dialTestHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+h.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func waitForClientCount(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", h.ClientCount(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConnectReceivesStatus(t *testing.T) {
	h := startTestHub(t)
	conn := dialTestHub(t, h)

	msg := readMessage(t, conn)
	if msg["type"] != "status" || msg["status"] != "connected" {
		t.Errorf("initial message = %v, want connected status", msg)
	}
	if msg["paused"] != false {
		t.Errorf("paused = %v, want false", msg["paused"])
	}
	if _, ok := msg["timestamp"].(float64); !ok {
		t.Errorf("missing timestamp in %v", msg)
	}
}

func TestPingPong(t *testing.T) {
	h := startTestHub(t)
	conn := dialTestHub(t, h)
	readMessage(t, conn) // initial status

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	msg := readMessage(t, conn)
	if msg["type"] != "pong" {
		t.Errorf("reply = %v, want pong", msg)
	}
}

func TestUnknownMessageIsIgnored(t *testing.T) {
	h := startTestHub(t)
	conn := dialTestHub(t, h)
	readMessage(t, conn)

	if err := conn.WriteJSON(map[string]string{"type": "selfdestruct"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The connection stays up: ping still answered.
	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if msg := readMessage(t, conn); msg["type"] != "pong" {
		t.Errorf("reply = %v, want pong", msg)
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	h := startTestHub(t)
	first := dialTestHub(t, h)
	second := dialTestHub(t, h)
	readMessage(t, first)
	readMessage(t, second)
	waitForClientCount(t, h, 2)

	h.Broadcast("• TCP is a transport protocol")

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readMessage(t, conn)
		if msg["type"] != "advisor_keywords" {
			t.Fatalf("message = %v, want advisor_keywords", msg)
		}
		if msg["text"] != "• TCP is a transport protocol" {
			t.Errorf("text = %v", msg["text"])
		}
	}
}

func TestBroadcastWithNoClientsIsSilent(t *testing.T) {
	h := startTestHub(t)

	done := make(chan struct{})
	go func() {
		h.Broadcast("nobody is listening")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked with zero clients")
	}
}

func TestPauseSuppressesBroadcast(t *testing.T) {
	h := startTestHub(t)
	conn := dialTestHub(t, h)
	readMessage(t, conn)
	waitForClientCount(t, h, 1)

	if err := conn.WriteJSON(map[string]string{"type": "pause"}); err != nil {
		t.Fatalf("write pause: %v", err)
	}

	// Pause is acknowledged with a status broadcast.
	msg := readMessage(t, conn)
	if msg["type"] != "status" || msg["paused"] != true {
		t.Fatalf("message = %v, want paused status", msg)
	}

	h.Broadcast("should not arrive")

	if err := conn.WriteJSON(map[string]string{"type": "resume"}); err != nil {
		t.Fatalf("write resume: %v", err)
	}
	msg = readMessage(t, conn)
	if msg["type"] != "status" || msg["paused"] != false {
		t.Fatalf("message = %v, want resumed status", msg)
	}

	// Nothing was queued while paused; the next frame is a fresh
	// broadcast.
	h.Broadcast("after resume")
	msg = readMessage(t, conn)
	if msg["type"] != "advisor_keywords" || msg["text"] != "after resume" {
		t.Errorf("message = %v, want the post-resume broadcast", msg)
	}
}

func TestFailedClientIsRemovedDuringBroadcast(t *testing.T) {
	h := startTestHub(t)
	conn := dialTestHub(t, h)
	readMessage(t, conn)
	waitForClientCount(t, h, 1)

	conn.Close()

	// The dead connection is detected either by its read loop or by a
	// failing broadcast send; both paths end in removal.
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != 0 {
		h.Broadcast("probe")
		if time.Now().After(deadline) {
			t.Fatal("closed client never removed from active set")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStatsEndpoint(t *testing.T) {
	h := startTestHub(t)

	resp, err := http.Get("http://" + h.Addr() + "/stats")
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["questions"] != 7 {
		t.Errorf("stats body = %v", body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := startTestHub(t)

	resp, err := http.Get("http://" + h.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
