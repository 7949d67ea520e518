package coordinator

import (
	"encoding/json"
	"testing"
	"time"

	"realtimeedit/go-server/metrics"
	"realtimeedit/go-server/session"
)

// newTestConnection builds a Connection with no underlying socket, for
// exercising Hub logic that only touches the send channel, not the
// network. Never call readPump/writePump/ServeWs on it.
func newTestConnection(hub *Hub, sessionID, userID string) *Connection {
	return newConnection(hub, nil, sessionID, userID)
}

func TestHubConnectSendsSessionJoined(t *testing.T) {
	hub := NewHub(session.NewMemoryStore(), metrics.New(), nil)
	c := newTestConnection(hub, "sess-1", "alice")

	hub.connect(c)

	select {
	case msg := <-c.send:
		var envelope map[string]interface{}
		if err := json.Unmarshal(msg, &envelope); err != nil {
			t.Fatal(err)
		}
		if envelope["type"] != "session_joined" {
			t.Fatalf("expected session_joined, got %v", envelope["type"])
		}
	default:
		t.Fatal("expected a session_joined message on connect")
	}
}

func TestHubTextChangeBroadcastsToOtherPeers(t *testing.T) {
	hub := NewHub(session.NewMemoryStore(), metrics.New(), nil)
	alice := newTestConnection(hub, "sess-1", "alice")
	bob := newTestConnection(hub, "sess-1", "bob")

	hub.connect(alice)
	hub.connect(bob)

	// Drain each connection's session_joined / user_joined backlog.
	drain(alice.send)
	drain(bob.send)

	payload, _ := json.Marshal(map[string]interface{}{
		"type":            "text_change",
		"content":         "hello",
		"cursor_position": 5,
	})
	hub.handle(alice, payload)

	select {
	case msg := <-bob.send:
		var envelope map[string]interface{}
		if err := json.Unmarshal(msg, &envelope); err != nil {
			t.Fatal(err)
		}
		if envelope["type"] != "text_change" || envelope["content"] != "hello" {
			t.Fatalf("unexpected broadcast payload: %v", envelope)
		}
	default:
		t.Fatal("expected bob to receive the broadcast text_change")
	}

	select {
	case msg := <-alice.send:
		t.Fatalf("sender should not receive its own broadcast, got %s", msg)
	default:
	}
}

func TestHubRateLimitsExcessiveRequests(t *testing.T) {
	hub := NewHub(session.NewMemoryStore(), metrics.New(), nil)
	c := newTestConnection(hub, "sess-1", "alice")
	hub.connect(c)
	drain(c.send)

	ping, _ := json.Marshal(map[string]string{"type": "ping"})
	for i := 0; i < rateLimitBudget; i++ {
		hub.handle(c, ping)
		<-c.send
	}

	hub.handle(c, ping)
	select {
	case msg := <-c.send:
		var envelope map[string]interface{}
		json.Unmarshal(msg, &envelope)
		if envelope["type"] != "error" {
			t.Fatalf("expected a rate-limit error, got %v", envelope["type"])
		}
	default:
		t.Fatal("expected a rate-limit error response")
	}
}

// fillSend saturates c's send buffer so the next queued message hits the
// select's default branch, simulating a slow/dead peer.
func fillSend(c *Connection) {
	for {
		select {
		case c.send <- []byte("x"):
		default:
			return
		}
	}
}

func TestBroadcastExceptDisconnectsFullPeerWithoutBlocking(t *testing.T) {
	hub := NewHub(session.NewMemoryStore(), metrics.New(), nil)
	alice := newTestConnection(hub, "sess-1", "alice")
	bob := newTestConnection(hub, "sess-1", "bob")

	hub.connect(alice)
	hub.connect(bob)
	drain(alice.send)
	drain(bob.send)
	fillSend(bob)

	done := make(chan struct{})
	go func() {
		hub.broadcastExcept("sess-1", alice, map[string]string{"type": "text_change"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcastExcept blocked instead of disconnecting the full peer")
	}

	if _, ok := hub.sessions["sess-1"].connections[bob]; ok {
		t.Fatal("expected the full peer to be removed from the session")
	}

	// The hub's own goroutine must still be free to process further events.
	hub.connect(newTestConnection(hub, "sess-1", "carol"))
}

func TestHealthCheckDisconnectsFullPeerWithoutBlocking(t *testing.T) {
	hub := NewHub(session.NewMemoryStore(), metrics.New(), nil)
	c := newTestConnection(hub, "sess-1", "alice")
	hub.connect(c)
	drain(c.send)
	fillSend(c)
	c.lastActivity = time.Now().Add(-time.Minute)

	done := make(chan struct{})
	go func() {
		hub.healthCheck()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("healthCheck blocked instead of disconnecting the full peer")
	}

	if _, ok := hub.sessions["sess-1"].connections[c]; ok {
		t.Fatal("expected the stale, full-buffered peer to be removed from the session")
	}
}

func drain(ch chan []byte) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
