package websocket

// Slow or stalled clients must never panic the hub or wedge fresh state
// behind stale frames: enqueue has to survive a client torn down mid-send
// and shed the oldest queued frame when a send buffer fills.

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
)

func TestHubEnqueueAfterClientClosureDoesNotPanic(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	client := &client{
		id:     "test-client",
		send:   make(chan []byte, 1),
		closed: make(chan struct{}),
		hub:    hub,
	}

	// Simulate the client being torn down before the hub finishes
	// broadcasting.
	close(client.closed)
	close(client.send)

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("enqueue panicked: %v", r)
		}
	}()

	hub.enqueue(client, []byte("payload"))
}

func TestHubEnqueueDropsOldestMessageWhenFull(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	client := &client{
		id:     "ring-client",
		send:   make(chan []byte, 2),
		closed: make(chan struct{}),
		hub:    hub,
	}

	client.send <- []byte("older")
	client.send <- []byte("newer")

	hub.enqueue(client, []byte("latest"))

	first := <-client.send
	if string(first) != "newer" {
		t.Fatalf("expected 'newer' to remain, got %q", string(first))
	}

	second := <-client.send
	if string(second) != "latest" {
		t.Fatalf("expected 'latest' to be enqueued, got %q", string(second))
	}
}

func TestHubDeliversSnapshotThenBroadcasts(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	hub.BroadcastSnapshot([]byte(`{"type":"state.snapshot","seq":1}`))

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := gws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, first, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read cached snapshot: %v", err)
	}
	if !strings.Contains(string(first), `"seq":1`) {
		t.Fatalf("first frame = %q, want cached snapshot", first)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered with hub")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.BroadcastSnapshot([]byte(`{"type":"state.snapshot","seq":2}`))
	_, second, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if !strings.Contains(string(second), `"seq":2`) {
		t.Fatalf("second frame = %q, want broadcast snapshot", second)
	}

	if err := conn.WriteMessage(gws.TextMessage, []byte(`{"type":"command"}`)); err != nil {
		t.Fatalf("write client message: %v", err)
	}
	select {
	case msg := <-hub.Incoming():
		if msg.ClientID == "" {
			t.Fatal("inbound message missing client id")
		}
		if !strings.Contains(string(msg.Payload), "command") {
			t.Fatalf("inbound payload = %q", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inbound message never reached the hub")
	}
}
