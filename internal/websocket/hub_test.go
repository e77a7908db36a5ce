package websocket

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"fundarb/internal/events"
)

func TestNewHub(t *testing.T) {
	hub := NewHub(nil, nil)

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.DroppedMessages() != 0 {
		t.Errorf("expected 0 dropped messages, got %d", hub.DroppedMessages())
	}
}

func TestOriginChecker(t *testing.T) {
	checker := newOriginChecker([]string{"http://localhost:3000", "https://example.com"})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true}, // не-браузерные клиенты проходят
		{"http://localhost:3000", true},
		{"https://example.com", true},
		{"http://evil.example", false},
		{"http://localhost:8080", false},
	}

	for _, tt := range tests {
		if got := checker.check(tt.origin); got != tt.want {
			t.Errorf("check(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestOriginCheckerAllowAll(t *testing.T) {
	for _, origins := range [][]string{nil, {"*"}} {
		checker := newOriginChecker(origins)
		if !checker.check("http://anything.example") {
			t.Errorf("origins %v: expected allow-all", origins)
		}
	}
}

func TestHubClientReceivesBroadcast(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	client := &Client{hub: hub, send: make(chan []byte, clientSendBufferSize)}
	hub.register <- client

	hub.Broadcast(map[string]string{"type": "test"})

	select {
	case msg := <-client.send:
		if !strings.Contains(string(msg), `"type":"test"`) {
			t.Errorf("unexpected message: %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("client did not receive broadcast")
	}
}

func TestHubEvictsSlowClient(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	slow := &Client{hub: hub, send: make(chan []byte)} // небуферизованный - всегда полный
	hub.register <- slow

	hub.BroadcastRaw([]byte(`{"type":"test"}`))

	deadline := time.After(time.Second)
	for hub.ClientCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("slow client was not evicted")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// Канал клиента закрыт hub'ом
	select {
	case _, ok := <-slow.send:
		if ok {
			t.Error("expected closed send channel")
		}
	case <-time.After(time.Second):
		t.Error("send channel not closed")
	}
}

func TestHubBroadcastNonBlocking(t *testing.T) {
	hub := NewHub(nil, nil)
	// Run не запущен - канал переполнится и сообщения будут отброшены

	for i := 0; i < 1000; i++ {
		hub.BroadcastRaw([]byte("x"))
	}

	if hub.DroppedMessages() == 0 {
		t.Error("expected dropped messages with full channel")
	}
}

func TestHubStop(t *testing.T) {
	hub := NewHub(nil, nil)

	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	hub.Stop()
	hub.Stop() // повторный вызов безопасен

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Run did not exit after Stop")
	}
}

func TestBridgeForwardsBusEvents(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	bus := events.NewBus(nil)
	subs := hub.Bridge(bus)
	if len(subs) != len(events.AllTypes()) {
		t.Fatalf("got %d subscriptions, want %d", len(subs), len(events.AllTypes()))
	}

	client := &Client{hub: hub, send: make(chan []byte, clientSendBufferSize)}
	hub.register <- client

	bus.Publish(context.Background(), events.NewSingleLegDetected("exec-1", "ETH", "bybit", "short", 15000, "reconcile"))

	select {
	case msg := <-client.send:
		body := string(msg)
		if !strings.Contains(body, `"type":"event"`) || !strings.Contains(body, "single_leg.detected") {
			t.Errorf("unexpected message: %s", body)
		}
	case <-time.After(time.Second):
		t.Fatal("bridged event not delivered")
	}
}

func TestHubConcurrentOperations(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	var wg sync.WaitGroup
	const goroutines = 10
	const operations = 500

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				hub.Broadcast(map[string]int{"goroutine": id, "op": j})
			}
		}(i)
	}

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				_ = hub.ClientCount()
			}
		}()
	}

	wg.Wait()
}
