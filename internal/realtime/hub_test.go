package realtime

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bookflow/internal/logging"
	"bookflow/internal/saga"
)

func TestHub_BroadcastsAuditEvents(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewHub(logging.Nop())
	go hub.Run(ctx)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("listener not permitted in this environment: %v", err)
	}

	srv := httptest.NewUnstartedServer(hub)
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)

	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
	})

	deadline := time.Now().Add(time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for registration")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.PublishAudit(saga.AuditRecord{
		CorrelationID: "corr-1",
		StepName:      "payment",
		State:         saga.AuditStateSuccess,
		Detail:        "pi_1",
		Timestamp:     time.Unix(1760000000, 0).UTC(),
	})

	readCh := make(chan []byte, 1)
	go func() {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("read message: %v", err)
			return
		}
		readCh <- data
	}()

	select {
	case got := <-readCh:
		var event AuditEvent
		if err := json.Unmarshal(got, &event); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if event.CorrelationID != "corr-1" || event.Step != "payment" || event.State != "success" {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for broadcast")
	}
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	hub := NewHub(logging.Nop())
	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBuffer+10; i++ {
			hub.PublishAudit(saga.AuditRecord{CorrelationID: "c", StepName: "s"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked without a running hub")
	}
	if len(hub.Broadcast) != broadcastBuffer {
		t.Fatalf("expected full buffer, got %d", len(hub.Broadcast))
	}
}

func TestHub_StalledSubscriberDoesNotDelayOthers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewHub(logging.Nop())
	go hub.Run(ctx)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("listener not permitted in this environment: %v", err)
	}
	srv := httptest.NewUnstartedServer(hub)
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)
	wsURL := "ws" + srv.URL[len("http"):]

	// stalled never reads, so its socket buffers fill and writes block.
	stalled, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial stalled: %v", err)
	}
	t.Cleanup(func() { stalled.Close() })
	reader, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial reader: %v", err)
	}
	t.Cleanup(func() { reader.Close() })

	deadline := time.Now().Add(time.Second)
	for hub.Clients() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for registration")
		}
		time.Sleep(5 * time.Millisecond)
	}

	const events = 16
	detail := strings.Repeat("x", 1<<20)
	for i := 0; i < events; i++ {
		hub.PublishAudit(saga.AuditRecord{
			CorrelationID: "corr-slow",
			StepName:      "payment",
			State:         saga.AuditStateSuccess,
			Detail:        detail,
			Timestamp:     time.Unix(1760000000+int64(i), 0).UTC(),
		})
	}

	received := make(chan int, 1)
	go func() {
		n := 0
		for n < events {
			if _, _, err := reader.ReadMessage(); err != nil {
				break
			}
			n++
		}
		received <- n
	}()

	select {
	case n := <-received:
		if n != events {
			t.Fatalf("expected %d events, got %d", events, n)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("reader starved by stalled subscriber")
	}
}
