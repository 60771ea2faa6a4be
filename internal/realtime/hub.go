// Package realtime streams audit trail writes to websocket subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bookflow/internal/saga"
)

const (
	broadcastBuffer  = 256
	subscriberBuffer = 64
	writeTimeout     = 5 * time.Second
)

// AuditEvent is the wire shape of one audit write.
type AuditEvent struct {
	CorrelationID string    `json:"correlationId"`
	Step          string    `json:"step"`
	State         string    `json:"state"`
	Detail        string    `json:"detail,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// subscriber owns one connection. Only its write loop writes to conn.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub manages WebSocket clients and broadcasts audit events to them.
type Hub struct {
	connections map[*websocket.Conn]*subscriber
	Register    chan *websocket.Conn
	Unregister  chan *websocket.Conn
	Broadcast   chan []byte
	mu          sync.Mutex
	upgrader    websocket.Upgrader
	logger      *slog.Logger
	done        chan struct{}
	stopOnce    sync.Once
}

// NewHub constructs a Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		connections: make(map[*websocket.Conn]*subscriber),
		Register:    make(chan *websocket.Conn),
		Unregister:  make(chan *websocket.Conn),
		Broadcast:   make(chan []byte, broadcastBuffer),
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// Run processes register/unregister/broadcast events until ctx is done.
// Broadcasts only enqueue onto each subscriber's buffer; a subscriber whose
// buffer is full is disconnected.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.stopOnce.Do(func() { close(h.done) })
			h.mu.Lock()
			for conn := range h.connections {
				h.drop(conn)
			}
			h.mu.Unlock()
			return
		case conn := <-h.Register:
			sub := &subscriber{conn: conn, send: make(chan []byte, subscriberBuffer)}
			h.mu.Lock()
			h.connections[conn] = sub
			h.mu.Unlock()
			go h.writeLoop(sub)
		case conn := <-h.Unregister:
			h.mu.Lock()
			h.drop(conn)
			h.mu.Unlock()
		case msg := <-h.Broadcast:
			h.mu.Lock()
			for conn, sub := range h.connections {
				select {
				case sub.send <- msg:
				default:
					h.logger.Warn("audit feed subscriber too slow, disconnecting", "remote", conn.RemoteAddr().String())
					h.drop(conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes conn and stops its write loop. h.mu must be held.
func (h *Hub) drop(conn *websocket.Conn) {
	sub, ok := h.connections[conn]
	if !ok {
		return
	}
	delete(h.connections, conn)
	close(sub.send)
}

func (h *Hub) writeLoop(sub *subscriber) {
	defer sub.conn.Close()
	for msg := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			select {
			case h.Unregister <- sub.conn:
			case <-h.done:
			}
			return
		}
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// PublishAudit enqueues rec for broadcast. It never blocks: when the buffer
// is full the event is dropped.
func (h *Hub) PublishAudit(rec saga.AuditRecord) {
	msg, err := json.Marshal(AuditEvent{
		CorrelationID: rec.CorrelationID,
		Step:          rec.StepName,
		State:         string(rec.State),
		Detail:        rec.Detail,
		Timestamp:     rec.Timestamp,
	})
	if err != nil {
		return
	}
	select {
	case h.Broadcast <- msg:
	default:
		h.logger.Warn("audit feed buffer full, dropping event", "correlation_id", rec.CorrelationID, "step", rec.StepName)
	}
}

// ServeHTTP upgrades the request and subscribes the connection until the
// client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "audit feed upgrade failed", "error", err)
		return
	}
	select {
	case h.Register <- conn:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				select {
				case h.Unregister <- conn:
				case <-h.done:
				}
				return
			}
		}
	}()
}
