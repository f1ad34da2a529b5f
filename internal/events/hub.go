package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/promptdeck/promptd/internal/logger"
)

const writeTimeout = 5 * time.Second

// Hub fans bus events out to connected WebSocket clients. The desktop
// UI keeps one connection open and reacts to queue and response events.
type Hub struct {
	bus    *Bus
	logger *logger.Logger

	mu    sync.RWMutex
	conns map[*websocket.Conn]bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewHub(bus *Bus, log *logger.Logger) *Hub {
	return &Hub{
		bus:    bus,
		logger: log.WithComponent("websocket_hub"),
		conns:  make(map[*websocket.Conn]bool),
		done:   make(chan struct{}),
	}
}

// Start subscribes to the bus and begins broadcasting.
func (h *Hub) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	ch, unsubscribe := h.bus.Subscribe()

	go func() {
		defer close(h.done)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				h.broadcast(evt)
			}
		}
	}()
}

// Stop ends broadcasting and closes every client connection.
func (h *Hub) Stop() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.Close()
	}
	h.conns = make(map[*websocket.Conn]bool)
}

// Register adds a client connection and starts its read loop, which
// exists only to detect disconnects.
func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[conn] = true
	count := len(h.conns)
	h.mu.Unlock()

	h.logger.Debug("client connected", slog.Int("connections", count))

	go func() {
		defer h.unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	count := len(h.conns)
	h.mu.Unlock()

	conn.Close()
	h.logger.Debug("client disconnected", slog.Int("connections", count))
}

// ConnectionCount reports the current number of clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) broadcast(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("marshal event", slog.String("type", string(evt.Type)), slog.Any("error", err))
		return
	}

	// Copy the set so the lock is not held during writes.
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Warn("write failed, dropping client", slog.Any("error", err))
			h.unregister(conn)
		}
	}
}
