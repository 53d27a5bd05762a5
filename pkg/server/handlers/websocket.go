package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mnohosten/memdb/pkg/changestream"
	"github.com/mnohosten/memdb/pkg/document"
)

const (
	heartbeatInterval = 30 * time.Second
	writeWait         = 10 * time.Second
	streamBuffer      = 256
)

// WebSocket upgrader with default settings
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ChangeStreamManager tracks open watch connections so they can be closed
// on shutdown
type ChangeStreamManager struct {
	hub         *changestream.Hub
	connections map[string]*ChangeStreamConnection
	mu          sync.RWMutex
}

// ChangeStreamConnection represents an active WebSocket connection with a change stream
type ChangeStreamConnection struct {
	id         string
	conn       *websocket.Conn
	cancelFunc context.CancelFunc
	mu         sync.Mutex
}

// NewChangeStreamManager creates a manager streaming from hub
func NewChangeStreamManager(hub *changestream.Hub) *ChangeStreamManager {
	return &ChangeStreamManager{
		hub:         hub,
		connections: make(map[string]*ChangeStreamConnection),
	}
}

// Len returns the number of open connections
func (m *ChangeStreamManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Close closes all active connections
func (m *ChangeStreamManager) Close() error {
	m.mu.Lock()
	conns := m.connections
	m.connections = make(map[string]*ChangeStreamConnection)
	m.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	return nil
}

func (m *ChangeStreamManager) addConnection(conn *ChangeStreamConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[conn.id] = conn
}

func (m *ChangeStreamManager) removeConnection(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections, id)
}

// Close stops the stream and closes the socket
func (c *ChangeStreamConnection) Close() {
	c.cancelFunc()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.Close()
}

func (c *ChangeStreamConnection) write(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// ChangeStreamRequest is the first message a client sends. An empty
// collection watches the whole database; filter is matched against each
// event document.
type ChangeStreamRequest struct {
	Collection string             `json:"collection"`
	Filter     *document.Document `json:"filter,omitempty"`
}

// ChangeStreamResponse represents a message sent over WebSocket
type ChangeStreamResponse struct {
	Type    string             `json:"type"` // "connected", "event", "error", "heartbeat"
	Event   *document.Document `json:"event,omitempty"`
	Error   string             `json:"error,omitempty"`
	Message string             `json:"message,omitempty"`
}

// HandleChangeStream upgrades to a WebSocket and streams change events in
// extended JSON until either side closes
func (h *Handlers) HandleChangeStream(manager *ChangeStreamManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := h.logger(r)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", "error", err)
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		wsConn := &ChangeStreamConnection{
			id:         uuid.NewString(),
			conn:       conn,
			cancelFunc: cancel,
		}
		manager.addConnection(wsConn)
		defer func() {
			manager.removeConnection(wsConn.id)
			wsConn.Close()
		}()

		var req ChangeStreamRequest
		if err := conn.ReadJSON(&req); err != nil {
			wsConn.write(ChangeStreamResponse{Type: "error", Error: fmt.Sprintf("failed to read request: %v", err)})
			return
		}

		events, err := manager.hub.Stream(ctx, changestream.Options{
			Collection: req.Collection,
			Filter:     req.Filter,
		}, streamBuffer)
		if err != nil {
			wsConn.write(ChangeStreamResponse{Type: "error", Error: err.Error()})
			return
		}

		if err := wsConn.write(ChangeStreamResponse{Type: "connected", Message: "change stream connected"}); err != nil {
			return
		}
		log.Debug("change stream opened", "connection", wsConn.id, "collection", req.Collection)

		// The reader only notices the client going away
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					cancel()
					return
				}
			}
		}()

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Debug("change stream closed", "connection", wsConn.id)
				return
			case <-heartbeat.C:
				if err := wsConn.write(ChangeStreamResponse{Type: "heartbeat", Message: "keepalive"}); err != nil {
					return
				}
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := wsConn.write(ChangeStreamResponse{Type: "event", Event: ev.ToDocument()}); err != nil {
					log.Warn("failed to send change event", "connection", wsConn.id, "error", err)
					return
				}
			}
		}
	}
}
