package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mnohosten/memdb/pkg/document"
)

// ErrStreamClosed is returned by Next after Close
var ErrStreamClosed = errors.New("change stream closed")

// ChangeStream receives change events over a WebSocket
type ChangeStream struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closed    chan struct{}
}

type watchRequest struct {
	Collection string             `json:"collection"`
	Filter     *document.Document `json:"filter,omitempty"`
}

type watchMessage struct {
	Type    string             `json:"type"`
	Event   *document.Document `json:"event,omitempty"`
	Error   string             `json:"error,omitempty"`
	Message string             `json:"message,omitempty"`
}

// Watch opens a change stream. An empty collection watches the whole
// database; filter is matched against each event document, e.g.
// {"operationType": "insert"}. Watch returns once the server has
// registered the stream, so later writes are guaranteed to be seen.
func (c *Client) Watch(ctx context.Context, collection string, filter *document.Document) (*ChangeStream, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + apiPrefix + "/watch"

	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.Timeout,
	}
	if c.config.TLS {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: c.config.TLSInsecure,
			MinVersion:         tls.VersionTLS12,
		}
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open change stream: %w", err)
	}

	if err := conn.WriteJSON(watchRequest{Collection: collection, Filter: filter}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send watch request: %w", err)
	}

	var msg watchMessage
	if err := conn.ReadJSON(&msg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read watch response: %w", err)
	}
	if msg.Type != "connected" {
		conn.Close()
		return nil, fmt.Errorf("watch rejected: %s", msg.Error)
	}

	cs := &ChangeStream{conn: conn, closed: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			cs.Close()
		case <-cs.closed:
		}
	}()
	return cs, nil
}

// Next blocks until the next change event. Heartbeats are skipped.
func (cs *ChangeStream) Next() (*document.Document, error) {
	for {
		var msg watchMessage
		if err := cs.conn.ReadJSON(&msg); err != nil {
			select {
			case <-cs.closed:
				return nil, ErrStreamClosed
			default:
				return nil, fmt.Errorf("change stream read failed: %w", err)
			}
		}

		switch msg.Type {
		case "event":
			return msg.Event, nil
		case "error":
			return nil, fmt.Errorf("change stream error: %s", msg.Error)
		}
	}
}

// Close ends the stream
func (cs *ChangeStream) Close() error {
	var err error
	cs.closeOnce.Do(func() {
		close(cs.closed)
		cs.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = cs.conn.Close()
	})
	return err
}
