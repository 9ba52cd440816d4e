// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	applog "headset/internal/log"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = time.Second
	broadcastCap = 256
)

// Message is the envelope of everything pushed to websocket clients.
type Message struct {
	Type string          `json:"type"` // "status", "result" or "curve".
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data"`
}

// WebSocketHub broadcasts status changes and results to every connected
// client. It implements StatusSink, so it can stand in for the station LED
// on a remote dashboard.
type WebSocketHub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]struct{}
	clientsMu sync.Mutex
	closed    bool
	broadcast chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	server    *http.Server
}

// NewWebSocketHub creates a hub and starts its broadcast loop. Serve it with
// ListenAndServe or mount Handler on an existing server.
func NewWebSocketHub() *WebSocketHub {
	h := &WebSocketHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Dashboards are served from the station itself.
			},
		},
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan []byte, broadcastCap),
		done:      make(chan struct{}),
	}

	h.wg.Add(1)
	go h.handleBroadcasts()
	return h
}

// Handler returns the HTTP handler serving the hub on /ws.
func (h *WebSocketHub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWebSocket)
	return mux
}

// ListenAndServe starts an HTTP server for the hub on addr in its own goroutine.
func (h *WebSocketHub) ListenAndServe(addr string) {
	h.server = &http.Server{
		Addr:              addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		applog.Infof("WebSocketHub: listening on %s", addr)
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.Errorf("WebSocketHub: server error: %v", err)
		}
	}()
}

func (h *WebSocketHub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("WebSocketHub: upgrade error: %v", err)
		return
	}

	h.clientsMu.Lock()
	if h.closed {
		h.clientsMu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = struct{}{}
	total := len(h.clients)
	h.wg.Add(1)
	h.clientsMu.Unlock()
	applog.Infof("WebSocketHub: client connected, total: %d", total)

	// Clients never send; reading only detects the disconnect.
	go func() {
		defer h.wg.Done()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()
}

func (h *WebSocketHub) drop(conn *websocket.Conn) {
	h.clientsMu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	total := len(h.clients)
	h.clientsMu.Unlock()

	conn.Close()
	if ok {
		applog.Infof("WebSocketHub: client disconnected, total: %d", total)
	}
}

func (h *WebSocketHub) handleBroadcasts() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case payload := <-h.broadcast:
			h.clientsMu.Lock()
			for client := range h.clients {
				_ = client.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
					applog.Warnf("WebSocketHub: error sending to client: %v", err)
					client.Close()
					delete(h.clients, client)
				}
			}
			h.clientsMu.Unlock()
		}
	}
}

// Publish queues v for broadcast under the given message type. Messages are
// dropped when the queue is full; a slow dashboard never stalls a run.
func (h *WebSocketHub) Publish(kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", kind, err)
	}
	payload, err := json.Marshal(Message{Type: kind, Time: time.Now().UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode %s envelope: %w", kind, err)
	}

	select {
	case <-h.done:
		return errors.New("websocket hub is closed")
	default:
	}

	select {
	case h.broadcast <- payload:
	default:
		applog.Debugf("WebSocketHub: broadcast queue full, dropping %s message", kind)
	}
	return nil
}

// Notify publishes a status message.
func (h *WebSocketHub) Notify(s Status) {
	if err := h.Publish("status", s.String()); err != nil {
		applog.Debugf("WebSocketHub: %v", err)
	}
}

// Clients returns the number of connected clients.
func (h *WebSocketHub) Clients() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

// Close disconnects every client, stops the server and waits for all hub
// goroutines to exit. It is idempotent.
func (h *WebSocketHub) Close() error {
	var err error
	h.closeOnce.Do(func() {
		applog.Debugf("WebSocketHub: closing")
		close(h.done)

		h.clientsMu.Lock()
		h.closed = true
		for client := range h.clients {
			client.Close()
		}
		clear(h.clients)
		h.clientsMu.Unlock()

		if h.server != nil {
			err = h.server.Close()
		}
		h.wg.Wait()
	})
	return err
}

var _ StatusSink = (*WebSocketHub)(nil)
