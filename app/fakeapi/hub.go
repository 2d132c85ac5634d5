package fakeapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/gorilla/websocket"

	"github.com/modelibr/e2e/lib/modelibr"
)

const hubWriteTimeout = 5 * time.Second

// Hub is a minimal thumbnail hub speaking the JSON hub protocol: handshake,
// then server-to-client invocations of ThumbnailStatusChanged.
type Hub struct {
	token    string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubConn]struct{}
	closed  bool
}

type hubConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex // one writer at a time
}

func (c *hubConn) write(frame []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write hub frame: %w", err)
	}
	return nil
}

// NewHub makes a hub. A non-empty token is required as bearer header or access_token query value.
func NewHub(token string) *Hub {
	return &Hub{
		token:    token,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clients:  map[*hubConn]struct{}{},
	}
}

// ServeHTTP upgrades the request and keeps the connection registered until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && !validBearer(r.Header.Get("Authorization"), h.token) && r.URL.Query().Get("access_token") != h.token {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusUnauthorized, nil, "unauthorized")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WARN] hub upgrade failed: %v", err)
		return
	}
	c := &hubConn{conn: conn}
	if err := h.accept(c); err != nil {
		log.Printf("[DEBUG] hub handshake failed: %v", err)
		_ = conn.Close()
		return
	}
	defer h.remove(c)

	// nothing is expected from clients after the handshake, reads only detect disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// accept reads the client handshake, registers the client and answers.
// The client is registered under its write lock so no event overtakes the handshake reply.
func (h *Hub) accept(c *hubConn) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(hubWriteTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	_ = c.conn.SetReadDeadline(time.Time{})

	var req struct {
		Protocol string `json:"protocol"`
		Version  int    `json:"version"`
	}
	if err = json.Unmarshal(bytes.TrimRight(data, "\x1e"), &req); err != nil {
		return fmt.Errorf("parse handshake: %w", err)
	}
	if req.Protocol != "json" {
		reply, _ := json.Marshal(map[string]string{"error": fmt.Sprintf("protocol %q is not supported", req.Protocol)})
		_ = c.write(append(reply, 0x1e))
		return fmt.Errorf("unsupported protocol %q", req.Protocol)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errors.New("hub is shut down")
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if err = c.conn.WriteMessage(websocket.TextMessage, []byte("{}\x1e")); err != nil {
		h.remove(c)
		return fmt.Errorf("send handshake reply: %w", err)
	}
	return nil
}

func (h *Hub) remove(c *hubConn) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends a thumbnail status change to every client. Clients failing the write are dropped.
func (h *Hub) Broadcast(ev modelibr.ThumbnailEvent) {
	arg, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[WARN] hub: failed to encode event: %v", err)
		return
	}
	frame, err := modelibr.EncodeHubMessage(modelibr.HubMessage{
		Type:      modelibr.MessageInvocation,
		Target:    modelibr.TargetThumbnailStatusChanged,
		Arguments: []json.RawMessage{arg},
	})
	if err != nil {
		log.Printf("[WARN] hub: %v", err)
		return
	}
	for _, c := range h.snapshot() {
		if err := c.write(frame); err != nil {
			log.Printf("[DEBUG] hub: dropping client: %v", err)
			h.remove(c)
		}
	}
}

// Shutdown sends a close message to every client and disconnects them. Later connections are refused.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	frame, err := modelibr.EncodeHubMessage(modelibr.HubMessage{Type: modelibr.MessageClose})
	if err != nil {
		log.Printf("[WARN] hub: %v", err)
	}
	for _, c := range h.snapshot() {
		if frame != nil {
			_ = c.write(frame)
		}
		h.remove(c)
	}
}

func (h *Hub) snapshot() []*hubConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	res := make([]*hubConn, 0, len(h.clients))
	for c := range h.clients {
		res = append(res, c)
	}
	return res
}
