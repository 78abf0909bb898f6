// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

const (
	FrameSessions      = "sessions"
	FrameQR            = "qr"
	FrameError         = "error"
	FrameSessionAction = "session-action"
	FrameGenerateQR    = "generate-qr"
)

// Frame is the JSON message exchanged with dashboard clients. Outbound
// frames carry sessions, qr or error; inbound frames carry session-action
// or generate-qr.
type Frame struct {
	Type      string         `json:"type"`
	ID        string         `json:"id,omitempty"`
	Action    string         `json:"action,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	QR        string         `json:"qr,omitempty"`
	Sessions  []core.Session `json:"sessions,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitzero"`
}

// Hub is the websocket sink. Each connection joins the room of its
// requester id; notifications go to the requester's room and fall back to
// every client when that room is empty.
type Hub struct {
	name       string
	upgrader   websocket.Upgrader
	controller core.SessionController
	logger     *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

var _ core.Sink = (*Hub)(nil)

func New(name string, logger *slog.Logger) *Hub {
	return &Hub{
		name: name,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[string]*client),
	}
}

func (h *Hub) Name() string { return h.name }
func (h *Hub) Type() string { return "websocket" }

// Bind sets the controller inbound frames are dispatched to. It must be
// called before the hub serves connections.
func (h *Hub) Bind(controller core.SessionController) {
	h.controller = controller
}

// Connect is a no-op; the hub is served by the HTTP adapter.
func (h *Hub) Connect(ctx context.Context) error { return nil }

func (h *Hub) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Notify(ctx context.Context, n core.Notification) error {
	f := Frame{
		Type:      string(n.Kind),
		SessionID: n.SessionID,
		QR:        n.QR,
		Sessions:  n.Sessions,
		Timestamp: n.Timestamp,
	}

	var slow []string
	h.mu.RLock()
	targets := h.room(n.Requester)
	if len(targets) == 0 {
		targets = h.all()
	}
	for _, c := range targets {
		if !c.queue(f) {
			slow = append(slow, c.id)
		}
	}
	h.mu.RUnlock()

	for _, id := range slow {
		h.logger.Warn("ws client too slow, dropping", "client_id", id)
		h.unregister(id)
	}
	return nil
}

// room and all must be called with h.mu held.
func (h *Hub) room(requester string) []*client {
	if requester == "" {
		return nil
	}
	var out []*client
	for _, c := range h.clients {
		if c.requester == requester {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) all() []*client {
	out := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()

	if ok {
		c.shutdown()
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "error", err)
		return
	}

	c := newClient(uuid.New().String(), core.RequesterID(r), conn)
	h.register(c)
	h.logger.Info("ws client connected", "client_id", c.id, "requester", c.requester)

	defer func() {
		h.unregister(c.id)
		h.logger.Info("ws client disconnected", "client_id", c.id)
	}()

	go c.writeLoop()
	h.snapshot(r.Context(), c)
	h.readLoop(r.Context(), c)
}

// snapshot sends the current sessions list to a client that just joined.
func (h *Hub) snapshot(ctx context.Context, c *client) {
	if h.controller == nil {
		return
	}
	sessions, err := h.controller.ListSessions(ctx)
	if err != nil {
		h.logger.Warn("sessions snapshot failed", "client_id", c.id, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; ok {
		c.queue(Frame{Type: FrameSessions, Sessions: sessions, Timestamp: time.Now().UTC()})
	}
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Error("ws read error", "client_id", c.id, "error", err)
			}
			return
		}

		var in Frame
		if err := json.Unmarshal(payload, &in); err != nil {
			h.reply(c, "", errors.New("malformed frame"))
			continue
		}
		h.handle(ctx, c, in)
	}
}

func (h *Hub) handle(ctx context.Context, c *client, in Frame) {
	if h.controller == nil {
		h.reply(c, in.ID, errors.New("hub is not bound to a controller"))
		return
	}

	switch in.Type {
	case FrameSessionAction:
		action, err := core.ParseAction(in.Action)
		if err != nil {
			h.reply(c, in.ID, err)
			return
		}
		if err := h.controller.SessionAction(ctx, c.requester, in.ID, action); err != nil {
			h.logger.Warn("session action failed", "client_id", c.id, "session_id", in.ID, "action", action, "error", err)
			h.reply(c, in.ID, err)
		}
	case FrameGenerateQR:
		id := uuid.New().String()
		if err := h.controller.StartSession(ctx, id, c.requester); err != nil {
			h.logger.Warn("generate qr failed", "client_id", c.id, "session_id", id, "error", err)
			h.reply(c, id, err)
		}
	default:
		h.reply(c, in.ID, errors.New("unknown frame type "+in.Type))
	}
}

func (h *Hub) reply(c *client, sessionID string, err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	c.queue(Frame{Type: FrameError, SessionID: sessionID, Error: err.Error(), Timestamp: time.Now().UTC()})
}
