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

// Package wsbridge connects sessions to an external protocol sidecar over
// WebSocket. The sidecar speaks the WhatsApp wire protocol; this package
// only relays lifecycle events, key lookups and RPCs as JSON frames.
package wsbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

const (
	defaultEventBuffer = 64
	defaultDialTimeout = 10 * time.Second
	writeTimeout       = 10 * time.Second
	readLimit          = 4 * 1024 * 1024
)

type Config struct {
	URL         string
	EventBuffer int
	DialTimeout time.Duration
}

type Connector struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

var _ core.Connector = (*Connector)(nil)

func New(cfg Config, logger *slog.Logger) *Connector {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &Connector{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		logger: logger.With("component", "wsbridge"),
	}
}

// Open dials the sidecar for one session and hands it the stored
// credentials. Events start flowing once Open returns.
func (c *Connector) Open(ctx context.Context, sessionID string, auth core.AuthState) (core.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid sidecar url: %w", core.ErrConnect, err)
	}
	q := u.Query()
	q.Set("session", sessionID)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	ws, _, err := c.dialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: session=%s: %w", core.ErrConnect, sessionID, err)
	}
	ws.SetReadLimit(readLimit)

	conn := &Conn{
		sessionID: sessionID,
		ws:        ws,
		keys:      auth.Keys,
		logger:    c.logger.With("session_id", sessionID),
		events:    make(chan core.Event, c.cfg.EventBuffer),
		done:      make(chan struct{}),
		pending:   make(map[string]chan frame),
	}
	if err := conn.write(frame{Type: frameHello, SessionID: sessionID, Creds: auth.Creds}); err != nil {
		conn.shutdown()
		return nil, fmt.Errorf("%w: session=%s: hello: %w", core.ErrConnect, sessionID, err)
	}

	go conn.readLoop()
	return conn, nil
}

// Conn is one sidecar connection.
type Conn struct {
	sessionID string
	ws        *websocket.Conn
	keys      core.KeyStore
	logger    *slog.Logger

	events   chan core.Event
	done     chan struct{}
	doneOnce sync.Once
	writeMu  sync.Mutex

	mu      sync.Mutex
	pending map[string]chan frame
}

var _ core.Conn = (*Conn)(nil)

func (c *Conn) Events() <-chan core.Event { return c.events }

func (c *Conn) Probe(ctx context.Context) error {
	if _, err := c.call(ctx, frame{Type: frameProbe}); err != nil {
		return fmt.Errorf("%w: %w", core.ErrProbe, err)
	}
	return nil
}

func (c *Conn) Send(ctx context.Context, to, body string) (string, error) {
	res, err := c.call(ctx, frame{Type: frameSend, To: to, Body: body})
	if err != nil {
		return "", err
	}
	return res.MessageID, nil
}

func (c *Conn) CheckRecipient(ctx context.Context, to string) (bool, error) {
	res, err := c.call(ctx, frame{Type: frameCheck, To: to})
	if err != nil {
		return false, err
	}
	return res.Exists, nil
}

func (c *Conn) Logout(ctx context.Context) error {
	_, err := c.call(ctx, frame{Type: frameLogout})
	return err
}

// Close tears the socket down. It never waits for the event consumer.
func (c *Conn) Close() error {
	c.shutdown()
	return nil
}

func (c *Conn) shutdown() {
	c.doneOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}

func (c *Conn) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) write(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(f)
}

// call sends a request frame and waits for the matching result.
func (c *Conn) call(ctx context.Context, f frame) (frame, error) {
	if c.isDone() {
		return frame{}, core.ErrClosed
	}
	f.RequestID = uuid.New().String()
	ch := make(chan frame, 1)

	c.mu.Lock()
	c.pending[f.RequestID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, f.RequestID)
		c.mu.Unlock()
	}()

	if err := c.write(f); err != nil {
		return frame{}, fmt.Errorf("%w: %w", core.ErrClosed, err)
	}

	select {
	case res := <-ch:
		if res.Error != "" {
			return res, errors.New(res.Error)
		}
		return res, nil
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case <-c.done:
		return frame{}, core.ErrClosed
	}
}

func (c *Conn) resolve(f frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.RequestID]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("result for unknown request", "request_id", f.RequestID)
		return
	}
	select {
	case ch <- f:
	default:
	}
}

// emit blocks while the event buffer is full, which holds back reads from
// the sidecar until the consumer catches up.
func (c *Conn) emit(evt core.Event) bool {
	if c.isDone() {
		return false
	}
	evt.Timestamp = time.Now().UTC()
	select {
	case c.events <- evt:
		return true
	case <-c.done:
		return false
	}
}

func (c *Conn) readLoop() {
	defer close(c.events)
	defer c.shutdown()

	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if !c.isDone() {
				c.logger.Warn("sidecar connection lost", "error", err)
				c.emit(core.Event{Type: core.EventTypeClosed, Reason: err.Error()})
			}
			return
		}
		if !c.handle(f) {
			return
		}
	}
}

// handle returns false once the connection has reported its close.
func (c *Conn) handle(f frame) bool {
	switch f.Type {
	case frameQR:
		return c.emit(core.Event{Type: core.EventTypeQR, QR: f.QR})
	case frameOpen:
		return c.emit(core.Event{Type: core.EventTypeOpened})
	case frameClose:
		c.emit(core.Event{Type: core.EventTypeClosed, Reason: f.Reason, LoggedOut: f.LoggedOut})
		return false
	case frameCreds:
		requestID := f.RequestID
		return c.emit(core.Event{
			Type:  core.EventTypeCredentials,
			Creds: f.Creds,
			Keys:  f.Keys,
			Ack: func(err error) {
				reply := frame{Type: frameAck, RequestID: requestID}
				if err != nil {
					reply.Error = err.Error()
				}
				if werr := c.write(reply); werr != nil && !c.isDone() {
					c.logger.Warn("credential ack failed", "request_id", requestID, "error", werr)
				}
			},
		})
	case frameMessage:
		return c.emit(core.Event{Type: core.EventTypeMessage, Message: f.Message})
	case frameKeysGet:
		go c.serveKeys(f)
	case frameResult:
		c.resolve(f)
	default:
		c.logger.Warn("unknown sidecar frame", "type", f.Type)
	}
	return true
}

func (c *Conn) serveKeys(f frame) {
	reply := frame{Type: frameKeysResult, RequestID: f.RequestID, Category: f.Category}
	if c.keys == nil {
		reply.Error = "key store unavailable"
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		found, err := c.keys.Get(ctx, f.Category, f.IDs)
		cancel()
		if err != nil {
			reply.Error = err.Error()
		}
		reply.Found = found
	}
	if err := c.write(reply); err != nil && !c.isDone() {
		c.logger.Warn("key lookup reply failed", "request_id", f.RequestID, "error", err)
	}
}
