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

package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

const subscriberBuffer = 32

type subscriber struct {
	id        string
	requester string
	ch        chan core.Notification
	once      sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Stream is a read-only notification sink for dashboards that cannot hold
// a websocket. Routing matches the websocket hub: the requester's
// subscribers when there are any, everyone otherwise.
type Stream struct {
	name       string
	controller core.SessionController
	logger     *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]*subscriber
}

var _ core.Sink = (*Stream)(nil)

func New(name string, logger *slog.Logger) *Stream {
	return &Stream{
		name:        name,
		logger:      logger,
		subscribers: make(map[string]*subscriber),
	}
}

func (s *Stream) Name() string { return s.name }
func (s *Stream) Type() string { return "sse" }

// Bind sets the controller used for the sessions snapshot sent on connect.
func (s *Stream) Bind(controller core.SessionController) {
	s.controller = controller
}

func (s *Stream) Connect(ctx context.Context) error { return nil }

func (s *Stream) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	subs := s.subscribers
	s.subscribers = make(map[string]*subscriber)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	return nil
}

func (s *Stream) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

func (s *Stream) Notify(ctx context.Context, n core.Notification) error {
	var slow []string
	s.mu.RLock()
	targets := make([]*subscriber, 0, len(s.subscribers))
	if n.Requester != "" {
		for _, sub := range s.subscribers {
			if sub.requester == n.Requester {
				targets = append(targets, sub)
			}
		}
	}
	if len(targets) == 0 {
		for _, sub := range s.subscribers {
			targets = append(targets, sub)
		}
	}
	for _, sub := range targets {
		select {
		case sub.ch <- n:
		default:
			slow = append(slow, sub.id)
		}
	}
	s.mu.RUnlock()

	for _, id := range slow {
		s.logger.Warn("sse subscriber too slow, dropping", "client_id", id)
		s.remove(id)
	}
	return nil
}

func (s *Stream) remove(id string) {
	s.mu.Lock()
	sub, ok := s.subscribers[id]
	if ok {
		delete(s.subscribers, id)
	}
	s.mu.Unlock()
	if ok {
		sub.close()
	}
}

func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := &subscriber{
		id:        uuid.New().String(),
		requester: core.RequesterID(r),
		ch:        make(chan core.Notification, subscriberBuffer),
	}
	s.mu.Lock()
	s.subscribers[sub.id] = sub
	s.mu.Unlock()

	defer func() {
		s.remove(sub.id)
		s.logger.Info("sse client disconnected", "client_id", sub.id)
	}()

	s.logger.Info("sse client connected", "client_id", sub.id, "requester", sub.requester)

	if s.controller != nil {
		if sessions, err := s.controller.ListSessions(r.Context()); err == nil {
			s.write(w, core.Notification{ID: uuid.New().String(), Kind: core.NotificationSessions, Sessions: sessions})
		}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case n, ok := <-sub.ch:
			if !ok {
				return
			}
			if err := s.write(w, n); err != nil {
				s.logger.Error("sse write failed", "client_id", sub.id, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Stream) write(w http.ResponseWriter, n core.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", n.ID, n.Kind, data)
	return err
}
