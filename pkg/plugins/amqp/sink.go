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

package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Azure/go-amqp"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

// Sink sends notifications to an AMQP 1.0 address, which is how JMS
// brokers such as ActiveMQ Artemis expose their queues.
type Sink struct {
	name    string
	url     string
	address string
	conn    *amqp.Conn
	sess    *amqp.Session
	sender  *amqp.Sender
	mu      sync.Mutex
	logger  *slog.Logger
}

func New(name, url, address string, logger *slog.Logger) *Sink {
	return &Sink{
		name:    name,
		url:     url,
		address: address,
		logger:  logger,
	}
}

func (s *Sink) Name() string { return s.name }
func (s *Sink) Type() string { return "amqp" }

func (s *Sink) Connect(ctx context.Context) error {
	var err error
	s.conn, err = amqp.Dial(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	s.sess, err = s.conn.NewSession(ctx, nil)
	if err != nil {
		return fmt.Errorf("amqp session: %w", err)
	}
	s.sender, err = s.sess.NewSender(ctx, s.address, nil)
	if err != nil {
		return fmt.Errorf("amqp sender: %w", err)
	}

	s.logger.Info("amqp sink connected", "name", s.name, "url", s.url, "address", s.address)
	return nil
}

func (s *Sink) Disconnect(ctx context.Context) error {
	if s.sender != nil {
		s.sender.Close(ctx)
	}
	if s.sess != nil {
		s.sess.Close(ctx)
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Notify(ctx context.Context, n core.Notification) error {
	if s.sender == nil {
		return nil
	}
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	subject := string(n.Kind)
	contentType := "application/json"
	msg := &amqp.Message{
		Data: [][]byte{body},
		Properties: &amqp.MessageProperties{
			MessageID:   n.ID,
			Subject:     &subject,
			ContentType: &contentType,
		},
		ApplicationProperties: map[string]any{
			"session_id": n.SessionID,
			"requester":  n.Scope(),
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sender.Send(ctx, msg, nil)
}
