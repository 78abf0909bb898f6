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

package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

// Sink publishes notifications to a RabbitMQ exchange. With no exchange
// configured it publishes straight to a durable queue.
type Sink struct {
	name     string
	url      string
	exchange string
	queue    string
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	logger   *slog.Logger
}

func New(name, url, exchange, queue string, logger *slog.Logger) *Sink {
	return &Sink{
		name:     name,
		url:      url,
		exchange: exchange,
		queue:    queue,
		logger:   logger,
	}
}

func (s *Sink) Name() string { return s.name }
func (s *Sink) Type() string { return "rabbitmq" }

func (s *Sink) Connect(ctx context.Context) error {
	var err error
	s.conn, err = amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}

	s.pubCh, err = s.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq publish channel: %w", err)
	}

	if s.exchange != "" {
		if err := s.pubCh.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("rabbitmq exchange declare %s: %w", s.exchange, err)
		}
	} else if s.queue != "" {
		if _, err := s.pubCh.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("rabbitmq queue declare %s: %w", s.queue, err)
		}
	}

	s.logger.Info("rabbitmq sink connected", "name", s.name, "exchange", s.exchange, "queue", s.queue)
	return nil
}

func (s *Sink) Disconnect(ctx context.Context) error {
	if s.pubCh != nil {
		s.pubCh.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// RoutingKey is "<kind>.<requester>" on an exchange, or the queue name.
func (s *Sink) RoutingKey(n core.Notification) string {
	if s.exchange == "" {
		return s.queue
	}
	return string(n.Kind) + "." + n.Scope()
}

func (s *Sink) Notify(ctx context.Context, n core.Notification) error {
	if s.pubCh == nil {
		return nil
	}
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.pubCh.PublishWithContext(ctx,
		s.exchange,
		s.RoutingKey(n),
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			MessageId:   n.ID,
			Timestamp:   n.Timestamp,
			Type:        string(n.Kind),
			Headers:     amqp.Table{"session_id": n.SessionID, "requester": n.Requester},
		},
	)
}
