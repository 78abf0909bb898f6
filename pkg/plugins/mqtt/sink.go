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

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

// Sink publishes notifications to an MQTT 3.1.1 broker. QR notifications
// are never retained; the latest sessions list is, so a dashboard that
// subscribes late still sees the current state.
type Sink struct {
	name        string
	broker      string
	topicPrefix string
	client      mqtt.Client
	logger      *slog.Logger
}

func New(name, broker, topicPrefix string, logger *slog.Logger) *Sink {
	if topicPrefix == "" {
		topicPrefix = "whatsapp/sessions"
	}
	return &Sink{
		name:        name,
		broker:      broker,
		topicPrefix: topicPrefix,
		logger:      logger,
	}
}

func (s *Sink) Name() string { return s.name }
func (s *Sink) Type() string { return "mqtt" }

func (s *Sink) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.broker).
		SetClientID("supervisor-" + s.name + "-" + uuid.New().String()[:8]).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(client mqtt.Client) {
			s.logger.Info("mqtt connected", "name", s.name)
		}).
		SetConnectionLostHandler(func(client mqtt.Client, err error) {
			s.logger.Warn("mqtt connection lost", "name", s.name, "error", err)
		})

	s.client = mqtt.NewClient(opts)
	if err := wait(ctx, s.client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	s.logger.Info("mqtt sink connected", "name", s.name, "broker", s.broker)
	return nil
}

func (s *Sink) Disconnect(ctx context.Context) error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}

func (s *Sink) Topic(n core.Notification) string {
	return s.topicPrefix + "/" + string(n.Kind) + "/" + n.Scope()
}

func (s *Sink) Notify(ctx context.Context, n core.Notification) error {
	if s.client == nil {
		return nil
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	retained := n.Kind == core.NotificationSessions
	return wait(ctx, s.client.Publish(s.Topic(n), 1, retained, payload))
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("mqtt operation timed out")
	}
}
