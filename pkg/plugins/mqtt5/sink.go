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

package mqtt5

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

// Sink publishes notifications over MQTT v5 to
// <topic prefix>/<kind>/<requester or broadcast>.
type Sink struct {
	name        string
	brokerURL   string
	topicPrefix string
	cm          *autopaho.ConnectionManager
	logger      *slog.Logger
}

func New(name, brokerURL, topicPrefix string, logger *slog.Logger) *Sink {
	if topicPrefix == "" {
		topicPrefix = "whatsapp/sessions"
	}
	return &Sink{
		name:        name,
		brokerURL:   brokerURL,
		topicPrefix: topicPrefix,
		logger:      logger,
	}
}

func (s *Sink) Name() string { return s.name }
func (s *Sink) Type() string { return "mqtt5" }

func (s *Sink) Connect(ctx context.Context) error {
	serverURL, err := url.Parse(s.brokerURL)
	if err != nil {
		return fmt.Errorf("mqtt5 invalid URL: %w", err)
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverURL},
		KeepAlive:                     30,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			s.logger.Info("mqtt5 connection up", "name", s.name)
		},
		OnConnectError: func(err error) {
			s.logger.Warn("mqtt5 connect error", "name", s.name, "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "supervisor-" + s.name + "-" + uuid.New().String()[:8],
		},
	}

	s.cm, err = autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("mqtt5 connection: %w", err)
	}

	if err := s.cm.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("mqtt5 await connection: %w", err)
	}

	s.logger.Info("mqtt5 sink connected", "name", s.name, "broker", s.brokerURL)
	return nil
}

func (s *Sink) Disconnect(ctx context.Context) error {
	if s.cm != nil {
		return s.cm.Disconnect(ctx)
	}
	return nil
}

func (s *Sink) Topic(n core.Notification) string {
	return s.topicPrefix + "/" + string(n.Kind) + "/" + n.Scope()
}

func (s *Sink) Notify(ctx context.Context, n core.Notification) error {
	if s.cm == nil {
		return nil
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = s.cm.Publish(ctx, &paho.Publish{
		Topic:   s.Topic(n),
		QoS:     1,
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType: "application/json",
			User: paho.UserProperties{
				{Key: "session_id", Value: n.SessionID},
				{Key: "notification_id", Value: n.ID},
			},
		},
	})
	return err
}
