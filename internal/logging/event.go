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

package logging

import (
	"log/slog"

	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

type EventLogger struct {
	logger *slog.Logger
}

func NewEventLogger(logger *slog.Logger) *EventLogger {
	return &EventLogger{logger: logger}
}

// Log writes one line per connection event. Message bodies and key material
// are never logged, only their sizes.
func (e *EventLogger) Log(sessionID string, generation uint64, evt core.Event) {
	attrs := []any{
		"session_id", sessionID,
		"generation", generation,
		"event", evt.Type.String(),
		"timestamp", evt.Timestamp,
	}
	switch evt.Type {
	case core.EventTypeQR:
		attrs = append(attrs, "qr_size", len(evt.QR))
	case core.EventTypeClosed:
		attrs = append(attrs, "reason", evt.Reason, "logged_out", evt.LoggedOut)
	case core.EventTypeCredentials:
		attrs = append(attrs, "creds_size", len(evt.Creds), "key_categories", len(evt.Keys))
	case core.EventTypeMessage:
		if evt.Message != nil {
			attrs = append(attrs,
				"message_id", evt.Message.ID,
				"from", evt.Message.From,
				"body_size", len(evt.Message.Body),
			)
		}
	}
	e.logger.Info("connection event", attrs...)
}

// Notification logs an outbound notification.
func (e *EventLogger) Notification(n core.Notification) {
	e.logger.Debug("notification",
		"notification_id", n.ID,
		"kind", string(n.Kind),
		"requester", n.Requester,
		"session_id", n.SessionID,
		"sessions", len(n.Sessions),
	)
}
