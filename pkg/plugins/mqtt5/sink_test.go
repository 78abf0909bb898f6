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
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

func TestTopic(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := New("m", "mqtt://localhost:1883", "", logger)
	assert.Equal(t, "whatsapp/sessions/qr/dash", s.Topic(core.Notification{Kind: core.NotificationQR, Requester: "dash"}))

	custom := New("m", "mqtt://localhost:1883", "org/wa", logger)
	assert.Equal(t, "org/wa/sessions/broadcast", custom.Topic(core.Notification{Kind: core.NotificationSessions}))
}

func TestNotifyBeforeConnectIsNoop(t *testing.T) {
	s := New("m", "mqtt://localhost:1883", "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NoError(t, s.Notify(context.Background(), core.Notification{Kind: core.NotificationSessions}))
}
