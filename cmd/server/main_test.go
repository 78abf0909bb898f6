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

package main

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/config"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/plugins"
)

func TestRegisterSinks(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{Sinks: []config.SinkConfig{
		{Name: "dashboard", Type: "websocket"},
		{Name: "second-ws", Type: "websocket"},
		{Name: "feed", Type: "sse", Config: map[string]string{"path": "/feed"}},
		{Name: "events", Type: "kafka", Config: map[string]string{"brokers": "a:9092,b:9092", "topic": "wa"}},
		{Name: "bus", Type: "rabbitmq", Config: map[string]string{"url": "amqp://localhost", "exchange": "wa"}},
		{Name: "iot", Type: "mqtt5", Config: map[string]string{"broker": "mqtt://localhost:1883"}},
		{Name: "legacy", Type: "mqtt", Config: map[string]string{"broker": "tcp://localhost:1883"}},
		{Name: "jms", Type: "amqp", Config: map[string]string{"url": "amqp://localhost:5672", "address": "wa"}},
		{Name: "cache", Type: "redis", Config: map[string]string{"addr": "localhost:6379", "db": "2"}},
		{Name: "mystery", Type: "pigeon"},
	}}
	reg := plugins.NewRegistry(logger)

	streams := registerSinks(cfg, reg, logger)

	require.Len(t, streams, 2)
	assert.Equal(t, "dashboard", streams["/ws"].Name())
	assert.Equal(t, "sse", streams["/feed"].Type())
	sinks := reg.Sinks()
	assert.Len(t, sinks, 8)
	assert.NotContains(t, sinks, "second-ws")
	assert.NotContains(t, sinks, "mystery")
	assert.Equal(t, "amqp", sinks["jms"].Type())
}

func TestSupervisorConfig(t *testing.T) {
	got := supervisorConfig(config.SupervisorConfig{
		HeartbeatInterval: 10 * time.Second,
		MaxMissedBeats:    2,
		Reconnect:         config.ReconnectConfig{InitialInterval: time.Second, MaxAttempts: 5},
	})
	assert.Equal(t, 10*time.Second, got.HeartbeatInterval)
	assert.Equal(t, 2, got.MaxMissedBeats)
	assert.Equal(t, 5, got.Reconnect.MaxAttempts)
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger := newLogger(config.LogConfig{Level: "chatty", Format: "text"})
	assert.False(t, logger.Enabled(t.Context(), slog.LevelDebug))
	assert.True(t, logger.Enabled(t.Context(), slog.LevelInfo))
}
