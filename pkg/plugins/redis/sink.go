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

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

type Config struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// Sink publishes notifications on Redis pub/sub channels named
// <prefix><requester or broadcast>.
type Sink struct {
	name   string
	cfg    Config
	client *redis.Client
	logger *slog.Logger
}

func New(name string, cfg Config, logger *slog.Logger) *Sink {
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = "wa:notify:"
	}
	return &Sink{name: name, cfg: cfg, logger: logger}
}

func (s *Sink) Name() string { return s.name }
func (s *Sink) Type() string { return "redis" }

func (s *Sink) Connect(ctx context.Context) error {
	s.client = redis.NewClient(&redis.Options{
		Addr:     s.cfg.Addr,
		Password: s.cfg.Password,
		DB:       s.cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}

	s.logger.Info("redis sink connected", "name", s.name, "addr", s.cfg.Addr)
	return nil
}

func (s *Sink) Disconnect(ctx context.Context) error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Sink) Channel(n core.Notification) string {
	return s.cfg.ChannelPrefix + n.Scope()
}

func (s *Sink) Notify(ctx context.Context, n core.Notification) error {
	if s.client == nil {
		return nil
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.Channel(n), payload).Err()
}
