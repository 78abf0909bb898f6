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

package plugins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
	"golang.org/x/sync/errgroup"
)

// Registry holds the notification sinks and fans every notification out to
// the healthy ones.
type Registry struct {
	sinks   map[string]core.Sink
	healthy map[string]bool
	logger  *slog.Logger
	mu      sync.RWMutex
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sinks:   make(map[string]core.Sink),
		healthy: make(map[string]bool),
		logger:  logger,
	}
}

var _ core.Notifier = (*Registry)(nil)

func (r *Registry) RegisterSink(s core.Sink) {
	r.mu.Lock()
	r.sinks[s.Name()] = s
	r.mu.Unlock()
	r.logger.Info("registered sink", "name", s.Name(), "type", s.Type())
}

func (r *Registry) Sinks() map[string]core.Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := make(map[string]core.Sink, len(r.sinks))
	for k, v := range r.sinks {
		cp[k] = v
	}
	return cp
}

// ConnectSinks connects all sinks concurrently and returns how many came up.
// A sink that fails to connect is marked unhealthy and skipped by Notify.
func (r *Registry) ConnectSinks(ctx context.Context) int {
	sinks := r.Sinks()
	results := make(map[string]bool, len(sinks))
	var mu sync.Mutex

	var g errgroup.Group
	for name, s := range sinks {
		g.Go(func() error {
			err := s.Connect(ctx)
			if err != nil {
				r.logger.Error("sink connect failed", "name", name, "error", err)
			}
			mu.Lock()
			results[name] = err == nil
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	connected := 0
	for name, ok := range results {
		r.healthy[name] = ok
		if ok {
			connected++
		}
	}
	return connected
}

func (r *Registry) IsSinkHealthy(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.healthy[name]
}

// Notify delivers n to every healthy sink. One failing sink does not stop
// delivery to the others; all failures are returned together.
func (r *Registry) Notify(ctx context.Context, n core.Notification) error {
	r.mu.RLock()
	targets := make([]core.Sink, 0, len(r.sinks))
	for name, s := range r.sinks {
		if r.healthy[name] {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, s := range targets {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("sink panic recovered", "name", s.Name(), "error", rec)
				}
			}()
			if err := s.Notify(ctx, n); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (r *Registry) StopAll(ctx context.Context) {
	for name, s := range r.Sinks() {
		r.logger.Info("stopping sink", "name", name)
		if err := s.Disconnect(ctx); err != nil {
			r.logger.Warn("sink disconnect failed", "name", name, "error", err)
		}
	}
}
