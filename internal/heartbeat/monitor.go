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

// Package heartbeat probes a live connection on a fixed interval and reports
// when it stops answering.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultInterval  = 30 * time.Second
	DefaultMaxMissed = 3
)

// Prober is the part of a connection the monitor needs.
type Prober interface {
	Probe(ctx context.Context) error
}

type Config struct {
	Interval  time.Duration
	MaxMissed int
}

// Monitor watches one connection. It is created when the connection opens
// and discarded when it closes; it is never restarted.
type Monitor struct {
	sessionID   string
	prober      Prober
	interval    time.Duration
	maxMissed   int
	onExhausted func()
	logger      *slog.Logger

	missed   atomic.Int32
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a monitor. onExhausted runs on the monitor goroutine once
// MaxMissed consecutive probes have failed, after which the monitor stops.
func New(sessionID string, prober Prober, cfg Config, onExhausted func(), logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxMissed <= 0 {
		cfg.MaxMissed = DefaultMaxMissed
	}
	return &Monitor{
		sessionID:   sessionID,
		prober:      prober,
		interval:    cfg.Interval,
		maxMissed:   cfg.MaxMissed,
		onExhausted: onExhausted,
		logger:      logger.With("component", "heartbeat", "session_id", sessionID),
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start begins probing in the background.
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Debug("heartbeat started", "interval", m.interval, "max_missed", m.maxMissed)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.beat(ctx) {
				m.logger.Warn("heartbeat exhausted", "missed", m.maxMissed)
				if m.onExhausted != nil {
					m.onExhausted()
				}
				return
			}
		}
	}
}

// beat runs a single probe and reports whether the threshold was reached.
func (m *Monitor) beat(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	err := m.prober.Probe(probeCtx)
	cancel()

	if ctx.Err() != nil {
		// Stopped while the probe was in flight.
		return false
	}
	if err == nil {
		if n := m.missed.Swap(0); n > 0 {
			m.logger.Debug("heartbeat recovered", "missed", n)
		}
		return false
	}

	n := m.missed.Add(1)
	m.logger.Warn("heartbeat missed", "missed", n, "error", err)
	return int(n) >= m.maxMissed
}

// Missed returns the current count of consecutive failed probes.
func (m *Monitor) Missed() int {
	return int(m.missed.Load())
}

// Stop halts probing. It is safe to call more than once and from any
// goroutine, including from onExhausted.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
}

// Done is closed when the monitor goroutine has exited.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}
