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

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wso2/api-platform/gateway/session-supervisor/internal/heartbeat"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

var errEventStreamEnded = errors.New("event stream ended")

// pump delivers the events of one connection in emission order. Events
// from a superseded generation are dropped without taking the entry lock.
func (s *Supervisor) pump(id string, e *entry, gen uint64, conn core.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event pump panic recovered", "session_id", id, "generation", gen, "error", r)
		}
	}()

	for evt := range conn.Events() {
		if e.gen.Load() != gen {
			s.discard(id, gen, evt)
			continue
		}
		s.dispatch(id, e, gen, conn, evt)
	}

	// The stream closed without a close event while still current.
	if e.gen.Load() == gen {
		s.handleClosed(id, e, gen, conn, core.Event{Type: core.EventTypeClosed, Reason: errEventStreamEnded.Error()})
	}
}

func (s *Supervisor) discard(id string, gen uint64, evt core.Event) {
	s.logger.Debug("dropping stale event", "session_id", id, "generation", gen, "event", evt.Type.String())
	if evt.Ack != nil {
		evt.Ack(fmt.Errorf("%w: generation %d superseded", core.ErrClosed, gen))
	}
}

func (s *Supervisor) dispatch(id string, e *entry, gen uint64, conn core.Conn, evt core.Event) {
	acked := false
	if evt.Ack != nil {
		ack := evt.Ack
		var once sync.Once
		evt.Ack = func(err error) {
			once.Do(func() {
				acked = true
				ack(err)
			})
		}
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event handler panic recovered",
				"session_id", id,
				"generation", gen,
				"event", evt.Type.String(),
				"error", r,
			)
			if evt.Ack != nil && !acked {
				evt.Ack(fmt.Errorf("event handler panic: %v", r))
			}
		}
	}()

	if s.eventLog != nil {
		s.eventLog.Log(id, gen, evt)
	}

	switch evt.Type {
	case core.EventTypeQR:
		s.handleQR(id, e, gen, evt)
	case core.EventTypeOpened:
		s.handleOpened(id, e, gen, conn)
	case core.EventTypeClosed:
		s.handleClosed(id, e, gen, conn, evt)
	case core.EventTypeCredentials:
		s.handleCredentials(id, e, gen, evt)
	case core.EventTypeMessage:
		// logged above
	default:
		s.logger.Warn("unknown event type", "session_id", id, "event", evt.Type.String())
		if evt.Ack != nil {
			evt.Ack(nil)
		}
	}
}

func (s *Supervisor) handleQR(id string, e *entry, gen uint64, evt core.Event) {
	e.mu.Lock()
	if e.gen.Load() != gen {
		e.mu.Unlock()
		return
	}
	if e.cur != nil {
		e.cur.markQR()
	}
	e.mu.Unlock()

	s.notifyQR(id, evt.QR)
}

func (s *Supervisor) handleOpened(id string, e *entry, gen uint64, conn core.Conn) {
	e.mu.Lock()
	if e.gen.Load() != gen {
		e.mu.Unlock()
		return
	}
	e.status = core.StatusConnected
	e.loggedOut = false
	e.resetRetry()
	if e.cur != nil {
		e.cur.markConnected()
	}
	s.persist(s.ctx, id, core.StatusConnected, nil)

	if e.monitor != nil {
		e.monitor.Stop()
	}
	e.monitor = heartbeat.New(id, conn, heartbeat.Config{
		Interval:  s.cfg.HeartbeatInterval,
		MaxMissed: s.cfg.MaxMissedBeats,
	}, func() {
		go s.forceReconnect(id, gen)
	}, s.baseLogger)
	e.monitor.Start(s.ctx)
	e.mu.Unlock()

	s.logger.Info("session connected", "session_id", id, "generation", gen)
	s.notifySessions(id)
}

// handleClosed removes the handle. A logged-out close leaves the session
// disconnected until a caller re-authenticates; any other close starts the
// reconnect loop with the stored credentials.
func (s *Supervisor) handleClosed(id string, e *entry, gen uint64, conn core.Conn, evt core.Event) {
	e.mu.Lock()
	if e.gen.Load() != gen {
		e.mu.Unlock()
		return
	}
	wasConnected := e.status == core.StatusConnected
	if e.cur != nil {
		e.cur.end(evt.LoggedOut, closeCause(evt))
	}
	e.detach(s.nextGen.Add(1))

	if evt.LoggedOut {
		e.status = core.StatusDisconnected
		e.loggedOut = true
		s.persist(s.ctx, id, core.StatusDisconnected, closeCause(evt))
	} else {
		e.status = core.StatusReconnecting
		s.persist(s.ctx, id, core.StatusReconnecting, closeCause(evt))
		s.scheduleReconnect(id, e, wasConnected, closeCause(evt))
	}
	e.mu.Unlock()

	if err := conn.Close(); err != nil {
		s.logger.Debug("close after close event", "session_id", id, "error", err)
	}
	s.logger.Info("session closed",
		"session_id", id,
		"generation", gen,
		"reason", evt.Reason,
		"logged_out", evt.LoggedOut,
	)
	s.notifySessions(id)
}

func closeCause(evt core.Event) error {
	if evt.LoggedOut {
		return fmt.Errorf("%w: %s", core.ErrReauthenticationRequired, evt.Reason)
	}
	return fmt.Errorf("%w: %s", core.ErrClosed, evt.Reason)
}

// handleCredentials persists the update before acknowledging it, so the
// protocol side never runs ahead of durable key material.
func (s *Supervisor) handleCredentials(id string, e *entry, gen uint64, evt core.Event) {
	e.mu.Lock()
	if e.gen.Load() != gen {
		e.mu.Unlock()
		s.discard(id, gen, evt)
		return
	}

	var errs []error
	if evt.Creds != nil {
		if err := s.creds.SaveCreds(s.ctx, id, evt.Creds); err != nil {
			errs = append(errs, err)
		}
	}
	if len(evt.Keys) > 0 {
		if err := s.creds.SetKeys(s.ctx, id, evt.Keys); err != nil {
			errs = append(errs, err)
		}
	}
	e.mu.Unlock()

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("failed to persist credentials", "session_id", id, "generation", gen, "error", err)
	}
	if evt.Ack != nil {
		evt.Ack(err)
	}
}

// forceReconnect runs when the heartbeat monitor of gen gave up.
func (s *Supervisor) forceReconnect(id string, gen uint64) {
	s.logger.Warn("forcing reconnect",
		"session_id", id,
		"generation", gen,
		"error", core.ErrHeartbeatExhausted,
	)
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if err := s.reconnect(ctx, id, gen); err != nil {
		s.logger.Error("forced reconnect failed", "session_id", id, "error", err)
	}
}
