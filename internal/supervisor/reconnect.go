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
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

// scheduleReconnect replaces any pending reconnect loop for e. cause is the
// failure that made the session drop. Must be called with e.mu held.
func (s *Supervisor) scheduleReconnect(id string, e *entry, immediate bool, cause error) {
	if s.ctx.Err() != nil {
		return
	}
	if e.cancelLoop != nil {
		e.cancelLoop()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	e.cancelLoop = cancel
	go s.reconnectLoop(ctx, id, e, immediate, cause)
}

func (s *Supervisor) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.cfg.Reconnect.InitialInterval
	eb.MaxInterval = s.cfg.Reconnect.MaxInterval
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// reconnectLoop reopens the session after a transient close. The backoff
// and the attempt count live on the entry and are only reset once a
// connection reaches opened, so a handle that opens and then dies before
// authenticating continues the same schedule instead of starting over. The
// first attempt is immediate when the connection had been fully open.
func (s *Supervisor) reconnectLoop(ctx context.Context, id string, e *entry, immediate bool, cause error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("reconnect loop panic recovered", "session_id", id, "error", r)
		}
	}()

	for {
		e.mu.Lock()
		if ctx.Err() != nil || e.removed || e.conn != nil || e.starting {
			e.mu.Unlock()
			return
		}
		if limit := s.cfg.Reconnect.MaxAttempts; limit > 0 && e.retries >= limit {
			attempts := e.retries
			s.abandon(id, e, cause)
			e.mu.Unlock()

			s.logger.Error("giving up reconnecting", "session_id", id, "attempts", attempts, "error", cause)
			s.notifySessions(id)
			return
		}
		if e.retry == nil {
			e.retry = s.newBackOff()
		}
		var delay time.Duration
		if !immediate {
			delay = e.retry.NextBackOff()
		}
		e.retries++
		n := e.retries
		e.mu.Unlock()

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		err := s.start(ctx, id, "", core.StatusReconnecting)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			e.mu.Lock()
			if ctx.Err() == nil && e.cancelLoop != nil {
				e.cancelLoop()
				e.cancelLoop = nil
			}
			e.mu.Unlock()
			return
		}
		s.logger.Warn("reconnect attempt failed", "session_id", id, "attempt", n, "error", err)
		cause = err
		immediate = false

		if errors.Is(err, core.ErrInvalidSessionID) || errors.Is(err, core.ErrSupervisorClosed) {
			e.mu.Lock()
			if ctx.Err() == nil && !e.removed && e.conn == nil && !e.starting {
				s.abandon(id, e, err)
			}
			e.mu.Unlock()
			s.notifySessions(id)
			return
		}
	}
}

// abandon marks the session failed and clears its reconnect state, so a
// later caller-driven start gets a fresh schedule. Must be called with e.mu
// held by the loop that owns e.cancelLoop.
func (s *Supervisor) abandon(id string, e *entry, cause error) {
	if e.cancelLoop != nil {
		e.cancelLoop()
		e.cancelLoop = nil
	}
	e.resetRetry()
	e.status = core.StatusError
	s.persist(s.ctx, id, core.StatusError, cause)
}
