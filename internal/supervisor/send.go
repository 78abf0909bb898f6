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
	"time"

	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

// SendMessage delivers body to recipient over session id. A session that is
// not connected gets exactly one reconnect attempt, bounded by
// SendReconnectTimeout; the recipient is checked before anything is sent.
func (s *Supervisor) SendMessage(ctx context.Context, id, to, body string) (string, error) {
	if s.closed.Load() {
		return "", core.ErrSupervisorClosed
	}

	conn := s.connected(id)
	if conn == nil {
		s.logger.Info("session not connected, reconnecting before send", "session_id", id)
		e, a, err := s.restartForSend(ctx, id)
		if err != nil {
			if errors.Is(err, core.ErrSessionNotFound) {
				return "", err
			}
			return "", fmt.Errorf("%w: session=%s: %w", core.ErrSessionNotConnected, id, err)
		}
		if conn, err = s.awaitConnected(ctx, id, e, a); err != nil {
			return "", err
		}
	}

	ok, err := conn.CheckRecipient(ctx, to)
	if err != nil {
		return "", fmt.Errorf("%w: check recipient %s on session %s: %w", core.ErrSendFailed, to, id, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", core.ErrRecipientUnreachable, to)
	}

	msgID, err := conn.Send(ctx, to, body)
	if err != nil {
		return "", fmt.Errorf("%w: session=%s: %w", core.ErrSendFailed, id, err)
	}
	s.logger.Info("message sent", "session_id", id, "message_id", msgID)
	return msgID, nil
}

func (s *Supervisor) connected(id string) core.Conn {
	e, ok := s.lookup(id)
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != core.StatusConnected {
		return nil
	}
	return e.conn
}

// restartForSend returns the attempt to wait on. An open already in flight
// counts as the one attempt; otherwise the session is reopened with its
// stored credentials. A session waiting in the reconnect loop gets the
// loop back if this attempt fails to open.
func (s *Supervisor) restartForSend(ctx context.Context, id string) (*entry, *attempt, error) {
	if _, ok := s.lookup(id); !ok {
		if _, err := s.sessions.Get(ctx, id); err != nil {
			return nil, nil, err
		}
	}

	e := s.lockEntry(id)
	if (e.starting || e.conn != nil) && e.cur != nil {
		a := e.cur
		e.mu.Unlock()
		return e, a, nil
	}

	resume := e.cancelLoop != nil && !e.loggedOut
	failStatus := core.StatusError
	if resume {
		failStatus = core.StatusReconnecting
	}
	if conn := e.detach(s.nextGen.Add(1)); conn != nil {
		_ = conn.Close()
	}
	a, auth, openCtx, err := s.reserve(ctx, id, e, failStatus)
	e.mu.Unlock()
	if err != nil {
		s.notifySessions(id)
		return nil, nil, err
	}
	if err := s.launch(ctx, id, e, a, openCtx, auth, failStatus); err != nil {
		if resume {
			e.mu.Lock()
			if e.gen.Load() == a.gen && e.conn == nil && !e.starting && !e.removed {
				s.scheduleReconnect(id, e, false, err)
			}
			e.mu.Unlock()
		}
		return nil, nil, err
	}
	return e, a, nil
}

func (s *Supervisor) awaitConnected(ctx context.Context, id string, e *entry, a *attempt) (core.Conn, error) {
	timer := time.NewTimer(s.cfg.SendReconnectTimeout)
	defer timer.Stop()

	select {
	case <-a.connected:
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.gen.Load() != a.gen || e.conn == nil {
			return nil, fmt.Errorf("%w: session=%s: connection replaced", core.ErrSessionNotConnected, id)
		}
		return e.conn, nil
	case <-a.qr:
		return nil, fmt.Errorf("%w: %w: session=%s needs pairing", core.ErrSessionNotConnected, core.ErrReauthenticationRequired, id)
	case <-a.ended:
		if a.loggedOut {
			return nil, fmt.Errorf("%w: %w", core.ErrSessionNotConnected, a.err)
		}
		return nil, fmt.Errorf("%w: session=%s: %w", core.ErrSessionNotConnected, id, a.err)
	case <-timer.C:
		return nil, fmt.Errorf("%w: session=%s: timed out after %s", core.ErrSessionNotConnected, id, s.cfg.SendReconnectTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: session=%s: %w", core.ErrSessionNotConnected, id, ctx.Err())
	}
}
