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
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/wso2/api-platform/gateway/session-supervisor/internal/heartbeat"
	"github.com/wso2/api-platform/gateway/session-supervisor/internal/logging"
	"github.com/wso2/api-platform/gateway/session-supervisor/internal/routing"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/credentials"
)

type ReconnectConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxAttempts bounds consecutive reconnect attempts that do not reach
	// opened; zero retries forever.
	MaxAttempts int
}

type Config struct {
	HeartbeatInterval    time.Duration
	MaxMissedBeats       int
	SendReconnectTimeout time.Duration
	LogoutTimeout        time.Duration
	NotifyTimeout        time.Duration
	Reconnect            ReconnectConfig
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = heartbeat.DefaultInterval
	}
	if c.MaxMissedBeats <= 0 {
		c.MaxMissedBeats = heartbeat.DefaultMaxMissed
	}
	if c.SendReconnectTimeout <= 0 {
		c.SendReconnectTimeout = 15 * time.Second
	}
	if c.LogoutTimeout <= 0 {
		c.LogoutTimeout = 5 * time.Second
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 5 * time.Second
	}
	if c.Reconnect.InitialInterval <= 0 {
		c.Reconnect.InitialInterval = time.Second
	}
	if c.Reconnect.MaxInterval <= 0 {
		c.Reconnect.MaxInterval = time.Minute
	}
}

// attempt tracks one generation of a session from open until it ends.
type attempt struct {
	gen       uint64
	connected chan struct{}
	qr        chan struct{}
	ended     chan struct{}

	connOnce, qrOnce, endOnce sync.Once

	// set before ended is closed
	loggedOut bool
	err       error
}

func newAttempt(gen uint64) *attempt {
	return &attempt{
		gen:       gen,
		connected: make(chan struct{}),
		qr:        make(chan struct{}),
		ended:     make(chan struct{}),
	}
}

func (a *attempt) markConnected() { a.connOnce.Do(func() { close(a.connected) }) }
func (a *attempt) markQR()        { a.qrOnce.Do(func() { close(a.qr) }) }

func (a *attempt) end(loggedOut bool, err error) {
	a.endOnce.Do(func() {
		a.loggedOut = loggedOut
		a.err = err
		close(a.ended)
	})
}

// entry is the per-id actor state. Every field except gen is guarded by mu;
// gen is also read without the lock so the event pump can drop stale events
// while a lifecycle operation holds mu.
type entry struct {
	mu  sync.Mutex
	gen atomic.Uint64

	cur        *attempt
	conn       core.Conn
	status     core.Status
	starting   bool
	loggedOut  bool
	monitor    *heartbeat.Monitor
	cancelConn context.CancelFunc
	cancelLoop context.CancelFunc

	// reconnect schedule, kept across handles until one reaches opened
	retry   backoff.BackOff
	retries int

	// set once the entry has been dropped from the supervisor
	removed bool
}

func (e *entry) resetRetry() {
	e.retry = nil
	e.retries = 0
}

// detach stops everything owned by the current generation and moves the
// entry to gen. The returned connection, if any, is still open.
func (e *entry) detach(gen uint64) core.Conn {
	e.gen.Store(gen)
	if e.cancelConn != nil {
		e.cancelConn()
		e.cancelConn = nil
	}
	if e.cancelLoop != nil {
		e.cancelLoop()
		e.cancelLoop = nil
	}
	if e.monitor != nil {
		e.monitor.Stop()
		e.monitor = nil
	}
	if e.cur != nil {
		e.cur.end(false, core.ErrClosed)
	}
	conn := e.conn
	e.conn = nil
	e.starting = false
	return conn
}

// Supervisor owns every live session connection of the process.
type Supervisor struct {
	entries   sync.Map // session id -> *entry
	nextGen   atomic.Uint64
	connector core.Connector
	creds     core.CredentialStore
	sessions  core.SessionStore
	notifier  core.Notifier
	routes    *routing.Table
	eventLog  *logging.EventLogger
	cfg       Config
	logger    *slog.Logger

	baseLogger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

func New(
	cfg Config,
	connector core.Connector,
	creds core.CredentialStore,
	sessions core.SessionStore,
	notifier core.Notifier,
	routes *routing.Table,
	logger *slog.Logger,
	eventLog *logging.EventLogger,
) *Supervisor {
	cfg.applyDefaults()
	if routes == nil {
		routes = routing.NewTable()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		connector: connector,
		creds:     creds,
		sessions:  sessions,
		notifier:  notifier,
		routes:    routes,
		eventLog:  eventLog,
		cfg:       cfg,
		logger:    logger.With("component", "supervisor"),

		baseLogger: logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

var _ core.SessionController = (*Supervisor)(nil)

func (s *Supervisor) entry(id string) *entry {
	v, _ := s.entries.LoadOrStore(id, &entry{status: core.StatusDisconnected})
	return v.(*entry)
}

// lockEntry returns the live entry for id with its lock held. An entry that
// was removed while the caller waited for the lock is skipped.
func (s *Supervisor) lockEntry(id string) *entry {
	for {
		e := s.entry(id)
		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

// remove drops e from the supervisor. Must be called with e.mu held.
func (s *Supervisor) remove(id string, e *entry) {
	e.removed = true
	s.entries.CompareAndDelete(id, e)
}

func (s *Supervisor) lookup(id string) (*entry, bool) {
	v, ok := s.entries.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

// StartSession opens a connection for id unless one is live or being opened.
func (s *Supervisor) StartSession(ctx context.Context, id, requester string) error {
	return s.start(ctx, id, requester, core.StatusError)
}

func (s *Supervisor) start(ctx context.Context, id, requester string, failStatus core.Status) error {
	if s.closed.Load() {
		return core.ErrSupervisorClosed
	}
	s.routes.Add(&core.Route{SessionID: id, Requester: requester})

	e := s.lockEntry(id)
	if err := ctx.Err(); err != nil {
		e.mu.Unlock()
		return err
	}
	if e.conn != nil || e.starting {
		e.mu.Unlock()
		s.logger.Debug("session already active", "session_id", id)
		return nil
	}
	a, auth, openCtx, err := s.reserve(ctx, id, e, failStatus)
	e.mu.Unlock()
	if err != nil {
		s.notifySessions(id)
		return err
	}
	return s.launch(ctx, id, e, a, openCtx, auth, failStatus)
}

// reserve claims a new generation for e and loads its credentials. Must be
// called with e.mu held.
func (s *Supervisor) reserve(ctx context.Context, id string, e *entry, failStatus core.Status) (*attempt, core.AuthState, context.Context, error) {
	gen := s.nextGen.Add(1)
	e.gen.Store(gen)

	rec, err := s.creds.Load(ctx, id)
	if errors.Is(err, core.ErrInvalidSessionID) {
		s.remove(id, e)
		s.routes.Remove(id)
		return nil, core.AuthState{}, nil, err
	}
	if err != nil {
		e.status = failStatus
		s.persist(ctx, id, failStatus, err)
		return nil, core.AuthState{}, nil, err
	}

	openCtx, cancel := context.WithCancel(s.ctx)
	a := newAttempt(gen)
	e.cur = a
	e.starting = true
	e.cancelConn = cancel

	auth := core.AuthState{Creds: rec.Creds, Keys: credentials.Bind(s.creds, id)}
	return a, auth, openCtx, nil
}

// launch performs the open outside the entry lock and installs the result
// only if the generation is still current.
func (s *Supervisor) launch(ctx context.Context, id string, e *entry, a *attempt, openCtx context.Context, auth core.AuthState, failStatus core.Status) error {
	conn, err := s.connector.Open(openCtx, id, auth)

	e.mu.Lock()
	if e.gen.Load() != a.gen {
		e.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		s.logger.Info("discarding superseded open", "session_id", id, "generation", a.gen)
		return nil
	}

	if err != nil {
		if e.cancelConn != nil {
			e.cancelConn()
			e.cancelConn = nil
		}
		e.starting = false
		e.status = failStatus
		a.end(false, err)
		s.persist(ctx, id, failStatus, err)
		e.mu.Unlock()

		s.logger.Warn("failed to open session", "session_id", id, "generation", a.gen, "error", err)
		s.notifySessions(id)
		if errors.Is(err, core.ErrConnect) {
			return fmt.Errorf("session=%s: %w", id, err)
		}
		return fmt.Errorf("%w: session=%s: %w", core.ErrConnect, id, err)
	}

	e.conn = conn
	e.starting = false
	e.status = core.StatusConnecting
	s.persist(ctx, id, core.StatusConnecting, nil)
	go s.pump(id, e, a.gen, conn)
	e.mu.Unlock()

	s.logger.Info("session opened", "session_id", id, "generation", a.gen)
	s.notifySessions(id)
	return nil
}

// StopSession closes the connection and marks the session disconnected.
// Credentials are kept, so a later start resumes without pairing.
func (s *Supervisor) StopSession(ctx context.Context, id string) error {
	if _, ok := s.lookup(id); !ok {
		if _, err := s.sessions.Get(ctx, id); err != nil {
			return err
		}
	}
	e := s.lockEntry(id)
	e.resetRetry()
	conn := e.detach(s.nextGen.Add(1))
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Warn("close failed", "session_id", id, "error", err)
		}
	}
	e.status = core.StatusDisconnected
	_, err := s.sessions.UpdateStatus(ctx, id, core.StatusDisconnected, "")
	e.mu.Unlock()

	s.logger.Info("session stopped", "session_id", id)
	s.notifySessions(id)
	return err
}

// ReconnectSession logs the current connection out, closes it and opens a
// new one. A successful logout revokes the device, as does an earlier
// logged-out close; in both cases the credential record is reset so the new
// connection pairs again with a QR code.
func (s *Supervisor) ReconnectSession(ctx context.Context, id string) error {
	return s.reconnect(ctx, id, 0)
}

func (s *Supervisor) reconnect(ctx context.Context, id string, expectGen uint64) error {
	if s.closed.Load() {
		return core.ErrSupervisorClosed
	}

	e := s.lockEntry(id)
	if expectGen != 0 && (e.gen.Load() != expectGen || e.conn == nil) {
		e.mu.Unlock()
		return nil
	}

	e.resetRetry()
	repair := e.loggedOut
	if conn := e.detach(s.nextGen.Add(1)); conn != nil {
		if err := s.logout(ctx, id, conn); err == nil {
			repair = true
		}
	}
	if repair {
		if err := s.creds.Delete(ctx, id); err != nil {
			e.mu.Unlock()
			return err
		}
		e.loggedOut = false
	}

	a, auth, openCtx, err := s.reserve(ctx, id, e, core.StatusError)
	e.mu.Unlock()
	if err != nil {
		s.notifySessions(id)
		return err
	}
	return s.launch(ctx, id, e, a, openCtx, auth, core.StatusError)
}

func (s *Supervisor) logout(ctx context.Context, id string, conn core.Conn) error {
	lctx, cancel := context.WithTimeout(ctx, s.cfg.LogoutTimeout)
	err := conn.Logout(lctx)
	cancel()
	if err != nil {
		s.logger.Warn("logout failed", "session_id", id, "error", err)
	}
	if cerr := conn.Close(); cerr != nil {
		s.logger.Warn("close failed", "session_id", id, "error", cerr)
	}
	return err
}

// DeleteSession tears the session down and removes its entry, session
// record and credential record before returning.
func (s *Supervisor) DeleteSession(ctx context.Context, id string) error {
	e := s.lockEntry(id)
	if conn := e.detach(s.nextGen.Add(1)); conn != nil {
		_ = s.logout(ctx, id, conn)
	}
	e.status = core.StatusDisconnected
	e.loggedOut = false

	var errs []error
	if err := s.sessions.Delete(ctx, id); err != nil && !errors.Is(err, core.ErrSessionNotFound) {
		errs = append(errs, err)
	}
	if err := s.creds.Delete(ctx, id); err != nil {
		errs = append(errs, err)
	}
	s.remove(id, e)
	e.mu.Unlock()

	requester := s.routes.Requester(id)
	s.routes.Remove(id)

	s.logger.Info("session deleted", "session_id", id)
	s.broadcastSessions(requester, id)
	return errors.Join(errs...)
}

func (s *Supervisor) QueryStatus(ctx context.Context, id string) (*core.Session, error) {
	return s.sessions.Get(ctx, id)
}

func (s *Supervisor) ListSessions(ctx context.Context) ([]core.Session, error) {
	return s.sessions.List(ctx)
}

// SessionAction maps a control action onto the lifecycle operations.
func (s *Supervisor) SessionAction(ctx context.Context, requester, id string, action core.Action) error {
	s.routes.Add(&core.Route{SessionID: id, Requester: requester})

	switch action {
	case core.ActionStart:
		return s.StartSession(ctx, id, requester)
	case core.ActionStop:
		return s.StopSession(ctx, id)
	case core.ActionRelogin:
		return s.ReconnectSession(ctx, id)
	case core.ActionDelete:
		return s.DeleteSession(ctx, id)
	case core.ActionStatus:
		s.broadcastSessions(requester, id)
		return nil
	default:
		return fmt.Errorf("%w: %q", core.ErrUnknownAction, action)
	}
}

// Resume starts every id in ids, typically the configured autostart list.
func (s *Supervisor) Resume(ctx context.Context, ids []string) error {
	var errs []error
	for _, id := range ids {
		if err := s.StartSession(ctx, id, ""); err != nil {
			s.logger.Error("failed to resume session", "session_id", id, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ActiveCount returns how many sessions currently hold a connection.
func (s *Supervisor) ActiveCount() int {
	count := 0
	s.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if e.conn != nil {
			count++
		}
		e.mu.Unlock()
		return true
	})
	return count
}

// Shutdown closes every connection without logging out and marks the
// sessions disconnected. The supervisor cannot be used afterwards.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()

	var errs []error
	s.entries.Range(func(k, v any) bool {
		id := k.(string)
		e := v.(*entry)
		e.mu.Lock()
		defer e.mu.Unlock()

		conn := e.detach(s.nextGen.Add(1))
		if conn == nil {
			return true
		}
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", id, err))
		}
		e.status = core.StatusDisconnected
		if _, err := s.sessions.UpdateStatus(ctx, id, core.StatusDisconnected, ""); err != nil {
			errs = append(errs, err)
		}
		return true
	})

	s.logger.Info("supervisor stopped")
	return errors.Join(errs...)
}

func (s *Supervisor) persist(ctx context.Context, id string, status core.Status, cause error) {
	lastErr := ""
	if cause != nil {
		lastErr = cause.Error()
	}
	if _, err := s.sessions.UpdateStatus(ctx, id, status, lastErr); err != nil {
		s.logger.Error("failed to persist session status",
			"session_id", id,
			"status", string(status),
			"error", err,
		)
	}
}

func (s *Supervisor) notifySessions(id string) {
	s.broadcastSessions(s.routes.Requester(id), id)
}

func (s *Supervisor) broadcastSessions(requester, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.NotifyTimeout)
	defer cancel()

	list, err := s.sessions.List(ctx)
	if err != nil {
		s.logger.Error("failed to list sessions", "error", err)
		return
	}
	s.notify(ctx, core.Notification{
		Kind:      core.NotificationSessions,
		Requester: requester,
		SessionID: id,
		Sessions:  list,
	})
}

func (s *Supervisor) notifyQR(id, qr string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.NotifyTimeout)
	defer cancel()

	s.notify(ctx, core.Notification{
		Kind:      core.NotificationQR,
		Requester: s.routes.Requester(id),
		SessionID: id,
		QR:        qr,
	})
}

func (s *Supervisor) notify(ctx context.Context, n core.Notification) {
	if s.notifier == nil {
		return
	}
	n.ID = uuid.New().String()
	n.Timestamp = time.Now().UTC()
	if s.eventLog != nil {
		s.eventLog.Notification(n)
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("notification failed",
			"kind", string(n.Kind),
			"session_id", n.SessionID,
			"error", err,
		)
	}
}
