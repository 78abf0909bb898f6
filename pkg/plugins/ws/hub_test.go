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

package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

type call struct {
	requester string
	id        string
	action    core.Action
}

type fakeController struct {
	mu    sync.Mutex
	calls    []call
	err      error
	sessions []core.Session
}

func (f *fakeController) record(c call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.err
}

func (f *fakeController) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeController) StartSession(ctx context.Context, id, requester string) error {
	return f.record(call{requester: requester, id: id, action: core.ActionStart})
}

func (f *fakeController) SessionAction(ctx context.Context, requester, id string, action core.Action) error {
	return f.record(call{requester: requester, id: id, action: action})
}

func (f *fakeController) QueryStatus(ctx context.Context, id string) (*core.Session, error) {
	return nil, core.ErrSessionNotFound
}

func (f *fakeController) ListSessions(ctx context.Context) ([]core.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions, nil
}

func (f *fakeController) SendMessage(ctx context.Context, id, to, body string) (string, error) {
	return "", core.ErrSessionNotConnected
}

func newTestHub(t *testing.T) (*Hub, *fakeController, string) {
	t.Helper()
	hub := New("dashboard", slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctrl := &fakeController{}
	hub.Bind(ctrl)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		_ = hub.Disconnect(context.Background())
		srv.Close()
	})
	return hub, ctrl, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, requester string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set(core.RequesterIDHeader, requester)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	// Every client is greeted with the current sessions list.
	snap := readFrame(t, conn)
	require.Equal(t, FrameSessions, snap.Type)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func assertNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	var f Frame
	err := conn.ReadJSON(&f)
	assert.Error(t, err, "unexpected frame %+v", f)
}

func TestNotifyGoesToRequesterRoom(t *testing.T) {
	hub, _, url := newTestHub(t)
	a := dial(t, url, "alice")
	b := dial(t, url, "bob")
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Notify(context.Background(), core.Notification{
		Kind: core.NotificationQR, Requester: "alice", SessionID: "S1", QR: "ref-1",
	}))

	got := readFrame(t, a)
	assert.Equal(t, FrameQR, got.Type)
	assert.Equal(t, "S1", got.SessionID)
	assert.Equal(t, "ref-1", got.QR)
	assertNoFrame(t, b)
}

func TestNotifyBroadcastsWhenRoomEmpty(t *testing.T) {
	hub, _, url := newTestHub(t)
	a := dial(t, url, "alice")
	b := dial(t, url, "bob")
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	sessions := []core.Session{{ID: "S1", Status: core.StatusConnected}}
	require.NoError(t, hub.Notify(context.Background(), core.Notification{
		Kind: core.NotificationSessions, Requester: "carol", Sessions: sessions,
	}))

	for _, conn := range []*websocket.Conn{a, b} {
		got := readFrame(t, conn)
		assert.Equal(t, FrameSessions, got.Type)
		require.Len(t, got.Sessions, 1)
		assert.Equal(t, core.StatusConnected, got.Sessions[0].Status)
	}
}

func TestSessionActionFrame(t *testing.T) {
	hub, ctrl, url := newTestHub(t)
	conn := dial(t, url, "alice")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Frame{Type: FrameSessionAction, ID: "S1", Action: "relogin"}))
	require.Eventually(t, func() bool { return len(ctrl.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, call{requester: "alice", id: "S1", action: core.ActionRelogin}, ctrl.snapshot()[0])
}

func TestUnknownActionRepliesWithError(t *testing.T) {
	hub, ctrl, url := newTestHub(t)
	conn := dial(t, url, "alice")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Frame{Type: FrameSessionAction, ID: "S1", Action: "explode"}))
	got := readFrame(t, conn)
	assert.Equal(t, FrameError, got.Type)
	assert.Equal(t, "S1", got.SessionID)
	assert.Contains(t, got.Error, "unknown action")
	assert.Empty(t, ctrl.snapshot())
}

func TestGenerateQRStartsFreshSession(t *testing.T) {
	hub, ctrl, url := newTestHub(t)
	conn := dial(t, url, "alice")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Frame{Type: FrameGenerateQR}))
	require.Eventually(t, func() bool { return len(ctrl.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	c := ctrl.snapshot()[0]
	assert.Equal(t, core.ActionStart, c.action)
	assert.Equal(t, "alice", c.requester)
	_, err := uuid.Parse(c.id)
	assert.NoError(t, err)
}

func TestDisconnectDropsClients(t *testing.T) {
	hub, _, url := newTestHub(t)
	conn := dial(t, url, "alice")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Disconnect(context.Background()))
	assert.Equal(t, 0, hub.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestSnapshotOnConnect(t *testing.T) {
	hub := New("dashboard", slog.New(slog.NewTextHandler(io.Discard, nil)))
	hub.Bind(&fakeController{sessions: []core.Session{{ID: "S1", Status: core.StatusReconnecting}}})
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		_ = hub.Disconnect(context.Background())
		srv.Close()
	})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	got := readFrame(t, conn)
	assert.Equal(t, FrameSessions, got.Type)
	require.Len(t, got.Sessions, 1)
	assert.Equal(t, core.StatusReconnecting, got.Sessions[0].Status)
}
