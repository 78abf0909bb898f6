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

package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

type event struct {
	name string
	data core.Notification
}

// subscribe opens a stream and decodes its events in the background.
func subscribe(t *testing.T, url, requester string) <-chan event {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set(core.RequesterIDHeader, requester)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	out := make(chan event, 8)
	go func() {
		defer resp.Body.Close()
		defer close(out)
		scanner := bufio.NewScanner(resp.Body)
		var cur event
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				cur.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				_ = json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &cur.data)
			case line == "":
				out <- cur
				cur = event{}
			}
		}
	}()
	return out
}

func newTestStream(t *testing.T) (*Stream, string) {
	t.Helper()
	s := New("events", slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(s)
	t.Cleanup(func() {
		_ = s.Disconnect(context.Background())
		srv.Close()
	})
	return s, srv.URL
}

func TestNotifyRoutesToRequester(t *testing.T) {
	s, url := newTestStream(t)
	alice := subscribe(t, url, "alice")
	bob := subscribe(t, url, "bob")
	require.Eventually(t, func() bool { return s.SubscriberCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Notify(context.Background(), core.Notification{
		ID: "n1", Kind: core.NotificationQR, Requester: "alice", SessionID: "S1", QR: "ref",
	}))

	select {
	case evt := <-alice:
		assert.Equal(t, "qr", evt.name)
		assert.Equal(t, "ref", evt.data.QR)
	case <-time.After(2 * time.Second):
		t.Fatal("alice got nothing")
	}
	select {
	case evt := <-bob:
		t.Fatalf("bob got %+v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNotifyBroadcastsWithoutRequester(t *testing.T) {
	s, url := newTestStream(t)
	alice := subscribe(t, url, "alice")
	bob := subscribe(t, url, "bob")
	require.Eventually(t, func() bool { return s.SubscriberCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Notify(context.Background(), core.Notification{
		ID: "n2", Kind: core.NotificationSessions, Sessions: []core.Session{{ID: "S1", Status: core.StatusConnected}},
	}))

	for _, ch := range []<-chan event{alice, bob} {
		select {
		case evt := <-ch:
			assert.Equal(t, "sessions", evt.name)
			require.Len(t, evt.data.Sessions, 1)
		case <-time.After(2 * time.Second):
			t.Fatal("subscriber got nothing")
		}
	}
}

func TestDisconnectEndsStreams(t *testing.T) {
	s, url := newTestStream(t)
	events := subscribe(t, url, "alice")
	require.Eventually(t, func() bool { return s.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Disconnect(context.Background()))

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed")
	}
}
