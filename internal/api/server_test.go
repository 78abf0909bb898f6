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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

type mockController struct {
	sessions  map[string]*core.Session
	actionErr error
	sendErr   error
	listErr   error

	started    []string
	requesters []string
	actions    []core.Action
	sent       []string
}

func newMockController() *mockController {
	return &mockController{sessions: make(map[string]*core.Session)}
}

func (m *mockController) StartSession(ctx context.Context, id, requester string) error {
	m.started = append(m.started, id)
	m.requesters = append(m.requesters, requester)
	return m.actionErr
}

func (m *mockController) SessionAction(ctx context.Context, requester, id string, action core.Action) error {
	m.actions = append(m.actions, action)
	m.requesters = append(m.requesters, requester)
	return m.actionErr
}

func (m *mockController) QueryStatus(ctx context.Context, id string) (*core.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: id=%s", core.ErrSessionNotFound, id)
	}
	return s, nil
}

func (m *mockController) ListSessions(ctx context.Context) ([]core.Session, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]core.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out, nil
}

func (m *mockController) SendMessage(ctx context.Context, id, to, body string) (string, error) {
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.sent = append(m.sent, id+":"+to+":"+body)
	return "msg-1", nil
}

func newTestRouter(ctrl core.SessionController) *gin.Engine {
	gin.SetMode(gin.TestMode)
	server := NewAPIServer(ctrl, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return server.Router()
}

func doJSON(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(core.RequesterIDHeader, "dash-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestListSessions_Success(t *testing.T) {
	ctrl := newMockController()
	ctrl.sessions["S1"] = &core.Session{ID: "S1", Status: core.StatusConnected}
	ctrl.sessions["S2"] = &core.Session{ID: "S2", Status: core.StatusReconnecting}

	w := doJSON(newTestRouter(ctrl), http.MethodGet, "/api/v1/sessions", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp ListSessionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, 2, resp.TotalCount)
	assert.NotEmpty(t, w.Header().Get(CorrelationIDHeader))
}

func TestListSessions_StoreError(t *testing.T) {
	ctrl := newMockController()
	ctrl.listErr = fmt.Errorf("redis down")

	w := doJSON(newTestRouter(ctrl), http.MethodGet, "/api/v1/sessions", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "error", resp["status"])
	assert.Contains(t, resp["message"], "Failed to list sessions")
}

func TestGetSession(t *testing.T) {
	ctrl := newMockController()
	ctrl.sessions["S1"] = &core.Session{ID: "S1", Status: core.StatusConnected}
	router := newTestRouter(ctrl)

	w := doJSON(router, http.MethodGet, "/api/v1/sessions/S1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Session)
	assert.Equal(t, core.StatusConnected, resp.Session.Status)

	w = doJSON(router, http.MethodGet, "/api/v1/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateSession_GeneratesID(t *testing.T) {
	ctrl := newMockController()

	w := doJSON(newTestRouter(ctrl), http.MethodPost, "/api/v1/sessions", nil)

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, ctrl.started, 1)
	assert.NotEmpty(t, ctrl.started[0])
	assert.Equal(t, []string{"dash-1"}, ctrl.requesters)
}

func TestCreateSession_WithID(t *testing.T) {
	ctrl := newMockController()

	w := doJSON(newTestRouter(ctrl), http.MethodPost, "/api/v1/sessions", CreateSessionRequest{ID: "S9"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"S9"}, ctrl.started)
}

func TestSessionAction_Success(t *testing.T) {
	ctrl := newMockController()
	ctrl.sessions["S1"] = &core.Session{ID: "S1", Status: core.StatusDisconnected}

	w := doJSON(newTestRouter(ctrl), http.MethodPost, "/api/v1/sessions/S1/actions", ActionRequest{Action: "stop"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []core.Action{core.ActionStop}, ctrl.actions)
	assert.Equal(t, []string{"dash-1"}, ctrl.requesters)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Session)
	assert.Equal(t, core.StatusDisconnected, resp.Session.Status)
}

func TestSessionAction_UnknownAction(t *testing.T) {
	ctrl := newMockController()

	w := doJSON(newTestRouter(ctrl), http.MethodPost, "/api/v1/sessions/S1/actions", ActionRequest{Action: "explode"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, ctrl.actions)
	resp := decode(t, w)
	assert.Contains(t, resp["message"], "Invalid action")
}

func TestSessionAction_InvalidRequestBody(t *testing.T) {
	router := newTestRouter(newMockController())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/S1/actions", bytes.NewReader([]byte("invalid json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "error", resp["status"])
	assert.Contains(t, resp["message"], "Invalid request body")
}

func TestSendMessage_Success(t *testing.T) {
	ctrl := newMockController()

	w := doJSON(newTestRouter(ctrl), http.MethodPost, "/api/v1/sessions/S1/messages", SendMessageRequest{To: "123", Body: "hi"})

	assert.Equal(t, http.StatusOK, w.Code)
	var resp SendMessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "msg-1", resp.MessageID)
	assert.Equal(t, []string{"S1:123:hi"}, ctrl.sent)
}

func TestSendMessage_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not connected", fmt.Errorf("%w: id=S1", core.ErrSessionNotConnected), http.StatusServiceUnavailable},
		{"needs pairing", fmt.Errorf("%w: %w", core.ErrSessionNotConnected, core.ErrReauthenticationRequired), http.StatusConflict},
		{"unreachable", fmt.Errorf("%w: to=123", core.ErrRecipientUnreachable), http.StatusUnprocessableEntity},
		{"unknown session", fmt.Errorf("%w: id=S1", core.ErrSessionNotFound), http.StatusNotFound},
		{"send failed", fmt.Errorf("%w: session=S1: bridge timeout", core.ErrSendFailed), http.StatusBadGateway},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newMockController()
			ctrl.sendErr = tt.err

			w := doJSON(newTestRouter(ctrl), http.MethodPost, "/api/v1/sessions/S1/messages", SendMessageRequest{To: "123", Body: "hi"})

			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, "error", decode(t, w)["status"])
		})
	}
}

func TestSendMessage_MissingFields(t *testing.T) {
	w := doJSON(newTestRouter(newMockController()), http.MethodPost, "/api/v1/sessions/S1/messages", SendMessageRequest{To: "123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	router := newTestRouter(newMockController())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(CorrelationIDHeader, "corr-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "corr-42", w.Header().Get(CorrelationIDHeader))
}

func TestMountServesStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewAPIServer(newMockController(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	server.Mount("/events", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusTeapot, w.Code)
}
