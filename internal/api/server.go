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

// Package api is the HTTP control surface of the supervisor. Authorization
// is expected in front of it.
package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wso2/api-platform/gateway/session-supervisor/pkg/core"
)

type APIServer struct {
	controller core.SessionController
	streams    map[string]http.Handler
	logger     *slog.Logger
}

func NewAPIServer(controller core.SessionController, logger *slog.Logger) *APIServer {
	return &APIServer{
		controller: controller,
		streams:    make(map[string]http.Handler),
		logger:     logger.With("component", "api"),
	}
}

// Mount serves a long-lived notification stream (websocket or SSE) on
// GET path. It must be called before Router.
func (s *APIServer) Mount(path string, h http.Handler) {
	s.streams[path] = h
}

type ActionRequest struct {
	Action string `json:"action" binding:"required"`
}

type CreateSessionRequest struct {
	ID string `json:"id"`
}

type SendMessageRequest struct {
	To   string `json:"to" binding:"required"`
	Body string `json:"body" binding:"required"`
}

type SessionResponse struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Session *core.Session `json:"session,omitempty"`
}

type ListSessionsResponse struct {
	Status     string         `json:"status"`
	TotalCount int            `json:"total_count"`
	Sessions   []core.Session `json:"sessions"`
}

type SendMessageResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

func (s *APIServer) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), CorrelationIDMiddleware(s.logger))
	s.RegisterRoutes(router)
	return router
}

func (s *APIServer) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", s.Health)
	for path, h := range s.streams {
		router.GET(path, gin.WrapH(h))
	}

	v1 := router.Group("/api/v1")
	v1.GET("/sessions", s.ListSessions)
	v1.POST("/sessions", s.CreateSession)
	v1.GET("/sessions/:id", s.GetSession)
	v1.POST("/sessions/:id/actions", s.SessionAction)
	v1.POST("/sessions/:id/messages", s.SendMessage)
}

func (s *APIServer) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *APIServer) ListSessions(c *gin.Context) {
	sessions, err := s.controller.ListSessions(c.Request.Context())
	if err != nil {
		s.fail(c, err, "Failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []core.Session{}
	}
	c.JSON(http.StatusOK, ListSessionsResponse{
		Status:     "success",
		TotalCount: len(sessions),
		Sessions:   sessions,
	})
}

func (s *APIServer) GetSession(c *gin.Context) {
	sess, err := s.controller.QueryStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err, "Failed to get session")
		return
	}
	c.JSON(http.StatusOK, SessionResponse{Status: "success", Session: sess})
}

// CreateSession starts a session for the caller. An empty id generates one,
// which is what the dashboard does to pair a new device.
func (s *APIServer) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid request body: " + err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	if err := s.controller.StartSession(c.Request.Context(), req.ID, core.RequesterID(c.Request)); err != nil {
		s.fail(c, err, "Failed to start session")
		return
	}
	c.JSON(http.StatusAccepted, SessionResponse{
		Status:  "success",
		Message: "Session starting",
		Session: &core.Session{ID: req.ID, Status: core.StatusConnecting},
	})
}

func (s *APIServer) SessionAction(c *gin.Context) {
	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid request body: " + err.Error()})
		return
	}
	action, err := core.ParseAction(req.Action)
	if err != nil {
		s.fail(c, err, "Invalid action")
		return
	}

	id := c.Param("id")
	ctx := c.Request.Context()
	if err := s.controller.SessionAction(ctx, core.RequesterID(c.Request), id, action); err != nil {
		s.fail(c, err, "Session action failed")
		return
	}

	resp := SessionResponse{Status: "success", Message: "Action " + string(action) + " applied"}
	if action != core.ActionDelete {
		if sess, err := s.controller.QueryStatus(ctx, id); err == nil {
			resp.Session = sess
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *APIServer) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid request body: " + err.Error()})
		return
	}

	id, err := s.controller.SendMessage(c.Request.Context(), c.Param("id"), req.To, req.Body)
	if err != nil {
		s.fail(c, err, "Failed to send message")
		return
	}
	c.JSON(http.StatusOK, SendMessageResponse{Status: "success", MessageID: id})
}

func (s *APIServer) fail(c *gin.Context, err error, message string) {
	code := statusFor(err)
	log := requestLogger(c, s.logger)
	if code >= http.StatusInternalServerError {
		log.Error(message, "session_id", c.Param("id"), "error", err)
	} else {
		log.Warn(message, "session_id", c.Param("id"), "error", err)
	}
	c.JSON(code, gin.H{"status": "error", "message": message + ": " + err.Error()})
}

// statusFor maps supervisor errors to HTTP status codes. Order matters:
// a revoked session is also not connected.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrUnknownAction), errors.Is(err, core.ErrInvalidSessionID):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrReauthenticationRequired):
		return http.StatusConflict
	case errors.Is(err, core.ErrRecipientUnreachable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrSendFailed):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrSessionNotConnected), errors.Is(err, core.ErrSupervisorClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
