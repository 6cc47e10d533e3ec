package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/lia/internal/config"
	"github.com/ent0n29/lia/internal/observability"
	"github.com/ent0n29/lia/internal/pipeline"
	"github.com/ent0n29/lia/internal/protocol"
	"github.com/ent0n29/lia/internal/session"
)

// Assistants runs requests inside per-session conversations.
type Assistants interface {
	Process(ctx context.Context, sessionID, request string) (pipeline.Response, error)
	Release(sessionID string) error
}

type Server struct {
	cfg        config.Config
	sessions   *session.Manager
	assistants Assistants
	metrics    *observability.Metrics
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, assistants Assistants, metrics *observability.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:        cfg,
		sessions:   sessions,
		assistants: assistants,
		metrics:    metrics,
		logger:     logger.Named("httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the same origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
	sessions.SetExpireHook(func(sess *session.Session) {
		s.release(sess.ID, "expired")
	})
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/api/chat", s.handleChat)
	r.Post("/v1/sessions", s.handleCreateSession)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)
	r.Post("/v1/sessions/{id}/messages", s.handleSessionMessage)
	r.Get("/v1/sessions/ws", s.handleSessionWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.assistants == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	Response  string   `json:"response"`
	Intent    string   `json:"intent"`
	SessionID string   `json:"session_id"`
	Artifact  string   `json:"artifact,omitempty"`
	Failures  []string `json:"failures,omitempty"`
}

// handleChat creates a session on the fly when the caller did not name one.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}
	if len(req.Message) > protocol.MaxUserMessageBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "message_too_large", "message exceeds size limit")
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = s.createSession("anonymous").ID
	}

	resp, status, code, err := s.process(r.Context(), sessionID, req.Message)
	if err != nil {
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, chatResponse{
		Response:  resp.Text,
		Intent:    resp.Intent.String(),
		SessionID: sessionID,
		Artifact:  resp.Artifact,
		Failures:  failureKinds(resp),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}

	sess := s.createSession(req.UserID)
	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.release(id, "closed")
	respondJSON(w, http.StatusOK, sess)
}

type messageRequest struct {
	Text      string `json:"text"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	if len(req.Text) > protocol.MaxUserMessageBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "message_too_large", "text exceeds size limit")
		return
	}

	resp, status, code, err := s.process(r.Context(), id, req.Text)
	if err != nil {
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, assistantMessage(id, req.RequestID, resp))
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.assistants == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "assistant not configured")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusConflict, "session_ended", session.ErrEnded.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.ObserveWSMessage("lifecycle", "connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 64)
	outbound := make(chan any, 64)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		s.runConnection(ctx, cancel, sessionID, inbound, outbound)
	}()

	// The writer drains outbound until runConnection closes it, then closes
	// the socket so a blocked read returns.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer conn.Close()
		failed := false
		for msg := range outbound {
			if failed {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("websocket write failed", zap.String("session_id", sessionID), zap.Error(err))
				failed = true
				cancel()
				continue
			}
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.ObserveWSMessage("outbound", string(t))
			}
		}
	}()

	conn.SetReadLimit(2 * protocol.MaxUserMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			// Only runConnection writes to outbound, so errors go through inbound.
			select {
			case <-ctx.Done():
				break readLoop
			case inbound <- errEvent:
			default:
				s.metrics.ObserveWSMessage("outbound", "drop_full")
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.ObserveWSMessage("lifecycle", "disconnected")
}

// runConnection handles one socket's messages in arrival order.
func (s *Server) runConnection(ctx context.Context, cancel context.CancelFunc, sessionID string, inbound <-chan any, outbound chan<- any) {
	defer close(outbound)
	send := func(msg any) {
		select {
		case <-ctx.Done():
		case outbound <- msg:
		}
	}

	for raw := range inbound {
		switch msg := raw.(type) {
		case protocol.UserMessage:
			if msg.SessionID != sessionID {
				send(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "session_mismatch",
					Source:    "gateway",
					Detail:    "message session_id does not match the connection",
				})
				continue
			}
			resp, _, code, err := s.process(ctx, sessionID, msg.Text)
			if err != nil {
				send(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      code,
					Source:    "assistant",
					Retryable: code == "internal_error",
					Detail:    err.Error(),
				})
				continue
			}
			send(assistantMessage(sessionID, msg.RequestID, resp))
		case protocol.ErrorEvent:
			send(msg)
		case protocol.ClientControl:
			switch msg.Action {
			case protocol.ActionPing:
				send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "pong"})
			case protocol.ActionEnd:
				if _, err := s.sessions.End(sessionID); err == nil {
					s.release(sessionID, "closed")
				}
				send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "session_ended"})
				cancel()
				return
			default:
				send(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "unknown_action",
					Source:    "gateway",
					Detail:    msg.Action,
				})
			}
		}
	}
}

// process runs one request and maps session state to an HTTP status and
// error code.
func (s *Server) process(ctx context.Context, sessionID, text string) (pipeline.Response, int, string, error) {
	if s.assistants == nil {
		return pipeline.Response{}, http.StatusNotImplemented, "unavailable", errors.New("assistant not configured")
	}
	requestID := uuid.NewString()
	if err := s.sessions.StartRequest(sessionID, requestID); err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			return pipeline.Response{}, http.StatusNotFound, "session_not_found", err
		case errors.Is(err, session.ErrEnded):
			return pipeline.Response{}, http.StatusConflict, "session_ended", err
		default:
			return pipeline.Response{}, http.StatusInternalServerError, "internal_error", err
		}
	}
	defer func() { _ = s.sessions.FinishRequest(sessionID) }()

	resp, err := s.assistants.Process(ctx, sessionID, text)
	if err != nil {
		s.logger.Error("assistant unavailable", zap.String("session_id", sessionID), zap.Error(err))
		return pipeline.Response{}, http.StatusInternalServerError, "internal_error", err
	}
	return resp, http.StatusOK, "", nil
}

func (s *Server) createSession(userID string) *session.Session {
	sess := s.sessions.Create(userID)
	s.metrics.SessionStarted()
	s.logger.Info("session created", zap.String("session_id", sess.ID), zap.String("user_id", userID))
	return sess
}

func (s *Server) release(sessionID, reason string) {
	if s.assistants != nil {
		if err := s.assistants.Release(sessionID); err != nil {
			s.logger.Warn("release session memory", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	s.metrics.SessionEnded(reason)
	s.logger.Info("session ended", zap.String("session_id", sessionID), zap.String("reason", reason))
}

func assistantMessage(sessionID, requestID string, resp pipeline.Response) protocol.AssistantMessage {
	return protocol.AssistantMessage{
		Type:      protocol.TypeAssistantMessage,
		SessionID: sessionID,
		RequestID: requestID,
		Text:      resp.Text,
		Intent:    resp.Intent.String(),
		Artifact:  resp.Artifact,
		Reused:    resp.Reused,
		Failures:  failureKinds(resp),
	}
}

func failureKinds(resp pipeline.Response) []string {
	if len(resp.Failures) == 0 {
		return nil
	}
	out := make([]string, len(resp.Failures))
	for i, f := range resp.Failures {
		out[i] = f.Kind.String()
	}
	return out
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 4*protocol.MaxUserMessageBytes))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.UserMessage:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.AssistantMessage:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
