package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"directmsg/internal/app"
	"directmsg/internal/util"
	"directmsg/pkg/domain"
)

// CallerVerifier authenticates a bearer token and returns the caller's
// profile.
type CallerVerifier interface {
	VerifyCaller(token string) (domain.UserProfile, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	TokenVerifier CallerVerifier
}

// Server exposes HTTP endpoints for the messaging service.
type Server struct {
	app           *app.App
	tokenVerifier CallerVerifier
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:           cfg.App,
		tokenVerifier: cfg.TokenVerifier,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog("messaging", s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.Handle("/conversations", s.withCaller(s.handleConversations))
	s.mux.Handle("/conversations/", s.withCaller(s.handleConversationSubresource))
	s.mux.Handle("/messages/", s.withCaller(s.handleMessage))
	s.mux.Handle("/unread-count", s.withCaller(s.handleUnreadCount))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type callerHandler func(http.ResponseWriter, *http.Request, domain.UserProfile)

func (s *Server) withCaller(next callerHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenVerifier == nil {
			writeError(w, http.StatusInternalServerError, "token verifier not configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		caller, err := s.tokenVerifier.VerifyCaller(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, caller)
	})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, caller domain.UserProfile) {
	switch r.Method {
	case http.MethodGet:
		views, err := s.app.ListConversations(caller.ID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversations": views})
	case http.MethodPost:
		var req conversationRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		view, err := s.app.GetOrCreateConversation(caller.ID, req.OtherUserID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	default:
		methodNotAllowed(w)
	}
}

// handleConversationSubresource dispatches /conversations/{id}/messages and
// /conversations/{id}/read.
func (s *Server) handleConversationSubresource(w http.ResponseWriter, r *http.Request, caller domain.UserProfile) {
	rest := strings.TrimPrefix(r.URL.Path, "/conversations/")
	idRaw, action, _ := strings.Cut(rest, "/")
	conversationID, err := strconv.ParseInt(idRaw, 10, 64)
	if err != nil || conversationID <= 0 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch action {
	case "messages":
		s.handleConversationMessages(w, r, caller, conversationID)
	case "read":
		s.handleConversationRead(w, r, caller, conversationID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request, caller domain.UserProfile, conversationID int64) {
	switch r.Method {
	case http.MethodGet:
		page := queryInt(r, "page", 1)
		limit := queryInt(r, "limit", 0)
		messages, err := s.app.ListMessages(caller.ID, conversationID, page, limit)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": messages, "page": page})
	case http.MethodPost:
		var req sendMessageRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		msg, err := s.app.SendMessage(caller.ID, conversationID, req.Content)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleConversationRead(w http.ResponseWriter, r *http.Request, caller domain.UserProfile, conversationID int64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req markReadRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if err := s.app.MarkRead(caller.ID, conversationID, req.MessageIDs); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request, caller domain.UserProfile) {
	idRaw := strings.TrimPrefix(r.URL.Path, "/messages/")
	messageID, err := strconv.ParseInt(idRaw, 10, 64)
	if err != nil || messageID <= 0 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodPut:
		var req editMessageRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		msg, err := s.app.EditMessage(caller.ID, messageID, req.Content)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	case http.MethodDelete:
		if err := s.app.DeleteMessage(caller.ID, messageID); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request, caller domain.UserProfile) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	total, err := s.app.UnreadTotal(caller.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unreadCount": total})
}

// writeAppError maps domain errors to HTTP statuses. Anything unexpected is
// logged with the request id and reported as a 500 without leaking detail.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", util.RequestIDFromRequest(r),
			"err", err,
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type conversationRequest struct {
	OtherUserID int64 `json:"otherUserId"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type markReadRequest struct {
	MessageIDs []int64 `json:"messageIds"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
