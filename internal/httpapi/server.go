// Package httpapi is the HTTP front door: a thin chi router over the
// orchestrator. All conversation logic lives behind the Agent interface.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/funnelscope/server/internal/agent/model"
	"github.com/funnelscope/server/internal/agent/orchestrator"
	errx "github.com/funnelscope/server/internal/core/error"
	"github.com/funnelscope/server/internal/observability"
)

type Agent interface {
	Turn(ctx context.Context, sessionID, message string) (*orchestrator.TurnResult, error)
	Session(ctx context.Context, sessionID string) (*model.Session, error)
	Reset(ctx context.Context, sessionID string) error
}

type Server struct {
	agent Agent
}

func New(agent Agent) *Server {
	return &Server{agent: agent}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/chat", s.handleChat)
	r.Get("/session/{id}", s.handleGetSession)
	r.Delete("/session/{id}", s.handleDeleteSession)

	return r
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatMetadata struct {
	ActionTaken string  `json:"action_taken"`
	FunnelID    *string `json:"funnel_id"`
	ToolError   string  `json:"tool_error,omitempty"`
}

type chatResponse struct {
	SessionID     string       `json:"session_id"`
	Response      string       `json:"response"`
	NeedsInput    bool         `json:"needs_input"`
	MissingParams []string     `json:"missing_params"`
	Metadata      chatMetadata `json:"metadata"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message must not be empty")
		return
	}

	result, err := s.agent.Turn(r.Context(), req.SessionID, req.Message)
	if err != nil {
		respondAppError(w, err)
		return
	}

	out := result.Output
	resp := chatResponse{
		SessionID:     result.SessionID,
		Response:      out.Response,
		NeedsInput:    out.NeedsInput,
		MissingParams: out.MissingParams,
		Metadata: chatMetadata{
			ActionTaken: string(out.Metadata.ActionTaken),
			ToolError:   out.Metadata.ToolError,
		},
	}
	if resp.MissingParams == nil {
		resp.MissingParams = []string{}
	}
	if out.Metadata.FunnelID != "" {
		id := out.Metadata.FunnelID
		resp.Metadata.FunnelID = &id
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.agent.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.agent.Reset(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func respondAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errx.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", "session not found")
	case errors.Is(err, errx.ErrSessionConflict):
		respondError(w, http.StatusConflict, "session_conflict", "session was modified concurrently, retry the request")
	default:
		var appErr *errx.AppError
		if errors.As(err, &appErr) {
			respondError(w, appErr.Status, "internal_error", appErr.Message)
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
