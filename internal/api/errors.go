package api

import (
	"errors"
	"net/http"

	"github.com/nugget/agentcore-local/internal/agent"
	"github.com/nugget/agentcore-local/internal/chat"
	"github.com/nugget/agentcore-local/internal/conversation"
	"github.com/nugget/agentcore-local/internal/transcript"
)

// errBadRequest marks a request the client must fix.
var errBadRequest = errors.New("invalid request")

// errorBody is the JSON error envelope. detail carries the message for
// clients that expect FastAPI-style errors.
type errorBody struct {
	Detail string      `json:"detail"`
	Error  errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// errorResponse writes a JSON error with the given status.
func (s *Server) errorResponse(w http.ResponseWriter, code int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, errorBody{
		Detail: message,
		Error:  errorDetail{Message: message, Type: errType, Code: code},
	}, s.logger)
}

// writeError translates err into an HTTP response. It is the only place
// domain errors become status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var invErr *agent.InvocationError
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		s.errorResponse(w, http.StatusNotFound, "not_found", "Conversation not found")
	case errors.Is(err, agent.ErrUninitialized):
		s.errorResponse(w, http.StatusServiceUnavailable, "service_unavailable", "Agent not initialized")
	case errors.As(err, &invErr):
		cause := "unknown error"
		if invErr.Err != nil {
			cause = invErr.Err.Error()
		}
		s.errorResponse(w, http.StatusInternalServerError, "agent_error", "Agent error: "+cause)
	case errors.Is(err, conversation.ErrDuplicateKey):
		s.errorResponse(w, http.StatusConflict, "conflict", "Conversation already exists")
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, transcript.ErrUnknownFormat),
		errors.Is(err, errBadRequest):
		s.errorResponse(w, http.StatusBadRequest, "invalid_request_error", err.Error())
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		s.errorResponse(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
