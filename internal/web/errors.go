package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged with its technical detail and request ID, then
// returned to the client as the user-facing message from core.MapError.

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/ledgersync/internal/core"
	"github.com/JonMunkholm/ledgersync/internal/csvimport"
	"github.com/JonMunkholm/ledgersync/internal/ledger"
	"github.com/JonMunkholm/ledgersync/internal/provider"
	"github.com/go-chi/chi/v5/middleware"
)

// errBadBody is returned when a request body cannot be decoded.
var errBadBody = errors.New("malformed request body")

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes the mapped user message with the status
// statusFor chooses.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := core.MapError(err)

	level := slog.LevelWarn
	if status >= 500 {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	msg := userMsg.Message
	if errors.Is(err, errBadBody) {
		msg = err.Error()
	}
	writeJSON(w, status, ErrorResponse{
		Error:   msg,
		Message: msg,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	})
}

// statusFor maps an error returned before a job exists to an HTTP status.
func statusFor(err error) int {
	var missing *core.MissingFieldsError
	switch {
	case errors.As(err, &missing),
		errors.Is(err, errBadBody),
		errors.Is(err, core.ErrInvalidRequest),
		errors.Is(err, provider.ErrUnknownProvider):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrConnectionBusy),
		errors.Is(err, ledger.ErrDuplicateConnection),
		errors.Is(err, ledger.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, csvimport.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}
