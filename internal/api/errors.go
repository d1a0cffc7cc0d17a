package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/edgewall/decoder-adapter/internal/decoder"
)

// Error represents a structured error response. The Error field is the
// machine-readable kind; Message is for humans.
type Error struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Machine-readable error kinds.
const (
	errBadRequest       = "bad_request"
	errUnauthorized     = "unauthorized"
	errNotFound         = "not_found"
	errMethodNotAllowed = "method_not_allowed"
	errTransient        = "transient"
	errShuttingDown     = "shutting_down"
	errInternal         = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
// The body is marshalled up front so Content-Length is always set, and
// every response closes the connection.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Connection", "close")

	if v == nil {
		w.WriteHeader(status)
		return
	}

	body, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	body = append(body, '\n')
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write(body)
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, Error{Error: kind, Message: message})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, errBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, errUnauthorized, message)
}

// writeSessionError maps a session error onto the HTTP status contract:
// validation sentinels are the caller's fault (400), transient and
// not-ready conditions surface as 500 "transient" so clients retry,
// everything else is an SDK or internal failure.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, decoder.ErrUnknownKind),
		errors.Is(err, decoder.ErrUnknownCommand),
		errors.Is(err, decoder.ErrInvalidParams),
		errors.Is(err, decoder.ErrInvalidPayload):
		writeBadRequest(w, err.Error())
	case errors.Is(err, decoder.ErrBadCredentials):
		writeUnauthorized(w, "invalid device credentials")
	case errors.Is(err, decoder.ErrTransient),
		errors.Is(err, decoder.ErrNotConnected),
		errors.Is(err, decoder.ErrUnreachable):
		writeError(w, http.StatusInternalServerError, errTransient, "device session not ready")
	case errors.Is(err, decoder.ErrShuttingDown):
		writeError(w, http.StatusInternalServerError, errShuttingDown, "adapter is shutting down")
	default:
		writeError(w, http.StatusInternalServerError, errInternal, err.Error())
	}
}
