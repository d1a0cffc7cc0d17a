package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/edgewall/decoder-adapter/internal/decoder"
)

// loginRequest is the request body for POST /login. IP and Port override
// the configured device address for this login only.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	IP       string `json:"ip,omitempty"`
	Port     int    `json:"port,omitempty"`
}

// loginResponse is the response body for POST /login.
type loginResponse struct {
	Token string `json:"token"`
}

// handleLogin authenticates against the device and returns a bearer token.
//
// A session that is already connected still issues a fresh token: two
// logins yield two independently revocable tokens over the same device
// session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	address := s.cfg.Device.Address()
	if req.IP != "" {
		port := req.Port
		if port == 0 {
			port = s.cfg.Device.Port
		}
		address = fmt.Sprintf("%s:%d", req.IP, port)
	}

	err := s.session.Login(r.Context(), address, req.Username, req.Password)
	if err != nil && !errors.Is(err, decoder.ErrAlreadyConnected) {
		writeSessionError(w, err)
		return
	}

	token, err := s.tokens.Issue(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errInternal, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

// handleLogout revokes the presented token and logs the device session
// out. Logout of an already-disconnected session is soft; the token
// revocation is the part that must not fail.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if jti, ok := r.Context().Value(ctxKeyTokenID).(string); ok {
		s.tokens.Revoke(jti)
	}

	if err := s.session.Logout(r.Context()); err != nil {
		s.logger.Warn("device logout failed", "error", err)
	}

	writeJSON(w, http.StatusNoContent, nil)
}
