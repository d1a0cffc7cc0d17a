package api

import (
	"encoding/json"
	"net/http"

	"github.com/edgewall/decoder-adapter/internal/decoder"
)

// handleStatus returns the live device status report. The body always
// carries the sdk_state field so callers can poll it for liveness.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.session.Status(r.Context())
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleDevice returns static device identity plus current session health.
func (s *Server) handleDevice(w http.ResponseWriter, _ *http.Request) {
	info := s.session.Info()
	health := s.session.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"device":  info,
		"session": health,
	})
}

// handleGetConfig reads one configuration block, selected by the ?type=
// query parameter. Without a type, every known block is returned keyed
// by kind.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	kind := decoder.ConfigKind(r.URL.Query().Get("type"))

	if kind != "" {
		cfg, err := s.session.GetConfig(r.Context(), kind)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
		return
	}

	all := make(map[string]map[string]any)
	for _, k := range []decoder.ConfigKind{
		decoder.ConfigDisplay, decoder.ConfigScene, decoder.ConfigNetwork, decoder.ConfigDecoder,
	} {
		cfg, err := s.session.GetConfig(r.Context(), k)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		all[string(k)] = cfg
	}
	writeJSON(w, http.StatusOK, all)
}

// handlePutConfig writes one configuration block. The kind comes from
// the ?type= query parameter or a "type" field in the body; the rest of
// the body is the block payload.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	kind := decoder.ConfigKind(r.URL.Query().Get("type"))
	if kind == "" {
		if v, ok := body["type"].(string); ok {
			kind = decoder.ConfigKind(v)
			delete(body, "type")
		}
	}
	if kind == "" {
		writeBadRequest(w, "config type is required (query ?type= or body field)")
		return
	}

	if err := s.session.SetConfig(r.Context(), kind, body); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": "ok"})
}
