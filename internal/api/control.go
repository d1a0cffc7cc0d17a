package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/edgewall/decoder-adapter/internal/decoder"
)

// controlRequest is the body of the decode and playback control endpoints.
type controlRequest struct {
	Action  string         `json:"action"`
	Channel int            `json:"channel,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// handleControlDecoder drives decode start/stop on a channel.
func (s *Server) handleControlDecoder(w http.ResponseWriter, r *http.Request) {
	s.handleControl(w, r, decoder.CommandDecode)
}

// handleControlPlayback drives playback transport on a channel.
func (s *Server) handleControlPlayback(w http.ResponseWriter, r *http.Request) {
	s.handleControl(w, r, decoder.CommandPlayback)
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request, cmd string) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Action == "" {
		writeBadRequest(w, "action is required")
		return
	}

	result, err := s.session.Control(r.Context(), cmd, decoder.Params{
		Action:  req.Action,
		Channel: req.Channel,
		Payload: req.Payload,
	})
	if err != nil {
		writeSessionError(w, err)
		return
	}
	if result == nil {
		result = map[string]any{}
	}
	result["result"] = "ok"
	writeJSON(w, http.StatusOK, result)
}

// handleReboot asks the device to reboot. The session will enter
// Reconnecting when the device drops the connection.
func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	if _, err := s.session.Control(r.Context(), decoder.CommandReboot, decoder.Params{}); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": "ok"})
}

// handleListChannels enumerates the decode channels. The ?decoding=true
// filter restricts the list to channels actively decoding.
func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.session.Channels(r.Context())
	if err != nil {
		writeSessionError(w, err)
		return
	}

	if r.URL.Query().Get("decoding") == "true" {
		filtered := channels[:0]
		for _, ch := range channels {
			if ch.Decoding {
				filtered = append(filtered, ch)
			}
		}
		channels = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"channels": channels})
}

// channelUpdate is one per-channel state change.
type channelUpdate struct {
	ID     int  `json:"id"`
	Active bool `json:"active"`
}

// handleSetChannel updates a single channel's active state.
func (s *Server) handleSetChannel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "channel id must be an integer")
		return
	}

	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.session.SetChannel(r.Context(), id, req.Active); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": "ok"})
}

// handleBulkSetChannels applies a list of channel updates in order.
// The first failure stops processing and reports the failing channel;
// earlier updates are not rolled back.
func (s *Server) handleBulkSetChannels(w http.ResponseWriter, r *http.Request) {
	var updates []channelUpdate
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeBadRequest(w, "invalid JSON body (expected an array of channel updates)")
		return
	}
	if len(updates) == 0 {
		writeBadRequest(w, "no channel updates given")
		return
	}

	for _, u := range updates {
		if err := s.session.SetChannel(r.Context(), u.ID, u.Active); err != nil {
			writeSessionError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": "ok", "updated": len(updates)})
}
