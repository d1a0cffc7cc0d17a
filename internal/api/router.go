package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errNotFound, "no such path")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed, "method not allowed for this path")
	})

	// Unauthenticated endpoints
	r.Get("/healthz", s.handleHealthz)
	r.Post("/login", s.handleLogin)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/logout", s.handleLogout)

		r.Get("/status", s.handleStatus)
		r.Get("/device", s.handleDevice)

		r.Get("/config", s.handleGetConfig)
		r.Put("/config", s.handlePutConfig)

		r.Post("/control/decoder", s.handleControlDecoder)
		r.Post("/control/playback", s.handleControlPlayback)
		r.Post("/sys/reboot", s.handleReboot)

		r.Route("/channels", func(r chi.Router) {
			r.Get("/", s.handleListChannels)
			r.Put("/", s.handleBulkSetChannels)
			r.Put("/{id}", s.handleSetChannel)
		})

		r.Get("/alarms", s.handleAlarms)
		r.Get("/alarms/stream", s.handleAlarmStream)
	})

	return r
}

// handleHealthz reports process liveness. It deliberately does not
// reflect device connectivity; a reconnecting adapter is still alive.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
