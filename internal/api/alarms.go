package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgewall/decoder-adapter/internal/decoder"
)

// Alarm stream timing.
const (
	alarmPollInterval = time.Second
	alarmPingInterval = 30 * time.Second
	alarmWriteTimeout = 5 * time.Second
)

// upgrader configures the WebSocket upgrader for the alarm stream.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// The adapter is a sidecar behind the cluster boundary; browser
		// origin checks do not apply.
		return true
	},
}

// handleAlarms drains and returns the queued alarm backlog.
//
// Draining is destructive: alarms are delivered to exactly one caller.
// With the MQTT alarm publisher enabled, that publisher and this
// endpoint compete for the same queue.
func (s *Server) handleAlarms(w http.ResponseWriter, _ *http.Request) {
	alarms := s.session.PopAlarms()
	if alarms == nil {
		alarms = []decoder.Alarm{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alarms": alarms})
}

// handleAlarmStream upgrades to a WebSocket and pushes alarms as they
// arrive, polling the session queue once a second. The connection ends
// when the client closes it or a write fails.
func (s *Server) handleAlarmStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("alarm stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Reader goroutine: we never expect client messages, but reading is
	// what surfaces close frames and dead connections.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	poll := time.NewTicker(alarmPollInterval)
	defer poll.Stop()
	ping := time.NewTicker(alarmPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(alarmWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-poll.C:
			alarms := s.session.PopAlarms()
			if len(alarms) == 0 {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(alarmWriteTimeout))
			if err := conn.WriteJSON(alarms); err != nil {
				s.logger.Warn("alarm stream write failed", "error", err)
				return
			}
		}
	}
}
