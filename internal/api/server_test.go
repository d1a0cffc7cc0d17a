package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/edgewall/decoder-adapter/internal/decoder"
	"github.com/edgewall/decoder-adapter/internal/infrastructure/config"
	"github.com/edgewall/decoder-adapter/internal/infrastructure/logging"
)

// newTestServer builds a server over a simulator-backed session.
// No listener is started; tests drive the router directly.
func newTestServer(t *testing.T) (*Server, *decoder.Simulator, http.Handler) {
	t.Helper()

	cfg := &config.Config{
		Device: config.DeviceConfig{IP: "10.0.0.5", Port: 8000, Username: "admin", Password: "12345"},
		HTTP:   config.HTTPConfig{Host: "127.0.0.1", Port: 8080},
		Auth:   config.AuthConfig{TokenTTL: 60},
	}

	sim := decoder.NewSimulator("admin", "12345")
	session := decoder.NewSession(sim)
	t.Cleanup(func() { session.Close() })

	srv, err := New(Deps{
		Config:  cfg,
		Logger:  logging.Default(),
		Session: session,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, sim, srv.buildRouter()
}

// login performs POST /login and returns the bearer token.
func login(t *testing.T, router http.Handler) string {
	t.Helper()

	body := `{"username":"admin","password":"12345"}`
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("POST /login status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login returned empty token")
	}
	return resp.Token
}

func authedRequest(method, path string, token string, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestLoginThenStatus(t *testing.T) {
	_, _, router := newTestServer(t)
	token := login(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/status", token, ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /status status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"sdk_state"`) {
		t.Errorf("status body missing sdk_state: %s", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	if rec.Header().Get("Connection") != "close" {
		t.Error("Connection header not set to close")
	}
	if rec.Header().Get("Content-Length") == "" {
		t.Error("Content-Length not set")
	}
}

func TestLoginBadDeviceCredentials(t *testing.T) {
	_, _, router := newTestServer(t)

	body := `{"username":"admin","password":"wrong"}`
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestLoginTwiceYieldsTwoValidTokens(t *testing.T) {
	srv, _, router := newTestServer(t)

	t1 := login(t, router)
	t2 := login(t, router)
	if t1 == t2 {
		t.Fatal("two logins returned the same token")
	}
	if srv.tokens.count() != 2 {
		t.Errorf("token count = %d, want 2", srv.tokens.count())
	}

	for _, token := range []string{t1, t2} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest(http.MethodGet, "/status", token, ""))
		if rec.Code != http.StatusOK {
			t.Errorf("GET /status with token = %d, want 200", rec.Code)
		}
	}

	// Revoking one leaves the other valid.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/logout", t1, ""))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("POST /logout status = %d, want 204", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/status", t1, ""))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("revoked token status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/status", t2, ""))
	if rec.Code != http.StatusOK {
		t.Errorf("surviving token status = %d, want 200", rec.Code)
	}
}

func TestUnauthenticatedControl(t *testing.T) {
	_, _, router := newTestServer(t)

	body := `{"action":"start","channel":2}`
	req := httptest.NewRequest(http.MethodPost, "/control/decoder", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error"`) {
		t.Errorf("body missing error field: %s", rec.Body.String())
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	_, _, router := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/status", "not-a-jwt", ""))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestStatusDuringReconnectIsTransient(t *testing.T) {
	_, sim, router := newTestServer(t)
	token := login(t, router)

	// Knock the device over; the next SDK call flips the session into
	// Reconnecting.
	sim.Fail(decoder.ErrUnreachable)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/status", token, ""))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error":"transient"`) {
		t.Errorf("body = %s, want error transient", rec.Body.String())
	}

	// Subsequent calls fail fast the same way while reconnecting.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/status", token, ""))
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "transient") {
		t.Errorf("reconnecting status = %d body = %s, want transient 500", rec.Code, rec.Body.String())
	}
}

func TestConfigRoundTrip(t *testing.T) {
	_, _, router := newTestServer(t)
	token := login(t, router)

	put := `{"type":"display","layout":"2x2","windows":4}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPut, "/config", token, put))
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT /config status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/config?type=display", token, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /config status = %d", rec.Code)
	}

	var cfg map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decoding config: %v", err)
	}
	if cfg["layout"] != "2x2" {
		t.Errorf("layout = %v, want 2x2", cfg["layout"])
	}
	if cfg["windows"] != float64(4) {
		t.Errorf("windows = %v, want 4", cfg["windows"])
	}
}

func TestConfigUnknownKind(t *testing.T) {
	_, _, router := newTestServer(t)
	token := login(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/config?type=mystery", token, ""))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown kind status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPut, "/config", token, `{"type":"mystery","x":1}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown kind PUT status = %d, want 400", rec.Code)
	}
}

func TestControlDecoder(t *testing.T) {
	_, _, router := newTestServer(t)
	token := login(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/control/decoder", token,
		`{"action":"start","channel":2}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("control status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"result":"ok"`) {
		t.Errorf("body = %s, want result ok", rec.Body.String())
	}

	// Channel 2 now reports decoding.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/channels?decoding=true", token, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /channels status = %d", rec.Code)
	}
	var resp struct {
		Channels []decoder.ChannelStatus `json:"channels"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding channels: %v", err)
	}
	if len(resp.Channels) != 1 || resp.Channels[0].ID != 2 {
		t.Errorf("decoding channels = %v, want just channel 2", resp.Channels)
	}
}

func TestControlMissingAction(t *testing.T) {
	_, _, router := newTestServer(t)
	token := login(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/control/decoder", token, `{"channel":1}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing action status = %d, want 400", rec.Code)
	}
}

func TestSetChannel(t *testing.T) {
	_, _, router := newTestServer(t)
	token := login(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPut, "/channels/3", token, `{"active":false}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT /channels/3 status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPut, "/channels/99", token, `{"active":true}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("PUT /channels/99 status = %d, want 400", rec.Code)
	}
}

func TestBulkSetChannels(t *testing.T) {
	_, _, router := newTestServer(t)
	token := login(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPut, "/channels", token,
		`[{"id":1,"active":false},{"id":2,"active":false}]`))
	if rec.Code != http.StatusOK {
		t.Fatalf("bulk PUT status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"updated":2`) {
		t.Errorf("body = %s, want updated count", rec.Body.String())
	}
}

func TestDeviceInfo(t *testing.T) {
	_, _, router := newTestServer(t)
	token := login(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/device", token, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /device status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Hikvision") {
		t.Errorf("device body = %s, want manufacturer", rec.Body.String())
	}
}

func TestAlarmsDrain(t *testing.T) {
	_, _, router := newTestServer(t)
	token := login(t, router)

	// The login transition queued at least one session alarm.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/alarms", token, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /alarms status = %d", rec.Code)
	}
	var resp struct {
		Alarms []decoder.Alarm `json:"alarms"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding alarms: %v", err)
	}
	if len(resp.Alarms) == 0 {
		t.Fatal("expected queued session alarms after login")
	}

	// Drained: a second read returns an empty list.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/alarms", token, ""))
	var again struct {
		Alarms []decoder.Alarm `json:"alarms"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &again); err != nil {
		t.Fatalf("decoding alarms: %v", err)
	}
	if len(again.Alarms) != 0 {
		t.Errorf("second drain returned %d alarms, want 0", len(again.Alarms))
	}
}

func TestUnknownPathAndMethod(t *testing.T) {
	_, _, router := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/login", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("wrong method status = %d, want 405", rec.Code)
	}
}

func TestHealthzUnauthenticated(t *testing.T) {
	_, _, router := newTestServer(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /healthz status = %d, want 200", rec.Code)
	}
}

func TestTokenSlidingExpiry(t *testing.T) {
	ts := newTokenStore("test-secret", 50*time.Millisecond)

	token, err := ts.Issue("admin")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// Activity inside the window keeps the token alive past its original
	// expiry.
	for i := 0; i < 3; i++ {
		time.Sleep(30 * time.Millisecond)
		if _, ok := ts.Validate(token); !ok {
			t.Fatalf("token expired during active use (iteration %d)", i)
		}
	}

	// Inactivity past the window kills it.
	time.Sleep(80 * time.Millisecond)
	if _, ok := ts.Validate(token); ok {
		t.Error("token still valid after inactivity window")
	}
}

func TestTokenRejectsForeignSignature(t *testing.T) {
	ts := newTokenStore("secret-a", time.Minute)
	other := newTokenStore("secret-b", time.Minute)

	token, err := other.Issue("admin")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, ok := ts.Validate(token); ok {
		t.Error("token signed with a different secret validated")
	}
}

func TestLoginUnreachableIsTransient(t *testing.T) {
	_, sim, router := newTestServer(t)
	sim.Fail(decoder.ErrUnreachable)

	body := `{"username":"admin","password":"12345"}`
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error":"transient"`) {
		t.Errorf("body = %s, want transient kind", rec.Body.String())
	}
}

func TestStartBindFailure(t *testing.T) {
	// Occupy a port so the server's bind collides with it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving a port: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	cfg := &config.Config{
		Device: config.DeviceConfig{IP: "10.0.0.5", Port: 8000, Username: "admin", Password: "12345"},
		HTTP:   config.HTTPConfig{Host: "127.0.0.1", Port: port},
		Auth:   config.AuthConfig{TokenTTL: 60},
	}
	session := decoder.NewSession(decoder.NewSimulator("admin", "12345"))
	t.Cleanup(func() { session.Close() })

	srv, err := New(Deps{
		Config:  cfg,
		Logger:  logging.Default(),
		Session: session,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		srv.Close()
		t.Fatal("Start() on an occupied port succeeded, want error")
	}
}
