package decoder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSDK is a counting SDK implementation for session tests. It detects
// concurrent entry so the serialisation invariant can be verified.
type fakeSDK struct {
	mu         sync.Mutex
	failWith   error
	loginCalls int
	callCount  int

	inFlight   atomic.Int32
	overlapped atomic.Bool

	inits    int
	cleanups int
	logouts  int
	lastCode int
}

func (f *fakeSDK) enter() func() {
	if f.inFlight.Add(1) > 1 {
		f.overlapped.Store(true)
	}
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeSDK) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failWith
}

func (f *fakeSDK) setFail(err error) {
	f.mu.Lock()
	f.failWith = err
	f.mu.Unlock()
}

func (f *fakeSDK) Init() error { f.inits++; return nil }
func (f *fakeSDK) Cleanup()    { f.cleanups++ }

func (f *fakeSDK) Login(address, username, password string) (int, error) {
	defer f.enter()()
	f.mu.Lock()
	f.loginCalls++
	f.mu.Unlock()
	if err := f.fail(); err != nil {
		return 0, err
	}
	if username != "admin" || password != "12345" {
		return 0, ErrBadCredentials
	}
	return 42, nil
}

func (f *fakeSDK) Logout(handle int) error {
	defer f.enter()()
	f.logouts++
	return nil
}

func (f *fakeSDK) Status(handle int) (*Status, error) {
	defer f.enter()()
	f.mu.Lock()
	f.callCount++
	f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	// A small sleep widens the window for overlap detection.
	time.Sleep(time.Millisecond)
	return &Status{SDKState: "running"}, nil
}

func (f *fakeSDK) GetConfig(handle int, kind ConfigKind) (map[string]any, error) {
	defer f.enter()()
	f.mu.Lock()
	f.callCount++
	f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	return map[string]any{"layout": "2x2"}, nil
}

func (f *fakeSDK) SetConfig(handle int, kind ConfigKind, payload map[string]any) error {
	defer f.enter()()
	f.mu.Lock()
	f.callCount++
	f.mu.Unlock()
	return f.fail()
}

func (f *fakeSDK) Control(handle int, cmd string, params Params) (map[string]any, error) {
	defer f.enter()()
	f.mu.Lock()
	f.callCount++
	f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	return map[string]any{"result": "ok"}, nil
}

func (f *fakeSDK) Channels(handle int) ([]ChannelStatus, error) {
	defer f.enter()()
	if err := f.fail(); err != nil {
		return nil, err
	}
	return []ChannelStatus{{ID: 1, Active: true}}, nil
}

func (f *fakeSDK) SetChannel(handle int, id int, active bool) error {
	defer f.enter()()
	return f.fail()
}

func (f *fakeSDK) LastError() int { return f.lastCode }

func (f *fakeSDK) Info() Info {
	return Info{Manufacturer: "Hikvision", Model: "DS-6916UD", ChannelCount: 4}
}

func loggedIn(t *testing.T, sdk SDK) *Session {
	t.Helper()
	s := NewSession(sdk)
	if err := s.Login(context.Background(), "10.0.0.5:8000", "admin", "12345"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	return s
}

func TestSession_LoginTransitions(t *testing.T) {
	sdk := &fakeSDK{}
	s := NewSession(sdk)

	if got := s.State(); got != StateDisconnected {
		t.Fatalf("initial state = %v, want Disconnected", got)
	}

	if err := s.Login(context.Background(), "10.0.0.5:8000", "admin", "12345"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if got := s.State(); got != StateConnected {
		t.Errorf("state after login = %v, want Connected", got)
	}
	if sdk.inits != 1 {
		t.Errorf("sdk inits = %d, want 1", sdk.inits)
	}

	// A second login must be rejected: at most one connected session.
	err := s.Login(context.Background(), "10.0.0.5:8000", "admin", "12345")
	if !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Login() error = %v, want ErrAlreadyConnected", err)
	}
}

func TestSession_LoginBadCredentials(t *testing.T) {
	s := NewSession(&fakeSDK{})

	err := s.Login(context.Background(), "10.0.0.5:8000", "admin", "wrong")
	if !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("Login() error = %v, want ErrBadCredentials", err)
	}
	if got := s.State(); got != StateDisconnected {
		t.Errorf("state = %v, want Disconnected", got)
	}
	if h := s.Health(); !h.LoginFailed {
		t.Error("Health().LoginFailed = false, want true")
	}
}

func TestSession_OperationsRequireLogin(t *testing.T) {
	s := NewSession(&fakeSDK{})
	ctx := context.Background()

	if _, err := s.Status(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Status() error = %v, want ErrNotConnected", err)
	}
	if _, err := s.GetConfig(ctx, ConfigDisplay); !errors.Is(err, ErrNotConnected) {
		t.Errorf("GetConfig() error = %v, want ErrNotConnected", err)
	}
	if _, err := s.Control(ctx, CommandDecode, Params{Action: "start"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Control() error = %v, want ErrNotConnected", err)
	}
}

func TestSession_UnknownCommandNeverReachesSDK(t *testing.T) {
	sdk := &fakeSDK{}
	s := loggedIn(t, sdk)

	before := sdk.callCount
	_, err := s.Control(context.Background(), "format_disk", Params{})
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("Control() error = %v, want ErrUnknownCommand", err)
	}
	if sdk.callCount != before {
		t.Error("rejected command reached the SDK")
	}
}

func TestSession_UnknownConfigKindNeverReachesSDK(t *testing.T) {
	sdk := &fakeSDK{}
	s := loggedIn(t, sdk)

	before := sdk.callCount
	if _, err := s.GetConfig(context.Background(), "bogus"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("GetConfig() error = %v, want ErrUnknownKind", err)
	}
	if err := s.SetConfig(context.Background(), "bogus", map[string]any{"a": 1}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("SetConfig() error = %v, want ErrUnknownKind", err)
	}
	if sdk.callCount != before {
		t.Error("rejected config kind reached the SDK")
	}
}

func TestSession_SetConfigEmptyPayload(t *testing.T) {
	s := loggedIn(t, &fakeSDK{})

	err := s.SetConfig(context.Background(), ConfigDisplay, nil)
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("SetConfig(nil) error = %v, want ErrInvalidPayload", err)
	}
}

func TestSession_TransportFailureEntersReconnecting(t *testing.T) {
	sdk := &fakeSDK{}
	s := loggedIn(t, sdk)

	sdk.setFail(ErrUnreachable)
	_, err := s.Status(context.Background())
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("Status() error = %v, want ErrTransient", err)
	}
	if got := s.State(); got != StateReconnecting {
		t.Fatalf("state = %v, want Reconnecting", got)
	}

	// Subsequent operations fail fast with the transient kind.
	if _, err := s.Status(context.Background()); !errors.Is(err, ErrTransient) {
		t.Errorf("Status() during reconnect error = %v, want ErrTransient", err)
	}
	if err := s.SetConfig(context.Background(), ConfigDisplay, map[string]any{"layout": "3x3"}); !errors.Is(err, ErrTransient) {
		t.Errorf("SetConfig() during reconnect error = %v, want ErrTransient", err)
	}
}

func TestSession_ReconnectLoopRestoresConnection(t *testing.T) {
	sdk := &fakeSDK{}
	s := loggedIn(t, sdk)
	s.reconnectInitial = 10 * time.Millisecond
	s.reconnectMax = 40 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	sdk.setFail(ErrUnreachable)
	if _, err := s.Status(context.Background()); !errors.Is(err, ErrTransient) {
		t.Fatalf("Status() error = %v, want ErrTransient", err)
	}

	// Let a couple of re-login attempts fail, then restore the device.
	time.Sleep(50 * time.Millisecond)
	sdk.setFail(nil)

	deadline := time.After(2 * time.Second)
	for s.State() != StateConnected {
		select {
		case <-deadline:
			t.Fatal("session did not reconnect")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := s.Status(context.Background()); err != nil {
		t.Errorf("Status() after reconnect error = %v", err)
	}
}

func TestSession_SerialisesSDKCalls(t *testing.T) {
	sdk := &fakeSDK{}
	s := loggedIn(t, sdk)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Status(context.Background())           //nolint:errcheck
			s.GetConfig(context.Background(), "display") //nolint:errcheck
		}()
	}
	wg.Wait()

	if sdk.overlapped.Load() {
		t.Error("SDK calls overlapped; session must serialise them")
	}
}

func TestSession_PopAlarmsDrains(t *testing.T) {
	s := loggedIn(t, &fakeSDK{})

	if _, err := s.Control(context.Background(), CommandReboot, Params{}); err != nil {
		t.Fatalf("Control(reboot) error = %v", err)
	}

	first := s.PopAlarms()
	if len(first) == 0 {
		t.Fatal("PopAlarms() returned no events, want at least one")
	}
	if second := s.PopAlarms(); len(second) != 0 {
		t.Errorf("second PopAlarms() returned %d events, want 0", len(second))
	}

	// Timestamps are strictly increasing.
	for i := 1; i < len(first); i++ {
		if first[i].Timestamp <= first[i-1].Timestamp {
			t.Errorf("alarm timestamps not monotonic: %d then %d", first[i-1].Timestamp, first[i].Timestamp)
		}
	}
}

func TestSession_CloseLogsOutOnce(t *testing.T) {
	sdk := &fakeSDK{}
	s := loggedIn(t, sdk)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if sdk.logouts != 1 {
		t.Errorf("logouts = %d, want exactly 1", sdk.logouts)
	}
	if sdk.cleanups != 1 {
		t.Errorf("cleanups = %d, want exactly 1", sdk.cleanups)
	}
	if got := s.State(); got != StateShuttingDown {
		t.Errorf("state = %v, want ShuttingDown", got)
	}

	if _, err := s.Status(context.Background()); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Status() after close error = %v, want ErrShuttingDown", err)
	}
	if err := s.Login(context.Background(), "10.0.0.5:8000", "admin", "12345"); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Login() after close error = %v, want ErrShuttingDown", err)
	}
}

func TestSession_LogoutIsSoftWhenDisconnected(t *testing.T) {
	s := NewSession(&fakeSDK{})
	if err := s.Logout(context.Background()); err != nil {
		t.Errorf("Logout() while disconnected error = %v, want nil", err)
	}
}

func TestInitGate_RefCounting(t *testing.T) {
	var inits, finis int
	g := initGate{
		init: func() error { inits++; return nil },
		fini: func() { finis++ },
	}

	for i := 0; i < 3; i++ {
		if err := g.enter(); err != nil {
			t.Fatalf("enter() error = %v", err)
		}
	}
	if inits != 1 {
		t.Errorf("inits = %d, want 1", inits)
	}

	g.leave()
	g.leave()
	if finis != 0 {
		t.Errorf("finis = %d before last leave, want 0", finis)
	}
	g.leave()
	if finis != 1 {
		t.Errorf("finis = %d, want 1", finis)
	}
	g.leave() // extra leave is ignored
	if finis != 1 {
		t.Errorf("finis after extra leave = %d, want 1", finis)
	}
}
