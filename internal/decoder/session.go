package decoder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Reconnection backoff schedule. The first re-login attempt happens one
// initial delay after the transport failure; the delay doubles up to the
// cap until the device answers or the adapter shuts down.
const (
	reconnectInitialDelay = 2 * time.Second
	reconnectMaxDelay     = 30 * time.Second
)

// maxQueuedAlarms bounds the alarm queue; the oldest entries are dropped
// when producers outrun the publishers.
const maxQueuedAlarms = 128

// Logger defines the logging interface used by the Session.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Session owns the single logical connection to the decoder device.
//
// Every SDK call is serialised through one mutex: the vendor library
// keeps a thread-global last-error register and process-global init
// state, so concurrent calls would corrupt error attribution. Surfaces
// (HTTP, MQTT) call Session methods concurrently and block on the mutex.
//
// State machine: Disconnected -> Connected via Login; Connected ->
// Reconnecting when an operation fails with a transport error;
// Reconnecting -> Connected via the background re-login loop; any state
// -> ShuttingDown on Close. ShuttingDown is terminal.
type Session struct {
	sdk    SDK
	logger Logger

	// mu serialises all SDK calls and guards the session fields below.
	mu         sync.Mutex
	state      State
	handle     int
	inited     bool
	address    string
	username   string
	password   string
	lastActive time.Time

	// loginFailed is set when the device rejected the credentials; it
	// drives the Failed phase in the reconciler.
	loginFailed bool

	// alarm queue, guarded separately so PopAlarms never blocks behind a
	// slow SDK call.
	alarmMu   sync.Mutex
	alarms    []Alarm
	lastStamp int64

	reconnectCh chan struct{}
	done        chan struct{}
	closeOnce   sync.Once

	// backoff schedule, overridable in tests
	reconnectInitial time.Duration
	reconnectMax     time.Duration

	onState func(State)
}

// NewSession creates a Session over the given SDK. The session starts in
// the Disconnected state; call Start to launch the reconnect loop.
func NewSession(sdk SDK) *Session {
	return &Session{
		sdk:              sdk,
		logger:           noopLogger{},
		state:            StateDisconnected,
		reconnectCh:      make(chan struct{}, 1),
		done:             make(chan struct{}),
		reconnectInitial: reconnectInitialDelay,
		reconnectMax:     reconnectMaxDelay,
	}
}

// SetLogger sets the logger for the session.
func (s *Session) SetLogger(logger Logger) {
	s.logger = logger
}

// SetOnStateChange registers a callback invoked (on its own goroutine)
// after every state transition. Used by the telemetry sink.
func (s *Session) SetOnStateChange(fn func(State)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// Start launches the background re-login loop. The loop sleeps until a
// transport failure moves the session into Reconnecting, then retries
// Login on the exponential backoff schedule until success, context
// cancellation, or Close.
func (s *Session) Start(ctx context.Context) {
	go s.reconnectLoop(ctx)
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Health returns a point-in-time view of the session for the reconciler
// and status publishers.
func (s *Session) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Health{
		State:       s.state,
		LoginFailed: s.loginFailed,
		LastActive:  s.lastActive,
		Address:     s.address,
	}
}

// Info returns static device identity information. It does not require a
// login and does not touch the device.
func (s *Session) Info() Info {
	return s.sdk.Info()
}

// Login establishes the device session.
//
// Errors: ErrBadCredentials, ErrUnreachable (the session then begins
// reconnecting on its own), ErrAlreadyConnected, ErrTransient while a
// reconnect is already in progress, ErrShuttingDown.
func (s *Session) Login(ctx context.Context, address, username, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateShuttingDown:
		return ErrShuttingDown
	case StateConnected:
		return ErrAlreadyConnected
	case StateReconnecting:
		return fmt.Errorf("%w: reconnect in progress", ErrTransient)
	}

	if !s.inited {
		if err := s.sdk.Init(); err != nil {
			return fmt.Errorf("sdk init: %w", err)
		}
		s.inited = true
	}

	handle, err := s.sdk.Login(address, username, password)
	if err != nil {
		if errors.Is(err, ErrBadCredentials) {
			s.loginFailed = true
			return err
		}
		if IsTransport(err) {
			// Remember the target so the background loop can keep trying.
			s.address = address
			s.username = username
			s.password = password
			s.transitionLocked(StateReconnecting)
			s.kickReconnect()
			return err
		}
		return &SDKError{Op: "login", Code: s.sdk.LastError()}
	}

	s.handle = handle
	s.address = address
	s.username = username
	s.password = password
	s.loginFailed = false
	s.lastActive = time.Now()
	s.transitionLocked(StateConnected)
	s.logger.Info("device session established", "address", address)
	return nil
}

// Logout releases the device session. Logging out while not connected is
// a soft no-op.
func (s *Session) Logout(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected {
		return nil
	}

	if err := s.sdk.Logout(s.handle); err != nil {
		s.logger.Warn("device logout failed", "error", err)
	}
	s.handle = 0
	s.transitionLocked(StateDisconnected)
	return nil
}

// Status reads the device status record. Idempotent and side-effect
// free; callers may retry on ErrTransient.
func (s *Session) Status(ctx context.Context) (*Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	st, err := s.sdk.Status(s.handle)
	if err != nil {
		return nil, s.failLocked("status", err)
	}
	s.lastActive = time.Now()
	return st, nil
}

// GetConfig reads one device configuration block.
func (s *Session) GetConfig(ctx context.Context, kind ConfigKind) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !KnownConfigKind(kind) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	cfg, err := s.sdk.GetConfig(s.handle, kind)
	if err != nil {
		return nil, s.failLocked("get config", err)
	}
	s.lastActive = time.Now()
	return cfg, nil
}

// SetConfig writes scalar fields into one device configuration block.
// Mutating: never retried implicitly.
func (s *Session) SetConfig(ctx context.Context, kind ConfigKind, payload map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !KnownConfigKind(kind) {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readyLocked(); err != nil {
		return err
	}
	if err := s.sdk.SetConfig(s.handle, kind, payload); err != nil {
		return s.failLocked("set config", err)
	}
	s.lastActive = time.Now()
	return nil
}

// Control executes a device command. The command name is validated
// before the SDK is touched: a rejected command never reaches the
// device, and mutating commands are never implicitly retried.
func (s *Session) Control(ctx context.Context, cmd string, params Params) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cmd {
	case CommandDecode, CommandPlayback, CommandReboot, CommandShutdown:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	result, err := s.sdk.Control(s.handle, cmd, params)
	if err != nil {
		return nil, s.failLocked("control "+cmd, err)
	}
	s.lastActive = time.Now()
	if cmd == CommandReboot || cmd == CommandShutdown {
		s.pushAlarm("command", "device "+cmd+" requested")
	}
	return result, nil
}

// Channels enumerates the decode channels.
func (s *Session) Channels(ctx context.Context) ([]ChannelStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	chans, err := s.sdk.Channels(s.handle)
	if err != nil {
		return nil, s.failLocked("channels", err)
	}
	s.lastActive = time.Now()
	return chans, nil
}

// SetChannel enables or disables one decode channel.
func (s *Session) SetChannel(ctx context.Context, id int, active bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id < 1 {
		return fmt.Errorf("%w: channel %d", ErrInvalidParams, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readyLocked(); err != nil {
		return err
	}
	if err := s.sdk.SetChannel(s.handle, id, active); err != nil {
		return s.failLocked("set channel", err)
	}
	s.lastActive = time.Now()
	return nil
}

// PopAlarms drains and returns the queued alarm events.
func (s *Session) PopAlarms() []Alarm {
	s.alarmMu.Lock()
	defer s.alarmMu.Unlock()

	if len(s.alarms) == 0 {
		return nil
	}
	out := s.alarms
	s.alarms = nil
	return out
}

// Close transitions the session to ShuttingDown, attempting a device
// logout exactly once. Safe to call multiple times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.state == StateConnected {
			if err := s.sdk.Logout(s.handle); err != nil {
				s.logger.Warn("logout during shutdown failed", "error", err)
			}
			s.handle = 0
		}
		s.transitionLocked(StateShuttingDown)
		if s.inited {
			s.sdk.Cleanup()
			s.inited = false
		}
		s.mu.Unlock()

		close(s.done)
	})
	return nil
}

// readyLocked gates operations on the session state. Caller holds mu.
func (s *Session) readyLocked() error {
	switch s.state {
	case StateConnected:
		return nil
	case StateReconnecting:
		return fmt.Errorf("%w: reconnect in progress", ErrTransient)
	case StateShuttingDown:
		return ErrShuttingDown
	default:
		return ErrNotConnected
	}
}

// failLocked classifies an SDK call failure. Transport errors flip the
// session into Reconnecting and surface as ErrTransient; validation
// sentinels pass through; anything else becomes an SDKError carrying the
// vendor code, read under the same lock that issued the call.
func (s *Session) failLocked(op string, err error) error {
	if IsTransport(err) {
		s.logger.Warn("transport failure, entering reconnect", "op", op, "error", err)
		s.pushAlarm("transport", op+" failed: device unreachable")
		s.transitionLocked(StateReconnecting)
		s.kickReconnect()
		return fmt.Errorf("%w: %s", ErrTransient, op)
	}
	for _, sentinel := range []error{
		ErrUnknownKind, ErrUnknownCommand, ErrInvalidParams, ErrInvalidPayload, ErrNotConnected,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return &SDKError{Op: op, Code: s.sdk.LastError()}
}

// transitionLocked records a state change. Caller holds mu. The state
// callback runs on its own goroutine so observers can never deadlock
// against the session mutex.
func (s *Session) transitionLocked(next State) {
	if s.state == next {
		return
	}
	prev := s.state
	s.state = next
	s.logger.Debug("session state change", "from", string(prev), "to", string(next))
	s.pushAlarm("session", fmt.Sprintf("state %s -> %s", prev, next))

	if s.onState != nil {
		cb := s.onState
		go cb(next)
	}
}

// pushAlarm appends an alarm event with a monotonic timestamp, dropping
// the oldest entry when the queue is full.
func (s *Session) pushAlarm(kind, message string) {
	s.alarmMu.Lock()
	defer s.alarmMu.Unlock()

	stamp := time.Now().UnixMilli()
	if stamp <= s.lastStamp {
		stamp = s.lastStamp + 1
	}
	s.lastStamp = stamp

	if len(s.alarms) >= maxQueuedAlarms {
		s.alarms = s.alarms[1:]
	}
	s.alarms = append(s.alarms, Alarm{Type: kind, Message: message, Timestamp: stamp})
}

// kickReconnect nudges the reconnect loop without blocking. Caller holds mu.
func (s *Session) kickReconnect() {
	select {
	case s.reconnectCh <- struct{}{}:
	default:
	}
}

// reconnectLoop waits for transport failures and re-logs-in on an
// exponential backoff schedule.
func (s *Session) reconnectLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.reconnectCh:
		}

		delay := s.reconnectInitial
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-time.After(delay):
			}

			if s.tryRelogin() {
				break
			}

			delay *= 2
			if delay > s.reconnectMax {
				delay = s.reconnectMax
			}
		}
	}
}

// tryRelogin attempts one re-login. Returns true when the session is no
// longer reconnecting (either this attempt succeeded or something else
// moved the state on).
func (s *Session) tryRelogin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReconnecting {
		return true
	}

	handle, err := s.sdk.Login(s.address, s.username, s.password)
	if err != nil {
		if errors.Is(err, ErrBadCredentials) {
			// Credentials changed on the device; keep trying in case they
			// change back, but report Failed in the meantime.
			s.loginFailed = true
		}
		s.logger.Warn("re-login failed", "address", s.address, "error", err)
		return false
	}

	s.handle = handle
	s.loginFailed = false
	s.lastActive = time.Now()
	s.transitionLocked(StateConnected)
	s.pushAlarm("session", "reconnected to device")
	s.logger.Info("device session re-established", "address", s.address)
	return true
}
