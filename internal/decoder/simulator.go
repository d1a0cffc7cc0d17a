package decoder

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// Vendor result codes mirrored by the simulator. Code 0 is success; the
// rest follow the vendor's numbering for the conditions the adapter cares
// about.
const (
	codeOK          = 0
	codePassword    = 1
	codeNetwork     = 7
	codeUnsupported = 17
	codeChannel     = 23
)

const (
	defaultChannelCount = 4
	probeTimeout        = 2 * time.Second
)

// Simulator is an in-process stand-in for the vendor decoder SDK.
//
// It reproduces the library's observable behaviour: credential checking,
// a global init reference count, a last-error register, and the decoder
// state machine (idle, decoding, rebooting). When Probe is enabled, Login
// additionally verifies that the device address accepts a TCP connection,
// which gives the adapter real reachability semantics.
//
// Like the vendor library, per-handle state assumes serialised callers.
// Only the failure-injection and last-error registers carry their own
// lock, so tests can inject faults from another goroutine.
type Simulator struct {
	username string
	password string

	// Probe enables a TCP dial of the device address during Login.
	Probe bool

	gate    initGate
	handles int
	nextID  int
	state   string
	configs map[ConfigKind]map[string]any
	chans   []ChannelStatus

	mu       sync.Mutex
	lastCode int
	forced   error
}

// NewSimulator creates a Simulator that accepts the given credentials.
func NewSimulator(username, password string) *Simulator {
	s := &Simulator{
		username: username,
		password: password,
		state:    "running",
		configs: map[ConfigKind]map[string]any{
			ConfigDisplay: {"windows": 2, "layout": "2x2"},
			ConfigScene:   {"current_scene": "default"},
			ConfigNetwork: {"dhcp": true},
			ConfigDecoder: {"decoding_channels": defaultChannelCount},
		},
	}
	for i := 1; i <= defaultChannelCount; i++ {
		s.chans = append(s.chans, ChannelStatus{ID: i, Active: true})
	}
	return s
}

// Fail forces every subsequent call to return err until cleared with
// Fail(nil). Used to exercise transport failures.
func (s *Simulator) Fail(err error) {
	s.mu.Lock()
	s.forced = err
	s.mu.Unlock()
}

func (s *Simulator) forcedErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forced
}

func (s *Simulator) setCode(code int) {
	s.mu.Lock()
	s.lastCode = code
	s.mu.Unlock()
}

// Init implements SDK.
func (s *Simulator) Init() error {
	return s.gate.enter()
}

// Cleanup implements SDK.
func (s *Simulator) Cleanup() {
	s.gate.leave()
}

// Login implements SDK.
func (s *Simulator) Login(address, username, password string) (int, error) {
	if err := s.forcedErr(); err != nil {
		s.setCode(codeNetwork)
		return 0, err
	}
	if s.Probe {
		conn, err := net.DialTimeout("tcp", address, probeTimeout)
		if err != nil {
			s.setCode(codeNetwork)
			return 0, fmt.Errorf("%w: %s: %w", ErrUnreachable, address, err)
		}
		conn.Close()
	}
	if username != s.username || password != s.password {
		s.setCode(codePassword)
		return 0, ErrBadCredentials
	}

	s.nextID++
	s.handles++
	s.setCode(codeOK)
	return s.nextID, nil
}

// Logout implements SDK.
func (s *Simulator) Logout(handle int) error {
	if s.handles == 0 {
		s.setCode(codeUnsupported)
		return ErrNotConnected
	}
	s.handles--
	s.setCode(codeOK)
	return nil
}

// Status implements SDK.
func (s *Simulator) Status(handle int) (*Status, error) {
	if err := s.forcedErr(); err != nil {
		s.setCode(codeNetwork)
		return nil, err
	}
	chans := make([]ChannelStatus, len(s.chans))
	copy(chans, s.chans)
	s.setCode(codeOK)
	return &Status{
		SDKState:   s.state,
		Alarm:      "no_alarms",
		Network:    "ok",
		Channels:   chans,
		SDKVersion: sdkVersion,
	}, nil
}

// GetConfig implements SDK.
func (s *Simulator) GetConfig(handle int, kind ConfigKind) (map[string]any, error) {
	if err := s.forcedErr(); err != nil {
		s.setCode(codeNetwork)
		return nil, err
	}
	cfg, ok := s.configs[kind]
	if !ok {
		s.setCode(codeUnsupported)
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	s.setCode(codeOK)
	return out, nil
}

// SetConfig implements SDK. Scalar fields merge into the existing block.
func (s *Simulator) SetConfig(handle int, kind ConfigKind, payload map[string]any) error {
	if err := s.forcedErr(); err != nil {
		s.setCode(codeNetwork)
		return err
	}
	cfg, ok := s.configs[kind]
	if !ok {
		s.setCode(codeUnsupported)
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	for k, v := range payload {
		cfg[k] = v
	}
	s.setCode(codeOK)
	return nil
}

// Control implements SDK.
func (s *Simulator) Control(handle int, cmd string, params Params) (map[string]any, error) {
	if err := s.forcedErr(); err != nil {
		s.setCode(codeNetwork)
		return nil, err
	}

	switch cmd {
	case CommandDecode:
		return s.controlDecode(params)
	case CommandPlayback:
		return s.controlPlayback(params)
	case CommandReboot:
		s.state = "rebooting"
		s.setCode(codeOK)
		return map[string]any{"result": "rebooting"}, nil
	case CommandShutdown:
		s.state = "shutdown"
		s.setCode(codeOK)
		return map[string]any{"result": "shutting down"}, nil
	default:
		s.setCode(codeUnsupported)
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
}

func (s *Simulator) controlDecode(params Params) (map[string]any, error) {
	switch params.Action {
	case "start":
		if err := s.setDecoding(params.Channel, true); err != nil {
			return nil, err
		}
		s.state = "decoding"
		s.setCode(codeOK)
		return map[string]any{"result": "decoding started"}, nil
	case "stop":
		if err := s.setDecoding(params.Channel, false); err != nil {
			return nil, err
		}
		s.state = "idle"
		s.setCode(codeOK)
		return map[string]any{"result": "decoding stopped"}, nil
	default:
		s.setCode(codeUnsupported)
		return nil, fmt.Errorf("%w: decode action %q", ErrInvalidParams, params.Action)
	}
}

func (s *Simulator) controlPlayback(params Params) (map[string]any, error) {
	switch params.Action {
	case "start", "stop", "pause", "resume":
		s.setCode(codeOK)
		return map[string]any{"result": "playback " + params.Action}, nil
	default:
		s.setCode(codeUnsupported)
		return nil, fmt.Errorf("%w: playback action %q", ErrInvalidParams, params.Action)
	}
}

// setDecoding flips the decoding flag on one channel, or all when id is 0.
func (s *Simulator) setDecoding(id int, decoding bool) error {
	if id == 0 {
		for i := range s.chans {
			s.chans[i].Decoding = decoding
		}
		return nil
	}
	for i := range s.chans {
		if s.chans[i].ID == id {
			s.chans[i].Decoding = decoding
			return nil
		}
	}
	s.setCode(codeChannel)
	return fmt.Errorf("%w: channel %d", ErrInvalidParams, id)
}

// Channels implements SDK.
func (s *Simulator) Channels(handle int) ([]ChannelStatus, error) {
	if err := s.forcedErr(); err != nil {
		s.setCode(codeNetwork)
		return nil, err
	}
	out := make([]ChannelStatus, len(s.chans))
	copy(out, s.chans)
	s.setCode(codeOK)
	return out, nil
}

// SetChannel implements SDK.
func (s *Simulator) SetChannel(handle int, id int, active bool) error {
	if err := s.forcedErr(); err != nil {
		s.setCode(codeNetwork)
		return err
	}
	for i := range s.chans {
		if s.chans[i].ID == id {
			s.chans[i].Active = active
			s.setCode(codeOK)
			return nil
		}
	}
	s.setCode(codeChannel)
	return fmt.Errorf("%w: channel %d", ErrInvalidParams, id)
}

// LastError implements SDK.
func (s *Simulator) LastError() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCode
}

const sdkVersion = "v6.1.9.4"

// Info implements SDK.
func (s *Simulator) Info() Info {
	return Info{
		Manufacturer: "Hikvision",
		Model:        "DS-6916UD",
		SDKVersion:   sdkVersion,
		ChannelCount: len(s.chans),
	}
}
