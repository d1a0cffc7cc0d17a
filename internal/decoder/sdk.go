package decoder

import "sync"

// SDK is the capability surface of the vendor decoder library.
//
// The vendor library holds process-global state: an init/cleanup reference
// count and a thread-global last-error register. Implementations must be
// called from one goroutine at a time; the Session provides that
// serialisation, so implementations do not need their own locking for
// per-handle state.
type SDK interface {
	// Init increments the SDK's global init reference count. The first
	// call performs the actual library initialisation.
	Init() error

	// Cleanup decrements the reference count; the last call releases the
	// library.
	Cleanup()

	// Login authenticates against the device and returns an opaque
	// session handle. Errors: ErrBadCredentials, ErrUnreachable.
	Login(address, username, password string) (handle int, err error)

	// Logout releases the handle on the device.
	Logout(handle int) error

	// Status reads the device status record.
	Status(handle int) (*Status, error)

	// GetConfig reads one configuration block.
	GetConfig(handle int, kind ConfigKind) (map[string]any, error)

	// SetConfig writes scalar fields into one configuration block.
	SetConfig(handle int, kind ConfigKind, payload map[string]any) error

	// Control executes a device command (decode, playback, reboot,
	// shutdown) and returns the command-specific result fields.
	Control(handle int, cmd string, params Params) (map[string]any, error)

	// Channels enumerates decode channels.
	Channels(handle int) ([]ChannelStatus, error)

	// SetChannel enables or disables a single decode channel.
	SetChannel(handle int, id int, active bool) error

	// LastError returns the vendor error code of the most recent failed
	// call. Valid only when read under the same serialisation that issued
	// the call.
	LastError() int

	// Info returns static device identity information. Valid without a
	// login.
	Info() Info
}

// initGate guards the process-global SDK init/cleanup reference count.
// The vendor library must be initialised exactly once per process no
// matter how many logical handles are opened.
type initGate struct {
	mu   sync.Mutex
	refs int
	init func() error
	fini func()
}

// enter increments the reference count, running the init function on the
// first entry. On init failure the count is not incremented.
func (g *initGate) enter() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.refs == 0 && g.init != nil {
		if err := g.init(); err != nil {
			return err
		}
	}
	g.refs++
	return nil
}

// leave decrements the reference count, running the cleanup function when
// the last reference is released. Extra leaves are ignored.
func (g *initGate) leave() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.refs == 0 {
		return
	}
	g.refs--
	if g.refs == 0 && g.fini != nil {
		g.fini()
	}
}
