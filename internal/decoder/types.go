package decoder

import "time"

// State is the lifecycle state of the device session.
type State string

const (
	StateDisconnected State = "Disconnected"
	StateConnected    State = "Connected"
	StateReconnecting State = "Reconnecting"
	StateShuttingDown State = "ShuttingDown"
)

// ConfigKind selects one of the device's configuration blocks.
type ConfigKind string

const (
	ConfigDisplay ConfigKind = "display"
	ConfigScene   ConfigKind = "scene"
	ConfigNetwork ConfigKind = "network"
	ConfigDecoder ConfigKind = "decoder"
)

// KnownConfigKind reports whether kind names a recognised config block.
func KnownConfigKind(kind ConfigKind) bool {
	switch kind {
	case ConfigDisplay, ConfigScene, ConfigNetwork, ConfigDecoder:
		return true
	}
	return false
}

// Control command names understood by the session.
const (
	CommandDecode   = "decode"
	CommandPlayback = "playback"
	CommandReboot   = "reboot"
	CommandShutdown = "shutdown"
)

// Params carries the parameters of a control command. Channel 0 means
// "all channels" for commands that accept a channel.
type Params struct {
	Action  string         `json:"action,omitempty"`
	Channel int            `json:"channel,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Status is the device status record as reported by the SDK.
type Status struct {
	SDKState   string          `json:"sdk_state"`
	Alarm      string          `json:"alarm"`
	Network    string          `json:"network"`
	Channels   []ChannelStatus `json:"channels"`
	SDKVersion string          `json:"sdk_version"`
}

// ChannelStatus is the state of a single decode channel.
type ChannelStatus struct {
	ID       int    `json:"id"`
	Active   bool   `json:"active"`
	Decoding bool   `json:"decoding"`
	Source   string `json:"source,omitempty"`
}

// Info is static device identity information.
type Info struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	SDKVersion   string `json:"sdk_version"`
	ChannelCount int    `json:"channel_count"`
}

// Alarm is a tagged telemetry event produced by the session and queued
// for asynchronous publication.
type Alarm struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"` // monotonic within a process run
}

// Health is a point-in-time view of the session used by the reconciler
// and the status publishers.
type Health struct {
	State       State     `json:"state"`
	LoginFailed bool      `json:"login_failed"`
	LastActive  time.Time `json:"last_active"`
	Address     string    `json:"address,omitempty"`
}
