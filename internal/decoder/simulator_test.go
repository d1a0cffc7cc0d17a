package decoder

import (
	"errors"
	"testing"
)

func TestSimulator_LoginChecksCredentials(t *testing.T) {
	sim := NewSimulator("admin", "12345")

	if _, err := sim.Login("10.0.0.5:8000", "admin", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("Login() error = %v, want ErrBadCredentials", err)
	}
	if sim.LastError() != codePassword {
		t.Errorf("LastError() = %d, want %d", sim.LastError(), codePassword)
	}

	handle, err := sim.Login("10.0.0.5:8000", "admin", "12345")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if handle == 0 {
		t.Error("Login() returned zero handle")
	}
	if sim.LastError() != codeOK {
		t.Errorf("LastError() = %d, want %d", sim.LastError(), codeOK)
	}
}

func TestSimulator_ConfigRoundTrip(t *testing.T) {
	sim := NewSimulator("admin", "12345")
	h, _ := sim.Login("10.0.0.5:8000", "admin", "12345")

	if err := sim.SetConfig(h, ConfigDisplay, map[string]any{"layout": "3x3", "windows": 9}); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}

	cfg, err := sim.GetConfig(h, ConfigDisplay)
	if err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}
	if cfg["layout"] != "3x3" {
		t.Errorf("layout = %v, want 3x3", cfg["layout"])
	}
	if cfg["windows"] != 9 {
		t.Errorf("windows = %v, want 9", cfg["windows"])
	}

	// The returned map is a copy; mutating it must not leak back.
	cfg["layout"] = "1x1"
	again, _ := sim.GetConfig(h, ConfigDisplay)
	if again["layout"] != "3x3" {
		t.Error("GetConfig() returned a live reference to internal state")
	}
}

func TestSimulator_ControlStateMachine(t *testing.T) {
	sim := NewSimulator("admin", "12345")
	h, _ := sim.Login("10.0.0.5:8000", "admin", "12345")

	if _, err := sim.Control(h, CommandDecode, Params{Action: "start", Channel: 2}); err != nil {
		t.Fatalf("Control(decode start) error = %v", err)
	}
	st, _ := sim.Status(h)
	if st.SDKState != "decoding" {
		t.Errorf("SDKState = %q, want decoding", st.SDKState)
	}
	var ch2 *ChannelStatus
	for i := range st.Channels {
		if st.Channels[i].ID == 2 {
			ch2 = &st.Channels[i]
		}
	}
	if ch2 == nil || !ch2.Decoding {
		t.Error("channel 2 not decoding after decode start")
	}

	if _, err := sim.Control(h, CommandDecode, Params{Action: "stop"}); err != nil {
		t.Fatalf("Control(decode stop) error = %v", err)
	}
	st, _ = sim.Status(h)
	if st.SDKState != "idle" {
		t.Errorf("SDKState = %q, want idle", st.SDKState)
	}

	if _, err := sim.Control(h, CommandReboot, Params{}); err != nil {
		t.Fatalf("Control(reboot) error = %v", err)
	}
	st, _ = sim.Status(h)
	if st.SDKState != "rebooting" {
		t.Errorf("SDKState = %q, want rebooting", st.SDKState)
	}
}

func TestSimulator_InvalidActions(t *testing.T) {
	sim := NewSimulator("admin", "12345")
	h, _ := sim.Login("10.0.0.5:8000", "admin", "12345")

	if _, err := sim.Control(h, CommandDecode, Params{Action: "reverse"}); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("decode reverse error = %v, want ErrInvalidParams", err)
	}
	if _, err := sim.Control(h, "mystery", Params{}); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("unknown command error = %v, want ErrUnknownCommand", err)
	}
	if err := sim.SetChannel(h, 99, true); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("SetChannel(99) error = %v, want ErrInvalidParams", err)
	}
}

func TestSimulator_FailInjection(t *testing.T) {
	sim := NewSimulator("admin", "12345")
	h, _ := sim.Login("10.0.0.5:8000", "admin", "12345")

	sim.Fail(ErrUnreachable)
	if _, err := sim.Status(h); !errors.Is(err, ErrUnreachable) {
		t.Errorf("Status() error = %v, want ErrUnreachable", err)
	}
	if sim.LastError() != codeNetwork {
		t.Errorf("LastError() = %d, want %d", sim.LastError(), codeNetwork)
	}

	sim.Fail(nil)
	if _, err := sim.Status(h); err != nil {
		t.Errorf("Status() after clearing failure error = %v", err)
	}
}
