package mqtt

import (
	"fmt"
	"strings"
)

// Topics builds the adapter's topic hierarchy. All topics live under
// <prefix>/<device>:
//
//	<prefix>/<device>/control/<command>   inbound commands
//	<prefix>/<device>/<command>/ack       command acknowledgements
//	<prefix>/<device>/<instruction>       outbound telemetry
type Topics struct {
	Prefix string
	Device string
}

// NewTopics builds a topic helper for one device under prefix.
func NewTopics(prefix, device string) Topics {
	return Topics{
		Prefix: strings.TrimRight(prefix, "/"),
		Device: device,
	}
}

func (t Topics) base() string {
	return fmt.Sprintf("%s/%s", t.Prefix, t.Device)
}

// ControlWildcard returns the subscription pattern covering every
// inbound control topic for the device.
//
// Example: shifu/decoder-01/control/#
func (t Topics) ControlWildcard() string {
	return fmt.Sprintf("%s/control/#", t.base())
}

// Control returns the inbound topic for one command.
//
// Example: shifu/decoder-01/control/decode
func (t Topics) Control(command string) string {
	return fmt.Sprintf("%s/control/%s", t.base(), command)
}

// Ack returns the acknowledgement topic for one command.
//
// Example: shifu/decoder-01/decode/ack
func (t Topics) Ack(command string) string {
	return fmt.Sprintf("%s/%s/ack", t.base(), command)
}

// Telemetry returns the outbound topic for a published instruction.
//
// Example: shifu/decoder-01/status
func (t Topics) Telemetry(instruction string) string {
	return fmt.Sprintf("%s/%s", t.base(), instruction)
}

// CommandFromControlTopic extracts the command name from an inbound
// control topic. Returns false when the topic is not under the
// device's control hierarchy or names no command.
func (t Topics) CommandFromControlTopic(topic string) (string, bool) {
	prefix := t.base() + "/control/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	command := strings.TrimPrefix(topic, prefix)
	if command == "" || strings.Contains(command, "/") {
		return "", false
	}
	return command, true
}
