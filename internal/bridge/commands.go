package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edgewall/decoder-adapter/internal/decoder"
)

// commandTimeout bounds one command's session call.
const commandTimeout = 10 * time.Second

// controlPayload is the union of fields accepted across control
// commands; each command reads the subset it cares about.
type controlPayload struct {
	Username string         `json:"username,omitempty"`
	Password string         `json:"password,omitempty"`
	IP       string         `json:"ip,omitempty"`
	Port     int            `json:"port,omitempty"`
	Action   string         `json:"action,omitempty"`
	Channel  int            `json:"channel,omitempty"`
	Type     string         `json:"type,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// dispatch executes one control command against the session. Each
// message is dispatched exactly once; the outcome goes to the ack topic
// and is never retried here.
func (b *Bridge) dispatch(command string, raw []byte) error {
	var p controlPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("%w: %v", decoder.ErrInvalidPayload, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch command {
	case "login":
		return b.commandLogin(ctx, p)
	case "logout":
		return b.session.Logout(ctx)
	case decoder.CommandDecode, decoder.CommandPlayback:
		_, err := b.session.Control(ctx, command, decoder.Params{
			Action:  p.Action,
			Channel: p.Channel,
			Payload: p.Payload,
		})
		return err
	case decoder.CommandReboot, decoder.CommandShutdown:
		_, err := b.session.Control(ctx, command, decoder.Params{})
		return err
	case "config":
		return b.commandConfig(ctx, p, raw)
	case "status":
		return b.commandStatus(ctx)
	default:
		return fmt.Errorf("%w: %q", decoder.ErrUnknownCommand, command)
	}
}

// commandLogin logs the session in, defaulting address and credentials
// from configuration.
func (b *Bridge) commandLogin(ctx context.Context, p controlPayload) error {
	username := p.Username
	if username == "" {
		username = b.cfg.Device.Username
	}
	password := p.Password
	if password == "" {
		password = b.cfg.Device.Password
	}
	address := b.cfg.Device.Address()
	if p.IP != "" {
		port := p.Port
		if port == 0 {
			port = b.cfg.Device.Port
		}
		address = fmt.Sprintf("%s:%d", p.IP, port)
	}

	err := b.session.Login(ctx, address, username, password)
	if errors.Is(err, decoder.ErrAlreadyConnected) {
		// Idempotent from the broker's point of view.
		return nil
	}
	return err
}

// commandConfig writes one configuration block. The kind comes from the
// "type" field; the block payload is either the "payload" field or the
// rest of the message.
func (b *Bridge) commandConfig(ctx context.Context, p controlPayload, raw []byte) error {
	if p.Type == "" {
		return fmt.Errorf("%w: config command needs a type", decoder.ErrInvalidPayload)
	}

	payload := p.Payload
	if payload == nil {
		var full map[string]any
		if err := json.Unmarshal(raw, &full); err != nil {
			return fmt.Errorf("%w: %v", decoder.ErrInvalidPayload, err)
		}
		delete(full, "type")
		payload = full
	}

	return b.session.SetConfig(ctx, decoder.ConfigKind(p.Type), payload)
}

// commandStatus fetches the device status and publishes it immediately
// on the status telemetry topic, outside the periodic cadence.
func (b *Bridge) commandStatus(ctx context.Context) error {
	status, err := b.session.Status(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	return b.client.Publish(b.topics.Telemetry("status"), body, b.qos, false)
}

// ackPayload renders the command outcome for the ack topic.
func ackPayload(err error) []byte {
	if err == nil {
		return []byte(`{"result":"ok"}`)
	}
	body, marshalErr := json.Marshal(map[string]string{
		"result": "fail",
		"error":  err.Error(),
	})
	if marshalErr != nil {
		return []byte(`{"result":"fail"}`)
	}
	return body
}
