package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/edgewall/decoder-adapter/internal/decoder"
	"github.com/edgewall/decoder-adapter/internal/instructions"
)

// publishTimeout bounds one publisher tick's session call.
const publishTimeout = 5 * time.Second

// runPublisher drives one publisher instruction on its configured
// cadence until the context is cancelled. Transient session errors are
// swallowed; the next tick retries.
func (b *Bridge) runPublisher(ctx context.Context, inst instructions.Instruction) {
	defer b.wg.Done()

	ticker := time.NewTicker(inst.PublishInterval)
	defer ticker.Stop()

	b.logger.Info("telemetry publisher started",
		"instruction", inst.Name,
		"interval", inst.PublishInterval,
		"topic", b.topics.Telemetry(inst.Topic),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.publishOnce(ctx, inst)
		}
	}
}

// publishOnce performs a single publisher tick.
func (b *Bridge) publishOnce(ctx context.Context, inst instructions.Instruction) {
	tickCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	payload, err := b.buildPayload(tickCtx, inst)
	if err != nil {
		if errors.Is(err, decoder.ErrTransient) || errors.Is(err, decoder.ErrNotConnected) {
			// Device away; the next tick will try again.
			return
		}
		b.logger.Warn("telemetry payload failed", "instruction", inst.Name, "error", err)
		return
	}
	if payload == nil {
		return
	}

	if err := b.client.Publish(b.topics.Telemetry(inst.Topic), payload, inst.QoS, false); err != nil {
		b.logger.Warn("telemetry publish failed", "instruction", inst.Name, "error", err)
	}
}

// buildPayload resolves a publisher instruction name to its telemetry
// body. A nil payload with nil error means nothing to publish this tick.
func (b *Bridge) buildPayload(ctx context.Context, inst instructions.Instruction) ([]byte, error) {
	switch inst.Name {
	case "status":
		status, err := b.session.Status(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(status)

	case "alarm", "alarms":
		alarms := b.session.PopAlarms()
		if len(alarms) == 0 {
			return nil, nil
		}
		if b.sink != nil {
			for _, alarm := range alarms {
				b.sink.WriteAlarm(b.device, alarm)
			}
		}
		return json.Marshal(alarms)

	case "health":
		return json.Marshal(b.session.Health())

	case "device", "device_info":
		return json.Marshal(b.session.Info())

	case "channels":
		channels, err := b.session.Channels(ctx)
		if err != nil {
			return nil, err
		}
		if b.sink != nil {
			for _, ch := range channels {
				b.sink.WriteChannelMetric(b.device, ch.ID, ch.Decoding)
			}
		}
		return json.Marshal(channels)

	default:
		// Unknown publisher names fall back to the full status record;
		// the instruction file may name device-specific readings the
		// SDK folds into status.
		status, err := b.session.Status(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(status)
	}
}
