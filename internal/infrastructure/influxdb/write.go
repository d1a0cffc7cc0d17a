package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/edgewall/decoder-adapter/internal/decoder"
)

// WriteAlarm records one decoder alarm.
//
// The write is non-blocking; data is batched and sent asynchronously.
// The alarm's own timestamp is preserved so drained backlogs land at
// the time they occurred, not the time they were flushed.
//
// Parameters:
//   - device: The device name the alarm belongs to
//   - alarm: The alarm drained from the session queue
func (c *Client) WriteAlarm(device string, alarm decoder.Alarm) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"decoder_alarms",
		map[string]string{
			"device": device,
			"type":   alarm.Type,
		},
		map[string]interface{}{
			"message": alarm.Message,
		},
		time.UnixMilli(alarm.Timestamp),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionState records a session state transition.
//
// Parameters:
//   - device: The device name
//   - state: The new session state (connected, reconnecting, ...)
func (c *Client) WriteSessionState(device string, state decoder.State) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"session_state",
		map[string]string{
			"device": device,
		},
		map[string]interface{}{
			"state": string(state),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteChannelMetric records the decoding flag of one decoder channel.
//
// Parameters:
//   - device: The device name
//   - channel: The channel identifier
//   - decoding: Whether the channel is actively decoding
func (c *Client) WriteChannelMetric(device string, channel int, decoding bool) {
	if !c.IsConnected() {
		return
	}

	value := 0.0
	if decoding {
		value = 1.0
	}

	point := write.NewPoint(
		"channel_status",
		map[string]string{
			"device":  device,
			"channel": strconv.Itoa(channel),
		},
		map[string]interface{}{
			"decoding": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
