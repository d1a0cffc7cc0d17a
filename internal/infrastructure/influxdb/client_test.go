package influxdb

import (
	"context"
	"errors"
	"testing"

	"github.com/edgewall/decoder-adapter/internal/infrastructure/config"
)

func TestConnectDisabled(t *testing.T) {
	_, err := Connect(config.TelemetryConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestCloseNeverConnected(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}

func TestHealthCheckNotConnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestFlushWhenClosed(t *testing.T) {
	// Flush on a never-connected client must be a safe no-op.
	c := &Client{}
	c.Flush()
}

func TestWritesDropWhenDisconnected(t *testing.T) {
	// Writes on a disconnected client silently drop; they must not panic
	// on the nil write API.
	c := &Client{}
	c.WriteSessionState("decoder-01", "connected")
	c.WriteChannelMetric("decoder-01", 1, true)
	c.WritePoint("custom", nil, map[string]interface{}{"v": 1})
}
