package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/edgewall/decoder-adapter/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	// Brokers detect a dead adapter within 1.5x this interval.
	defaultKeepAlive = 20 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2
)

// ClientID builds the broker client identifier for a device. The unix
// timestamp suffix guarantees a fresh identity per process so a restarted
// adapter never collides with its own stale broker session.
func ClientID(device string) string {
	return fmt.Sprintf("%s-%d", device, time.Now().Unix())
}

// buildClientOptions creates paho MQTT options from adapter config.
//
// This configures:
//   - Broker URL from MQTT_BROKER (scheme-qualified URLs used verbatim)
//   - Client ID <device>-<unix timestamp>
//   - Authentication credentials (if provided)
//   - Clean session mode (no broker-side state survives a restart)
//   - Auto-reconnect at a fixed cadence
func buildClientOptions(cfg config.MQTTConfig, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// Clean session - start fresh on connect (no persistent session on broker)
	opts.SetCleanSession(true)

	// Auto-reconnect at the configured fixed cadence. Initial and max
	// intervals are equal, so the cadence never backs off.
	reconnect := time.Duration(cfg.ReconnectDelay) * time.Second
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(reconnect)
	opts.SetMaxReconnectInterval(reconnect)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	return opts
}
