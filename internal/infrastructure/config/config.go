package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the decoder adapter.
// Values come from defaults, then an optional YAML file, then environment
// variables. The environment is the primary surface in-cluster; the YAML
// file exists for local development.
type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	HTTP       HTTPConfig       `yaml:"http"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	EdgeDevice EdgeDeviceConfig `yaml:"edgedevice"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
	Auth       AuthConfig       `yaml:"auth"`

	// ConfigMountPath is the directory holding the mounted instruction file
	// named "instructions".
	ConfigMountPath string `yaml:"config_mount_path"`
}

// DeviceConfig identifies the decoder appliance and its credentials.
type DeviceConfig struct {
	IP       string `yaml:"ip"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Address returns the device network address as host:port.
func (d DeviceConfig) Address() string {
	return fmt.Sprintf("%s:%d", d.IP, d.Port)
}

// HTTPConfig contains HTTP API server settings.
type HTTPConfig struct {
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Timeouts HTTPTimeoutConfig `yaml:"timeouts"`
}

// HTTPTimeoutConfig contains HTTP timeout settings in seconds.
type HTTPTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`

	// ReconnectDelay is the fixed cadence, in seconds, between reconnect
	// attempts after the broker connection is lost.
	ReconnectDelay int `yaml:"reconnect_delay"`
}

// BrokerURL returns the broker address as a paho-compatible URI.
// MQTT_BROKER may already carry a scheme (tcp://host:port); in that case
// it is used verbatim and the port setting is ignored.
func (m MQTTConfig) BrokerURL() string {
	if strings.Contains(m.Broker, "://") {
		return m.Broker
	}
	return fmt.Sprintf("tcp://%s:%d", m.Broker, m.Port)
}

// EdgeDeviceConfig identifies the declarative resource this adapter reconciles.
// Name and Namespace are required for the reconciler; when both are empty
// the reconciler is disabled and only the two north-bound surfaces run.
type EdgeDeviceConfig struct {
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace"`

	// APIServer overrides the control plane URL. Empty means in-cluster
	// (https://kubernetes.default.svc with the mounted service account).
	APIServer string `yaml:"api_server"`
}

// Enabled reports whether the reconciler has enough identity to run.
func (e EdgeDeviceConfig) Enabled() bool {
	return e.Name != "" && e.Namespace != ""
}

// TelemetryConfig contains the optional InfluxDB alarm/telemetry sink settings.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AuthConfig contains HTTP bearer-token settings.
type AuthConfig struct {
	// Secret signs session tokens. When empty a random per-process secret
	// is generated; tokens then do not survive an adapter restart, which
	// matches the adapter's statelessness.
	Secret string `yaml:"secret"`

	// TokenTTL is the inactivity expiry for session tokens in minutes.
	TokenTTL int `yaml:"token_ttl"`
}

// GetTokenTTL returns the token inactivity expiry as a Duration.
func (a AuthConfig) GetTokenTTL() time.Duration {
	return time.Duration(a.TokenTTL) * time.Minute
}

// Load builds configuration from defaults, an optional YAML file, and
// environment variable overrides, in that order.
//
// Parameters:
//   - path: Path to a YAML configuration file; empty or missing file is
//     not an error (the environment alone is a complete configuration)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be parsed or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		case os.IsNotExist(err):
			// Env-only configuration is the normal in-cluster case.
		default:
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with the documented defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			IP:       "127.0.0.1",
			Port:     8000,
			Username: "admin",
			Password: "12345",
		},
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: HTTPTimeoutConfig{
				Read:  5,
				Write: 30,
				Idle:  60,
			},
		},
		MQTT: MQTTConfig{
			Broker:         "tcp://localhost:1883",
			Port:           1883,
			TopicPrefix:    "shifu",
			QoS:            1,
			ReconnectDelay: 2,
		},
		Telemetry: TelemetryConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Auth: AuthConfig{
			TokenTTL: 60,
		},
		ConfigMountPath: "/etc/edgedevice/config",
	}
}

// applyEnvOverrides applies the documented environment variables on top of
// the loaded configuration. Unset variables leave the current value alone.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Device.IP, "DEVICE_IP")
	setInt(&cfg.Device.Port, "DEVICE_PORT")
	setString(&cfg.Device.Username, "DEVICE_USER")
	setString(&cfg.Device.Password, "DEVICE_PASS")

	setString(&cfg.HTTP.Host, "HTTP_HOST")
	setInt(&cfg.HTTP.Port, "HTTP_PORT")

	setString(&cfg.MQTT.Broker, "MQTT_BROKER")
	setInt(&cfg.MQTT.Port, "MQTT_BROKER_PORT")
	setString(&cfg.MQTT.Username, "MQTT_BROKER_USERNAME")
	setString(&cfg.MQTT.Password, "MQTT_BROKER_PASSWORD")
	setString(&cfg.MQTT.TopicPrefix, "MQTT_TOPIC_PREFIX")

	setString(&cfg.EdgeDevice.Name, "EDGEDEVICE_NAME")
	setString(&cfg.EdgeDevice.Namespace, "EDGEDEVICE_NAMESPACE")
	setString(&cfg.EdgeDevice.APIServer, "EDGEDEVICE_API_SERVER")

	setString(&cfg.ConfigMountPath, "CONFIG_MOUNT_PATH")
	setString(&cfg.Logging.Level, "LOG_LEVEL")

	setString(&cfg.Telemetry.URL, "TELEMETRY_INFLUX_URL")
	setString(&cfg.Telemetry.Token, "TELEMETRY_INFLUX_TOKEN")
	if cfg.Telemetry.URL != "" {
		cfg.Telemetry.Enabled = true
	}

	setString(&cfg.Auth.Secret, "HTTP_TOKEN_SECRET")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device.IP == "" {
		errs = append(errs, "device.ip is required")
	}
	if c.Device.Port < 1 || c.Device.Port > 65535 {
		errs = append(errs, "device.port must be between 1 and 65535")
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, "http.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}
	if c.MQTT.ReconnectDelay < 1 {
		errs = append(errs, "mqtt.reconnect_delay must be at least 1 second")
	}
	if c.Auth.TokenTTL < 1 {
		errs = append(errs, "auth.token_ttl must be at least 1 minute")
	}
	// EdgeDevice name/namespace must come as a pair: one without the other
	// is almost certainly a deployment mistake.
	if (c.EdgeDevice.Name == "") != (c.EdgeDevice.Namespace == "") {
		errs = append(errs, "edgedevice.name and edgedevice.namespace must be set together")
	}
	if c.Telemetry.Enabled && c.Telemetry.URL == "" {
		errs = append(errs, "telemetry.url is required when telemetry is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the HTTP read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.HTTP.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the HTTP write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.HTTP.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the HTTP idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.HTTP.Timeouts.Idle) * time.Second
}
