// Decoder Adapter - device sidecar for multi-channel network video decoders
//
// The adapter owns a single serialized session to the decoder appliance
// and exposes it north-bound twice: a JSON HTTP API for synchronous
// request/response, and an MQTT surface for asynchronous control and
// periodic telemetry. When deployed alongside an EdgeDevice resource it
// also reconciles the resource's status phase with the session state.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/edgewall/decoder-adapter/internal/api"
	"github.com/edgewall/decoder-adapter/internal/bridge"
	"github.com/edgewall/decoder-adapter/internal/decoder"
	"github.com/edgewall/decoder-adapter/internal/edgedevice"
	"github.com/edgewall/decoder-adapter/internal/infrastructure/config"
	"github.com/edgewall/decoder-adapter/internal/infrastructure/influxdb"
	"github.com/edgewall/decoder-adapter/internal/infrastructure/logging"
	"github.com/edgewall/decoder-adapter/internal/infrastructure/mqtt"
	"github.com/edgewall/decoder-adapter/internal/instructions"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// teardownTimeout bounds the final shutdown work (device logout, last
// status patch) so a stuck device cannot block process exit.
const teardownTimeout = 5 * time.Second

// errConfig marks failures that exit with code 2 instead of 1.
var errConfig = errors.New("configuration error")

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errConfig) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting decoder adapter",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Load the mounted instruction registry. A missing file leaves the
	// adapter with the fixed control surface only.
	registry, err := instructions.Load(cfg.ConfigMountPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %w", errConfig, err)
		}
		log.Warn("no instruction file mounted, using fixed surface only",
			"mount_path", cfg.ConfigMountPath)
		registry = instructions.Empty()
	} else {
		log.Info("instruction registry loaded",
			"mount_path", cfg.ConfigMountPath,
			"instructions", registry.Len(),
		)
	}

	// Device session over the vendor SDK surface. The simulator probes
	// the device address on login, so reachability is real even though
	// the decode plane is not.
	sdk := decoder.NewSimulator(cfg.Device.Username, cfg.Device.Password)
	sdk.Probe = true
	session := decoder.NewSession(sdk)
	session.SetLogger(log)
	session.Start(ctx)
	defer func() {
		log.Info("closing device session")
		if closeErr := session.Close(); closeErr != nil {
			log.Error("error closing device session", "error", closeErr)
		}
	}()

	// Resource reconciler (optional, needs an EdgeDevice identity).
	reconciler, err := startReconciler(ctx, cfg, session, log)
	if err != nil {
		log.Warn("resource reconciler unavailable", "error", err)
	} else if reconciler != nil {
		defer func() {
			patchCtx, patchCancel := context.WithTimeout(context.Background(), teardownTimeout)
			defer patchCancel()
			if patchErr := reconciler.MarkShutdown(patchCtx); patchErr != nil {
				log.Warn("final phase patch failed", "error", patchErr)
			}
		}()
		session.SetOnStateChange(func(decoder.State) { reconciler.Kick() })
	}

	// Initial device login. Failure is not fatal: the session keeps
	// retrying on its backoff schedule and the reconciler reports
	// Pending/Failed meanwhile.
	deviceName := resolveDeviceName(cfg)
	if loginErr := session.Login(ctx, cfg.Device.Address(), cfg.Device.Username, cfg.Device.Password); loginErr != nil {
		log.Warn("initial device login failed, session will retry",
			"address", cfg.Device.Address(),
			"error", loginErr,
		)
	} else {
		log.Info("device session established", "address", cfg.Device.Address())
	}

	// Connect to MQTT broker
	clientID := mqtt.ClientID(deviceName)
	mqttClient, err := mqtt.Connect(cfg.MQTT, clientID)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected", "broker", cfg.MQTT.BrokerURL(), "client_id", clientID)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.Telemetry.Enabled {
		influxClient, err = influxdb.Connect(cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.Telemetry.URL,
			"org", cfg.Telemetry.Org,
			"bucket", cfg.Telemetry.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		sink := influxClient
		session.SetOnStateChange(func(state decoder.State) {
			sink.WriteSessionState(deviceName, state)
			if reconciler != nil {
				reconciler.Kick()
			}
		})
	}

	// MQTT bridge: control subscription, subscriber instructions, and
	// telemetry publishers.
	bridgeDeps := bridge.Deps{
		Client:   mqttClient,
		Session:  session,
		Registry: registry,
		Config:   cfg,
		Logger:   log,
		Device:   deviceName,
	}
	if influxClient != nil {
		bridgeDeps.Sink = influxClient
	}
	mqttBridge, err := bridge.New(bridgeDeps)
	if err != nil {
		return fmt.Errorf("creating MQTT bridge: %w", err)
	}
	// A subscribe failure takes down the MQTT surface only; the HTTP
	// surface and the reconciler keep running.
	if err := mqttBridge.Start(ctx); err != nil {
		log.Error("MQTT surface failed to start, continuing without it", "error", err)
	} else {
		defer func() {
			log.Info("stopping MQTT bridge")
			if closeErr := mqttBridge.Close(); closeErr != nil {
				log.Error("error stopping MQTT bridge", "error", closeErr)
			}
		}()
		log.Info("MQTT bridge started", "device", deviceName)
	}

	// HTTP API server.
	apiServer, err := api.New(api.Deps{
		Config:  cfg,
		Logger:  log,
		Session: session,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	// Verify the long-lived connections are healthy
	if err := healthCheck(ctx, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (stops accepting requests)
	// 2. MQTT bridge (stops publishers, joins workers)
	// 3. InfluxDB (if enabled)
	// 4. MQTT client
	// 5. Final phase patch (if reconciling)
	// 6. Device session (logout at most once)

	log.Info("decoder adapter stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DECODER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DECODER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// resolveDeviceName picks the device name used in the MQTT topic
// hierarchy and the broker client identity.
func resolveDeviceName(cfg *config.Config) string {
	if cfg.EdgeDevice.Name != "" {
		return cfg.EdgeDevice.Name
	}
	return "dev"
}

// startReconciler wires the EdgeDevice status reconciler when the
// resource identity is configured. A missing identity disables
// reconciliation without error; a construction failure is reported but
// never fatal.
func startReconciler(ctx context.Context, cfg *config.Config, session *decoder.Session, log *logging.Logger) (*edgedevice.Reconciler, error) {
	if !cfg.EdgeDevice.Enabled() {
		log.Info("edgedevice reconciler disabled, no resource identity")
		return nil, nil
	}

	var opts []edgedevice.ClientOption
	if cfg.EdgeDevice.APIServer != "" {
		opts = append(opts, edgedevice.WithBaseURL(cfg.EdgeDevice.APIServer))
	}
	client, err := edgedevice.NewClient(cfg.EdgeDevice.Name, cfg.EdgeDevice.Namespace, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating edgedevice client: %w", err)
	}

	// The resource's spec.address, when present, overrides the local
	// device address so the resource stays the single source of truth.
	addrCtx, addrCancel := context.WithTimeout(ctx, 5*time.Second)
	defer addrCancel()
	if address, addrErr := client.Address(addrCtx); addrErr == nil {
		log.Info("device address taken from edgedevice resource", "address", address)
		if host, port, ok := splitHostPort(address); ok {
			cfg.Device.IP = host
			cfg.Device.Port = port
		}
	}

	reconciler := edgedevice.NewReconciler(client, session.Health,
		edgedevice.WithReconcilerLogger(log))
	reconciler.Start(ctx)
	log.Info("edgedevice reconciler started",
		"name", cfg.EdgeDevice.Name,
		"namespace", cfg.EdgeDevice.Namespace,
	)
	return reconciler, nil
}

// splitHostPort parses a host:port address from the resource spec.
func splitHostPort(address string) (string, int, bool) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return "", 0, false
	}
	return host, port, true
}

// healthCheck verifies the long-lived connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//   - apiServer: API server to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	// Device session health is reported through /status and the
	// reconciler; a disconnected device does not fail startup.

	return nil
}
