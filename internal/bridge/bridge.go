package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edgewall/decoder-adapter/internal/decoder"
	"github.com/edgewall/decoder-adapter/internal/infrastructure/config"
	"github.com/edgewall/decoder-adapter/internal/infrastructure/logging"
	"github.com/edgewall/decoder-adapter/internal/infrastructure/mqtt"
	"github.com/edgewall/decoder-adapter/internal/instructions"
)

const (
	// commandQueueSize bounds each per-command worker queue. A full
	// queue fails the command straight to its ack topic.
	commandQueueSize = 16

	// workerJoinTimeout caps how long Close waits for in-flight
	// commands to finish.
	workerJoinTimeout = 5 * time.Second
)

// Client is the broker surface the bridge needs. *mqtt.Client satisfies
// it; tests substitute fakes.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Sink archives telemetry records in long-term storage as the bridge
// drains them. *influxdb.Client satisfies it; the bridge runs without
// one.
type Sink interface {
	WriteAlarm(device string, alarm decoder.Alarm)
	WriteChannelMetric(device string, channel int, decoding bool)
}

// Deps holds the dependencies required by the bridge.
type Deps struct {
	Client   Client
	Session  *decoder.Session
	Registry *instructions.Registry
	Config   *config.Config
	Logger   *logging.Logger
	Device   string // device name used in the topic hierarchy
	Sink     Sink   // optional telemetry archive
}

// Bridge connects the device session to the MQTT broker.
type Bridge struct {
	client   Client
	session  *decoder.Session
	registry *instructions.Registry
	cfg      *config.Config
	logger   *logging.Logger
	topics   mqtt.Topics
	qos      byte
	device   string
	sink     Sink

	mu      sync.Mutex
	workers map[string]chan inbound

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// inbound is one queued message. Control messages carry ack=true and
// report their outcome on the ack topic; subscriber-instruction
// messages carry ack=false and only log failures.
type inbound struct {
	command string
	payload []byte
	ack     bool
}

// New creates a bridge. It does not touch the broker until Start().
func New(deps Deps) (*Bridge, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("mqtt client is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("device session is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Device == "" {
		return nil, fmt.Errorf("device name is required")
	}

	registry := deps.Registry
	if registry == nil {
		registry = instructions.Empty()
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	return &Bridge{
		client:   deps.Client,
		session:  deps.Session,
		registry: registry,
		cfg:      deps.Config,
		logger:   logger,
		topics:   mqtt.NewTopics(deps.Config.MQTT.TopicPrefix, deps.Device),
		qos:      byte(deps.Config.MQTT.QoS),
		device:   deps.Device,
		sink:     deps.Sink,
		workers:  make(map[string]chan inbound),
	}, nil
}

// Start subscribes to the control hierarchy and the subscriber-mode
// instructions, then launches the periodic publishers. It returns once
// every subscription is in place.
//
// Parameters:
//   - ctx: Cancels all publisher loops and command workers
//
// Returns:
//   - error: If any subscription fails; the MQTT surface is then down
//     and the caller decides whether the process continues without it
func (b *Bridge) Start(ctx context.Context) error {
	var runCtx context.Context
	runCtx, b.cancel = context.WithCancel(ctx)

	if err := b.client.Subscribe(b.topics.ControlWildcard(), b.qos, b.handleControlMessage); err != nil {
		return fmt.Errorf("subscribing to control topics: %w", err)
	}
	b.logger.Info("control subscription established", "topic", b.topics.ControlWildcard())

	for _, inst := range b.registry.Subscribers() {
		name := inst.Name
		topic := b.topics.Telemetry(inst.Topic)
		handler := func(_ string, payload []byte) error {
			return b.enqueue(name, payload, false)
		}
		if err := b.client.Subscribe(topic, inst.QoS, handler); err != nil {
			return fmt.Errorf("subscribing to instruction %q: %w", name, err)
		}
		b.logger.Info("instruction subscription established",
			"instruction", name,
			"topic", topic,
			"qos", inst.QoS,
		)
	}

	for _, inst := range b.registry.Publishers() {
		if inst.PublishInterval <= 0 {
			b.logger.Info("publisher disabled, zero interval", "instruction", inst.Name)
			continue
		}
		b.wg.Add(1)
		go b.runPublisher(runCtx, inst)
	}

	return nil
}

// Close stops the publishers and waits for in-flight commands, up to
// the join deadline. A stuck worker does not block shutdown past it.
func (b *Bridge) Close() error {
	if b.cancel != nil {
		b.cancel()
	}

	b.mu.Lock()
	for _, queue := range b.workers {
		close(queue)
	}
	b.workers = make(map[string]chan inbound)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(workerJoinTimeout):
		return fmt.Errorf("bridge close: workers did not finish within %v", workerJoinTimeout)
	}
}

// handleControlMessage routes one broker message to its per-command
// worker. The paho layer already runs this outside the network loop.
func (b *Bridge) handleControlMessage(topic string, payload []byte) error {
	command, ok := b.topics.CommandFromControlTopic(topic)
	if !ok {
		return fmt.Errorf("unroutable control topic %q", topic)
	}
	return b.enqueue(command, payload, true)
}

// enqueue hands one message to the per-command worker without blocking
// the receive path or buffering without bound.
func (b *Bridge) enqueue(command string, payload []byte, ack bool) error {
	queue := b.workerQueue(command)
	select {
	case queue <- inbound{command: command, payload: payload, ack: ack}:
		return nil
	default:
		if ack {
			// Queue full: fail fast on the ack topic.
			b.ack(command, fmt.Errorf("command queue full"))
		}
		return fmt.Errorf("command %q dropped, queue full", command)
	}
}

// workerQueue returns the queue for command, creating its worker on
// first use. Per-command workers keep same-command messages in order.
func (b *Bridge) workerQueue(command string) chan inbound {
	b.mu.Lock()
	defer b.mu.Unlock()

	queue, ok := b.workers[command]
	if !ok {
		queue = make(chan inbound, commandQueueSize)
		b.workers[command] = queue
		b.wg.Add(1)
		go b.runWorker(queue)
	}
	return queue
}

// runWorker drains one command queue until it is closed.
func (b *Bridge) runWorker(queue chan inbound) {
	defer b.wg.Done()
	for msg := range queue {
		err := b.dispatch(msg.command, msg.payload)
		switch {
		case msg.ack:
			b.ack(msg.command, err)
		case err != nil:
			b.logger.Warn("instruction message failed", "instruction", msg.command, "error", err)
		}
	}
}

// ack publishes the command outcome to the command's ack topic.
func (b *Bridge) ack(command string, err error) {
	payload := ackPayload(err)
	if pubErr := b.client.Publish(b.topics.Ack(command), payload, b.qos, false); pubErr != nil {
		b.logger.Warn("ack publish failed", "command", command, "error", pubErr)
	}
}
