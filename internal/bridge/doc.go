// Package bridge is the MQTT surface of the decoder adapter.
//
// It subscribes to the device's control hierarchy, dispatches inbound
// commands onto the serialized device session, acknowledges every
// command on its ack topic, and runs the periodic telemetry publishers
// declared in the instruction registry.
//
// Subscriber-mode instructions add further subscriptions, each at its
// declared QoS. Their payloads go through the same command dispatch as
// control messages, keyed by the instruction name, but carry no ack
// contract: failures are logged and the message is dropped.
//
// Command semantics are at-most-once: each arriving message is
// dispatched exactly once and never retried, whatever the outcome. The
// ack payload reports ok or fail; callers that need certainty poll the
// status topic.
//
// Messages for the same command are processed in arrival order on a
// per-command worker. Distinct commands may interleave; the session
// serializes the actual SDK access.
package bridge
