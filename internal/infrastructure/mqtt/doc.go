// Package mqtt wraps the Eclipse Paho MQTT client for the adapter's
// broker session.
//
// The session is deliberately forgetful: clean session on every
// connect, a fresh client identity per process, and a fixed reconnect
// cadence rather than backoff. Subscriptions are tracked client-side
// and restored after every reconnect, since the broker keeps no state
// for us.
//
// Message handlers run with panic recovery so a malformed payload
// cannot take down the adapter.
package mqtt
