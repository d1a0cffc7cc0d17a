// Package api provides the HTTP REST surface of the decoder adapter.
//
// It exposes device login, status, configuration, decode and playback
// control, channel management, and an alarm stream over a small
// JSON-only API. Every endpoint except /login and /healthz requires a
// bearer token issued by /login; tokens expire after an hour of
// inactivity and are revoked by /logout.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Handlers never talk to the device SDK directly; they call the
// session, which serializes all SDK access internally.
package api
