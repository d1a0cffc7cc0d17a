package decoder

import (
	"errors"
	"fmt"
)

// Domain-specific errors for device session operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when an operation requires a logged-in
	// session and there is none.
	ErrNotConnected = errors.New("decoder: not connected")

	// ErrAlreadyConnected is returned by Login when a session is already
	// established. At most one connected session exists per adapter.
	ErrAlreadyConnected = errors.New("decoder: already connected")

	// ErrBadCredentials is returned when the device rejects the supplied
	// username/password.
	ErrBadCredentials = errors.New("decoder: bad credentials")

	// ErrUnreachable is returned when the device cannot be reached over
	// the network. It is a transport-kind error: the session reacts by
	// entering the Reconnecting state.
	ErrUnreachable = errors.New("decoder: device unreachable")

	// ErrTransient is returned to callers while the session is
	// reconnecting or has not yet logged in. The operation never reached
	// the SDK and may be retried by the caller later.
	ErrTransient = errors.New("decoder: transient failure, retry later")

	// ErrShuttingDown is returned once the adapter has begun shutdown.
	ErrShuttingDown = errors.New("decoder: shutting down")

	// ErrUnknownKind is returned for an unrecognised config kind.
	ErrUnknownKind = errors.New("decoder: unknown config kind")

	// ErrUnknownCommand is returned for an unrecognised control command.
	ErrUnknownCommand = errors.New("decoder: unknown command")

	// ErrInvalidParams is returned when command parameters fail validation.
	ErrInvalidParams = errors.New("decoder: invalid parameters")

	// ErrInvalidPayload is returned when a config payload fails validation.
	ErrInvalidPayload = errors.New("decoder: invalid payload")
)

// SDKError represents a non-success result code from the vendor SDK.
// The code is read from the SDK's last-error register under the same
// lock that issued the failing call.
type SDKError struct {
	Op   string // the SDK operation that failed
	Code int    // vendor error code
}

func (e *SDKError) Error() string {
	return fmt.Sprintf("decoder: sdk %s failed with code %d", e.Op, e.Code)
}

// IsTransport reports whether err is a transport-kind failure that should
// move the session into the Reconnecting state.
func IsTransport(err error) bool {
	return errors.Is(err, ErrUnreachable)
}
