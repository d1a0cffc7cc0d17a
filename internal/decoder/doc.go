// Package decoder owns the adapter's single logical connection to the
// network video decoder appliance.
//
// The Session type serialises every vendor SDK call through one mutex,
// runs the Disconnected/Connected/Reconnecting/ShuttingDown state
// machine, and queues alarm events for asynchronous publication. The SDK
// interface is the capability surface of the vendor library; Simulator
// is the in-tree implementation used until the native library is linked.
//
// Concurrency contract: all Session methods are safe for concurrent use.
// Operations block for the duration of the underlying SDK call, so
// callers on request paths should pass a context they control.
package decoder
