package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Send/Receive once Close has completed.
var ErrClosed = errors.New("transport: closed")

// Transport is the uniform byte-carrier interface implemented by stdio,
// TCP, and WebSocket. It is a pure transport: callers encode/decode
// JSON-RPC themselves.
type Transport interface {
	// Open establishes the underlying connection/pipes.
	Open(ctx context.Context) error
	// Send writes one framed message.
	Send(ctx context.Context, msg []byte) error
	// Receive blocks for the next framed message. It returns ErrClosed once
	// Close has been called on this transport; when the peer closes the
	// connection it returns a read error wrapping the cause (e.g. io.EOF).
	Receive(ctx context.Context) ([]byte, error)
	// Close is idempotent: calling it more than once is a no-op.
	Close() error
}
