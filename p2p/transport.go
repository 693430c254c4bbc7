// Package p2p provides the pluggable transport over which Client and Gateway
// agents exchange protocol.Message envelopes. The default adapter is
// WebSocket; an OpenZiti adapter is available for deployments that route
// agent traffic over a zero-trust overlay instead of the open network.
package p2p

import (
	"context"

	"bookagent.dev/protocol"
)

// Transport is a bidirectional, message-framed connection to a single peer.
// Implementations own their own reconnect policy: a WebSocketDialer's
// transport redials with backoff inside Send/Receive, while accepted
// WebSocket connections and Ziti connections return the error instead.
type Transport interface {
	// Send delivers msg to the peer. It blocks until the message has been
	// written to the wire. The WebSocket and Ziti adapters do not abort a
	// blocked write when ctx is cancelled.
	Send(ctx context.Context, msg *protocol.Message) error

	// Receive blocks until a message arrives from the peer or the connection
	// fails. The WebSocket and Ziti adapters do not consult ctx; closing the
	// Transport unblocks a pending Receive.
	Receive(ctx context.Context) (*protocol.Message, error)

	// Close releases the underlying connection and stops any reconnect loop.
	Close() error
}

// Dialer builds a client-side Transport that connects out to a gateway.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// Listener accepts Transports from connecting clients.
type Listener interface {
	// Accept blocks until a client connects, or until ctx is cancelled
	// (WebSocketListener) or the listener is closed (ZitiListener, which does
	// not consult ctx).
	Accept(ctx context.Context) (Transport, error)
	Close() error
}
