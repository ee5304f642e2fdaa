package core

import (
	"context"
	"errors"
)

var (
	ErrAddrInUse      = errors.New("address already in use")
	ErrConnectRefused = errors.New("no endpoint at address")
	ErrChannelClosed  = errors.New("channel closed")
	ErrEndpointClosed = errors.New("endpoint closed")
	ErrBackpressure   = errors.New("backpressure")
)

// Transport opens addressable endpoints.
type Transport interface {
	// Open binds addr and returns once the endpoint is usable.
	Open(ctx context.Context, addr string) (Endpoint, error)
}

// Endpoint is a bound local address able to dial and accept channels.
type Endpoint interface {
	Addr() string
	// Dial returns an open channel to the endpoint bound at addr.
	Dial(ctx context.Context, addr string) (Channel, error)
	// Accept blocks until an inbound channel is open.
	Accept(ctx context.Context) (Channel, error)
	// Close releases the address and every channel the endpoint still owns.
	Close()
}

// Channel abstracts a point-to-point message channel.
// Frames arrive in order; delivery is best-effort.
// Owned by the adapter; the adapter must Close() it.
type Channel interface {
	RemoteAddr() string
	// TrySend never blocks; a full buffer yields ErrBackpressure.
	TrySend(Frame) error
	// Recv returns ErrChannelClosed once the channel is closed and drained.
	Recv(ctx context.Context) (Frame, error)
	Close()
}

// PublishResult reports delivery stats/backpressure to the router.
type PublishResult struct {
	SendTo  int
	Dropped []Channel
}
