// Package mem is an in-process transport. Endpoints on one Network reach each
// other by address; channels are pairs of buffered frame queues.
package mem

import (
	"context"
	"sync"

	"github.com/dkeye/tablelink/internal/core"
	"github.com/rs/zerolog/log"
)

const DefaultBuffer = 256

type Option func(*Network)

// WithBuffer sets how many frames a channel holds before TrySend reports
// backpressure.
func WithBuffer(n int) Option {
	return func(nw *Network) {
		if n > 0 {
			nw.buffer = n
		}
	}
}

// Network is a namespace of endpoints.
type Network struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
	buffer    int
}

var _ core.Transport = (*Network)(nil)

func NewNetwork(opts ...Option) *Network {
	nw := &Network{endpoints: make(map[string]*endpoint), buffer: DefaultBuffer}
	for _, o := range opts {
		o(nw)
	}
	return nw
}

func (nw *Network) Open(ctx context.Context, addr string) (core.Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nw.mu.Lock()
	defer nw.mu.Unlock()
	if _, ok := nw.endpoints[addr]; ok {
		return nil, core.ErrAddrInUse
	}
	ep := &endpoint{
		addr:   addr,
		net:    nw,
		accept: make(chan *channel, 16),
		done:   make(chan struct{}),
		conns:  make(map[*channel]struct{}),
	}
	nw.endpoints[addr] = ep
	log.Debug().Str("module", "adapters.mem").Str("addr", addr).Msg("endpoint opened")
	return ep, nil
}

// Addresses lists the bound endpoints.
func (nw *Network) Addresses() []string {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	out := make([]string, 0, len(nw.endpoints))
	for a := range nw.endpoints {
		out = append(out, a)
	}
	return out
}

func (nw *Network) lookup(addr string) *endpoint {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	return nw.endpoints[addr]
}

func (nw *Network) unregister(ep *endpoint) {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	if nw.endpoints[ep.addr] == ep {
		delete(nw.endpoints, ep.addr)
	}
}

type endpoint struct {
	addr   string
	net    *Network
	accept chan *channel
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	conns map[*channel]struct{}
}

func (e *endpoint) Addr() string { return e.addr }

func (e *endpoint) closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *endpoint) track(c *channel) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed() {
		return false
	}
	e.conns[c] = struct{}{}
	return true
}

func (e *endpoint) untrack(c *channel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.conns, c)
}

func (e *endpoint) Dial(ctx context.Context, addr string) (core.Channel, error) {
	if e.closed() {
		return nil, core.ErrEndpointClosed
	}
	remote := e.net.lookup(addr)
	if remote == nil || remote.closed() {
		return nil, core.ErrConnectRefused
	}
	local, far := newPair(e, remote, e.net.buffer)
	if !e.track(local) {
		local.Close()
		return nil, core.ErrEndpointClosed
	}
	if !remote.track(far) {
		local.Close()
		return nil, core.ErrConnectRefused
	}
	select {
	case remote.accept <- far:
		return local, nil
	case <-remote.done:
		local.Close()
		return nil, core.ErrConnectRefused
	case <-e.done:
		local.Close()
		return nil, core.ErrEndpointClosed
	case <-ctx.Done():
		local.Close()
		return nil, ctx.Err()
	}
}

func (e *endpoint) Accept(ctx context.Context) (core.Channel, error) {
	select {
	case c := <-e.accept:
		return c, nil
	case <-e.done:
		return nil, core.ErrEndpointClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *endpoint) Close() {
	e.once.Do(func() {
		e.mu.Lock()
		close(e.done)
		conns := e.conns
		e.conns = make(map[*channel]struct{})
		e.mu.Unlock()
		e.net.unregister(e)
		for c := range conns {
			c.Close()
		}
		for {
			select {
			case c := <-e.accept:
				c.Close()
			default:
				log.Debug().Str("module", "adapters.mem").Str("addr", e.addr).Msg("endpoint closed")
				return
			}
		}
	})
}

// link is the state both halves of a pair share.
type link struct {
	done chan struct{}
	once sync.Once
}

type channel struct {
	owner  *endpoint
	remote string
	inbox  chan core.Frame
	peer   *channel
	link   *link
}

func newPair(a, b *endpoint, buffer int) (*channel, *channel) {
	l := &link{done: make(chan struct{})}
	ca := &channel{owner: a, remote: b.addr, inbox: make(chan core.Frame, buffer), link: l}
	cb := &channel{owner: b, remote: a.addr, inbox: make(chan core.Frame, buffer), link: l}
	ca.peer, cb.peer = cb, ca
	return ca, cb
}

func (c *channel) RemoteAddr() string { return c.remote }

func (c *channel) TrySend(f core.Frame) error {
	select {
	case <-c.link.done:
		return core.ErrChannelClosed
	default:
	}
	select {
	case c.peer.inbox <- f:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (c *channel) Recv(ctx context.Context) (core.Frame, error) {
	select {
	case f := <-c.inbox:
		return f, nil
	case <-c.link.done:
		select {
		case f := <-c.inbox:
			return f, nil
		default:
			return nil, core.ErrChannelClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes both halves.
func (c *channel) Close() {
	c.link.once.Do(func() {
		close(c.link.done)
	})
	c.owner.untrack(c)
	c.peer.owner.untrack(c.peer)
}
