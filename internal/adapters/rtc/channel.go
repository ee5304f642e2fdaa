package rtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/tablelink/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const inboxSize = 256

// dataChannel adapts a pion data channel to core.Channel.
type dataChannel struct {
	ep     *endpoint
	remote string
	conn   *WebRTCConnection
	dc     *webrtc.DataChannel

	inbox   chan core.Frame
	done    chan struct{}
	closing atomic.Bool
}

var _ core.Channel = (*dataChannel)(nil)

func newDataChannel(ep *endpoint, remote string, conn *WebRTCConnection, dc *webrtc.DataChannel) *dataChannel {
	return &dataChannel{
		ep:     ep,
		remote: remote,
		conn:   conn,
		dc:     dc,
		inbox:  make(chan core.Frame, inboxSize),
		done:   make(chan struct{}),
	}
}

// bind wires pion callbacks; onOpen runs once when the channel opens.
func (c *dataChannel) bind(onOpen func()) {
	var openOnce sync.Once
	c.dc.OnOpen(func() { openOnce.Do(onOpen) })
	c.dc.OnMessage(func(m webrtc.DataChannelMessage) {
		select {
		case c.inbox <- core.Frame(m.Data):
		case <-c.done:
		default:
			log.Warn().Str("module", "webrtc").Str("remote", c.remote).Msg("inbox full, frame dropped")
		}
	})
	c.dc.OnClose(c.Close)
	c.conn.OnClosed(c.Close)
}

func (c *dataChannel) RemoteAddr() string { return c.remote }

func (c *dataChannel) TrySend(f core.Frame) error {
	select {
	case <-c.done:
		return core.ErrChannelClosed
	default:
	}
	if c.dc.BufferedAmount() > c.ep.t.MaxBuffered {
		return core.ErrBackpressure
	}
	if err := c.dc.Send(f); err != nil {
		return fmt.Errorf("%w: %w", core.ErrChannelClosed, err)
	}
	return nil
}

func (c *dataChannel) Recv(ctx context.Context) (core.Frame, error) {
	select {
	case f := <-c.inbox:
		return f, nil
	case <-c.done:
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

// Close may be re-entered from the connection's close callbacks.
func (c *dataChannel) Close() {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	if err := c.dc.Close(); err != nil {
		log.Debug().Err(err).Str("module", "webrtc").Str("remote", c.remote).Msg("data channel close")
	}
	c.conn.Close()
	c.ep.untrack(c)
}
