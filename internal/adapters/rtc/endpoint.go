package rtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/tablelink/internal/core"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	dataChannelLabel = "session"
	writeWait        = 5 * time.Second
	signalBuffer     = 32
	answerTimeout    = 30 * time.Second
)

type endpoint struct {
	t    *Transport
	addr string
	ws   *websocket.Conn

	send   chan []byte
	accept chan *dataChannel
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	dials map[string]chan core.SignalMessage
	peers map[string]*WebRTCConnection
	chans map[*dataChannel]struct{}
}

var _ core.Endpoint = (*endpoint)(nil)

func newEndpoint(t *Transport, addr string, ws *websocket.Conn) *endpoint {
	return &endpoint{
		t:      t,
		addr:   addr,
		ws:     ws,
		send:   make(chan []byte, signalBuffer),
		accept: make(chan *dataChannel, 16),
		done:   make(chan struct{}),
		dials:  make(map[string]chan core.SignalMessage),
		peers:  make(map[string]*WebRTCConnection),
		chans:  make(map[*dataChannel]struct{}),
	}
}

func (e *endpoint) Addr() string { return e.addr }

func (e *endpoint) start() {
	go e.writePump()
	go e.readPump()
}

func (e *endpoint) writePump() {
	for {
		select {
		case <-e.done:
			return
		case data := <-e.send:
			if err := e.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				e.Close()
				return
			}
			if err := e.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "webrtc").Str("addr", e.addr).Msg("signal write failed")
				e.Close()
				return
			}
		}
	}
}

func (e *endpoint) readPump() {
	defer e.Close()
	for {
		_, data, err := e.ws.ReadMessage()
		if err != nil {
			select {
			case <-e.done:
			default:
				log.Warn().Err(err).Str("module", "webrtc").Str("addr", e.addr).Msg("signalling lost")
			}
			return
		}
		var msg core.SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("module", "webrtc").Msg("bad signal")
			continue
		}
		e.handleSignal(msg)
	}
}

func (e *endpoint) handleSignal(msg core.SignalMessage) {
	switch msg.Type {
	case core.SignalOffer:
		go e.answerOffer(msg)
	case core.SignalAnswer:
		e.deliver(msg.Src, msg)
	case core.SignalError:
		if msg.Dst != "" {
			e.deliver(msg.Dst, msg)
			return
		}
		log.Warn().Str("module", "webrtc").Str("error", msg.Error).Msg("broker error")
	case core.SignalCandidate:
		e.mu.Lock()
		conn := e.peers[msg.Src]
		e.mu.Unlock()
		if conn == nil {
			return
		}
		if err := conn.AddICECandidate(msg.Candidate); err != nil {
			log.Warn().Err(err).Str("module", "webrtc").Str("remote", msg.Src).Msg("add ice candidate")
		}
	case core.SignalPong:
	default:
		log.Debug().Str("module", "webrtc").Str("type", msg.Type).Msg("unhandled signal")
	}
}

func (e *endpoint) deliver(remote string, msg core.SignalMessage) {
	e.mu.Lock()
	ch := e.dials[remote]
	e.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- msg:
	default:
	}
}

func (e *endpoint) write(msg core.SignalMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case e.send <- b:
		return nil
	case <-e.done:
		return core.ErrEndpointClosed
	}
}

func (e *endpoint) closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *endpoint) track(c *dataChannel) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed() {
		return false
	}
	e.chans[c] = struct{}{}
	return true
}

func (e *endpoint) untrack(c *dataChannel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.chans, c)
	if e.peers[c.remote] == c.conn {
		delete(e.peers, c.remote)
	}
}

// Dial offers a data channel to addr and returns once it is open.
func (e *endpoint) Dial(ctx context.Context, addr string) (core.Channel, error) {
	if e.closed() {
		return nil, core.ErrEndpointClosed
	}
	answers := make(chan core.SignalMessage, 1)
	e.mu.Lock()
	if _, busy := e.dials[addr]; busy {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: dial to %s in progress", ErrSignal, addr)
	}
	e.dials[addr] = answers
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.dials, addr)
		e.mu.Unlock()
	}()

	conn, err := NewWebRTCConnection(e.t.Config, addr)
	if err != nil {
		return nil, err
	}
	dc, err := conn.CreateDataChannel(dataChannelLabel)
	if err != nil {
		conn.Close()
		return nil, err
	}
	ch := newDataChannel(e, addr, conn, dc)
	opened := make(chan struct{})
	ch.bind(func() { close(opened) })

	fail := func(err error) (core.Channel, error) {
		ch.Close()
		return nil, err
	}

	offer, err := conn.CreateOfferAndGather(ctx)
	if err != nil {
		return fail(err)
	}
	e.mu.Lock()
	e.peers[addr] = conn
	e.mu.Unlock()
	if err := e.write(core.SignalMessage{Type: core.SignalOffer, Dst: addr, SDP: offer.SDP}); err != nil {
		return fail(err)
	}

	select {
	case msg := <-answers:
		if msg.Type == core.SignalError {
			if msg.Error == core.SignalErrUnknownPeer {
				return fail(core.ErrConnectRefused)
			}
			return fail(fmt.Errorf("%w: %s", ErrSignal, msg.Error))
		}
		if err := conn.ApplyAnswer(msg.SDP); err != nil {
			return fail(err)
		}
	case <-e.done:
		return fail(core.ErrEndpointClosed)
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	select {
	case <-opened:
	case <-ch.done:
		return nil, core.ErrChannelClosed
	case <-e.done:
		return fail(core.ErrEndpointClosed)
	case <-ctx.Done():
		return fail(ctx.Err())
	}
	if !e.track(ch) {
		return fail(core.ErrEndpointClosed)
	}
	log.Info().Str("module", "webrtc").Str("addr", e.addr).Str("remote", addr).Msg("data channel open")
	return ch, nil
}

func (e *endpoint) answerOffer(msg core.SignalMessage) {
	remote := msg.Src
	conn, err := NewWebRTCConnection(e.t.Config, remote)
	if err != nil {
		log.Error().Err(err).Str("module", "webrtc").Msg("webrtc new pc")
		return
	}
	conn.OnDataChannel(func(dc *webrtc.DataChannel) {
		ch := newDataChannel(e, remote, conn, dc)
		ch.bind(func() {
			if !e.track(ch) {
				ch.Close()
				return
			}
			select {
			case e.accept <- ch:
			case <-e.done:
				ch.Close()
			}
		})
	})

	e.mu.Lock()
	e.peers[remote] = conn
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), answerTimeout)
	defer cancel()
	go func() {
		select {
		case <-e.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}
	answer, err := conn.ApplyOfferAndCreateAnswer(ctx, offer)
	if err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("remote", remote).Msg("webrtc apply offer")
		conn.Close()
		return
	}
	if err := e.write(core.SignalMessage{Type: core.SignalAnswer, Dst: remote, SDP: answer.SDP}); err != nil {
		conn.Close()
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

// Close unregisters from the broker and closes every channel.
func (e *endpoint) Close() {
	e.once.Do(func() {
		e.mu.Lock()
		close(e.done)
		chans := e.chans
		peers := e.peers
		e.chans = make(map[*dataChannel]struct{})
		e.peers = make(map[string]*WebRTCConnection)
		e.mu.Unlock()

		_ = e.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = e.ws.Close()
		for c := range chans {
			c.Close()
		}
		for _, conn := range peers {
			conn.Close()
		}
		for {
			select {
			case c := <-e.accept:
				c.Close()
			default:
				log.Info().Str("module", "webrtc").Str("addr", e.addr).Msg("endpoint closed")
				return
			}
		}
	})
}
