// Package rtc carries session channels over WebRTC data channels. Peers find
// each other through the signalling broker in adapters/signal; offers and
// answers carry every candidate, so no trickle exchange is needed.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dkeye/tablelink/internal/core"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const DefaultMaxBuffered = 1 << 20

var ErrSignal = errors.New("signalling failed")

type Transport struct {
	SignalURL string
	Config    webrtc.Configuration
	Dialer    *websocket.Dialer
	// MaxBuffered is the data channel send buffer above which TrySend
	// reports backpressure.
	MaxBuffered uint64
}

var _ core.Transport = (*Transport)(nil)

func NewTransport(signalURL string, iceServers []string) *Transport {
	return &Transport{
		SignalURL:   signalURL,
		Config:      DefaultWebRTCConfig(iceServers),
		Dialer:      websocket.DefaultDialer,
		MaxBuffered: DefaultMaxBuffered,
	}
}

// Open registers addr with the broker and returns once the broker confirms.
func (t *Transport) Open(ctx context.Context, addr string) (core.Endpoint, error) {
	u, err := url.Parse(t.SignalURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignal, err)
	}
	q := u.Query()
	q.Set("id", addr)
	u.RawQuery = q.Encode()

	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: invalid address %q", ErrSignal, addr)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrSignal, err)
	}

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	_, data, err := ws.ReadMessage()
	stopped := stop()
	if err != nil {
		_ = ws.Close()
		if !stopped {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrSignal, err)
	}
	if !stopped {
		_ = ws.Close()
		return nil, ctx.Err()
	}

	var first core.SignalMessage
	if err := json.Unmarshal(data, &first); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("%w: %w", ErrSignal, err)
	}
	switch {
	case first.Type == core.SignalError && first.Error == core.SignalErrIDTaken:
		_ = ws.Close()
		return nil, core.ErrAddrInUse
	case first.Type != core.SignalOpen:
		_ = ws.Close()
		return nil, fmt.Errorf("%w: unexpected %q", ErrSignal, first.Type)
	}

	ep := newEndpoint(t, addr, ws)
	ep.start()
	log.Info().Str("module", "webrtc").Str("addr", addr).Msg("endpoint registered")
	return ep, nil
}
