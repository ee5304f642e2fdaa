package rtc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// DefaultICEServers are public STUN servers used when none are configured.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if iceServers == nil {
		iceServers = DefaultICEServers
	}
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return cfg
}

// WebRTCConnection wraps one peer connection carrying a single data channel.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	remote string

	mu       sync.Mutex
	onClosed []func()
	closing  atomic.Bool
}

func NewWebRTCConnection(cfg webrtc.Configuration, remote string) (*WebRTCConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &WebRTCConnection{pc: pc, remote: remote}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("remote", remote).Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("remote", remote).Str("peer_connection_state", s.String()).Msg("Peer state")
		if terminal(s) {
			c.Close()
		}
	})
	return c, nil
}

// terminal reports whether s ends the connection. Disconnected is left to ICE
// to recover or fail.
func terminal(s webrtc.PeerConnectionState) bool {
	return s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed
}

// CreateOfferAndGather returns an offer with every local candidate included.
func (c *WebRTCConnection) CreateOfferAndGather(ctx context.Context) (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyOfferAndCreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyAnswer(sdp string) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (c *WebRTCConnection) AddICECandidate(candidate string) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

func (c *WebRTCConnection) CreateDataChannel(label string) (*webrtc.DataChannel, error) {
	ordered := true
	return c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
}

func (c *WebRTCConnection) OnDataChannel(fn func(*webrtc.DataChannel)) {
	c.pc.OnDataChannel(fn)
}

// OnClosed adds a callback run once when the connection closes or fails.
func (c *WebRTCConnection) OnClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = append(c.onClosed, fn)
}

// Close runs the OnClosed callbacks once; they may call Close again.
func (c *WebRTCConnection) Close() {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		if err := c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "webrtc").Str("remote", c.remote).Msg("close error")
		} else {
			log.Info().Str("module", "webrtc").Str("remote", c.remote).Msg("closed")
		}
	}()
	c.mu.Lock()
	fns := c.onClosed
	c.onClosed = nil
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
