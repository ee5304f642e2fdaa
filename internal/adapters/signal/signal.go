// Package signal is the rendezvous broker the WebRTC transport uses to
// exchange offers, answers and candidates. It never carries session traffic.
package signal

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/dkeye/tablelink/internal/core"
	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	DefaultReadLimit  = 32768
	DefaultPingPeriod = 54 * time.Second
	writeWait         = 5 * time.Second
	sendBuffer        = 32
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	// Limiter bounds registrations per client token; nil allows all.
	Limiter *RateLimiter
}

type SignalWSController struct {
	Dir  *Directory
	opts Options
}

func NewSignalWSController(dir *Directory, opts Options) *SignalWSController {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = DefaultReadLimit
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = DefaultPingPeriod
	}
	return &SignalWSController{Dir: dir, opts: opts}
}

// WsSignalConn is one registered peer.
type WsSignalConn struct {
	id   string
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) ID() string { return c.id }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrChannelClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and registers the peer under ?id=.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	id := c.Query("id")
	token := c.GetString("client_token")
	if token == "" {
		token = c.ClientIP()
	}
	if !validID.MatchString(id) {
		log.Warn().Str("module", "signal").Str("id", id).Msg("invalid id")
		c.JSON(http.StatusBadRequest, gin.H{"type": core.SignalError, "error": core.SignalErrInvalidID})
		return
	}
	if ctl.opts.Limiter != nil && !ctl.opts.Limiter.Allow(token) {
		log.Warn().Str("module", "signal").Str("client", token).Msg("registration rate limited")
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		id:   id,
		conn: ws,
		send: make(chan core.Frame, sendBuffer),
	}
	if !ctl.Dir.Register(id, conn) {
		log.Warn().Str("module", "signal").Str("id", id).Msg("id taken")
		ctl.rejectNow(ws, core.SignalMessage{Type: core.SignalError, Error: core.SignalErrIDTaken})
		return
	}
	log.Info().Str("module", "signal").Str("id", id).Str("client", token).Msg("peer registered")

	ctx, cancel := context.WithCancel(ctx)
	ctl.sendJSON(conn, core.SignalMessage{Type: core.SignalOpen, ID: id})
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, conn)
	}()
}

// rejectNow writes one frame to a connection that never got pumps and closes it.
func (ctl *SignalWSController) rejectNow(ws *websocket.Conn, msg core.SignalMessage) {
	defer ws.Close()
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return
	}
	if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return
	}
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg.Error), time.Now().Add(writeWait))
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil && !errors.Is(err, core.ErrChannelClosed) {
		log.Warn().Err(err).Str("module", "signal").Str("id", c.id).Msg("signal dropped")
	}
}
