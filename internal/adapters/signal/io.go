package signal

import (
	"context"
	"time"

	"github.com/dkeye/tablelink/internal/core"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("id", c.id).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("id", c.id).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("id", c.id).Msg("writePump ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("id", c.id).Msg("peer unregistered")
		ctl.Dir.Unregister(c.id, c)
		c.Close()
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("id", c.id).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctl.handleSignal(c, data)
	}
}

func (ctl *SignalWSController) handleSignal(c *WsSignalConn, data []byte) {
	var msg core.SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("id", c.id).Msg("bad json")
		ctl.sendJSON(c, core.SignalMessage{Type: core.SignalError, Error: core.SignalErrBadPayload})
		return
	}

	switch msg.Type {
	case core.SignalOffer, core.SignalAnswer, core.SignalCandidate:
		ctl.forward(c, msg)
	case core.SignalPing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", msg.Type).Msg("unknown signal")
		ctl.sendJSON(c, core.SignalMessage{Type: core.SignalError, Error: core.SignalErrBadPayload})
	}
}
