package signal

import (
	"github.com/dkeye/tablelink/internal/core"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, core.SignalMessage{Type: core.SignalPong})
}

// forward relays msg to its dst with src stamped from the sender's id.
func (ctl *SignalWSController) forward(from *WsSignalConn, msg core.SignalMessage) {
	if msg.Dst == "" {
		ctl.sendJSON(from, core.SignalMessage{Type: core.SignalError, Error: core.SignalErrBadPayload})
		return
	}
	to, ok := ctl.Dir.Get(msg.Dst)
	if !ok {
		log.Debug().Str("module", "signal").Str("src", from.id).Str("dst", msg.Dst).Str("type", msg.Type).Msg("unknown peer")
		ctl.sendJSON(from, core.SignalMessage{Type: core.SignalError, Error: core.SignalErrUnknownPeer, Dst: msg.Dst})
		return
	}
	msg.Src = from.id
	msg.ID = ""
	log.Debug().Str("module", "signal").Str("src", from.id).Str("dst", msg.Dst).Str("type", msg.Type).Msg("forward")
	ctl.sendJSON(to, msg)
}
