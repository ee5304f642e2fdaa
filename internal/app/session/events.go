package session

import (
	"github.com/dkeye/tablelink/internal/core"
	"github.com/dkeye/tablelink/internal/domain"
	"github.com/rs/zerolog/log"
)

type eventKind int

const (
	evOpened eventKind = iota
	evFrame
	evClosed
	// evLost means the endpoint itself failed.
	evLost
)

type event struct {
	kind  eventKind
	conn  core.Channel
	frame core.Frame
	err   error
}

func (s *Session) current(a *activation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.act == a
}

func (s *Session) post(a *activation, ev event) bool {
	select {
	case a.events <- ev:
		return true
	case <-a.ctx.Done():
		return false
	}
}

// loop handles events one at a time.
func (s *Session) loop(a *activation) {
	for {
		select {
		case <-a.ctx.Done():
			return
		case ev := <-a.events:
			s.dispatchMu.Lock()
			if s.current(a) {
				s.handle(a, ev)
			}
			s.dispatchMu.Unlock()
		}
	}
}

func (s *Session) handle(a *activation, ev event) {
	switch ev.kind {
	case evOpened:
		s.onOpened(a, ev.conn)
	case evFrame:
		addr := ev.conn.RemoteAddr()
		if c, ok := s.registry.Get(addr); !ok || c != ev.conn {
			return
		}
		s.router.Receive(a.role, addr, ev.frame)
	case evClosed:
		s.onClosed(a, ev.conn)
	case evLost:
		log.Error().Err(ev.err).Str("module", "app.session").Str("addr", a.ep.Addr()).Msg("endpoint lost")
		s.teardown(a, false, ErrTransport)
	}
}

func (s *Session) acceptLoop(a *activation) {
	for {
		ch, err := a.ep.Accept(a.ctx)
		if err != nil {
			if a.ctx.Err() == nil {
				s.post(a, event{kind: evLost, err: err})
			}
			return
		}
		if !s.post(a, event{kind: evOpened, conn: ch}) {
			ch.Close()
			return
		}
	}
}

// attach registers ch and starts its read pump.
func (s *Session) attach(a *activation, ch core.Channel) {
	if old := s.registry.Add(ch); old != nil {
		old.Close()
	}
	a.wg.Go(func() { s.pump(a, ch) })
}

// pump feeds frames from ch to the loop in arrival order.
func (s *Session) pump(a *activation, ch core.Channel) {
	for {
		f, err := ch.Recv(a.ctx)
		if err != nil {
			if a.ctx.Err() == nil {
				s.post(a, event{kind: evClosed, conn: ch})
			}
			return
		}
		if !s.post(a, event{kind: evFrame, conn: ch, frame: f}) {
			return
		}
	}
}

func (s *Session) onOpened(a *activation, ch core.Channel) {
	s.attach(a, ch)
	log.Info().Str("module", "app.session").Str("addr", ch.RemoteAddr()).Str("role", a.role.String()).Msg("connection opened")
	if a.role != domain.RoleHub {
		return
	}
	info := core.RoomInfoPayload{Members: s.roster.Snapshot()}
	if err := s.router.SendTo(ch, core.TypeRoomInfo, info, s.roster.Version()); err != nil {
		log.Warn().Err(err).Str("module", "app.session").Str("addr", ch.RemoteAddr()).Msg("room_info not sent")
	}
}

func (s *Session) onClosed(a *activation, ch core.Channel) {
	addr := ch.RemoteAddr()
	info, ok := s.registry.Remove(addr, ch)
	if !ok {
		return
	}
	log.Info().Str("module", "app.session").Str("addr", addr).Str("role", a.role.String()).Msg("connection closed")

	if a.role == domain.RoleSpoke {
		if addr == a.hubAddr {
			s.teardown(a, false, ErrHubLost)
		}
		return
	}

	pid := info.Participant
	if pid == "" {
		pid = domain.ParticipantID(addr)
	}
	if !s.roster.Remove(pid) {
		return
	}
	if _, err := s.router.SendVersioned(core.TypeUserLeave, core.LeavePayload{UserID: pid}, s.roster.Version()); err != nil {
		log.Warn().Err(err).Str("module", "app.session").Msg("user_leave not sent")
	}
}
