package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/tablelink/internal/core"
	"github.com/dkeye/tablelink/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// createAttempts bounds retries when a generated code is already bound.
const createAttempts = 3

// activation is one Create or Join and everything it owns.
type activation struct {
	ctx     context.Context
	cancel  context.CancelFunc
	role    domain.Role
	code    domain.SessionCode
	hubAddr string
	ep      core.Endpoint
	events  chan event
	wg      *conc.WaitGroup
	done    chan struct{}
	err     error
}

// deadline bounds one blocking step by d, by the caller's ctx, and by Leave.
func (a *activation) deadline(caller context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(a.ctx, d)
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Session) begin(ctx context.Context, role domain.Role, code domain.SessionCode) (*activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return nil, ErrNotIdle
	}
	actx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &activation{
		ctx:    actx,
		cancel: cancel,
		role:   role,
		code:   code,
		events: make(chan event, 64),
		wg:     conc.NewWaitGroup(),
		done:   make(chan struct{}),
	}
	if code != "" {
		a.hubAddr = code.HubAddress()
	}
	s.pending = a
	s.state = StateConnecting
	s.role = role
	s.code = code
	return a, nil
}

// fail drops a pending activation and maps err for the caller.
func (s *Session) fail(a *activation, caller, op context.Context, err, timeout error) error {
	s.mu.Lock()
	left := s.pending != a
	if !left {
		s.pending = nil
		s.state = StateIdle
		s.code = ""
	}
	s.mu.Unlock()
	a.cancel()

	switch {
	case left:
		return ErrLeft
	case caller.Err() != nil:
		return caller.Err()
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(op.Err(), context.DeadlineExceeded):
		return timeout
	case errors.Is(err, core.ErrConnectRefused):
		return fmt.Errorf("%w: %w", ErrConnectRefused, err)
	default:
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
}

// activate makes a the current activation. setup runs before any event is
// processed.
func (s *Session) activate(a *activation, ep core.Endpoint, setup func()) error {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if s.pending != a {
		s.mu.Unlock()
		a.cancel()
		return ErrLeft
	}
	s.pending = nil
	a.ep = ep
	s.act = a
	s.last = a
	s.state = StateActive
	s.mu.Unlock()

	a.wg.Go(func() { s.loop(a) })
	a.wg.Go(func() { s.acceptLoop(a) })
	setup()
	return nil
}

// Create opens the hub endpoint at room_<code> and returns the code once the
// endpoint is usable.
func (s *Session) Create(ctx context.Context) (domain.SessionCode, error) {
	a, err := s.begin(ctx, domain.RoleHub, "")
	if err != nil {
		return "", err
	}

	var ep core.Endpoint
	for attempt := 1; ; attempt++ {
		code := s.opts.CodeGen()
		openCtx, cancel := a.deadline(ctx, s.opts.OpenTimeout)
		ep, err = s.opts.Transport.Open(openCtx, code.HubAddress())
		if err == nil {
			cancel()
			a.code, a.hubAddr = code, code.HubAddress()
			s.mu.Lock()
			s.code = code
			s.mu.Unlock()
			break
		}
		if errors.Is(err, core.ErrAddrInUse) && attempt < createAttempts && openCtx.Err() == nil {
			cancel()
			log.Warn().Str("module", "app.session").Str("code", string(code)).Msg("session code taken, picking another")
			continue
		}
		err = s.fail(a, ctx, openCtx, err, ErrSessionOpenTimeout)
		cancel()
		log.Warn().Err(err).Str("module", "app.session").Str("id", string(s.id)).Msg("create failed")
		return "", err
	}

	err = s.activate(a, ep, func() {
		s.roster.Upsert(domain.NewMember(s.id, s.name, true))
	})
	if err != nil {
		ep.Close()
		return "", err
	}
	log.Info().Str("module", "app.session").Str("id", string(s.id)).Str("code", string(a.code)).Msg("session created")
	return a.code, nil
}

// Join opens this participant's endpoint and dials the hub for code. The join
// deadline covers both steps.
func (s *Session) Join(ctx context.Context, raw string) error {
	code, err := domain.ParseSessionCode(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCode, err)
	}
	a, err := s.begin(ctx, domain.RoleSpoke, code)
	if err != nil {
		return err
	}

	joinCtx, cancel := a.deadline(ctx, s.opts.JoinTimeout)
	defer cancel()

	ep, err := s.opts.Transport.Open(joinCtx, string(s.id))
	if err != nil {
		err = s.fail(a, ctx, joinCtx, err, ErrJoinTimeout)
		log.Warn().Err(err).Str("module", "app.session").Str("code", string(code)).Msg("join failed")
		return err
	}
	hub, err := ep.Dial(joinCtx, a.hubAddr)
	if err != nil {
		ep.Close()
		err = s.fail(a, ctx, joinCtx, err, ErrJoinTimeout)
		log.Warn().Err(err).Str("module", "app.session").Str("code", string(code)).Msg("join failed")
		return err
	}

	err = s.activate(a, ep, func() {
		s.attach(a, hub)
		s.roster.Upsert(domain.NewMember(s.id, s.name, false))
		if _, err := s.router.Send(core.TypeUserJoin, core.JoinPayload{UserID: s.id, UserName: s.name}); err != nil {
			log.Warn().Err(err).Str("module", "app.session").Msg("user_join not sent")
		}
	})
	if err != nil {
		hub.Close()
		ep.Close()
		return err
	}
	log.Info().Str("module", "app.session").Str("id", string(s.id)).Str("code", string(code)).Msg("session joined")
	return nil
}

// Leave announces departure, closes every channel, releases the endpoint and
// clears the roster, handlers and roster subscribers. It is safe in any state;
// an in-flight Create or Join fails with ErrLeft. Leave waits for the
// session's goroutines and so must not be called from a handler.
func (s *Session) Leave() {
	s.mu.Lock()
	if p := s.pending; p != nil {
		s.pending = nil
		s.state = StateIdle
		s.code = ""
		p.cancel()
	}
	a, last := s.act, s.last
	s.mu.Unlock()

	if a != nil {
		s.dispatchMu.Lock()
		s.teardown(a, true, ErrLeft)
		s.dispatchMu.Unlock()
	}
	if last != nil {
		last.wg.Wait()
	}
	s.roster.Clear()
	s.roster.UnsubscribeAll()
	s.router.Reset()
}

// teardown ends a. Callers hold dispatchMu.
func (s *Session) teardown(a *activation, announce bool, reason error) {
	s.mu.Lock()
	if s.act != a {
		s.mu.Unlock()
		return
	}
	s.act = nil
	s.state = StateIdle
	s.code = ""
	s.mu.Unlock()

	if announce {
		if _, err := s.router.Send(core.TypeUserLeave, core.LeavePayload{UserID: s.id}); err != nil {
			log.Debug().Err(err).Str("module", "app.session").Msg("user_leave not sent")
		}
	}
	a.cancel()
	s.registry.CloseAll()
	a.ep.Close()
	s.roster.Clear()
	a.err = reason
	close(a.done)
	log.Info().Str("module", "app.session").Str("id", string(s.id)).Str("role", a.role.String()).AnErr("reason", reason).Msg("session ended")
}
