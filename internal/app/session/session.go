// Package session ties identity, transport, registry, router and roster into
// one participant's view of a hub/spoke session.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/dkeye/tablelink/internal/app"
	"github.com/dkeye/tablelink/internal/core"
	"github.com/dkeye/tablelink/internal/domain"
)

const (
	DefaultOpenTimeout = 30 * time.Second
	DefaultJoinTimeout = 30 * time.Second
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	default:
		return "idle"
	}
}

// Options configures a Session. Transport is required.
type Options struct {
	Transport   core.Transport
	Codec       core.Codec
	OpenTimeout time.Duration
	JoinTimeout time.Duration
	Policy      app.Policy
	// CodeGen picks the code for Create; defaults to domain.NewSessionCode.
	CodeGen func() domain.SessionCode
}

func (o *Options) withDefaults() {
	if o.Codec == nil {
		o.Codec = core.JSON()
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = DefaultOpenTimeout
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = DefaultJoinTimeout
	}
	if o.CodeGen == nil {
		o.CodeGen = domain.NewSessionCode
	}
}

// Session is one participant. It can create or join, leave, and do so again;
// the participant id stays the same for its lifetime.
type Session struct {
	id   domain.ParticipantID
	name string
	opts Options

	registry *app.Registry
	roster   *core.Roster
	router   *app.Router

	mu      sync.Mutex
	state   State
	role    domain.Role
	code    domain.SessionCode
	pending *activation
	act     *activation
	last    *activation

	// dispatchMu serializes event handling with teardown.
	dispatchMu sync.Mutex
}

var closedDone = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

func New(name string, opts Options) (*Session, error) {
	name, err := domain.NormalizeUsername(name)
	if err != nil {
		return nil, err
	}
	if opts.Transport == nil {
		return nil, errors.New("session: transport required")
	}
	opts.withDefaults()
	id := domain.NewParticipantID()
	registry := app.NewRegistry()
	roster := core.NewRoster()
	return &Session{
		id:       id,
		name:     name,
		opts:     opts,
		registry: registry,
		roster:   roster,
		router:   app.NewRouter(opts.Codec, registry, roster, opts.Policy, domain.NewMember(id, name, false)),
	}, nil
}

func (s *Session) ID() domain.ParticipantID { return s.id }
func (s *Session) Name() string             { return s.name }

// Code is the session code while connecting or active, empty otherwise.
func (s *Session) Code() domain.SessionCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		return ""
	}
	return s.code
}

func (s *Session) Role() domain.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *Session) IsHub() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateIdle && s.role == domain.RoleHub
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the current or most recent activation ends.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.act != nil {
		return s.act.done
	}
	if s.last == nil {
		return closedDone
	}
	return s.last.done
}

// Err reports why the most recent activation ended: ErrLeft, ErrHubLost or
// ErrTransport. Nil while active or before the first activation.
func (s *Session) Err() error {
	s.mu.Lock()
	a := s.last
	s.mu.Unlock()
	if a == nil {
		return nil
	}
	select {
	case <-a.done:
		return a.err
	default:
		return nil
	}
}

// Members returns the roster, hub first.
func (s *Session) Members() []domain.Member { return s.roster.Snapshot() }

// Peers lists the remote addresses with an open channel.
func (s *Session) Peers() []string { return s.registry.Addresses() }

// Send wraps payload in an envelope of type t and writes it to every open
// channel. A hub's send reaches all spokes; a spoke's reaches the hub, which
// relays it.
func (s *Session) Send(t core.MessageType, payload any) error {
	if s.State() != StateActive {
		return ErrNotActive
	}
	_, err := s.router.Send(t, payload)
	return err
}

// Handle registers fn for envelopes of type t. Handlers run on the session's
// event goroutine and must not call Leave synchronously.
func (s *Session) Handle(t core.MessageType, fn app.Handler) core.Subscription {
	return s.router.Handle(t, fn)
}

func (s *Session) Unhandle(id core.Subscription) bool { return s.router.Unhandle(id) }

// Subscribe registers fn for roster changes; the same rules as Handle apply.
func (s *Session) Subscribe(fn func([]domain.Member)) core.Subscription {
	return s.roster.Subscribe(fn)
}

func (s *Session) Unsubscribe(id core.Subscription) bool { return s.roster.Unsubscribe(id) }
