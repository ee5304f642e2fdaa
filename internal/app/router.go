package app

import (
	"errors"
	"sync"

	"github.com/dkeye/tablelink/internal/core"
	"github.com/dkeye/tablelink/internal/domain"
	"github.com/rs/zerolog/log"
)

// Handler receives a full envelope for a registered type.
type Handler func(core.Envelope)

type handlerEntry struct {
	id core.Subscription
	fn Handler
}

// Router encodes, dispatches and relays envelopes for one participant.
type Router struct {
	codec    core.Codec
	registry *Registry
	roster   *core.Roster
	policy   Policy
	self     domain.Member

	mu       sync.RWMutex
	handlers map[core.MessageType][]handlerEntry
	byID     map[core.Subscription]core.MessageType
	next     core.Subscription
}

func NewRouter(codec core.Codec, registry *Registry, roster *core.Roster, policy Policy, self domain.Member) *Router {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Router{
		codec:    codec,
		registry: registry,
		roster:   roster,
		policy:   policy,
		self:     self,
		handlers: make(map[core.MessageType][]handlerEntry),
		byID:     make(map[core.Subscription]core.MessageType),
	}
}

// Handle appends fn to the handlers for t. Registering twice for the same
// type keeps both.
func (r *Router) Handle(t core.MessageType, fn Handler) core.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := r.next
	r.handlers[t] = append(r.handlers[t], handlerEntry{id: id, fn: fn})
	r.byID[id] = t
	return id
}

func (r *Router) Unhandle(id core.Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	hs := r.handlers[t]
	for i, h := range hs {
		if h.id == id {
			r.handlers[t] = append(hs[:i:i], hs[i+1:]...)
			break
		}
	}
	if len(r.handlers[t]) == 0 {
		delete(r.handlers, t)
	}
	return true
}

// Reset drops every handler registration.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[core.MessageType][]handlerEntry)
	r.byID = make(map[core.Subscription]core.MessageType)
}

func (r *Router) HandlerCount(t core.MessageType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[t])
}

func (r *Router) envelope(t core.MessageType, payload any, seq uint64) (core.Frame, error) {
	env, err := core.NewEnvelope(r.codec, t, payload, r.self.ID, r.self.Name)
	if err != nil {
		return nil, err
	}
	env.Seq = seq
	return core.EncodeEnvelope(r.codec, env)
}

// Send wraps payload and writes it to every open channel.
func (r *Router) Send(t core.MessageType, payload any) (core.PublishResult, error) {
	return r.SendVersioned(t, payload, 0)
}

// SendVersioned is Send with a roster version stamp.
func (r *Router) SendVersioned(t core.MessageType, payload any, seq uint64) (core.PublishResult, error) {
	f, err := r.envelope(t, payload, seq)
	if err != nil {
		return core.PublishResult{}, err
	}
	res := r.registry.Broadcast(f, "")
	r.settle(res)
	return res, nil
}

// SendTo writes one envelope to a single channel.
func (r *Router) SendTo(conn core.Channel, t core.MessageType, payload any, seq uint64) error {
	f, err := r.envelope(t, payload, seq)
	if err != nil {
		return err
	}
	if err := conn.TrySend(f); err != nil {
		if errors.Is(err, core.ErrBackpressure) {
			r.settle(core.PublishResult{Dropped: []core.Channel{conn}})
		}
		return err
	}
	return nil
}

// Relay forwards a received frame unchanged to every channel but exclude.
func (r *Router) Relay(f core.Frame, exclude string) core.PublishResult {
	res := r.registry.Broadcast(f, exclude)
	r.settle(res)
	return res
}

// Receive applies an inbound frame that arrived on the channel at from.
func (r *Router) Receive(role domain.Role, from string, f core.Frame) {
	env, err := core.DecodeEnvelope(r.codec, f)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.router").Str("from", from).Msg("bad envelope dropped")
		return
	}
	relay := role == domain.RoleHub && env.SenderID != r.self.ID

	switch env.Type {
	case core.TypeUserJoin:
		var p core.JoinPayload
		if err := env.DecodePayload(r.codec, &p); err != nil || p.UserID == "" {
			log.Warn().Err(err).Str("module", "app.router").Str("from", from).Msg("bad user_join dropped")
			return
		}
		if m, ok := r.roster.Get(p.UserID); ok && m.IsHub {
			log.Warn().Str("module", "app.router").Str("user", string(p.UserID)).Msg("user_join for hub id ignored")
			break
		}
		r.roster.Upsert(domain.NewMember(p.UserID, p.UserName, false))
		if role == domain.RoleHub {
			r.registry.BindParticipant(from, p.UserID)
		}
	case core.TypeRoomInfo:
		if role == domain.RoleHub {
			log.Warn().Str("module", "app.router").Str("from", from).Msg("room_info from spoke ignored")
			relay = false
			break
		}
		var p core.RoomInfoPayload
		if err := env.DecodePayload(r.codec, &p); err != nil {
			log.Warn().Err(err).Str("module", "app.router").Str("from", from).Msg("bad room_info dropped")
			return
		}
		r.roster.ApplySnapshot(p.Members, env.Seq, r.self)
	case core.TypeUserLeave:
		var p core.LeavePayload
		if err := env.DecodePayload(r.codec, &p); err != nil || p.UserID == "" {
			log.Warn().Err(err).Str("module", "app.router").Str("from", from).Msg("bad user_leave dropped")
			return
		}
		if !r.leaveAllowed(role, from, env.SenderID, p.UserID) {
			log.Warn().Str("module", "app.router").Str("from", from).Str("sender", string(env.SenderID)).
				Str("user", string(p.UserID)).Msg("user_leave for another member dropped")
			return
		}
		if role == domain.RoleHub {
			r.roster.Remove(p.UserID)
		} else if p.UserID != r.self.ID {
			r.roster.ApplyLeave(p.UserID, env.Seq)
		}
	case core.TypeDiceRoll, core.TypeCombatUpdate, core.TypeCombatantUpdate, core.TypeChatMessage:
	}

	r.dispatch(env)

	if relay {
		r.Relay(f, from)
	}
}

// leaveAllowed reports whether sender may announce that user left. A spoke
// only ever announces itself; the hub announces anyone but itself.
func (r *Router) leaveAllowed(role domain.Role, from string, sender, user domain.ParticipantID) bool {
	if role == domain.RoleHub {
		if user == r.self.ID || user != sender {
			return false
		}
		info, ok := r.registry.Info(from)
		return ok && info.Participant == sender
	}
	hub, ok := r.hubID()
	if !ok {
		return user == sender
	}
	if user == hub {
		return sender == hub
	}
	return sender == hub || sender == user
}

func (r *Router) hubID() (domain.ParticipantID, bool) {
	for _, m := range r.roster.Snapshot() {
		if m.IsHub {
			return m.ID, true
		}
	}
	return "", false
}

func (r *Router) dispatch(env core.Envelope) {
	r.mu.RLock()
	hs := make([]Handler, 0, len(r.handlers[env.Type]))
	for _, h := range r.handlers[env.Type] {
		hs = append(hs, h.fn)
	}
	r.mu.RUnlock()
	for _, fn := range hs {
		fn(env)
	}
}

func (r *Router) settle(res core.PublishResult) {
	for _, slow := range res.Dropped {
		switch r.policy.OnBackPressure(slow) {
		case CloseConnection:
			log.Warn().Str("module", "app.router").Str("addr", slow.RemoteAddr()).Msg("slow connection closed")
			slow.Close()
		case DropFrame:
			log.Warn().Str("module", "app.router").Str("addr", slow.RemoteAddr()).Msg("frame dropped on backpressure")
		case NoAction:
		}
	}
}
