package app

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/tablelink/internal/core"
	"github.com/dkeye/tablelink/internal/domain"
	"github.com/rs/zerolog/log"
)

type ConnState int

const (
	ConnOpening ConnState = iota
	ConnOpen
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnOpening:
		return "opening"
	case ConnOpen:
		return "open"
	default:
		return "closed"
	}
}

// ConnInfo is a read-only view of a registry entry.
type ConnInfo struct {
	Addr        string
	Participant domain.ParticipantID
	State       ConnState
	OpenedAt    time.Time
}

type connEntry struct {
	conn        core.Channel
	participant domain.ParticipantID
	openedAt    time.Time
}

// Registry tracks open channels keyed by remote address, at most one each.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*connEntry)}
}

// Add stores conn under its remote address and returns the channel it
// replaced, if any. The caller closes the replaced channel.
func (r *Registry) Add(conn core.Channel) core.Channel {
	addr := conn.RemoteAddr()
	r.mu.Lock()
	defer r.mu.Unlock()
	var replaced core.Channel
	if old, ok := r.conns[addr]; ok && old.conn != conn {
		replaced = old.conn
	}
	r.conns[addr] = &connEntry{conn: conn, openedAt: time.Now()}
	log.Info().Str("module", "app.registry").Str("addr", addr).Bool("replaced", replaced != nil).Msg("connection added")
	return replaced
}

// Remove deletes the entry for addr only if it still holds conn, so a late
// close of a replaced channel does not evict its successor.
func (r *Registry) Remove(addr string, conn core.Channel) (ConnInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[addr]
	if !ok || e.conn != conn {
		return ConnInfo{}, false
	}
	delete(r.conns, addr)
	log.Info().Str("module", "app.registry").Str("addr", addr).Str("participant", string(e.participant)).Msg("connection removed")
	return ConnInfo{Addr: addr, Participant: e.participant, State: ConnClosed, OpenedAt: e.openedAt}, true
}

// BindParticipant records which participant speaks on the channel at addr.
func (r *Registry) BindParticipant(addr string, id domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[addr]
	if !ok {
		return false
	}
	e.participant = id
	return true
}

func (r *Registry) Get(addr string) (core.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[addr]; ok {
		return e.conn, true
	}
	return nil, false
}

func (r *Registry) Info(addr string) (ConnInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[addr]
	if !ok {
		return ConnInfo{}, false
	}
	return ConnInfo{Addr: addr, Participant: e.participant, State: ConnOpen, OpenedAt: e.openedAt}, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.conns))
	for addr := range r.conns {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Broadcast writes f to every channel except the one at exclude.
func (r *Registry) Broadcast(f core.Frame, exclude string) core.PublishResult {
	r.mu.RLock()
	targets := make([]core.Channel, 0, len(r.conns))
	for addr, e := range r.conns {
		if addr == exclude {
			continue
		}
		targets = append(targets, e.conn)
	}
	r.mu.RUnlock()

	res := core.PublishResult{}
	for _, c := range targets {
		if err := c.TrySend(f); err != nil {
			if errors.Is(err, core.ErrBackpressure) {
				res.Dropped = append(res.Dropped, c)
			} else {
				log.Debug().Err(err).Str("module", "app.registry").Str("addr", c.RemoteAddr()).Msg("send failed")
			}
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "app.registry").Str("exclude", exclude).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// CloseAll closes and forgets every channel.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*connEntry)
	r.mu.Unlock()
	for _, e := range conns {
		e.conn.Close()
	}
	if len(conns) > 0 {
		log.Info().Str("module", "app.registry").Int("count", len(conns)).Msg("closed all connections")
	}
	return len(conns)
}
