package core

import (
	"sort"
	"sync"

	"github.com/dkeye/tablelink/internal/domain"
	"github.com/rs/zerolog/log"
)

// Subscription identifies one registered callback for later removal.
type Subscription uint64

// Roster is a threadsafe in-memory member set.
// It never touches transport resources.
type Roster struct {
	mu      sync.RWMutex
	members map[domain.ParticipantID]domain.Member
	// version counts local mutations; a hub stamps it on what it sends.
	version uint64
	// applied is the highest hub version taken from a snapshot or leave.
	applied uint64

	subs    map[Subscription]func([]domain.Member)
	subSeq  []Subscription
	nextSub Subscription
}

func NewRoster() *Roster {
	return &Roster{
		members: make(map[domain.ParticipantID]domain.Member),
		subs:    make(map[Subscription]func([]domain.Member)),
	}
}

func (r *Roster) Upsert(m domain.Member) {
	r.mu.Lock()
	r.members[m.ID] = m
	r.version++
	r.mu.Unlock()
	log.Debug().Str("module", "core.roster").Str("member", string(m.ID)).Str("name", m.Name).Bool("hub", m.IsHub).Msg("member upserted")
	r.notify()
}

// Remove reports whether the member was present.
func (r *Roster) Remove(id domain.ParticipantID) bool {
	r.mu.Lock()
	if _, ok := r.members[id]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.members, id)
	r.version++
	r.mu.Unlock()
	log.Debug().Str("module", "core.roster").Str("member", string(id)).Msg("member removed")
	r.notify()
	return true
}

// ApplySnapshot replaces every member with members unless version is older
// than one already applied. Zero versions are always applied. keep is
// re-inserted after the replace.
func (r *Roster) ApplySnapshot(members []domain.Member, version uint64, keep ...domain.Member) bool {
	r.mu.Lock()
	if version != 0 && version < r.applied {
		r.mu.Unlock()
		log.Warn().Str("module", "core.roster").Uint64("version", version).Uint64("applied", r.applied).Msg("stale snapshot dropped")
		return false
	}
	if version != 0 {
		r.applied = version
	}
	r.members = make(map[domain.ParticipantID]domain.Member, len(members)+len(keep))
	for _, m := range members {
		r.members[m.ID] = m
	}
	for _, m := range keep {
		r.members[m.ID] = m
	}
	r.version++
	r.mu.Unlock()
	r.notify()
	return true
}

// ApplyLeave removes id unless version is older than one already applied.
func (r *Roster) ApplyLeave(id domain.ParticipantID, version uint64) bool {
	r.mu.Lock()
	if version != 0 {
		if version < r.applied {
			r.mu.Unlock()
			return false
		}
		r.applied = version
	}
	r.mu.Unlock()
	return r.Remove(id)
}

// Clear drops every member and resets versions.
func (r *Roster) Clear() {
	r.mu.Lock()
	had := len(r.members) > 0
	r.members = make(map[domain.ParticipantID]domain.Member)
	r.version = 0
	r.applied = 0
	r.mu.Unlock()
	if had {
		r.notify()
	}
}

func (r *Roster) Get(id domain.ParticipantID) (domain.Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	return m, ok
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *Roster) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Snapshot returns the members, hub first, then by name and id.
func (r *Roster) Snapshot() []domain.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Roster) snapshotLocked() []domain.Member {
	out := make([]domain.Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsHub != out[j].IsHub {
			return out[i].IsHub
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Subscribe registers fn to receive the full member list after every change.
func (r *Roster) Subscribe(fn func([]domain.Member)) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSub++
	id := r.nextSub
	r.subs[id] = fn
	r.subSeq = append(r.subSeq, id)
	return id
}

func (r *Roster) Unsubscribe(id Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return false
	}
	delete(r.subs, id)
	for i, s := range r.subSeq {
		if s == id {
			r.subSeq = append(r.subSeq[:i], r.subSeq[i+1:]...)
			break
		}
	}
	return true
}

func (r *Roster) UnsubscribeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[Subscription]func([]domain.Member))
	r.subSeq = nil
}

// notify runs callbacks outside the lock so they may call back into the roster.
func (r *Roster) notify() {
	r.mu.RLock()
	snap := r.snapshotLocked()
	fns := make([]func([]domain.Member), 0, len(r.subSeq))
	for _, id := range r.subSeq {
		fns = append(fns, r.subs[id])
	}
	r.mu.RUnlock()
	for _, fn := range fns {
		fn(snap)
	}
}
