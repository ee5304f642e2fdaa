package core

import (
	"testing"

	"github.com/dkeye/tablelink/internal/domain"
)

func TestRoster_UpsertRemove(t *testing.T) {
	r := NewRoster()
	var calls int
	var last []domain.Member
	r.Subscribe(func(ms []domain.Member) {
		calls++
		last = ms
	})

	r.Upsert(domain.NewMember("h", "GM", true))
	r.Upsert(domain.NewMember("s1", "Alex", false))
	r.Upsert(domain.NewMember("s1", "Alexis", false))

	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	if calls != 3 {
		t.Errorf("notify calls = %d, want 3", calls)
	}
	if !last[0].IsHub || last[1].Name != "Alexis" {
		t.Errorf("snapshot order/content wrong: %+v", last)
	}

	if !r.Remove("s1") {
		t.Error("Remove(s1) = false, want true")
	}
	if r.Remove("s1") {
		t.Error("second Remove(s1) = true, want false")
	}
	if calls != 4 {
		t.Errorf("notify calls = %d, want 4 (no notify on missing remove)", calls)
	}
}

func TestRoster_ApplySnapshotVersions(t *testing.T) {
	r := NewRoster()
	self := domain.NewMember("s2", "Bo", false)
	snap := []domain.Member{
		domain.NewMember("h", "GM", true),
		domain.NewMember("s1", "Alex", false),
	}
	if !r.ApplySnapshot(snap, 5, self) {
		t.Fatal("first snapshot rejected")
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3 (snapshot + self)", r.Len())
	}
	if r.ApplySnapshot(snap[:1], 4) {
		t.Error("stale snapshot accepted")
	}
	if r.Len() != 3 {
		t.Errorf("stale snapshot changed roster: %d members", r.Len())
	}
	if r.ApplyLeave("s1", 3) {
		t.Error("stale leave applied")
	}
	if !r.ApplyLeave("s1", 6) {
		t.Error("fresh leave rejected")
	}
	if !r.ApplySnapshot(snap[:1], 0) {
		t.Error("unversioned snapshot rejected")
	}
	if _, ok := r.Get("s2"); ok {
		t.Error("self kept without keep argument")
	}
}

func TestRoster_Unsubscribe(t *testing.T) {
	r := NewRoster()
	var a, b int
	subA := r.Subscribe(func([]domain.Member) { a++ })
	r.Subscribe(func([]domain.Member) { b++ })

	r.Upsert(domain.NewMember("h", "GM", true))
	if !r.Unsubscribe(subA) {
		t.Fatal("Unsubscribe = false")
	}
	if r.Unsubscribe(subA) {
		t.Error("double Unsubscribe = true")
	}
	r.Upsert(domain.NewMember("s1", "Alex", false))
	if a != 1 || b != 2 {
		t.Errorf("a=%d b=%d, want 1 and 2", a, b)
	}

	r.UnsubscribeAll()
	r.Clear()
	if b != 2 {
		t.Errorf("callback ran after UnsubscribeAll")
	}
	if r.Len() != 0 || r.Version() != 0 {
		t.Errorf("Clear left len=%d version=%d", r.Len(), r.Version())
	}
}

func TestRoster_CallbackMayReadRoster(t *testing.T) {
	r := NewRoster()
	var seen int
	r.Subscribe(func([]domain.Member) { seen = r.Len() })
	r.Upsert(domain.NewMember("h", "GM", true))
	if seen != 1 {
		t.Errorf("seen = %d", seen)
	}
}
