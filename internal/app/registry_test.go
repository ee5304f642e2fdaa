package app

import (
	"testing"

	"github.com/dkeye/tablelink/internal/core"
)

func TestRegistry_AddReplacesDuplicate(t *testing.T) {
	r := NewRegistry()
	first, second := newFake("user_a"), newFake("user_a")

	if old := r.Add(first); old != nil {
		t.Fatalf("first Add replaced %v", old)
	}
	if old := r.Add(second); old != first {
		t.Fatalf("second Add replaced %v, want first", old)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}

	// Late close of the replaced channel must not evict the new one.
	if _, ok := r.Remove("user_a", first); ok {
		t.Error("Remove with stale channel succeeded")
	}
	if got, ok := r.Get("user_a"); !ok || got != second {
		t.Errorf("Get = %v, %v; want second", got, ok)
	}
	info, ok := r.Remove("user_a", second)
	if !ok || info.State != ConnClosed || info.Addr != "user_a" {
		t.Errorf("Remove = %+v, %v", info, ok)
	}
}

func TestRegistry_BindParticipant(t *testing.T) {
	r := NewRegistry()
	c := newFake("user_a")
	r.Add(c)
	if !r.BindParticipant("user_a", "p1") {
		t.Fatal("BindParticipant = false")
	}
	if r.BindParticipant("user_b", "p2") {
		t.Error("BindParticipant on unknown addr = true")
	}
	info, ok := r.Info("user_a")
	if !ok || info.Participant != "p1" || info.State != ConnOpen {
		t.Errorf("Info = %+v, %v", info, ok)
	}
	removed, _ := r.Remove("user_a", c)
	if removed.Participant != "p1" {
		t.Errorf("removed participant = %q", removed.Participant)
	}
}

func TestRegistry_BroadcastExclude(t *testing.T) {
	r := NewRegistry()
	a, b, c := newFake("a"), newFake("b"), newFake("c")
	c.full = true
	r.Add(a)
	r.Add(b)
	r.Add(c)

	res := r.Broadcast(core.Frame("x"), "a")
	if res.SendTo != 1 {
		t.Errorf("SendTo = %d, want 1", res.SendTo)
	}
	if len(res.Dropped) != 1 || res.Dropped[0] != c {
		t.Errorf("Dropped = %v, want [c]", res.Dropped)
	}
	if len(a.frames()) != 0 || len(b.frames()) != 1 {
		t.Errorf("a got %d, b got %d", len(a.frames()), len(b.frames()))
	}
	if got := r.Addresses(); len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("Addresses = %v", got)
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()
	a, b := newFake("a"), newFake("b")
	r.Add(a)
	r.Add(b)
	if n := r.CloseAll(); n != 2 {
		t.Errorf("CloseAll = %d", n)
	}
	if !a.isClosed() || !b.isClosed() || r.Len() != 0 {
		t.Error("channels not closed or registry not empty")
	}
	if n := r.CloseAll(); n != 0 {
		t.Errorf("second CloseAll = %d", n)
	}
}
