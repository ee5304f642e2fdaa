package main

import (
	"bytes"
	"context"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/tablelink/internal/adapters/mem"
	"github.com/dkeye/tablelink/internal/app/session"
	"github.com/dkeye/tablelink/internal/core"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, buf *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(buf.String(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("output %q does not contain %q", buf.String(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCommands(t *testing.T) {
	nw := mem.NewNetwork()
	hub, err := session.New("GM", session.Options{Transport: nw})
	if err != nil {
		t.Fatal(err)
	}
	defer hub.Leave()
	hubOut := &syncBuffer{}
	(&printer{out: hubOut, codec: core.JSON()}).bind(hub)
	code, err := hub.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	alex, err := session.New("Alex", session.Options{Transport: nw})
	if err != nil {
		t.Fatal(err)
	}
	defer alex.Leave()
	alexOut := &syncBuffer{}
	p := &printer{out: alexOut, codec: core.JSON()}
	p.bind(alex)
	if err := alex.Join(context.Background(), string(code)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, hubOut, "* Alex joined")

	if command(alex, p, "hello table") {
		t.Fatal("chat reported quit")
	}
	waitFor(t, hubOut, "<Alex> hello table")

	command(alex, p, "/roll 1d2+12")
	waitFor(t, alexOut, "you rolled 1d2+12 = 1")
	waitFor(t, hubOut, "Alex rolled 1d2+12 = 1")

	command(alex, p, `/combat {"round":2}`)
	waitFor(t, hubOut, "combat_update from Alex: map[round:2]")

	command(alex, p, "/roll nonsense")
	waitFor(t, alexOut, "roll:")

	command(alex, p, "/who")
	waitFor(t, alexOut, "GM (hub)")

	if !command(alex, p, "/quit") {
		t.Fatal("/quit did not report quit")
	}
}

func scannerRunning() bool {
	buf := make([]byte, 1<<20)
	return strings.Contains(string(buf[:runtime.Stack(buf, true)]), "main.loop.func1")
}

func TestLoop_QuitWithPendingInput(t *testing.T) {
	nw := mem.NewNetwork()
	s, err := session.New("GM", session.Options{Transport: nw})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Leave()
	out := &syncBuffer{}
	p := &printer{out: out, codec: core.JSON()}
	p.bind(s)
	if _, err := s.Create(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- loop(context.Background(), s, p, strings.NewReader("/quit\nnever sent\nnor this\n")) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("loop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not return after /quit")
	}
	if s.State() != session.StateIdle {
		t.Errorf("state = %v after /quit", s.State())
	}

	deadline := time.Now().Add(2 * time.Second)
	for scannerRunning() {
		if time.Now().After(deadline) {
			t.Fatal("input reader goroutine still blocked after loop returned")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
