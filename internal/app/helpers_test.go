package app

import (
	"context"
	"sync"
	"testing"

	"github.com/dkeye/tablelink/internal/core"
	"github.com/dkeye/tablelink/internal/domain"
)

// fakeChannel records frames written to it.
type fakeChannel struct {
	addr string

	mu     sync.Mutex
	sent   []core.Frame
	full   bool
	closed bool
}

func newFake(addr string) *fakeChannel { return &fakeChannel{addr: addr} }

func (c *fakeChannel) RemoteAddr() string { return c.addr }

func (c *fakeChannel) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrChannelClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	c.sent = append(c.sent, f)
	return nil
}

func (c *fakeChannel) Recv(ctx context.Context) (core.Frame, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeChannel) frames() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Frame(nil), c.sent...)
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func mustFrame(t *testing.T, typ core.MessageType, payload any, sender domain.ParticipantID, name string, seq uint64) core.Frame {
	t.Helper()
	env, err := core.NewEnvelope(core.JSON(), typ, payload, sender, name)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	env.Seq = seq
	f, err := core.EncodeEnvelope(core.JSON(), env)
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	return f
}

func mustDecode(t *testing.T, f core.Frame) core.Envelope {
	t.Helper()
	env, err := core.DecodeEnvelope(core.JSON(), f)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	return env
}
