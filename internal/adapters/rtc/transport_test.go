package rtc

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/tablelink/internal/adapters/signal"
	"github.com/dkeye/tablelink/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
)

func newTransport(t *testing.T) *Transport {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctrl := signal.NewSignalWSController(signal.NewDirectory(), signal.Options{})
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctrl.HandleSignal(context.Background(), c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	tr := NewTransport("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", []string{})
	return tr
}

func TestOpen_RegistersAndRejectsDuplicate(t *testing.T) {
	tr := newTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ep, err := tr.Open(ctx, "room_482913")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ep.Close()
	if ep.Addr() != "room_482913" {
		t.Errorf("Addr = %q", ep.Addr())
	}
	if _, err := tr.Open(ctx, "room_482913"); !errors.Is(err, core.ErrAddrInUse) {
		t.Fatalf("duplicate Open err = %v, want ErrAddrInUse", err)
	}

	ep.Close()
	deadline := time.Now().Add(2 * time.Second)
	for {
		again, err := tr.Open(ctx, "room_482913")
		if err == nil {
			again.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("address not released: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDial_UnknownPeerRefused(t *testing.T) {
	tr := newTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ep, err := tr.Open(ctx, "user_1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ep.Close()
	if _, err := ep.Dial(ctx, "room_000000"); !errors.Is(err, core.ErrConnectRefused) {
		t.Fatalf("Dial err = %v, want ErrConnectRefused", err)
	}
}

func TestOpen_BrokerDown(t *testing.T) {
	tr := NewTransport("ws://127.0.0.1:1/ws", []string{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := tr.Open(ctx, "user_1"); !errors.Is(err, ErrSignal) {
		t.Fatalf("err = %v, want ErrSignal", err)
	}
}

func TestDial_DataPath(t *testing.T) {
	tr := newTransport(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	hub, err := tr.Open(ctx, "room_482913")
	if err != nil {
		t.Fatalf("Open hub: %v", err)
	}
	defer hub.Close()
	spoke, err := tr.Open(ctx, "user_alex")
	if err != nil {
		t.Fatalf("Open spoke: %v", err)
	}
	defer spoke.Close()

	accepted := make(chan core.Channel, 1)
	go func() {
		ch, err := hub.Accept(ctx)
		if err != nil {
			t.Errorf("Accept: %v", err)
			close(accepted)
			return
		}
		accepted <- ch
	}()

	out, err := spoke.Dial(ctx, "room_482913")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	in, ok := <-accepted
	if !ok {
		t.FailNow()
	}
	if out.RemoteAddr() != "room_482913" || in.RemoteAddr() != "user_alex" {
		t.Fatalf("remotes: dial=%q accept=%q", out.RemoteAddr(), in.RemoteAddr())
	}

	for i, msg := range []string{"2d10+3", "14"} {
		if err := out.TrySend(core.Frame(msg)); err != nil {
			t.Fatalf("TrySend %d: %v", i, err)
		}
	}
	for _, want := range []string{"2d10+3", "14"} {
		f, err := in.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if string(f) != want {
			t.Fatalf("frame = %q, want %q", f, want)
		}
	}
	if err := in.TrySend(core.Frame("ack")); err != nil {
		t.Fatal(err)
	}
	if f, err := out.Recv(ctx); err != nil || string(f) != "ack" {
		t.Fatalf("reply = %q, %v", f, err)
	}

	// Closing one side ends the other.
	in.Close()
	for {
		if _, err := out.Recv(ctx); err != nil {
			if !errors.Is(err, core.ErrChannelClosed) {
				t.Fatalf("Recv after close = %v", err)
			}
			break
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for s, want := range map[webrtc.PeerConnectionState]bool{
		webrtc.PeerConnectionStateConnecting:   false,
		webrtc.PeerConnectionStateConnected:    false,
		webrtc.PeerConnectionStateDisconnected: false,
		webrtc.PeerConnectionStateFailed:       true,
		webrtc.PeerConnectionStateClosed:       true,
	} {
		if got := terminal(s); got != want {
			t.Errorf("terminal(%s) = %v, want %v", s, got, want)
		}
	}
}

func TestDefaultWebRTCConfig(t *testing.T) {
	if cfg := DefaultWebRTCConfig(nil); len(cfg.ICEServers) != 1 || len(cfg.ICEServers[0].URLs) != 2 {
		t.Errorf("default config = %+v", cfg)
	}
	if cfg := DefaultWebRTCConfig([]string{}); len(cfg.ICEServers) != 0 {
		t.Errorf("empty config = %+v", cfg)
	}
}
