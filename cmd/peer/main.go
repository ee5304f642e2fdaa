package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/tablelink/internal/adapters/rtc"
	"github.com/dkeye/tablelink/internal/app/session"
	"github.com/dkeye/tablelink/internal/config"
	"github.com/dkeye/tablelink/internal/core"
	"github.com/dkeye/tablelink/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fs := pflag.NewFlagSet("tablelink-peer", pflag.ExitOnError)
	fs.String("name", "", "display name")
	fs.String("signal-url", "", "signalling broker websocket url")
	fs.String("codec", "json", "envelope codec: json or cbor")
	fs.String("log-level", "info", "log level")
	create := fs.Bool("create", false, "create a session and act as hub")
	join := fs.String("join", "", "join the session with this code")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.LoadWithFlags(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	config.SetupLogging(cfg, os.Stderr)

	if *create == (*join != "") {
		fmt.Fprintln(os.Stderr, "exactly one of --create or --join is required")
		os.Exit(2)
	}
	if err := run(ctx, cfg, *create, *join, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, create bool, code string, in io.Reader, out io.Writer) error {
	codec, err := core.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}
	tr := rtc.NewTransport(cfg.SignalURL, cfg.ICEServers)
	s, err := session.New(cfg.Name, session.Options{
		Transport:   tr,
		Codec:       codec,
		OpenTimeout: cfg.OpenTimeout,
		JoinTimeout: cfg.JoinTimeout,
	})
	if err != nil {
		return err
	}
	defer s.Leave()

	p := &printer{out: out, codec: codec}
	p.bind(s)

	if create {
		c, err := s.Create(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "session code: %s\n", c)
	} else {
		if err := s.Join(ctx, code); err != nil {
			return err
		}
		fmt.Fprintf(out, "joined %s as %s\n", s.Code(), s.Name())
	}

	return loop(ctx, s, p, in)
}

// loop feeds input lines to command until quit, end of input, or the session
// ending on its own.
func loop(ctx context.Context, s *session.Session, p *printer, in io.Reader) error {
	g, gctx := errgroup.WithContext(ctx)
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-gctx.Done():
				return
			}
		}
	}()

	g.Go(func() error {
		select {
		case <-s.Done():
			if err := s.Err(); err != nil && !errors.Is(err, session.ErrLeft) {
				return err
			}
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					s.Leave()
					return nil
				}
				if quit := command(s, p, strings.TrimSpace(line)); quit {
					s.Leave()
					return nil
				}
			}
		}
	})
	return g.Wait()
}

// command runs one input line and reports whether the user asked to quit.
func command(s *session.Session, p *printer, line string) bool {
	switch {
	case line == "":
	case line == "/quit":
		return true
	case line == "/who":
		p.members(s.Members())
	case strings.HasPrefix(line, "/roll "):
		roll, err := domain.Roll(strings.TrimPrefix(line, "/roll "))
		if err != nil {
			p.printf("roll: %v\n", err)
			return false
		}
		if err := s.Send(core.TypeDiceRoll, roll); err != nil {
			p.printf("send: %v\n", err)
			return false
		}
		p.printf("you rolled %s = %d %v\n", roll.Expression, roll.Total, roll.Results)
	case strings.HasPrefix(line, "/combat "):
		var update any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "/combat ")), &update); err != nil {
			p.printf("combat: want a JSON value: %v\n", err)
			return false
		}
		if err := s.Send(core.TypeCombatUpdate, update); err != nil {
			p.printf("send: %v\n", err)
		}
	default:
		if err := s.Send(core.TypeChatMessage, domain.ChatMessage{Text: line}); err != nil {
			p.printf("send: %v\n", err)
		}
	}
	return false
}

type printer struct {
	out   io.Writer
	codec core.Codec
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

func (p *printer) members(ms []domain.Member) {
	for _, m := range ms {
		role := ""
		if m.IsHub {
			role = " (hub)"
		}
		p.printf("  %s%s\n", m.Name, role)
	}
}

func (p *printer) bind(s *session.Session) {
	s.Handle(core.TypeChatMessage, func(env core.Envelope) {
		var msg domain.ChatMessage
		if err := env.DecodePayload(p.codec, &msg); err != nil {
			log.Warn().Err(err).Str("module", "peer").Msg("bad chat payload")
			return
		}
		p.printf("<%s> %s\n", env.SenderName, msg.Text)
	})
	s.Handle(core.TypeDiceRoll, func(env core.Envelope) {
		var roll domain.DiceRoll
		if err := env.DecodePayload(p.codec, &roll); err != nil {
			log.Warn().Err(err).Str("module", "peer").Msg("bad dice payload")
			return
		}
		p.printf("%s rolled %s = %d %v\n", env.SenderName, roll.Expression, roll.Total, roll.Results)
	})
	for _, t := range []core.MessageType{core.TypeCombatUpdate, core.TypeCombatantUpdate} {
		s.Handle(t, func(env core.Envelope) {
			var v any
			if err := env.DecodePayload(p.codec, &v); err != nil {
				log.Warn().Err(err).Str("module", "peer").Str("type", string(env.Type)).Msg("bad payload")
				return
			}
			p.printf("%s from %s: %v\n", env.Type, env.SenderName, v)
		})
	}
	s.Handle(core.TypeUserJoin, func(env core.Envelope) {
		p.printf("* %s joined\n", env.SenderName)
	})
	s.Subscribe(func(ms []domain.Member) {
		log.Debug().Str("module", "peer").Int("members", len(ms)).Msg("roster changed")
	})
}
