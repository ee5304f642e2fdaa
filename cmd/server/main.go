package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	router "github.com/dkeye/tablelink/internal/adapters/http"
	sig "github.com/dkeye/tablelink/internal/adapters/signal"
	"github.com/dkeye/tablelink/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fs := pflag.NewFlagSet("tablelink-server", pflag.ExitOnError)
	fs.Int("port", 8080, "listen port")
	fs.String("mode", "release", "gin mode: debug or release")
	fs.String("static-path", "", "directory served at /static")
	fs.String("log-level", "info", "log level")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.LoadWithFlags(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	config.SetupLogging(cfg, os.Stderr)

	limiter := sig.NewRateLimiter(cfg.RateLimit, cfg.RateInterval)
	ctrl := sig.NewSignalWSController(sig.NewDirectory(), sig.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		Limiter:    limiter,
	})

	go func() {
		ticker := time.NewTicker(cfg.RateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := limiter.Sweep(); n > 0 {
					log.Debug().Str("module", "server").Int("clients", n).Msg("rate limiter swept")
				}
			}
		}
	}()

	r := router.SetupRouter(ctx, cfg, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Signal broker started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
