package config

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging points the global logger at w: console output in debug and
// dev modes, JSON otherwise.
func SetupLogging(cfg *Config, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Mode == "debug" || cfg.Mode == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
	} else {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
