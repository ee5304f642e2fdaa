package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	// Broker registration limits.
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`

	// Peer settings.
	SignalURL   string        `mapstructure:"signal_url"`
	ICEServers  []string      `mapstructure:"ice_servers"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
	JoinTimeout time.Duration `mapstructure:"join_timeout"`
	Codec       string        `mapstructure:"codec"`
	Name        string        `mapstructure:"name"`
}

const envPrefix = "TABLELINK"

func Load() (*Config, error) {
	return LoadWithFlags(nil)
}

// LoadWithFlags reads config/config.<CONFIG_ENV>.yaml (or CONFIG_FILE), then
// TABLELINK_* environment variables, then flags set on fs. Flag names use
// dashes where keys use underscores.
func LoadWithFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	fileName := os.Getenv("CONFIG_FILE")
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "tablelink-dev-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("rate_limit", 20)
	v.SetDefault("rate_interval", "1m")
	v.SetDefault("signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"})
	v.SetDefault("open_timeout", "30s")
	v.SetDefault("join_timeout", "30s")
	v.SetDefault("codec", "json")
	v.SetDefault("name", "")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			if bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("codec", cfg.Codec).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Codec {
	case "", "json", "cbor":
	default:
		return fmt.Errorf("unknown codec %q", c.Codec)
	}
	if c.OpenTimeout < 0 || c.JoinTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}
