package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/voicesession/internal/domain"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`
	LogLevel   string `mapstructure:"log_level"`

	Signal  Signal                  `mapstructure:"signal"`
	Backend Backend                 `mapstructure:"backend"`
	Media   domain.MediaConstraints `mapstructure:"media"`
	Managed Managed                 `mapstructure:"managed"`
	Relay   Relay                   `mapstructure:"relay"`
	Client  Client                  `mapstructure:"client"`

	v *viper.Viper
}

// Signal covers both ends of the websocket channel.
type Signal struct {
	Endpoint   string        `mapstructure:"endpoint"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
	SendBuffer int           `mapstructure:"send_buffer"`
	// ICEFallback is dialed when a capability carries no transport config.
	ICEFallback []string `mapstructure:"ice_fallback"`
}

type Backend struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Managed struct {
	URL string `mapstructure:"url"`
}

type Relay struct {
	MaxNativePeers int           `mapstructure:"max_native_peers"`
	ChatLimit      int           `mapstructure:"chat_limit"`
	ChatInterval   time.Duration `mapstructure:"chat_interval"`
	ArchivePath    string        `mapstructure:"archive_path"`
}

// Client is who the headless client joins as.
type Client struct {
	UserID      string `mapstructure:"user_id"`
	DisplayName string `mapstructure:"display_name"`
	Role        string `mapstructure:"role"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.v = v
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("backend", cfg.Backend.BaseURL).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("log_level", "info")

	v.SetDefault("signal.endpoint", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("signal.ping_period", "54s")
	v.SetDefault("signal.pong_wait", "60s")
	v.SetDefault("signal.read_limit", 32768)
	v.SetDefault("signal.max_backoff", "30s")
	v.SetDefault("signal.send_buffer", 32)
	v.SetDefault("signal.ice_fallback", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("backend.base_url", "http://localhost:3000/api")
	v.SetDefault("backend.timeout", "10s")

	d := domain.DefaultConstraints()
	v.SetDefault("media.audio", d.Audio)
	v.SetDefault("media.video", d.Video)
	v.SetDefault("media.width", d.Width)
	v.SetDefault("media.height", d.Height)
	v.SetDefault("media.video_bitrate", d.VideoBitrate)

	v.SetDefault("relay.max_native_peers", 2)
	v.SetDefault("relay.chat_limit", 5)
	v.SetDefault("relay.chat_interval", "1s")
	v.SetDefault("relay.archive_path", "")

	v.SetDefault("client.display_name", "guest")
	v.SetDefault("client.role", string(domain.RoleStudent))
}

// Level parses LogLevel, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// WatchLogLevel re-applies log_level whenever the config file changes.
func (c *Config) WatchLogLevel() {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		raw := c.v.GetString("log_level")
		lvl, err := zerolog.ParseLevel(raw)
		if err != nil {
			log.Warn().Str("module", "config").Str("log_level", raw).Msg("ignoring bad level")
			return
		}
		zerolog.SetGlobalLevel(lvl)
		log.Info().Str("module", "config").Str("log_level", lvl.String()).Msg("log level reloaded")
	})
	c.v.WatchConfig()
}
