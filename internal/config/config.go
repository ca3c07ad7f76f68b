package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`

	AppID      string   `mapstructure:"app_id"`
	SignalURL  string   `mapstructure:"signal_url"`
	ICEServers []string `mapstructure:"ice_servers"`
	// PingPeriod is the signaling keepalive; zero disables it.
	PingPeriod time.Duration `mapstructure:"ping_period"`

	JoinTimeout      time.Duration `mapstructure:"join_timeout"`
	RebroadcastDelay time.Duration `mapstructure:"rebroadcast_delay"`
	EventBuffer      int           `mapstructure:"event_buffer"`

	IdentityPath string `mapstructure:"identity_path"`

	ChatRateLimit    int           `mapstructure:"chat_rate_limit"`
	ChatRateInterval time.Duration `mapstructure:"chat_rate_interval"`

	CameraFile string `mapstructure:"camera_file"`
	ScreenFile string `mapstructure:"screen_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8090)
	v.SetDefault("log_level", "info")
	v.SetDefault("app_id", "livesession")
	v.SetDefault("signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ping_period", "20s")
	v.SetDefault("join_timeout", "15s")
	v.SetDefault("rebroadcast_delay", "500ms")
	v.SetDefault("event_buffer", 256)
	v.SetDefault("identity_path", defaultIdentityPath())
	v.SetDefault("chat_rate_limit", 20)
	v.SetDefault("chat_rate_interval", "10s")
	v.SetDefault("camera_file", "")
	v.SetDefault("screen_file", "")
}

func defaultIdentityPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".livesession/identity.json"
	}
	return home + "/.livesession/identity.json"
}

// Load reads config/config.<CONFIG_ENV>.yaml, falling back to defaults.
// LIVESESSION_* environment variables override file values.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.SetEnvPrefix("LIVESESSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.JoinTimeout <= 0 {
		return nil, fmt.Errorf("join_timeout must be positive, got %s", cfg.JoinTimeout)
	}
	if cfg.RebroadcastDelay < 0 {
		return nil, fmt.Errorf("rebroadcast_delay must not be negative, got %s", cfg.RebroadcastDelay)
	}
	if cfg.PingPeriod < 0 {
		return nil, fmt.Errorf("ping_period must not be negative, got %s", cfg.PingPeriod)
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("signal_url", cfg.SignalURL).
		Dur("rebroadcast_delay", cfg.RebroadcastDelay).
		Msg("config ready")
	return &cfg, nil
}
