// Package config loads fieldsync settings from defaults, an optional config
// file, a .env file, FIELDSYNC_* environment variables and command-line
// flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/agentworkforce/fieldsync/internal/logging"
)

const EnvPrefix = "FIELDSYNC"

type Config struct {
	Remote   RemoteConfig   `mapstructure:"remote"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Presence PresenceConfig `mapstructure:"presence"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Local    LocalConfig    `mapstructure:"local"`
	Bridge   BridgeConfig   `mapstructure:"bridge"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logger   logging.Config `mapstructure:"logger"`
}

type RemoteConfig struct {
	BaseURL    string        `mapstructure:"base_url" validate:"required,url"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Retries    int           `mapstructure:"retries" validate:"gte=0,lte=10"`
	SaveMethod string        `mapstructure:"save_method" validate:"oneof=PUT POST put post"`
	BinID      string        `mapstructure:"bin_id"`
}

type SyncConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`
	Jitter            float64       `mapstructure:"jitter" validate:"gte=0,lte=1"`
	RefreshRateLimit  float64       `mapstructure:"refresh_rate_limit" validate:"gt=0"`
	RefreshBurst      int           `mapstructure:"refresh_burst" validate:"gte=1"`
}

type PresenceConfig struct {
	OnlineWindow    time.Duration `mapstructure:"online_window" validate:"gt=0"`
	PositionTimeout time.Duration `mapstructure:"position_timeout" validate:"gt=0"`
	GeoURL          string        `mapstructure:"geo_url" validate:"omitempty,url"`
	StaticLat       *float64      `mapstructure:"static_lat" validate:"omitempty,latitude"`
	StaticLon       *float64      `mapstructure:"static_lon" validate:"omitempty,longitude"`
}

type NotifyConfig struct {
	SupervisorAlerts bool `mapstructure:"supervisor_alerts"`
}

type LocalConfig struct {
	DSN   string `mapstructure:"dsn" validate:"required"`
	Watch bool   `mapstructure:"watch"`
}

type BridgeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Token   string `mapstructure:"token"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// HasStaticPosition reports whether both static coordinates are configured.
func (c PresenceConfig) HasStaticPosition() bool {
	return c.StaticLat != nil && c.StaticLon != nil
}

type Options struct {
	// ConfigFile is an explicit yaml/json/toml file. Empty means none.
	ConfigFile string
	// EnvFile is loaded with godotenv when present. Empty means ".env".
	EnvFile string
	// Flags are bound over the matching keys; a flag named "poll-interval"
	// overrides "sync.poll_interval" through FlagKeys.
	Flags *pflag.FlagSet
}

// FlagKeys maps command-line flag names to config keys.
var FlagKeys = map[string]string{
	"bin":                "remote.bin_id",
	"base-url":           "remote.base_url",
	"retries":            "remote.retries",
	"poll-interval":      "sync.poll_interval",
	"heartbeat-interval": "sync.heartbeat_interval",
	"jitter":             "sync.jitter",
	"local-dsn":          "local.dsn",
	"watch":              "local.watch",
	"addr":               "bridge.addr",
	"bridge":             "bridge.enabled",
	"metrics":            "metrics.enabled",
	"supervisor-alerts":  "notify.supervisor_alerts",
	"log-level":          "logger.level",
	"log-format":         "logger.format",
}

func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// A missing .env file is normal.
	_ = godotenv.Load(envFile)

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	_ = v.BindEnv("presence.static_lat")
	_ = v.BindEnv("presence.static_lon")

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if opts.Flags != nil {
		for name, key := range FlagKeys {
			flag := opts.Flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration with every default applied and nothing
// read from the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("remote.base_url", "https://jsonblob.com/api/jsonBlob")
	v.SetDefault("remote.timeout", "15s")
	v.SetDefault("remote.retries", 0)
	v.SetDefault("remote.save_method", "PUT")
	v.SetDefault("remote.bin_id", "")

	v.SetDefault("sync.poll_interval", "2s")
	v.SetDefault("sync.heartbeat_interval", "10s")
	v.SetDefault("sync.jitter", 0.0)
	v.SetDefault("sync.refresh_rate_limit", 1.0)
	v.SetDefault("sync.refresh_burst", 3)

	v.SetDefault("presence.online_window", "25s")
	v.SetDefault("presence.position_timeout", "5s")
	v.SetDefault("presence.geo_url", "")

	v.SetDefault("notify.supervisor_alerts", false)

	v.SetDefault("local.dsn", "file://.fieldsync/state.json")
	v.SetDefault("local.watch", true)

	v.SetDefault("bridge.enabled", true)
	v.SetDefault("bridge.addr", "127.0.0.1:8686")
	v.SetDefault("bridge.token", "")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.filename", "")
}

var validate = validator.New()

func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			first := fieldErrs[0]
			return fmt.Errorf("%s failed %q validation", first.Namespace(), first.Tag())
		}
		return err
	}
	if cfg.Bridge.Enabled && strings.TrimSpace(cfg.Bridge.Addr) == "" {
		return fmt.Errorf("bridge.addr is required when the bridge is enabled")
	}
	if cfg.Logger.Output == "file" && strings.TrimSpace(cfg.Logger.Filename) == "" {
		return fmt.Errorf("logger.filename is required when logger.output is file")
	}
	if cfg.Sync.HeartbeatInterval >= cfg.Presence.OnlineWindow {
		return fmt.Errorf("sync.heartbeat_interval (%s) must be shorter than presence.online_window (%s)",
			cfg.Sync.HeartbeatInterval, cfg.Presence.OnlineWindow)
	}
	return nil
}
