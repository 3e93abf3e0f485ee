package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lisuiheng/booking-notify/logger"
	"github.com/lisuiheng/booking-notify/utils"
)

const envPrefix = "BOOKING_NOTIFY"

// Config 是客户端配置结构（已调整为匹配YAML文件的结构）
type Config struct {
	Realtime RealtimeConfig `mapstructure:"realtime"`

	Auth struct {
		TokenFile string `mapstructure:"token_file"`
	} `mapstructure:"auth"`

	Identity struct {
		SubjectID string `mapstructure:"subject_id"`
		Role      string `mapstructure:"role"`
	} `mapstructure:"identity"`

	Logging logger.Config `mapstructure:"logging"`
}

type RealtimeConfig struct {
	// WSURL is the WebSocket origin; http(s) origins are mapped to ws(s).
	WSURL            string          `mapstructure:"ws_url"`
	HandshakeTimeout time.Duration   `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration   `mapstructure:"write_timeout"`
	PingInterval     time.Duration   `mapstructure:"ping_interval"`
	Reconnect        ReconnectConfig `mapstructure:"reconnect"`
}

type ReconnectConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// Default values for optional configuration fields.
const (
	DefaultWSURL            = "ws://localhost:8000"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultRole             = "customer"
)

func defaults() map[string]any {
	return map[string]any{
		"realtime.ws_url":                 DefaultWSURL,
		"realtime.handshake_timeout":      DefaultHandshakeTimeout,
		"realtime.write_timeout":          DefaultWriteTimeout,
		"realtime.ping_interval":          time.Duration(0),
		"realtime.reconnect.base_delay":   utils.DefaultBaseDelay,
		"realtime.reconnect.max_delay":    utils.DefaultMaxDelay,
		"realtime.reconnect.max_attempts": utils.DefaultMaxAttempts,
		"auth.token_file":                 "",
		"identity.subject_id":             "",
		"identity.role":                   DefaultRole,
		"logging.level":                   "info",
		"logging.format":                  "text",
		"logging.outputs":                 []string{"stdout"},
	}
}

// LoadConfig reads YAML config from configPath, or searches the default
// locations when it is empty. Environment variables prefixed BOOKING_NOTIFY_
// override file values (realtime.ws_url -> BOOKING_NOTIFY_REALTIME_WS_URL).
func LoadConfig(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	for key, val := range defaults() {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/booking-notify")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	// viper already supplied every default, so zero values here were set
	// explicitly and are validated as written
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills zero values, for configs built in code. A zero
// MaxAttempts means the default there; LoadConfig rejects an explicit 0.
func (c *Config) ApplyDefaults() {
	if c.Realtime.WSURL == "" {
		c.Realtime.WSURL = DefaultWSURL
	}
	if c.Realtime.HandshakeTimeout == 0 {
		c.Realtime.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Realtime.WriteTimeout == 0 {
		c.Realtime.WriteTimeout = DefaultWriteTimeout
	}
	if c.Realtime.Reconnect.BaseDelay == 0 {
		c.Realtime.Reconnect.BaseDelay = utils.DefaultBaseDelay
	}
	if c.Realtime.Reconnect.MaxDelay == 0 {
		c.Realtime.Reconnect.MaxDelay = utils.DefaultMaxDelay
	}
	if c.Realtime.Reconnect.MaxAttempts == 0 {
		c.Realtime.Reconnect.MaxAttempts = utils.DefaultMaxAttempts
	}
	if c.Identity.Role == "" {
		c.Identity.Role = DefaultRole
	}
}

func (c *Config) Validate() error {
	if _, err := ResolveBase(c.Realtime.WSURL); err != nil {
		return fmt.Errorf("realtime.ws_url: %w", err)
	}
	if c.Realtime.HandshakeTimeout < 0 {
		return errors.New("realtime.handshake_timeout must be >= 0")
	}
	if c.Realtime.PingInterval < 0 {
		return errors.New("realtime.ping_interval must be >= 0")
	}
	r := c.Realtime.Reconnect
	if r.BaseDelay < 0 || r.MaxDelay < 0 {
		return errors.New("realtime.reconnect delays must be >= 0")
	}
	if r.MaxDelay < r.BaseDelay {
		return fmt.Errorf("realtime.reconnect.max_delay (%s) cannot be below base_delay (%s)", r.MaxDelay, r.BaseDelay)
	}
	if r.MaxAttempts < 1 {
		return errors.New("realtime.reconnect.max_attempts must be >= 1")
	}
	return nil
}
