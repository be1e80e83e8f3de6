package config

import (
	"time"

	"github.com/spf13/viper"
)

type AppCfg struct {
	Env         string `mapstructure:"env"`
	LogLevel    string `mapstructure:"log_level"`
	AccessToken string `mapstructure:"access_token"`
	JWTSecret   string `mapstructure:"jwt_secret"`
}

type SocketCfg struct {
	URL                        string `mapstructure:"url"`
	PingIntervalSeconds        int    `mapstructure:"ping_interval_seconds"`
	ReconnectMaxElapsedSeconds int    `mapstructure:"reconnect_max_elapsed_seconds"`
}

type APICfg struct {
	BaseURL                string `mapstructure:"base_url"`
	TimeoutSeconds         int    `mapstructure:"timeout_seconds"`
	RetryMaxElapsedSeconds int    `mapstructure:"retry_max_elapsed_seconds"`
	BreakerMaxFailures     uint32 `mapstructure:"breaker_max_failures"`
	BreakerTimeoutSeconds  int    `mapstructure:"breaker_timeout_seconds"`
}

type ChatCfg struct {
	TypingTTLSeconds        int `mapstructure:"typing_ttl_seconds"`
	TypingSignalsPerMinute  int `mapstructure:"typing_signals_per_minute"`
	HistoryPageSize         int `mapstructure:"history_page_size"`
	SendRetryElapsedSeconds int `mapstructure:"send_retry_elapsed_seconds"`
	SendAckTimeoutSeconds   int `mapstructure:"send_ack_timeout_seconds"`
}

type Config struct {
	App    AppCfg    `mapstructure:"app"`
	Socket SocketCfg `mapstructure:"socket"`
	API    APICfg    `mapstructure:"api"`
	Chat   ChatCfg   `mapstructure:"chat"`
	// Derived
	PingInterval        time.Duration
	ReconnectMaxElapsed time.Duration
	APITimeout          time.Duration
	RetryMaxElapsed     time.Duration
	BreakerTimeout      time.Duration
	TypingTTL           time.Duration
	SendRetryElapsed    time.Duration
	SendAckTimeout      time.Duration
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvPrefix("CHAT")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// sensible defaults
	if cfg.Socket.PingIntervalSeconds == 0 {
		cfg.Socket.PingIntervalSeconds = 30
	}
	if cfg.Socket.ReconnectMaxElapsedSeconds == 0 {
		cfg.Socket.ReconnectMaxElapsedSeconds = 120
	}
	if cfg.API.TimeoutSeconds == 0 {
		cfg.API.TimeoutSeconds = 10
	}
	if cfg.API.RetryMaxElapsedSeconds == 0 {
		cfg.API.RetryMaxElapsedSeconds = 15
	}
	if cfg.API.BreakerMaxFailures == 0 {
		cfg.API.BreakerMaxFailures = 5
	}
	if cfg.API.BreakerTimeoutSeconds == 0 {
		cfg.API.BreakerTimeoutSeconds = 30
	}
	if cfg.Chat.TypingTTLSeconds == 0 {
		cfg.Chat.TypingTTLSeconds = 4
	}
	if cfg.Chat.TypingSignalsPerMinute == 0 {
		cfg.Chat.TypingSignalsPerMinute = 20
	}
	if cfg.Chat.HistoryPageSize == 0 {
		cfg.Chat.HistoryPageSize = 50
	}
	if cfg.Chat.SendRetryElapsedSeconds == 0 {
		cfg.Chat.SendRetryElapsedSeconds = 10
	}
	if cfg.Chat.SendAckTimeoutSeconds == 0 {
		cfg.Chat.SendAckTimeoutSeconds = 15
	}

	cfg.PingInterval = time.Duration(cfg.Socket.PingIntervalSeconds) * time.Second
	cfg.ReconnectMaxElapsed = time.Duration(cfg.Socket.ReconnectMaxElapsedSeconds) * time.Second
	cfg.APITimeout = time.Duration(cfg.API.TimeoutSeconds) * time.Second
	cfg.RetryMaxElapsed = time.Duration(cfg.API.RetryMaxElapsedSeconds) * time.Second
	cfg.BreakerTimeout = time.Duration(cfg.API.BreakerTimeoutSeconds) * time.Second
	cfg.TypingTTL = time.Duration(cfg.Chat.TypingTTLSeconds) * time.Second
	cfg.SendRetryElapsed = time.Duration(cfg.Chat.SendRetryElapsedSeconds) * time.Second
	cfg.SendAckTimeout = time.Duration(cfg.Chat.SendAckTimeoutSeconds) * time.Second
	return &cfg, nil
}
