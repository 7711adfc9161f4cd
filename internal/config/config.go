package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RecorderConfig struct {
	Enabled         bool `yaml:"enabled"`
	QueueSize       int  `yaml:"queue_size"`
	FlushIntervalMs int  `yaml:"flush_interval_ms"`
	LogStore        bool `yaml:"log_store"`
}

func (r RecorderConfig) FlushInterval() time.Duration {
	return time.Duration(r.FlushIntervalMs) * time.Millisecond
}

type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type RedisConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	KeyPrefix    string `yaml:"key_prefix"`
	TradeHistory int    `yaml:"trade_history"`
}

type Config struct {
	Port              int            `yaml:"port"`
	LogLevel          string         `yaml:"log_level"`
	Exchange          string         `yaml:"exchange"`
	WSURL             string         `yaml:"ws_url"`
	Symbol            string         `yaml:"symbol"`
	RingCapacity      int            `yaml:"ring_capacity"`
	ImbalanceDepth    int            `yaml:"imbalance_depth"`
	MaxSnapshotLevels int            `yaml:"max_snapshot_levels"`
	FrameIntervalMs   int            `yaml:"frame_interval_ms"`
	Recorder          RecorderConfig `yaml:"recorder"`
	NATS              NATSConfig     `yaml:"nats"`
	Redis             RedisConfig    `yaml:"redis"`
}

func (c Config) FrameInterval() time.Duration {
	return time.Duration(c.FrameIntervalMs) * time.Millisecond
}

func defaults() Config {
	return Config{
		Port:              8086,
		LogLevel:          "info",
		Exchange:          "hyperliquid",
		WSURL:             "wss://api.hyperliquid.xyz/ws",
		Symbol:            "BTC",
		RingCapacity:      1024,
		ImbalanceDepth:    20,
		MaxSnapshotLevels: 1000,
		FrameIntervalMs:   100,
		Recorder: RecorderConfig{
			Enabled:         true,
			QueueSize:       4096,
			FlushIntervalMs: 1000,
			LogStore:        true,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "marketdata",
		},
		Redis: RedisConfig{
			Addr:         "127.0.0.1:6379",
			KeyPrefix:    "mp",
			TradeHistory: 1000,
		},
	}
}

// Load reads path over the defaults, then applies environment overrides
// (MP_WS_URL, MP_SYMBOL, NATS_URL, REDIS_ADDR, REDIS_PASSWORD).
func Load(path string) (Config, error) {
	cfg := defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyEnv(&cfg)
	return cfg, cfg.validate()
}

func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.WSURL, "MP_WS_URL")
	set(&cfg.Symbol, "MP_SYMBOL")
	set(&cfg.NATS.URL, "NATS_URL")
	set(&cfg.Redis.Addr, "REDIS_ADDR")
	set(&cfg.Redis.Password, "REDIS_PASSWORD")
}

func (c *Config) validate() error {
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	c.Exchange = strings.ToLower(strings.TrimSpace(c.Exchange))
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("invalid port")
	}
	if c.Symbol == "" {
		return errors.New("symbol is required")
	}
	if c.Exchange == "" {
		return errors.New("exchange is required")
	}
	if n := c.RingCapacity; n <= 0 || n&(n-1) != 0 {
		return errors.New("ring_capacity must be a power of two")
	}
	if c.ImbalanceDepth < 2 {
		return errors.New("imbalance_depth must be >=2")
	}
	if c.MaxSnapshotLevels < 1 {
		return errors.New("max_snapshot_levels must be >=1")
	}
	if c.FrameIntervalMs < 1 {
		return errors.New("frame_interval_ms must be >=1")
	}
	if c.Recorder.Enabled && (c.Recorder.QueueSize < 1 || c.Recorder.FlushIntervalMs < 1) {
		return errors.New("recorder queue_size and flush_interval_ms must be >=1")
	}
	return nil
}

func NewLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}
