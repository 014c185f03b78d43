// Package config handles configuration loading, saving, and schema definition.
package config

import (
	"time"

	"github.com/Bagheerabaloo/jarvis/internal/redis"
)

// Config is the top-level jarvis configuration.
// Uses json tags in camelCase to match the JSON config file format.
type Config struct {
	App      AppConfig      `json:"app" mapstructure:"app"`
	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`
	Outbound OutboundConfig `json:"outbound" mapstructure:"outbound"`
	Dispatch DispatchConfig `json:"dispatch" mapstructure:"dispatch"`
	Store    StoreConfig    `json:"store" mapstructure:"store"`
	Redis    redis.Config   `json:"redis" mapstructure:"redis"`
	GC       GCConfig       `json:"gc" mapstructure:"gc"`
	Metrics  MetricsConfig  `json:"metrics" mapstructure:"metrics"`
	Log      LogConfig      `json:"log" mapstructure:"log"`
}

// AppConfig names the bot and its admins.
type AppConfig struct {
	Name string `json:"name" mapstructure:"name"`
	// Admins are user ids made admin when they first send /start.
	Admins []int64 `json:"admins,omitempty" mapstructure:"admins"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token   string `json:"token" mapstructure:"token"`
	BaseURL string `json:"baseUrl,omitempty" mapstructure:"baseurl"`
	// PollTimeout is the getUpdates long-poll timeout in seconds.
	PollTimeout  int           `json:"pollTimeout" mapstructure:"polltimeout"`
	PollInterval time.Duration `json:"pollInterval" mapstructure:"pollinterval"`
	ErrorBackoff time.Duration `json:"errorBackoff" mapstructure:"errorbackoff"`
	AllowFrom    []string      `json:"allowFrom,omitempty" mapstructure:"allowfrom"`
}

// OutboundConfig tunes delivery.
type OutboundConfig struct {
	Permits     int           `json:"permits" mapstructure:"permits"`
	MaxAttempts int           `json:"maxAttempts" mapstructure:"maxattempts"`
	BaseDelay   time.Duration `json:"baseDelay" mapstructure:"basedelay"`
	MaxDelay    time.Duration `json:"maxDelay" mapstructure:"maxdelay"`
	// RateLimit is the steady number of calls per second, 0 for none.
	RateLimit float64 `json:"rateLimit,omitempty" mapstructure:"ratelimit"`
	Burst     int     `json:"burst,omitempty" mapstructure:"burst"`
}

// DispatchConfig tunes the dispatch loop.
type DispatchConfig struct {
	QueueSize int           `json:"queueSize" mapstructure:"queuesize"`
	IdleSleep time.Duration `json:"idleSleep" mapstructure:"idlesleep"`
	// Checkpoint is a cron expression for periodic flushes, empty to disable.
	Checkpoint string `json:"checkpoint,omitempty" mapstructure:"checkpoint"`
}

// Conversation backends.
const (
	ConversationsSQL   = "sql"
	ConversationsRedis = "redis"
)

// StoreConfig selects the persistence backends.
type StoreConfig struct {
	// Driver is postgres, mysql or sqlite.
	Driver   string `json:"driver" mapstructure:"driver"`
	DSN      string `json:"dsn" mapstructure:"dsn"`
	PoolSize int    `json:"poolSize" mapstructure:"poolsize"`
	// Conversations is "sql" to keep conversations next to users, or "redis".
	Conversations string `json:"conversations" mapstructure:"conversations"`
	CommandsFile  string `json:"commandsFile,omitempty" mapstructure:"commandsfile"`
}

// GCConfig is the startup garbage collection policy.
type GCConfig struct {
	MinAge     time.Duration `json:"minAge" mapstructure:"minage"`
	MaxAge     time.Duration `json:"maxAge" mapstructure:"maxage"`
	KeepLatest int           `json:"keepLatest" mapstructure:"keeplatest"`
}

// MetricsConfig holds the prometheus listener.
type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `json:"addr,omitempty" mapstructure:"addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Debug bool `json:"debug" mapstructure:"debug"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		App: AppConfig{Name: "jarvis"},
		Telegram: TelegramConfig{
			PollTimeout:  30,
			PollInterval: time.Second,
			ErrorBackoff: 5 * time.Second,
		},
		Outbound: OutboundConfig{
			Permits:     5,
			MaxAttempts: 7,
			BaseDelay:   1200 * time.Millisecond,
			MaxDelay:    time.Minute,
		},
		Dispatch: DispatchConfig{
			QueueSize: 1024,
			IdleSleep: 50 * time.Millisecond,
		},
		Store: StoreConfig{
			Driver:        "postgres",
			PoolSize:      10,
			Conversations: ConversationsSQL,
			CommandsFile:  "commands.yaml",
		},
		Redis: redis.Config{URL: "redis://localhost:6379"},
		GC: GCConfig{
			MinAge:     time.Hour,
			MaxAge:     7 * 24 * time.Hour,
			KeepLatest: 10,
		},
	}
}
