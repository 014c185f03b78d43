package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: JARVIS_TELEGRAM_TOKEN sets telegram.token.
const EnvPrefix = "JARVIS"

// GetConfigPath returns the default config file path (~/.jarvis/config.json).
func GetConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".jarvis", "config.json")
}

// Load reads configuration from path, or from config.{json,yaml} in the
// working directory or ~/.jarvis when path is empty. A missing file yields
// DefaultConfig(). Environment variables override both.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Dir(GetConfigPath()))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would only fail later at startup.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	switch c.Store.Conversations {
	case ConversationsSQL, ConversationsRedis:
	default:
		return fmt.Errorf("config: unknown conversation store %q", c.Store.Conversations)
	}
	if c.Dispatch.QueueSize <= 0 {
		return fmt.Errorf("config: dispatch.queueSize must be positive")
	}
	if cron := strings.TrimSpace(c.Dispatch.Checkpoint); cron != "" && !gronx.IsValid(cron) {
		return fmt.Errorf("config: invalid dispatch.checkpoint cron %q", cron)
	}
	if c.GC.MaxAge < c.GC.MinAge {
		return fmt.Errorf("config: gc.maxAge is shorter than gc.minAge")
	}
	return nil
}

// Save writes configuration to a JSON file.
// If path is empty, uses the default config path.
func Save(cfg Config, path string) error {
	if path == "" {
		path = GetConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// setDefaults registers every key so environment overrides apply to keys
// absent from the file.
func setDefaults(v *viper.Viper, d Config) {
	defaults := map[string]any{
		"app.name":   d.App.Name,
		"app.admins": d.App.Admins,

		"telegram.token":        d.Telegram.Token,
		"telegram.baseurl":      d.Telegram.BaseURL,
		"telegram.polltimeout":  d.Telegram.PollTimeout,
		"telegram.pollinterval": d.Telegram.PollInterval,
		"telegram.errorbackoff": d.Telegram.ErrorBackoff,
		"telegram.allowfrom":    d.Telegram.AllowFrom,

		"outbound.permits":     d.Outbound.Permits,
		"outbound.maxattempts": d.Outbound.MaxAttempts,
		"outbound.basedelay":   d.Outbound.BaseDelay,
		"outbound.maxdelay":    d.Outbound.MaxDelay,
		"outbound.ratelimit":   d.Outbound.RateLimit,
		"outbound.burst":       d.Outbound.Burst,

		"dispatch.queuesize":  d.Dispatch.QueueSize,
		"dispatch.idlesleep":  d.Dispatch.IdleSleep,
		"dispatch.checkpoint": d.Dispatch.Checkpoint,

		"store.driver":        d.Store.Driver,
		"store.dsn":           d.Store.DSN,
		"store.poolsize":      d.Store.PoolSize,
		"store.conversations": d.Store.Conversations,
		"store.commandsfile":  d.Store.CommandsFile,

		"redis.url":      d.Redis.URL,
		"redis.password": d.Redis.Password,
		"redis.db":       d.Redis.DB,

		"gc.minage":     d.GC.MinAge,
		"gc.maxage":     d.GC.MaxAge,
		"gc.keeplatest": d.GC.KeepLatest,

		"metrics.addr": d.Metrics.Addr,
		"log.debug":    d.Log.Debug,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}
