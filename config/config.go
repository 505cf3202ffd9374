package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gookit/config/v2"
	"github.com/gookit/config/v2/yaml"
)

const (
	DriverTables = "tables"
	DriverSQLite = "sqlite"
)

type Storage struct {
	Driver           string `config:"driver"`
	ConnectionString string `config:"connection_string"`
	TodosTable       string `config:"todos_table"`
	SQLitePath       string `config:"sqlite_path"`
	ChangeQueue      string `config:"change_queue"`
}

type Redis struct {
	ConnectionString string `config:"connection_string"`
	ChannelPrefix    string `config:"channel_prefix"`
	CacheTTL         string `config:"cache_ttl"`
	DeduperTTL       string `config:"deduper_ttl"`
}

type Config struct {
	Debug         bool    `config:"debug"`
	ListenAddr    string  `config:"listen_addr"`
	RawSessionTTL string  `config:"session_ttl"`
	MaxSessions   int     `config:"max_sessions"`
	Storage       Storage `config:"storage"`
	Redis         Redis   `config:"redis"`

	cacheTTL   time.Duration
	deduperTTL time.Duration
	sessionTTL time.Duration
}

var defaults = map[string]any{
	"debug":        false,
	"listen_addr":  ":8080",
	"session_ttl":  "30m",
	"max_sessions": 1000,
	"storage": map[string]any{
		"driver":      DriverSQLite,
		"todos_table": "todos",
		"sqlite_path": "todos.db",
	},
	"redis": map[string]any{
		"channel_prefix": "changes",
		"cache_ttl":      "5m",
		"deduper_ttl":    "24h",
	},
}

var envKeys = map[string]string{
	"DEBUG":                     "debug",
	"LISTEN_ADDR":               "listen_addr",
	"SESSION_TTL":               "session_ttl",
	"MAX_SESSIONS":              "max_sessions",
	"STORAGE_DRIVER":            "storage.driver",
	"STORAGE_CONNECTION_STRING": "storage.connection_string",
	"TODOS_TABLE":               "storage.todos_table",
	"SQLITE_PATH":               "storage.sqlite_path",
	"CHANGE_QUEUE":              "storage.change_queue",
	"REDIS_CONNECTION_STRING":   "redis.connection_string",
	"CHANGES_CHANNEL_PREFIX":    "redis.channel_prefix",
	"CACHE_TTL":                 "redis.cache_ttl",
	"DEDUPER_TTL":               "redis.deduper_ttl",
}

// Load reads built-in defaults, then config.yml and config.local.yml from dir
// when present, then the environment. An empty dir falls back to
// TODO_CONFIG_DIR.
func Load(dir string) (*Config, error) {
	if dir == "" {
		dir = os.Getenv("TODO_CONFIG_DIR")
	}

	c := config.NewWithOptions("todo", func(opt *config.Options) {
		opt.ParseEnv = true
		opt.DecoderConfig.TagName = "config"
		opt.DecoderConfig.WeaklyTypedInput = true
	})
	c.AddDriver(yaml.Driver)

	if err := c.LoadData(defaults); err != nil {
		return nil, err
	}
	if err := c.LoadExists(filepath.Join(dir, "config.yml"), filepath.Join(dir, "config.local.yml")); err != nil {
		return nil, err
	}
	c.LoadOSEnvs(envKeys)

	var cfg Config
	if err := c.BindStruct("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("missing sqlite path")
		}
	case DriverTables:
		if c.Storage.ConnectionString == "" || c.Storage.TodosTable == "" {
			return fmt.Errorf("missing storage config")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("invalid MAX_SESSIONS: must be greater than zero")
	}
	if c.Storage.ChangeQueue != "" && c.Storage.ConnectionString == "" {
		return fmt.Errorf("change queue %q needs a storage connection string", c.Storage.ChangeQueue)
	}

	var err error
	if c.cacheTTL, err = parseTTL("CACHE_TTL", c.Redis.CacheTTL, true); err != nil {
		return err
	}
	if c.deduperTTL, err = parseTTL("DEDUPER_TTL", c.Redis.DeduperTTL, false); err != nil {
		return err
	}
	if c.sessionTTL, err = parseTTL("SESSION_TTL", c.RawSessionTTL, false); err != nil {
		return err
	}
	return nil
}

func parseTTL(name, v string, zeroOK bool) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d < 0 || (d == 0 && !zeroOK) {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", name)
	}
	return d, nil
}

// CacheTTL is how long list reads stay cached in Redis. Zero disables caching.
func (c *Config) CacheTTL() time.Duration { return c.cacheTTL }

func (c *Config) DeduperTTL() time.Duration { return c.deduperTTL }

// SessionTTL is how long an idle browser session keeps its live feed.
func (c *Config) SessionTTL() time.Duration { return c.sessionTTL }

// RedisEnabled reports whether a Redis connection is configured.
func (c *Config) RedisEnabled() bool { return c.Redis.ConnectionString != "" }
