package types

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// FeedDriver selects the change feed backend.
type FeedDriver string

const (
	FeedMongo  FeedDriver = "mongo"
	FeedBinlog FeedDriver = "binlog"
)

// CheckpointDriver selects where the resume token is kept.
type CheckpointDriver string

const (
	CheckpointRedis CheckpointDriver = "redis"
	CheckpointFile  CheckpointDriver = "file"
)

// DefaultCheckpointKey is the single key the resume token is stored under.
const DefaultCheckpointKey = "ConfigurationChangeResumeToken"

// ErrConfigMissing is returned when a required setting is absent.
var ErrConfigMissing = errors.New("required configuration missing")

// MissingConfigError names every absent required setting.
type MissingConfigError struct {
	Keys []string
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfigMissing, strings.Join(e.Keys, ", "))
}

func (e *MissingConfigError) Is(target error) bool { return target == ErrConfigMissing }

// MongoConfig describes the watched document store.
type MongoConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

// MySQLConfig describes a binlog source. Collections are table names inside Schema.
type MySQLConfig struct {
	Addr     string `toml:"addr"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Flavor   string `toml:"flavor"`
	Schema   string `toml:"schema"`
	ServerID uint32 `toml:"server_id"`
	KeyField string `toml:"key_field"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// CheckpointConfig
// - Driver: redis (default) or file
// - Key: redis key holding the token
// - Path: file holding the token when Driver is file
type CheckpointConfig struct {
	Driver CheckpointDriver `toml:"driver"`
	Key    string           `toml:"key"`
	Path   string           `toml:"path"`
}

// BusConfig describes the message bus updates are published to.
// Brokers is used by kafka, URL/Exchange/RoutingKey by amqp, URL by nats.
type BusConfig struct {
	Driver       string   `toml:"driver"`
	Topic        string   `toml:"topic"`
	Brokers      []string `toml:"brokers"`
	URL          string   `toml:"url"`
	Exchange     string   `toml:"exchange"`
	RoutingKey   string   `toml:"routing_key"`
	Queue        string   `toml:"queue"`
	TimeoutMS    int      `toml:"timeout_ms"`
	ConsumeGroup string   `toml:"consume_group"`
}

type LoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"` // "json" or "console"
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
}

// Config is the whole bridge configuration.
// - WatchCollections: logical collection names to monitor
// - Collections: logical name -> physical collection name
// - TenantID: optional tenant stamped on every published envelope
type Config struct {
	WatchCollections []string          `toml:"watch_collections"`
	Collections      map[string]string `toml:"collections"`
	TenantID         string            `toml:"tenant_id"`
	Feed             FeedDriver        `toml:"feed"`

	Mongo      MongoConfig      `toml:"mongo"`
	MySQL      MySQLConfig      `toml:"mysql"`
	Redis      RedisConfig      `toml:"redis"`
	Checkpoint CheckpointConfig `toml:"checkpoint"`
	Bus        BusConfig        `toml:"bus"`
	Logging    LoggingConfig    `toml:"logging"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

// SetDefaults fills optional settings that were left empty.
func (c *Config) SetDefaults() {
	if c.Feed == "" {
		c.Feed = FeedMongo
	}
	if c.Checkpoint.Driver == "" {
		c.Checkpoint.Driver = CheckpointRedis
	}
	if c.Checkpoint.Key == "" {
		c.Checkpoint.Key = DefaultCheckpointKey
	}
	if c.Checkpoint.Path == "" {
		c.Checkpoint.Path = "configflow.checkpoint"
	}
	if c.Bus.Driver == "" {
		c.Bus.Driver = "kafka"
	}
	if c.Bus.TimeoutMS <= 0 {
		c.Bus.TimeoutMS = 10000
	}
	if c.MySQL.Flavor == "" {
		c.MySQL.Flavor = "mysql"
	}
	if c.MySQL.KeyField == "" {
		c.MySQL.KeyField = "id"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9102"
	}
}

// Validate reports every required setting that is absent.
func (c *Config) Validate() error {
	var missing []string
	need := func(ok bool, key string) {
		if !ok {
			missing = append(missing, key)
		}
	}

	need(len(c.WatchCollections) > 0, "watch_collections")
	for _, name := range c.WatchCollections {
		need(c.Collections[name] != "", "collections."+name)
	}
	missing = append(missing, c.Bus.missing()...)

	switch c.Feed {
	case FeedMongo:
		need(c.Mongo.URI != "", "mongo.uri")
		need(c.Mongo.Database != "", "mongo.database")
	case FeedBinlog:
		need(c.MySQL.Addr != "", "mysql.addr")
		need(c.MySQL.User != "", "mysql.user")
		need(c.MySQL.Schema != "", "mysql.schema")
	default:
		return errors.Errorf("unknown feed driver %q", c.Feed)
	}

	switch c.Checkpoint.Driver {
	case CheckpointRedis:
		need(c.Redis.Addr != "", "redis.addr")
	case CheckpointFile:
		need(c.Checkpoint.Path != "", "checkpoint.path")
	default:
		return errors.Errorf("unknown checkpoint driver %q", c.Checkpoint.Driver)
	}

	return missingError(missing)
}

// ValidateBus checks only the settings a bus consumer needs.
func (c *Config) ValidateBus() error {
	return missingError(c.Bus.missing())
}

func (b BusConfig) missing() []string {
	var missing []string
	if b.Topic == "" {
		missing = append(missing, "bus.topic")
	}
	switch b.Driver {
	case "kafka":
		if len(b.Brokers) == 0 {
			missing = append(missing, "bus.brokers")
		}
	case "amqp", "nats":
		if b.URL == "" {
			missing = append(missing, "bus.url")
		}
	}
	return missing
}

func missingError(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &MissingConfigError{Keys: missing}
}

// WatchedCollections resolves the logical watch list to physical collection names.
func (c *Config) WatchedCollections() []string {
	out := make([]string, 0, len(c.WatchCollections))
	for _, name := range c.WatchCollections {
		out = append(out, c.Collections[name])
	}
	return out
}
