package configflow

import (
	"context"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xzhHas/configflow/internal/bus"
	"github.com/xzhHas/configflow/internal/category"
	"github.com/xzhHas/configflow/internal/changefeed"
	"github.com/xzhHas/configflow/internal/checkpoint"
	"github.com/xzhHas/configflow/internal/metrics"
	"github.com/xzhHas/configflow/types"
)

// LoadConfig reads a TOML file, applies CONFIGFLOW_* environment overrides and
// defaults, and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg, err := readConfig(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConsumerConfig is LoadConfig for processes that only read the bus; feed,
// checkpoint and collection settings may be absent.
func LoadConsumerConfig(path string) (Config, error) {
	cfg, err := readConfig(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ValidateBus(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
	}
	applyEnv(&cfg, os.LookupEnv)
	cfg.SetDefaults()
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(name string, dst *string) {
		if v, ok := lookup("CONFIGFLOW_" + name); ok && v != "" {
			*dst = v
		}
	}
	set("MONGO_URI", &cfg.Mongo.URI)
	set("MONGO_DATABASE", &cfg.Mongo.Database)
	set("MYSQL_ADDR", &cfg.MySQL.Addr)
	set("MYSQL_USER", &cfg.MySQL.User)
	set("MYSQL_PASSWORD", &cfg.MySQL.Password)
	set("REDIS_ADDR", &cfg.Redis.Addr)
	set("REDIS_PASSWORD", &cfg.Redis.Password)
	set("BUS_URL", &cfg.Bus.URL)
	set("BUS_TOPIC", &cfg.Bus.Topic)
	set("TENANT_ID", &cfg.TenantID)
	if v, ok := lookup("CONFIGFLOW_BUS_BROKERS"); ok && v != "" {
		cfg.Bus.Brokers = strings.Split(v, ",")
	}
}

// Open validates the category mapping, connects every collaborator named by
// cfg and returns a bridge ready to Start. reg may be nil.
func Open(ctx context.Context, cfg Config, logger *zap.Logger, reg prometheus.Registerer) (*Bridge, error) {
	resolver, err := category.FromConfig(cfg)
	if err != nil {
		return nil, err
	}

	var tenant uuid.UUID
	if cfg.TenantID != "" {
		if tenant, err = uuid.Parse(cfg.TenantID); err != nil {
			return nil, errors.Wrap(err, "tenant_id")
		}
	}

	feed, err := openFeed(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var store checkpoint.Store
	switch cfg.Checkpoint.Driver {
	case types.CheckpointFile:
		store = checkpoint.NewFileStore(cfg.Checkpoint.Path, feed.ValidateToken, logger)
	default:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = checkpoint.NewRedisStore(client, cfg.Checkpoint.Key, feed.ValidateToken, logger)
	}

	pub, err := bus.Open(cfg.Bus, logger)
	if err != nil {
		_ = feed.Close(ctx)
		_ = store.Close()
		return nil, errors.Wrapf(err, "open %s publisher", cfg.Bus.Driver)
	}

	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}
	return New(Options{
		Feed:       feed,
		Checkpoint: store,
		Publisher:  pub,
		Resolver:   resolver,
		TenantID:   tenant,
		Logger:     logger,
		Metrics:    m,
	})
}

func openFeed(ctx context.Context, cfg Config, logger *zap.Logger) (changefeed.Feed, error) {
	switch cfg.Feed {
	case types.FeedBinlog:
		return changefeed.NewBinlogFeed(changefeed.BinlogConfig{
			Addr:     cfg.MySQL.Addr,
			User:     cfg.MySQL.User,
			Password: cfg.MySQL.Password,
			Flavor:   cfg.MySQL.Flavor,
			Schema:   cfg.MySQL.Schema,
			KeyField: cfg.MySQL.KeyField,
			ServerID: cfg.MySQL.ServerID,
		}, logger), nil
	default:
		return changefeed.NewMongoFeed(ctx, cfg.Mongo.URI, cfg.Mongo.Database, logger)
	}
}
