package cmd

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"todo-app/config"
	"todo-app/domain"
	"todo-app/storage"
)

// app holds the wired store plus the optional redis client shared with the
// api deduper.
type app struct {
	store *storage.Client
	redis *redis.Client
}

func openApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*app, error) {
	var backend storage.Backend
	switch cfg.Storage.Driver {
	case config.DriverTables:
		t, err := storage.NewTables(cfg.Storage.ConnectionString)
		if err != nil {
			return nil, fmt.Errorf("tables: %w", err)
		}
		backend = t.MapTable(domain.Collection, cfg.Storage.TodosTable)
	default:
		db, err := storage.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		backend = db
	}

	opts := []storage.Option{storage.WithLogger(logger)}
	a := &app{}
	if cfg.RedisEnabled() {
		rc := redis.NewClient(storage.ParseRedisOptions(cfg.Redis.ConnectionString))
		if err := rc.Ping(ctx).Err(); err != nil {
			rc.Close()
			backend.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		if ttl := cfg.CacheTTL(); ttl > 0 {
			opts = append(opts, storage.WithCache(storage.NewCache(backend, rc, ttl)))
		}
		opts = append(opts,
			storage.WithNotifier(storage.NewRedisNotifier(rc, cfg.Redis.ChannelPrefix, logger)),
			storage.WithCloser(rc),
		)
		a.redis = rc
	}
	if cfg.Storage.ChangeQueue != "" {
		sink, err := storage.NewQueueSink(cfg.Storage.ConnectionString, cfg.Storage.ChangeQueue)
		if err != nil {
			backend.Close()
			if a.redis != nil {
				a.redis.Close()
			}
			return nil, fmt.Errorf("queue: %w", err)
		}
		opts = append(opts, storage.WithEventSink(sink))
	}

	a.store = storage.New(backend, opts...)
	logger.WithFields(log.Fields{
		"driver": cfg.Storage.Driver,
		"redis":  cfg.RedisEnabled(),
		"queue":  cfg.Storage.ChangeQueue,
	}).Info("storage ready")
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
