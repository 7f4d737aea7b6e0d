package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"camo/internal/config"
	"camo/internal/domain/repositories"
	"camo/internal/repository/memory"
	"camo/internal/repository/mongo"
	"camo/internal/repository/postgres"
)

// Open connects the storage driver selected by DB_DRIVER. The returned
// func releases the connection and is never nil on success.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repositories.Backend, func(), error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("database connected", "driver", cfg.Driver)
		backend := postgres.NewBackend(&postgres.RepositoryConfig{
			Pool:   pool,
			Tables: postgres.NewTableNames(cfg.CollectionPrefix),
			Logger: logger,
		})
		return backend, pool.Close, nil

	case config.DriverMongo:
		client, err := mongo.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("database connected", "driver", cfg.Driver, "database", cfg.MongoDatabase)
		backend := mongo.NewBackend(client.Database(cfg.MongoDatabase), cfg.CollectionPrefix, logger)
		disconnect := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(ctx); err != nil {
				logger.Warn("mongo disconnect failed", "error", err)
			}
		}
		return backend, disconnect, nil

	case config.DriverMemory:
		logger.Warn("using in-memory storage, data is lost on restart")
		return memory.New(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
