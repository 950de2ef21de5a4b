// Package storage selects and connects the lobby store named in the config.
package storage

import (
	"context"
	"fmt"

	"github.com/sijeecodes/SaveTheShip/internal/cache"
	"github.com/sijeecodes/SaveTheShip/internal/config"
	"github.com/sijeecodes/SaveTheShip/internal/database"
	"github.com/sijeecodes/SaveTheShip/internal/store"
	"github.com/sirupsen/logrus"
)

// Open returns the configured lobby store and a function releasing its
// connections.
func Open(ctx context.Context, cfg config.Config, logger *logrus.Logger) (store.LobbyStore, func(), error) {
	switch cfg.LobbyStore {
	case "", "memory":
		logger.Info("using in-memory lobby store")
		return store.NewMemoryStore(), func() {}, nil

	case "redis":
		rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("addr", cfg.RedisAddr).Info("using redis lobby store")
		return cache.NewRedisLobbyStore(rdb), func() { _ = rdb.Close() }, nil

	case "postgres":
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		s := database.NewPostgresLobbyStore(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("using postgres lobby store")
		return s, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown LOBBY_STORE %q", cfg.LobbyStore)
}
