package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"github.com/floratech/rose-counter/internal/archive"
	"github.com/floratech/rose-counter/internal/detector"
	"github.com/floratech/rose-counter/internal/tracking"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const connectivityCheckTimeout = 5 * time.Second

// Stores bundles the backend pair selected at startup. Session state and
// persistent counters always come from the same backend; mixing them
// would split the view of the world between workers.
type Stores struct {
	Sessions tracking.SessionStore
	Counters tracking.CounterStore
	Backend  string
}

func ProvideStores(cfg *Config, redisClient *redis.Client, logger *slog.Logger) *Stores {
	if cfg.SessionBackend == "redis" {
		ctx, cancel := context.WithTimeout(context.Background(), connectivityCheckTimeout)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, falling back to in-process session state",
				"addr", cfg.RedisAddr, "error", err)
		} else {
			logger.Info("using redis session state", "addr", cfg.RedisAddr)
			return &Stores{
				Sessions: tracking.NewRedisSessionStore(redisClient, cfg.SessionTTL),
				Counters: tracking.NewRedisCounterStore(redisClient),
				Backend:  "redis",
			}
		}
	}

	logger.Info("using in-process session state")
	return &Stores{
		Sessions: tracking.NewMemorySessionStore(cfg.SessionTTL),
		Counters: tracking.NewMemoryCounterStore(),
		Backend:  "memory",
	}
}

func ProvideArchiveStore(db *gorm.DB, logger *slog.Logger) (*archive.Store, error) {
	if db == nil {
		logger.Info("session archive disabled, no database configured")
		return nil, nil
	}

	store := archive.NewStore(db)
	if err := store.Migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func ProvideCoordinator(
	cfg *Config,
	stores *Stores,
	tracker detector.Tracker,
	archiveStore *archive.Store,
	logger *slog.Logger,
) *tracking.Coordinator {
	var archiver tracking.Archiver
	if archiveStore != nil {
		archiver = archiveStore
	}
	return tracking.NewCoordinator(
		stores.Sessions,
		stores.Counters,
		tracker,
		archiver,
		cfg.CountUpdateInterval,
		logger,
	)
}

var StoresModule = fx.Options(
	fx.Provide(
		ProvideStores,
		ProvideArchiveStore,
		ProvideCoordinator,
	),
)
