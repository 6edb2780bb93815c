package root

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/habitverse/habitverse-core/config"
	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/domain/shared"
	"github.com/habitverse/habitverse-core/internal/infrastructure/messaging"
	"github.com/habitverse/habitverse-core/internal/infrastructure/persistence/memory"
	"github.com/habitverse/habitverse-core/internal/infrastructure/persistence/postgres"
	redisrepo "github.com/habitverse/habitverse-core/internal/infrastructure/persistence/redis"
	"github.com/habitverse/habitverse-core/internal/interface/http/handlers"
	"github.com/habitverse/habitverse-core/pkg/circuitbreaker"
	"github.com/habitverse/habitverse-core/pkg/logger"
	"github.com/habitverse/habitverse-core/pkg/retry"
)

// errNoDatabase is returned by commands that only make sense against Postgres.
var errNoDatabase = errors.New("DATABASE_URL is not set")

// eventBus is what both bus implementations offer.
type eventBus interface {
	shared.EventBus
	Close() error
}

// infra is the wired infrastructure shared by the commands. Fields that depend
// on Redis fall back to in-process implementations when it is disabled.
type infra struct {
	cfg *config.Config
	log *logger.Logger

	// store - Postgres when DATABASE_URL is set, otherwise in-memory.
	store progress.Store
	conn  *postgres.Connection

	// redis - nil when REDIS_DISABLED is set.
	redis *redisrepo.Cache

	ledgerCache progress.LedgerCache
	locker      progress.Locker
	bus         eventBus

	health *handlers.CompositeHealthChecker

	closers []func()
}

func newLogger(cfg *config.Config, out io.Writer) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Output = out
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	if cfg.Observability.LogFormat != "" {
		opts.Format = cfg.Observability.LogFormat
	}
	return logger.New(opts).With(
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
	)
}

// openConnection connects to Postgres and applies pending migrations when
// AutoMigrate is on.
func openConnection(ctx context.Context, cfg *config.Config, log *logger.Logger, migrate bool) (*postgres.Connection, error) {
	if cfg.Database.UseMemory() {
		return nil, errNoDatabase
	}

	opts := postgres.DefaultOptions()
	if cfg.Database.MaxConns > 0 {
		opts.MaxConns = int32(cfg.Database.MaxConns)
	}
	if cfg.Database.MinConns > 0 {
		opts.MinConns = int32(cfg.Database.MinConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		opts.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	}
	if cfg.Database.ConnMaxIdleTime > 0 {
		opts.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	}

	var conn *postgres.Connection
	err := retry.StartupRetrier().Do(ctx, func(ctx context.Context) error {
		var err error
		conn, err = postgres.NewConnection(ctx, cfg.Database.URL, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if migrate {
		applied, err := postgres.NewMigrator(conn).Migrate(ctx)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		if applied > 0 {
			log.Info("migrations applied", logger.Int("count", applied))
		}
	}
	return conn, nil
}

// openInfra wires storage, cache, locking and the event bus. withRedis=false
// skips Redis even when it is configured, for one-shot commands.
func openInfra(ctx context.Context, cfg *config.Config, log *logger.Logger, withRedis bool) (*infra, error) {
	in := &infra{
		cfg:    cfg,
		log:    log,
		health: handlers.NewCompositeHealthChecker(cfg.App.Version),
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 1. Storage
	// ─────────────────────────────────────────────────────────────────────────

	if cfg.Database.UseMemory() {
		log.Warn("DATABASE_URL not set, progress is kept in memory only")
		in.store = memory.NewStore()
	} else {
		conn, err := openConnection(ctx, cfg, log, cfg.Database.AutoMigrate)
		if err != nil {
			return nil, err
		}
		in.conn = conn
		in.closers = append(in.closers, conn.Close)
		in.store = postgres.NewProgressStore(conn, postgres.StoreConfig{
			Location:     cfg.App.Location,
			QueryTimeout: cfg.Database.QueryTimeout,
		})
		in.health.AddCheck("database", handlers.NewDatabaseCheck(conn))
		log.Info("connected to PostgreSQL")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Redis: ledger cache, user lock, cross-instance events
	// ─────────────────────────────────────────────────────────────────────────

	localLocker := memory.NewLocker(cfg.Redis.LockWait)
	localBus := messaging.DefaultInMemoryEventBusConfig()
	localBus.Logger = log

	if withRedis && !cfg.Redis.Disabled {
		if err := in.openRedis(ctx, localLocker, localBus); err != nil {
			in.Close()
			return nil, err
		}
	} else {
		in.ledgerCache = memory.NewLedgerCache()
		in.locker = localLocker
		in.bus = messaging.NewInMemoryEventBus(localBus)
	}
	in.closers = append(in.closers, func() { _ = in.bus.Close() })

	return in, nil
}

func (in *infra) openRedis(ctx context.Context, localLocker progress.Locker, localBus messaging.InMemoryEventBusConfig) error {
	cfg := in.cfg

	rc := redisrepo.DefaultConfig()
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	if cfg.Redis.PoolSize > 0 {
		rc.PoolSize = cfg.Redis.PoolSize
	}
	if cfg.Redis.MinIdleConns > 0 {
		rc.MinIdleConns = cfg.Redis.MinIdleConns
	}
	if cfg.Redis.DialTimeout > 0 {
		rc.DialTimeout = cfg.Redis.DialTimeout
	}
	if cfg.Redis.ReadTimeout > 0 {
		rc.ReadTimeout = cfg.Redis.ReadTimeout
	}
	if cfg.Redis.WriteTimeout > 0 {
		rc.WriteTimeout = cfg.Redis.WriteTimeout
	}

	var cache *redisrepo.Cache
	err := retry.StartupRetrier().Do(ctx, func(ctx context.Context) error {
		var err error
		cache, err = redisrepo.NewCache(ctx, rc)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	in.redis = cache
	in.closers = append(in.closers, func() { _ = cache.Close() })
	in.health.AddCheck("redis", handlers.NewCacheCheck(cache))

	breaker := redisrepo.NewLedgerCacheBreaker(cfg.Redis.BreakerCooldown, func(name string, from, to circuitbreaker.State) {
		in.log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	})
	in.ledgerCache = redisrepo.NewLedgerCache(cache).WithBreaker(breaker)
	// The local lock queues writers of this instance before they poll Redis.
	in.locker = progress.ChainLockers(localLocker, redisrepo.NewUserLocker(cache, redisrepo.LockConfig{
		TTL:  cfg.Redis.LockTTL,
		Wait: cfg.Redis.LockWait,
	}, in.log))

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         messaging.NewGoRedisClient(cache.Client()),
		ChannelName:    cfg.Redis.EventChannel,
		InstanceID:     cfg.App.InstanceID,
		LocalBusConfig: localBus,
		Logger:         in.log,
	})
	if err != nil {
		return fmt.Errorf("failed to start redis event bus: %w", err)
	}
	in.bus = bus

	in.log.Info("connected to Redis", logger.String("addr", rc.Addr()))
	return nil
}

// Close releases everything in reverse order of acquisition.
func (in *infra) Close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		in.closers[i]()
	}
	in.closers = nil
}
