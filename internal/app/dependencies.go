package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orders/internal/health"
	"github.com/vladislavdragonenkov/orders/internal/seed"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
	"github.com/vladislavdragonenkov/orders/internal/storage/postgres"
	"github.com/vladislavdragonenkov/orders/internal/storage/redisstore"
)

// runtimeDependencies содержит адаптеры хранилищ, выбранные конфигурацией.
type runtimeDependencies struct {
	customers domain.CustomerDirectory
	products  domain.ProductCatalog
	orders    domain.OrderStore
	query     domain.OrderQuery
	uow       domain.UnitOfWork
	outbox    domain.OutboxRepository

	idempotency domain.IdempotencyRepository
	// idempotencyExpires: хранилище ключей само удаляет их по TTL.
	idempotencyExpires bool

	checkers map[string]healthcheck.Checker
	closers  []func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}

	switch cfg.StorageDriver {
	case StorageDriverMemory:
		if err := deps.useMemory(ctx, cfg, logger); err != nil {
			return nil, err
		}
	case StorageDriverPostgres:
		if err := deps.usePostgres(ctx, cfg, logger); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if cfg.RedisAddr != "" {
		client, err := redisstore.Open(ctx, cfg.RedisAddr)
		if err != nil {
			deps.close(logger)
			return nil, fmt.Errorf("open redis: %w", err)
		}
		deps.idempotency = redisstore.NewIdempotencyRepository(client, cfg.RedisKeyPrefix)
		deps.idempotencyExpires = true
		deps.checkers["redis"] = healthcheck.NewPingChecker("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		deps.closers = append(deps.closers, client.Close)
		logger.WithField("addr", cfg.RedisAddr).Info("idempotency keys stored in redis")
	}

	return deps, nil
}

func (d *runtimeDependencies) useMemory(ctx context.Context, cfg Config, logger *log.Entry) error {
	store := memory.NewStore()
	if cfg.SeedFile != "" {
		file, err := seed.LoadFile(cfg.SeedFile)
		if err != nil {
			return err
		}
		if err := seed.Apply(ctx, seed.MemoryTarget(store), file, logger.WithField("layer", "seed")); err != nil {
			return err
		}
	}

	d.customers = store.Customers()
	d.products = store.Products()
	d.orders = store.Orders()
	d.query = store.Orders()
	d.uow = store
	d.outbox = store.Outbox()
	d.idempotency = memory.NewIdempotencyRepository()
	logger.Info("using in-memory storage")
	return nil
}

func (d *runtimeDependencies) usePostgres(ctx context.Context, cfg Config, logger *log.Entry) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("postgres dsn is required for postgres storage driver")
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}

	d.customers = store.Customers()
	d.products = store.Products()
	d.orders = store.Orders()
	d.query = store.Orders()
	d.uow = store
	d.outbox = store.Outbox()
	d.idempotency = postgres.NewIdempotencyRepository(store)
	d.checkers["postgres"] = healthcheck.NewPingChecker("postgres", store.Ping)
	d.closers = append(d.closers, store.Close)
	logger.Info("using postgres storage")
	return nil
}

// close освобождает ресурсы в обратном порядке открытия.
func (d *runtimeDependencies) close(logger *log.Entry) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close dependency")
		}
	}
	d.closers = nil
}
