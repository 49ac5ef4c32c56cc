package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/northwind-orders/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/northwind-orders/internal/health"
	"github.com/vladislavdragonenkov/northwind-orders/internal/service/orders"
	"github.com/vladislavdragonenkov/northwind-orders/internal/storage/memory"
	"github.com/vladislavdragonenkov/northwind-orders/internal/storage/postgres"
)

type runtimeDependencies struct {
	repos          orders.Repositories
	outboxRepo     domain.OutboxRepository
	storageChecker healthcheck.Checker
	closeFn        func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		store := memory.NewSeededStore()
		logger.WithField("storage", StorageDriverMemory).Info("using in-memory storage")
		return runtimeDependencies{
			repos: orders.Repositories{
				Orders:   memory.NewOrderRepository(store, domain.SystemClock),
				Lines:    memory.NewOrderLineRepository(store),
				Products: memory.NewProductRepository(store),
				Timeline: memory.NewTimelineRepository(store),
			},
			outboxRepo: memory.NewOutboxRepository(store),
			storageChecker: healthcheck.NewSimpleChecker("storage", func(context.Context) error {
				return nil
			}),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return runtimeDependencies{}, fmt.Errorf("%s is required for postgres storage", EnvPostgresDSN)
		}

		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return runtimeDependencies{}, fmt.Errorf("open postgres storage: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return runtimeDependencies{}, fmt.Errorf("migrate postgres storage: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		logger.WithField("storage", StorageDriverPostgres).Info("using postgres storage")
		return runtimeDependencies{
			repos: orders.Repositories{
				Orders:   postgres.NewOrderRepository(store, domain.SystemClock),
				Lines:    postgres.NewOrderLineRepository(store),
				Products: postgres.NewProductRepository(store),
				Timeline: postgres.NewTimelineRepository(store),
			},
			outboxRepo:     postgres.NewOutboxRepository(store),
			storageChecker: healthcheck.NewSimpleChecker("storage", store.Ping),
			closeFn:        store.Close,
		}, nil

	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
