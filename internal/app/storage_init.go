package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// runtimeDependencies собирает репозитории выбранного хранилища.
type runtimeDependencies struct {
	customers domain.CustomerRepository
	products  domain.ProductRepository
	orders    domain.OrderRepository
	outbox    domain.OutboxRepository
	tx        domain.Transactor
	// storageChecker nil для хранилища в памяти.
	storageChecker health.Checker
	// collectors регистрируются в registry приложения.
	collectors []prometheus.Collector
	closeFn    func() error
}

func (d runtimeDependencies) close() error {
	if d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}

// initRuntimeDependencies создаёт репозитории для cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		logger.Info("using in-memory storage")
		tx := memory.NewTransactor()
		return runtimeDependencies{
			customers: memory.NewCustomerRepository(memory.WithTransactor(tx)),
			products:  memory.NewProductRepository(memory.WithTransactor(tx)),
			orders:    memory.NewOrderRepository(memory.WithTransactor(tx)),
			outbox:    memory.NewOutboxRepository(memory.WithTransactor(tx)),
			tx:        tx,
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return runtimeDependencies{}, fmt.Errorf("postgres dsn is required for storage driver %q", cfg.StorageDriver)
		}

		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return runtimeDependencies{}, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return runtimeDependencies{}, fmt.Errorf("apply migrations: %w", err)
			}
		}
		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("using postgres storage")

		return runtimeDependencies{
			customers:      postgres.NewCustomerRepository(store),
			products:       postgres.NewProductRepository(store),
			orders:         postgres.NewOrderRepository(store),
			outbox:         postgres.NewOutboxRepository(store),
			tx:             store,
			storageChecker: health.NewStorageChecker(store),
			collectors:     []prometheus.Collector{collectors.NewDBStatsCollector(store.DB(), "storefront")},
			closeFn:        store.Close,
		}, nil

	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
