package postgres

import (
	"context"
	"fmt"

	"risksync/internal/modules/config"
	"risksync/pkg/db"
	"risksync/pkg/logger"

	"go.uber.org/fx"
)

// NewTxManager поднимает пул к postgres. Без db_dsn postgres не нужен, отдаём nil.
func NewTxManager(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (*db.PgTxManager, error) {
	if cfg.DB == "" {
		return nil, nil
	}

	poolMaster, err := db.NewPool(ctx, db.PoolConfig{
		DSN: cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poolMaster: %w", err)
	}

	err = poolMaster.Ping(ctx)
	if err != nil {
		poolMaster.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	tx := db.NewPgTxManager(poolMaster)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("postgres: closing pool")
			tx.Close()
			return nil
		},
	})
	return tx, nil
}

func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			NewTxManager,
		),
	)
}
