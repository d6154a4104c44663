package state

import (
	"context"

	"risksync/internal/modules/config"
	"risksync/internal/modules/state/service"
	"risksync/internal/runner"
	"risksync/pkg/db"
	"risksync/pkg/logger"

	"go.uber.org/fx"
)

// NewStore: при заданном db_dsn стейт живёт в postgres, иначе в state_file.
func NewStore(ctx context.Context, cfg *config.Config, tx *db.PgTxManager) (runner.Store, error) {
	if tx == nil {
		logger.Info("state: file backend %s", cfg.StateFile)
		return service.NewFile(cfg.StateFile), nil
	}

	pg := service.NewPostgres(tx)
	if err := pg.Migrate(ctx); err != nil {
		return nil, err
	}
	logger.Info("state: postgres backend")
	return pg, nil
}

func Module() fx.Option {
	return fx.Module("state",
		fx.Provide(
			NewStore,
		),
	)
}
