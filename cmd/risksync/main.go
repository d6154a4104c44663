package main

import (
	"context"

	"risksync/internal/modules/config"
	"risksync/internal/modules/health"
	"risksync/internal/modules/postgres"
	"risksync/internal/modules/state"
	"risksync/internal/modules/terminal"
	"risksync/internal/notify"
	"risksync/internal/runner"
	"risksync/pkg/logger"
	"risksync/pkg/tracing"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const serviceName = "risksync"

func main() {
	logger.SetServiceName(serviceName)
	tracing.SetServiceName(serviceName)

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
			func(cfg *config.Config) (*zap.Logger, error) {
				return logger.Init(cfg.Log.Level)
			},
		),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l}
		}),
		config.Module(),
		fx.Invoke(initTracing),
		postgres.Module(),
		state.Module(),
		terminal.Module(),
		health.Module(),
		notify.Module(),
		runner.Module(),
	)
	app.Run()
	logger.Sync()
}

func initTracing(lc fx.Lifecycle, cfg *config.Config) error {
	_, closer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closer()
			return nil
		},
	})
	return nil
}
