package runner

import (
	"context"

	"risksync/internal/modules/config"
	healthservice "risksync/internal/modules/health/service"
	"risksync/internal/notify"
	"risksync/internal/runner/dispatcher"

	"go.uber.org/fx"
)

func NewDispatcher(cfg *config.Config, f dispatcher.SessionFactory) *dispatcher.Dispatcher {
	return dispatcher.New(dispatcher.Config{
		Workers:   cfg.Dispatch.Workers,
		OpTimeout: cfg.Dispatch.OpTimeout,
		Comment:   cfg.TradeComment,
	}, f, cfg.Slaves)
}

func NewRunner(
	cfg *config.Config,
	f dispatcher.SessionFactory,
	d *dispatcher.Dispatcher,
	store Store,
	health *healthservice.State,
	n notify.Notifier,
) *Runner {
	return New(Config{
		Master:       cfg.Master,
		LoopInterval: cfg.LoopInterval,
		TickTimeout:  cfg.Dispatch.TickTimeout,
	}, f, NewEngine(cfg.IgnoreNoSL, d, n), store, health, n)
}

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewDispatcher,
			NewRunner,
		),
		fx.Invoke(func(lc fx.Lifecycle, r *Runner) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					return r.Start(ctx)
				},
				OnStop: func(ctx context.Context) error {
					return r.Stop(ctx)
				},
			})
		}),
	)
}
