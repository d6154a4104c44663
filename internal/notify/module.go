package notify

import (
	"context"
	"fmt"
	"time"

	"risksync/internal/modules/config"
	healthservice "risksync/internal/modules/health/service"
	"risksync/pkg/logger"

	"go.uber.org/fx"
)

// NewNotifier: с token+chat_id шлём в телеграм, иначе события идут в лог.
func NewNotifier(lc fx.Lifecycle, cfg *config.Config, st *healthservice.State) (Notifier, error) {
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
		logger.Info("notify: telegram is not configured, using log")
		return NewLog(), nil
	}

	tg, err := NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, StatusText(st))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			tg.Start(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			tg.Stop()
			return nil
		},
	})
	return tg, nil
}

// StatusText: ответ на /status по состоянию из health.
func StatusText(st *healthservice.State) StatusFunc {
	return func() string {
		last := "нет"
		if t := st.LastTick(); !t.IsZero() {
			last = t.UTC().Format(time.RFC3339)
		}
		return fmt.Sprintf("RiskSync\nмастер на связи: %t\nпозиций в работе: %d\nпоследний тик: %s\nuptime: %s",
			st.MasterConnected(), st.Tracked(), last, st.Uptime().Truncate(time.Second))
	}
}

func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(
			NewNotifier,
		),
	)
}
