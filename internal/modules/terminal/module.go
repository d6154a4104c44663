package terminal

import (
	"context"

	"risksync/internal/models"
	"risksync/internal/modules/terminal/service"
	"risksync/internal/runner/dispatcher"

	"go.uber.org/fx"
)

// sessionFactory отдаёт сессии бриджа под интерфейс диспетчера.
type sessionFactory struct {
	dialer *service.Dialer
}

func (f sessionFactory) Open(ctx context.Context, acc models.Account) (dispatcher.Session, error) {
	s, err := f.dialer.Open(ctx, acc)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func NewSessionFactory(d *service.Dialer) dispatcher.SessionFactory {
	return sessionFactory{dialer: d}
}

// Module: подключения к терминалам (мастер и slave) через websocket-бридж.
func Module() fx.Option {
	return fx.Module("terminal",
		fx.Provide(
			service.NewDialer,
			NewSessionFactory,
		),
	)
}
