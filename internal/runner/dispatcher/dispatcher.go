package dispatcher

import (
	"context"
	"fmt"
	"time"

	"risksync/internal/models"
	"risksync/pkg/metrics"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Session: то, что диспетчеру нужно от терминала одного счёта.
type Session interface {
	OpenPositions(ctx context.Context) ([]models.MasterPosition, error)
	InstrumentMeta(ctx context.Context, symbol string) (models.InstrumentMeta, error)
	Quote(ctx context.Context, symbol string) (models.Quote, error)
	PlaceMarket(ctx context.Context, o models.MarketOrder) (int64, error)
	UpdateStopTarget(ctx context.Context, positionID int64, sl, tp float64) error
	ClosePosition(ctx context.Context, positionID int64) error
	Close() error
}

// SessionFactory выдаёт подключённую сессию под счёт. Сессия живёт одну операцию.
type SessionFactory interface {
	Open(ctx context.Context, acc models.Account) (Session, error)
}

const (
	OpOpen   = "open"
	OpModify = "modify"
	OpClose  = "close"
)

type OutcomeKind string

const (
	OutcomeOK             OutcomeKind = "ok"
	OutcomeAlreadyClosed  OutcomeKind = "already_closed"
	OutcomeConnection     OutcomeKind = "connection_failure"
	OutcomeSizingRejected OutcomeKind = "sizing_rejected"
	OutcomeOrderRejected  OutcomeKind = "order_rejected"
	OutcomeTimeout        OutcomeKind = "timeout"
	OutcomeUnknownAccount OutcomeKind = "unknown_account"
	OutcomeFailed         OutcomeKind = "failed"
)

// Outcome: результат одной операции на одном slave. Ошибки, значения, не паники.
type Outcome struct {
	Op         string
	Account    string
	PositionID int64   // тикет на slave (для open, новый)
	Volume     float64 // только для open
	Kind       OutcomeKind
	Err        error
}

func (o Outcome) Success() bool {
	return o.Kind == OutcomeOK || o.Kind == OutcomeAlreadyClosed
}

// Failure: ошибка, если операция не удалась (already_closed ошибкой не считается).
func (o Outcome) Failure() error {
	if o.Success() {
		return nil
	}
	return o.Err
}

type Config struct {
	Workers   int
	OpTimeout time.Duration
	Comment   string
}

type Dispatcher struct {
	cfg     Config
	factory SessionFactory
	slaves  []models.SlaveAccount
	byID    map[string]models.SlaveAccount
}

func New(cfg Config, factory SessionFactory, slaves []models.SlaveAccount) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 10 * time.Second
	}
	byID := make(map[string]models.SlaveAccount, len(slaves))
	for _, s := range slaves {
		byID[s.ID()] = s
	}
	return &Dispatcher{
		cfg:     cfg,
		factory: factory,
		slaves:  slaves,
		byID:    byID,
	}
}

// OpenAll открывает зеркало позиции на каждом slave. Результаты в порядке конфига.
func (d *Dispatcher) OpenAll(ctx context.Context, pos models.MasterPosition) []Outcome {
	seeds := make([]Outcome, len(d.slaves))
	for i, s := range d.slaves {
		seeds[i] = Outcome{Op: OpOpen, Account: s.ID()}
	}
	return d.fanOut(ctx, OpOpen, seeds, func(ctx context.Context, i int) Outcome {
		return d.open(ctx, d.slaves[i], pos)
	})
}

// ModifyAll переставляет SL/TP на всех связанных slave-позициях.
func (d *Dispatcher) ModifyAll(ctx context.Context, links []models.SlaveLink, sl, tp float64) []Outcome {
	return d.fanOut(ctx, OpModify, linkSeeds(OpModify, links), func(ctx context.Context, i int) Outcome {
		return d.modify(ctx, links[i], sl, tp)
	})
}

// CloseAll закрывает все связанные slave-позиции.
func (d *Dispatcher) CloseAll(ctx context.Context, links []models.SlaveLink) []Outcome {
	return d.fanOut(ctx, OpClose, linkSeeds(OpClose, links), func(ctx context.Context, i int) Outcome {
		return d.close(ctx, links[i])
	})
}

func linkSeeds(op string, links []models.SlaveLink) []Outcome {
	seeds := make([]Outcome, len(links))
	for i, l := range links {
		seeds[i] = Outcome{Op: op, Account: l.Account, PositionID: l.PositionID}
	}
	return seeds
}

// fanOut: seeds задают счёт и тикет каждого слота; при панике они остаются в результате.
func (d *Dispatcher) fanOut(ctx context.Context, op string, seeds []Outcome, fn func(ctx context.Context, i int) Outcome) []Outcome {
	n := len(seeds)
	out := make([]Outcome, n)
	copy(out, seeds)

	var g errgroup.Group
	g.SetLimit(d.cfg.Workers)

	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					out[i] = seeds[i]
					out[i].Op = op
					out[i].Kind = OutcomeFailed
					out[i].Err = fmt.Errorf("panic in %s: %v", op, p)
				}
			}()

			opCtx, cancel := context.WithTimeout(ctx, d.cfg.OpTimeout)
			defer cancel()
			out[i] = fn(opCtx, i)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range out {
		metrics.Dispatch.WithLabelValues(op, string(o.Kind)).Inc()
	}
	return out
}

func fail(o Outcome, err error) Outcome {
	o.Kind = classify(err)
	o.Err = err
	return o
}

func classify(err error) OutcomeKind {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return OutcomeTimeout
	case errors.Is(err, models.ErrPositionNotFound):
		return OutcomeAlreadyClosed
	case errors.Is(err, models.ErrConnection):
		return OutcomeConnection
	case errors.Is(err, models.ErrSizingRejected):
		return OutcomeSizingRejected
	case errors.Is(err, models.ErrOrderRejected):
		return OutcomeOrderRejected
	default:
		return OutcomeFailed
	}
}
