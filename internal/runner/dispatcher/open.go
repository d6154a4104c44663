package dispatcher

import (
	"context"

	"risksync/internal/models"
	"risksync/internal/runner/sizing"
	"risksync/pkg/tracing"

	"github.com/pkg/errors"
)

// open: протокол копирования одной мастер-позиции на один slave:
// сессия -> метаданные символа -> объём по риску -> котировка -> рыночный ордер.
func (d *Dispatcher) open(ctx context.Context, slave models.SlaveAccount, pos models.MasterPosition) (o Outcome) {
	o = Outcome{Op: OpOpen, Account: slave.ID()}

	span, ctx := tracing.Start(ctx, "dispatch.open")
	span.SetTag("slave", o.Account)
	span.SetTag("master_ticket", pos.Ticket)
	defer func() { tracing.Finish(span, o.Failure()) }()

	if err := ctx.Err(); err != nil {
		return fail(o, err)
	}

	sess, err := d.factory.Open(ctx, slave.Account)
	if err != nil {
		return fail(o, err)
	}
	defer func() { _ = sess.Close() }()

	// у slave символ может называться иначе (суффиксы брокера)
	symbol := slave.Symbol(pos.Symbol)
	mirrored := pos
	mirrored.Symbol = symbol

	var lots float64
	if slave.FixedVolume > 0 {
		lots = sizing.ApplyOverrides(0, slave)
	} else {
		var meta *models.InstrumentMeta
		m, err := sess.InstrumentMeta(ctx, symbol)
		switch {
		case err == nil:
			meta = &m
		case errors.Is(err, models.ErrInstrumentUnavailable):
			// meta == nil -> сайзер откажет сам
		default:
			return fail(o, err)
		}

		lots, err = sizing.CalcSizeByRisk(mirrored, slave.RiskUSD, meta)
		if err != nil {
			return fail(o, err)
		}
		lots = sizing.ApplyOverrides(lots, slave)
	}
	o.Volume = lots

	quote, err := sess.Quote(ctx, symbol)
	if err != nil {
		return fail(o, err)
	}

	// входим по текущему рынку, а не по цене мастера
	price := quote.Ask
	if pos.Direction == models.DirectionShort {
		price = quote.Bid
	}

	ticket, err := sess.PlaceMarket(ctx, models.MarketOrder{
		Symbol:    symbol,
		Direction: pos.Direction,
		Volume:    lots,
		Price:     price,
		SL:        pos.SL,
		TP:        pos.TP,
		Comment:   d.cfg.Comment,
		Magic:     pos.Magic,
	})
	if err != nil {
		return fail(o, err)
	}

	o.PositionID = ticket
	o.Kind = OutcomeOK
	return o
}
