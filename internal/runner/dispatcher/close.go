package dispatcher

import (
	"context"

	"risksync/internal/models"
	"risksync/pkg/tracing"
)

// close закрывает slave-позицию. "Позиция не найдена" значит уже закрыта, это не ошибка брокера.
func (d *Dispatcher) close(ctx context.Context, link models.SlaveLink) (o Outcome) {
	o = Outcome{Op: OpClose, Account: link.Account, PositionID: link.PositionID}

	span, ctx := tracing.Start(ctx, "dispatch.close")
	span.SetTag("slave", link.Account)
	span.SetTag("slave_ticket", link.PositionID)
	defer func() { tracing.Finish(span, o.Failure()) }()

	sess, o, ok := d.session(ctx, o)
	if !ok {
		return o
	}
	defer func() { _ = sess.Close() }()

	if err := sess.ClosePosition(ctx, link.PositionID); err != nil {
		return fail(o, err)
	}

	o.Kind = OutcomeOK
	return o
}
