package dispatcher

import (
	"context"
	"fmt"

	"risksync/internal/models"
	"risksync/pkg/tracing"
)

func (d *Dispatcher) modify(ctx context.Context, link models.SlaveLink, sl, tp float64) (o Outcome) {
	o = Outcome{Op: OpModify, Account: link.Account, PositionID: link.PositionID}

	span, ctx := tracing.Start(ctx, "dispatch.modify")
	span.SetTag("slave", link.Account)
	span.SetTag("slave_ticket", link.PositionID)
	defer func() { tracing.Finish(span, o.Failure()) }()

	sess, o, ok := d.session(ctx, o)
	if !ok {
		return o
	}
	defer func() { _ = sess.Close() }()

	if err := sess.UpdateStopTarget(ctx, link.PositionID, sl, tp); err != nil {
		return fail(o, err)
	}

	o.Kind = OutcomeOK
	return o
}

// session находит slave по логину из связки и подключается к нему.
func (d *Dispatcher) session(ctx context.Context, o Outcome) (Session, Outcome, bool) {
	if err := ctx.Err(); err != nil {
		return nil, fail(o, err), false
	}

	slave, ok := d.byID[o.Account]
	if !ok {
		o.Kind = OutcomeUnknownAccount
		o.Err = fmt.Errorf("slave %s is not configured", o.Account)
		return nil, o, false
	}

	sess, err := d.factory.Open(ctx, slave.Account)
	if err != nil {
		return nil, fail(o, err), false
	}
	return sess, o, true
}
