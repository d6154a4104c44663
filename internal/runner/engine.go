package runner

import (
	"context"
	"strings"

	"risksync/internal/models"
	"risksync/internal/notify"
	"risksync/internal/runner/dispatcher"
	"risksync/pkg/logger"
	"risksync/pkg/metrics"
	"risksync/pkg/tracing"
)

// Dispatcher: операции на всех slave разом; результаты в порядке конфига.
type Dispatcher interface {
	OpenAll(ctx context.Context, pos models.MasterPosition) []dispatcher.Outcome
	ModifyAll(ctx context.Context, links []models.SlaveLink, sl, tp float64) []dispatcher.Outcome
	CloseAll(ctx context.Context, links []models.SlaveLink) []dispatcher.Outcome
}

// Store: где лежит ReconciliationState между запусками.
type Store interface {
	Load(ctx context.Context) (models.ReconciliationState, error)
	Save(ctx context.Context, st models.ReconciliationState) error
}

// Report: что произошло за один проход сверки.
type Report struct {
	Closed   int
	Opened   int
	Modified int
	Skipped  int
	Orphans  int // slave-позиции, которые не удалось закрыть
}

// Engine сравнивает снапшот мастера со стейтом и раздаёт события диспетчеру.
// Стейт меняет только Engine, и только из одного тика за раз.
type Engine struct {
	ignoreNoSL bool
	disp       Dispatcher
	n          notify.Notifier

	state   models.ReconciliationState
	version uint64 // растёт на каждую мутацию стейта

	// позиции без SL, про которые уже сказали в лог; не персистится
	skipped map[int64]struct{}
}

func NewEngine(ignoreNoSL bool, disp Dispatcher, n notify.Notifier) *Engine {
	return &Engine{
		ignoreNoSL: ignoreNoSL,
		disp:       disp,
		n:          n,
		state:      make(models.ReconciliationState),
		skipped:    make(map[int64]struct{}),
	}
}

// Restore подменяет стейт загруженным с диска/из базы.
func (e *Engine) Restore(st models.ReconciliationState) {
	if st == nil {
		st = make(models.ReconciliationState)
	}
	e.state = st.Clone()
	e.version++
}

// State: копия стейта для сохранения.
func (e *Engine) State() models.ReconciliationState { return e.state.Clone() }

func (e *Engine) Version() uint64 { return e.version }

func (e *Engine) Tracked() int { return len(e.state) }

// Reconcile: один проход: закрытия, потом новые, потом изменения SL/TP.
// Если ctx истёк, необработанные события остаются на следующий тик.
func (e *Engine) Reconcile(ctx context.Context, snapshot []models.MasterPosition) (rep Report) {
	snapshot = models.DedupePositions(snapshot)

	open := make(map[int64]struct{}, len(snapshot))
	for _, p := range snapshot {
		open[p.Ticket] = struct{}{}
	}

	for ticket := range e.skipped {
		if _, ok := open[ticket]; !ok {
			delete(e.skipped, ticket)
		}
	}

	for _, ticket := range e.state.Tickets() {
		if _, ok := open[ticket]; ok {
			continue
		}
		if ctx.Err() != nil {
			return rep
		}
		rep.Orphans += e.onClosed(ctx, ticket, e.state[ticket])
		rep.Closed++
	}

	for _, pos := range snapshot {
		if _, ok := e.state[pos.Ticket]; ok {
			continue
		}
		if e.ignoreNoSL && pos.SL == 0 {
			if e.skip(pos) {
				rep.Skipped++
			}
			continue
		}
		if ctx.Err() != nil {
			return rep
		}
		e.onNew(ctx, pos)
		rep.Opened++
	}

	for _, pos := range snapshot {
		rec, ok := e.state[pos.Ticket]
		if !ok || (rec.SL == pos.SL && rec.TP == pos.TP) {
			continue
		}
		if ctx.Err() != nil {
			return rep
		}
		e.onModified(ctx, pos, rec)
		rep.Modified++
	}

	return rep
}

// skip: позиция без SL при ignore_no_sl. Пишем один раз, пока мастер её держит.
func (e *Engine) skip(pos models.MasterPosition) bool {
	if _, seen := e.skipped[pos.Ticket]; seen {
		return false
	}
	e.skipped[pos.Ticket] = struct{}{}
	metrics.Events.WithLabelValues("skipped").Inc()
	logger.Warn("master=#%d %s: no stop-loss, not copying", pos.Ticket, pos.Symbol)
	return true
}

func (e *Engine) onNew(ctx context.Context, pos models.MasterPosition) {
	span, ctx := tracing.Start(ctx, "engine.new")
	span.SetTag("master_ticket", pos.Ticket)
	defer tracing.Finish(span, nil)

	metrics.Events.WithLabelValues("new").Inc()
	logger.Info("master=#%d new position %s", pos.Ticket, pos)

	rec := models.NewReplicationRecord(pos.SL, pos.TP)
	outs := e.disp.OpenAll(ctx, pos)

	var failed []string
	for _, o := range outs {
		if !o.Success() {
			failed = append(failed, o.Account+": "+string(o.Kind))
			logger.Error("master=#%d slave=%s open failed (%s): %v", pos.Ticket, o.Account, o.Kind, o.Err)
			continue
		}
		rec.Slaves[o.Account] = o.PositionID
		logger.Info("master=#%d slave=%s slave_ticket=%d opened %.2f lots", pos.Ticket, o.Account, o.PositionID, o.Volume)
	}

	e.state[pos.Ticket] = rec
	e.version++

	msg := "🟢 #%d %s %s скопирована на %d/%d"
	if len(failed) > 0 {
		e.n.Sendf(msg+"\n❗️ не открылось: %s", pos.Ticket, pos.Symbol, pos.Direction, len(rec.Slaves), len(outs), strings.Join(failed, ", "))
		return
	}
	e.n.Sendf(msg, pos.Ticket, pos.Symbol, pos.Direction, len(rec.Slaves), len(outs))
}

// onClosed закрывает все связки и удаляет запись независимо от результата.
// Не закрытые slave-позиции остаются сиротами, о них кричим в лог и нотифайер.
func (e *Engine) onClosed(ctx context.Context, ticket int64, rec *models.ReplicationRecord) (orphans int) {
	span, ctx := tracing.Start(ctx, "engine.closed")
	span.SetTag("master_ticket", ticket)
	defer tracing.Finish(span, nil)

	metrics.Events.WithLabelValues("closed").Inc()
	logger.Info("master=#%d closed, closing %d slave positions", ticket, len(rec.Slaves))

	var lost []string
	for _, o := range e.disp.CloseAll(ctx, rec.Links()) {
		switch {
		case o.Kind == dispatcher.OutcomeAlreadyClosed:
			logger.Info("master=#%d slave=%s slave_ticket=%d already closed", ticket, o.Account, o.PositionID)
		case o.Success():
			logger.Info("master=#%d slave=%s slave_ticket=%d closed", ticket, o.Account, o.PositionID)
		default:
			orphans++
			lost = append(lost, o.Account)
			logger.Error("master=#%d slave=%s slave_ticket=%d close failed (%s), position orphaned: %v",
				ticket, o.Account, o.PositionID, o.Kind, o.Err)
		}
	}

	delete(e.state, ticket)
	e.version++

	if orphans > 0 {
		e.n.Sendf("⚠️ #%d закрыта у мастера, но на %s позиции остались открыты, закройте вручную", ticket, strings.Join(lost, ", "))
		return orphans
	}
	e.n.Sendf("🔴 #%d закрыта", ticket)
	return 0
}

// onModified раздаёт новые SL/TP и перезаписывает last-known при любом исходе.
func (e *Engine) onModified(ctx context.Context, pos models.MasterPosition, rec *models.ReplicationRecord) {
	span, ctx := tracing.Start(ctx, "engine.modified")
	span.SetTag("master_ticket", pos.Ticket)
	defer tracing.Finish(span, nil)

	metrics.Events.WithLabelValues("modified").Inc()
	logger.Info("master=#%d sl %.5f -> %.5f, tp %.5f -> %.5f", pos.Ticket, rec.SL, pos.SL, rec.TP, pos.TP)

	for _, o := range e.disp.ModifyAll(ctx, rec.Links(), pos.SL, pos.TP) {
		if !o.Success() {
			logger.Error("master=#%d slave=%s slave_ticket=%d modify failed (%s): %v",
				pos.Ticket, o.Account, o.PositionID, o.Kind, o.Err)
			continue
		}
		logger.Info("master=#%d slave=%s slave_ticket=%d sl/tp updated", pos.Ticket, o.Account, o.PositionID)
	}

	rec.SL, rec.TP = pos.SL, pos.TP
	e.version++

	e.n.Sendf("✏️ #%d SL=%.5f TP=%.5f", pos.Ticket, pos.SL, pos.TP)
}
