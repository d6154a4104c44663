package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"risksync/internal/models"
	healthservice "risksync/internal/modules/health/service"
	"risksync/internal/notify"
	"risksync/internal/runner/dispatcher"
	"risksync/pkg/logger"
	"risksync/pkg/metrics"
	"risksync/pkg/tracing"

	"github.com/pkg/errors"
)

type Config struct {
	Master       models.Account
	LoopInterval time.Duration
	TickTimeout  time.Duration
}

// Runner крутит цикл сверки: раз в LoopInterval снимает позиции мастера,
// отдаёт их Engine и сохраняет стейт.
type Runner struct {
	cfg     Config
	factory dispatcher.SessionFactory
	engine  *Engine
	store   Store
	health  *healthservice.State
	n       notify.Notifier

	mu         sync.Mutex // тик и сохранение не пересекаются
	saved      uint64     // версия стейта, которая уже лежит в store
	masterDown bool

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, factory dispatcher.SessionFactory, engine *Engine, store Store, health *healthservice.State, n notify.Notifier) *Runner {
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = 200 * time.Millisecond
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = 30 * time.Second
	}
	return &Runner{
		cfg:     cfg,
		factory: factory,
		engine:  engine,
		store:   store,
		health:  health,
		n:       n,
	}
}

// Start: стейт из store (битый, начинаем с пустого), пробное подключение к мастеру
// (ошибка, не стартуем), затем цикл в отдельной горутине.
func (r *Runner) Start(ctx context.Context) error {
	st, err := r.store.Load(ctx)
	if err != nil {
		logger.Error("state: load failed, starting empty: %v", err)
	}
	r.engine.Restore(st)
	r.saved = r.engine.Version()
	r.health.SetTracked(r.engine.Tracked())
	metrics.TrackedPositions.Set(float64(r.engine.Tracked()))
	logger.Info("state: %d tracked master positions", r.engine.Tracked())

	sess, err := r.factory.Open(ctx, r.cfg.Master)
	if err != nil {
		return errors.Wrapf(err, "master %d", r.cfg.Master.Login)
	}
	_ = sess.Close()

	r.health.SetMasterConnected(true)
	r.health.SetReady(true)
	logger.Info("master %d connected, loop every %s", r.cfg.Master.Login, r.cfg.LoopInterval)
	r.n.Sendf("🚀 RiskSync запущен, позиций в работе: %d", r.engine.Tracked())

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.Run(loopCtx)
	return nil
}

// Stop гасит цикл, дожидается текущего тика и сохраняет стейт.
// Начатый тик не прерывается: его закрытия и открытия доходят до брокера.
func (r *Runner) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.health.SetReady(false)
	if err := r.persist(ctx, true); err != nil {
		return err
	}
	logger.Info("runner stopped, %d tracked positions saved", r.engine.Tracked())
	return nil
}

// Run: цикл на time.Ticker: тик, не уложившийся в интервал, не наслаивается на следующий.
// Отмена ctx останавливает цикл только между тиками: начатый тик доводит
// операции на slave до конца (в пределах TickTimeout).
func (r *Runner) Run(ctx context.Context) {
	if r.done != nil {
		defer close(r.done)
	}

	ticker := time.NewTicker(r.cfg.LoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			_ = r.Tick(context.WithoutCancel(ctx))
		}
	}
}

// Tick: один проход сверки. Паника внутри ловится здесь, цикл живёт дальше.
func (r *Runner) Tick(ctx context.Context) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in tick: %v", p)
			logger.Error("%v", err)
			metrics.Ticks.WithLabelValues("panic").Inc()
		}
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	tickCtx, cancel := context.WithTimeout(ctx, r.cfg.TickTimeout)
	defer cancel()

	span, tickCtx := tracing.Start(tickCtx, "runner.tick")
	defer func() { tracing.Finish(span, err) }()

	snapshot, err := r.snapshot(tickCtx)
	if err != nil {
		r.masterLost(err)
		metrics.Ticks.WithLabelValues("master_unavailable").Inc()
		return err
	}
	r.masterBack()

	rep := r.engine.Reconcile(tickCtx, snapshot)
	if rep != (Report{}) {
		logger.Info("tick: closed=%d opened=%d modified=%d skipped=%d orphans=%d",
			rep.Closed, rep.Opened, rep.Modified, rep.Skipped, rep.Orphans)
	}

	// сохраняем на родительском ctx: истёкший тик не должен мешать записи
	_ = r.persist(ctx, false)

	r.health.TouchTick(time.Now())
	r.health.SetTracked(r.engine.Tracked())
	metrics.TrackedPositions.Set(float64(r.engine.Tracked()))
	metrics.Ticks.WithLabelValues("ok").Inc()
	return nil
}

// snapshot переподключается к мастеру и забирает открытые позиции.
func (r *Runner) snapshot(ctx context.Context) ([]models.MasterPosition, error) {
	sess, err := r.factory.Open(ctx, r.cfg.Master)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sess.Close() }()

	positions, err := sess.OpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	return models.DedupePositions(positions), nil
}

// persist пишет стейт, если он менялся с прошлой удачной записи.
// Ошибка не роняет цикл: стейт в памяти остаётся, попробуем на следующем тике.
func (r *Runner) persist(ctx context.Context, force bool) error {
	v := r.engine.Version()
	if !force && v == r.saved {
		return nil
	}
	if err := r.store.Save(ctx, r.engine.State()); err != nil {
		metrics.StateSaveFailures.Inc()
		logger.Error("state: save failed, will retry: %v", err)
		return err
	}
	r.saved = v
	return nil
}

func (r *Runner) masterLost(err error) {
	r.health.SetMasterConnected(false)
	if r.masterDown {
		return
	}
	r.masterDown = true
	logger.Warn("master %d unavailable, skipping ticks: %v", r.cfg.Master.Login, err)
	r.n.Sendf("📴 мастер %d недоступен: %v", r.cfg.Master.Login, err)
}

func (r *Runner) masterBack() {
	r.health.SetMasterConnected(true)
	if !r.masterDown {
		return
	}
	r.masterDown = false
	logger.Info("master %d is back", r.cfg.Master.Login)
	r.n.Sendf("📶 мастер %d снова на связи", r.cfg.Master.Login)
}
