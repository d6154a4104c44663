package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"risksync/internal/models"
	"risksync/internal/runner/dispatcher"

	"github.com/pkg/errors"
)

type modifyCall struct {
	links  []models.SlaveLink
	sl, tp float64
}

// fakeDispatcher отвечает успехом для всех slave, кроме перечисленных в *Fail.
type fakeDispatcher struct {
	mu sync.Mutex

	slaves []string
	nextID int64

	openFail   map[string]dispatcher.OutcomeKind
	closeFail  map[string]dispatcher.OutcomeKind
	modifyFail map[string]dispatcher.OutcomeKind
	panicOn    int64 // master ticket, на котором OpenAll паникует

	closeDelay time.Duration // сколько брокер закрывает позицию
	closing    chan struct{} // сигнал о начале CloseAll

	calls    []string // "open #1", "close 2001#7001", ...
	opened   []models.MasterPosition
	closed   [][]models.SlaveLink
	modified []modifyCall
}

func newFakeDispatcher(slaves ...string) *fakeDispatcher {
	return &fakeDispatcher{
		slaves:     slaves,
		nextID:     7000,
		openFail:   map[string]dispatcher.OutcomeKind{},
		closeFail:  map[string]dispatcher.OutcomeKind{},
		modifyFail: map[string]dispatcher.OutcomeKind{},
	}
}

func outcome(op, acc string, id int64, kind dispatcher.OutcomeKind) dispatcher.Outcome {
	o := dispatcher.Outcome{Op: op, Account: acc, PositionID: id, Kind: kind}
	if kind != dispatcher.OutcomeOK && kind != dispatcher.OutcomeAlreadyClosed {
		o.Err = errors.Errorf("%s on %s: %s", op, acc, kind)
	}
	return o
}

func (f *fakeDispatcher) OpenAll(ctx context.Context, pos models.MasterPosition) []dispatcher.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.panicOn != 0 && f.panicOn == pos.Ticket {
		panic("boom")
	}

	f.calls = append(f.calls, fmt.Sprintf("open #%d", pos.Ticket))
	f.opened = append(f.opened, pos)

	out := make([]dispatcher.Outcome, 0, len(f.slaves))
	for _, acc := range f.slaves {
		if kind, bad := f.openFail[acc]; bad {
			out = append(out, outcome(dispatcher.OpOpen, acc, 0, kind))
			continue
		}
		f.nextID++
		o := outcome(dispatcher.OpOpen, acc, f.nextID, dispatcher.OutcomeOK)
		o.Volume = 1
		out = append(out, o)
	}
	return out
}

func (f *fakeDispatcher) ModifyAll(ctx context.Context, links []models.SlaveLink, sl, tp float64) []dispatcher.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fmt.Sprintf("modify %d links", len(links)))
	f.modified = append(f.modified, modifyCall{links: links, sl: sl, tp: tp})

	out := make([]dispatcher.Outcome, 0, len(links))
	for _, l := range links {
		kind := dispatcher.OutcomeOK
		if k, bad := f.modifyFail[l.Account]; bad {
			kind = k
		}
		out = append(out, outcome(dispatcher.OpModify, l.Account, l.PositionID, kind))
	}
	return out
}

func (f *fakeDispatcher) CloseAll(ctx context.Context, links []models.SlaveLink) []dispatcher.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fmt.Sprintf("close %d links", len(links)))
	f.closed = append(f.closed, links)

	interrupted := false
	if f.closeDelay > 0 {
		select {
		case f.closing <- struct{}{}:
		default:
		}
		select {
		case <-time.After(f.closeDelay):
		case <-ctx.Done():
			interrupted = true
		}
	}

	out := make([]dispatcher.Outcome, 0, len(links))
	for _, l := range links {
		kind := dispatcher.OutcomeOK
		if k, bad := f.closeFail[l.Account]; bad {
			kind = k
		}
		if interrupted {
			kind = dispatcher.OutcomeTimeout
		}
		out = append(out, outcome(dispatcher.OpClose, l.Account, l.PositionID, kind))
	}
	return out
}

func (f *fakeDispatcher) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *fakeNotifier) Send(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *fakeNotifier) Sendf(format string, args ...any) { n.Send(fmt.Sprintf(format, args...)) }

func (n *fakeNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

// masterSession: сессия мастера, отдающая текущий снапшот.
type masterSession struct {
	f *masterFactory
}

func (s *masterSession) OpenPositions(ctx context.Context) ([]models.MasterPosition, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if s.f.listErr != nil {
		return nil, s.f.listErr
	}
	return append([]models.MasterPosition(nil), s.f.positions...), nil
}

func (s *masterSession) InstrumentMeta(ctx context.Context, symbol string) (models.InstrumentMeta, error) {
	return models.InstrumentMeta{}, models.ErrInstrumentUnavailable
}

func (s *masterSession) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	return models.Quote{}, models.ErrInstrumentUnavailable
}

func (s *masterSession) PlaceMarket(ctx context.Context, o models.MarketOrder) (int64, error) {
	return 0, models.ErrOrderRejected
}

func (s *masterSession) UpdateStopTarget(ctx context.Context, positionID int64, sl, tp float64) error {
	return models.ErrOrderRejected
}

func (s *masterSession) ClosePosition(ctx context.Context, positionID int64) error {
	return models.ErrOrderRejected
}

func (s *masterSession) Close() error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.open--
	return nil
}

type masterFactory struct {
	mu        sync.Mutex
	positions []models.MasterPosition
	down      bool
	listErr   error
	open      int // незакрытые сессии
}

func (f *masterFactory) Open(ctx context.Context, acc models.Account) (dispatcher.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errors.Wrapf(models.ErrConnection, "login %d", acc.Login)
	}
	f.open++
	return &masterSession{f: f}, nil
}

func (f *masterFactory) set(positions ...models.MasterPosition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = positions
}

func (f *masterFactory) setDown(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = v
}

type memStore struct {
	mu      sync.Mutex
	st      models.ReconciliationState
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) Load(ctx context.Context) (models.ReconciliationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return make(models.ReconciliationState), m.loadErr
	}
	if m.st == nil {
		return make(models.ReconciliationState), nil
	}
	return m.st.Clone(), nil
}

func (m *memStore) Save(ctx context.Context, st models.ReconciliationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.st = st.Clone()
	return nil
}

func (m *memStore) snapshot() (models.ReconciliationState, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Clone(), m.saves
}

func (m *memStore) setSaveErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

func position(ticket int64, sl, tp float64) models.MasterPosition {
	return models.MasterPosition{
		Ticket: ticket, Symbol: "EURUSD", Direction: models.DirectionLong,
		Volume: 1, Entry: 1.1000, SL: sl, TP: tp,
	}
}
