package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"risksync/internal/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu sync.Mutex

	meta     map[string]models.InstrumentMeta
	quote    models.Quote
	nextID   int64
	placeErr error
	modErr   error
	closeErr error
	block    bool // зависнуть до отмены ctx
	panics   bool

	orders   []models.MarketOrder
	modified []int64
	closed   []int64
	released int
}

func (s *fakeSession) wait(ctx context.Context) error {
	if !s.block {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *fakeSession) OpenPositions(ctx context.Context) ([]models.MasterPosition, error) {
	return nil, nil
}

func (s *fakeSession) InstrumentMeta(ctx context.Context, symbol string) (models.InstrumentMeta, error) {
	m, ok := s.meta[symbol]
	if !ok {
		return models.InstrumentMeta{}, errors.Wrap(models.ErrInstrumentUnavailable, symbol)
	}
	return m, nil
}

func (s *fakeSession) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	if err := s.wait(ctx); err != nil {
		return models.Quote{}, err
	}
	return s.quote, nil
}

func (s *fakeSession) PlaceMarket(ctx context.Context, o models.MarketOrder) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, o)
	if s.placeErr != nil {
		return 0, s.placeErr
	}
	return s.nextID, nil
}

func (s *fakeSession) UpdateStopTarget(ctx context.Context, positionID int64, sl, tp float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modified = append(s.modified, positionID)
	return s.modErr
}

func (s *fakeSession) ClosePosition(ctx context.Context, positionID int64) error {
	if s.panics {
		panic("bridge client bug")
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, positionID)
	return s.closeErr
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
	return nil
}

type fakeFactory struct {
	sessions map[int64]*fakeSession
	down     map[int64]bool
}

func (f *fakeFactory) Open(ctx context.Context, acc models.Account) (Session, error) {
	if f.down[acc.Login] {
		return nil, errors.Wrapf(models.ErrConnection, "login %d", acc.Login)
	}
	return f.sessions[acc.Login], nil
}

func eurusdMeta() models.InstrumentMeta {
	return models.InstrumentMeta{VolumeMin: 0.01, VolumeStep: 0.01, TickValue: 1, TickSize: 0.0001}
}

func newFixture() (*fakeFactory, []models.SlaveAccount) {
	f := &fakeFactory{
		sessions: map[int64]*fakeSession{
			2001: {
				meta:   map[string]models.InstrumentMeta{"EURUSD": eurusdMeta()},
				quote:  models.Quote{Bid: 1.1010, Ask: 1.1012},
				nextID: 7001,
			},
			2002: {
				meta:   map[string]models.InstrumentMeta{"EURUSD.r": eurusdMeta()},
				quote:  models.Quote{Bid: 1.1009, Ask: 1.1013},
				nextID: 8001,
			},
		},
		down: map[int64]bool{},
	}
	slaves := []models.SlaveAccount{
		{Account: models.Account{Login: 2001}, RiskUSD: 100},
		{Account: models.Account{Login: 2002}, RiskUSD: 50, Symbols: map[string]string{"EURUSD": "EURUSD.r"}},
	}
	return f, slaves
}

func longPos() models.MasterPosition {
	return models.MasterPosition{
		Ticket: 11, Symbol: "EURUSD", Direction: models.DirectionLong,
		Volume: 1, Entry: 1.1000, SL: 1.0950, TP: 1.1100, Magic: 77,
	}
}

func TestOpenAll(t *testing.T) {
	t.Parallel()

	f, slaves := newFixture()
	d := New(Config{Workers: 2, OpTimeout: time.Second, Comment: "RiskSync"}, f, slaves)

	out := d.OpenAll(context.Background(), longPos())
	require.Len(t, out, 2)

	assert.Equal(t, "2001", out[0].Account)
	assert.Equal(t, OutcomeOK, out[0].Kind)
	assert.Equal(t, int64(7001), out[0].PositionID)
	assert.InDelta(t, 2.00, out[0].Volume, 1e-9)

	assert.Equal(t, "2002", out[1].Account)
	assert.Equal(t, OutcomeOK, out[1].Kind)
	assert.Equal(t, int64(8001), out[1].PositionID)
	assert.InDelta(t, 1.00, out[1].Volume, 1e-9)

	o := f.sessions[2001].orders[0]
	assert.Equal(t, "EURUSD", o.Symbol)
	assert.Equal(t, models.DirectionLong, o.Direction)
	assert.Equal(t, 1.1012, o.Price) // ask для buy
	assert.Equal(t, 1.0950, o.SL)
	assert.Equal(t, 1.1100, o.TP)
	assert.Equal(t, "RiskSync", o.Comment)
	assert.Equal(t, int64(77), o.Magic)

	assert.Equal(t, "EURUSD.r", f.sessions[2002].orders[0].Symbol)

	assert.Equal(t, 1, f.sessions[2001].released)
	assert.Equal(t, 1, f.sessions[2002].released)
}

func TestOpenAll_ShortUsesBid(t *testing.T) {
	t.Parallel()

	f, slaves := newFixture()
	d := New(Config{Workers: 1}, f, slaves[:1])

	pos := longPos()
	pos.Direction = models.DirectionShort
	pos.SL = 1.1050
	pos.TP = 1.0900

	out := d.OpenAll(context.Background(), pos)
	require.Len(t, out, 1)
	require.True(t, out[0].Success())

	o := f.sessions[2001].orders[0]
	assert.Equal(t, models.DirectionShort, o.Direction)
	assert.Equal(t, 1.1010, o.Price)
}

func TestOpenAll_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(f *fakeFactory, pos *models.MasterPosition)
		want  OutcomeKind
		order bool // дошло ли до order_send
	}{
		{
			name:  "no stop loss",
			setup: func(f *fakeFactory, pos *models.MasterPosition) { pos.SL = 0 },
			want:  OutcomeSizingRejected,
		},
		{
			name: "metadata unavailable",
			setup: func(f *fakeFactory, pos *models.MasterPosition) {
				f.sessions[2001].meta = map[string]models.InstrumentMeta{}
			},
			want: OutcomeSizingRejected,
		},
		{
			name: "zero tick size",
			setup: func(f *fakeFactory, pos *models.MasterPosition) {
				m := eurusdMeta()
				m.TickSize = 0
				f.sessions[2001].meta["EURUSD"] = m
			},
			want: OutcomeSizingRejected,
		},
		{
			name: "broker rejects",
			setup: func(f *fakeFactory, pos *models.MasterPosition) {
				f.sessions[2001].placeErr = errors.Wrap(models.ErrOrderRejected, "retcode=10019 no money")
			},
			want:  OutcomeOrderRejected,
			order: true,
		},
		{
			name:  "slave unreachable",
			setup: func(f *fakeFactory, pos *models.MasterPosition) { f.down[2001] = true },
			want:  OutcomeConnection,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, slaves := newFixture()
			pos := longPos()
			tt.setup(f, &pos)

			d := New(Config{Workers: 1, OpTimeout: time.Second}, f, slaves[:1])
			out := d.OpenAll(context.Background(), pos)

			require.Len(t, out, 1)
			assert.Equal(t, tt.want, out[0].Kind)
			assert.False(t, out[0].Success())
			assert.Error(t, out[0].Err)
			assert.Zero(t, out[0].PositionID)
			assert.Equal(t, tt.order, len(f.sessions[2001].orders) > 0)
		})
	}
}

func TestOpenAll_FixedVolumeSkipsSizing(t *testing.T) {
	t.Parallel()

	f, slaves := newFixture()
	f.sessions[2001].meta = map[string]models.InstrumentMeta{}
	slaves[0].FixedVolume = 0.3

	d := New(Config{Workers: 1}, f, slaves[:1])
	out := d.OpenAll(context.Background(), longPos())

	require.Len(t, out, 1)
	assert.Equal(t, OutcomeOK, out[0].Kind)
	assert.InDelta(t, 0.3, f.sessions[2001].orders[0].Volume, 1e-9)
}

func TestModifyAll(t *testing.T) {
	t.Parallel()

	f, slaves := newFixture()
	f.sessions[2002].modErr = errors.Wrap(models.ErrOrderRejected, "retcode=10016 invalid stops")
	d := New(Config{Workers: 4}, f, slaves)

	links := []models.SlaveLink{
		{Account: "2001", PositionID: 7001},
		{Account: "2002", PositionID: 8001},
		{Account: "9999", PositionID: 1},
	}
	out := d.ModifyAll(context.Background(), links, 1.0980, 1.1100)

	require.Len(t, out, 3)
	assert.Equal(t, OutcomeOK, out[0].Kind)
	assert.Equal(t, OutcomeOrderRejected, out[1].Kind)
	assert.Equal(t, OutcomeUnknownAccount, out[2].Kind)

	assert.Equal(t, []int64{7001}, f.sessions[2001].modified)
	assert.Equal(t, []int64{8001}, f.sessions[2002].modified)
}

func TestCloseAll(t *testing.T) {
	t.Parallel()

	f, slaves := newFixture()
	f.sessions[2002].closeErr = errors.Wrap(models.ErrPositionNotFound, "#8001")
	d := New(Config{Workers: 2}, f, slaves)

	out := d.CloseAll(context.Background(), []models.SlaveLink{
		{Account: "2001", PositionID: 7001},
		{Account: "2002", PositionID: 8001},
	})

	require.Len(t, out, 2)
	assert.Equal(t, OutcomeOK, out[0].Kind)
	assert.Equal(t, OutcomeAlreadyClosed, out[1].Kind)
	assert.True(t, out[1].Success())
	assert.NoError(t, out[1].Failure())
}

func TestCloseAll_RejectedIsNotAlreadyClosed(t *testing.T) {
	t.Parallel()

	f, slaves := newFixture()
	f.sessions[2001].closeErr = errors.Wrap(models.ErrOrderRejected, "market closed")
	d := New(Config{Workers: 1}, f, slaves)

	out := d.CloseAll(context.Background(), []models.SlaveLink{{Account: "2001", PositionID: 7001}})

	require.Len(t, out, 1)
	assert.Equal(t, OutcomeOrderRejected, out[0].Kind)
	assert.Error(t, out[0].Failure())
}

func TestCloseAll_Timeout(t *testing.T) {
	t.Parallel()

	f, slaves := newFixture()
	f.sessions[2001].block = true
	d := New(Config{Workers: 2, OpTimeout: 20 * time.Millisecond}, f, slaves)

	start := time.Now()
	out := d.CloseAll(context.Background(), []models.SlaveLink{
		{Account: "2001", PositionID: 7001},
		{Account: "2002", PositionID: 8001},
	})

	require.Len(t, out, 2)
	assert.Equal(t, OutcomeTimeout, out[0].Kind)
	assert.Equal(t, OutcomeOK, out[1].Kind)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCloseAll_CancelledTickAbandonsRemaining(t *testing.T) {
	t.Parallel()

	f, slaves := newFixture()
	d := New(Config{Workers: 1}, f, slaves)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := d.CloseAll(ctx, []models.SlaveLink{
		{Account: "2001", PositionID: 7001},
		{Account: "2002", PositionID: 8001},
	})

	require.Len(t, out, 2)
	for _, o := range out {
		assert.Equal(t, OutcomeTimeout, o.Kind)
	}
	assert.Empty(t, f.sessions[2001].closed)
	assert.Empty(t, f.sessions[2002].closed)
}

func TestCloseAll_PanicKeepsSlaveIdentity(t *testing.T) {
	t.Parallel()

	f, slaves := newFixture()
	f.sessions[2002].panics = true
	d := New(Config{Workers: 2}, f, slaves)

	out := d.CloseAll(context.Background(), []models.SlaveLink{
		{Account: "2001", PositionID: 7001},
		{Account: "2002", PositionID: 8001},
	})

	require.Len(t, out, 2)
	assert.Equal(t, OutcomeOK, out[0].Kind)

	assert.Equal(t, OutcomeFailed, out[1].Kind)
	assert.Equal(t, OpClose, out[1].Op)
	assert.Equal(t, "2002", out[1].Account)
	assert.Equal(t, int64(8001), out[1].PositionID)
	require.Error(t, out[1].Err)
	assert.Contains(t, out[1].Err.Error(), "panic")
}
