package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"risksync/internal/models"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const defaultCallTimeout = 10 * time.Second

// BridgeError: бридж ответил ok=false.
type BridgeError struct {
	Method  string
	Code    string
	Message string
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("bridge %s: code=%s msg=%s", e.Method, e.Code, e.Message)
}

// Dialer открывает сессии к бриджам терминалов.
type Dialer struct {
	ws          *websocket.Dialer
	callTimeout time.Duration
}

func NewDialer() *Dialer {
	return &Dialer{
		ws:          &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		callTimeout: defaultCallTimeout,
	}
}

// Session: одно подключение к терминалу конкретного счёта.
// Вызовы сериализуются: у бриджа всегда не больше одного запроса в полёте.
type Session struct {
	account     models.Account
	conn        *websocket.Conn
	callTimeout time.Duration

	mu sync.Mutex
}

// Open подключается к бриджу и логинится в терминал (mt5.initialize).
func (d *Dialer) Open(ctx context.Context, acc models.Account) (*Session, error) {
	conn, _, err := d.ws.DialContext(ctx, acc.Endpoint, nil)
	if err != nil {
		return nil, errors.Wrapf(models.ErrConnection, "dial %s: %v", acc.Endpoint, err)
	}

	s := &Session{account: acc, conn: conn, callTimeout: d.callTimeout}

	err = s.call(ctx, methodInitialize, initializeParams{
		Login:    acc.Login,
		Password: acc.Password,
		Server:   acc.Server,
		Path:     acc.Path,
	}, nil)
	if err != nil {
		_ = conn.Close()
		var be *BridgeError
		if errors.As(err, &be) {
			if be.Code == codeAuth {
				return nil, errors.Wrapf(models.ErrConnection, "login %d rejected by terminal: %s", acc.Login, be.Message)
			}
			return nil, errors.Wrapf(models.ErrConnection, "initialize login %d: %s: %s", acc.Login, be.Code, be.Message)
		}
		return nil, err
	}

	return s, nil
}

func (s *Session) Account() models.Account { return s.account }

func (s *Session) OpenPositions(ctx context.Context) ([]models.MasterPosition, error) {
	var rows []positionDTO
	if err := s.call(ctx, methodPositionsGet, nil, &rows); err != nil {
		return nil, errors.Wrap(err, "positions_get")
	}

	res := make([]models.MasterPosition, 0, len(rows))
	for _, r := range rows {
		dir := models.DirectionLong
		if r.Type == 1 {
			dir = models.DirectionShort
		}
		res = append(res, models.MasterPosition{
			Ticket:    r.Ticket,
			Symbol:    r.Symbol,
			Direction: dir,
			Volume:    r.Volume,
			Entry:     r.PriceOpen,
			SL:        r.SL,
			TP:        r.TP,
			Magic:     r.Magic,
		})
	}
	return res, nil
}

func (s *Session) InstrumentMeta(ctx context.Context, symbol string) (models.InstrumentMeta, error) {
	var info symbolInfoDTO
	if err := s.call(ctx, methodSymbolInfo, symbolParams{Symbol: symbol}, &info); err != nil {
		var be *BridgeError
		if errors.As(err, &be) {
			return models.InstrumentMeta{}, errors.Wrapf(models.ErrInstrumentUnavailable, "%s: %s", symbol, be.Message)
		}
		return models.InstrumentMeta{}, err
	}

	return models.InstrumentMeta{
		Symbol:     symbol,
		VolumeMin:  info.VolumeMin,
		VolumeStep: info.VolumeStep,
		TickValue:  info.TradeTickValue,
		TickSize:   info.TradeTickSize,
	}, nil
}

func (s *Session) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	var tick tickDTO
	if err := s.call(ctx, methodSymbolInfoTick, symbolParams{Symbol: symbol}, &tick); err != nil {
		return models.Quote{}, errors.Wrapf(err, "quote %s", symbol)
	}
	if tick.Bid <= 0 || tick.Ask <= 0 {
		return models.Quote{}, errors.Wrapf(models.ErrInstrumentUnavailable, "%s: empty quote bid=%.5f ask=%.5f", symbol, tick.Bid, tick.Ask)
	}
	return models.Quote{Bid: tick.Bid, Ask: tick.Ask}, nil
}

// PlaceMarket: TRADE_ACTION_DEAL, GTC, IOC. Возвращает тикет нового ордера.
func (s *Session) PlaceMarket(ctx context.Context, o models.MarketOrder) (int64, error) {
	var res tradeResultDTO
	err := s.call(ctx, methodOrderSend, orderSendParams{
		Symbol:      o.Symbol,
		Volume:      o.Volume,
		Type:        int(o.Direction),
		Price:       o.Price,
		SL:          o.SL,
		TP:          o.TP,
		Comment:     o.Comment,
		Magic:       o.Magic,
		TypeTime:    "gtc",
		TypeFilling: "ioc",
	}, &res)
	if err := tradeError(err, res); err != nil {
		return 0, errors.Wrapf(err, "order_send %s %s %.2f", o.Symbol, o.Direction, o.Volume)
	}
	return res.Order, nil
}

// UpdateStopTarget: TRADE_ACTION_SLTP по тикету позиции.
func (s *Session) UpdateStopTarget(ctx context.Context, positionID int64, sl, tp float64) error {
	var res tradeResultDTO
	err := s.call(ctx, methodPositionModify, positionModifyParams{Position: positionID, SL: sl, TP: tp}, &res)
	if err := tradeError(err, res); err != nil {
		return errors.Wrapf(err, "position_modify #%d", positionID)
	}
	return nil
}

func (s *Session) ClosePosition(ctx context.Context, positionID int64) error {
	var res tradeResultDTO
	err := s.call(ctx, methodPositionClose, positionCloseParams{Position: positionID}, &res)

	var be *BridgeError
	if errors.As(err, &be) && be.Code == codeNotFound {
		return errors.Wrapf(models.ErrPositionNotFound, "#%d", positionID)
	}
	if err := tradeError(err, res); err != nil {
		return errors.Wrapf(err, "position_close #%d", positionID)
	}
	return nil
}

// Close: mt5.shutdown на бридже и закрытие сокета.
func (s *Session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.call(ctx, methodShutdown, nil, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return s.conn.Close()
}

func tradeError(err error, res tradeResultDTO) error {
	if err != nil {
		var be *BridgeError
		if errors.As(err, &be) {
			return errors.Wrapf(models.ErrOrderRejected, "%s: %s", be.Code, be.Message)
		}
		return err
	}
	if res.Retcode != retcodeDone {
		return errors.Wrapf(models.ErrOrderRejected, "retcode=%d %s", res.Retcode, res.Comment)
	}
	return nil
}

func (s *Session) call(ctx context.Context, method string, params any, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	payload, err := sonic.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		return errors.Wrapf(err, "marshal %s", method)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.callTimeout)
	}
	_ = s.conn.SetWriteDeadline(deadline)
	_ = s.conn.SetReadDeadline(deadline)

	// отмена ctx рвёт блокирующее чтение
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.Wrapf(models.ErrConnection, "write %s: %v", method, err)
	}

	var resp response
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return errors.Wrapf(ctx.Err(), "%s", method)
			}
			return errors.Wrapf(models.ErrConnection, "read %s: %v", method, err)
		}
		resp = response{}
		if err := sonic.Unmarshal(data, &resp); err != nil {
			return errors.Wrapf(err, "decode %s response", method)
		}
		// ответы на чужие (протухшие) запросы пропускаем
		if resp.ID == id {
			break
		}
	}

	if !resp.OK {
		return &BridgeError{Method: method, Code: resp.Code, Message: resp.Message}
	}
	if out != nil && len(resp.Result) > 0 {
		if err := sonic.Unmarshal(resp.Result, out); err != nil {
			return errors.Wrapf(err, "decode %s result", method)
		}
	}
	return nil
}
