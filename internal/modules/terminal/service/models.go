package service

import "encoding/json"

// Кадры бриджа терминала. Один запрос, один ответ с тем же id.

type request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

const (
	methodInitialize     = "initialize"
	methodPositionsGet   = "positions_get"
	methodSymbolInfo     = "symbol_info"
	methodSymbolInfoTick = "symbol_info_tick"
	methodOrderSend      = "order_send"
	methodPositionModify = "position_modify"
	methodPositionClose  = "position_close"
	methodShutdown       = "shutdown"
)

// коды ошибок бриджа
const (
	codeNotFound = "not_found"
	codeAuth     = "auth_failed"
)

// retcodeDone: TRADE_RETCODE_DONE
const retcodeDone = 10009

type initializeParams struct {
	Login    int64  `json:"login"`
	Password string `json:"password"`
	Server   string `json:"server"`
	Path     string `json:"path,omitempty"`
}

type symbolParams struct {
	Symbol string `json:"symbol"`
}

type positionDTO struct {
	Ticket    int64   `json:"ticket"`
	Symbol    string  `json:"symbol"`
	Type      int     `json:"type"` // 0 buy, 1 sell
	Volume    float64 `json:"volume"`
	PriceOpen float64 `json:"price_open"`
	SL        float64 `json:"sl"`
	TP        float64 `json:"tp"`
	Magic     int64   `json:"magic"`
}

type symbolInfoDTO struct {
	VolumeMin      float64 `json:"volume_min"`
	VolumeStep     float64 `json:"volume_step"`
	TradeTickValue float64 `json:"trade_tick_value"`
	TradeTickSize  float64 `json:"trade_tick_size"`
}

type tickDTO struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

type orderSendParams struct {
	Symbol      string  `json:"symbol"`
	Volume      float64 `json:"volume"`
	Type        int     `json:"type"`
	Price       float64 `json:"price"`
	SL          float64 `json:"sl"`
	TP          float64 `json:"tp"`
	Comment     string  `json:"comment"`
	Magic       int64   `json:"magic"`
	TypeTime    string  `json:"type_time"`
	TypeFilling string  `json:"type_filling"`
}

type positionModifyParams struct {
	Position int64   `json:"position"`
	SL       float64 `json:"sl"`
	TP       float64 `json:"tp"`
}

type positionCloseParams struct {
	Position int64 `json:"position"`
}

type tradeResultDTO struct {
	Retcode int    `json:"retcode"`
	Order   int64  `json:"order"`
	Comment string `json:"comment"`
}
