package models

import "fmt"

type Direction int

const (
	DirectionLong  Direction = 0 // ORDER_TYPE_BUY
	DirectionShort Direction = 1 // ORDER_TYPE_SELL
)

func (d Direction) String() string {
	if d == DirectionShort {
		return "SELL"
	}
	return "BUY"
}

// MasterPosition: открытая позиция в терминале, снимок на текущий тик.
type MasterPosition struct {
	Ticket    int64
	Symbol    string
	Direction Direction
	Volume    float64
	Entry     float64
	SL        float64 // 0, стопа нет
	TP        float64 // 0, тейка нет
	Magic     int64
}

func (p MasterPosition) String() string {
	return fmt.Sprintf("#%d %s %s %.2f @ %.5f sl=%.5f tp=%.5f",
		p.Ticket, p.Symbol, p.Direction, p.Volume, p.Entry, p.SL, p.TP)
}

// InstrumentMeta: торговые параметры символа у брокера.
type InstrumentMeta struct {
	Symbol     string
	VolumeMin  float64
	VolumeStep float64
	TickValue  float64 // стоимость одного тика в валюте счёта
	TickSize   float64
}

type Quote struct {
	Bid float64
	Ask float64
}

// MarketOrder: запрос на рыночный ордер в slave-терминал.
type MarketOrder struct {
	Symbol    string
	Direction Direction
	Volume    float64
	Price     float64
	SL        float64
	TP        float64
	Comment   string
	Magic     int64
}

// DedupePositions убирает повторы тикетов, сохраняя порядок первого вхождения.
func DedupePositions(in []MasterPosition) []MasterPosition {
	seen := make(map[int64]struct{}, len(in))
	out := make([]MasterPosition, 0, len(in))
	for _, p := range in {
		if _, ok := seen[p.Ticket]; ok {
			continue
		}
		seen[p.Ticket] = struct{}{}
		out = append(out, p)
	}
	return out
}
