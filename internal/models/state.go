package models

import "sort"

// SlaveLink: ордер, порождённый мастер-позицией на одном slave-счёте.
type SlaveLink struct {
	Account    string // логин slave-счёта строкой
	PositionID int64
}

// ReplicationRecord: что мы знаем про одну мастер-позицию.
type ReplicationRecord struct {
	SL     float64
	TP     float64
	Slaves map[string]int64 // account -> slave ticket
}

func NewReplicationRecord(sl, tp float64) *ReplicationRecord {
	return &ReplicationRecord{SL: sl, TP: tp, Slaves: make(map[string]int64)}
}

// Links отдаёт связки в стабильном порядке (по логину).
func (r *ReplicationRecord) Links() []SlaveLink {
	out := make([]SlaveLink, 0, len(r.Slaves))
	for acc, id := range r.Slaves {
		out = append(out, SlaveLink{Account: acc, PositionID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

func (r *ReplicationRecord) Clone() *ReplicationRecord {
	c := NewReplicationRecord(r.SL, r.TP)
	for k, v := range r.Slaves {
		c.Slaves[k] = v
	}
	return c
}

// ReconciliationState: master ticket -> запись. Единственное, что персистится.
type ReconciliationState map[int64]*ReplicationRecord

func (s ReconciliationState) Clone() ReconciliationState {
	out := make(ReconciliationState, len(s))
	for k, v := range s {
		out[k] = v.Clone()
	}
	return out
}

// Tickets: отсортированные ключи, чтобы закрытия шли детерминированно.
func (s ReconciliationState) Tickets() []int64 {
	out := make([]int64, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
