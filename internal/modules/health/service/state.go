package service

import (
	"sync/atomic"
	"time"
)

// State: то, что видно снаружи через /readyz и /healthz.
type State struct {
	ready     atomic.Bool
	startedAt time.Time

	masterConnected atomic.Bool
	lastTickUnix    atomic.Int64 // unix seconds
	tracked         atomic.Int64
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetMasterConnected(v bool) { s.masterConnected.Store(v) }
func (s *State) MasterConnected() bool     { return s.masterConnected.Load() }

func (s *State) SetTracked(n int) { s.tracked.Store(int64(n)) }
func (s *State) Tracked() int     { return int(s.tracked.Load()) }

func (s *State) TouchTick(t time.Time) { s.lastTickUnix.Store(t.Unix()) }
func (s *State) LastTick() time.Time {
	u := s.lastTickUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
