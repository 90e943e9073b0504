package service

import (
	"sync/atomic"
	"time"
)

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	streamConnected atomic.Bool
	lastSignalUnix  atomic.Int64 // unix seconds
	lastSweepUnix   atomic.Int64
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetStreamConnected(v bool) { s.streamConnected.Store(v) }
func (s *State) StreamConnected() bool     { return s.streamConnected.Load() }

// TouchSignal отмечает последний принятый сигнал.
func (s *State) TouchSignal(t time.Time) { s.lastSignalUnix.Store(t.Unix()) }
func (s *State) LastSignal() time.Time   { return unixOrZero(s.lastSignalUnix.Load()) }

// TouchSweep отмечает последний цикл диагностического мониторинга.
func (s *State) TouchSweep(t time.Time) { s.lastSweepUnix.Store(t.Unix()) }
func (s *State) LastSweep() time.Time   { return unixOrZero(s.lastSweepUnix.Load()) }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

func unixOrZero(u int64) time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}
