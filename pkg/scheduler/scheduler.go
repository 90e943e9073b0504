package scheduler

import (
	"context"
	"sync"
	"time"
)

// Clock абстрагирует время, чтобы в тестах крутить его руками,
// а не спать в time.Sleep.
type Clock interface {
	Now() time.Time
	Tick(d time.Duration) <-chan time.Time
}

// Real — обычные часы поверх time.
type Real struct{}

func NewReal() *Real { return &Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) Tick(d time.Duration) <-chan time.Time {
	// тикер намеренно не останавливаем: канал живёт столько же, сколько воркер
	return time.NewTicker(d).C
}

// Every гоняет fn по тикам до отмены контекста. Первый прогон — сразу.
func Every(ctx context.Context, clk Clock, d time.Duration, fn func(ctx context.Context)) {
	fn(ctx)
	tick := clk.Tick(d)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			fn(ctx)
		}
	}
}

// Fake — виртуальные часы для тестов.
type Fake struct {
	mu   sync.Mutex
	now  time.Time
	subs []*fakeTicker
}

type fakeTicker struct {
	ch   chan time.Time
	d    time.Duration
	next time.Time
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Tick(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 16), d: d, next: f.now.Add(d)}
	f.subs = append(f.subs, t)
	return t.ch
}

// Advance двигает время вперёд и будит все тикеры, чей срок наступил.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	for _, t := range f.subs {
		for !t.next.After(f.now) {
			select {
			case t.ch <- t.next:
			default:
			}
			t.next = t.next.Add(t.d)
		}
	}
}
