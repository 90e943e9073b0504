package models

import "time"

// Direction сигнала/позиции.
type Direction string

const (
	DirLong  Direction = "LONG"
	DirShort Direction = "SHORT"
)

// Opposite — противоположная сторона (для close-intent и политики BOTH).
func (d Direction) Opposite() Direction {
	if d == DirLong {
		return DirShort
	}
	return DirLong
}

// Signal — входящий торговый алерт по одному инструменту.
// Живёт от ингеста до роутера, дальше остаётся только в метриках.
type Signal struct {
	ID          string    `json:"id"`
	Instrument  string    `json:"instrument"` // "BTCUSDT"
	Action      string    `json:"action"`     // сырое действие из конверта ("LONG_FORTE", "FECHE_SHORT"...)
	Direction   Direction `json:"direction"`  // пустая, если Action не распознан
	CloseIntent bool      `json:"close_intent"` // закрыть позицию Direction, а не открыть
	Strong      bool      `json:"strong"`       // *_FORTE
	Source      string    `json:"source"`
	ReceivedAt  time.Time `json:"received_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Actionable — сигнал ещё не протух.
func (s Signal) Actionable(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// SignalClass — результат классификации.
type SignalClass string

const (
	ClassNormal               SignalClass = "NORMAL"
	ClassStrong               SignalClass = "STRONG"
	ClassCloseWithPosition    SignalClass = "CLOSE_WITH_POSITION"
	ClassCloseWithoutPosition SignalClass = "CLOSE_WITHOUT_POSITION"
	ClassUnclassified         SignalClass = "UNCLASSIFIED"
)
