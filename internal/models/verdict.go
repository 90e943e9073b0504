package models

import "time"

// VerdictDirection — направленный гейт рынка.
type VerdictDirection string

const (
	VerdictLong  VerdictDirection = "LONG"
	VerdictShort VerdictDirection = "SHORT"
	VerdictBoth  VerdictDirection = "BOTH"
	VerdictNone  VerdictDirection = "NONE"
)

// Allows — пропускает ли гейт сигнал данного направления.
func (v VerdictDirection) Allows(d Direction) bool {
	switch v {
	case VerdictBoth:
		return true
	case VerdictLong:
		return d == DirLong
	case VerdictShort:
		return d == DirShort
	default:
		return false
	}
}

// SentimentSnapshot — входы агрегатора на момент расчёта.
type SentimentSnapshot struct {
	FearGreed      float64   `json:"fear_greed"`     // [0,100]
	BTCDominance   float64   `json:"btc_dominance"`  // %
	DominanceTrend float64   `json:"dominance_trend"` // Δ% за сутки
	PMPlus         float64   `json:"pm_plus"`        // % топ-100 с положительным 24h
	VWDelta        float64   `json:"vw_delta"`       // volume-weighted Δ24h, %
	CollectedAt    time.Time `json:"collected_at"`
}

// MarketVerdict — процесс-wide вердикт, одна штука на весь движок.
type MarketVerdict struct {
	Direction   VerdictDirection  `json:"direction"`
	Confidence  float64           `json:"confidence"` // [0,1]
	GeneratedAt time.Time         `json:"generated_at"`
	Inputs      SentimentSnapshot `json:"inputs"`
}
