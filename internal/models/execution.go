package models

import "time"

// ExecutionOutcome — итог исполнения по одному юзеру.
type ExecutionOutcome string

const (
	OutcomeExecuted ExecutionOutcome = "EXECUTED"
	OutcomeFailed   ExecutionOutcome = "FAILED"
	OutcomeSkipped  ExecutionOutcome = "SKIPPED"
)

// ExecutionRecord — одна запись фан-аута: (signal, user, exchange) → результат.
type ExecutionRecord struct {
	SignalID string           `json:"signal_id"`
	UserID   int64            `json:"user_id"`
	Exchange string           `json:"exchange"`
	Outcome  ExecutionOutcome `json:"outcome"`
	Reason   ReasonCode       `json:"reason,omitempty"`
	Error    string           `json:"error,omitempty"`
	OrderID  string           `json:"order_id,omitempty"`
	Notional float64          `json:"notional,omitempty"`
	Leverage int              `json:"leverage,omitempty"`
	Latency  time.Duration    `json:"latency"`
}

// RunSummary — итог обработки одного сигнала по всем юзерам.
// Наружу уходят только счётчики и коды причин, без стектрейсов.
type RunSummary struct {
	SignalID   string             `json:"signal_id"`
	Class      SignalClass        `json:"class"`
	Verdict    VerdictDirection   `json:"verdict"`
	Approved   int                `json:"approved"`
	Executed   int                `json:"executed"`
	Failed     int                `json:"failed"`
	Skipped    int                `json:"skipped"`
	Reasons    map[ReasonCode]int `json:"reasons,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
}
