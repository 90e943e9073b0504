package models

import "time"

// Position — открытая/закрытая позиция пользователя на бирже.
// Строка принадлежит паре (user, exchange) и никогда не шарится между юзерами.
type Position struct {
	UserID     int64     `json:"user_id"`
	Exchange   string    `json:"exchange"`
	Instrument string    `json:"instrument"`
	Side       Direction `json:"side"`

	Size       float64 `json:"size"`
	EntryPrice float64 `json:"entry_price"`
	MarkPrice  float64 `json:"mark_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Leverage   int     `json:"leverage"`

	UnrealizedPnl float64 `json:"unrealized_pnl"`

	Open      bool      `json:"open"`
	OpenedAt  time.Time `json:"opened_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PosKey — структурный ключ позиции в стейте.
type PosKey struct {
	UserID     int64
	Exchange   string
	Instrument string
	Side       Direction
}

func (p Position) Key() PosKey {
	return PosKey{UserID: p.UserID, Exchange: p.Exchange, Instrument: p.Instrument, Side: p.Side}
}

// Balance — кеш баланса по (user, exchange, asset).
type Balance struct {
	UserID    int64     `json:"user_id"`
	Exchange  string    `json:"exchange"`
	Asset     string    `json:"asset"` // "USDT"
	Total     float64   `json:"total"`
	Available float64   `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BalKey — структурный ключ баланса.
type BalKey struct {
	UserID   int64
	Exchange string
	Asset    string
}

func (b Balance) Key() BalKey {
	return BalKey{UserID: b.UserID, Exchange: b.Exchange, Asset: b.Asset}
}
