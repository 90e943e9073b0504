package models

import "time"

// Tier — план подписки пользователя. Порядок важен: FREE < BASIC < PREMIUM < VIP.
type Tier string

const (
	TierFree    Tier = "FREE"
	TierBasic   Tier = "BASIC"
	TierPremium Tier = "PREMIUM"
	TierVIP     Tier = "VIP"
)

var tierRank = map[Tier]int{
	TierFree:    0,
	TierBasic:   1,
	TierPremium: 2,
	TierVIP:     3,
}

// Rank возвращает позицию тарифа (для монотонных проверок), -1 для неизвестного.
func (t Tier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return -1
}

func (t Tier) Valid() bool { return t.Rank() >= 0 }

// User хранит данные пользователя движка.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Tier Tier   `json:"tier"`

	// Персональные лимиты поверх тарифных (0 = брать тарифные).
	MaxLeverage    int     `json:"max_leverage,omitempty"`
	MaxPositionPct float64 `json:"max_position_pct,omitempty"`

	Active bool `json:"active"`
}

// Environment — контур биржи, на который смотрит ключ.
type Environment string

const (
	EnvMainnet Environment = "mainnet"
	EnvTestnet Environment = "testnet"
)

// ValidationStatus ключа. Меняется ТОЛЬКО диагностикой.
type ValidationStatus string

const (
	CredentialPending ValidationStatus = "PENDING"
	CredentialValid   ValidationStatus = "VALID"
	CredentialInvalid ValidationStatus = "INVALID"
)

// ExchangeCredential — ключи пользователя на конкретной бирже.
type ExchangeCredential struct {
	UserID      int64       `json:"user_id"`
	Exchange    string      `json:"exchange"` // "bybit" / "binance"
	Environment Environment `json:"environment"`

	APIKey    string `json:"api_key"`
	APISecret string `json:"-"`

	ValidationStatus ValidationStatus `json:"validation_status"`
	LastCheckedAt    time.Time        `json:"last_checked_at"`
}

// CredKey — ключ кеша кредов. Структурный, не строковая склейка.
type CredKey struct {
	UserID      int64
	Exchange    string
	Environment Environment
}

func (c ExchangeCredential) Key() CredKey {
	return CredKey{UserID: c.UserID, Exchange: c.Exchange, Environment: c.Environment}
}
