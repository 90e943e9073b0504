package service

import (
	"context"
	"fmt"
	"time"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
)

// Connector — полиморфный адаптер биржи. Одна реализация на биржу,
// выбор через Registry по exchange id (никаких if exchange == "bybit").
type Connector interface {
	Exchange() string
	GetBalance(ctx context.Context, asset string) (models.Balance, error)
	ListPositions(ctx context.Context) ([]models.Position, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// Diagnosable — дополнительная поверхность коннектора для диагностики.
// Оба встроенных коннектора её реализуют.
type Diagnosable interface {
	Ping(ctx context.Context) error            // публичный endpoint, без кредов
	CheckPermissions(ctx context.Context) error
	CheckTrading(ctx context.Context) error
	CheckMarketData(ctx context.Context) error
}

// OrderRequest — нормализованный запрос ордера.
type OrderRequest struct {
	Instrument string
	Side       models.Direction
	Qty        float64 // в монетах
	Leverage   int
	StopLoss   float64
	TakeProfit float64
	ReduceOnly bool // закрытие позиции
}

// OrderResult — нормализованный ответ.
type OrderResult struct {
	OrderID string
	Latency time.Duration
}

// APIError — типизированная ошибка биржи: {ok=false, errorKind, rawCode}.
type APIError struct {
	Kind       models.ReasonCode // AUTH_FAILED / IP_RESTRICTED / ...
	HTTPStatus int
	RawCode    string
	Msg        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (http=%d raw=%s): %s", e.Kind, e.HTTPStatus, e.RawCode, e.Msg)
}

// Reason подключает APIError к общей таксономии через models.ReasonOf.
func (e *APIError) Reason() models.ReasonCode { return e.Kind }

// Options — общие настройки коннекторов.
type Options struct {
	Timeout    time.Duration
	RecvWindow int64 // ms
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.RecvWindow <= 0 {
		o.RecvWindow = 5000
	}
	return o
}
