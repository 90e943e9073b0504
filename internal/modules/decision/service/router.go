package service

import (
	"context"
	"sync/atomic"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
)

// Decision — куда ведём сигнал: дешёвый алгоритмический путь или дорогой
// reasoning-оракул.
type Decision struct {
	RouteToReasoning bool
	ReasonCode       string
	Priority         int // 0 = обычный, 1 = срочный (закрытия)
	NoOp             bool // закрывать нечего — дальше не идём вообще
}

// Metrics — явный счётчик прогонов для отчёта по экономии. Не глобальный
// стейт процесса: передаётся ссылкой и сбрасывается явным вызовом.
type Metrics struct {
	total     atomic.Int64
	reasoning atomic.Int64
	fastPath  atomic.Int64
}

func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) Reset() {
	m.total.Store(0)
	m.reasoning.Store(0)
	m.fastPath.Store(0)
}

type MetricsSnapshot struct {
	Total     int64 `json:"total"`
	Reasoning int64 `json:"reasoning"`
	FastPath  int64 `json:"fast_path"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Total:     m.total.Load(),
		Reasoning: m.reasoning.Load(),
		FastPath:  m.fastPath.Load(),
	}
}

// Router решает, нужен ли оракул. Гарантия: reasoning зовётся только когда
// быстрый путь не может безопасно решить сам, и ни один неоднозначный кейс
// не дропается молча.
type Router struct {
	metrics *Metrics
}

func NewRouter(metrics *Metrics) *Router {
	return &Router{metrics: metrics}
}

func (r *Router) Metrics() *Metrics { return r.metrics }

// Route применяет политику к классифицированному сигналу.
//
//	STRONG                 -> reasoning всегда
//	CLOSE_WITH_POSITION    -> reasoning всегда
//	CLOSE_WITHOUT_POSITION -> алгоритмический no-op
//	NORMAL                 -> быстрый путь
//	UNCLASSIFIED           -> reasoning (safety fallback)
func (r *Router) Route(class models.SignalClass) Decision {
	r.metrics.total.Add(1)

	var d Decision
	switch class {
	case models.ClassStrong:
		d = Decision{RouteToReasoning: true, ReasonCode: "STRONG_SIGNAL", Priority: 1}
	case models.ClassCloseWithPosition:
		d = Decision{RouteToReasoning: true, ReasonCode: "CLOSE_OPEN_POSITION", Priority: 1}
	case models.ClassCloseWithoutPosition:
		d = Decision{ReasonCode: "CLOSE_NOTHING_OPEN", NoOp: true}
	case models.ClassNormal:
		d = Decision{ReasonCode: "FAST_PATH"}
	default:
		d = Decision{RouteToReasoning: true, ReasonCode: "UNCLASSIFIED_FALLBACK"}
	}

	if d.RouteToReasoning {
		r.metrics.reasoning.Add(1)
	} else {
		r.metrics.fastPath.Add(1)
	}
	return d
}

// Approval — ответ оракула/быстрого пути.
type Approval struct {
	Approved bool
	Reason   string
}

// Oracle — внешний reasoning-сервис. Вызывается под жёстким дедлайном;
// сам сервис вне скоупа, здесь только контракт.
type Oracle interface {
	Decide(ctx context.Context, sig models.Signal, class models.SignalClass,
		verdict models.MarketVerdict, open []models.Position) (Approval, error)
}

// RuleOracle — дефолтная заглушка оракула: одобряет всё, что прошло гейт
// вердикта, закрытия одобряет безусловно.
type RuleOracle struct{}

func NewRuleOracle() *RuleOracle { return &RuleOracle{} }

func (RuleOracle) Decide(_ context.Context, sig models.Signal, class models.SignalClass,
	verdict models.MarketVerdict, _ []models.Position) (Approval, error) {

	if sig.CloseIntent {
		return Approval{Approved: true, Reason: "close approved"}, nil
	}
	if !verdict.Direction.Allows(sig.Direction) {
		return Approval{Approved: false, Reason: "verdict gate"}, nil
	}
	if class == models.ClassUnclassified {
		return Approval{Approved: false, Reason: "unclassified"}, nil
	}
	return Approval{Approved: true, Reason: "rule approved"}, nil
}
