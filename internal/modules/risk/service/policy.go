package service

import (
	"math"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
)

// TierParams — параметры тарифа. Таблица монотонна по рангу тарифа:
// флор падает, доля баланса и плечо растут.
type TierParams struct {
	MinNotional        float64 // USDT, минимальный notional сделки
	MaxBalanceFraction float64 // доля свободного баланса под маржу
	MaxLeverage        int
	ProtectionExempt   bool // можно открываться без SL/TP
}

// HardLeverageCap — потолок плеча независимо от тарифа.
const HardLeverageCap = 10

var tierTable = map[models.Tier]TierParams{
	models.TierFree:    {MinNotional: 50, MaxBalanceFraction: 0.10, MaxLeverage: 2},
	models.TierBasic:   {MinNotional: 40, MaxBalanceFraction: 0.20, MaxLeverage: 3},
	models.TierPremium: {MinNotional: 30, MaxBalanceFraction: 0.30, MaxLeverage: 5},
	models.TierVIP:     {MinNotional: 20, MaxBalanceFraction: 0.40, MaxLeverage: 8, ProtectionExempt: true},
}

// Границы защитных уровней (дистанция от входа, доли).
const (
	minStopDist = 0.005 // 0.5%
	maxStopDist = 0.15
	minTakeDist = 0.01
	maxTakeDist = 0.50
)

// Params отдаёт тарифные параметры.
func Params(t models.Tier) (TierParams, bool) {
	p, ok := tierTable[t]
	return p, ok
}

// SizingRequest — вход политики.
type SizingRequest struct {
	User      models.User
	Class     models.SignalClass
	Direction models.Direction
	Entry     float64 // текущая цена инструмента
	Available float64 // свободный баланс, USDT

	// Желаемые уровни от вызывающего, 0 = посчитать дефолтные.
	StopLoss   float64
	TakeProfit float64
}

// SizingResult — просчитанные границы сделки.
type SizingResult struct {
	Notional   float64 // позиция с плечом, USDT
	Margin     float64 // своя маржа, USDT
	Size       float64 // в монетах
	Leverage   int
	StopLoss   float64
	TakeProfit float64
}

type Policy struct{}

func NewPolicy() *Policy { return &Policy{} }

// MinNotional — тарифный флор; для STRONG-сигналов он вдвое ниже
// (floor(normal/2)), чтобы сильный сигнал был доступен и мелким депозитам.
func (Policy) MinNotional(t models.Tier, class models.SignalClass) float64 {
	p, ok := tierTable[t]
	if !ok {
		return math.Inf(1)
	}
	if class == models.ClassStrong {
		return math.Floor(p.MinNotional / 2)
	}
	return p.MinNotional
}

// Size считает notional/плечо/защитные уровни для юзера.
func (pl Policy) Size(req SizingRequest) (SizingResult, error) {
	params, ok := tierTable[req.User.Tier]
	if !ok {
		return SizingResult{}, models.NewReasonError(models.ReasonUnknown,
			"unknown tier "+string(req.User.Tier))
	}

	lev := params.MaxLeverage
	if req.User.MaxLeverage > 0 && req.User.MaxLeverage < lev {
		lev = req.User.MaxLeverage
	}
	if lev > HardLeverageCap {
		lev = HardLeverageCap
	}

	fraction := params.MaxBalanceFraction
	if req.User.MaxPositionPct > 0 && req.User.MaxPositionPct < fraction {
		fraction = req.User.MaxPositionPct
	}

	margin := req.Available * fraction
	notional := margin * float64(lev)

	floor := pl.MinNotional(req.User.Tier, req.Class)
	if notional < floor {
		return SizingResult{}, models.NewReasonError(models.ReasonBelowMinimumNotional,
			"computed notional below tier floor")
	}

	res := SizingResult{
		Notional: notional,
		Margin:   margin,
		Leverage: lev,
	}

	if req.Entry > 0 {
		res.Size = notional / req.Entry
	}

	sl, tp, ok := protectiveBounds(req.Direction, req.Entry, lev, req.StopLoss, req.TakeProfit)
	if !ok {
		if !params.ProtectionExempt {
			return SizingResult{}, models.NewReasonError(models.ReasonMissingProtection,
				"protective bounds cannot be established")
		}
		return res, nil
	}
	res.StopLoss = sl
	res.TakeProfit = tp
	return res, nil
}

// protectiveBounds клампит SL/TP вызывающего в безопасный коридор;
// при нулях считает дефолты от плеча (SL = 2%·lev, TP = 3%·lev от входа).
func protectiveBounds(dir models.Direction, entry float64, lev int, sl, tp float64) (float64, float64, bool) {
	if entry <= 0 {
		return 0, 0, false
	}

	slDist := 0.02 * float64(lev)
	tpDist := 0.03 * float64(lev)
	if sl > 0 {
		slDist = math.Abs(entry-sl) / entry
	}
	if tp > 0 {
		tpDist = math.Abs(tp-entry) / entry
	}

	slDist = clamp(slDist, minStopDist, maxStopDist)
	tpDist = clamp(tpDist, minTakeDist, maxTakeDist)

	if dir == models.DirShort {
		return entry * (1 + slDist), entry * (1 - tpDist), true
	}
	return entry * (1 - slDist), entry * (1 + tpDist), true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
