package service

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/logger"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/scheduler"
)

// Пороги Market-Pulse. Фиксированные, не настраиваются.
const (
	breadthThreshold = 60.0 // PM+ / PM- >= 60%
	breadthBandLow   = 40.0
	breadthBandHigh  = 60.0
	vwDeltaThreshold = 0.5 // %

	fearOverride  = 30.0 // F&G < 30 => только LONG
	greedOverride = 80.0 // F&G > 80 => только SHORT
)

// Aggregator держит единственный на процесс вердикт. Обработка сигналов
// всегда читает кеш и никогда не ждёт пересчёта.
type Aggregator struct {
	fg    FearGreedSource
	dom   DominanceSource
	pulse PulseSource

	clk     scheduler.Clock
	cadence time.Duration

	mu      sync.RWMutex
	current models.MarketVerdict
	primed  bool
}

func NewAggregator(fg FearGreedSource, dom DominanceSource, pulse PulseSource, clk scheduler.Clock, cadence time.Duration) *Aggregator {
	return &Aggregator{
		fg:      fg,
		dom:     dom,
		pulse:   pulse,
		clk:     clk,
		cadence: cadence,
	}
}

// Refresh собирает входы и пересчитывает вердикт. Падение любого фида
// деградирует в нейтральные значения, Refresh не возвращает ошибку наверх.
func (a *Aggregator) Refresh(ctx context.Context) {
	snap := models.SentimentSnapshot{
		FearGreed: 50,
		PMPlus:    50,
		VWDelta:   0,
	}

	if v, err := a.fg.FearGreed(ctx); err != nil {
		logger.Error("sentiment: fear&greed feed failed, using neutral: %v", err)
	} else {
		snap.FearGreed = v
	}

	if dom, trend, err := a.dom.Dominance(ctx); err != nil {
		logger.Error("sentiment: dominance feed failed, using neutral: %v", err)
	} else {
		snap.BTCDominance = dom
		snap.DominanceTrend = trend
	}

	if pm, vw, err := a.pulse.Pulse(ctx); err != nil {
		logger.Error("sentiment: market-pulse feed failed, using neutral: %v", err)
	} else {
		snap.PMPlus = pm
		snap.VWDelta = vw
	}

	snap.CollectedAt = a.clk.Now()

	dir, conf := Compute(snap)
	verdict := models.MarketVerdict{
		Direction:   dir,
		Confidence:  conf,
		GeneratedAt: a.clk.Now(),
		Inputs:      snap,
	}

	a.mu.Lock()
	a.current = verdict
	a.primed = true
	a.mu.Unlock()

	logger.Info("sentiment: verdict=%s conf=%.2f pm+=%.1f vwΔ=%.2f fg=%.0f",
		dir, conf, snap.PMPlus, snap.VWDelta, snap.FearGreed)
}

// Current отдаёт последний вердикт. Если входы не обновлялись дольше
// 2× cadence — протухший вердикт не отдаём, вместо него NONE с урезанной
// уверенностью.
func (a *Aggregator) Current() models.MarketVerdict {
	a.mu.RLock()
	v := a.current
	primed := a.primed
	a.mu.RUnlock()

	if !primed {
		return models.MarketVerdict{Direction: models.VerdictNone, GeneratedAt: a.clk.Now()}
	}
	if a.clk.Now().Sub(v.GeneratedAt) > 2*a.cadence {
		return models.MarketVerdict{
			Direction:   models.VerdictNone,
			Confidence:  math.Min(v.Confidence*0.25, 0.2),
			GeneratedAt: v.GeneratedAt,
			Inputs:      v.Inputs,
		}
	}
	return v
}

// Cadence нужен health-эндпоинту для вычисления возраста вердикта.
func (a *Aggregator) Cadence() time.Duration { return a.cadence }

// Compute — чистая функция вердикта из снапшота.
//
// Market-Pulse:
//   - PM+ >= 60 и VWΔ > +0.5%  -> LONG-only
//   - PM- >= 60 и VWΔ < -0.5%  -> SHORT-only
//   - PM+ в [40,60] или |VWΔ| <= 0.5% -> BOTH
//   - противоречие breadth/объёма -> NONE (осторожный tie-break)
//
// Fear&Greed поверх: <30 — только LONG, >80 — только SHORT, 30..80 не трогает.
func Compute(s models.SentimentSnapshot) (models.VerdictDirection, float64) {
	pm := s.PMPlus
	pmMinus := 100.0 - pm
	vw := s.VWDelta

	var dir models.VerdictDirection
	var conf float64

	switch {
	case pm >= breadthThreshold && vw > vwDeltaThreshold:
		dir = models.VerdictLong
		conf = directionalConfidence(pm, vw)
	case pmMinus >= breadthThreshold && vw < -vwDeltaThreshold:
		dir = models.VerdictShort
		conf = directionalConfidence(pmMinus, vw)
	case (pm >= breadthBandLow && pm <= breadthBandHigh) || math.Abs(vw) <= vwDeltaThreshold:
		dir = models.VerdictBoth
		conf = 0.5
	default:
		// breadth и объём тянут в разные стороны
		dir = models.VerdictNone
		conf = 0.2
	}

	if s.FearGreed < fearOverride {
		dir = models.VerdictLong
		conf = math.Max(conf, 0.5+(fearOverride-s.FearGreed)/60.0)
	} else if s.FearGreed > greedOverride {
		dir = models.VerdictShort
		conf = math.Max(conf, 0.5+(s.FearGreed-greedOverride)/60.0)
	}

	if conf > 1 {
		conf = 1
	}
	return dir, conf
}

func directionalConfidence(breadth, vw float64) float64 {
	conf := 0.5
	conf += math.Min(0.25, (breadth-50.0)/80.0)
	conf += math.Min(0.25, math.Abs(vw)/4.0)
	return conf
}
