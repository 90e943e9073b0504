package service

import (
	"strings"
	"time"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/scheduler"
)

// Envelope — входящий конверт от алерт-провайдера. Транспорт вне скоупа,
// здесь только схема.
type Envelope struct {
	ID         string    `json:"id"`
	Instrument string    `json:"instrument"`
	Action     string    `json:"action"` // LONG | SHORT | *_FORTE | CLOSE_* | FECHE_*
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}

// Intake валидирует конверт и собирает models.Signal.
type Intake struct {
	clk       scheduler.Clock
	freshness time.Duration
}

func NewIntake(clk scheduler.Clock, freshness time.Duration) *Intake {
	return &Intake{clk: clk, freshness: freshness}
}

func (i *Intake) Freshness() time.Duration { return i.freshness }

// Validate проверяет обязательные поля и свежесть.
// Протухший сигнал — STALE_SIGNAL, до классификации не доходит.
func (i *Intake) Validate(env Envelope) (models.Signal, error) {
	if env.Instrument == "" || env.Action == "" || env.Source == "" || env.Timestamp.IsZero() {
		return models.Signal{}, models.NewReasonError(models.ReasonUnsupportedInstrument,
			"envelope missing required fields")
	}
	if !strings.HasSuffix(strings.ToUpper(env.Instrument), "USDT") {
		return models.Signal{}, models.NewReasonError(models.ReasonUnsupportedInstrument,
			"instrument "+env.Instrument+" is not a USDT perpetual")
	}

	now := i.clk.Now()
	if now.Sub(env.Timestamp) > i.freshness {
		return models.Signal{}, models.NewReasonError(models.ReasonStaleSignal,
			"signal older than freshness window")
	}

	sig := models.Signal{
		ID:         env.ID,
		Instrument: strings.ToUpper(env.Instrument),
		Action:     strings.ToUpper(strings.TrimSpace(env.Action)),
		Source:     env.Source,
		ReceivedAt: now,
		ExpiresAt:  env.Timestamp.Add(i.freshness),
	}
	sig.Direction, sig.Strong, sig.CloseIntent = parseAction(sig.Action)
	return sig, nil
}

// parseAction разбирает действие из конверта. Апстрим шлёт и английские,
// и португальские варианты (FORTE = strong, FECHE = close).
func parseAction(action string) (models.Direction, bool, bool) {
	switch action {
	case "LONG", "BUY":
		return models.DirLong, false, false
	case "SHORT", "SELL":
		return models.DirShort, false, false
	case "LONG_FORTE", "STRONG_LONG":
		return models.DirLong, true, false
	case "SHORT_FORTE", "STRONG_SHORT":
		return models.DirShort, true, false
	case "CLOSE_LONG", "FECHE_LONG":
		return models.DirLong, false, true
	case "CLOSE_SHORT", "FECHE_SHORT":
		return models.DirShort, false, true
	default:
		return "", false, false
	}
}

// Classify тегирует сигнал. Для close-intent направление сверяется с
// открытыми позициями (CLOSE_WITH_POSITION против CLOSE_WITHOUT_POSITION —
// от этого зависит стоимость маршрута ниже по конвейеру).
func Classify(sig models.Signal, open []models.Position) models.SignalClass {
	if sig.Direction == "" {
		return models.ClassUnclassified
	}
	if sig.CloseIntent {
		for _, p := range open {
			if p.Open && p.Instrument == sig.Instrument && p.Side == sig.Direction {
				return models.ClassCloseWithPosition
			}
		}
		return models.ClassCloseWithoutPosition
	}
	if sig.Strong {
		return models.ClassStrong
	}
	return models.ClassNormal
}
