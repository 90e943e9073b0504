package service

import (
	"context"
	"time"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
	connector "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/connector/service"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/logger"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/scheduler"
)

// Refresher периодически синхронизирует кеш балансов/позиций с биржами
// и кормит кеш mark-цен из публичного стрима.
type Refresher struct {
	orch         *Orchestrator
	stream       *connector.MarkStream
	balanceEach  time.Duration
	positionEach time.Duration
}

func NewRefresher(orch *Orchestrator, stream *connector.MarkStream,
	balanceEach, positionEach time.Duration) *Refresher {
	if balanceEach <= 0 {
		balanceEach = 3 * time.Minute
	}
	if positionEach <= 0 {
		positionEach = 5 * time.Minute
	}
	return &Refresher{
		orch:         orch,
		stream:       stream,
		balanceEach:  balanceEach,
		positionEach: positionEach,
	}
}

// Run блокируется до отмены контекста.
func (r *Refresher) Run(ctx context.Context) {
	go scheduler.Every(ctx, r.orch.clk, r.balanceEach, r.RefreshBalances)
	go scheduler.Every(ctx, r.orch.clk, r.positionEach, r.RefreshPositions)
	r.consumeMarks(ctx)
}

// RefreshBalances — один проход по всем живым кредам.
func (r *Refresher) RefreshBalances(ctx context.Context) {
	creds, err := r.orch.creds.ListCredentials(ctx)
	if err != nil {
		logger.Error("refresh: list credentials: %v", err)
		return
	}
	for _, cred := range creds {
		if cred.ValidationStatus != models.CredentialValid {
			continue
		}
		conn, err := r.orch.registry.For(cred)
		if err != nil {
			continue
		}
		bal, err := conn.GetBalance(ctx, "USDT")
		if err != nil {
			logger.Error("refresh: balance user=%d exchange=%s: %v", cred.UserID, cred.Exchange, err)
			continue
		}
		r.orch.state.UpsertBalance(bal)
	}
}

// RefreshPositions подтягивает открытые позиции и помечает закрытыми те,
// что пропали с биржи.
func (r *Refresher) RefreshPositions(ctx context.Context) {
	creds, err := r.orch.creds.ListCredentials(ctx)
	if err != nil {
		logger.Error("refresh: list credentials: %v", err)
		return
	}
	for _, cred := range creds {
		if cred.ValidationStatus != models.CredentialValid {
			continue
		}
		conn, err := r.orch.registry.For(cred)
		if err != nil {
			continue
		}
		positions, err := conn.ListPositions(ctx)
		if err != nil {
			logger.Error("refresh: positions user=%d exchange=%s: %v", cred.UserID, cred.Exchange, err)
			continue
		}

		live := make(map[models.PosKey]bool, len(positions))
		for _, p := range positions {
			live[p.Key()] = true
			r.orch.state.UpsertPosition(p)
		}
		for _, p := range r.orch.state.OpenPositions(cred.UserID) {
			if p.Exchange != cred.Exchange || live[p.Key()] {
				continue
			}
			p.Open = false
			p.UpdatedAt = r.orch.clk.Now()
			r.orch.state.UpsertPosition(p)
		}
	}
}

// consumeMarks слушает публичный тикер-стрим по инструментам с открытыми
// позициями и базовым мейджорам.
func (r *Refresher) consumeMarks(ctx context.Context) {
	instruments := map[string]bool{"BTCUSDT": true, "ETHUSDT": true}
	for _, p := range r.orch.state.AllOpen() {
		instruments[p.Instrument] = true
	}
	subs := make([]string, 0, len(instruments))
	for inst := range instruments {
		subs = append(subs, inst)
	}

	for tick := range r.stream.Stream(ctx, subs) {
		r.orch.SetMark(tick.Instrument, tick.Mark)
	}
}
