package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
	connector "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/connector/service"
	risk "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/risk/service"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/logger"
)

type job struct {
	user models.User
	cred models.ExchangeCredential
}

// fanOut раздаёт сигнал всем подходящим парам (user, credential) с
// ограниченной конкуррентностью. Паника или отказ одного юзера не трогает
// остальных.
func (o *Orchestrator) fanOut(ctx context.Context, sig models.Signal,
	class models.SignalClass, verdict models.MarketVerdict) []models.ExecutionRecord {

	users, err := o.users.ListActive(ctx)
	if err != nil {
		logger.Error("fanout: list users: %v", err)
		return nil
	}
	creds, err := o.creds.ListCredentials(ctx)
	if err != nil {
		logger.Error("fanout: list credentials: %v", err)
		return nil
	}

	byUser := make(map[int64][]models.ExchangeCredential)
	for _, cred := range creds {
		byUser[cred.UserID] = append(byUser[cred.UserID], cred)
	}

	var jobs []job
	for _, u := range users {
		for _, cred := range byUser[u.ID] {
			// дедуп по (signal, user, exchange): реплей не трогает ни одну
			// биржу повторно, но свежий фан-аут накрывает все креды юзера
			if !o.markSeen(sig.ID, seenKey{UserID: u.ID, Exchange: cred.Exchange}, sig.ExpiresAt) {
				logger.Info("fanout: signal %s user %d exchange %s already processed, replay ignored",
					sig.ID, u.ID, cred.Exchange)
				continue
			}
			jobs = append(jobs, job{user: u, cred: cred})
		}
	}
	if len(jobs) == 0 {
		return nil
	}

	var (
		mu      sync.Mutex
		records = make([]models.ExecutionRecord, 0, len(jobs))
		wg      sync.WaitGroup
		sem     = make(chan struct{}, o.opts.FanoutConcurrency)
	)

	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			defer func() {
				if r := recover(); r != nil {
					logger.Error("fanout: panic for user %d: %v", j.user.ID, r)
					mu.Lock()
					records = append(records, models.ExecutionRecord{
						SignalID: sig.ID,
						UserID:   j.user.ID,
						Exchange: j.cred.Exchange,
						Outcome:  models.OutcomeFailed,
						Reason:   models.ReasonUnknown,
						Error:    fmt.Sprintf("panic: %v", r),
					})
					mu.Unlock()
				}
			}()

			rec := o.executeFor(ctx, sig, class, verdict, j)
			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
		}(j)
	}
	wg.Wait()
	return records
}

// executeFor — исполнение сигнала для одной пары (user, credential).
func (o *Orchestrator) executeFor(ctx context.Context, sig models.Signal,
	class models.SignalClass, verdict models.MarketVerdict, j job) models.ExecutionRecord {

	rec := models.ExecutionRecord{
		SignalID: sig.ID,
		UserID:   j.user.ID,
		Exchange: j.cred.Exchange,
	}

	skip := func(code models.ReasonCode, msg string) models.ExecutionRecord {
		rec.Outcome = models.OutcomeSkipped
		rec.Reason = code
		rec.Error = msg
		return rec
	}
	key := lockKey{UserID: j.user.ID, Instrument: sig.Instrument}

	fail := func(err error) models.ExecutionRecord {
		rec.Outcome = models.OutcomeFailed
		rec.Reason = models.ReasonOf(err)
		if rec.Reason == models.ReasonUnknown {
			rec.Reason = models.ReasonExecutionFailed
		}
		rec.Error = err.Error()
		o.startCooldown(key)
		return rec
	}

	if j.cred.ValidationStatus != models.CredentialValid {
		return skip(models.ReasonCredentialInvalid,
			"credential status "+string(j.cred.ValidationStatus))
	}
	if !o.registry.Supported(j.cred.Exchange) {
		return skip(models.ReasonUnsupportedInstrument,
			"exchange "+j.cred.Exchange+" is not supported")
	}

	conn, err := o.registry.For(j.cred)
	if err != nil {
		return skip(models.ReasonOf(err), err.Error())
	}

	// два сигнала по одному инструменту юзера исполняются строго по очереди
	unlock := o.locks.lock(key)
	defer unlock()

	if sig.CloseIntent {
		// закрытие не блокируется кулдауном: выйти из позиции можно всегда
		return o.closeFor(ctx, sig, conn, j, rec)
	}

	if o.inCooldown(key) {
		return skip(models.ReasonCooldownActive, "recent failure, instrument is cooling down")
	}

	// вердикт BOTH разрешает обе стороны, но не хедж: открытая
	// противоположная позиция по инструменту исключает юзера
	opp := models.PosKey{
		UserID:     j.user.ID,
		Exchange:   j.cred.Exchange,
		Instrument: sig.Instrument,
		Side:       sig.Direction.Opposite(),
	}
	if p, ok := o.state.Position(opp); ok && p.Open {
		return skip(models.ReasonOppositePosition, "opposite position open, hedging is not allowed")
	}

	balance, ok := o.state.Balance(models.BalKey{
		UserID:   j.user.ID,
		Exchange: j.cred.Exchange,
		Asset:    "USDT",
	})
	if !ok {
		// кеш пустой — один живой запрос, результат кладём обратно
		balance, err = conn.GetBalance(ctx, "USDT")
		if err != nil {
			return fail(err)
		}
		o.state.UpsertBalance(balance)
	}

	mark, ok := o.Mark(sig.Instrument)
	if !ok {
		if p, pok := o.state.Position(models.PosKey{
			UserID:     j.user.ID,
			Exchange:   j.cred.Exchange,
			Instrument: sig.Instrument,
			Side:       sig.Direction,
		}); pok && p.MarkPrice > 0 {
			mark = p.MarkPrice
		}
	}
	if mark <= 0 {
		// без цены входа размер не посчитать — даже для освобождённых от
		// защитных уровней; иначе на биржу уйдёт ордер с нулевым объёмом
		return skip(models.ReasonNoMarkPrice, "no mark price for "+sig.Instrument)
	}

	sized, err := o.policy.Size(risk.SizingRequest{
		User:      j.user,
		Class:     class,
		Direction: sig.Direction,
		Entry:     mark,
		Available: balance.Available,
	})
	if err != nil {
		return skip(models.ReasonOf(err), err.Error())
	}

	res, err := conn.PlaceOrder(ctx, connector.OrderRequest{
		Instrument: sig.Instrument,
		Side:       sig.Direction,
		Qty:        sized.Size,
		Leverage:   sized.Leverage,
		StopLoss:   sized.StopLoss,
		TakeProfit: sized.TakeProfit,
	})
	if err != nil {
		return fail(err)
	}

	rec.Outcome = models.OutcomeExecuted
	rec.OrderID = res.OrderID
	rec.Notional = sized.Notional
	rec.Leverage = sized.Leverage
	rec.Latency = res.Latency
	return rec
}

// closeFor закрывает позицию юзера reduce-only ордером на весь размер.
func (o *Orchestrator) closeFor(ctx context.Context, sig models.Signal,
	conn connector.Connector, j job, rec models.ExecutionRecord) models.ExecutionRecord {

	pos, ok := o.state.Position(models.PosKey{
		UserID:     j.user.ID,
		Exchange:   j.cred.Exchange,
		Instrument: sig.Instrument,
		Side:       sig.Direction,
	})
	if !ok || !pos.Open {
		rec.Outcome = models.OutcomeSkipped
		rec.Reason = models.ReasonNoOpenPosition
		rec.Error = "no open position to close"
		return rec
	}

	res, err := conn.PlaceOrder(ctx, connector.OrderRequest{
		Instrument: sig.Instrument,
		Side:       sig.Direction,
		Qty:        pos.Size,
		ReduceOnly: true,
	})
	if err != nil {
		rec.Outcome = models.OutcomeFailed
		rec.Reason = models.ReasonOf(err)
		if rec.Reason == models.ReasonUnknown {
			rec.Reason = models.ReasonExecutionFailed
		}
		rec.Error = err.Error()
		return rec
	}

	pos.Open = false
	pos.UpdatedAt = o.clk.Now()
	o.state.UpsertPosition(pos)

	rec.Outcome = models.OutcomeExecuted
	rec.OrderID = res.OrderID
	rec.Latency = res.Latency
	return rec
}
