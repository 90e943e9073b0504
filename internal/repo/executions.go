package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/db"
)

// Executions — журнал фан-аута, append-only.
type Executions struct {
	db db.TxManager
}

func NewExecutions(db db.TxManager) *Executions {
	return &Executions{db: db}
}

// InsertBatch пишет все записи одного прогона одной транзакцией.
func (e *Executions) InsertBatch(ctx context.Context, records []models.ExecutionRecord) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Executions.InsertBatch: %w", err)
		}
	}()
	if len(records) == 0 {
		return nil
	}

	return e.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		for _, rec := range records {
			_, err := tx.Exec(ctxTx, `
				INSERT INTO execution_records
					(signal_id, user_id, exchange, outcome, reason, error, order_id, notional, leverage, latency_ms)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
				rec.SignalID, rec.UserID, rec.Exchange, rec.Outcome, rec.Reason,
				rec.Error, rec.OrderID, rec.Notional, rec.Leverage, rec.Latency.Milliseconds())
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Executions) ListBySignal(ctx context.Context, signalID string) (records []models.ExecutionRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Executions.ListBySignal: %w", err)
		}
	}()

	rows, err := e.db.Conn().Query(ctx, `
		SELECT signal_id, user_id, exchange, outcome, reason, error, order_id, notional, leverage, latency_ms
		FROM execution_records
		WHERE signal_id = $1
		ORDER BY id`, signalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rec models.ExecutionRecord
		var latencyMS int64
		if err = rows.Scan(&rec.SignalID, &rec.UserID, &rec.Exchange, &rec.Outcome,
			&rec.Reason, &rec.Error, &rec.OrderID, &rec.Notional, &rec.Leverage, &latencyMS); err != nil {
			return nil, err
		}
		rec.Latency = msToDuration(latencyMS)
		records = append(records, rec)
	}
	return records, rows.Err()
}
