package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/db"
)

// Summaries — итоги прогонов. Один сигнал — одна строка (upsert по signal_id).
type Summaries struct {
	db db.TxManager
}

func NewSummaries(db db.TxManager) *Summaries {
	return &Summaries{db: db}
}

func (s *Summaries) Upsert(ctx context.Context, sum models.RunSummary) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Summaries.Upsert: %w", err)
		}
	}()

	reasons, err := sonic.Marshal(sum.Reasons)
	if err != nil {
		return err
	}

	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, `
			INSERT INTO run_summaries
				(signal_id, class, verdict, approved, executed, failed, skipped, reasons, started_at, finished_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (signal_id) DO UPDATE SET
				class = EXCLUDED.class, verdict = EXCLUDED.verdict,
				approved = EXCLUDED.approved, executed = EXCLUDED.executed,
				failed = EXCLUDED.failed, skipped = EXCLUDED.skipped,
				reasons = EXCLUDED.reasons, finished_at = EXCLUDED.finished_at`,
			sum.SignalID, sum.Class, sum.Verdict, sum.Approved, sum.Executed,
			sum.Failed, sum.Skipped, reasons, sum.StartedAt, sum.FinishedAt)
		return err
	})
}

func (s *Summaries) Get(ctx context.Context, signalID string) (sum models.RunSummary, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Summaries.Get: %w", err)
		}
	}()

	var reasons []byte
	err = s.db.Conn().QueryRow(ctx, `
		SELECT signal_id, class, verdict, approved, executed, failed, skipped, reasons, started_at, finished_at
		FROM run_summaries WHERE signal_id = $1`, signalID).
		Scan(&sum.SignalID, &sum.Class, &sum.Verdict, &sum.Approved, &sum.Executed,
			&sum.Failed, &sum.Skipped, &reasons, &sum.StartedAt, &sum.FinishedAt)
	if err != nil {
		return sum, err
	}
	if len(reasons) > 0 {
		if err = sonic.Unmarshal(reasons, &sum.Reasons); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
