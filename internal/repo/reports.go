package repo

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/db"
)

// Reports — диагностические отчёты: последний отчёт по коннектору
// замещает предыдущий.
type Reports struct {
	db db.TxManager
}

func NewReports(db db.TxManager) *Reports {
	return &Reports{db: db}
}

func (r *Reports) SaveReport(ctx context.Context, report models.DiagnosticReport) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Reports.SaveReport: %w", err)
		}
	}()

	payload, err := sonic.Marshal(report)
	if err != nil {
		return err
	}

	return r.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, `
			INSERT INTO diagnostic_reports (connector_id, overall, report, generated_at)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (connector_id) DO UPDATE SET
				overall = EXCLUDED.overall,
				report = EXCLUDED.report,
				generated_at = EXCLUDED.generated_at`,
			report.ConnectorID, report.Overall, payload, report.GeneratedAt)
		return err
	})
}

func (r *Reports) Latest(ctx context.Context, connectorID string) (report models.DiagnosticReport, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Reports.Latest: %w", err)
		}
	}()

	var payload []byte
	err = r.db.Conn().QueryRow(ctx,
		`SELECT report FROM diagnostic_reports WHERE connector_id = $1`, connectorID).
		Scan(&payload)
	if err != nil {
		return report, err
	}
	err = sonic.Unmarshal(payload, &report)
	return report, err
}
