package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/db"
)

// Credentials — хранилище биржевых ключей.
type Credentials struct {
	db db.TxManager
}

func NewCredentials(db db.TxManager) *Credentials {
	return &Credentials{db: db}
}

func (c *Credentials) ListCredentials(ctx context.Context) (creds []models.ExchangeCredential, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Credentials.ListCredentials: %w", err)
		}
	}()

	rows, err := c.db.Conn().Query(ctx, `
		SELECT c.user_id, c.exchange, c.environment, c.api_key, c.api_secret,
		       c.validation_status, c.last_checked_at
		FROM exchange_credentials c
		JOIN users u ON u.id = c.user_id
		WHERE u.active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var cred models.ExchangeCredential
		var checkedAt *time.Time
		if err = rows.Scan(&cred.UserID, &cred.Exchange, &cred.Environment,
			&cred.APIKey, &cred.APISecret, &cred.ValidationStatus, &checkedAt); err != nil {
			return nil, err
		}
		if checkedAt != nil {
			cred.LastCheckedAt = *checkedAt
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// SetValidationStatus — единственная точка записи статуса ключа.
func (c *Credentials) SetValidationStatus(ctx context.Context, key models.CredKey,
	status models.ValidationStatus, checkedAt time.Time) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Credentials.SetValidationStatus: %w", err)
		}
	}()

	return c.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, `
			UPDATE exchange_credentials
			SET validation_status = $1, last_checked_at = $2
			WHERE user_id = $3 AND exchange = $4 AND environment = $5`,
			status, checkedAt, key.UserID, key.Exchange, key.Environment)
		return err
	})
}
