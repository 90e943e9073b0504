package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/db"
)

// Users — пользователи движка.
type Users struct {
	db db.TxManager
}

func NewUsers(db db.TxManager) *Users {
	return &Users{db: db}
}

func (u *Users) ListActive(ctx context.Context) (users []models.User, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Users.ListActive: %w", err)
		}
	}()

	rows, err := u.db.Conn().Query(ctx, `
		SELECT id, name, tier, max_leverage, max_position_pct, active
		FROM users
		WHERE active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var usr models.User
		if err = rows.Scan(&usr.ID, &usr.Name, &usr.Tier,
			&usr.MaxLeverage, &usr.MaxPositionPct, &usr.Active); err != nil {
			return nil, err
		}
		users = append(users, usr)
	}
	return users, rows.Err()
}

func (u *Users) Get(ctx context.Context, id int64) (usr models.User, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Users.Get: %w", err)
		}
	}()

	err = u.db.Conn().QueryRow(ctx, `
		SELECT id, name, tier, max_leverage, max_position_pct, active
		FROM users WHERE id = $1`, id).
		Scan(&usr.ID, &usr.Name, &usr.Tier, &usr.MaxLeverage, &usr.MaxPositionPct, &usr.Active)
	if err == pgx.ErrNoRows {
		return usr, sql.ErrNoRows
	}
	return usr, err
}
