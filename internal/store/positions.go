package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/database"
	"github.com/aristath/spyglass/internal/domain"
)

// PositionRepository persists per-date position snapshots.
type PositionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPositionRepository creates a new position repository.
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:  db,
		log: log.With().Str("repo", "positions").Logger(),
	}
}

// UpsertSnapshot writes one account's positions for a snapshot date and
// returns the number of rows that changed. Rows identical to what is
// already persisted count zero.
func (r *PositionRepository) UpsertSnapshot(ctx context.Context, positions []domain.Position) (int, error) {
	if len(positions) == 0 {
		return 0, nil
	}

	changed := 0
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO positions (account_id, snapshot_date, market, code, name, qty,
			                       can_sell_qty, cost_price, market_price, market_value,
			                       pl_value, pl_ratio, side)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(account_id, snapshot_date, market, code) DO UPDATE SET
				name = excluded.name, qty = excluded.qty,
				can_sell_qty = excluded.can_sell_qty, cost_price = excluded.cost_price,
				market_price = excluded.market_price, market_value = excluded.market_value,
				pl_value = excluded.pl_value, pl_ratio = excluded.pl_ratio,
				side = excluded.side
			WHERE positions.qty != excluded.qty
			   OR positions.market_price != excluded.market_price
			   OR positions.market_value != excluded.market_value
			   OR positions.pl_value != excluded.pl_value`)
		if err != nil {
			return fmt.Errorf("failed to prepare position upsert: %w", err)
		}
		defer stmt.Close()

		for _, pos := range positions {
			res, err := stmt.ExecContext(ctx,
				pos.AccountID, pos.SnapshotDate.Format(dateLayout), pos.Market, pos.Code,
				pos.Name, pos.Qty, pos.CanSellQty, pos.CostPrice, pos.MarketPrice,
				pos.MarketValue, pos.PLValue, pos.PLRatio, pos.Side)
			if err != nil {
				if database.IsUniqueViolation(err) {
					return domain.NewError(domain.KindIntegrityConflict, err)
				}
				return fmt.Errorf("failed to upsert position: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read rows affected: %w", err)
			}
			changed += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// BySnapshotDate loads an account's positions for a date, code ascending.
func (r *PositionRepository) BySnapshotDate(ctx context.Context, accountID int64, date time.Time) ([]domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, snapshot_date, market, code, name, qty, can_sell_qty,
		       cost_price, market_price, market_value, pl_value, pl_ratio, side
		FROM positions
		WHERE account_id = ? AND snapshot_date = ?
		ORDER BY market, code`, accountID, date.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// LatestByUser loads the latest snapshot's positions across all of a
// user's active accounts.
func (r *PositionRepository) LatestByUser(ctx context.Context, userID int64) ([]domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.account_id, p.snapshot_date, p.market, p.code, p.name, p.qty,
		       p.can_sell_qty, p.cost_price, p.market_price, p.market_value,
		       p.pl_value, p.pl_ratio, p.side
		FROM positions p
		JOIN accounts a ON a.id = p.account_id
		WHERE a.user_id = ? AND a.active = 1
		  AND p.snapshot_date = (
			SELECT MAX(p2.snapshot_date) FROM positions p2 WHERE p2.account_id = p.account_id
		  )
		ORDER BY p.market, p.code`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

func scanPositions(rows *sql.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		var pos domain.Position
		var dateStr string
		err := rows.Scan(&pos.ID, &pos.AccountID, &dateStr, &pos.Market, &pos.Code,
			&pos.Name, &pos.Qty, &pos.CanSellQty, &pos.CostPrice, &pos.MarketPrice,
			&pos.MarketValue, &pos.PLValue, &pos.PLRatio, &pos.Side)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		pos.SnapshotDate, err = time.Parse(dateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse snapshot date %q: %w", dateStr, err)
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("position rows iteration failed: %w", err)
	}
	return positions, nil
}
