package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/domain"
)

// SnapshotRepository persists daily account cash/asset snapshots.
type SnapshotRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSnapshotRepository creates a new snapshot repository.
func NewSnapshotRepository(db *sql.DB, log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:  db,
		log: log.With().Str("repo", "snapshots").Logger(),
	}
}

// Upsert writes a snapshot keyed by (account, date) and reports whether
// the row changed.
func (r *SnapshotRepository) Upsert(ctx context.Context, snap domain.AccountSnapshot) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO account_snapshots (account_id, snapshot_date, total_assets, cash,
		                               market_value, frozen_cash, buying_power, currency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, snapshot_date) DO UPDATE SET
			total_assets = excluded.total_assets, cash = excluded.cash,
			market_value = excluded.market_value, frozen_cash = excluded.frozen_cash,
			buying_power = excluded.buying_power, currency = excluded.currency
		WHERE account_snapshots.total_assets != excluded.total_assets
		   OR account_snapshots.cash != excluded.cash
		   OR account_snapshots.market_value != excluded.market_value`,
		snap.AccountID, snap.SnapshotDate.Format(dateLayout),
		snap.TotalAssets, snap.Cash, snap.MarketValue,
		snap.FrozenCash, snap.BuyingPower, snap.Currency)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert account snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

// Latest returns the most recent snapshot for an account.
func (r *SnapshotRepository) Latest(ctx context.Context, accountID int64) (domain.AccountSnapshot, error) {
	var snap domain.AccountSnapshot
	var dateStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, snapshot_date, total_assets, cash, market_value,
		       frozen_cash, buying_power, currency
		FROM account_snapshots WHERE account_id = ?
		ORDER BY snapshot_date DESC LIMIT 1`, accountID).Scan(
		&snap.ID, &snap.AccountID, &dateStr, &snap.TotalAssets, &snap.Cash,
		&snap.MarketValue, &snap.FrozenCash, &snap.BuyingPower, &snap.Currency)
	if err == sql.ErrNoRows {
		return domain.AccountSnapshot{}, domain.Errorf(domain.KindNotFound,
			"no snapshots for account %d", accountID)
	}
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("failed to query snapshot: %w", err)
	}
	snap.SnapshotDate, err = time.Parse(dateLayout, dateStr)
	if err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("failed to parse snapshot date %q: %w", dateStr, err)
	}
	return snap, nil
}
