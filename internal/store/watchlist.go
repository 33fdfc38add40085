package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/database"
	"github.com/aristath/spyglass/internal/domain"
)

// WatchlistRepository persists user watchlists. Reconciliation never
// deletes rows; symbols missing upstream are flipped inactive so history
// survives.
type WatchlistRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewWatchlistRepository creates a new watchlist repository.
func NewWatchlistRepository(db *sql.DB, log zerolog.Logger) *WatchlistRepository {
	return &WatchlistRepository{
		db:  db,
		log: log.With().Str("repo", "watchlist").Logger(),
	}
}

// Reconcile makes the user's stored watchlist reflect the upstream list:
// new symbols are inserted active, known symbols refreshed, and stored
// symbols absent upstream are deactivated. Returns the number of rows
// changed.
func (r *WatchlistRepository) Reconcile(ctx context.Context, userID int64, items []domain.WatchlistItem) (int, error) {
	changed := 0
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO watchlist (user_id, market, code, name, grp, notes, sort_order, active)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(user_id, market, code) DO UPDATE SET
				name = excluded.name, grp = excluded.grp,
				sort_order = excluded.sort_order, active = 1
			WHERE watchlist.name != excluded.name
			   OR watchlist.grp != excluded.grp
			   OR watchlist.sort_order != excluded.sort_order
			   OR watchlist.active != 1`)
		if err != nil {
			return fmt.Errorf("failed to prepare watchlist upsert: %w", err)
		}
		defer stmt.Close()

		seen := make(map[string]bool, len(items))
		for _, item := range items {
			seen[domain.FullCode(item.Market, item.Code)] = true
			res, err := stmt.ExecContext(ctx, userID, item.Market, item.Code,
				item.Name, item.Group, item.Notes, item.SortOrder)
			if err != nil {
				return fmt.Errorf("failed to upsert watchlist item: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read rows affected: %w", err)
			}
			changed += int(n)
		}

		rows, err := tx.QueryContext(ctx,
			"SELECT market, code FROM watchlist WHERE user_id = ? AND active = 1", userID)
		if err != nil {
			return fmt.Errorf("failed to query stored watchlist: %w", err)
		}
		defer rows.Close()

		type key struct {
			market domain.Market
			code   string
		}
		var stale []key
		for rows.Next() {
			var k key
			if err := rows.Scan(&k.market, &k.code); err != nil {
				return fmt.Errorf("failed to scan watchlist key: %w", err)
			}
			if !seen[domain.FullCode(k.market, k.code)] {
				stale = append(stale, k)
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("watchlist rows iteration failed: %w", err)
		}

		for _, k := range stale {
			res, err := tx.ExecContext(ctx,
				"UPDATE watchlist SET active = 0 WHERE user_id = ? AND market = ? AND code = ?",
				userID, k.market, k.code)
			if err != nil {
				return fmt.Errorf("failed to deactivate watchlist item: %w", err)
			}
			n, _ := res.RowsAffected()
			changed += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// ActiveByUser returns the user's active watchlist ordered by sort_order.
func (r *WatchlistRepository) ActiveByUser(ctx context.Context, userID int64) ([]domain.WatchlistItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, market, code, name, grp, notes, sort_order, active
		FROM watchlist WHERE user_id = ? AND active = 1
		ORDER BY sort_order, market, code`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchlist: %w", err)
	}
	defer rows.Close()

	var items []domain.WatchlistItem
	for rows.Next() {
		var item domain.WatchlistItem
		if err := rows.Scan(&item.ID, &item.UserID, &item.Market, &item.Code,
			&item.Name, &item.Group, &item.Notes, &item.SortOrder, &item.Active); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("watchlist rows iteration failed: %w", err)
	}
	return items, nil
}
