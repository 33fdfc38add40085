// Package store contains the SQLite repositories. Repositories return
// domain types and report how many rows an upsert actually changed so the
// sync layer can produce honest records_count values.
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

const dateLayout = "2006-01-02"

// BarRepository persists daily OHLCV bars keyed by (market, code, date).
type BarRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewBarRepository creates a new bar repository.
func NewBarRepository(db *sql.DB, log zerolog.Logger) *BarRepository {
	return &BarRepository{
		db:  db,
		log: log.With().Str("repo", "bars").Logger(),
	}
}

// UpsertBatch inserts or updates a symbol's bars inside one transaction and
// returns the number of rows that actually changed. Re-ingesting identical
// bars changes nothing and returns zero.
func (r *BarRepository) UpsertBatch(ctx context.Context, bars []domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	changed := 0
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO klines (market, code, trade_date, open, high, low, close, volume,
			                    amount, turnover_rate, change_pct, ma5, ma10, ma20, ma60, obv)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(market, code, trade_date) DO UPDATE SET
				open = excluded.open, high = excluded.high, low = excluded.low,
				close = excluded.close, volume = excluded.volume,
				amount = excluded.amount, turnover_rate = excluded.turnover_rate,
				change_pct = excluded.change_pct,
				ma5 = excluded.ma5, ma10 = excluded.ma10, ma20 = excluded.ma20,
				ma60 = excluded.ma60, obv = excluded.obv
			WHERE klines.open != excluded.open OR klines.high != excluded.high
			   OR klines.low != excluded.low OR klines.close != excluded.close
			   OR klines.volume != excluded.volume`)
		if err != nil {
			return fmt.Errorf("failed to prepare bar upsert: %w", err)
		}
		defer stmt.Close()

		for _, bar := range bars {
			if err := bar.Validate(); err != nil {
				return err
			}
			res, err := stmt.ExecContext(ctx,
				bar.Market, bar.Code, bar.Date.Format(dateLayout),
				bar.Open, bar.High, bar.Low, bar.Close, bar.Volume,
				bar.Amount, bar.TurnoverPct, bar.ChangePct,
				bar.MA5, bar.MA10, bar.MA20, bar.MA60, bar.OBV)
			if err != nil {
				if database.IsUniqueViolation(err) {
					return domain.NewError(domain.KindIntegrityConflict, err)
				}
				return fmt.Errorf("failed to upsert bar: %w", err)
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

// Range loads bars for a symbol in [from, to], ascending by date. Zero
// times mean unbounded.
func (r *BarRepository) Range(ctx context.Context, market domain.Market, code string, from, to time.Time) ([]domain.Bar, error) {
	query := `
		SELECT market, code, trade_date, open, high, low, close, volume,
		       amount, turnover_rate, change_pct, ma5, ma10, ma20, ma60, obv
		FROM klines
		WHERE market = ? AND code = ?`
	args := []any{market, code}
	if !from.IsZero() {
		query += " AND trade_date >= ?"
		args = append(args, from.Format(dateLayout))
	}
	if !to.IsZero() {
		query += " AND trade_date <= ?"
		args = append(args, to.Format(dateLayout))
	}
	query += " ORDER BY trade_date ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		bar, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bar rows iteration failed: %w", err)
	}
	return bars, nil
}

// Latest returns the most recent N bars ascending by date.
func (r *BarRepository) Latest(ctx context.Context, market domain.Market, code string, n int) ([]domain.Bar, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT market, code, trade_date, open, high, low, close, volume,
		       amount, turnover_rate, change_pct, ma5, ma10, ma20, ma60, obv
		FROM (
			SELECT * FROM klines
			WHERE market = ? AND code = ?
			ORDER BY trade_date DESC LIMIT ?
		) ORDER BY trade_date ASC`, market, code, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest bars: %w", err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		bar, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bar rows iteration failed: %w", err)
	}
	return bars, nil
}

// LatestDate returns the most recent persisted date for a symbol, or the
// zero time when the symbol has no bars yet.
func (r *BarRepository) LatestDate(ctx context.Context, market domain.Market, code string) (time.Time, error) {
	var dateStr sql.NullString
	err := r.db.QueryRowContext(ctx,
		"SELECT MAX(trade_date) FROM klines WHERE market = ? AND code = ?",
		market, code).Scan(&dateStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest bar date: %w", err)
	}
	if !dateStr.Valid || dateStr.String == "" {
		return time.Time{}, nil
	}
	date, err := time.Parse(dateLayout, dateStr.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse bar date %q: %w", dateStr.String, err)
	}
	return date, nil
}

func scanBar(rows *sql.Rows) (domain.Bar, error) {
	var bar domain.Bar
	var dateStr string
	err := rows.Scan(&bar.Market, &bar.Code, &dateStr,
		&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume,
		&bar.Amount, &bar.TurnoverPct, &bar.ChangePct,
		&bar.MA5, &bar.MA10, &bar.MA20, &bar.MA60, &bar.OBV)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("failed to scan bar: %w", err)
	}
	bar.Date, err = time.Parse(dateLayout, dateStr)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("failed to parse bar date %q: %w", dateStr, err)
	}
	return bar, nil
}
