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

const timeLayout = time.RFC3339

// TradeRepository persists execution fills, deduplicated on deal_id.
type TradeRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTradeRepository creates a new trade repository.
func NewTradeRepository(db *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		db:  db,
		log: log.With().Str("repo", "trades").Logger(),
	}
}

// InsertBatch appends fills, skipping deal_ids already persisted, and
// returns how many new rows were written.
func (r *TradeRepository) InsertBatch(ctx context.Context, trades []domain.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	inserted := 0
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO trades (account_id, deal_id, order_id, trade_time,
			                              market, code, name, side, qty, price,
			                              amount, fee, currency)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare trade insert: %w", err)
		}
		defer stmt.Close()

		for _, trade := range trades {
			if trade.Qty <= 0 || trade.Price <= 0 {
				return domain.Errorf(domain.KindInvalidInput,
					"trade %s has non-positive qty or price", trade.DealID)
			}
			res, err := stmt.ExecContext(ctx,
				trade.AccountID, trade.DealID, trade.OrderID,
				trade.TradeTime.UTC().Format(timeLayout),
				trade.Market, trade.Code, trade.Name, trade.Side,
				trade.Qty, trade.Price, trade.Amount, trade.Fee, trade.Currency)
			if err != nil {
				return fmt.Errorf("failed to insert trade: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read rows affected: %w", err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ByAccount loads all of an account's fills ascending by trade time.
func (r *TradeRepository) ByAccount(ctx context.Context, accountID int64) ([]domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, deal_id, order_id, trade_time, market, code, name,
		       side, qty, price, amount, fee, currency
		FROM trades WHERE account_id = ?
		ORDER BY trade_time ASC, id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// ByUser loads all fills across a user's accounts ascending by trade time.
func (r *TradeRepository) ByUser(ctx context.Context, userID int64) ([]domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id, t.account_id, t.deal_id, t.order_id, t.trade_time, t.market,
		       t.code, t.name, t.side, t.qty, t.price, t.amount, t.fee, t.currency
		FROM trades t
		JOIN accounts a ON a.id = t.account_id
		WHERE a.user_id = ?
		ORDER BY t.trade_time ASC, t.id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func scanTrades(rows *sql.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var trade domain.Trade
		var timeStr string
		err := rows.Scan(&trade.ID, &trade.AccountID, &trade.DealID, &trade.OrderID,
			&timeStr, &trade.Market, &trade.Code, &trade.Name, &trade.Side,
			&trade.Qty, &trade.Price, &trade.Amount, &trade.Fee, &trade.Currency)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trade.TradeTime, err = time.Parse(timeLayout, timeStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse trade time %q: %w", timeStr, err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trade rows iteration failed: %w", err)
	}
	return trades, nil
}
