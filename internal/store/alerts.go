package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/domain"
)

// AlertRepository persists price alert conditions.
type AlertRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAlertRepository creates a new alert repository.
func NewAlertRepository(db *sql.DB, log zerolog.Logger) *AlertRepository {
	return &AlertRepository{
		db:  db,
		log: log.With().Str("repo", "alerts").Logger(),
	}
}

// Create inserts an alert and returns its ID.
func (r *AlertRepository) Create(ctx context.Context, alert domain.PriceAlert) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO price_alerts (user_id, market, code, kind, threshold, active)
		VALUES (?, ?, ?, ?, ?, ?)`,
		alert.UserID, alert.Market, alert.Code, alert.Kind, alert.Threshold, alert.Active)
	if err != nil {
		return 0, fmt.Errorf("failed to insert alert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read alert id: %w", err)
	}
	return id, nil
}

// Active returns all active, untriggered alerts.
func (r *AlertRepository) Active(ctx context.Context) ([]domain.PriceAlert, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, market, code, kind, threshold, active, triggered_at, created_at
		FROM price_alerts
		WHERE active = 1 AND triggered_at IS NULL
		ORDER BY market, code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// ByUser returns a user's alerts, newest first.
func (r *AlertRepository) ByUser(ctx context.Context, userID int64) ([]domain.PriceAlert, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, market, code, kind, threshold, active, triggered_at, created_at
		FROM price_alerts WHERE user_id = ?
		ORDER BY id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// MarkTriggered stamps an alert as fired.
func (r *AlertRepository) MarkTriggered(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE price_alerts SET triggered_at = ? WHERE id = ? AND triggered_at IS NULL",
		at.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("failed to mark alert triggered: %w", err)
	}
	return nil
}

func scanAlerts(rows *sql.Rows) ([]domain.PriceAlert, error) {
	var alerts []domain.PriceAlert
	for rows.Next() {
		var alert domain.PriceAlert
		var triggeredStr sql.NullString
		var createdStr string
		err := rows.Scan(&alert.ID, &alert.UserID, &alert.Market, &alert.Code,
			&alert.Kind, &alert.Threshold, &alert.Active, &triggeredStr, &createdStr)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if triggeredStr.Valid && triggeredStr.String != "" {
			triggered, err := time.Parse(timeLayout, triggeredStr.String)
			if err == nil {
				alert.TriggeredAt = &triggered
			}
		}
		alert.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdStr)
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("alert rows iteration failed: %w", err)
	}
	return alerts, nil
}
