package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/domain"
)

// SyncLogRepository records sync actions. Append-only: rows are opened
// once and closed once, never rewritten afterwards.
type SyncLogRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSyncLogRepository creates a new sync log repository.
func NewSyncLogRepository(db *sql.DB, log zerolog.Logger) *SyncLogRepository {
	return &SyncLogRepository{
		db:  db,
		log: log.With().Str("repo", "sync_logs").Logger(),
	}
}

// Open inserts a new in-flight log row and returns its ID.
func (r *SyncLogRepository) Open(ctx context.Context, userID *int64, runID string, syncType domain.SyncType, startedAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_logs (user_id, run_id, sync_type, status, records_count, started_at)
		VALUES (?, ?, ?, 'PARTIAL', 0, ?)`,
		userID, runID, syncType, startedAt.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to open sync log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read sync log id: %w", err)
	}
	return id, nil
}

// Close finalizes a log row with its terminal status.
func (r *SyncLogRepository) Close(ctx context.Context, id int64, status domain.SyncStatus, records int, errMsg string, finishedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_logs SET status = ?, records_count = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		status, records, errMsg, finishedAt.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("failed to close sync log: %w", err)
	}
	return nil
}

// Recent returns the most recent log rows, newest first.
func (r *SyncLogRepository) Recent(ctx context.Context, limit int) ([]domain.SyncLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, run_id, sync_type, status, records_count, error,
		       started_at, finished_at
		FROM sync_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.SyncLog
	for rows.Next() {
		var entry domain.SyncLog
		var userID sql.NullInt64
		var startedStr string
		var finishedStr sql.NullString
		err := rows.Scan(&entry.ID, &userID, &entry.RunID, &entry.SyncType,
			&entry.Status, &entry.RecordsCount, &entry.Error, &startedStr, &finishedStr)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		if userID.Valid {
			entry.UserID = &userID.Int64
		}
		entry.StartedAt, err = time.Parse(timeLayout, startedStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse started_at %q: %w", startedStr, err)
		}
		if finishedStr.Valid && finishedStr.String != "" {
			finished, err := time.Parse(timeLayout, finishedStr.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse finished_at %q: %w", finishedStr.String, err)
			}
			entry.FinishedAt = &finished
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync log rows iteration failed: %w", err)
	}
	return logs, nil
}
