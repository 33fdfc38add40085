package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/database"
	"github.com/aristath/spyglass/internal/domain"
)

// UserRepository persists users and their broker accounts.
type UserRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *sql.DB, log zerolog.Logger) *UserRepository {
	return &UserRepository{
		db:  db,
		log: log.With().Str("repo", "users").Logger(),
	}
}

// Create inserts a user and returns it with the assigned ID.
func (r *UserRepository) Create(ctx context.Context, username string) (domain.User, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO users (username) VALUES (?)", username)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.User{}, domain.Errorf(domain.KindIntegrityConflict, "username %q already exists", username)
		}
		return domain.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to read user id: %w", err)
	}
	return domain.User{ID: id, Username: username, CreatedAt: time.Now().UTC()}, nil
}

// ByUsername loads a user by name.
func (r *UserRepository) ByUsername(ctx context.Context, username string) (domain.User, error) {
	var user domain.User
	var createdAt string
	err := r.db.QueryRowContext(ctx,
		"SELECT id, username, created_at FROM users WHERE username = ?",
		username).Scan(&user.ID, &user.Username, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.Errorf(domain.KindNotFound, "user %q not found", username)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	user.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
	return user, nil
}

// All returns every user ordered by ID. Used by the nightly sync job.
func (r *UserRepository) All(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, username, created_at FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var user domain.User
		var createdAt string
		if err := rows.Scan(&user.ID, &user.Username, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		user.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("user rows iteration failed: %w", err)
	}
	return users, nil
}

// Delete removes a user; dependent rows cascade.
func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// AccountRepository persists broker accounts.
type AccountRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAccountRepository creates a new account repository.
func NewAccountRepository(db *sql.DB, log zerolog.Logger) *AccountRepository {
	return &AccountRepository{
		db:  db,
		log: log.With().Str("repo", "accounts").Logger(),
	}
}

// Upsert inserts an account or refreshes its mutable fields, keyed by
// (user_id, broker_acc_id). Returns the account ID.
func (r *AccountRepository) Upsert(ctx context.Context, acc domain.Account) (int64, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, broker_acc_id, type, market, currency, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, broker_acc_id) DO UPDATE SET
			type = excluded.type, market = excluded.market,
			currency = excluded.currency, active = excluded.active`,
		acc.UserID, acc.BrokerAccID, acc.Type, acc.Market, acc.Currency, acc.Active)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert account: %w", err)
	}

	var id int64
	err = r.db.QueryRowContext(ctx,
		"SELECT id FROM accounts WHERE user_id = ? AND broker_acc_id = ?",
		acc.UserID, acc.BrokerAccID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to read account id: %w", err)
	}
	return id, nil
}

// ActiveByUser returns the user's active accounts.
func (r *AccountRepository) ActiveByUser(ctx context.Context, userID int64) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, broker_acc_id, type, market, currency, active
		FROM accounts WHERE user_id = ? AND active = 1
		ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var acc domain.Account
		if err := rows.Scan(&acc.ID, &acc.UserID, &acc.BrokerAccID,
			&acc.Type, &acc.Market, &acc.Currency, &acc.Active); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("account rows iteration failed: %w", err)
	}
	return accounts, nil
}
