// Package db persists challenge account snapshots, phase history and the
// challenge event audit trail in SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// Store provides challenge-core persistence on top of a Database.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store.
func NewStore(d *Database) *Store {
	return &Store{db: d.DB}
}

// UpsertAccount writes the latest account snapshot. The write is rejected
// when the stored revision is ahead of the caller's, which catches a second
// process mutating the same account.
func (s *Store) UpsertAccount(ctx context.Context, row AccountRow) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, tier, status, current_phase, balance, equity,
		                      failure_reason, revision, state_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			current_phase = excluded.current_phase,
			balance = excluded.balance,
			equity = excluded.equity,
			failure_reason = excluded.failure_reason,
			revision = excluded.revision,
			state_json = excluded.state_json,
			updated_at = excluded.updated_at
		WHERE excluded.revision > accounts.revision
	`, row.ID, row.UserID, row.Tier, row.Status, row.CurrentPhase, row.Balance, row.Equity,
		row.FailureReason, row.Revision, row.StateJSON, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert account %s: %w", row.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Insert path always affects a row, so zero means a stale revision.
		return fmt.Errorf("account %s: stale revision %d", row.ID, row.Revision)
	}
	return nil
}

// GetAccount loads a single account snapshot.
func (s *Store) GetAccount(ctx context.Context, id string) (AccountRow, error) {
	var row AccountRow
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, tier, status, current_phase, balance, equity,
		       COALESCE(failure_reason, ''), revision, state_json, updated_at
		FROM accounts WHERE id = ?
	`, id).Scan(&row.ID, &row.UserID, &row.Tier, &row.Status, &row.CurrentPhase,
		&row.Balance, &row.Equity, &row.FailureReason, &row.Revision, &row.StateJSON, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return AccountRow{}, ErrNotFound
	}
	if err != nil {
		return AccountRow{}, fmt.Errorf("query account %s: %w", id, err)
	}
	return row, nil
}

// ListAccounts returns every stored account snapshot.
func (s *Store) ListAccounts(ctx context.Context) ([]AccountRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, tier, status, current_phase, balance, equity,
		       COALESCE(failure_reason, ''), revision, state_json, updated_at
		FROM accounts
	`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []AccountRow
	for rows.Next() {
		var row AccountRow
		if err := rows.Scan(&row.ID, &row.UserID, &row.Tier, &row.Status, &row.CurrentPhase,
			&row.Balance, &row.Equity, &row.FailureReason, &row.Revision, &row.StateJSON, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// InsertPhaseRecord appends one frozen phase outcome. There is deliberately
// no update path: phase history is append-only once written.
func (s *Store) InsertPhaseRecord(ctx context.Context, row PhaseHistoryRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO phase_history (account_id, phase, result, start_balance, end_balance,
		                           trading_days, trades, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, row.AccountID, row.Phase, row.Result, row.StartBalance, row.EndBalance,
		row.TradingDays, row.Trades, row.StartedAt, row.EndedAt)
	if err != nil {
		return fmt.Errorf("insert phase record: %w", err)
	}
	return nil
}

// ListPhaseHistory returns the phase records for one account, oldest first.
func (s *Store) ListPhaseHistory(ctx context.Context, accountID string) ([]PhaseHistoryRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, phase, result, start_balance, end_balance,
		       trading_days, trades, started_at, ended_at
		FROM phase_history
		WHERE account_id = ?
		ORDER BY phase ASC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query phase history: %w", err)
	}
	defer rows.Close()

	var out []PhaseHistoryRow
	for rows.Next() {
		var row PhaseHistoryRow
		if err := rows.Scan(&row.AccountID, &row.Phase, &row.Result, &row.StartBalance,
			&row.EndBalance, &row.TradingDays, &row.Trades, &row.StartedAt, &row.EndedAt); err != nil {
			return nil, fmt.Errorf("scan phase record: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// AppendEvent records one published challenge event in the audit trail.
func (s *Store) AppendEvent(ctx context.Context, row EventRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO challenge_events (id, account_id, user_id, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, row.ID, row.AccountID, row.UserID, row.Type, row.Payload, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns the most recent events for one account, newest first.
func (s *Store) ListEvents(ctx context.Context, accountID string, limit int) ([]EventRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, user_id, type, payload, created_at
		FROM challenge_events
		WHERE account_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var row EventRow
		if err := rows.Scan(&row.ID, &row.AccountID, &row.UserID, &row.Type, &row.Payload, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
