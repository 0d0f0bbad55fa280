// SPDX-License-Identifier: MIT

// Package ledger implements the append-only points ledger with a
// denormalized per-user balance.
//
// Idempotency contract: for a given (user_id, type, ref_id) at most one
// charging transaction exists; the unique index is the sole correctness
// mechanism. There is no application-level locking — a violated insert
// means another delivery already applied the same operation, which is
// reported as applied=false, not as an error. This is what makes running
// several control-plane instances against the same database safe.
//
// Settlements use a ref id distinct from the prefund (the ":settle"
// suffix is chosen by the caller) so the original prefund and its
// reconciliation stay separately idempotent.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TxType classifies a ledger transaction.
type TxType string

// Transaction types.
const (
	TxSignupBonus   TxType = "signup_bonus"
	TxTaskCost      TxType = "task_cost"
	TxManualAdjust  TxType = "manual_adjust"
	TxRecharge      TxType = "recharge"
	TxRefund        TxType = "refund"
	TxAIUsage       TxType = "ai_usage"
	TxASRUsage      TxType = "asr_usage"
	TxDownloadUsage TxType = "download_usage"
)

// ErrInsufficientFunds is returned when a debit would take the balance
// below zero.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Transaction is one immutable ledger entry.
type Transaction struct {
	ID           int64
	UserID       string
	Delta        int64 // signed: negative = debit, positive = credit
	BalanceAfter int64
	Type         TxType
	RefType      string
	RefID        string
	Metadata     map[string]any
	CreatedAt    time.Time
}

// Ledger provides idempotent balance operations on a shared database.
type Ledger struct {
	db *sql.DB
}

// New runs the ledger migrations and returns a Ledger sharing db.
func New(db *sql.DB) (*Ledger, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS point_accounts (
		user_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS point_transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		delta INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		type TEXT NOT NULL,
		ref_type TEXT NOT NULL,
		ref_id TEXT NOT NULL,
		metadata TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_point_tx_conflict_key
		ON point_transactions(user_id, type, ref_id);
	CREATE INDEX IF NOT EXISTS idx_point_tx_user ON point_transactions(user_id, created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

// ChargeOnce debits amount points from userID exactly once per
// (userID, typ, refID). Returns applied=false when an identical charge
// already exists. Fails with ErrInsufficientFunds when the balance is
// too low; in that case nothing is written.
func (l *Ledger) ChargeOnce(ctx context.Context, userID string, amount int64, typ TxType, refType, refID string, meta map[string]any) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("charge amount must be positive, got %d", amount)
	}
	return l.applyOnce(ctx, userID, -amount, typ, refType, refID, meta, true)
}

// SpendOnce is ChargeOnce for settlement top-ups: the delta between the
// final cost and the prefund. Mechanics are identical; the distinction
// exists so call sites read as what they are.
func (l *Ledger) SpendOnce(ctx context.Context, userID string, amount int64, typ TxType, refType, refID string, meta map[string]any) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("spend amount must be positive, got %d", amount)
	}
	return l.applyOnce(ctx, userID, -amount, typ, refType, refID, meta, true)
}

// AddOnce credits amount points to userID exactly once per
// (userID, typ, refID).
func (l *Ledger) AddOnce(ctx context.Context, userID string, amount int64, typ TxType, refType, refID string, meta map[string]any) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	return l.applyOnce(ctx, userID, amount, typ, refType, refID, meta, false)
}

// applyOnce is the insert-and-check-conflict core. The transaction row is
// inserted first; zero rows affected means the conflict key already
// exists and the balance must not move again.
func (l *Ledger) applyOnce(ctx context.Context, userID string, delta int64, typ TxType, refType, refID string, meta map[string]any, checkFunds bool) (bool, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO point_accounts (user_id, balance) VALUES (?, 0)
	ON CONFLICT(user_id) DO NOTHING`, userID); err != nil {
		return false, fmt.Errorf("ensure account %s: %w", userID, err)
	}

	var balance int64
	if err := tx.QueryRowContext(ctx,
		`SELECT balance FROM point_accounts WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return false, fmt.Errorf("read balance %s: %w", userID, err)
	}

	newBalance := balance + delta
	if checkFunds && newBalance < 0 {
		return false, fmt.Errorf("user %s balance %d, need %d: %w", userID, balance, -delta, ErrInsufficientFunds)
	}

	var metaJSON any
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			return false, fmt.Errorf("marshal metadata: %w", err)
		}
		metaJSON = string(b)
	}

	res, err := tx.ExecContext(ctx, `
	INSERT INTO point_transactions (user_id, delta, balance_after, type, ref_type, ref_id, metadata, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id, type, ref_id) DO NOTHING`,
		userID, delta, newBalance, string(typ), refType, refID, metaJSON,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("insert transaction %s/%s/%s: %w", userID, typ, refID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Already applied by an earlier delivery; the balance stands.
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE point_accounts SET balance = ? WHERE user_id = ?`, newBalance, userID); err != nil {
		return false, fmt.Errorf("update balance %s: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit ledger tx: %w", err)
	}
	return true, nil
}

// FindByTypeAndRef returns the transaction matching the conflict key, or
// nil, nil when none exists. Settlement uses this to discover what was
// pre-charged for a job.
func (l *Ledger) FindByTypeAndRef(ctx context.Context, userID string, typ TxType, refID string) (*Transaction, error) {
	row := l.db.QueryRowContext(ctx, `
	SELECT id, user_id, delta, balance_after, type, ref_type, ref_id, metadata, created_at
	FROM point_transactions
	WHERE user_id = ? AND type = ? AND ref_id = ?`, userID, string(typ), refID)
	return scanTransaction(row)
}

// Balance returns the current balance for userID (0 for unknown users).
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := l.db.QueryRowContext(ctx,
		`SELECT balance FROM point_accounts WHERE user_id = ?`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// TransactionsByUser lists recent transactions, newest first.
func (l *Ledger) TransactionsByUser(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
	SELECT id, user_id, delta, balance_after, type, ref_type, ref_id, metadata, created_at
	FROM point_transactions
	WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var txs []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var (
		t         Transaction
		typ       string
		metaJSON  sql.NullString
		createdAt string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Delta, &t.BalanceAfter, &typ, &t.RefType, &t.RefID, &metaJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Type = TxType(typ)
	if metaJSON.Valid {
		_ = json.Unmarshal([]byte(metaJSON.String), &t.Metadata)
	}
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		t.CreatedAt = ts
	}
	return &t, nil
}
