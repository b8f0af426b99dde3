package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger persists transactions and balance transitions in PostgreSQL.
// Every transition runs in a single database transaction with row locks on the
// transaction record and the wallet/card rows it posts to, so the
// already-terminal check and the balance write cannot be split by a racing
// delivery of the same reference.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

const txColumns = `id, category, type, status, amount, fee, currency, provider,
        COALESCE(reference, ''), COALESCE(order_id, ''),
        COALESCE(wallet_id, ''), COALESCE(card_id, ''),
        wallet_balance_before, wallet_balance_after,
        card_balance_before, card_balance_after, created_at, updated_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	var id uuid.UUID
	if err := row.Scan(&id, &t.Category, &t.Type, &t.Status, &t.Amount, &t.Fee,
		&t.Currency, &t.Provider, &t.Reference, &t.OrderID,
		&t.WalletID, &t.CardID,
		&t.WalletBalanceBefore, &t.WalletBalanceAfter,
		&t.CardBalanceBefore, &t.CardBalanceAfter, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	t.ID = id.String()
	return t, nil
}

// EnsureAccount verifies the wallet or card row behind the account code exists.
func (l *PostgresLedger) EnsureAccount(ctx context.Context, code string) error {
	var query string
	switch {
	case IsWalletAccount(code):
		query = `SELECT 1 FROM wallets WHERE id = $1`
	case IsCardAccount(code):
		query = `SELECT 1 FROM cards WHERE id = $1`
	default:
		return fmt.Errorf("unknown account code %s", code)
	}
	var one int
	if err := l.db.QueryRow(ctx, query, AccountID(code)).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("account %s: %w", code, ErrAccountNotFound)
		}
		return err
	}
	return nil
}

// Balance returns the current balance for the wallet or card account code.
func (l *PostgresLedger) Balance(ctx context.Context, code string) (int64, error) {
	var query string
	switch {
	case IsWalletAccount(code):
		query = `SELECT balance FROM wallets WHERE id = $1`
	case IsCardAccount(code):
		query = `SELECT balance FROM cards WHERE id = $1`
	default:
		return 0, fmt.Errorf("unknown account code %s", code)
	}
	var balance int64
	if err := l.db.QueryRow(ctx, query, AccountID(code)).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("balance %s: %w", code, ErrAccountNotFound)
		}
		return 0, err
	}
	return balance, nil
}

// Record inserts a transaction and applies its postings in one database
// transaction. A reference or order id that already exists returns the stored
// transaction with ErrDuplicateTransaction.
func (l *PostgresLedger) Record(ctx context.Context, input NewTransaction) (Transaction, error) {
	if err := validateNew(input); err != nil {
		return Transaction{}, err
	}
	status := input.Status
	if status == "" {
		status = StatusPending
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	// Both keys are idempotency handles: a retried operation can carry the
	// same order id under a fresh provider reference, so each non-empty key
	// is probed inside the transaction.
	for _, key := range []string{input.Reference, input.OrderID} {
		if key == "" {
			continue
		}
		existing, err := findForUpdate(ctx, tx, key)
		if err == nil {
			return existing, ErrDuplicateTransaction
		}
		if !errors.Is(err, ErrTransactionNotFound) {
			return Transaction{}, err
		}
	}

	record := Transaction{
		ID:        uuid.NewString(),
		Category:  input.Category,
		Type:      input.Type,
		Status:    status,
		Amount:    input.Amount,
		Fee:       input.Fee,
		Currency:  input.Currency,
		Provider:  input.Provider,
		Reference: input.Reference,
		OrderID:   input.OrderID,
		WalletID:  input.WalletID,
		CardID:    input.CardID,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := applyPostings(ctx, tx, &record, input.Postings); err != nil {
		return Transaction{}, err
	}

	if _, err := tx.Exec(ctx, `INSERT INTO transactions
        (id, category, type, status, amount, fee, currency, provider, reference, order_id,
         wallet_id, card_id,
         wallet_balance_before, wallet_balance_after, card_balance_before, card_balance_after,
         created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''),
         NULLIF($11, ''), NULLIF($12, ''), $13, $14, $15, $16, $17, $18)`,
		record.ID, record.Category, record.Type, record.Status, record.Amount, record.Fee,
		record.Currency, record.Provider, record.Reference, record.OrderID,
		record.WalletID, record.CardID,
		record.WalletBalanceBefore, record.WalletBalanceAfter,
		record.CardBalanceBefore, record.CardBalanceAfter,
		record.CreatedAt, record.UpdatedAt); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	return record, nil
}

// Apply performs the terminal transition for the transaction matching key. If
// the transaction is already terminal the call is an idempotent no-op with
// Applied=false.
func (l *PostgresLedger) Apply(ctx context.Context, key string, status Status, postings []Posting) (TransitionResult, error) {
	if !status.Terminal() {
		return TransitionResult{}, ErrNonTerminalStatus
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return TransitionResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	record, err := findForUpdate(ctx, tx, key)
	if err != nil {
		return TransitionResult{}, err
	}
	if record.Status.Terminal() {
		return TransitionResult{Applied: false, Transaction: record}, nil
	}

	if err := applyPostings(ctx, tx, &record, postings); err != nil {
		return TransitionResult{}, err
	}
	record.Status = status
	record.UpdatedAt = time.Now().UTC()

	if _, err := tx.Exec(ctx, `UPDATE transactions SET status = $2,
        wallet_balance_before = $3, wallet_balance_after = $4,
        card_balance_before = $5, card_balance_after = $6, updated_at = $7
        WHERE id = $1`,
		record.ID, record.Status,
		record.WalletBalanceBefore, record.WalletBalanceAfter,
		record.CardBalanceBefore, record.CardBalanceAfter, record.UpdatedAt); err != nil {
		return TransitionResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return TransitionResult{}, err
	}
	return TransitionResult{Applied: true, Transaction: record}, nil
}

// FindByKey fetches a transaction by provider reference or internal order id.
func (l *PostgresLedger) FindByKey(ctx context.Context, key string) (Transaction, error) {
	row := l.db.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions
        WHERE reference = $1 OR order_id = $1`, key)
	record, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, fmt.Errorf("find %s: %w", key, ErrTransactionNotFound)
		}
		return Transaction{}, err
	}
	return record, nil
}

// ListPending returns PENDING transactions matching the filter, oldest first.
func (l *PostgresLedger) ListPending(ctx context.Context, filter PendingFilter) ([]Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE status = $1`
	args := []any{StatusPending}
	if filter.Category != "" {
		args = append(args, filter.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if len(filter.Providers) > 0 {
		args = append(args, filter.Providers)
		query += fmt.Sprintf(" AND provider = ANY($%d)", len(args))
	}
	query += " ORDER BY created_at"

	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		record, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func findForUpdate(ctx context.Context, tx pgx.Tx, key string) (Transaction, error) {
	row := tx.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions
        WHERE reference = $1 OR order_id = $1 FOR UPDATE`, key)
	record, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, fmt.Errorf("lookup %s: %w", key, ErrTransactionNotFound)
		}
		return Transaction{}, err
	}
	return record, nil
}

// applyPostings locks each wallet/card row, checks the resulting balance stays
// non-negative, writes the new balance and records before/after snapshots on
// the transaction record. Runs inside the caller's database transaction.
func applyPostings(ctx context.Context, tx pgx.Tx, record *Transaction, postings []Posting) error {
	for _, p := range postings {
		var table string
		switch {
		case IsWalletAccount(p.Account):
			table = "wallets"
		case IsCardAccount(p.Account):
			table = "cards"
		default:
			return fmt.Errorf("unknown account code %s", p.Account)
		}

		var balance int64
		if err := tx.QueryRow(ctx, `SELECT balance FROM `+table+` WHERE id = $1 FOR UPDATE`,
			AccountID(p.Account)).Scan(&balance); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("account %s: %w", p.Account, ErrAccountNotFound)
			}
			return err
		}

		after := balance + p.Amount
		if after < 0 {
			return ErrInsufficientFunds
		}
		if _, err := tx.Exec(ctx, `UPDATE `+table+` SET balance = $2 WHERE id = $1`,
			AccountID(p.Account), after); err != nil {
			return err
		}

		before := balance
		afterCopy := after
		if table == "wallets" {
			record.WalletBalanceBefore = &before
			record.WalletBalanceAfter = &afterCopy
		} else {
			record.CardBalanceBefore = &before
			record.CardBalanceAfter = &afterCopy
		}
	}
	return nil
}
