package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type inMemoryLedger struct {
	mu       sync.RWMutex
	balances map[string]int64
	byID     map[string]*Transaction
	byKey    map[string]string // reference or order id -> transaction id
}

// NewInMemory creates a concurrency-safe in-memory ledger. It implements the
// same transition semantics as the Postgres ledger and backs unit tests and
// local development.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		balances: make(map[string]int64),
		byID:     make(map[string]*Transaction),
		byKey:    make(map[string]string),
	}
}

func (l *inMemoryLedger) EnsureAccount(_ context.Context, code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.balances[code]; !exists {
		l.balances[code] = 0
	}
	return nil
}

func (l *inMemoryLedger) Balance(_ context.Context, code string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	balance, exists := l.balances[code]
	if !exists {
		return 0, fmt.Errorf("balance %s: %w", code, ErrAccountNotFound)
	}
	return balance, nil
}

func (l *inMemoryLedger) Record(_ context.Context, input NewTransaction) (Transaction, error) {
	if err := validateNew(input); err != nil {
		return Transaction{}, err
	}
	status := input.Status
	if status == "" {
		status = StatusPending
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, key := range []string{input.Reference, input.OrderID} {
		if key == "" {
			continue
		}
		if id, exists := l.byKey[key]; exists {
			return *l.byID[id], ErrDuplicateTransaction
		}
	}

	tx := Transaction{
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

	if err := l.post(&tx, input.Postings); err != nil {
		return Transaction{}, err
	}

	l.byID[tx.ID] = &tx
	if tx.Reference != "" {
		l.byKey[tx.Reference] = tx.ID
	}
	if tx.OrderID != "" {
		l.byKey[tx.OrderID] = tx.ID
	}
	return tx, nil
}

func (l *inMemoryLedger) Apply(_ context.Context, key string, status Status, postings []Posting) (TransitionResult, error) {
	if !status.Terminal() {
		return TransitionResult{}, ErrNonTerminalStatus
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id, exists := l.byKey[key]
	if !exists {
		return TransitionResult{}, fmt.Errorf("apply %s: %w", key, ErrTransactionNotFound)
	}
	tx := l.byID[id]

	if tx.Status.Terminal() {
		return TransitionResult{Applied: false, Transaction: *tx}, nil
	}

	// Validate every posting before mutating anything so a rejected transition
	// leaves balances untouched.
	for _, p := range postings {
		balance, ok := l.balances[p.Account]
		if !ok {
			return TransitionResult{}, fmt.Errorf("apply %s: %w", p.Account, ErrAccountNotFound)
		}
		if balance+p.Amount < 0 {
			return TransitionResult{}, ErrInsufficientFunds
		}
	}

	if err := l.post(tx, postings); err != nil {
		return TransitionResult{}, err
	}
	tx.Status = status
	tx.UpdatedAt = time.Now().UTC()

	return TransitionResult{Applied: true, Transaction: *tx}, nil
}

// post applies postings to balances and records before/after snapshots on the
// transaction for the wallet and card sides it touches. Caller holds the lock.
func (l *inMemoryLedger) post(tx *Transaction, postings []Posting) error {
	for _, p := range postings {
		balance, ok := l.balances[p.Account]
		if !ok {
			return fmt.Errorf("post %s: %w", p.Account, ErrAccountNotFound)
		}
		after := balance + p.Amount
		if after < 0 {
			return ErrInsufficientFunds
		}
		l.balances[p.Account] = after

		before := balance
		switch {
		case IsWalletAccount(p.Account):
			tx.WalletBalanceBefore = &before
			a := after
			tx.WalletBalanceAfter = &a
		case IsCardAccount(p.Account):
			tx.CardBalanceBefore = &before
			a := after
			tx.CardBalanceAfter = &a
		}
	}
	return nil
}

func (l *inMemoryLedger) FindByKey(_ context.Context, key string) (Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, exists := l.byKey[key]
	if !exists {
		return Transaction{}, fmt.Errorf("find %s: %w", key, ErrTransactionNotFound)
	}
	return *l.byID[id], nil
}

func (l *inMemoryLedger) ListPending(_ context.Context, filter PendingFilter) ([]Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Transaction
	for _, tx := range l.byID {
		if tx.Status != StatusPending {
			continue
		}
		if matchesFilter(*tx, filter) {
			out = append(out, *tx)
		}
	}
	return out, nil
}
