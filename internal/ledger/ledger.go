package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInsufficientFunds occurs when a posting would drive a wallet or card
	// balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates the provided reference or order id
	// already exists and therefore the operation should be treated as idempotent.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrTransactionNotFound indicates no transaction matches the provided key.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAccountNotFound indicates the wallet or card behind an account code
	// does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrNonTerminalStatus indicates Apply was called with a status that is not
	// terminal. PENDING is the only non-terminal state and a transition may only
	// land on a terminal one.
	ErrNonTerminalStatus = errors.New("target status must be terminal")
)

// Status is the lifecycle state of a transaction. PENDING is the only
// non-terminal state; exactly one forward transition into a terminal state is
// permitted.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Category distinguishes wallet-level from card-level transactions.
type Category string

const (
	CategoryWallet Category = "WALLET"
	CategoryCard   Category = "CARD"
)

// Type classifies the business operation behind a transaction.
type Type string

const (
	TypeCreate        Type = "CREATE"
	TypeFund          Type = "FUND"
	TypeWithdraw      Type = "WITHDRAW"
	TypeTerminate     Type = "TERMINATE"
	TypeAuthorization Type = "AUTHORIZATION"
	TypeSettlement    Type = "SETTLEMENT"
	TypeDecline       Type = "DECLINE"
	TypeReversal      Type = "REVERSAL"
	TypeRefund        Type = "REFUND"
	TypeTransfer      Type = "TRANSFER"
)

const (
	walletAccountPrefix = "wallet:"
	cardAccountPrefix   = "card:"
)

// WalletAccount returns the ledger account code for a wallet id.
func WalletAccount(walletID string) string { return walletAccountPrefix + walletID }

// CardAccount returns the ledger account code for a card id.
func CardAccount(cardID string) string { return cardAccountPrefix + cardID }

// IsWalletAccount reports whether the account code addresses a wallet balance.
func IsWalletAccount(code string) bool { return strings.HasPrefix(code, walletAccountPrefix) }

// IsCardAccount reports whether the account code addresses a card balance.
func IsCardAccount(code string) bool { return strings.HasPrefix(code, cardAccountPrefix) }

// AccountID strips the wallet:/card: prefix from an account code.
func AccountID(code string) string {
	if i := strings.IndexByte(code, ':'); i >= 0 {
		return code[i+1:]
	}
	return code
}

// Posting is a signed balance mutation against a single wallet or card
// account, expressed in minor currency units.
type Posting struct {
	Account string
	Amount  int64
}

// Transaction is the durable record of one money movement. Amounts and balance
// snapshots are minor units. Reference carries the provider-assigned id and
// OrderID the internal correlation key; a provider webhook may deliver either
// one, so lookups accept both.
type Transaction struct {
	ID                  string
	Category            Category
	Type                Type
	Status              Status
	Amount              int64
	Fee                 int64
	Currency            string
	Provider            string
	Reference           string
	OrderID             string
	WalletID            string
	CardID              string
	WalletBalanceBefore *int64
	WalletBalanceAfter  *int64
	CardBalanceBefore   *int64
	CardBalanceAfter    *int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewTransaction captures everything needed to record a transaction. Postings
// are applied atomically together with the insert: a terminal Status commits
// the movement immediately (synchronous flows), while StatusPending with
// postings models an optimistic debit such as a withdrawal escrow.
type NewTransaction struct {
	Category  Category
	Type      Type
	Status    Status
	Amount    int64
	Fee       int64
	Currency  string
	Provider  string
	Reference string
	OrderID   string
	WalletID  string
	CardID    string
	Postings  []Posting
}

// TransitionResult reports the outcome of Apply. Applied is false when the
// transaction was already terminal; that replay is a no-op, not an error.
type TransitionResult struct {
	Applied     bool
	Transaction Transaction
}

// PendingFilter narrows ListPending scans. Zero fields match everything.
type PendingFilter struct {
	Category  Category
	Type      Type
	Providers []string
}

// Ledger applies atomic balance transitions and records before/after snapshots
// on the transaction. The terminal-state check and the balance write always
// happen under the same atomic unit so that racing deliveries of the same
// reference serialize on the key.
type Ledger interface {
	EnsureAccount(ctx context.Context, code string) error
	Balance(ctx context.Context, code string) (int64, error)
	Record(ctx context.Context, input NewTransaction) (Transaction, error)
	Apply(ctx context.Context, key string, status Status, postings []Posting) (TransitionResult, error)
	FindByKey(ctx context.Context, key string) (Transaction, error)
	ListPending(ctx context.Context, filter PendingFilter) ([]Transaction, error)
}

func validateNew(input NewTransaction) error {
	if input.Category == "" || input.Type == "" {
		return fmt.Errorf("category and type are required")
	}
	if input.Amount < 0 {
		return fmt.Errorf("amount must not be negative")
	}
	if input.Reference == "" && input.OrderID == "" {
		return fmt.Errorf("reference or order id is required")
	}
	return nil
}

func matchesFilter(tx Transaction, f PendingFilter) bool {
	if f.Category != "" && tx.Category != f.Category {
		return false
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if len(f.Providers) > 0 {
		found := false
		for _, p := range f.Providers {
			if tx.Provider == p {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
