package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestApplyCreditsWalletOnce(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	account := WalletAccount("w1")
	l.EnsureAccount(ctx, account)

	if _, err := l.Record(ctx, NewTransaction{
		Category:  CategoryWallet,
		Type:      TypeFund,
		Amount:    2_000,
		Currency:  "USD",
		Provider:  "alpha",
		Reference: "ref-1",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	res, err := l.Apply(ctx, "ref-1", StatusSuccess, []Posting{{Account: account, Amount: 2_000}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !res.Applied {
		t.Fatal("expected first apply to be applied")
	}
	if res.Transaction.WalletBalanceBefore == nil || *res.Transaction.WalletBalanceBefore != 0 {
		t.Fatalf("unexpected before snapshot: %v", res.Transaction.WalletBalanceBefore)
	}
	if res.Transaction.WalletBalanceAfter == nil || *res.Transaction.WalletBalanceAfter != 2_000 {
		t.Fatalf("unexpected after snapshot: %v", res.Transaction.WalletBalanceAfter)
	}

	// Duplicate delivery of the same reference must be a no-op.
	res, err = l.Apply(ctx, "ref-1", StatusSuccess, []Posting{{Account: account, Amount: 2_000}})
	if err != nil {
		t.Fatalf("replay apply: %v", err)
	}
	if res.Applied {
		t.Fatal("expected replay to be a no-op")
	}

	balance, err := l.Balance(ctx, account)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 2_000 {
		t.Fatalf("expected balance 2000, got %d", balance)
	}
}

func TestApplyByOrderID(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	account := WalletAccount("w1")
	l.EnsureAccount(ctx, account)

	if _, err := l.Record(ctx, NewTransaction{
		Category:  CategoryWallet,
		Type:      TypeFund,
		Amount:    500,
		Reference: "prov-ref",
		OrderID:   "order-1",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	// Webhooks may carry only the internal correlation key.
	res, err := l.Apply(ctx, "order-1", StatusSuccess, []Posting{{Account: account, Amount: 500}})
	if err != nil {
		t.Fatalf("apply by order id: %v", err)
	}
	if !res.Applied {
		t.Fatal("expected apply by order id")
	}

	// And a later poll by provider reference must see the terminal state.
	res, err = l.Apply(ctx, "prov-ref", StatusSuccess, []Posting{{Account: account, Amount: 500}})
	if err != nil {
		t.Fatalf("apply by reference: %v", err)
	}
	if res.Applied {
		t.Fatal("expected reference replay to be a no-op")
	}
}

func TestApplyRejectsNegativeBalance(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	account := CardAccount("c1")
	l.EnsureAccount(ctx, account)
	SeedBalance(l, account, 1_000)

	if _, err := l.Record(ctx, NewTransaction{
		Category:  CategoryCard,
		Type:      TypeWithdraw,
		Amount:    5_000,
		Reference: "wd-1",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	if _, err := l.Apply(ctx, "wd-1", StatusSuccess, []Posting{{Account: account, Amount: -5_000}}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	balance, _ := l.Balance(ctx, account)
	if balance != 1_000 {
		t.Fatalf("rejected transition mutated balance: %d", balance)
	}
	tx, err := l.FindByKey(ctx, "wd-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if tx.Status != StatusPending {
		t.Fatalf("rejected transition changed status: %s", tx.Status)
	}
}

func TestApplyRequiresTerminalStatus(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	if _, err := l.Apply(ctx, "any", StatusPending, nil); !errors.Is(err, ErrNonTerminalStatus) {
		t.Fatalf("expected terminal status error, got %v", err)
	}
}

func TestRecordDuplicateReference(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	account := WalletAccount("w1")
	l.EnsureAccount(ctx, account)

	input := NewTransaction{Category: CategoryWallet, Type: TypeFund, Amount: 100, Reference: "dup"}
	if _, err := l.Record(ctx, input); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if _, err := l.Record(ctx, input); !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestRecordDuplicateOrderIDUnderFreshReference(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	account := WalletAccount("w1")
	l.EnsureAccount(ctx, account)

	first, err := l.Record(ctx, NewTransaction{
		Category:  CategoryWallet,
		Type:      TypeFund,
		Status:    StatusSuccess,
		Amount:    100,
		Reference: "prov-1",
		OrderID:   "ord-1",
		Postings:  []Posting{{Account: account, Amount: 100}},
	})
	if err != nil {
		t.Fatalf("first record: %v", err)
	}

	// A retried operation arrives with the same order id but a reference the
	// provider minted fresh. It must dedupe on the order id, not double-post.
	existing, err := l.Record(ctx, NewTransaction{
		Category:  CategoryWallet,
		Type:      TypeFund,
		Status:    StatusSuccess,
		Amount:    100,
		Reference: "prov-2",
		OrderID:   "ord-1",
		Postings:  []Posting{{Account: account, Amount: 100}},
	})
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if existing.ID != first.ID {
		t.Fatalf("expected the stored transaction back, got %s", existing.ID)
	}
	balance, _ := l.Balance(ctx, account)
	if balance != 100 {
		t.Fatalf("expected single credit of 100, got %d", balance)
	}
}

func TestRecordWithEscrowPosting(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	account := WalletAccount("w1")
	l.EnsureAccount(ctx, account)
	SeedBalance(l, account, 10_000)

	tx, err := l.Record(ctx, NewTransaction{
		Category: CategoryWallet,
		Type:     TypeWithdraw,
		Amount:   4_000,
		OrderID:  "order-escrow",
		Postings: []Posting{{Account: account, Amount: -4_000}},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if tx.Status != StatusPending {
		t.Fatalf("expected pending, got %s", tx.Status)
	}
	balance, _ := l.Balance(ctx, account)
	if balance != 6_000 {
		t.Fatalf("expected escrow debit to 6000, got %d", balance)
	}
}

func TestConcurrentAppliesSerializeOnKey(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	account := WalletAccount("w1")
	l.EnsureAccount(ctx, account)

	if _, err := l.Record(ctx, NewTransaction{
		Category:  CategoryWallet,
		Type:      TypeFund,
		Amount:    1_000,
		Reference: "race",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	const deliveries = 16
	applied := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Apply(ctx, "race", StatusSuccess, []Posting{{Account: account, Amount: 1_000}})
			if err != nil {
				t.Errorf("apply: %v", err)
				return
			}
			if res.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Fatalf("expected exactly one applied delivery, got %d", applied)
	}
	balance, _ := l.Balance(ctx, account)
	if balance != 1_000 {
		t.Fatalf("balance applied more than once: %d", balance)
	}
}

func TestListPendingFilters(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	l.EnsureAccount(ctx, WalletAccount("w1"))

	seed := []NewTransaction{
		{Category: CategoryWallet, Type: TypeFund, Amount: 1, Provider: "alpha", Reference: "a"},
		{Category: CategoryWallet, Type: TypeFund, Amount: 1, Provider: "beta", Reference: "b"},
		{Category: CategoryCard, Type: TypeFund, Amount: 1, Provider: "alpha", Reference: "c"},
		{Category: CategoryWallet, Type: TypeWithdraw, Amount: 1, Provider: "alpha", Reference: "d"},
	}
	for _, s := range seed {
		if _, err := l.Record(ctx, s); err != nil {
			t.Fatalf("record %s: %v", s.Reference, err)
		}
	}
	if _, err := l.Apply(ctx, "a", StatusFailed, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}

	pending, err := l.ListPending(ctx, PendingFilter{
		Category:  CategoryWallet,
		Type:      TypeFund,
		Providers: []string{"alpha", "beta"},
	})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Reference != "b" {
		t.Fatalf("unexpected pending set: %+v", pending)
	}
}
