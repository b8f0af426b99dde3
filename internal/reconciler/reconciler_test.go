package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vela-pay/vela_pay/internal/ledger"
	"github.com/vela-pay/vela_pay/internal/logging"
	"github.com/vela-pay/vela_pay/internal/provider"
)

type pollIssuer struct {
	provider.StaticIssuer

	mu       sync.Mutex
	statuses map[string]string
	queries  int
}

func newPollIssuer(name string) *pollIssuer {
	return &pollIssuer{StaticIssuer: provider.NewStaticIssuer(name), statuses: make(map[string]string)}
}

func (p *pollIssuer) setStatus(ref, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[ref] = status
}

func (p *pollIssuer) TransactionStatus(_ context.Context, ref string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries++
	if status, ok := p.statuses[ref]; ok {
		return status, nil
	}
	return "PROCESSING", nil
}

func (p *pollIssuer) queryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queries
}

type fixture struct {
	ledger ledger.Ledger
	issuer *pollIssuer
	cache  *MemoryPollCache
	rec    *Reconciler
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.Discard()
	issuer := newPollIssuer("mpesa")
	perf := provider.NewMemoryPerformanceStore(provider.DefaultEMAAlpha, provider.DefaultFailureThreshold)
	router := provider.NewRouter([]provider.Issuer{issuer}, perf, logger, provider.RouterOptions{})
	ledgerBackend := ledger.NewInMemory()
	cache := NewMemoryPollCache()

	f := &fixture{
		ledger: ledgerBackend,
		issuer: issuer,
		cache:  cache,
		clock:  time.Now().UTC(),
	}
	f.rec = New(ledgerBackend, router, logger, Options{Cache: cache, Providers: []string{"mpesa"}})
	f.rec.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) recordPendingFund(t *testing.T, ref, walletID string, amount int64) ledger.Transaction {
	t.Helper()
	ctx := context.Background()
	if err := f.ledger.EnsureAccount(ctx, ledger.WalletAccount(walletID)); err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	tx, err := f.ledger.Record(ctx, ledger.NewTransaction{
		Category:  ledger.CategoryWallet,
		Type:      ledger.TypeFund,
		Status:    ledger.StatusPending,
		Amount:    amount,
		Currency:  "USD",
		Provider:  "mpesa",
		Reference: ref,
		WalletID:  walletID,
	})
	if err != nil {
		t.Fatalf("record pending: %v", err)
	}
	return tx
}

func TestTickCreditsWalletOnSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.recordPendingFund(t, "ref-1", "w-1", 5_000)
	f.issuer.setStatus("ref-1", "COMPLETED")

	f.rec.Tick(ctx)

	balance, err := f.ledger.Balance(ctx, ledger.WalletAccount("w-1"))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 5_000 {
		t.Fatalf("expected balance 5000, got %d", balance)
	}

	tx, err := f.ledger.FindByKey(ctx, "ref-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if tx.Status != ledger.StatusSuccess {
		t.Fatalf("expected SUCCESS, got %s", tx.Status)
	}
	if _, ok := f.cache.Get("ref-1"); ok {
		t.Fatal("expected poll state removed after resolution")
	}

	// A later tick must not credit again.
	f.rec.Tick(ctx)
	balance, _ = f.ledger.Balance(ctx, ledger.WalletAccount("w-1"))
	if balance != 5_000 {
		t.Fatalf("balance changed on second tick: %d", balance)
	}
}

func TestTickLeavesUnresolvedPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.recordPendingFund(t, "ref-2", "w-1", 5_000)

	f.rec.Tick(ctx)

	tx, err := f.ledger.FindByKey(ctx, "ref-2")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if tx.Status != ledger.StatusPending {
		t.Fatalf("expected PENDING, got %s", tx.Status)
	}
	state, ok := f.cache.Get("ref-2")
	if !ok || state.Attempts != 1 {
		t.Fatalf("expected 1 recorded attempt, got %+v", state)
	}
}

func TestBackoffSkipsRecentlyQueried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.recordPendingFund(t, "ref-3", "w-1", 5_000)

	// Three prior attempts, last checked a minute ago: the two minute wait
	// has not elapsed, so the provider must not be queried.
	f.cache.Put("ref-3", PollState{Attempts: 3, LastChecked: f.clock.Add(-time.Minute)})

	f.rec.Tick(ctx)
	if got := f.issuer.queryCount(); got != 0 {
		t.Fatalf("expected no queries inside backoff window, got %d", got)
	}

	// Once the wait has elapsed the poller queries again.
	f.clock = f.clock.Add(90 * time.Second)
	f.rec.Tick(ctx)
	if got := f.issuer.queryCount(); got != 1 {
		t.Fatalf("expected one query after window, got %d", got)
	}
	state, _ := f.cache.Get("ref-3")
	if state.Attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", state.Attempts)
	}
}

func TestBackoffCapsAtScheduleEnd(t *testing.T) {
	if got := waitFor(0); got != 0 {
		t.Fatalf("expected immediate first poll, got %s", got)
	}
	if got := waitFor(3); got != 2*time.Minute {
		t.Fatalf("expected 2m wait after 3 attempts, got %s", got)
	}
	if got := waitFor(50); got != 20*time.Minute {
		t.Fatalf("expected capped 20m wait, got %s", got)
	}
}

func TestWithdrawFailureReleasesEscrow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	account := ledger.WalletAccount("w-2")
	if err := f.ledger.EnsureAccount(ctx, account); err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	ledger.SeedBalance(f.ledger, account, 10_000)
	if _, err := f.ledger.Record(ctx, ledger.NewTransaction{
		Category:  ledger.CategoryWallet,
		Type:      ledger.TypeWithdraw,
		Status:    ledger.StatusPending,
		Amount:    3_000,
		Fee:       100,
		Currency:  "USD",
		Provider:  "mpesa",
		Reference: "wd-1",
		WalletID:  "w-2",
		Postings:  []ledger.Posting{{Account: account, Amount: -3_100}},
	}); err != nil {
		t.Fatalf("record pending withdrawal: %v", err)
	}
	f.issuer.setStatus("wd-1", "FAILED")

	f.rec.Tick(ctx)

	balance, err := f.ledger.Balance(ctx, account)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 10_000 {
		t.Fatalf("expected escrow released back to 10000, got %d", balance)
	}
	tx, err := f.ledger.FindByKey(ctx, "wd-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if tx.Status != ledger.StatusFailed {
		t.Fatalf("expected FAILED, got %s", tx.Status)
	}
}

func TestTickIgnoresOtherProviders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.rec.providers = []string{"other"}
	f.recordPendingFund(t, "ref-4", "w-1", 5_000)
	f.issuer.setStatus("ref-4", "COMPLETED")

	f.rec.Tick(ctx)
	if got := f.issuer.queryCount(); got != 0 {
		t.Fatalf("expected filtered provider to be skipped, got %d queries", got)
	}
}
