package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/vela-pay/vela_pay/internal/ledger"
	"github.com/vela-pay/vela_pay/internal/logging"
	"github.com/vela-pay/vela_pay/internal/provider"
)

type pendingIssuer struct {
	provider.StaticIssuer
}

func (p pendingIssuer) InitiateWalletFunding(_ context.Context, req provider.FundingRequest) (provider.MoneyResponse, error) {
	return provider.MoneyResponse{Reference: req.OrderID, Status: "PROCESSING"}, nil
}

func (p pendingIssuer) InitiateWalletPayout(_ context.Context, req provider.FundingRequest) (provider.MoneyResponse, error) {
	return provider.MoneyResponse{Reference: req.OrderID, Status: "PROCESSING"}, nil
}

type failingIssuer struct {
	provider.StaticIssuer
}

func (f failingIssuer) InitiateWalletPayout(_ context.Context, _ provider.FundingRequest) (provider.MoneyResponse, error) {
	return provider.MoneyResponse{}, errors.New("provider down")
}

func newWalletService(t *testing.T, issuers ...provider.Issuer) (*Service, ledger.Ledger) {
	t.Helper()
	logger := logging.Discard()
	if len(issuers) == 0 {
		issuers = []provider.Issuer{provider.NewStaticIssuer("alpha")}
	}
	names := make([]string, 0, len(issuers))
	for _, iss := range issuers {
		names = append(names, iss.Name())
	}
	perf := provider.NewMemoryPerformanceStore(provider.DefaultEMAAlpha, provider.DefaultFailureThreshold)
	router := provider.NewRouter(issuers, perf, logger, provider.RouterOptions{MaxAttempts: 1})
	ledgerBackend := ledger.NewInMemory()
	svc := NewService(NewMemoryRepository(), ledgerBackend, router, provider.StaticDirectory{Defaults: names}, nil, logger)
	return svc, ledgerBackend
}

func TestFundSettlesSynchronously(t *testing.T) {
	ctx := context.Background()
	svc, _ := newWalletService(t)

	w, err := svc.Create(ctx, CreateInput{CompanyID: "co-1", Currency: "USD"})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	res, err := svc.Fund(ctx, FundInput{WalletID: w.ID, Amount: 5_000, OrderID: "top-1"})
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if res.Transaction.Status != ledger.StatusSuccess {
		t.Fatalf("expected SUCCESS, got %s", res.Transaction.Status)
	}

	balance, err := svc.Balance(ctx, w.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Amount != 5_000 {
		t.Fatalf("expected balance 5000, got %d", balance.Amount)
	}

	if _, err := svc.Fund(ctx, FundInput{WalletID: w.ID, Amount: 5_000, OrderID: "top-1"}); !errors.Is(err, ledger.ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestFundStaysPendingForAsyncProvider(t *testing.T) {
	ctx := context.Background()
	svc, ledgerBackend := newWalletService(t, pendingIssuer{provider.NewStaticIssuer("beta")})

	w, err := svc.Create(ctx, CreateInput{CompanyID: "co-1", Currency: "USD"})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	res, err := svc.Fund(ctx, FundInput{WalletID: w.ID, Amount: 5_000, OrderID: "top-2"})
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if res.Transaction.Status != ledger.StatusPending {
		t.Fatalf("expected PENDING, got %s", res.Transaction.Status)
	}
	if res.Transaction.Reference != "top-2" {
		t.Fatalf("expected provider reference, got %q", res.Transaction.Reference)
	}

	// No credit until the movement resolves.
	amount, err := ledgerBackend.Balance(ctx, w.AccountCode)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if amount != 0 {
		t.Fatalf("expected balance 0, got %d", amount)
	}

	pending, err := ledgerBackend.ListPending(ctx, ledger.PendingFilter{Category: ledger.CategoryWallet})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending transaction, got %d", len(pending))
	}
}

func TestWithdrawEscrowsAndSettles(t *testing.T) {
	ctx := context.Background()
	svc, ledgerBackend := newWalletService(t)

	w, err := svc.Create(ctx, CreateInput{CompanyID: "co-1", Currency: "USD"})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	ledger.SeedBalance(ledgerBackend, w.AccountCode, 10_000)

	res, err := svc.Withdraw(ctx, WithdrawInput{WalletID: w.ID, Amount: 3_000, Fee: 100})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if res.Transaction.Status != ledger.StatusSuccess {
		t.Fatalf("expected SUCCESS, got %s", res.Transaction.Status)
	}

	balance, err := svc.Balance(ctx, w.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Amount != 6_900 {
		t.Fatalf("expected balance 6900, got %d", balance.Amount)
	}
}

func TestWithdrawReleasesEscrowOnProviderFailure(t *testing.T) {
	ctx := context.Background()
	svc, ledgerBackend := newWalletService(t, failingIssuer{provider.NewStaticIssuer("gamma")})

	w, err := svc.Create(ctx, CreateInput{CompanyID: "co-1", Currency: "USD"})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	ledger.SeedBalance(ledgerBackend, w.AccountCode, 10_000)

	if _, err := svc.Withdraw(ctx, WithdrawInput{WalletID: w.ID, Amount: 3_000}); !errors.Is(err, provider.ErrAllProvidersUnavailable) {
		t.Fatalf("expected provider failure, got %v", err)
	}

	balance, err := svc.Balance(ctx, w.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Amount != 10_000 {
		t.Fatalf("expected escrow released back to 10000, got %d", balance.Amount)
	}
}

func TestWithdrawRejectsInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	svc, _ := newWalletService(t)

	w, err := svc.Create(ctx, CreateInput{CompanyID: "co-1", Currency: "USD"})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	if _, err := svc.Withdraw(ctx, WithdrawInput{WalletID: w.ID, Amount: 3_000}); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}
