package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vela-pay/vela_pay/internal/ledger"
	"github.com/vela-pay/vela_pay/internal/notification"
	"github.com/vela-pay/vela_pay/internal/provider"
)

const (
	statusActive = "active"

	defaultCurrency = "USD"
)

// Service exposes wallet operations backed by the ledger. Money in and out of
// a wallet goes through the provider router; the ledger transition for a
// movement the provider resolves later is driven by the webhook router or the
// poller, never here.
type Service struct {
	repo      Repository
	ledger    ledger.Ledger
	router    *provider.Router
	directory provider.Directory
	notifier  notification.Notifier
	logger    *slog.Logger
}

// NewService builds a wallet service instance.
func NewService(repo Repository, ledgerBackend ledger.Ledger, router *provider.Router, directory provider.Directory, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		ledger:    ledgerBackend,
		router:    router,
		directory: directory,
		notifier:  notifier,
		logger:    logger,
	}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	CompanyID string
	Currency  string
}

// Create provisions a wallet and associated ledger account.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	if input.CompanyID == "" {
		return Wallet{}, fmt.Errorf("company id is required")
	}

	walletID := uuid.New().String()
	accountCode := ledger.WalletAccount(walletID)

	currency := input.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	wallet := Wallet{
		ID:          walletID,
		CompanyID:   input.CompanyID,
		AccountCode: accountCode,
		Currency:    currency,
		Status:      statusActive,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, wallet); err != nil {
		return Wallet{}, err
	}
	if err := s.ledger.EnsureAccount(ctx, accountCode); err != nil {
		return Wallet{}, err
	}

	return wallet, nil
}

// Get retrieves wallet metadata.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	return s.repo.Get(ctx, id)
}

// List returns the company's wallets.
func (s *Service) List(ctx context.Context, companyID string) ([]Wallet, error) {
	return s.repo.ListByCompany(ctx, companyID)
}

// Balance returns the ledger balance for the wallet.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	wallet, err := s.repo.Get(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	amount, err := s.ledger.Balance(ctx, wallet.AccountCode)
	if err != nil {
		return Balance{}, err
	}
	return Balance{WalletID: wallet.ID, Amount: amount, AsOf: time.Now().UTC()}, nil
}

// FundInput captures data required to top up a wallet.
type FundInput struct {
	WalletID string
	Amount   int64
	OrderID  string
}

// FundResult reports the initiated top-up. Pending results settle through a
// provider webhook or the poller.
type FundResult struct {
	Transaction ledger.Transaction
	Provider    string
}

// Fund initiates a wallet top-up through the best available provider. A
// provider that answers with a terminal status settles immediately; otherwise
// the movement is recorded pending and the wallet is credited when the
// provider resolves it.
func (s *Service) Fund(ctx context.Context, input FundInput) (FundResult, error) {
	if input.Amount <= 0 {
		return FundResult{}, fmt.Errorf("amount must be positive")
	}
	if input.OrderID == "" {
		input.OrderID = uuid.NewString()
	}

	w, err := s.repo.Get(ctx, input.WalletID)
	if err != nil {
		return FundResult{}, err
	}

	candidates, err := s.directory.EnabledProviders(ctx, w.CompanyID)
	if err != nil {
		return FundResult{}, err
	}

	var resp provider.MoneyResponse
	route, err := s.router.Execute(ctx, candidates, func(ctx context.Context, iss provider.Issuer) error {
		var opErr error
		resp, opErr = iss.InitiateWalletFunding(ctx, provider.FundingRequest{
			WalletID: w.ID,
			Amount:   input.Amount,
			Currency: w.Currency,
			OrderID:  input.OrderID,
		})
		return opErr
	})
	if err != nil {
		return FundResult{}, err
	}

	status, terminal := ledger.NormalizeProviderStatus(resp.Status)
	nt := ledger.NewTransaction{
		Category:  ledger.CategoryWallet,
		Type:      ledger.TypeFund,
		Status:    ledger.StatusPending,
		Amount:    input.Amount,
		Currency:  w.Currency,
		Provider:  route.Provider,
		Reference: resp.Reference,
		OrderID:   input.OrderID,
		WalletID:  w.ID,
	}
	if terminal {
		nt.Status = status
		if status == ledger.StatusSuccess {
			nt.Postings = []ledger.Posting{{Account: w.AccountCode, Amount: input.Amount}}
		}
	}

	tx, err := s.ledger.Record(ctx, nt)
	if err != nil {
		return FundResult{}, err
	}

	if tx.Status == ledger.StatusSuccess {
		s.notify(ctx, notification.KindWalletFunded, w.ID,
			fmt.Sprintf("wallet %s funded with %d %s", w.ID, input.Amount, w.Currency))
	}
	return FundResult{Transaction: tx, Provider: route.Provider}, nil
}

// WithdrawInput captures data required to pay out of a wallet.
type WithdrawInput struct {
	WalletID string
	Amount   int64
	Fee      int64
	OrderID  string
}

// Withdraw debits the wallet up front and initiates a payout with the best
// available provider. The escrowed debit is released back to the wallet if
// the payout fails; a payout left pending is settled by the poller.
func (s *Service) Withdraw(ctx context.Context, input WithdrawInput) (FundResult, error) {
	if input.Amount <= 0 {
		return FundResult{}, fmt.Errorf("amount must be positive")
	}
	if input.Fee < 0 {
		return FundResult{}, fmt.Errorf("fee must not be negative")
	}
	if input.OrderID == "" {
		input.OrderID = uuid.NewString()
	}

	w, err := s.repo.Get(ctx, input.WalletID)
	if err != nil {
		return FundResult{}, err
	}

	// Escrow first. The debit fails fast on insufficient funds before any
	// provider is contacted.
	total := input.Amount + input.Fee
	tx, err := s.ledger.Record(ctx, ledger.NewTransaction{
		Category: ledger.CategoryWallet,
		Type:     ledger.TypeWithdraw,
		Status:   ledger.StatusPending,
		Amount:   input.Amount,
		Fee:      input.Fee,
		Currency: w.Currency,
		OrderID:  input.OrderID,
		WalletID: w.ID,
		Postings: []ledger.Posting{{Account: w.AccountCode, Amount: -total}},
	})
	if err != nil {
		return FundResult{}, err
	}

	candidates, err := s.directory.EnabledProviders(ctx, w.CompanyID)
	if err != nil {
		return s.releaseEscrow(ctx, w, tx, total, err)
	}

	var resp provider.MoneyResponse
	route, err := s.router.Execute(ctx, candidates, func(ctx context.Context, iss provider.Issuer) error {
		var opErr error
		resp, opErr = iss.InitiateWalletPayout(ctx, provider.FundingRequest{
			WalletID: w.ID,
			Amount:   input.Amount,
			Currency: w.Currency,
			OrderID:  input.OrderID,
		})
		return opErr
	})
	if err != nil {
		return s.releaseEscrow(ctx, w, tx, total, err)
	}

	status, terminal := ledger.NormalizeProviderStatus(resp.Status)
	switch {
	case !terminal:
		// Escrow stays in place until the poller or a webhook settles the
		// payout.
		return FundResult{Transaction: tx, Provider: route.Provider}, nil
	case status == ledger.StatusSuccess:
		res, err := s.ledger.Apply(ctx, input.OrderID, ledger.StatusSuccess, nil)
		if err != nil {
			return FundResult{}, err
		}
		s.notify(ctx, notification.KindWithdrawalSettled, w.ID,
			fmt.Sprintf("withdrawal of %d %s from wallet %s settled", input.Amount, w.Currency, w.ID))
		return FundResult{Transaction: res.Transaction, Provider: route.Provider}, nil
	default:
		// Terminal failure from the provider: release the escrow on the same
		// transition.
		res, err := s.ledger.Apply(ctx, input.OrderID, status,
			[]ledger.Posting{{Account: w.AccountCode, Amount: total}})
		if err != nil {
			return FundResult{}, err
		}
		s.notify(ctx, notification.KindWithdrawalReversed, w.ID,
			fmt.Sprintf("withdrawal of %d %s from wallet %s reversed", input.Amount, w.Currency, w.ID))
		return FundResult{Transaction: res.Transaction, Provider: route.Provider}, nil
	}
}

func (s *Service) releaseEscrow(ctx context.Context, w Wallet, tx ledger.Transaction, total int64, cause error) (FundResult, error) {
	if _, err := s.ledger.Apply(ctx, tx.OrderID, ledger.StatusFailed,
		[]ledger.Posting{{Account: w.AccountCode, Amount: total}}); err != nil {
		s.logger.Error("failed to release withdrawal escrow",
			slog.String("wallet_id", w.ID), slog.String("order_id", tx.OrderID), slog.Any("error", err))
	}
	return FundResult{}, cause
}

func (s *Service) notify(ctx context.Context, kind, destination, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, notification.Message{Kind: kind, Destination: destination, Body: body}); err != nil {
		s.logger.Warn("notification delivery failed", slog.String("kind", kind), slog.Any("error", err))
	}
}
