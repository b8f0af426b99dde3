package card

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vela-pay/vela_pay/internal/ledger"
	"github.com/vela-pay/vela_pay/internal/notification"
	"github.com/vela-pay/vela_pay/internal/provider"
	"github.com/vela-pay/vela_pay/internal/wallet"
	"github.com/vela-pay/vela_pay/internal/webhook"
)

// DefaultFundRate is the multiplier applied to the wallet debit when funding
// a card: funding 2000 minor units debits 2040 from the wallet.
const DefaultFundRate = 1.02

var (
	// ErrCardNotActive rejects an operation on a frozen, pending or
	// terminated card.
	ErrCardNotActive = errors.New("card is not active")

	// ErrCreationFailed surfaces a provider-reported card issuance failure.
	ErrCreationFailed = errors.New("card creation failed")
)

// Service exposes card lifecycle operations. Issuance is routed across the
// ranked provider candidates; every operation after issuance is pinned to the
// provider that created the card.
type Service struct {
	repo         Repository
	wallets      *wallet.Service
	ledger       ledger.Ledger
	router       *provider.Router
	directory    provider.Directory
	waiter       *webhook.Waiter
	notifier     notification.Notifier
	logger       *slog.Logger
	fundRate     float64
	awaitTimeout time.Duration
}

// ServiceOptions tunes the card service. Zero values select the defaults.
type ServiceOptions struct {
	FundRate     float64
	AwaitTimeout time.Duration
}

// NewService builds a card service instance.
func NewService(repo Repository, wallets *wallet.Service, ledgerBackend ledger.Ledger, router *provider.Router, directory provider.Directory, waiter *webhook.Waiter, notifier notification.Notifier, logger *slog.Logger, opts ServiceOptions) *Service {
	if opts.FundRate <= 0 {
		opts.FundRate = DefaultFundRate
	}
	if opts.AwaitTimeout <= 0 {
		opts.AwaitTimeout = webhook.DefaultAwaitTimeout
	}
	return &Service{
		repo:         repo,
		wallets:      wallets,
		ledger:       ledgerBackend,
		router:       router,
		directory:    directory,
		waiter:       waiter,
		notifier:     notifier,
		logger:       logger,
		fundRate:     opts.FundRate,
		awaitTimeout: opts.AwaitTimeout,
	}
}

// FundDebitAmount computes the wallet debit for a card top-up of amount at
// the given rate, rounded to the nearest minor unit.
func FundDebitAmount(amount int64, rate float64) int64 {
	return int64(math.Round(float64(amount) * rate))
}

// CreateInput captures data required to issue a card.
type CreateInput struct {
	WalletID   string
	CustomerID string
	Currency   string
}

// Create issues a virtual card through the best available provider. When the
// provider confirms asynchronously, the call blocks until the correlated
// webhook arrives or the wait times out; a timed-out card stays PENDING and
// is completed by the webhook whenever it lands.
func (s *Service) Create(ctx context.Context, input CreateInput) (Card, error) {
	w, err := s.wallets.Get(ctx, input.WalletID)
	if err != nil {
		return Card{}, err
	}
	currency := input.Currency
	if currency == "" {
		currency = w.Currency
	}

	cardID := uuid.New().String()
	orderID := uuid.NewString()

	if _, err := s.ledger.Record(ctx, ledger.NewTransaction{
		Category: ledger.CategoryCard,
		Type:     ledger.TypeCreate,
		Status:   ledger.StatusPending,
		Currency: currency,
		OrderID:  orderID,
		WalletID: w.ID,
		CardID:   cardID,
	}); err != nil {
		return Card{}, err
	}

	candidates, err := s.directory.EnabledProviders(ctx, w.CompanyID)
	if err != nil {
		return Card{}, err
	}

	// Listen before calling out: an async provider may deliver the creation
	// webhook before its API response returns.
	events, release := s.waiter.Register(orderID)
	defer release()

	var resp provider.CardResponse
	route, err := s.router.Execute(ctx, candidates, func(ctx context.Context, iss provider.Issuer) error {
		var opErr error
		resp, opErr = iss.CreateCard(ctx, provider.CardRequest{
			CompanyID:  w.CompanyID,
			CustomerID: input.CustomerID,
			Currency:   currency,
			OrderID:    orderID,
		})
		return opErr
	})
	if err != nil {
		if _, applyErr := s.ledger.Apply(ctx, orderID, ledger.StatusFailed, nil); applyErr != nil {
			s.logger.Error("failed to mark card creation failed",
				slog.String("order_id", orderID), slog.Any("error", applyErr))
		}
		return Card{}, err
	}

	now := time.Now().UTC()
	record := Card{
		ID:             cardID,
		CompanyID:      w.CompanyID,
		WalletID:       w.ID,
		CustomerID:     input.CustomerID,
		Provider:       route.Provider,
		ProviderCardID: resp.ProviderCardID,
		Currency:       currency,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return Card{}, err
	}
	if err := s.ledger.EnsureAccount(ctx, ledger.CardAccount(cardID)); err != nil {
		return Card{}, err
	}

	if !resp.Async {
		if _, err := s.ledger.Apply(ctx, orderID, ledger.StatusSuccess, nil); err != nil {
			return Card{}, err
		}
		return s.activate(ctx, record, resp.ProviderCardID)
	}

	return s.awaitCreation(ctx, record, events)
}

// awaitCreation blocks on the creation webhook for an async issuance. The
// ledger transition is already applied by the webhook router before the event
// is delivered here.
func (s *Service) awaitCreation(ctx context.Context, record Card, events <-chan webhook.Event) (Card, error) {
	ctx, cancel := context.WithTimeout(ctx, s.awaitTimeout)
	defer cancel()

	select {
	case ev := <-events:
		data, err := ev.CardData()
		if err != nil {
			return Card{}, err
		}
		if ev.Type != webhook.EventCardCreationSuccess {
			if err := s.repo.UpdateStatus(ctx, record.ID, StatusTerminated); err != nil {
				s.logger.Error("failed to mark card terminated",
					slog.String("card_id", record.ID), slog.Any("error", err))
			}
			return Card{}, fmt.Errorf("%w: %s", ErrCreationFailed, data.Reason)
		}
		return s.activate(ctx, record, data.ProviderCardID)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Card{}, webhook.ErrAwaitTimeout
		}
		return Card{}, ctx.Err()
	}
}

func (s *Service) activate(ctx context.Context, record Card, providerCardID string) (Card, error) {
	if providerCardID != "" && providerCardID != record.ProviderCardID {
		if err := s.repo.SetProviderCardID(ctx, record.ID, providerCardID); err != nil {
			return Card{}, err
		}
		record.ProviderCardID = providerCardID
	}
	if err := s.repo.UpdateStatus(ctx, record.ID, StatusActive); err != nil {
		return Card{}, err
	}
	record.Status = StatusActive

	s.notify(ctx, notification.KindCardIssued, record.CustomerID,
		fmt.Sprintf("card %s issued via %s", record.ID, record.Provider))
	return record, nil
}

// MoneyInput captures data for a card fund or withdrawal.
type MoneyInput struct {
	CardID  string
	Amount  int64
	OrderID string
}

// MoneyResult reports the recorded movement.
type MoneyResult struct {
	Transaction ledger.Transaction
}

// Fund moves value from the backing wallet onto the card. The wallet is
// debited amount times the fund rate up front; if the provider call fails the
// escrow is released on the same key. A provider that resolves asynchronously
// leaves the card credit to the correlated webhook.
func (s *Service) Fund(ctx context.Context, input MoneyInput) (MoneyResult, error) {
	if input.Amount <= 0 {
		return MoneyResult{}, fmt.Errorf("amount must be positive")
	}
	if input.OrderID == "" {
		input.OrderID = uuid.NewString()
	}

	c, err := s.repo.Get(ctx, input.CardID)
	if err != nil {
		return MoneyResult{}, err
	}
	if c.Status != StatusActive {
		return MoneyResult{}, ErrCardNotActive
	}

	debit := FundDebitAmount(input.Amount, s.fundRate)
	tx, err := s.ledger.Record(ctx, ledger.NewTransaction{
		Category: ledger.CategoryCard,
		Type:     ledger.TypeFund,
		Status:   ledger.StatusPending,
		Amount:   input.Amount,
		Fee:      debit - input.Amount,
		Currency: c.Currency,
		Provider: c.Provider,
		OrderID:  input.OrderID,
		WalletID: c.WalletID,
		CardID:   c.ID,
		Postings: []ledger.Posting{{Account: ledger.WalletAccount(c.WalletID), Amount: -debit}},
	})
	if err != nil {
		return MoneyResult{}, err
	}

	var resp provider.MoneyResponse
	err = s.router.ExecutePinned(ctx, c.Provider, func(ctx context.Context, iss provider.Issuer) error {
		var opErr error
		resp, opErr = iss.FundCard(ctx, provider.MoneyRequest{
			ProviderCardID: c.ProviderCardID,
			Amount:         input.Amount,
			Currency:       c.Currency,
			OrderID:        input.OrderID,
		})
		return opErr
	})
	if err != nil {
		if _, applyErr := s.ledger.Apply(ctx, input.OrderID, ledger.StatusFailed,
			[]ledger.Posting{{Account: ledger.WalletAccount(c.WalletID), Amount: debit}}); applyErr != nil {
			s.logger.Error("failed to release card funding escrow",
				slog.String("card_id", c.ID), slog.String("order_id", input.OrderID), slog.Any("error", applyErr))
		}
		return MoneyResult{}, err
	}

	status, terminal := ledger.NormalizeProviderStatus(resp.Status)
	if !terminal {
		// The card credit lands with the provider's FUNDING webhook.
		return MoneyResult{Transaction: tx}, nil
	}

	postings := []ledger.Posting{{Account: ledger.CardAccount(c.ID), Amount: input.Amount}}
	if status != ledger.StatusSuccess {
		postings = []ledger.Posting{{Account: ledger.WalletAccount(c.WalletID), Amount: debit}}
	}
	res, err := s.ledger.Apply(ctx, input.OrderID, status, postings)
	if err != nil {
		return MoneyResult{}, err
	}
	if status == ledger.StatusSuccess {
		s.notify(ctx, notification.KindCardFunded, c.ID,
			fmt.Sprintf("card %s funded with %d %s", c.ID, input.Amount, c.Currency))
	}
	return MoneyResult{Transaction: res.Transaction}, nil
}

// Withdraw moves value off the card back to the backing wallet. The provider
// must answer terminally; there is no escrow because the provider's own
// WITHDRAWAL webhooks model card spend, not initiated payouts.
func (s *Service) Withdraw(ctx context.Context, input MoneyInput) (MoneyResult, error) {
	if input.Amount <= 0 {
		return MoneyResult{}, fmt.Errorf("amount must be positive")
	}
	if input.OrderID == "" {
		input.OrderID = uuid.NewString()
	}

	c, err := s.repo.Get(ctx, input.CardID)
	if err != nil {
		return MoneyResult{}, err
	}
	if c.Status != StatusActive {
		return MoneyResult{}, ErrCardNotActive
	}

	balance, err := s.ledger.Balance(ctx, ledger.CardAccount(c.ID))
	if err != nil {
		return MoneyResult{}, err
	}
	if balance < input.Amount {
		return MoneyResult{}, ledger.ErrInsufficientFunds
	}

	var resp provider.MoneyResponse
	err = s.router.ExecutePinned(ctx, c.Provider, func(ctx context.Context, iss provider.Issuer) error {
		var opErr error
		resp, opErr = iss.WithdrawCard(ctx, provider.MoneyRequest{
			ProviderCardID: c.ProviderCardID,
			Amount:         input.Amount,
			Currency:       c.Currency,
			OrderID:        input.OrderID,
		})
		return opErr
	})
	if err != nil {
		return MoneyResult{}, err
	}

	status, terminal := ledger.NormalizeProviderStatus(resp.Status)
	if !terminal {
		status = ledger.StatusFailed
	}
	nt := ledger.NewTransaction{
		Category:  ledger.CategoryCard,
		Type:      ledger.TypeWithdraw,
		Status:    status,
		Amount:    input.Amount,
		Currency:  c.Currency,
		Provider:  c.Provider,
		Reference: resp.Reference,
		OrderID:   input.OrderID,
		WalletID:  c.WalletID,
		CardID:    c.ID,
	}
	if status == ledger.StatusSuccess {
		nt.Postings = []ledger.Posting{
			{Account: ledger.CardAccount(c.ID), Amount: -input.Amount},
			{Account: ledger.WalletAccount(c.WalletID), Amount: input.Amount},
		}
	}
	tx, err := s.ledger.Record(ctx, nt)
	if err != nil {
		return MoneyResult{}, err
	}
	if status != ledger.StatusSuccess {
		return MoneyResult{Transaction: tx}, fmt.Errorf("card withdrawal not settled: %s", resp.Status)
	}
	return MoneyResult{Transaction: tx}, nil
}

// Freeze suspends an active card at the provider.
func (s *Service) Freeze(ctx context.Context, cardID string) error {
	return s.toggleFreeze(ctx, cardID, StatusActive, StatusFrozen, func(ctx context.Context, iss provider.Issuer, providerCardID string) error {
		return iss.FreezeCard(ctx, providerCardID)
	})
}

// Unfreeze reactivates a frozen card at the provider.
func (s *Service) Unfreeze(ctx context.Context, cardID string) error {
	return s.toggleFreeze(ctx, cardID, StatusFrozen, StatusActive, func(ctx context.Context, iss provider.Issuer, providerCardID string) error {
		return iss.UnfreezeCard(ctx, providerCardID)
	})
}

func (s *Service) toggleFreeze(ctx context.Context, cardID, from, to string, op func(context.Context, provider.Issuer, string) error) error {
	c, err := s.repo.Get(ctx, cardID)
	if err != nil {
		return err
	}
	if c.Status != from {
		return fmt.Errorf("%w: status is %s", ErrCardNotActive, c.Status)
	}
	if err := s.router.ExecutePinned(ctx, c.Provider, func(ctx context.Context, iss provider.Issuer) error {
		return op(ctx, iss, c.ProviderCardID)
	}); err != nil {
		return err
	}
	return s.repo.UpdateStatus(ctx, cardID, to)
}

// Terminate closes the card at the provider and refunds the residual card
// balance to the backing wallet. A provider that terminates asynchronously
// confirms through a card.terminated webhook carrying the residual.
func (s *Service) Terminate(ctx context.Context, cardID string) (MoneyResult, error) {
	c, err := s.repo.Get(ctx, cardID)
	if err != nil {
		return MoneyResult{}, err
	}
	if c.Status == StatusTerminated {
		return MoneyResult{}, fmt.Errorf("%w: already terminated", ErrCardNotActive)
	}

	residual, err := s.ledger.Balance(ctx, ledger.CardAccount(c.ID))
	if err != nil {
		return MoneyResult{}, err
	}

	var resp provider.MoneyResponse
	err = s.router.ExecutePinned(ctx, c.Provider, func(ctx context.Context, iss provider.Issuer) error {
		// Prefer the provider's view of the remaining balance when it has
		// one; local and provider balances can drift between webhooks.
		if remote, balErr := iss.CardBalance(ctx, c.ProviderCardID); balErr == nil {
			residual = remote
		}
		var opErr error
		resp, opErr = iss.TerminateCard(ctx, c.ProviderCardID)
		return opErr
	})
	if err != nil {
		return MoneyResult{}, err
	}

	status, terminal := ledger.NormalizeProviderStatus(resp.Status)
	if terminal && status != ledger.StatusSuccess {
		return MoneyResult{}, fmt.Errorf("card termination rejected by %s: %s", c.Provider, resp.Status)
	}
	if !terminal {
		// Async termination: record the pending closure, the webhook applies
		// the refund and flips the status.
		tx, err := s.ledger.Record(ctx, ledger.NewTransaction{
			Category:  ledger.CategoryCard,
			Type:      ledger.TypeTerminate,
			Status:    ledger.StatusPending,
			Amount:    residual,
			Currency:  c.Currency,
			Provider:  c.Provider,
			Reference: resp.Reference,
			WalletID:  c.WalletID,
			CardID:    c.ID,
		})
		if err != nil {
			return MoneyResult{}, err
		}
		return MoneyResult{Transaction: tx}, nil
	}

	var postings []ledger.Posting
	if residual > 0 {
		postings = []ledger.Posting{
			{Account: ledger.CardAccount(c.ID), Amount: -residual},
			{Account: ledger.WalletAccount(c.WalletID), Amount: residual},
		}
	}
	tx, err := s.ledger.Record(ctx, ledger.NewTransaction{
		Category:  ledger.CategoryCard,
		Type:      ledger.TypeTerminate,
		Status:    ledger.StatusSuccess,
		Amount:    residual,
		Currency:  c.Currency,
		Provider:  c.Provider,
		Reference: resp.Reference,
		WalletID:  c.WalletID,
		CardID:    c.ID,
		Postings:  postings,
	})
	if err != nil {
		return MoneyResult{}, err
	}
	if err := s.repo.UpdateStatus(ctx, c.ID, StatusTerminated); err != nil {
		return MoneyResult{}, err
	}
	s.notify(ctx, notification.KindCardTerminated, c.ID,
		fmt.Sprintf("card %s terminated, %d %s returned to wallet", c.ID, residual, c.Currency))
	return MoneyResult{Transaction: tx}, nil
}

// Get retrieves card metadata.
func (s *Service) Get(ctx context.Context, id string) (Card, error) {
	return s.repo.Get(ctx, id)
}

// List returns every card funded from the wallet.
func (s *Service) List(ctx context.Context, walletID string) ([]Card, error) {
	return s.repo.ListByWallet(ctx, walletID)
}

// Balance returns the ledger balance for the card.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	amount, err := s.ledger.Balance(ctx, ledger.CardAccount(c.ID))
	if err != nil {
		return Balance{}, err
	}
	return Balance{CardID: c.ID, Amount: amount, AsOf: time.Now().UTC()}, nil
}

// ResolveProviderCard looks up the card by the provider-assigned identifier
// for webhook dispatch.
func (s *Service) ResolveProviderCard(ctx context.Context, providerName, providerCardID string) (webhook.CardRef, error) {
	c, err := s.repo.GetByProviderCard(ctx, providerName, providerCardID)
	if err != nil {
		return webhook.CardRef{}, err
	}
	return webhook.CardRef{ID: c.ID, WalletID: c.WalletID, Currency: c.Currency}, nil
}

// SetCardStatus applies a provider-reported status change.
func (s *Service) SetCardStatus(ctx context.Context, cardID, providerStatus string) error {
	status, ok := normalizeCardStatus(providerStatus)
	if !ok {
		s.logger.Info("ignoring unknown provider card status",
			slog.String("card_id", cardID), slog.String("status", providerStatus))
		return nil
	}
	return s.repo.UpdateStatus(ctx, cardID, status)
}

func normalizeCardStatus(raw string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ACTIVE", "ENABLED", "UNFROZEN":
		return StatusActive, true
	case "FROZEN", "SUSPENDED", "DISABLED":
		return StatusFrozen, true
	case "TERMINATED", "CLOSED", "CANCELLED":
		return StatusTerminated, true
	default:
		return "", false
	}
}

func (s *Service) notify(ctx context.Context, kind, destination, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, notification.Message{Kind: kind, Destination: destination, Body: body}); err != nil {
		s.logger.Warn("notification delivery failed", slog.String("kind", kind), slog.Any("error", err))
	}
}
