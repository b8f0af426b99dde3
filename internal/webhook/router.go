package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vela-pay/vela_pay/internal/ledger"
	"github.com/vela-pay/vela_pay/internal/notification"
	"github.com/vela-pay/vela_pay/internal/observability"
)

// CardRef is the minimal card view handlers need to post ledger transitions.
type CardRef struct {
	ID       string
	WalletID string
	Currency string
}

// CardResolver looks up cards by the provider-assigned id and applies status
// changes reported by the provider. A failed resolution is terminal for the
// event: retrying cannot make an unknown card appear without manual
// intervention.
type CardResolver interface {
	ResolveProviderCard(ctx context.Context, provider, providerCardID string) (CardRef, error)
	SetCardStatus(ctx context.Context, cardID, providerStatus string) error
}

// ProcessingResult reports how an event was handled. Processed=true tells the
// transport layer the sender must not redeliver; Success=false with
// Processed=false requests a retry where the provider's ack policy allows it.
type ProcessingResult struct {
	Success   bool
	Processed bool
	Message   string
}

// Router dispatches verified events to the card-lifecycle or
// transaction-lifecycle handlers, both of which drive the same ledger
// transition path the poller uses.
type Router struct {
	cards    CardResolver
	ledger   ledger.Ledger
	waiter   *Waiter
	notifier notification.Notifier
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewRouter wires the event router.
func NewRouter(cards CardResolver, l ledger.Ledger, waiter *Waiter, notifier notification.Notifier, logger *slog.Logger, metrics *observability.Metrics) *Router {
	return &Router{
		cards:    cards,
		ledger:   l,
		waiter:   waiter,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
	}
}

// Route dispatches one event. Unknown event types are acknowledged without
// effect so senders are not retried into a poison-message loop.
func (r *Router) Route(ctx context.Context, ev Event) ProcessingResult {
	var res ProcessingResult
	switch ev.Type {
	case EventCardCreationSuccess:
		res = r.handleCardCreation(ctx, ev, true)
	case EventCardCreationFailed:
		res = r.handleCardCreation(ctx, ev, false)
	case EventCardTerminated:
		res = r.handleCardTerminated(ctx, ev)
	case EventCardCharge:
		res = r.handleCardCharge(ctx, ev)
	case EventCardStatusUpdated:
		res = r.handleCardStatusUpdated(ctx, ev)
	case EventTransaction:
		res = r.handleTransaction(ctx, ev)
	default:
		r.logger.Info("acknowledging unknown webhook event type",
			slog.String("type", string(ev.Type)), slog.String("source", ev.Provider))
		res = ProcessingResult{Success: true, Processed: true, Message: "event type not handled"}
	}

	if r.metrics != nil {
		outcome := "failed"
		if res.Success {
			outcome = "ok"
		}
		r.metrics.WebhookEvent(string(ev.Type), outcome)
	}
	return res
}

func (r *Router) handleCardCreation(ctx context.Context, ev Event, success bool) ProcessingResult {
	data, err := ev.CardData()
	if err != nil {
		return ProcessingResult{Processed: true, Message: err.Error()}
	}

	status := ledger.StatusFailed
	if success {
		status = ledger.StatusSuccess
	}
	res, err := r.applyOrRecord(ctx, data.OrderID, status, ledger.NewTransaction{
		Category: ledger.CategoryCard,
		Type:     ledger.TypeCreate,
		Currency: data.Currency,
		Provider: ev.Provider,
		OrderID:  data.OrderID,
	}, nil)
	if err != nil {
		return ProcessingResult{Message: err.Error()}
	}

	// Unblock a caller waiting synchronously on this creation, whether the
	// provider reported success or failure.
	r.waiter.Resolve(data.OrderID, ev)

	if res.Applied && success {
		r.notify(ctx, notification.KindCardIssued, data.CustomerID,
			fmt.Sprintf("card %s issued", data.ProviderCardID))
	}
	return ProcessingResult{Success: true, Processed: true}
}

func (r *Router) handleCardTerminated(ctx context.Context, ev Event) ProcessingResult {
	data, err := ev.CardData()
	if err != nil {
		return ProcessingResult{Processed: true, Message: err.Error()}
	}
	card, err := r.cards.ResolveProviderCard(ctx, ev.Provider, data.ProviderCardID)
	if err != nil {
		return r.cardNotFound(ev, data.ProviderCardID, err)
	}

	// Termination refund is credit-only: the residual amount the provider
	// reports goes back to the company wallet as its own transition.
	var postings []ledger.Posting
	if data.Amount > 0 {
		postings = append(postings, ledger.Posting{Account: ledger.WalletAccount(card.WalletID), Amount: data.Amount})
	}
	key := firstKey(data.Reference, data.OrderID, ev.ID)
	res, err := r.applyOrRecord(ctx, key, ledger.StatusSuccess, ledger.NewTransaction{
		Category:  ledger.CategoryCard,
		Type:      ledger.TypeTerminate,
		Amount:    data.Amount,
		Currency:  data.Currency,
		Provider:  ev.Provider,
		Reference: key,
		WalletID:  card.WalletID,
		CardID:    card.ID,
	}, postings)
	if err != nil {
		return ProcessingResult{Message: err.Error()}
	}
	if res.Applied {
		if err := r.cards.SetCardStatus(ctx, card.ID, "TERMINATED"); err != nil {
			return ProcessingResult{Message: err.Error()}
		}
		r.notify(ctx, notification.KindCardTerminated, card.ID,
			fmt.Sprintf("card terminated, %d refunded to wallet %s", data.Amount, card.WalletID))
	}
	return ProcessingResult{Success: true, Processed: true}
}

func (r *Router) handleCardCharge(ctx context.Context, ev Event) ProcessingResult {
	data, err := ev.CardData()
	if err != nil {
		return ProcessingResult{Processed: true, Message: err.Error()}
	}
	card, err := r.cards.ResolveProviderCard(ctx, ev.Provider, data.ProviderCardID)
	if err != nil {
		return r.cardNotFound(ev, data.ProviderCardID, err)
	}

	status, terminal := ledger.NormalizeProviderStatus(data.Status)
	if !terminal || status != ledger.StatusSuccess {
		status = ledger.StatusFailed
	}
	var postings []ledger.Posting
	if status == ledger.StatusSuccess {
		postings = append(postings, ledger.Posting{Account: ledger.CardAccount(card.ID), Amount: -data.Amount})
	}
	key := firstKey(data.Reference, ev.ID)
	if _, err := r.applyOrRecord(ctx, key, status, ledger.NewTransaction{
		Category:  ledger.CategoryCard,
		Type:      ledger.TypeSettlement,
		Amount:    data.Amount,
		Currency:  data.Currency,
		Provider:  ev.Provider,
		Reference: key,
		WalletID:  card.WalletID,
		CardID:    card.ID,
	}, postings); err != nil {
		return ProcessingResult{Message: err.Error()}
	}
	return ProcessingResult{Success: true, Processed: true}
}

func (r *Router) handleCardStatusUpdated(ctx context.Context, ev Event) ProcessingResult {
	data, err := ev.CardData()
	if err != nil {
		return ProcessingResult{Processed: true, Message: err.Error()}
	}
	card, err := r.cards.ResolveProviderCard(ctx, ev.Provider, data.ProviderCardID)
	if err != nil {
		return r.cardNotFound(ev, data.ProviderCardID, err)
	}
	if err := r.cards.SetCardStatus(ctx, card.ID, data.Status); err != nil {
		return ProcessingResult{Message: err.Error()}
	}
	return ProcessingResult{Success: true, Processed: true}
}

func (r *Router) handleTransaction(ctx context.Context, ev Event) ProcessingResult {
	data, err := ev.TransactionData()
	if err != nil {
		return ProcessingResult{Processed: true, Message: err.Error()}
	}
	card, err := r.cards.ResolveProviderCard(ctx, ev.Provider, data.ProviderCardID)
	if err != nil {
		return r.cardNotFound(ev, data.ProviderCardID, err)
	}

	cardAccount := ledger.CardAccount(card.ID)
	status, terminal := ledger.NormalizeProviderStatus(data.Status)
	if !terminal || status != ledger.StatusSuccess {
		status = ledger.StatusFailed
	}

	var txType ledger.Type
	var postings []ledger.Posting
	key := data.Key()
	switch data.Type {
	case TxnFunding:
		txType = ledger.TypeFund
		prior, priorKey, escrowed := r.pendingEscrow(ctx, data)
		if escrowed {
			key = priorKey
		}
		if status == ledger.StatusSuccess {
			postings = append(postings, ledger.Posting{Account: cardAccount, Amount: data.Amount})
		} else if escrowed {
			// The initiation debited the wallet up front; a failed or expired
			// funding hands the escrow back.
			postings = append(postings, ledger.Posting{Account: ledger.WalletAccount(card.WalletID), Amount: prior.Amount + prior.Fee})
		}
	case TxnWithdrawal:
		txType = ledger.TypeWithdraw
		if status == ledger.StatusSuccess {
			postings = append(postings, ledger.Posting{Account: cardAccount, Amount: -data.Amount})
		}
	case TxnAuthorization:
		txType = ledger.TypeAuthorization
		if status == ledger.StatusSuccess {
			postings = append(postings, ledger.Posting{Account: cardAccount, Amount: -data.Amount})
		}
	case TxnSettlement:
		txType = ledger.TypeSettlement
		if status == ledger.StatusSuccess {
			postings = append(postings, ledger.Posting{Account: cardAccount, Amount: -data.Amount})
		}
	case TxnDecline:
		txType = ledger.TypeDecline
		status = ledger.StatusFailed
	case TxnReversal, TxnRefund:
		// Credit-only corrections always succeed, keyed by their own reference
		// independently of any prior debit.
		if data.Type == TxnReversal {
			txType = ledger.TypeReversal
		} else {
			txType = ledger.TypeRefund
		}
		status = ledger.StatusSuccess
		postings = append(postings, ledger.Posting{Account: cardAccount, Amount: data.Amount})
	case TxnTermination:
		txType = ledger.TypeTerminate
		status = ledger.StatusSuccess
		postings = append(postings, ledger.Posting{Account: ledger.WalletAccount(card.WalletID), Amount: data.Amount})
	default:
		r.logger.Info("acknowledging unknown transaction event type",
			slog.String("type", string(data.Type)), slog.String("source", ev.Provider))
		return ProcessingResult{Success: true, Processed: true, Message: "transaction type not handled"}
	}

	res, err := r.applyOrRecord(ctx, key, status, ledger.NewTransaction{
		Category:  ledger.CategoryCard,
		Type:      txType,
		Amount:    data.Amount,
		Currency:  data.Currency,
		Provider:  ev.Provider,
		Reference: data.Reference,
		OrderID:   data.OrderID,
		WalletID:  card.WalletID,
		CardID:    card.ID,
	}, postings)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			// The provider reported a movement the local balance cannot cover.
			// No retry can fix this; it needs manual reconciliation.
			r.logger.Error("webhook transaction would overdraw balance",
				slog.String("card_id", card.ID), slog.String("reference", data.Key()))
			return ProcessingResult{Processed: true, Message: err.Error()}
		}
		return ProcessingResult{Message: err.Error()}
	}

	if res.Applied && data.Type == TxnFunding && status == ledger.StatusSuccess {
		r.notify(ctx, notification.KindCardFunded, card.ID,
			fmt.Sprintf("card %s funded with %d", card.ID, data.Amount))
	}
	return ProcessingResult{Success: true, Processed: true}
}

// pendingEscrow finds the pending transaction a FUNDING event settles. The
// initiation records the escrow under the internal order id while some
// providers report only their own reference, so both keys are tried.
func (r *Router) pendingEscrow(ctx context.Context, data TransactionData) (ledger.Transaction, string, bool) {
	for _, key := range []string{data.OrderID, data.Reference} {
		if key == "" {
			continue
		}
		tx, err := r.ledger.FindByKey(ctx, key)
		if err == nil && tx.Status == ledger.StatusPending {
			return tx, key, true
		}
	}
	return ledger.Transaction{}, "", false
}

// applyOrRecord drives the transition for the idempotency key: transition an
// existing transaction when one is pending, otherwise record a new terminal
// transaction. Either way a replay of the same key has no effect.
func (r *Router) applyOrRecord(ctx context.Context, key string, status ledger.Status, nt ledger.NewTransaction, postings []ledger.Posting) (ledger.TransitionResult, error) {
	res, err := r.ledger.Apply(ctx, key, status, postings)
	if err == nil {
		r.countTransition(res.Applied)
		return res, nil
	}
	if !errors.Is(err, ledger.ErrTransactionNotFound) {
		return ledger.TransitionResult{}, err
	}

	nt.Status = status
	nt.Postings = postings
	tx, err := r.ledger.Record(ctx, nt)
	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		r.countTransition(false)
		return ledger.TransitionResult{Applied: false, Transaction: tx}, nil
	}
	if err != nil {
		return ledger.TransitionResult{}, err
	}
	r.countTransition(true)
	return ledger.TransitionResult{Applied: true, Transaction: tx}, nil
}

func (r *Router) cardNotFound(ev Event, providerCardID string, err error) ProcessingResult {
	r.logger.Error("webhook for unknown card",
		slog.String("source", ev.Provider),
		slog.String("provider_card_id", providerCardID),
		slog.Any("error", err))
	return ProcessingResult{Processed: true, Message: "card not found"}
}

func (r *Router) notify(ctx context.Context, kind, destination, body string) {
	if r.notifier == nil {
		return
	}
	_ = r.notifier.Send(ctx, notification.Message{Kind: kind, Destination: destination, Body: body})
}

func (r *Router) countTransition(applied bool) {
	if r.metrics == nil {
		return
	}
	if applied {
		r.metrics.LedgerTransition("applied")
	} else {
		r.metrics.LedgerTransition("replayed")
	}
}

func firstKey(keys ...string) string {
	for _, k := range keys {
		if k != "" {
			return k
		}
	}
	return ""
}
