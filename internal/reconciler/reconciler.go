package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vela-pay/vela_pay/internal/ledger"
	"github.com/vela-pay/vela_pay/internal/notification"
	"github.com/vela-pay/vela_pay/internal/observability"
	"github.com/vela-pay/vela_pay/internal/provider"
)

// DefaultInterval is how often the poller scans for stuck transactions.
const DefaultInterval = 30 * time.Second

// defaultQueryTimeout caps one status query against a provider.
const defaultQueryTimeout = 15 * time.Second

// pollSchedule spaces out repeated status queries for the same transaction.
// A transaction that has been queried n times waits pollSchedule[min(n, 6)]
// since the last query before it is queried again.
var pollSchedule = []time.Duration{
	0,
	15 * time.Second,
	45 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
	20 * time.Minute,
}

// Reconciler resolves pending wallet transactions for providers that expose
// no webhooks by querying their status endpoints on a backoff schedule. It
// drives the same ledger transition path the webhook router uses, so a
// webhook landing mid-poll is harmless.
type Reconciler struct {
	ledger    ledger.Ledger
	router    *provider.Router
	cache     PollCache
	notifier  notification.Notifier
	logger    *slog.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	providers []string
	now       func() time.Time
}

// Options tunes the reconciler. Providers restricts the scan to poll-only
// providers; empty means every provider with pending transactions.
type Options struct {
	Interval  time.Duration
	Providers []string
	Cache     PollCache
	Notifier  notification.Notifier
	Metrics   *observability.Metrics
}

// New builds a reconciler over the ledger and provider router.
func New(ledgerBackend ledger.Ledger, router *provider.Router, logger *slog.Logger, opts Options) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Cache == nil {
		opts.Cache = NewMemoryPollCache()
	}
	return &Reconciler{
		ledger:    ledgerBackend,
		router:    router,
		cache:     opts.Cache,
		notifier:  opts.Notifier,
		logger:    logger,
		metrics:   opts.Metrics,
		interval:  opts.Interval,
		providers: opts.Providers,
		now:       time.Now,
	}
}

// Run polls until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", slog.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one scan over the pending wallet transactions. Transactions are
// processed sequentially; a slow provider delays the remainder of the scan
// rather than spawning unbounded concurrent queries.
func (r *Reconciler) Tick(ctx context.Context) {
	if r.metrics != nil {
		r.metrics.ReconcilerTick()
	}

	pending, err := r.ledger.ListPending(ctx, ledger.PendingFilter{
		Category:  ledger.CategoryWallet,
		Providers: r.providers,
	})
	if err != nil {
		r.logger.Error("pending scan failed", slog.Any("error", err))
		return
	}

	for _, tx := range pending {
		if ctx.Err() != nil {
			return
		}
		r.reconcile(ctx, tx)
	}
}

func (r *Reconciler) reconcile(ctx context.Context, tx ledger.Transaction) {
	key := tx.Reference
	if key == "" {
		key = tx.OrderID
	}

	state, tracked := r.cache.Get(key)
	if tracked && r.now().Sub(state.LastChecked) < waitFor(state.Attempts) {
		return
	}

	raw, err := r.queryStatus(ctx, tx.Provider, key)
	state.Attempts++
	state.LastChecked = r.now()
	r.cache.Put(key, state)
	if err != nil {
		r.logger.Warn("status query failed",
			slog.String("provider", tx.Provider),
			slog.String("key", key),
			slog.Int("attempts", state.Attempts),
			slog.Any("error", err))
		return
	}

	status, terminal := ledger.NormalizeProviderStatus(raw)
	if !terminal {
		return
	}

	res, err := r.ledger.Apply(ctx, key, status, r.postings(tx, status))
	if err != nil {
		r.logger.Error("transition failed",
			slog.String("key", key), slog.String("status", string(status)), slog.Any("error", err))
		return
	}

	r.cache.Remove(key)
	if r.metrics != nil {
		r.metrics.ReconcilerResolved(string(status))
	}
	r.logger.Info("pending transaction resolved",
		slog.String("key", key),
		slog.String("provider", tx.Provider),
		slog.String("status", string(status)),
		slog.Bool("applied", res.Applied))

	if res.Applied && status == ledger.StatusSuccess && tx.Type == ledger.TypeFund {
		r.notify(ctx, notification.KindWalletFunded, tx.WalletID,
			fmt.Sprintf("wallet %s funded with %d %s", tx.WalletID, tx.Amount, tx.Currency))
	}
}

// postings builds the balance movement the terminal status implies. Funding
// credits the wallet on success and moves nothing otherwise; a withdrawal
// already escrowed its debit, so success moves nothing and a failure releases
// the escrow.
func (r *Reconciler) postings(tx ledger.Transaction, status ledger.Status) []ledger.Posting {
	account := ledger.WalletAccount(tx.WalletID)
	switch tx.Type {
	case ledger.TypeFund:
		if status == ledger.StatusSuccess {
			return []ledger.Posting{{Account: account, Amount: tx.Amount}}
		}
	case ledger.TypeWithdraw:
		if status != ledger.StatusSuccess {
			return []ledger.Posting{{Account: account, Amount: tx.Amount + tx.Fee}}
		}
	}
	return nil
}

func (r *Reconciler) queryStatus(ctx context.Context, providerName, key string) (string, error) {
	iss, err := r.router.Issuer(providerName)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()
	return iss.TransactionStatus(ctx, key)
}

func (r *Reconciler) notify(ctx context.Context, kind, destination, body string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Send(ctx, notification.Message{Kind: kind, Destination: destination, Body: body}); err != nil {
		r.logger.Warn("notification delivery failed", slog.String("kind", kind), slog.Any("error", err))
	}
}

func waitFor(attempts int) time.Duration {
	if attempts >= len(pollSchedule) {
		attempts = len(pollSchedule) - 1
	}
	return pollSchedule[attempts]
}
