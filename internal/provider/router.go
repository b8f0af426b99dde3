package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/vela-pay/vela_pay/internal/observability"
)

const (
	// DefaultMaxAttempts bounds how many ranked candidates one operation may
	// try before surfacing ErrAllProvidersUnavailable.
	DefaultMaxAttempts = 3

	// DefaultCallTimeout caps a single outbound provider call so a hung
	// provider cannot stall the request; a timeout counts as a failure for
	// routing purposes.
	DefaultCallTimeout = 15 * time.Second

	// Ranking weights: lower score is better. The success-rate term is scaled
	// so a fully failing provider outweighs two seconds of latency.
	weightLatency     = 1.0
	weightSuccessRate = 1.0
	successRateScale  = 2000.0
)

// Operation is one provider call executed by the router against the currently
// selected issuer.
type Operation func(ctx context.Context, issuer Issuer) error

// RouteResult reports which provider served the operation and on which attempt.
type RouteResult struct {
	Provider string
	Attempt  int
}

// Router ranks candidate providers by live performance, executes an operation
// against the best one and fails over down the ranking on error.
type Router struct {
	issuers     map[string]Issuer
	perf        PerformanceStore
	maxAttempts int
	callTimeout time.Duration
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// RouterOptions tunes the router. Zero values select the defaults.
type RouterOptions struct {
	MaxAttempts int
	CallTimeout time.Duration
	Metrics     *observability.Metrics
}

// NewRouter builds a router over the given issuers.
func NewRouter(issuers []Issuer, perf PerformanceStore, logger *slog.Logger, opts RouterOptions) *Router {
	registry := make(map[string]Issuer, len(issuers))
	for _, iss := range issuers {
		registry[iss.Name()] = iss
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	return &Router{
		issuers:     registry,
		perf:        perf,
		maxAttempts: opts.MaxAttempts,
		callTimeout: opts.CallTimeout,
		logger:      logger,
		metrics:     opts.Metrics,
	}
}

// Issuer returns the registered issuer by name, for paths that bypass ranking
// (polling a known provider for a stuck transaction).
func (r *Router) Issuer(name string) (Issuer, error) {
	iss, ok := r.issuers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return iss, nil
}

// Execute runs op against the ranked candidates, failing over on error. On the
// first success it updates the winner's moving averages and returns without
// trying further providers.
func (r *Router) Execute(ctx context.Context, candidates []string, op Operation) (RouteResult, error) {
	ranked, err := r.rank(candidates)
	if err != nil {
		return RouteResult{}, err
	}
	if len(ranked) > r.maxAttempts {
		ranked = ranked[:r.maxAttempts]
	}

	var lastErr error
	for attempt, name := range ranked {
		iss := r.issuers[name]

		callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
		start := time.Now()
		err := op(callCtx, iss)
		latency := time.Since(start)
		cancel()

		if err == nil {
			r.perf.RecordSuccess(name, latency)
			if r.metrics != nil {
				r.metrics.ProviderCall(name, "success", latency)
			}
			return RouteResult{Provider: name, Attempt: attempt + 1}, nil
		}

		r.perf.RecordFailure(name)
		if r.metrics != nil {
			r.metrics.ProviderCall(name, "failure", latency)
		}
		r.logger.Warn("provider call failed, failing over",
			slog.String("provider", name),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	if r.metrics != nil {
		r.metrics.ProviderExhausted()
	}
	if lastErr == nil {
		lastErr = ErrNoCandidates
	}
	return RouteResult{}, fmt.Errorf("%w: %v", ErrAllProvidersUnavailable, lastErr)
}

// ExecutePinned runs op against one named provider without failover, for
// operations bound to the provider that issued the card. The call still gets
// the timeout and feeds the performance tracker.
func (r *Router) ExecutePinned(ctx context.Context, name string, op Operation) error {
	iss, err := r.Issuer(name)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	start := time.Now()
	if err := op(callCtx, iss); err != nil {
		r.perf.RecordFailure(name)
		if r.metrics != nil {
			r.metrics.ProviderCall(name, "failure", time.Since(start))
		}
		return err
	}
	latency := time.Since(start)
	r.perf.RecordSuccess(name, latency)
	if r.metrics != nil {
		r.metrics.ProviderCall(name, "success", latency)
	}
	return nil
}

// rank orders candidates healthy-first, then by ascending score:
// weightLatency*avgMs + weightSuccessRate*(1-successRate)*scale.
func (r *Router) rank(candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	type scored struct {
		name    string
		healthy bool
		score   float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, name := range candidates {
		if _, ok := r.issuers[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
		}
		snap := r.perf.Snapshot(name)
		score := weightLatency*snap.AvgResponseTimeMs +
			weightSuccessRate*(1-snap.SuccessRate)*successRateScale
		ranked = append(ranked, scored{name: name, healthy: snap.Healthy, score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].healthy != ranked[j].healthy {
			return ranked[i].healthy
		}
		return ranked[i].score < ranked[j].score
	})

	out := make([]string, len(ranked))
	for i, s := range ranked {
		out[i] = s.name
	}
	return out, nil
}
