package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vela-pay/vela_pay/internal/observability"
)

var (
	// ErrSignatureInvalid indicates the webhook signature did not verify.
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrRateLimited indicates the source exceeded its fixed-window budget.
	// A rate-limited request does not consume a dedup slot.
	ErrRateLimited = errors.New("webhook rate limit exceeded")

	// ErrDuplicateEvent indicates the webhook id was already processed.
	ErrDuplicateEvent = errors.New("webhook already processed")

	// ErrUnknownSource indicates no verifier is configured for the source.
	ErrUnknownSource = errors.New("unknown webhook source")
)

// Headers carries the provider-specific webhook headers after the transport
// layer strips the source prefix.
type Headers struct {
	ID        string
	Timestamp string
	Signature string
}

// Gateway guards webhook ingestion: per-source rate limiting, signature
// verification and duplicate-id rejection, in that order.
type Gateway struct {
	verifiers map[string]Verifier
	limiter   RateLimiter
	dedup     DedupStore
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewGateway wires the gateway. A nil dedup store defaults to AllowAll.
func NewGateway(verifiers map[string]Verifier, limiter RateLimiter, dedup DedupStore, logger *slog.Logger, metrics *observability.Metrics) *Gateway {
	if dedup == nil {
		dedup = AllowAll{}
	}
	return &Gateway{
		verifiers: verifiers,
		limiter:   limiter,
		dedup:     dedup,
		logger:    logger,
		metrics:   metrics,
	}
}

// Verify admits or rejects a raw webhook. On success the payload is parsed
// into a typed Event ready for routing.
func (g *Gateway) Verify(ctx context.Context, source string, headers Headers, payload []byte) (Event, error) {
	verifier, ok := g.verifiers[source]
	if !ok {
		g.count(source, "unknown_source")
		return Event{}, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}

	allowed, err := g.limiter.Allow(ctx, source)
	if err != nil {
		return Event{}, err
	}
	if !allowed {
		g.count(source, "rate_limited")
		return Event{}, ErrRateLimited
	}

	if !verifier.Verify(headers.ID, headers.Timestamp, payload, headers.Signature) {
		g.count(source, "bad_signature")
		g.logger.Warn("webhook signature rejected", slog.String("source", source), slog.String("webhook_id", headers.ID))
		return Event{}, ErrSignatureInvalid
	}

	event, err := ParseEvent(source, payload)
	if err != nil {
		g.count(source, "malformed")
		return Event{}, err
	}

	seen, err := g.dedup.MarkProcessed(ctx, source+":"+headers.ID)
	if err != nil {
		return Event{}, err
	}
	if seen {
		g.count(source, "duplicate")
		return Event{}, ErrDuplicateEvent
	}

	g.count(source, "accepted")
	return event, nil
}

// Forget hands back the dedup slot reserved during admission. Called when
// processing failed and the response asks the sender to redeliver; without it
// the redelivery would be rejected as a duplicate and the event lost.
func (g *Gateway) Forget(ctx context.Context, source, id string) {
	if err := g.dedup.Forget(ctx, source+":"+id); err != nil {
		g.logger.Warn("failed to release webhook dedup slot",
			slog.String("source", source), slog.String("webhook_id", id), slog.Any("error", err))
	}
}

func (g *Gateway) count(source, outcome string) {
	if g.metrics != nil {
		g.metrics.WebhookReceived(source, outcome)
	}
}
