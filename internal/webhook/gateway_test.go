package webhook

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vela-pay/vela_pay/internal/logging"
)

func newTestGateway(t *testing.T, limiter RateLimiter, dedup DedupStore) (*Gateway, Verifier) {
	t.Helper()
	verifier := NewVerifier(testSecret)
	gw := NewGateway(map[string]Verifier{"sudo": verifier}, limiter, dedup, logging.Discard(), nil)
	return gw, verifier
}

func signedHeaders(v Verifier, id string, payload []byte) Headers {
	ts := "1700000000"
	return Headers{ID: id, Timestamp: ts, Signature: v.Sign(id, ts, payload)}
}

func chargePayload(id string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":"card.charge","data":{"card_id":"pc-1","amount":100,"currency":"USD","status":"SUCCESS","reference":"ref-%s"}}`, id, id))
}

func TestGatewayAcceptsSignedEvent(t *testing.T) {
	ctx := context.Background()
	gw, v := newTestGateway(t, NewMemoryRateLimiter(10, time.Minute), nil)

	payload := chargePayload("evt_1")
	ev, err := gw.Verify(ctx, "sudo", signedHeaders(v, "evt_1", payload), payload)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ev.Type != EventCardCharge || ev.Provider != "sudo" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestGatewayRejectsUnknownSource(t *testing.T) {
	ctx := context.Background()
	gw, v := newTestGateway(t, NewMemoryRateLimiter(10, time.Minute), nil)

	payload := chargePayload("evt_2")
	if _, err := gw.Verify(ctx, "ghost", signedHeaders(v, "evt_2", payload), payload); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected unknown source, got %v", err)
	}
}

func TestGatewayRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	gw, v := newTestGateway(t, NewMemoryRateLimiter(10, time.Minute), nil)

	payload := chargePayload("evt_3")
	headers := signedHeaders(v, "evt_3", payload)
	headers.Signature = "v1,Zm9yZ2Vk"
	if _, err := gw.Verify(ctx, "sudo", headers, payload); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected signature error, got %v", err)
	}
}

func TestGatewayRejectsMalformedPayload(t *testing.T) {
	ctx := context.Background()
	gw, v := newTestGateway(t, NewMemoryRateLimiter(10, time.Minute), nil)

	payload := []byte(`{"type":"card.charge"}`)
	if _, err := gw.Verify(ctx, "sudo", signedHeaders(v, "evt_4", payload), payload); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestGatewayRateLimitsPerSource(t *testing.T) {
	ctx := context.Background()
	gw, v := newTestGateway(t, NewMemoryRateLimiter(2, time.Minute), nil)

	for i := 0; i < 2; i++ {
		payload := chargePayload(fmt.Sprintf("evt_rl_%d", i))
		if _, err := gw.Verify(ctx, "sudo", signedHeaders(v, fmt.Sprintf("evt_rl_%d", i), payload), payload); err != nil {
			t.Fatalf("request %d rejected: %v", i, err)
		}
	}

	payload := chargePayload("evt_rl_2")
	if _, err := gw.Verify(ctx, "sudo", signedHeaders(v, "evt_rl_2", payload), payload); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
}

func TestGatewayDeduplicatesByID(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	gw, v := newTestGateway(t, NewMemoryRateLimiter(10, time.Minute), NewRedisDedup(cache, time.Hour))

	payload := chargePayload("evt_5")
	headers := signedHeaders(v, "evt_5", payload)
	if _, err := gw.Verify(ctx, "sudo", headers, payload); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if _, err := gw.Verify(ctx, "sudo", headers, payload); !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("expected duplicate, got %v", err)
	}
}

func TestRedisRateLimiterWindow(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	limiter := NewRedisRateLimiter(cache, 3, time.Minute)
	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "sudo")
		if err != nil || !allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i, allowed, err)
		}
	}
	allowed, err := limiter.Allow(ctx, "sudo")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if allowed {
		t.Fatal("expected budget exhausted")
	}

	// Another source has its own budget.
	allowed, err = limiter.Allow(ctx, "maplerad")
	if err != nil || !allowed {
		t.Fatalf("expected fresh budget for other source, allowed=%v err=%v", allowed, err)
	}

	// A new window resets the count.
	mr.FastForward(time.Minute + time.Second)
	allowed, err = limiter.Allow(ctx, "sudo")
	if err != nil || !allowed {
		t.Fatalf("expected reset window, allowed=%v err=%v", allowed, err)
	}
}
