package webhook

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vela-pay/vela_pay/internal/ledger"
	"github.com/vela-pay/vela_pay/internal/logging"
)

func newIngestApp(t *testing.T, dedup DedupStore, ackOnFailure bool) (*fiber.App, Verifier, *routerFixture) {
	t.Helper()
	f := newRouterFixture(t)
	verifier := NewVerifier(testSecret)
	gw := NewGateway(map[string]Verifier{"sudo": verifier}, NewMemoryRateLimiter(100, time.Minute), dedup, logging.Discard(), nil)
	h := NewHandler(gw, f.router, map[string]SourceConfig{
		"sudo": {Secret: testSecret, AckOnFailure: ackOnFailure},
	})

	app := fiber.New()
	app.Post("/webhooks/:source", h.Ingest)
	return app, verifier, f
}

func ingest(t *testing.T, app *fiber.App, v Verifier, id, payload string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/sudo", strings.NewReader(payload))
	headers := signedHeaders(v, id, []byte(payload))
	req.Header.Set("sudo-id", headers.ID)
	req.Header.Set("sudo-timestamp", headers.Timestamp)
	req.Header.Set("sudo-signature", headers.Signature)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("ingest %s: %v", id, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestIngestFailureReleasesDedupForRedelivery(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	app, v, f := newIngestApp(t, NewRedisDedup(client, time.Hour), false)
	// The resolver knows the card but its ledger account does not exist yet,
	// so the first processing attempt fails after admission.
	f.resolver.add("sudo", "pc-r1", CardRef{ID: "r1", WalletID: "wr1", Currency: "USD"})

	payload := `{"id":"evt_r1","type":"card.charge","data":{"card_id":"pc-r1","amount":100,"currency":"USD","status":"SUCCESS","reference":"chg-r1"}}`

	if code := ingest(t, app, v, "evt_r1", payload); code != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 on first delivery, got %d", code)
	}

	// The failed delivery must not occupy the dedup slot. Once the account
	// exists the provider's redelivery of the same id has to go through.
	if err := f.ledger.EnsureAccount(ctx, ledger.CardAccount("r1")); err != nil {
		t.Fatalf("ensure account: %v", err)
	}
	ledger.SeedBalance(f.ledger, ledger.CardAccount("r1"), 500)

	if code := ingest(t, app, v, "evt_r1", payload); code != fiber.StatusOK {
		t.Fatalf("expected 200 on redelivery, got %d", code)
	}
	if got := f.balance(t, ledger.CardAccount("r1")); got != 400 {
		t.Fatalf("expected charge applied on redelivery, got %d", got)
	}

	// A genuine duplicate of the processed id is acknowledged untouched.
	if code := ingest(t, app, v, "evt_r1", payload); code != fiber.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d", code)
	}
	if got := f.balance(t, ledger.CardAccount("r1")); got != 400 {
		t.Fatalf("duplicate moved the balance: %d", got)
	}
}

func TestIngestAckOnFailureKeepsDedupSlot(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	app, v, f := newIngestApp(t, NewRedisDedup(client, time.Hour), true)
	f.resolver.add("sudo", "pc-r2", CardRef{ID: "r2", WalletID: "wr2", Currency: "USD"})

	payload := `{"id":"evt_r2","type":"card.charge","data":{"card_id":"pc-r2","amount":100,"currency":"USD","status":"SUCCESS","reference":"chg-r2"}}`

	// Acknowledged failure: the source never redelivers, so the slot stays.
	if code := ingest(t, app, v, "evt_r2", payload); code != fiber.StatusOK {
		t.Fatalf("expected acknowledged failure, got %d", code)
	}
	if code := ingest(t, app, v, "evt_r2", payload); code != fiber.StatusOK {
		t.Fatalf("expected duplicate ack, got %d", code)
	}
}
