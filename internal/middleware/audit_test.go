package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestAuditLogsOutcomeAtMatchingLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	app := fiber.New()
	app.Use(RequestID())
	app.Use(Audit(logger))
	app.Get("/ok", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusInternalServerError, "boom")
	})

	cases := []struct {
		path   string
		level  string
		status float64
	}{
		{"/ok", "INFO", 200},
		{"/boom", "ERROR", 500},
	}
	for _, tc := range cases {
		buf.Reset()
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, tc.path, nil))
		if err != nil {
			t.Fatalf("request %s: %v", tc.path, err)
		}
		resp.Body.Close()

		var line map[string]any
		if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
			t.Fatalf("decode log line %q: %v", buf.String(), err)
		}
		if line["level"] != tc.level {
			t.Fatalf("%s: expected level %s, got %v", tc.path, tc.level, line["level"])
		}
		if line["status"] != tc.status {
			t.Fatalf("%s: expected status %v, got %v", tc.path, tc.status, line["status"])
		}
		if id, _ := line["request_id"].(string); id == "" {
			t.Fatalf("%s: missing request_id", tc.path)
		}
	}
}
