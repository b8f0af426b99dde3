package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vela-pay/vela_pay/internal/webhook"
)

// RegisterWebhookRoutes wires provider webhook ingestion. The endpoint sits
// outside the /api group: providers authenticate with signatures, not API
// middleware.
func RegisterWebhookRoutes(app *fiber.App, h *webhook.Handler) {
	app.Post("/webhooks/:source", h.Ingest)
}
