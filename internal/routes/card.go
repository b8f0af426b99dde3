package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vela-pay/vela_pay/internal/card"
)

// RegisterCardRoutes wires card lifecycle endpoints.
func RegisterCardRoutes(r fiber.Router, h *card.Handler) {
	r.Post("/cards", h.Create)
	r.Get("/cards/:cardId", h.Get)
	r.Get("/cards/:cardId/balance", h.Balance)
	r.Post("/cards/:cardId/fund", h.Fund)
	r.Post("/cards/:cardId/withdraw", h.Withdraw)
	r.Post("/cards/:cardId/freeze", h.Freeze)
	r.Post("/cards/:cardId/unfreeze", h.Unfreeze)
	r.Delete("/cards/:cardId", h.Terminate)
}
