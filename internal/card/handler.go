package card

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/vela-pay/vela_pay/internal/ledger"
	"github.com/vela-pay/vela_pay/internal/provider"
	"github.com/vela-pay/vela_pay/internal/wallet"
	"github.com/vela-pay/vela_pay/internal/webhook"
)

// Handler exposes card HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a card HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	WalletID   string `json:"wallet_id"`
	CustomerID string `json:"customer_id"`
	Currency   string `json:"currency"`
}

type cardResponse struct {
	ID             string `json:"id"`
	WalletID       string `json:"wallet_id"`
	CustomerID     string `json:"customer_id"`
	Provider       string `json:"provider"`
	ProviderCardID string `json:"provider_card_id,omitempty"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
}

type moneyRequest struct {
	Amount  int64  `json:"amount"`
	OrderID string `json:"order_id"`
}

type moneyResponse struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
}

// Create issues a card funded from the given wallet.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	card, err := h.service.Create(c.UserContext(), CreateInput{
		WalletID:   req.WalletID,
		CustomerID: req.CustomerID,
		Currency:   req.Currency,
	})
	if err != nil {
		return fiber.NewError(statusForCardError(err), err.Error())
	}
	return c.Status(http.StatusCreated).JSON(toCardResponse(card))
}

// Get returns card metadata.
func (h *Handler) Get(c *fiber.Ctx) error {
	card, err := h.service.Get(c.UserContext(), c.Params("cardId"))
	if err != nil {
		return fiber.NewError(statusForCardError(err), err.Error())
	}
	return c.Status(http.StatusOK).JSON(toCardResponse(card))
}

// Balance returns the card balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	balance, err := h.service.Balance(c.UserContext(), c.Params("cardId"))
	if err != nil {
		return fiber.NewError(statusForCardError(err), err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"card_id":   balance.CardID,
		"balance":   balance.Amount,
		"timestamp": balance.AsOf,
	})
}

// Fund tops the card up from its backing wallet.
func (h *Handler) Fund(c *fiber.Ctx) error {
	return h.money(c, h.service.Fund)
}

// Withdraw moves card funds back to the backing wallet.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	return h.money(c, h.service.Withdraw)
}

func (h *Handler) money(c *fiber.Ctx, op func(ctx context.Context, input MoneyInput) (MoneyResult, error)) error {
	var req moneyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	result, err := op(c.UserContext(), MoneyInput{
		CardID:  c.Params("cardId"),
		Amount:  req.Amount,
		OrderID: req.OrderID,
	})
	if err != nil {
		return fiber.NewError(statusForCardError(err), err.Error())
	}
	return c.Status(http.StatusAccepted).JSON(moneyResponse{
		TransactionID: result.Transaction.ID,
		OrderID:       result.Transaction.OrderID,
		Status:        string(result.Transaction.Status),
	})
}

// Freeze suspends the card.
func (h *Handler) Freeze(c *fiber.Ctx) error {
	if err := h.service.Freeze(c.UserContext(), c.Params("cardId")); err != nil {
		return fiber.NewError(statusForCardError(err), err.Error())
	}
	return c.SendStatus(http.StatusNoContent)
}

// Unfreeze reactivates the card.
func (h *Handler) Unfreeze(c *fiber.Ctx) error {
	if err := h.service.Unfreeze(c.UserContext(), c.Params("cardId")); err != nil {
		return fiber.NewError(statusForCardError(err), err.Error())
	}
	return c.SendStatus(http.StatusNoContent)
}

// Terminate closes the card and refunds its residual balance.
func (h *Handler) Terminate(c *fiber.Ctx) error {
	result, err := h.service.Terminate(c.UserContext(), c.Params("cardId"))
	if err != nil {
		return fiber.NewError(statusForCardError(err), err.Error())
	}
	return c.Status(http.StatusAccepted).JSON(moneyResponse{
		TransactionID: result.Transaction.ID,
		OrderID:       result.Transaction.OrderID,
		Status:        string(result.Transaction.Status),
	})
}

func toCardResponse(card Card) cardResponse {
	return cardResponse{
		ID:             card.ID,
		WalletID:       card.WalletID,
		CustomerID:     card.CustomerID,
		Provider:       card.Provider,
		ProviderCardID: card.ProviderCardID,
		Currency:       card.Currency,
		Status:         card.Status,
	}
}

func statusForCardError(err error) int {
	switch {
	case errors.Is(err, ErrCardNotFound), errors.Is(err, wallet.ErrWalletNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrCardNotActive):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		return http.StatusConflict
	case errors.Is(err, webhook.ErrAwaitTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, provider.ErrAllProvidersUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ErrCreationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}
