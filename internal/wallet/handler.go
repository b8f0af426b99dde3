package wallet

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/vela-pay/vela_pay/internal/ledger"
	"github.com/vela-pay/vela_pay/internal/provider"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	CompanyID string `json:"company_id"`
	Currency  string `json:"currency"`
}

type walletResponse struct {
	ID          string `json:"id"`
	CompanyID   string `json:"company_id"`
	AccountCode string `json:"account_code"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
}

type moneyRequest struct {
	Amount  int64  `json:"amount"`
	Fee     int64  `json:"fee"`
	OrderID string `json:"order_id"`
}

type moneyResponse struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	Provider      string `json:"provider"`
}

// Create provisions a wallet for a company.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	wallet, err := h.service.Create(c.UserContext(), CreateInput{CompanyID: req.CompanyID, Currency: req.Currency})
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(walletResponse{
		ID:          wallet.ID,
		CompanyID:   wallet.CompanyID,
		AccountCode: wallet.AccountCode,
		Currency:    wallet.Currency,
		Status:      wallet.Status,
	})
}

// Balance returns the wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	walletID := c.Params("walletId")
	balance, err := h.service.Balance(c.UserContext(), walletID)
	if err != nil {
		return fiber.NewError(http.StatusNotFound, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id": walletID,
		"balance":   balance.Amount,
		"timestamp": balance.AsOf,
	})
}

// Fund initiates a wallet top-up.
func (h *Handler) Fund(c *fiber.Ctx) error {
	var req moneyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	result, err := h.service.Fund(c.UserContext(), FundInput{
		WalletID: c.Params("walletId"),
		Amount:   req.Amount,
		OrderID:  req.OrderID,
	})
	if err != nil {
		return fiber.NewError(statusForMoneyError(err), err.Error())
	}
	return c.Status(http.StatusAccepted).JSON(moneyResponse{
		TransactionID: result.Transaction.ID,
		OrderID:       result.Transaction.OrderID,
		Status:        string(result.Transaction.Status),
		Provider:      result.Provider,
	})
}

// Withdraw initiates a wallet payout.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req moneyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	result, err := h.service.Withdraw(c.UserContext(), WithdrawInput{
		WalletID: c.Params("walletId"),
		Amount:   req.Amount,
		Fee:      req.Fee,
		OrderID:  req.OrderID,
	})
	if err != nil {
		return fiber.NewError(statusForMoneyError(err), err.Error())
	}
	return c.Status(http.StatusAccepted).JSON(moneyResponse{
		TransactionID: result.Transaction.ID,
		OrderID:       result.Transaction.OrderID,
		Status:        string(result.Transaction.Status),
		Provider:      result.Provider,
	})
}

func statusForMoneyError(err error) int {
	switch {
	case errors.Is(err, ErrWalletNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		return http.StatusConflict
	case errors.Is(err, provider.ErrAllProvidersUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}
