package webhook

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// SourceConfig describes one webhook sender. AckOnFailure picks the per-source
// retry policy: true acknowledges processing failures with HTTP 200 to stop
// the provider's redelivery, false returns 500 to request a retry.
type SourceConfig struct {
	Secret       string
	AckOnFailure bool
}

// Handler exposes the webhook ingestion endpoint for every configured source.
type Handler struct {
	gateway *Gateway
	router  *Router
	ack     map[string]bool
}

// NewHandler builds the ingestion handler.
func NewHandler(gateway *Gateway, router *Router, sources map[string]SourceConfig) *Handler {
	ack := make(map[string]bool, len(sources))
	for name, cfg := range sources {
		ack[name] = cfg.AckOnFailure
	}
	return &Handler{gateway: gateway, router: router, ack: ack}
}

type ingestResponse struct {
	Success   bool   `json:"success"`
	Processed bool   `json:"processed"`
	Message   string `json:"message,omitempty"`
}

// Ingest receives one provider webhook. Provider-specific headers follow the
// "<source>-id" / "<source>-timestamp" / "<source>-signature" convention.
func (h *Handler) Ingest(c *fiber.Ctx) error {
	source := c.Params("source")
	headers := Headers{
		ID:        c.Get(source + "-id"),
		Timestamp: c.Get(source + "-timestamp"),
		Signature: c.Get(source + "-signature"),
	}

	event, err := h.gateway.Verify(c.UserContext(), source, headers, c.Body())
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateEvent):
			// Redelivery of a processed id: acknowledged, not reprocessed.
			return c.Status(http.StatusOK).JSON(ingestResponse{Success: true, Processed: true, Message: "duplicate delivery"})
		case errors.Is(err, ErrRateLimited):
			return fiber.NewError(http.StatusTooManyRequests, err.Error())
		case errors.Is(err, ErrSignatureInvalid), errors.Is(err, ErrUnknownSource):
			return fiber.NewError(http.StatusUnauthorized, err.Error())
		case errors.Is(err, ErrMalformedEvent):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}

	result := h.router.Route(c.UserContext(), event)
	if result.Success || result.Processed {
		return c.Status(http.StatusOK).JSON(ingestResponse{
			Success:   result.Success,
			Processed: result.Processed,
			Message:   result.Message,
		})
	}

	if h.ack[source] {
		return c.Status(http.StatusOK).JSON(ingestResponse{Message: result.Message})
	}
	// Admission reserved the dedup slot; release it before requesting a
	// redelivery, otherwise the retry would be dropped as a duplicate.
	h.gateway.Forget(c.UserContext(), source, headers.ID)
	return fiber.NewError(http.StatusInternalServerError, result.Message)
}
