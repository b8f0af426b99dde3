package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEvent indicates the payload failed boundary validation and was
// never handed to handler logic.
var ErrMalformedEvent = errors.New("malformed webhook event")

// EventType enumerates the webhook event families this system understands.
// Dispatch is exhaustive over these values; anything else is acknowledged
// without effect so senders are not retried into a poison-message loop.
type EventType string

const (
	EventCardCreationSuccess EventType = "card.creation.success"
	EventCardCreationFailed  EventType = "card.creation.failed"
	EventCardTerminated      EventType = "card.terminated"
	EventCardCharge          EventType = "card.charge"
	EventCardStatusUpdated   EventType = "card.status.updated"
	EventTransaction         EventType = "issuing.transaction"
)

// TxnType is the inner type field of an issuing.transaction event.
type TxnType string

const (
	TxnFunding       TxnType = "FUNDING"
	TxnWithdrawal    TxnType = "WITHDRAWAL"
	TxnAuthorization TxnType = "AUTHORIZATION"
	TxnSettlement    TxnType = "SETTLEMENT"
	TxnDecline       TxnType = "DECLINE"
	TxnReversal      TxnType = "REVERSAL"
	TxnRefund        TxnType = "REFUND"
	TxnTermination   TxnType = "TERMINATION"
)

// Event is one verified provider notification. Data stays raw until the
// dispatcher decodes it into the strict per-type schema.
type Event struct {
	ID       string          `json:"id"`
	Type     EventType       `json:"type"`
	Provider string          `json:"-"`
	Data     json.RawMessage `json:"data"`
}

// CardLifecycleData is the strict schema for card.* events.
type CardLifecycleData struct {
	OrderID        string `json:"order_id"`
	ProviderCardID string `json:"card_id"`
	CustomerID     string `json:"customer_id"`
	Status         string `json:"status"`
	Reason         string `json:"reason"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Reference      string `json:"reference"`
}

// TransactionData is the strict schema for issuing.transaction events.
// Amount is in the provider's minor units.
type TransactionData struct {
	Type           TxnType `json:"type"`
	ProviderCardID string  `json:"card_id"`
	Amount         int64   `json:"amount"`
	Currency       string  `json:"currency"`
	Status         string  `json:"status"`
	Reference      string  `json:"reference"`
	OrderID        string  `json:"order_id"`
}

// ParseEvent validates the envelope at the boundary. Payloads missing an id,
// type or data block are rejected before any handler logic runs.
func ParseEvent(provider string, payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.ID == "" || ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}
	if len(ev.Data) == 0 {
		return Event{}, fmt.Errorf("%w: missing data", ErrMalformedEvent)
	}
	ev.Provider = provider
	return ev, nil
}

// CardData decodes and validates the card lifecycle schema.
func (e Event) CardData() (CardLifecycleData, error) {
	var d CardLifecycleData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return CardLifecycleData{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if d.ProviderCardID == "" && d.OrderID == "" {
		return CardLifecycleData{}, fmt.Errorf("%w: card event without card_id or order_id", ErrMalformedEvent)
	}
	if d.Amount < 0 {
		return CardLifecycleData{}, fmt.Errorf("%w: negative amount", ErrMalformedEvent)
	}
	return d, nil
}

// TransactionData decodes and validates the issuing.transaction schema.
func (e Event) TransactionData() (TransactionData, error) {
	var d TransactionData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return TransactionData{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if d.Type == "" {
		return TransactionData{}, fmt.Errorf("%w: transaction event without type", ErrMalformedEvent)
	}
	if d.Reference == "" && d.OrderID == "" {
		return TransactionData{}, fmt.Errorf("%w: transaction event without reference or order_id", ErrMalformedEvent)
	}
	if d.Amount < 0 {
		return TransactionData{}, fmt.Errorf("%w: negative amount", ErrMalformedEvent)
	}
	return d, nil
}

// Key returns the idempotency key for the transaction data, preferring the
// provider reference over the internal correlation id.
func (d TransactionData) Key() string {
	if d.Reference != "" {
		return d.Reference
	}
	return d.OrderID
}
