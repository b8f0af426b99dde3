package card

import "time"

// Card statuses. TERMINATED is terminal; a terminated card never transitions
// back to ACTIVE.
const (
	StatusPending    = "PENDING"
	StatusActive     = "ACTIVE"
	StatusFrozen     = "FROZEN"
	StatusTerminated = "TERMINATED"
)

// Card is a virtual card issued through one provider and backed by a ledger
// account. Provider is fixed at issuance: every later operation on the card
// is routed to the same provider.
type Card struct {
	ID             string
	CompanyID      string
	WalletID       string
	CustomerID     string
	Provider       string
	ProviderCardID string
	Currency       string
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Balance encapsulates available funds on a card.
type Balance struct {
	CardID string
	Amount int64
	AsOf   time.Time
}
