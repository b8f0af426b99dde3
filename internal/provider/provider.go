package provider

import (
	"context"
	"errors"
)

var (
	// ErrAllProvidersUnavailable occurs when every ranked candidate failed
	// within the attempt ceiling.
	ErrAllProvidersUnavailable = errors.New("all providers unavailable")

	// ErrNoCandidates occurs when the directory resolves an empty provider set.
	ErrNoCandidates = errors.New("no candidate providers")

	// ErrUnknownProvider indicates a candidate name with no registered issuer.
	ErrUnknownProvider = errors.New("unknown provider")
)

// CardRequest carries the data an issuer needs to create a virtual card.
type CardRequest struct {
	CompanyID  string
	CustomerID string
	Currency   string
	OrderID    string
}

// CardResponse is the issuer's answer to a card creation call. Async issuers
// acknowledge the request and confirm the final card details through a
// webhook correlated by OrderID.
type CardResponse struct {
	ProviderCardID string
	Reference      string
	Async          bool
}

// MoneyRequest moves funds to or from a provider card. Amounts are minor units.
type MoneyRequest struct {
	ProviderCardID string
	Amount         int64
	Currency       string
	OrderID        string
}

// FundingRequest initiates a wallet top-up with a money-movement provider.
type FundingRequest struct {
	WalletID string
	Amount   int64
	Currency string
	OrderID  string
}

// MoneyResponse reports the provider outcome in the provider's own status
// vocabulary; callers normalize it at the boundary.
type MoneyResponse struct {
	Reference string
	Status    string
}

// Issuer is a connector to one external card/money-movement provider. Every
// method must honor ctx cancellation: callers always attach a timeout.
type Issuer interface {
	Name() string
	CreateCard(ctx context.Context, req CardRequest) (CardResponse, error)
	FundCard(ctx context.Context, req MoneyRequest) (MoneyResponse, error)
	WithdrawCard(ctx context.Context, req MoneyRequest) (MoneyResponse, error)
	FreezeCard(ctx context.Context, providerCardID string) error
	UnfreezeCard(ctx context.Context, providerCardID string) error
	TerminateCard(ctx context.Context, providerCardID string) (MoneyResponse, error)
	CardBalance(ctx context.Context, providerCardID string) (int64, error)
	InitiateWalletFunding(ctx context.Context, req FundingRequest) (MoneyResponse, error)
	InitiateWalletPayout(ctx context.Context, req FundingRequest) (MoneyResponse, error)
	TransactionStatus(ctx context.Context, reference string) (string, error)
}

// Directory resolves which providers are enabled for a company. Resolution is
// settings-driven and owned by an external collaborator; the static
// implementation below backs configuration-file deployments.
type Directory interface {
	EnabledProviders(ctx context.Context, companyID string) ([]string, error)
}

// StaticDirectory serves a fixed default candidate list with optional
// per-company overrides.
type StaticDirectory struct {
	Defaults  []string
	Overrides map[string][]string
}

// EnabledProviders returns the override for the company when present,
// otherwise the default list.
func (d StaticDirectory) EnabledProviders(_ context.Context, companyID string) ([]string, error) {
	if names, ok := d.Overrides[companyID]; ok {
		return names, nil
	}
	return d.Defaults, nil
}
