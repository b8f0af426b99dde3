package provider

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// StatusApproved is the synthetic terminal status returned by the static
// issuer; it normalizes to SUCCESS at the boundary.
const StatusApproved = "SUCCESS"

// StaticIssuer simulates a provider that approves every operation
// synchronously. It backs local development and tests, standing in for a real
// issuer connector.
type StaticIssuer struct {
	name string
}

// NewStaticIssuer builds a static issuer registered under the given name.
func NewStaticIssuer(name string) StaticIssuer {
	return StaticIssuer{name: name}
}

func (s StaticIssuer) Name() string { return s.name }

// CreateCard issues a card immediately with a synthetic provider card id.
func (s StaticIssuer) CreateCard(_ context.Context, req CardRequest) (CardResponse, error) {
	return CardResponse{
		ProviderCardID: uuid.NewString(),
		Reference:      req.OrderID,
		Async:          false,
	}, nil
}

// FundCard approves the funding with a synthetic reference.
func (s StaticIssuer) FundCard(_ context.Context, _ MoneyRequest) (MoneyResponse, error) {
	return MoneyResponse{Reference: uuid.NewString(), Status: StatusApproved}, nil
}

// WithdrawCard approves the withdrawal with a synthetic reference.
func (s StaticIssuer) WithdrawCard(_ context.Context, _ MoneyRequest) (MoneyResponse, error) {
	return MoneyResponse{Reference: uuid.NewString(), Status: StatusApproved}, nil
}

func (s StaticIssuer) FreezeCard(_ context.Context, _ string) error   { return nil }
func (s StaticIssuer) UnfreezeCard(_ context.Context, _ string) error { return nil }

// TerminateCard acknowledges termination immediately.
func (s StaticIssuer) TerminateCard(_ context.Context, _ string) (MoneyResponse, error) {
	return MoneyResponse{Reference: uuid.NewString(), Status: StatusApproved}, nil
}

// CardBalance is not tracked by the static issuer; callers fall back to the
// ledger balance.
func (s StaticIssuer) CardBalance(_ context.Context, _ string) (int64, error) {
	return 0, errors.New("card balance not tracked")
}

// InitiateWalletFunding acknowledges the funding as settled.
func (s StaticIssuer) InitiateWalletFunding(_ context.Context, req FundingRequest) (MoneyResponse, error) {
	ref := req.OrderID
	if ref == "" {
		ref = uuid.NewString()
	}
	return MoneyResponse{Reference: ref, Status: StatusApproved}, nil
}

// InitiateWalletPayout acknowledges the payout as settled.
func (s StaticIssuer) InitiateWalletPayout(_ context.Context, req FundingRequest) (MoneyResponse, error) {
	ref := req.OrderID
	if ref == "" {
		ref = uuid.NewString()
	}
	return MoneyResponse{Reference: ref, Status: StatusApproved}, nil
}

// TransactionStatus reports every reference as settled.
func (s StaticIssuer) TransactionStatus(_ context.Context, _ string) (string, error) {
	return StatusApproved, nil
}
