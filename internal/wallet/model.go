package wallet

import "time"

// Wallet represents a company's stored value account backed by the ledger.
type Wallet struct {
	ID          string
	CompanyID   string
	AccountCode string
	Currency    string
	Status      string
	CreatedAt   time.Time
}

// Balance encapsulates available funds for a wallet.
type Balance struct {
	WalletID string
	Amount   int64
	AsOf     time.Time
}
