package card

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrCardNotFound indicates no card matched the lookup key.
var ErrCardNotFound = errors.New("card not found")

// Repository persists card metadata.
type Repository interface {
	Create(ctx context.Context, card Card) error
	Get(ctx context.Context, id string) (Card, error)
	GetByProviderCard(ctx context.Context, provider, providerCardID string) (Card, error)
	SetProviderCardID(ctx context.Context, id, providerCardID string) error
	UpdateStatus(ctx context.Context, id, status string) error
	ListByWallet(ctx context.Context, walletID string) ([]Card, error)
}

const cardColumns = `id, company_id, wallet_id, customer_id, provider,
        COALESCE(provider_card_id, ''), currency, status, created_at, updated_at`

// PostgresRepository stores cards in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a card record.
func (r *PostgresRepository) Create(ctx context.Context, card Card) error {
	cardID, err := uuid.Parse(card.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO cards (id, company_id, wallet_id, customer_id, provider,
        provider_card_id, currency, status, balance, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, 0, $9, $9)`,
		cardID, card.CompanyID, card.WalletID, card.CustomerID, card.Provider,
		card.ProviderCardID, card.Currency, card.Status, card.CreatedAt.UTC())
	return err
}

// Get fetches card metadata by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Card, error) {
	cardID, err := uuid.Parse(id)
	if err != nil {
		return Card{}, err
	}
	row := r.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1`, cardID)
	return scanCard(row)
}

// GetByProviderCard fetches a card by the provider-assigned identifier.
// Provider card ids are only unique within one provider, so the lookup is
// scoped to both.
func (r *PostgresRepository) GetByProviderCard(ctx context.Context, provider, providerCardID string) (Card, error) {
	row := r.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM cards
        WHERE provider = $1 AND provider_card_id = $2`, provider, providerCardID)
	return scanCard(row)
}

// SetProviderCardID stores the provider-assigned id once an asynchronous
// issuance confirms.
func (r *PostgresRepository) SetProviderCardID(ctx context.Context, id, providerCardID string) error {
	cardID, err := uuid.Parse(id)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `UPDATE cards SET provider_card_id = $2, updated_at = NOW()
        WHERE id = $1`, cardID, providerCardID)
	return err
}

// UpdateStatus transitions the card status.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id, status string) error {
	cardID, err := uuid.Parse(id)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `UPDATE cards SET status = $2, updated_at = NOW()
        WHERE id = $1`, cardID, status)
	return err
}

// ListByWallet returns every card funded from the given wallet.
func (r *PostgresRepository) ListByWallet(ctx context.Context, walletID string) ([]Card, error) {
	rows, err := r.db.Query(ctx, `SELECT `+cardColumns+` FROM cards
        WHERE wallet_id = $1 ORDER BY created_at`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

func scanCard(row pgx.Row) (Card, error) {
	var c Card
	var id uuid.UUID
	var createdAt, updatedAt time.Time
	if err := row.Scan(&id, &c.CompanyID, &c.WalletID, &c.CustomerID, &c.Provider,
		&c.ProviderCardID, &c.Currency, &c.Status, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Card{}, ErrCardNotFound
		}
		return Card{}, err
	}
	c.ID = id.String()
	c.CreatedAt = createdAt.UTC()
	c.UpdatedAt = updatedAt.UTC()
	return c, nil
}
