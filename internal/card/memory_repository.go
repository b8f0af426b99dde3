package card

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Card
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]Card)}
}

func (r *memoryRepository) Create(_ context.Context, card Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[card.ID]; exists {
		return errors.New("card exists")
	}
	r.storage[card.ID] = card
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	card, ok := r.storage[id]
	if !ok {
		return Card{}, ErrCardNotFound
	}
	return card, nil
}

func (r *memoryRepository) GetByProviderCard(_ context.Context, provider, providerCardID string) (Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, card := range r.storage {
		if card.Provider == provider && card.ProviderCardID == providerCardID {
			return card, nil
		}
	}
	return Card{}, ErrCardNotFound
}

func (r *memoryRepository) SetProviderCardID(_ context.Context, id, providerCardID string) error {
	return r.mutate(id, func(c *Card) { c.ProviderCardID = providerCardID })
}

func (r *memoryRepository) UpdateStatus(_ context.Context, id, status string) error {
	return r.mutate(id, func(c *Card) { c.Status = status })
}

func (r *memoryRepository) ListByWallet(_ context.Context, walletID string) ([]Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var cards []Card
	for _, card := range r.storage {
		if card.WalletID == walletID {
			cards = append(cards, card)
		}
	}
	return cards, nil
}

func (r *memoryRepository) mutate(id string, fn func(*Card)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	card, ok := r.storage[id]
	if !ok {
		return ErrCardNotFound
	}
	fn(&card)
	card.UpdatedAt = time.Now().UTC()
	r.storage[id] = card
	return nil
}
