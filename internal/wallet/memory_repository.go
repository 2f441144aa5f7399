package wallet

import (
	"context"
	"errors"
	"sync"

	"github.com/helix-pay/helix_custody/internal/chains"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Wallet
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]Wallet)}
}

func (r *memoryRepository) Create(_ context.Context, wallet Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[wallet.ID]; exists {
		return errors.New("wallet exists")
	}
	r.storage[wallet.ID] = cloneWallet(wallet)
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wallet, ok := r.storage[id]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return cloneWallet(wallet), nil
}

func cloneWallet(w Wallet) Wallet {
	addrs := make(map[chains.Chain]ChainAddress, len(w.Addresses))
	for c, a := range w.Addresses {
		addrs[c] = a
	}
	w.Addresses = addrs
	return w
}
