package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/helix-pay/helix_custody/internal/chains"
	"github.com/helix-pay/helix_custody/internal/ledger"
)

const statusActive = "active"

// Service exposes wallet operations backed by the ledger store.
type Service struct {
	repo  Repository
	store ledger.Store
}

// NewService builds a wallet service instance.
func NewService(repo Repository, store ledger.Store) *Service {
	return &Service{repo: repo, store: store}
}

// AddressInput is one provisioned chain address. Address generation and key
// derivation happen in the custody service; this layer only records the
// result.
type AddressInput struct {
	Address     string
	Network     string
	SignerIndex uint32
	Shared      bool
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	OwnerID   string
	Addresses map[chains.Chain]AddressInput
}

// Create provisions a wallet with its per-chain addresses and zero balances.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	if _, err := uuid.Parse(input.OwnerID); err != nil {
		return Wallet{}, err
	}
	if len(input.Addresses) == 0 {
		return Wallet{}, fmt.Errorf("at least one chain address is required")
	}

	addrs := make(map[chains.Chain]ChainAddress, len(input.Addresses))
	for chain, in := range input.Addresses {
		if _, err := chains.ParamsFor(chain); err != nil {
			return Wallet{}, err
		}
		if !chains.ValidAddress(in.Address, chain) {
			return Wallet{}, fmt.Errorf("address %q is not valid for %s", in.Address, chain)
		}
		addrs[chain] = ChainAddress{
			Address:     in.Address,
			Network:     in.Network,
			SignerIndex: in.SignerIndex,
			Shared:      in.Shared,
		}
	}

	wallet := Wallet{
		ID:        uuid.NewString(),
		OwnerID:   input.OwnerID,
		Status:    statusActive,
		CreatedAt: time.Now().UTC(),
		Addresses: addrs,
	}
	if err := s.repo.Create(ctx, wallet); err != nil {
		return Wallet{}, err
	}
	// Materialize the zero balances so reads before the first deposit
	// resolve instead of reporting a missing chain row.
	for chain := range addrs {
		if err := s.store.CreditBalance(ctx, wallet.ID, chain, 0); err != nil {
			return Wallet{}, err
		}
	}
	return wallet, nil
}

// Get retrieves wallet metadata.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	return s.repo.Get(ctx, id)
}

// ChainAddress returns the wallet's address record for one chain.
func (s *Service) ChainAddress(ctx context.Context, id string, chain chains.Chain) (ChainAddress, error) {
	wallet, err := s.repo.Get(ctx, id)
	if err != nil {
		return ChainAddress{}, err
	}
	addr, ok := wallet.Addresses[chain]
	if !ok {
		return ChainAddress{}, fmt.Errorf("wallet %s has no %s address", id, chain)
	}
	return addr, nil
}

// Balance returns the ledger balances for the wallet across its chains.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	wallet, err := s.repo.Get(ctx, id)
	if err != nil {
		return Balance{}, err
	}

	balance := Balance{
		WalletID: wallet.ID,
		ByChain:  make(map[chains.Chain]int64, len(wallet.Addresses)),
		AsOf:     time.Now().UTC(),
	}
	for chain := range wallet.Addresses {
		amount, err := s.store.ChainBalance(ctx, wallet.ID, chain)
		if err != nil {
			return Balance{}, err
		}
		balance.ByChain[chain] = amount
		balance.Total += amount
	}
	return balance, nil
}
