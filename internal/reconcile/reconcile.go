package reconcile

import (
	"context"
	"log/slog"

	"github.com/helix-pay/helix_custody/internal/chains"
	"github.com/helix-pay/helix_custody/internal/ledger"
)

// Reconciler maintains the private ledger: per (wallet, signer index,
// currency, chain, network) correction terms that bridge the gap between a
// shared on-chain signer's actual balance and each wallet's entitlement.
// Every adjustment is additive; summed over the wallets sharing one signer
// index, the differences net out against the signer's on-chain balance minus
// allocated balances.
type Reconciler struct {
	store  ledger.Store
	logger *slog.Logger
}

// New builds a reconciler over the ledger store.
func New(store ledger.Store, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger}
}

// Key derives the private-ledger key for a wallet's position at a shared
// signer.
func Key(walletID string, index uint32, chain chains.Chain, network string) ledger.OffchainKey {
	return ledger.OffchainKey{
		WalletID: walletID,
		Index:    index,
		Currency: chains.MustParams(chain).Currency,
		Chain:    chain,
		Network:  network,
	}
}

// RecordOutflow registers that amount left the shared signer on behalf of the
// wallet (withdrawal serviced by a pooled signer).
func (r *Reconciler) RecordOutflow(ctx context.Context, key ledger.OffchainKey, amount int64) error {
	diff, err := r.store.ApplyOffchainDelta(ctx, key, -amount)
	if err != nil {
		return err
	}
	r.logger.Info("private ledger outflow",
		"wallet_id", key.WalletID, "chain", key.Chain, "index", key.Index,
		"amount", amount, "offchain_difference", diff)
	return nil
}

// RecordInflow registers that amount arrived at the shared signer for the
// wallet (deposit to a pooled address).
func (r *Reconciler) RecordInflow(ctx context.Context, key ledger.OffchainKey, amount int64) error {
	diff, err := r.store.ApplyOffchainDelta(ctx, key, amount)
	if err != nil {
		return err
	}
	r.logger.Info("private ledger inflow",
		"wallet_id", key.WalletID, "chain", key.Chain, "index", key.Index,
		"amount", amount, "offchain_difference", diff)
	return nil
}

// Difference reads the current correction term for key.
func (r *Reconciler) Difference(ctx context.Context, key ledger.OffchainKey) (int64, error) {
	return r.store.OffchainDifference(ctx, key)
}

// EffectiveBalance converts an on-chain signer balance into the wallet's
// entitlement by applying the stored correction term.
func (r *Reconciler) EffectiveBalance(ctx context.Context, key ledger.OffchainKey, onchain int64) (int64, error) {
	diff, err := r.store.OffchainDifference(ctx, key)
	if err != nil {
		return 0, err
	}
	return onchain + diff, nil
}
