package wallet

import (
	"time"

	"github.com/helix-pay/helix_custody/internal/chains"
)

// ChainAddress is a wallet's position on one chain: its deposit address, the
// network that address lives on and the mirrored balance maintained by the
// ledger store. Shared marks addresses serviced by a pooled signer; balances
// behind those are reconciled through the private ledger.
type ChainAddress struct {
	Address     string
	Network     string
	Balance     int64
	SignerIndex uint32
	Shared      bool
}

// Wallet is a custodial account holding balances across chains. Addresses is
// a typed per-chain map, serialized only at the persistence boundary.
type Wallet struct {
	ID        string
	OwnerID   string
	Status    string
	CreatedAt time.Time
	Addresses map[chains.Chain]ChainAddress
}

// Balance is the aggregate of all chain balances at a point in time.
type Balance struct {
	WalletID string
	Total    int64
	ByChain  map[chains.Chain]int64
	AsOf     time.Time
}
