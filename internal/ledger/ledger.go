package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/helix-pay/helix_custody/internal/chains"
	"github.com/helix-pay/helix_custody/internal/utxo"
)

var (
	// ErrInsufficientFunds occurs when the wallet's chain balance cannot
	// cover a requested debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrWalletNotFound indicates the wallet has no balance row for the
	// requested chain.
	ErrWalletNotFound = errors.New("wallet chain balance not found")

	// ErrTransactionNotFound indicates an unknown withdrawal identifier.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Status is the lifecycle state of a withdrawal. PENDING rows were created
// atomically with the balance debit; PROCESSING rows are claimed by the
// queue; COMPLETED and FAILED are terminal, and FAILED implies the debit was
// refunded in full.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Transaction is a withdrawal record. Fee holds the estimate taken at debit
// time until completion, when it is replaced by the fee actually paid.
type Transaction struct {
	ID        string
	WalletID  string
	Chain     chains.Chain
	ToAddress string
	Amount    int64
	Fee       int64
	TxHash    string
	Status    Status
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OffchainKey addresses one private-ledger entry: the signed gap between what
// a wallet believes it owns at a shared on-chain signer index and what has
// actually moved there.
type OffchainKey struct {
	WalletID string
	Index    uint32
	Currency string
	Chain    chains.Chain
	Network  string
}

// UTXOView is the handle passed to the function given to Store.SpendUTXOs.
// Every mutation made through it is scoped to the surrounding database
// transaction: either all of it lands or none of it does.
type UTXOView interface {
	// Unspent returns the wallet's unspent outputs, write-locked for the
	// duration of the transaction.
	Unspent() []utxo.UTXO
	// MarkSpent flips the spent flag of one locked output.
	MarkSpent(id string) error
	// Create records a new output (change or a consolidated merge).
	Create(u utxo.UTXO) error
	// AdjustBalance moves the wallet's chain balance by delta, used when a
	// spend burns value (consolidation fees) without a matching debit.
	AdjustBalance(delta int64) error
}

// Store is the relational ledger behind the withdrawal engine. Row-level
// locking inside the store is the only cross-process safety net: two
// concurrent withdrawals for one wallet serialize on the wallet chain row,
// and two spend plans serialize on the UTXO rows.
type Store interface {
	// BeginWithdrawal debits amount+fee from the wallet's chain balance and
	// creates the PENDING transaction row in one atomic, row-locked
	// transaction. Returns ErrInsufficientFunds without side effects when
	// the balance cannot cover the debit.
	BeginWithdrawal(ctx context.Context, walletID string, chain chains.Chain, toAddress string, amount, fee int64) (Transaction, error)

	// ClaimPending transitions PENDING to PROCESSING. The update is
	// conditioned on the current status, so a duplicate claim affects zero
	// rows and returns claimed=false.
	ClaimPending(ctx context.Context, txID string) (Transaction, bool, error)

	// CompleteWithdrawal marks the withdrawal COMPLETED with its on-chain
	// hash and settles the fee: any difference between the debited estimate
	// and finalFee is returned to (or taken from) the wallet balance.
	CompleteWithdrawal(ctx context.Context, txID, txHash string, finalFee int64) error

	// FailWithdrawal marks the withdrawal FAILED with a human-readable
	// reason and refunds amount+fee to the wallet balance atomically.
	FailWithdrawal(ctx context.Context, txID, reason string) error

	// Transaction fetches one withdrawal record.
	Transaction(ctx context.Context, txID string) (Transaction, error)

	// UnspentUTXOs reads the wallet's unspent outputs without locking.
	// Advisory only: the pre-flight estimator may see stale data.
	UnspentUTXOs(ctx context.Context, walletID string, chain chains.Chain) ([]utxo.UTXO, error)

	// SpendUTXOs opens a transaction, write-locks the wallet's unspent
	// outputs and runs fn against them. fn returning an error rolls every
	// mutation back.
	SpendUTXOs(ctx context.Context, walletID string, chain chains.Chain, fn func(UTXOView) error) error

	// MarkOutpointsSpent flips the spent flag on the outputs matching the
	// given on-chain coordinates, outside any spend plan. Used after a lost
	// broadcast race. Returns how many rows changed.
	MarkOutpointsSpent(ctx context.Context, walletID string, chain chains.Chain, outs []utxo.Outpoint) (int, error)

	// CreateUTXO records an observed deposit output. Best-effort callers
	// may ignore the error.
	CreateUTXO(ctx context.Context, chain chains.Chain, u utxo.UTXO) error

	// CreditBalance moves the wallet's chain balance by delta (deposits,
	// manual corrections).
	CreditBalance(ctx context.Context, walletID string, chain chains.Chain, delta int64) error

	// ChainBalance reads the wallet's current balance on one chain.
	ChainBalance(ctx context.Context, walletID string, chain chains.Chain) (int64, error)

	// ApplyOffchainDelta adds delta to the private-ledger entry for key,
	// creating it lazily, and returns the resulting difference. Entries are
	// only ever adjusted by addition, never overwritten.
	ApplyOffchainDelta(ctx context.Context, key OffchainKey, delta int64) (int64, error)

	// OffchainDifference reads the current difference for key (zero when no
	// entry exists yet).
	OffchainDifference(ctx context.Context, key OffchainKey) (int64, error)
}
