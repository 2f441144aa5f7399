package utxo

import (
	"fmt"
	"sort"

	"github.com/helix-pay/helix_custody/internal/chains"
)

// UTXO is a single spendable output attributed to a wallet. Records are never
// deleted; Spent flips to true exactly once, either when a plan consuming the
// output confirms or when a lost race is detected after broadcast. The stored
// boolean polarity (false = unspent) matches the persisted row layout.
type UTXO struct {
	ID       string
	WalletID string
	TxID     string
	Vout     uint32
	Amount   int64
	Script   string
	Spent    bool
}

// Outpoint identifies a UTXO by its on-chain coordinates.
type Outpoint struct {
	TxID string
	Vout uint32
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Vout)
}

// Plan is a fully costed spend: which inputs to consume, what the recipient
// receives, the change retained by the wallet (0 when folded into the fee or
// when consolidating) and the fee implied by the modelled size.
type Plan struct {
	Inputs []UTXO
	Amount int64
	Change int64
	Fee    int64
	Size   int
}

// Total returns the summed value of the plan's inputs.
func (p Plan) Total() int64 {
	var total int64
	for _, in := range p.Inputs {
		total += in.Amount
	}
	return total
}

// InsufficientFundsError reports that no combination of the available inputs
// covers amount plus fee. MaxSpendable is the largest amount the same pool
// could fund at the same fee rate, clamped at zero, so callers can surface a
// corrected amount before any balance is touched.
type InsufficientFundsError struct {
	Required     int64
	Available    int64
	MaxSpendable int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %d, available %d (max spendable %d)",
		e.Required, e.Available, e.MaxSpendable)
}

// DustError reports an output below the chain's dust threshold. Change dust is
// folded into the fee instead; this error is only produced for the recipient
// output, which cannot be folded.
type DustError struct {
	Amount    int64
	Threshold int64
}

func (e *DustError) Error() string {
	return fmt.Sprintf("output of %d is below the dust threshold of %d", e.Amount, e.Threshold)
}

// sortDesc orders a copy of utxos largest-first, skipping spent records.
func sortDesc(utxos []UTXO) []UTXO {
	candidates := make([]UTXO, 0, len(utxos))
	for _, u := range utxos {
		if !u.Spent {
			candidates = append(candidates, u)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Amount > candidates[j].Amount
	})
	return candidates
}

// estimateSize models the serialized size of a transaction with the fixed
// per-input/per-output byte constants. All fee math in this package and in
// the pre-flight estimator goes through it.
func estimateSize(inputs, outputs int) int {
	return inputs*chains.BytesPerInput + outputs*chains.BytesPerOutput + chains.BytesOverhead
}

func fee(size int, feeRate int64) int64 {
	return int64(size) * feeRate
}
