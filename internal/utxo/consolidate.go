package utxo

import (
	"errors"

	"github.com/helix-pay/helix_custody/internal/chains"
)

const (
	// maxConsolidationInputs bounds the size of a consolidation transaction.
	maxConsolidationInputs = 50

	// consolidateCountTrigger forces consolidation once a wallet holds this
	// many unspent outputs, regardless of their size.
	consolidateCountTrigger = 10
)

var (
	// ErrTooFewUTXOs means fewer than two consolidatable outputs exist, so
	// merging would achieve nothing.
	ErrTooFewUTXOs = errors.New("not enough utxos to consolidate")

	// ErrConsolidationDust means the merged output would itself be dust.
	ErrConsolidationDust = errors.New("consolidated output would be dust")
)

// ShouldConsolidate applies the trigger heuristic: consolidate when the
// average unspent value is under three times the cost of spending one input
// at the current fee rate, or when the pool has grown past the count trigger.
func ShouldConsolidate(available []UTXO, feeRate int64, p chains.Params) bool {
	if feeRate <= 0 {
		feeRate = p.DefaultFeeRate
	}
	unspent := sortDesc(available)
	if len(unspent) < 2 {
		return false
	}
	if len(unspent) >= consolidateCountTrigger {
		return true
	}

	var total int64
	for _, u := range unspent {
		total += u.Amount
	}
	avg := total / int64(len(unspent))
	return avg < 3*chains.InputCost(feeRate)
}

// PlanConsolidation builds a single-output merge of the wallet's small
// unspent outputs: everything selected, minus the fee, returns to the
// wallet's own address. Only "small" outputs are eligible (value under five
// times the per-input spend cost, or under twice the dust threshold) and at
// most maxConsolidationInputs are consumed per transaction.
func PlanConsolidation(available []UTXO, feeRate int64, p chains.Params) (Plan, error) {
	if feeRate <= 0 {
		feeRate = p.DefaultFeeRate
	}

	inputCost := chains.InputCost(feeRate)
	var small []UTXO
	for _, u := range sortDesc(available) {
		if u.Amount < 5*inputCost || u.Amount < 2*p.DustThreshold {
			small = append(small, u)
		}
	}
	if len(small) < 2 {
		return Plan{}, ErrTooFewUTXOs
	}
	if len(small) > maxConsolidationInputs {
		small = small[:maxConsolidationInputs]
	}

	var total int64
	for _, u := range small {
		total += u.Amount
	}

	size := estimateSize(len(small), 1)
	planFee := fee(size, feeRate)
	out := total - planFee
	if out <= p.DustThreshold {
		return Plan{}, ErrConsolidationDust
	}

	return Plan{
		Inputs: small,
		Amount: out,
		Change: 0,
		Fee:    planFee,
		Size:   size,
	}, nil
}
