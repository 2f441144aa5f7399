package utxo

import (
	"errors"
	"fmt"

	"github.com/helix-pay/helix_custody/internal/chains"
)

// SelectAndBuild chooses inputs for a spend of amount at feeRate and returns
// the costed plan. Inputs are consumed largest-first; after each accepted
// input the transaction size is re-estimated assuming two outputs (recipient
// plus change) and accumulation stops as soon as the gathered value covers
// amount plus the implied fee. Positive change below the dust threshold is
// folded into the fee rather than emitted as an unspendable output.
//
// The available slice is treated as read-only; spent records are ignored.
func SelectAndBuild(available []UTXO, amount, feeRate int64, p chains.Params) (Plan, error) {
	if amount < p.DustThreshold {
		return Plan{}, &DustError{Amount: amount, Threshold: p.DustThreshold}
	}
	if feeRate <= 0 {
		feeRate = p.DefaultFeeRate
	}

	candidates := sortDesc(available)

	var (
		inputs []UTXO
		total  int64
	)
	for _, u := range candidates {
		inputs = append(inputs, u)
		total += u.Amount

		size := estimateSize(len(inputs), 2)
		required := amount + fee(size, feeRate)
		if total < required {
			continue
		}

		planFee := fee(size, feeRate)
		change := total - amount - planFee
		if change > 0 && change < p.DustThreshold {
			planFee += change
			change = 0
		}
		return Plan{
			Inputs: inputs,
			Amount: amount,
			Change: change,
			Fee:    planFee,
			Size:   size,
		}, nil
	}

	finalFee := fee(estimateSize(len(candidates), 2), feeRate)
	maxSpendable := total - finalFee
	if maxSpendable < 0 {
		maxSpendable = 0
	}
	return Plan{}, &InsufficientFundsError{
		Required:     amount + finalFee,
		Available:    total,
		MaxSpendable: maxSpendable,
	}
}

// Estimate is the outcome of a pre-flight withdrawal check. It is advisory:
// the pool may change between the estimate and the locked build.
type Estimate struct {
	Economical   bool
	UTXOCount    int
	Fee          int64
	MaxSpendable int64
	Reason       string
}

// MinimumWithdrawal dry-runs the selection for amount without touching any
// state, so callers can reject uneconomical requests before debiting a
// balance. When Economical is true, a real build against the same pool and
// fee rate succeeds with at most UTXOCount inputs.
func MinimumWithdrawal(available []UTXO, amount, feeRate int64, p chains.Params) Estimate {
	plan, err := SelectAndBuild(available, amount, feeRate, p)
	if err == nil {
		est := Estimate{
			Economical:   true,
			UTXOCount:    len(plan.Inputs),
			Fee:          plan.Fee,
			MaxSpendable: plan.Amount + plan.Change,
		}
		if plan.Fee > amount {
			// A spend is buildable but the fee would dwarf the payment;
			// consolidating the pool first makes it viable.
			est.Economical = false
			est.Reason = fmt.Sprintf("network fees of %d would exceed the %d being sent; the wallet's coins are too fragmented", plan.Fee, amount)
		}
		return est
	}

	var insufficient *InsufficientFundsError
	if errors.As(err, &insufficient) {
		return Estimate{
			UTXOCount:    0,
			MaxSpendable: insufficient.MaxSpendable,
			Reason: fmt.Sprintf("available utxos cannot cover %d plus fees; maximum spendable is %d",
				amount, insufficient.MaxSpendable),
		}
	}

	var dust *DustError
	if errors.As(err, &dust) {
		return Estimate{
			Reason: fmt.Sprintf("amount %d is below the %s dust threshold of %d", amount, p.Name, p.DustThreshold),
		}
	}

	return Estimate{Reason: err.Error()}
}
