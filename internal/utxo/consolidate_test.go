package utxo

import (
	"errors"
	"testing"
)

func TestShouldConsolidateSmallAverage(t *testing.T) {
	p := testParams(50)

	// 12 outputs of 40 at rate 2: spending one input costs 360, the average
	// value is far below 3x that, and the count trigger fires as well.
	amounts := make([]int64, 12)
	for i := range amounts {
		amounts[i] = 40
	}
	if !ShouldConsolidate(pool(amounts...), 2, p) {
		t.Fatal("expected consolidation trigger for 12 tiny utxos")
	}

	// Same values but only 5 outputs: count trigger is off, the average
	// value comparison still fires.
	if !ShouldConsolidate(pool(40, 40, 40, 40, 40), 2, p) {
		t.Fatal("expected consolidation trigger on average value")
	}
}

func TestShouldConsolidateHealthyPool(t *testing.T) {
	p := testParams(50)

	if ShouldConsolidate(pool(100_000, 50_000, 80_000), 2, p) {
		t.Fatal("did not expect consolidation for a pool of large utxos")
	}
	if ShouldConsolidate(pool(100_000), 2, p) {
		t.Fatal("a single utxo can never be consolidated")
	}
}

func TestPlanConsolidationMergesSmallUTXOs(t *testing.T) {
	p := testParams(50)

	// At rate 1 the small cutoff is 5*180 = 900; the 100_000 output must
	// stay untouched.
	plan, err := PlanConsolidation(pool(100_000, 800, 700, 600), 1, p)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Inputs) != 3 {
		t.Fatalf("expected 3 small inputs, got %d", len(plan.Inputs))
	}
	for _, in := range plan.Inputs {
		if in.Amount >= 900 {
			t.Fatalf("selected non-small utxo of %d", in.Amount)
		}
	}

	// Single output: size 3*180 + 34 + 10 = 584, fee 584, output 2100-584.
	if plan.Fee != 584 {
		t.Fatalf("expected fee 584, got %d", plan.Fee)
	}
	if plan.Amount != 2100-584 {
		t.Fatalf("expected merged output %d, got %d", 2100-584, plan.Amount)
	}
	if plan.Change != 0 {
		t.Fatalf("consolidation must not produce change, got %d", plan.Change)
	}
}

func TestPlanConsolidationTooFew(t *testing.T) {
	p := testParams(50)

	_, err := PlanConsolidation(pool(100_000, 700), 1, p)
	if !errors.Is(err, ErrTooFewUTXOs) {
		t.Fatalf("expected ErrTooFewUTXOs, got %v", err)
	}
}

func TestPlanConsolidationDustResult(t *testing.T) {
	p := testParams(50)

	// Two tiny outputs whose merge would not even cover the fee.
	_, err := PlanConsolidation(pool(200, 150), 1, p)
	if !errors.Is(err, ErrConsolidationDust) {
		t.Fatalf("expected ErrConsolidationDust, got %v", err)
	}
}

func TestPlanConsolidationCapsInputs(t *testing.T) {
	p := testParams(50)

	amounts := make([]int64, 80)
	for i := range amounts {
		amounts[i] = 700
	}
	plan, err := PlanConsolidation(pool(amounts...), 0, p)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Inputs) != maxConsolidationInputs {
		t.Fatalf("expected input cap of %d, got %d", maxConsolidationInputs, len(plan.Inputs))
	}
}
