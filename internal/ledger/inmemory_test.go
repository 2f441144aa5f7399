package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/helix-pay/helix_custody/internal/chains"
	"github.com/helix-pay/helix_custody/internal/utxo"
)

func seedWallet(t *testing.T, store Store, walletID string, balance int64) {
	t.Helper()
	if err := store.CreditBalance(context.Background(), walletID, chains.Bitcoin, balance); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
}

func TestBeginWithdrawalDebitsAndCreatesPending(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	seedWallet(t, store, "w1", 10_000)

	record, err := store.BeginWithdrawal(ctx, "w1", chains.Bitcoin, "addr", 6_000, 500)
	if err != nil {
		t.Fatalf("begin withdrawal: %v", err)
	}
	if record.Status != StatusPending {
		t.Fatalf("expected PENDING, got %s", record.Status)
	}

	// 10_000 - 6_000 - 500 leaves 3_500: a second withdrawal of 6_000 must
	// fail without mutating anything.
	if _, err := store.BeginWithdrawal(ctx, "w1", chains.Bitcoin, "addr", 6_000, 500); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestClaimPendingIsSingleShot(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	seedWallet(t, store, "w1", 10_000)

	record, err := store.BeginWithdrawal(ctx, "w1", chains.Bitcoin, "addr", 1_000, 100)
	if err != nil {
		t.Fatalf("begin withdrawal: %v", err)
	}

	_, claimed, err := store.ClaimPending(ctx, record.ID)
	if err != nil || !claimed {
		t.Fatalf("expected first claim to succeed, claimed=%v err=%v", claimed, err)
	}
	_, claimed, err = store.ClaimPending(ctx, record.ID)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed {
		t.Fatal("duplicate claim must affect zero rows")
	}
}

func TestFailWithdrawalRefundsInFull(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	seedWallet(t, store, "w1", 10_000)

	record, _ := store.BeginWithdrawal(ctx, "w1", chains.Bitcoin, "addr", 4_000, 300)
	if _, claimed, _ := store.ClaimPending(ctx, record.ID); !claimed {
		t.Fatal("claim failed")
	}
	if err := store.FailWithdrawal(ctx, record.ID, "broadcast rejected"); err != nil {
		t.Fatalf("fail withdrawal: %v", err)
	}

	// Full refund restores the seed balance: a withdrawal of the whole
	// 10_000 minus fee must succeed again.
	if _, err := store.BeginWithdrawal(ctx, "w1", chains.Bitcoin, "addr", 9_000, 1_000); err != nil {
		t.Fatalf("expected balance restored, got %v", err)
	}

	failed, _ := store.Transaction(ctx, record.ID)
	if failed.Status != StatusFailed || failed.Reason == "" {
		t.Fatalf("expected terminal FAILED with reason, got %+v", failed)
	}
}

func TestCompleteWithdrawalSettlesFeeDifference(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	seedWallet(t, store, "w1", 10_000)

	record, _ := store.BeginWithdrawal(ctx, "w1", chains.Bitcoin, "addr", 5_000, 1_000)
	store.ClaimPending(ctx, record.ID)

	// Actual fee came in 400 under the estimate; the difference goes back
	// to the wallet, so 4_000 + 400 = 4_400 is spendable.
	if err := store.CompleteWithdrawal(ctx, record.ID, "deadbeef", 600); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := store.BeginWithdrawal(ctx, "w1", chains.Bitcoin, "addr", 4_000, 400); err != nil {
		t.Fatalf("expected fee difference refunded, got %v", err)
	}

	done, _ := store.Transaction(ctx, record.ID)
	if done.Status != StatusCompleted || done.TxHash != "deadbeef" || done.Fee != 600 {
		t.Fatalf("unexpected completed record: %+v", done)
	}
}

func TestSpendUTXOsRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	seedWallet(t, store, "w1", 1_000)

	u := utxo.UTXO{ID: "u1", WalletID: "w1", TxID: "aa", Vout: 0, Amount: 1_000}
	if err := store.CreateUTXO(ctx, chains.Bitcoin, u); err != nil {
		t.Fatalf("create utxo: %v", err)
	}

	wantErr := errors.New("broadcast failed")
	err := store.SpendUTXOs(ctx, "w1", chains.Bitcoin, func(view UTXOView) error {
		if err := view.MarkSpent("u1"); err != nil {
			t.Fatalf("mark spent: %v", err)
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected fn error, got %v", err)
	}

	unspent, _ := store.UnspentUTXOs(ctx, "w1", chains.Bitcoin)
	if len(unspent) != 1 || unspent[0].Spent {
		t.Fatalf("expected mark rolled back, got %+v", unspent)
	}
}

func TestMarkOutpointsSpentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()

	store.CreateUTXO(ctx, chains.Bitcoin, utxo.UTXO{ID: "u1", WalletID: "w1", TxID: "aa", Vout: 1, Amount: 500})

	outs := []utxo.Outpoint{{TxID: "aa", Vout: 1}}
	marked, err := store.MarkOutpointsSpent(ctx, "w1", chains.Bitcoin, outs)
	if err != nil || marked != 1 {
		t.Fatalf("expected 1 marked, got %d err=%v", marked, err)
	}
	marked, err = store.MarkOutpointsSpent(ctx, "w1", chains.Bitcoin, outs)
	if err != nil || marked != 0 {
		t.Fatalf("expected second mark to be a no-op, got %d err=%v", marked, err)
	}
}

func TestOffchainDeltaIsAdditive(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()

	key := OffchainKey{WalletID: "w1", Index: 3, Currency: "BTC", Chain: chains.Bitcoin, Network: "mainnet"}
	if diff, _ := store.ApplyOffchainDelta(ctx, key, -700); diff != -700 {
		t.Fatalf("expected -700, got %d", diff)
	}
	if diff, _ := store.ApplyOffchainDelta(ctx, key, 200); diff != -500 {
		t.Fatalf("expected accumulated -500, got %d", diff)
	}
	if diff, _ := store.OffchainDifference(ctx, key); diff != -500 {
		t.Fatalf("expected read of -500, got %d", diff)
	}

	other := key
	other.Index = 4
	if diff, _ := store.OffchainDifference(ctx, other); diff != 0 {
		t.Fatalf("expected lazily-absent entry to read 0, got %d", diff)
	}
}
