package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helix-pay/helix_custody/internal/chains"
	"github.com/helix-pay/helix_custody/internal/utxo"
)

type balanceKey struct {
	walletID string
	chain    chains.Chain
}

type memoryStore struct {
	mu       sync.Mutex
	balances map[balanceKey]int64
	txs      map[string]Transaction
	utxos    map[string]utxo.UTXO
	order    []string
	offchain map[OffchainKey]int64
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit
// tests. It mirrors the Postgres store's semantics, including rollback of
// spend sections whose function returns an error.
func NewInMemory() Store {
	return &memoryStore{
		balances: make(map[balanceKey]int64),
		txs:      make(map[string]Transaction),
		utxos:    make(map[string]utxo.UTXO),
		offchain: make(map[OffchainKey]int64),
	}
}

func (m *memoryStore) BeginWithdrawal(_ context.Context, walletID string, chain chains.Chain, toAddress string, amount, fee int64) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, fmt.Errorf("amount must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := balanceKey{walletID, chain}
	balance, ok := m.balances[key]
	if !ok {
		return Transaction{}, ErrWalletNotFound
	}
	if balance < amount+fee {
		return Transaction{}, ErrInsufficientFunds
	}
	m.balances[key] = balance - amount - fee

	now := time.Now().UTC()
	record := Transaction{
		ID:        uuid.NewString(),
		WalletID:  walletID,
		Chain:     chain,
		ToAddress: toAddress,
		Amount:    amount,
		Fee:       fee,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.txs[record.ID] = record
	return record, nil
}

func (m *memoryStore) ClaimPending(_ context.Context, txID string) (Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.txs[txID]
	if !ok || record.Status != StatusPending {
		return Transaction{}, false, nil
	}
	record.Status = StatusProcessing
	record.UpdatedAt = time.Now().UTC()
	m.txs[txID] = record
	return record, true, nil
}

func (m *memoryStore) CompleteWithdrawal(_ context.Context, txID, txHash string, finalFee int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.txs[txID]
	if !ok || record.Status != StatusProcessing {
		return ErrTransactionNotFound
	}
	if diff := record.Fee - finalFee; diff != 0 {
		m.balances[balanceKey{record.WalletID, record.Chain}] += diff
	}
	record.Status = StatusCompleted
	record.TxHash = txHash
	record.Fee = finalFee
	record.UpdatedAt = time.Now().UTC()
	m.txs[txID] = record
	return nil
}

func (m *memoryStore) FailWithdrawal(_ context.Context, txID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.txs[txID]
	if !ok || record.Status != StatusProcessing {
		return ErrTransactionNotFound
	}
	m.balances[balanceKey{record.WalletID, record.Chain}] += record.Amount + record.Fee
	record.Status = StatusFailed
	record.Reason = reason
	record.UpdatedAt = time.Now().UTC()
	m.txs[txID] = record
	return nil
}

func (m *memoryStore) Transaction(_ context.Context, txID string) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.txs[txID]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return record, nil
}

func (m *memoryStore) unspentLocked(walletID string) []utxo.UTXO {
	var unspent []utxo.UTXO
	for _, id := range m.order {
		u := m.utxos[id]
		if u.WalletID == walletID && !u.Spent {
			unspent = append(unspent, u)
		}
	}
	sort.Slice(unspent, func(i, j int) bool { return unspent[i].Amount > unspent[j].Amount })
	return unspent
}

func (m *memoryStore) UnspentUTXOs(_ context.Context, walletID string, _ chains.Chain) ([]utxo.UTXO, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unspentLocked(walletID), nil
}

type memoryUTXOView struct {
	store    *memoryStore
	walletID string
	chain    chains.Chain
	unspent  []utxo.UTXO

	spent        []string
	created      []utxo.UTXO
	balanceDelta int64
}

func (v *memoryUTXOView) Unspent() []utxo.UTXO {
	return v.unspent
}

func (v *memoryUTXOView) MarkSpent(id string) error {
	u, ok := v.store.utxos[id]
	if !ok || u.Spent {
		return fmt.Errorf("utxo %s is not unspent", id)
	}
	v.spent = append(v.spent, id)
	return nil
}

func (v *memoryUTXOView) Create(u utxo.UTXO) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	v.created = append(v.created, u)
	return nil
}

func (v *memoryUTXOView) AdjustBalance(delta int64) error {
	v.balanceDelta += delta
	return nil
}

// SpendUTXOs stages mutations and applies them only when fn succeeds,
// matching the transactional rollback of the Postgres store. The store mutex
// is held for the whole section, which also mirrors the row-lock serialization
// of concurrent spend plans.
func (m *memoryStore) SpendUTXOs(_ context.Context, walletID string, chain chains.Chain, fn func(UTXOView) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	view := &memoryUTXOView{
		store:    m,
		walletID: walletID,
		chain:    chain,
		unspent:  m.unspentLocked(walletID),
	}
	if err := fn(view); err != nil {
		return err
	}

	for _, id := range view.spent {
		u := m.utxos[id]
		u.Spent = true
		m.utxos[id] = u
	}
	for _, u := range view.created {
		m.utxos[u.ID] = u
		m.order = append(m.order, u.ID)
	}
	if view.balanceDelta != 0 {
		m.balances[balanceKey{walletID, chain}] += view.balanceDelta
	}
	return nil
}

func (m *memoryStore) MarkOutpointsSpent(_ context.Context, walletID string, _ chains.Chain, outs []utxo.Outpoint) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	marked := 0
	for _, out := range outs {
		for id, u := range m.utxos {
			if u.WalletID == walletID && u.TxID == out.TxID && u.Vout == out.Vout && !u.Spent {
				u.Spent = true
				m.utxos[id] = u
				marked++
			}
		}
	}
	return marked, nil
}

func (m *memoryStore) CreateUTXO(_ context.Context, _ chains.Chain, u utxo.UTXO) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	for _, existing := range m.utxos {
		if existing.WalletID == u.WalletID && existing.TxID == u.TxID && existing.Vout == u.Vout {
			return nil
		}
	}
	m.utxos[u.ID] = u
	m.order = append(m.order, u.ID)
	return nil
}

func (m *memoryStore) CreditBalance(_ context.Context, walletID string, chain chains.Chain, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[balanceKey{walletID, chain}] += delta
	return nil
}

func (m *memoryStore) ChainBalance(_ context.Context, walletID string, chain chains.Chain) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balances[balanceKey{walletID, chain}]
	if !ok {
		return 0, ErrWalletNotFound
	}
	return balance, nil
}

func (m *memoryStore) ApplyOffchainDelta(_ context.Context, key OffchainKey, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offchain[key] += delta
	return m.offchain[key], nil
}

func (m *memoryStore) OffchainDifference(_ context.Context, key OffchainKey) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offchain[key], nil
}
