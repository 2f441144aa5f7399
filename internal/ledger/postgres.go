package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helix-pay/helix_custody/internal/chains"
	"github.com/helix-pay/helix_custody/internal/utxo"
)

// PostgresStore persists the withdrawal ledger in PostgreSQL. It relies on
// READ COMMITTED plus explicit SELECT ... FOR UPDATE row locks on the wallet
// chain row and the unspent UTXO set.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const lockChainBalanceQuery = `
	SELECT balance FROM wallet_chains
	WHERE wallet_id = $1 AND chain = $2
	FOR UPDATE`

func lockChainBalance(ctx context.Context, tx pgx.Tx, walletID string, chain chains.Chain) (int64, error) {
	var balance int64
	if err := tx.QueryRow(ctx, lockChainBalanceQuery, walletID, string(chain)).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrWalletNotFound
		}
		return 0, err
	}
	return balance, nil
}

// BeginWithdrawal debits amount+fee and inserts the PENDING row atomically.
func (s *PostgresStore) BeginWithdrawal(ctx context.Context, walletID string, chain chains.Chain, toAddress string, amount, fee int64) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, fmt.Errorf("amount must be positive")
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	balance, err := lockChainBalance(ctx, tx, walletID, chain)
	if err != nil {
		return Transaction{}, err
	}
	if balance < amount+fee {
		return Transaction{}, ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx, `UPDATE wallet_chains SET balance = balance - $3
		WHERE wallet_id = $1 AND chain = $2`, walletID, string(chain), amount+fee); err != nil {
		return Transaction{}, err
	}

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
	if _, err := tx.Exec(ctx, `INSERT INTO transactions
		(id, wallet_id, chain, to_address, amount, fee, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.ID, record.WalletID, string(record.Chain), record.ToAddress,
		record.Amount, record.Fee, string(record.Status), record.CreatedAt, record.UpdatedAt); err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	return record, nil
}

// ClaimPending performs the conditional PENDING -> PROCESSING transition.
func (s *PostgresStore) ClaimPending(ctx context.Context, txID string) (Transaction, bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE transactions SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4`,
		txID, string(StatusProcessing), time.Now().UTC(), string(StatusPending))
	if err != nil {
		return Transaction{}, false, err
	}
	if tag.RowsAffected() == 0 {
		// Another claim got there first, or the id is unknown: either way
		// the caller must not process it again.
		return Transaction{}, false, nil
	}

	record, err := s.Transaction(ctx, txID)
	if err != nil {
		return Transaction{}, false, err
	}
	return record, true, nil
}

// CompleteWithdrawal finalizes a PROCESSING withdrawal and settles the fee
// difference against the wallet balance.
func (s *PostgresStore) CompleteWithdrawal(ctx context.Context, txID, txHash string, finalFee int64) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var (
		walletID     string
		chain        string
		estimatedFee int64
	)
	if err := tx.QueryRow(ctx, `SELECT wallet_id, chain, fee FROM transactions
		WHERE id = $1 AND status = $2 FOR UPDATE`, txID, string(StatusProcessing)).
		Scan(&walletID, &chain, &estimatedFee); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTransactionNotFound
		}
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE transactions
		SET status = $2, tx_hash = $3, fee = $4, updated_at = $5 WHERE id = $1`,
		txID, string(StatusCompleted), txHash, finalFee, time.Now().UTC()); err != nil {
		return err
	}

	if diff := estimatedFee - finalFee; diff != 0 {
		if _, err := tx.Exec(ctx, `UPDATE wallet_chains SET balance = balance + $3
			WHERE wallet_id = $1 AND chain = $2`, walletID, chain, diff); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// FailWithdrawal marks the row FAILED and refunds amount+fee in one
// transaction.
func (s *PostgresStore) FailWithdrawal(ctx context.Context, txID, reason string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var (
		walletID string
		chain    string
		amount   int64
		fee      int64
	)
	if err := tx.QueryRow(ctx, `SELECT wallet_id, chain, amount, fee FROM transactions
		WHERE id = $1 AND status = $2 FOR UPDATE`, txID, string(StatusProcessing)).
		Scan(&walletID, &chain, &amount, &fee); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTransactionNotFound
		}
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE transactions
		SET status = $2, reason = $3, updated_at = $4 WHERE id = $1`,
		txID, string(StatusFailed), reason, time.Now().UTC()); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE wallet_chains SET balance = balance + $3
		WHERE wallet_id = $1 AND chain = $2`, walletID, chain, amount+fee); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Transaction fetches one withdrawal record by id.
func (s *PostgresStore) Transaction(ctx context.Context, txID string) (Transaction, error) {
	row := s.db.QueryRow(ctx, `SELECT id, wallet_id, chain, to_address, amount, fee,
		COALESCE(tx_hash, ''), status, COALESCE(reason, ''), created_at, updated_at
		FROM transactions WHERE id = $1`, txID)

	var (
		record Transaction
		chain  string
		status string
	)
	if err := row.Scan(&record.ID, &record.WalletID, &chain, &record.ToAddress,
		&record.Amount, &record.Fee, &record.TxHash, &status, &record.Reason,
		&record.CreatedAt, &record.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	record.Chain = chains.Chain(chain)
	record.Status = Status(status)
	return record, nil
}

const selectUTXOsQuery = `
	SELECT id, wallet_id, tx_hash, vout, amount, script, spent
	FROM utxos WHERE wallet_id = $1 AND chain = $2 AND spent = false
	ORDER BY amount DESC`

func scanUTXOs(rows pgx.Rows) ([]utxo.UTXO, error) {
	defer rows.Close()
	var utxos []utxo.UTXO
	for rows.Next() {
		var u utxo.UTXO
		if err := rows.Scan(&u.ID, &u.WalletID, &u.TxID, &u.Vout, &u.Amount, &u.Script, &u.Spent); err != nil {
			return nil, err
		}
		utxos = append(utxos, u)
	}
	return utxos, rows.Err()
}

// UnspentUTXOs reads the unspent set without locking.
func (s *PostgresStore) UnspentUTXOs(ctx context.Context, walletID string, chain chains.Chain) ([]utxo.UTXO, error) {
	rows, err := s.db.Query(ctx, selectUTXOsQuery, walletID, string(chain))
	if err != nil {
		return nil, err
	}
	return scanUTXOs(rows)
}

type postgresUTXOView struct {
	ctx      context.Context
	tx       pgx.Tx
	walletID string
	chain    chains.Chain
	unspent  []utxo.UTXO
}

func (v *postgresUTXOView) Unspent() []utxo.UTXO {
	return v.unspent
}

func (v *postgresUTXOView) MarkSpent(id string) error {
	tag, err := v.tx.Exec(v.ctx, `UPDATE utxos SET spent = true WHERE id = $1 AND spent = false`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("utxo %s is not unspent", id)
	}
	return nil
}

func (v *postgresUTXOView) Create(u utxo.UTXO) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	_, err := v.tx.Exec(v.ctx, `INSERT INTO utxos
		(id, wallet_id, chain, tx_hash, vout, amount, script, spent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false)`,
		u.ID, u.WalletID, string(v.chain), u.TxID, u.Vout, u.Amount, u.Script)
	return err
}

func (v *postgresUTXOView) AdjustBalance(delta int64) error {
	_, err := v.tx.Exec(v.ctx, `UPDATE wallet_chains SET balance = balance + $3
		WHERE wallet_id = $1 AND chain = $2`, v.walletID, string(v.chain), delta)
	return err
}

// SpendUTXOs locks the wallet's unspent rows and runs fn inside the same
// transaction.
func (s *PostgresStore) SpendUTXOs(ctx context.Context, walletID string, chain chains.Chain, fn func(UTXOView) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	rows, err := tx.Query(ctx, selectUTXOsQuery+` FOR UPDATE`, walletID, string(chain))
	if err != nil {
		return err
	}
	unspent, err := scanUTXOs(rows)
	if err != nil {
		return err
	}

	view := &postgresUTXOView{ctx: ctx, tx: tx, walletID: walletID, chain: chain, unspent: unspent}
	if err := fn(view); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MarkOutpointsSpent flips the spent flag by on-chain coordinates.
func (s *PostgresStore) MarkOutpointsSpent(ctx context.Context, walletID string, chain chains.Chain, outs []utxo.Outpoint) (int, error) {
	marked := 0
	for _, out := range outs {
		tag, err := s.db.Exec(ctx, `UPDATE utxos SET spent = true
			WHERE wallet_id = $1 AND chain = $2 AND tx_hash = $3 AND vout = $4 AND spent = false`,
			walletID, string(chain), out.TxID, out.Vout)
		if err != nil {
			return marked, err
		}
		marked += int(tag.RowsAffected())
	}
	return marked, nil
}

// CreateUTXO records a deposit output outside any spend plan.
func (s *PostgresStore) CreateUTXO(ctx context.Context, chain chains.Chain, u utxo.UTXO) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx, `INSERT INTO utxos
		(id, wallet_id, chain, tx_hash, vout, amount, script, spent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false)
		ON CONFLICT (wallet_id, chain, tx_hash, vout) DO NOTHING`,
		u.ID, u.WalletID, string(chain), u.TxID, u.Vout, u.Amount, u.Script)
	return err
}

// CreditBalance adjusts a wallet's chain balance.
func (s *PostgresStore) CreditBalance(ctx context.Context, walletID string, chain chains.Chain, delta int64) error {
	tag, err := s.db.Exec(ctx, `UPDATE wallet_chains SET balance = balance + $3
		WHERE wallet_id = $1 AND chain = $2`, walletID, string(chain), delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// ChainBalance reads the wallet's balance on one chain.
func (s *PostgresStore) ChainBalance(ctx context.Context, walletID string, chain chains.Chain) (int64, error) {
	var balance int64
	err := s.db.QueryRow(ctx, `SELECT balance FROM wallet_chains
		WHERE wallet_id = $1 AND chain = $2`, walletID, string(chain)).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrWalletNotFound
	}
	return balance, err
}

// ApplyOffchainDelta upserts the private-ledger entry additively.
func (s *PostgresStore) ApplyOffchainDelta(ctx context.Context, key OffchainKey, delta int64) (int64, error) {
	var difference int64
	err := s.db.QueryRow(ctx, `INSERT INTO private_ledger
		(wallet_id, signer_index, currency, chain, network, offchain_difference)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (wallet_id, signer_index, currency, chain, network)
		DO UPDATE SET offchain_difference = private_ledger.offchain_difference + EXCLUDED.offchain_difference
		RETURNING offchain_difference`,
		key.WalletID, key.Index, key.Currency, string(key.Chain), key.Network, delta).
		Scan(&difference)
	return difference, err
}

// OffchainDifference reads the private-ledger entry for key.
func (s *PostgresStore) OffchainDifference(ctx context.Context, key OffchainKey) (int64, error) {
	var difference int64
	err := s.db.QueryRow(ctx, `SELECT offchain_difference FROM private_ledger
		WHERE wallet_id = $1 AND signer_index = $2 AND currency = $3 AND chain = $4 AND network = $5`,
		key.WalletID, key.Index, key.Currency, string(key.Chain), key.Network).
		Scan(&difference)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return difference, err
}
