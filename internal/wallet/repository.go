package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helix-pay/helix_custody/internal/chains"
)

// ErrNotFound indicates an unknown wallet identifier.
var ErrNotFound = errors.New("wallet not found")

// Repository persists wallet metadata and the per-chain address map.
type Repository interface {
	Create(ctx context.Context, wallet Wallet) error
	Get(ctx context.Context, id string) (Wallet, error)
}

// PostgresRepository stores wallets in PostgreSQL. The address map lands in
// the wallet_chains table, one row per chain, whose balance column is the one
// the ledger store debits and credits.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the wallet row and one wallet_chains row per address.
func (r *PostgresRepository) Create(ctx context.Context, wallet Wallet) error {
	walletID, err := uuid.Parse(wallet.ID)
	if err != nil {
		return err
	}
	ownerID, err := uuid.Parse(wallet.OwnerID)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `INSERT INTO wallets (id, owner_id, status, created_at)
		VALUES ($1, $2, $3, $4)`, walletID, ownerID, wallet.Status, wallet.CreatedAt.UTC()); err != nil {
		return err
	}

	for chain, addr := range wallet.Addresses {
		if _, err := tx.Exec(ctx, `INSERT INTO wallet_chains
			(wallet_id, chain, address, network, balance, signer_index, shared)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			walletID, string(chain), addr.Address, addr.Network, addr.Balance, addr.SignerIndex, addr.Shared); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Get fetches wallet metadata and its chain addresses.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Wallet, error) {
	walletUUID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, err
	}

	var (
		w         Wallet
		idVal     uuid.UUID
		ownerID   uuid.UUID
		createdAt time.Time
	)
	row := r.db.QueryRow(ctx, `SELECT id, owner_id, status, created_at
		FROM wallets WHERE id = $1`, walletUUID)
	if err := row.Scan(&idVal, &ownerID, &w.Status, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	w.ID = idVal.String()
	w.OwnerID = ownerID.String()
	w.CreatedAt = createdAt.UTC()
	w.Addresses = make(map[chains.Chain]ChainAddress)

	rows, err := r.db.Query(ctx, `SELECT chain, address, network, balance, signer_index, shared
		FROM wallet_chains WHERE wallet_id = $1`, walletUUID)
	if err != nil {
		return Wallet{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			chain string
			addr  ChainAddress
		)
		if err := rows.Scan(&chain, &addr.Address, &addr.Network, &addr.Balance, &addr.SignerIndex, &addr.Shared); err != nil {
			return Wallet{}, err
		}
		w.Addresses[chains.Chain(chain)] = addr
	}
	return w, rows.Err()
}
