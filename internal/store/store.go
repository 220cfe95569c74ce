// Package store persists the relational projection of watched contract
// events. All writes go through caller-provided database transactions so a
// batch of blocks lands atomically together with its checkpoint.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/keeperlabs/depositwatch/internal/logger"
	"github.com/russross/meddler"
)

// Status is the confirmation lifecycle state of a stored transaction.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
)

const transactionsTable = "transactions"

// Transaction is one Deposit or Withdraw event projected into the database.
type Transaction struct {
	ID      int64       `meddler:"id,pk"`
	ChainID string      `meddler:"chain_id"`
	TxHash  common.Hash `meddler:"tx_hash,hash"`

	// Address is the user the event credits or debits.
	Address   common.Address `meddler:"address,address"`
	Operation string         `meddler:"operation"`

	// RawAmount is the unscaled uint256 amount as a decimal string.
	RawAmount string `meddler:"raw_amount"`

	// Amount is the human-readable amount with a fixed 18-digit fraction.
	Amount        string `meddler:"amount"`
	TokenDecimals uint8  `meddler:"token_decimals"`

	// TokenAddress is nil for native-asset events.
	TokenAddress    *common.Address `meddler:"token_address,address"`
	ContractAddress common.Address  `meddler:"contract_address,address"`

	BlockNumber uint64      `meddler:"block_number"`
	BlockHash   common.Hash `meddler:"block_hash,hash"`
	LogIndex    uint        `meddler:"log_index"`

	// BlockTimeMs is the block timestamp in milliseconds since epoch.
	BlockTimeMs int64 `meddler:"block_time"`

	Confirmations uint64 `meddler:"confirmations"`

	// RequireConfirmations is the threshold snapshotted at insert time, so a
	// config change does not retroactively flip already stored rows.
	RequireConfirmations uint64 `meddler:"require_confirmations"`

	Status Status `meddler:"status"`

	CreatedAt int64 `meddler:"created_at"`
	UpdatedAt int64 `meddler:"updated_at"`
}

// ComputeConfirmations returns head - blockNumber + 1 capped at required.
// A block ahead of the observed head counts as zero confirmations.
func ComputeConfirmations(head, blockNumber, required uint64) uint64 {
	if blockNumber > head {
		return 0
	}
	confirmations := head - blockNumber + 1
	if confirmations > required {
		return required
	}
	return confirmations
}

// TransactionStore reads and writes rows in the transactions table.
type TransactionStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewTransactionStore creates a store on top of an already migrated database.
func NewTransactionStore(db *sql.DB, log *logger.Logger) *TransactionStore {
	return &TransactionStore{db: db, log: log}
}

// DB exposes the underlying handle so callers can open transactions that span
// the store and the checkpoint.
func (s *TransactionStore) DB() *sql.DB {
	return s.db
}

// UpsertTx inserts the transaction, or reconciles the existing row with the
// same (chain_id, tx_hash). Returns true when a new row was inserted.
//
// Re-observing an event in its known block never lowers confirmations or
// downgrades status: two observers with different head views (crawler vs
// verifier, or two endpoints of the pool) must converge on the furthest
// progress. A row is rewritten from scratch only when the event moved to a
// different block, which happens when a rolled back reorg replays it.
// Re-observing identical state skips the write entirely.
func (s *TransactionStore) UpsertTx(tx *sql.Tx, row *Transaction) (bool, error) {
	existing, err := getByTxHash(tx, row.ChainID, row.TxHash)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC().UnixMilli()

	if existing == nil {
		row.CreatedAt = now
		row.UpdatedAt = now
		if err := meddler.Insert(tx, transactionsTable, row); err != nil {
			return false, fmt.Errorf("failed to insert transaction %s: %w", row.TxHash.Hex(), err)
		}
		return true, nil
	}

	samePlacement := existing.BlockNumber == row.BlockNumber && existing.BlockHash == row.BlockHash

	if samePlacement {
		confirmations := max(existing.Confirmations, row.Confirmations)
		status := mergeStatus(existing.Status, row.Status)

		if confirmations == existing.Confirmations && status == existing.Status {
			*row = *existing
			return false, nil
		}

		existing.Confirmations = confirmations
		existing.Status = status
	} else {
		existing.Address = row.Address
		existing.Operation = row.Operation
		existing.RawAmount = row.RawAmount
		existing.Amount = row.Amount
		existing.TokenDecimals = row.TokenDecimals
		existing.TokenAddress = row.TokenAddress
		existing.BlockNumber = row.BlockNumber
		existing.BlockHash = row.BlockHash
		existing.LogIndex = row.LogIndex
		existing.BlockTimeMs = row.BlockTimeMs
		existing.Confirmations = row.Confirmations
		existing.Status = row.Status
	}

	existing.UpdatedAt = now

	if err := meddler.Update(tx, transactionsTable, existing); err != nil {
		return false, fmt.Errorf("failed to update transaction %s: %w", row.TxHash.Hex(), err)
	}

	*row = *existing

	return false, nil
}

// mergeStatus combines two status observations of the same block placement.
// FAILED is terminal, CONFIRMED beats PENDING.
func mergeStatus(current, incoming Status) Status {
	switch {
	case current == StatusFailed || incoming == StatusFailed:
		return StatusFailed
	case current == StatusConfirmed || incoming == StatusConfirmed:
		return StatusConfirmed
	default:
		return StatusPending
	}
}

// RefreshConfirmationsTx advances confirmations and status of pending rows
// against the observed head. FAILED rows keep their status.
func (s *TransactionStore) RefreshConfirmationsTx(tx *sql.Tx, chainID string, head uint64) (int64, error) {
	now := time.Now().UTC().UnixMilli()

	result, err := tx.Exec(`
		UPDATE transactions
		SET confirmations = MIN(? - block_number + 1, require_confirmations),
		    status = CASE
		        WHEN ? - block_number + 1 >= require_confirmations THEN 'CONFIRMED'
		        ELSE status
		    END,
		    updated_at = ?
		WHERE chain_id = ?
		  AND status = 'PENDING'
		  AND block_number <= ?`,
		head, head, now, chainID, head)
	if err != nil {
		return 0, fmt.Errorf("failed to refresh confirmations: %w", err)
	}

	updated, _ := result.RowsAffected()
	return updated, nil
}

// DeleteFromTx removes every row of the chain at or above blockNumber.
// Used when rolling back a reorganized suffix.
func (s *TransactionStore) DeleteFromTx(tx *sql.Tx, chainID string, blockNumber uint64) (int64, error) {
	result, err := tx.Exec(
		`DELETE FROM transactions WHERE chain_id = ? AND block_number >= ?`,
		chainID, blockNumber)
	if err != nil {
		return 0, fmt.Errorf("failed to delete transactions from block %d: %w", blockNumber, err)
	}

	deleted, _ := result.RowsAffected()
	return deleted, nil
}

// GetByTxHash returns the row for (chainID, txHash), or nil when absent.
func (s *TransactionStore) GetByTxHash(chainID string, txHash common.Hash) (*Transaction, error) {
	return getByTxHash(s.db, chainID, txHash)
}

// GetByBlockRange returns the rows of a chain within [from, to], ordered by
// block number and log index.
func (s *TransactionStore) GetByBlockRange(chainID string, from, to uint64) ([]*Transaction, error) {
	var rows []*Transaction
	err := meddler.QueryAll(s.db, &rows, `
		SELECT * FROM transactions
		WHERE chain_id = ? AND block_number >= ? AND block_number <= ?
		ORDER BY block_number, log_index`,
		chainID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions in [%d, %d]: %w", from, to, err)
	}
	return rows, nil
}

// MaxBlockNumber returns the highest stored block number for the chain.
// The second return is false when the chain has no rows.
func (s *TransactionStore) MaxBlockNumber(chainID string) (uint64, bool, error) {
	var max sql.NullInt64
	err := s.db.QueryRow(
		`SELECT MAX(block_number) FROM transactions WHERE chain_id = ?`,
		chainID).Scan(&max)
	if err != nil {
		return 0, false, fmt.Errorf("failed to query max block number: %w", err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return uint64(max.Int64), true, nil
}

func getByTxHash(q meddler.DB, chainID string, txHash common.Hash) (*Transaction, error) {
	var row Transaction
	err := meddler.QueryRow(q, &row,
		`SELECT * FROM transactions WHERE chain_id = ? AND tx_hash = ?`,
		chainID, txHash.Hex())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction %s: %w", txHash.Hex(), err)
	}
	return &row, nil
}
