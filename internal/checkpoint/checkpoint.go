// Package checkpoint tracks the last fully processed block per chain. The
// checkpoint lives in the same database as the transaction rows so persist
// and progress advance in one transaction.
package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/keeperlabs/depositwatch/internal/logger"
)

const lastProcessedBlockKey = "last_processed_block"

// Store reads and writes per-chain checkpoints in the kv_store table.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// New creates a checkpoint store on top of an already migrated database.
func New(db *sql.DB, log *logger.Logger) *Store {
	return &Store{db: db, log: log}
}

func key(chainID string) string {
	return lastProcessedBlockKey + ":" + chainID
}

// Get returns the last processed block of the chain. The second return is
// false when no checkpoint has been written yet.
func (s *Store) Get(chainID string) (uint64, bool, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM kv_store WHERE key = ?`, key(chainID)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read checkpoint for chain %s: %w", chainID, err)
	}

	blockNum, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt checkpoint for chain %s: %q: %w", chainID, value, err)
	}

	return blockNum, true, nil
}

// SetTx writes the checkpoint within the caller's transaction, so it commits
// atomically with the rows of the batch that produced it.
func (s *Store) SetTx(tx *sql.Tx, chainID string, blockNum uint64) error {
	_, err := tx.Exec(
		`INSERT OR REPLACE INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)`,
		key(chainID), strconv.FormatUint(blockNum, 10), time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write checkpoint for chain %s: %w", chainID, err)
	}
	return nil
}

// DeleteTx removes the chain's checkpoint within the caller's transaction.
func (s *Store) DeleteTx(tx *sql.Tx, chainID string) error {
	_, err := tx.Exec(`DELETE FROM kv_store WHERE key = ?`, key(chainID))
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint for chain %s: %w", chainID, err)
	}
	return nil
}

// Delete removes the chain's checkpoint. Used by operational tooling when a
// chain is re-synced from scratch.
func (s *Store) Delete(chainID string) error {
	_, err := s.db.Exec(`DELETE FROM kv_store WHERE key = ?`, key(chainID))
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint for chain %s: %w", chainID, err)
	}
	return nil
}
