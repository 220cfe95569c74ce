// Package verifier answers on-demand queries for a (chain, transaction hash)
// pair. It serves from the projection when possible and falls back to the
// chain itself, healing the projection when the crawler missed the event.
package verifier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/keeperlabs/depositwatch/internal/common"
	"github.com/keeperlabs/depositwatch/internal/db"
	"github.com/keeperlabs/depositwatch/internal/events"
	"github.com/keeperlabs/depositwatch/internal/logger"
	"github.com/keeperlabs/depositwatch/internal/metrics"
	"github.com/keeperlabs/depositwatch/internal/store"
	"github.com/keeperlabs/depositwatch/pkg/config"
	pkgrpc "github.com/keeperlabs/depositwatch/pkg/rpc"
)

// Result is the outcome of a verification.
type Result struct {
	// Found is true when the transaction carries a watched event, whether it
	// was already projected or recovered from the chain.
	Found bool

	// Transaction is set when Found is true.
	Transaction *store.Transaction

	// Message explains the outcome when Found is false.
	Message string
}

// Verifier resolves transactions against the projection and the chain.
type Verifier struct {
	cfg         config.ChainConfig
	client      pkgrpc.EthClient
	txStore     *store.TransactionStore
	registry    *events.Registry
	maintenance db.Maintenance
	log         *logger.Logger

	contract ethcommon.Address
}

// New creates a verifier for one chain.
func New(
	cfg config.ChainConfig,
	client pkgrpc.EthClient,
	txStore *store.TransactionStore,
	maintenance db.Maintenance,
	log *logger.Logger,
) *Verifier {
	return &Verifier{
		cfg:         cfg,
		client:      client,
		txStore:     txStore,
		registry:    events.NewRegistry(log.WithComponent(common.ComponentParser)),
		maintenance: maintenance,
		log:         log.WithComponent(common.ComponentVerifier),
		contract:    ethcommon.HexToAddress(cfg.ContractAddress),
	}
}

// Verify resolves the transaction hash. The projection answers first; on a
// miss the chain is queried directly and a recovered event is written back
// so subsequent lookups hit the projection.
func (v *Verifier) Verify(ctx context.Context, txHash ethcommon.Hash) (*Result, error) {
	row, err := v.txStore.GetByTxHash(v.cfg.ChainID, txHash)
	if err != nil {
		return nil, err
	}
	if row != nil {
		metrics.VerificationInc(v.cfg.ChainID, "projection_hit")
		return &Result{Found: true, Transaction: row}, nil
	}

	receipt, err := v.client.GetTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch receipt for tx %s: %w", txHash.Hex(), err)
	}
	if receipt == nil {
		metrics.VerificationInc(v.cfg.ChainID, "not_found")
		return &Result{Message: "transaction not found on chain"}, nil
	}

	parsed, touchesContract := v.parseWatchedEvents(receipt)
	if !touchesContract {
		metrics.VerificationInc(v.cfg.ChainID, "untracked_contract")
		return &Result{Message: "transaction does not involve the watched contract"}, nil
	}
	if len(parsed) == 0 {
		metrics.VerificationInc(v.cfg.ChainID, "no_watched_events")
		return &Result{Message: "transaction carries no watched contract events"}, nil
	}
	if len(parsed) > 1 {
		v.log.Warnf("tx %s carries %d watched events, projecting the first",
			txHash.Hex(), len(parsed))
	}
	ev := parsed[0]

	head, err := v.client.GetHeadBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain head: %w", err)
	}

	header, err := v.client.GetBlockHeader(ctx, ev.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch header for block %d: %w", ev.BlockNumber, err)
	}
	if header == nil {
		return nil, fmt.Errorf("block %d not found", ev.BlockNumber)
	}

	recovered := v.rowFromEvent(ev, receipt, header, head)

	if err := v.persist(recovered); err != nil {
		return nil, err
	}

	v.log.Infof("recovered tx %s from chain into the projection (block %d, %s)",
		txHash.Hex(), recovered.BlockNumber, recovered.Operation)
	metrics.VerificationInc(v.cfg.ChainID, "recovered")

	return &Result{Found: true, Transaction: recovered}, nil
}

// parseWatchedEvents decodes the receipt's logs that belong to the watched
// contract and a registered event topic. touchesContract reports whether the
// receipt carries any log from the watched contract at all, so callers can
// tell "wrong contract" apart from "right contract, no watched event".
func (v *Verifier) parseWatchedEvents(receipt *types.Receipt) (parsed []*events.ParsedEvent, touchesContract bool) {
	var logs []types.Log
	for _, l := range receipt.Logs {
		if l.Address == v.contract {
			logs = append(logs, *l)
		}
	}
	return v.registry.ParseAll(logs), len(logs) > 0
}

func (v *Verifier) rowFromEvent(
	ev *events.ParsedEvent,
	receipt *types.Receipt,
	header *types.Header,
	head uint64,
) *store.Transaction {
	confirmations := store.ComputeConfirmations(head, ev.BlockNumber, v.cfg.RequiredConfirmations)

	status := store.StatusPending
	switch {
	case receipt.Status == types.ReceiptStatusFailed:
		status = store.StatusFailed
	case confirmations >= v.cfg.RequiredConfirmations:
		status = store.StatusConfirmed
	}

	return &store.Transaction{
		ChainID:              v.cfg.ChainID,
		TxHash:               ev.TxHash,
		Address:              ev.User,
		Operation:            string(ev.Operation),
		RawAmount:            ev.RawAmount,
		Amount:               ev.Amount,
		TokenDecimals:        ev.Decimals,
		TokenAddress:         ev.TokenAddress,
		ContractAddress:      ev.ContractAddress,
		BlockNumber:          ev.BlockNumber,
		BlockHash:            ev.BlockHash,
		LogIndex:             ev.LogIndex,
		BlockTimeMs:          int64(header.Time) * 1000,
		Confirmations:        confirmations,
		RequireConfirmations: v.cfg.RequiredConfirmations,
		Status:               status,
	}
}

func (v *Verifier) persist(row *store.Transaction) error {
	unlock := v.maintenance.AcquireOperationLock()
	defer unlock()

	tx, err := v.txStore.DB().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			v.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	if _, err := v.txStore.UpsertTx(tx, row); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
