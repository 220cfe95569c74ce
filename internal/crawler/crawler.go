// Package crawler runs the per-chain ingestion loop: it walks the chain in
// block windows, decodes watched contract events into the transaction store,
// advances confirmations, and rolls the projection back when the chain
// reorganizes under it.
package crawler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/keeperlabs/depositwatch/internal/blockcache"
	"github.com/keeperlabs/depositwatch/internal/checkpoint"
	"github.com/keeperlabs/depositwatch/internal/common"
	"github.com/keeperlabs/depositwatch/internal/db"
	"github.com/keeperlabs/depositwatch/internal/events"
	"github.com/keeperlabs/depositwatch/internal/logger"
	"github.com/keeperlabs/depositwatch/internal/metrics"
	"github.com/keeperlabs/depositwatch/internal/rpc"
	"github.com/keeperlabs/depositwatch/internal/store"
	"github.com/keeperlabs/depositwatch/pkg/config"
	pkgrpc "github.com/keeperlabs/depositwatch/pkg/rpc"
)

// Crawler ingests one chain's Deposit/Withdraw events.
type Crawler struct {
	cfg         config.ChainConfig
	client      pkgrpc.EthClient
	txStore     *store.TransactionStore
	checkpoints *checkpoint.Store
	cache       *blockcache.Cache
	registry    *events.Registry
	maintenance db.Maintenance
	log         *logger.Logger

	contract    ethcommon.Address
	retryPolicy rpc.RetryPolicy

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a crawler for one chain. The store and checkpoint must share
// the same database so a batch commits atomically with its checkpoint.
func New(
	cfg config.ChainConfig,
	client pkgrpc.EthClient,
	txStore *store.TransactionStore,
	checkpoints *checkpoint.Store,
	maintenance db.Maintenance,
	log *logger.Logger,
) *Crawler {
	return &Crawler{
		cfg:         cfg,
		client:      client,
		txStore:     txStore,
		checkpoints: checkpoints,
		cache:       blockcache.New(),
		registry:    events.NewRegistry(log.WithComponent(common.ComponentParser)),
		maintenance: maintenance,
		log:         log.WithComponent(common.ComponentCrawler),
		contract:    ethcommon.HexToAddress(cfg.ContractAddress),
		retryPolicy: rpc.RetryPolicy{
			MaxAttempts:    cfg.MaxRetries,
			InitialBackoff: cfg.RetryDelay.Duration,
			MaxBackoff:     cfg.MaxRetryDelay.Duration,
		},
		done: make(chan struct{}),
	}
}

// Run executes crawl cycles until the context is cancelled or Stop is called.
// A failed cycle is logged and retried after RestartDelay; a detected reorg
// is rolled back and the next cycle starts immediately.
func (c *Crawler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer close(c.done)

	c.log.Infof("starting crawler for chain %s (%s): contract %s, events %v, start block %d",
		c.cfg.ChainID, c.cfg.Name, c.contract.Hex(), c.registry.EventNames(), c.cfg.StartBlock)

	metrics.ComponentHealthSet(common.ComponentCrawler, true)
	defer metrics.ComponentHealthSet(common.ComponentCrawler, false)

	for {
		err := c.runCycle(ctx)
		if err != nil && ctx.Err() == nil {
			var reorgErr *ReorgDetectedError
			if errors.As(err, &reorgErr) {
				if rollbackErr := c.handleReorg(ctx, reorgErr); rollbackErr != nil {
					c.log.Errorf("reorg rollback failed: %v", rollbackErr)
					metrics.ErrorsInc(common.ComponentCrawler, "error")
				} else {
					// Re-crawl the rolled back range right away.
					continue
				}
			} else {
				c.log.Errorf("crawl cycle failed: %v", err)
				metrics.ErrorsInc(common.ComponentCrawler, "error")
			}
		}

		select {
		case <-ctx.Done():
			c.log.Infof("crawler for chain %s stopped", c.cfg.ChainID)
			return nil
		case <-time.After(c.cfg.RestartDelay.Duration):
		}
	}
}

// Stop cancels the crawl loop and waits until it has exited.
func (c *Crawler) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
}

// runCycle processes everything between the checkpoint and the current head,
// one window at a time.
func (c *Crawler) runCycle(ctx context.Context) error {
	var head uint64
	err := rpc.RetryWithBackoff(ctx, c.retryPolicy, "eth_blockNumber", func() error {
		var err error
		head, err = c.client.GetHeadBlockNumber(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to fetch chain head: %w", err)
	}
	metrics.HeadBlockSet(c.cfg.ChainID, head)

	// Probe the cached suffix before extending it.
	if reorgErr, err := c.detectReorg(ctx); err != nil {
		return fmt.Errorf("reorg probe failed: %w", err)
	} else if reorgErr != nil {
		return reorgErr
	}

	next, err := c.nextBlock()
	if err != nil {
		return err
	}

	if next > head {
		c.log.Debugf("chain %s caught up: next block %d, head %d", c.cfg.ChainID, next, head)
		return nil
	}

	for from := next; from <= head; {
		to := min(from+c.cfg.BatchSize-1, head)

		var processedTo uint64
		err := rpc.RetryWithBackoff(ctx, c.retryPolicy, "process_window", func() error {
			var err error
			processedTo, err = c.processWindow(ctx, from, to, head)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to process window [%d, %d]: %w", from, to, err)
		}

		from = processedTo + 1

		if from <= head {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.PollingInterval.Duration):
			}
		}
	}

	return nil
}

// nextBlock determines where the next window starts: after the checkpoint,
// or recovered from the projection itself when the checkpoint is missing,
// falling back to the configured start block.
func (c *Crawler) nextBlock() (uint64, error) {
	blockNum, found, err := c.checkpoints.Get(c.cfg.ChainID)
	if err != nil {
		return 0, err
	}
	if found {
		return max(blockNum+1, c.cfg.StartBlock), nil
	}

	maxStored, found, err := c.txStore.MaxBlockNumber(c.cfg.ChainID)
	if err != nil {
		return 0, err
	}
	if found {
		c.log.Warnf("no checkpoint for chain %s, resuming after highest stored block %d",
			c.cfg.ChainID, maxStored)
		return max(maxStored+1, c.cfg.StartBlock), nil
	}

	return c.cfg.StartBlock, nil
}

// processWindow fetches, decodes and persists one block window. It returns
// the last block actually covered, which may be below the requested "to"
// when the provider forced a narrower log query.
func (c *Crawler) processWindow(ctx context.Context, from, to, head uint64) (uint64, error) {
	start := time.Now()

	logs, from, to, err := c.fetchLogs(ctx, from, to)
	if err != nil {
		return 0, err
	}

	parsed := c.registry.ParseAll(logs)

	// Headers are needed for every block carrying an event, plus the window
	// tail the next reorg probe compares against.
	need := make(map[uint64]struct{}, len(parsed))
	for _, ev := range parsed {
		need[ev.BlockNumber] = struct{}{}
	}
	tailFrom := from
	if to >= c.cfg.ReorgDepth {
		tailFrom = max(from, to-c.cfg.ReorgDepth+1)
	}
	for n := tailFrom; n <= to; n++ {
		need[n] = struct{}{}
	}

	entries, err := c.fetchHeaders(ctx, need)
	if err != nil {
		return 0, err
	}

	receipts, err := c.fetchReceipts(ctx, parsed)
	if err != nil {
		return 0, err
	}

	if err := c.persistWindow(parsed, entries, receipts, to, head); err != nil {
		return 0, err
	}

	// The cache only reflects committed state.
	for n, entry := range entries {
		c.cache.Put(n, entry)
	}
	if to > c.cfg.ReorgDepth {
		c.cache.Prune(to - c.cfg.ReorgDepth)
	}

	metrics.LastProcessedBlockSet(c.cfg.ChainID, to)
	metrics.BlocksProcessedInc(c.cfg.ChainID, to-from+1)
	metrics.BatchProcessingTimeLog(c.cfg.ChainID, time.Since(start))

	c.log.Debugf("processed window [%d, %d] with %d events in %v",
		from, to, len(parsed), time.Since(start))

	return to, nil
}

// persistWindow writes the window's events, the confirmation refresh and the
// checkpoint in one database transaction.
func (c *Crawler) persistWindow(
	parsed []*events.ParsedEvent,
	entries map[uint64]blockcache.Entry,
	receipts map[ethcommon.Hash]uint64,
	to, head uint64,
) error {
	unlock := c.maintenance.AcquireOperationLock()
	defer unlock()

	tx, err := c.txStore.DB().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			c.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	for _, ev := range parsed {
		row := c.rowFromEvent(ev, entries[ev.BlockNumber], receipts[ev.TxHash], head)

		inserted, err := c.txStore.UpsertTx(tx, row)
		if err != nil {
			return err
		}
		if inserted {
			metrics.EventsIngestedInc(c.cfg.ChainID, string(ev.Operation))
		}
	}

	if _, err := c.txStore.RefreshConfirmationsTx(tx, c.cfg.ChainID, head); err != nil {
		return err
	}

	if err := c.checkpoints.SetTx(tx, c.cfg.ChainID, to); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (c *Crawler) rowFromEvent(
	ev *events.ParsedEvent,
	entry blockcache.Entry,
	receiptStatus uint64,
	head uint64,
) *store.Transaction {
	confirmations := store.ComputeConfirmations(head, ev.BlockNumber, c.cfg.RequiredConfirmations)

	status := store.StatusPending
	switch {
	case receiptStatus == 0:
		status = store.StatusFailed
	case confirmations >= c.cfg.RequiredConfirmations:
		status = store.StatusConfirmed
	}

	return &store.Transaction{
		ChainID:              c.cfg.ChainID,
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
		BlockTimeMs:          entry.BlockTimeMs,
		Confirmations:        confirmations,
		RequireConfirmations: c.cfg.RequiredConfirmations,
		Status:               status,
	}
}
