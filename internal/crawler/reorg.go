package crawler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/keeperlabs/depositwatch/internal/blockcache"
	"github.com/keeperlabs/depositwatch/internal/metrics"
)

// detectReorg compares the cached block hashes against the canonical chain
// and returns a ReorgDetectedError anchored at the deepest divergent block.
// The probe covers at most ReorgDepth recent blocks; an empty cache (fresh
// start) probes nothing.
func (c *Crawler) detectReorg(ctx context.Context) (*ReorgDetectedError, error) {
	cached := c.cachedSuffix()
	if len(cached) == 0 {
		return nil, nil
	}

	canonical, err := c.client.BatchGetBlockHeaders(ctx, cached)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch canonical headers: %w", err)
	}

	for i, blockNum := range cached {
		entry, ok := c.cache.Get(blockNum)
		if !ok {
			continue
		}

		// A canonical header that disappeared means the chain shrank below
		// this height; treat it as divergence too.
		if canonical[i] == nil || canonical[i].Hash() != entry.Hash {
			top := cached[len(cached)-1]
			return &ReorgDetectedError{
				FirstReorgBlock: blockNum,
				Depth:           top - blockNum + 1,
			}, nil
		}

		// Matching hash: the canonical answer is authoritative for the rest
		// of the entry too.
		c.cache.Put(blockNum, blockcache.EntryFromHeader(canonical[i]))
	}

	return nil, nil
}

// cachedSuffix returns the cached block numbers to probe, ascending, capped
// at ReorgDepth entries from the top.
func (c *Crawler) cachedSuffix() []uint64 {
	nums := c.cache.Numbers()
	slices.Sort(nums)

	if depth := int(c.cfg.ReorgDepth); len(nums) > depth {
		nums = nums[len(nums)-depth:]
	}
	return nums
}

// handleReorg atomically removes every projected row at or above the
// divergence point and rewinds the checkpoint, then drops the stale cache
// suffix so the next cycle re-crawls the range.
func (c *Crawler) handleReorg(ctx context.Context, reorgErr *ReorgDetectedError) error {
	base := reorgErr.FirstReorgBlock

	c.log.Warnf("handling reorg on chain %s: rolling back from block %d (depth %d)",
		c.cfg.ChainID, base, reorgErr.Depth)

	unlock := c.maintenance.AcquireOperationLock()
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := c.txStore.DB().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			c.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	deleted, err := c.txStore.DeleteFromTx(tx, c.cfg.ChainID, base)
	if err != nil {
		return err
	}

	// Only rewind; a checkpoint already below the divergence stays put.
	current, found, err := c.checkpoints.Get(c.cfg.ChainID)
	if err != nil {
		return err
	}
	if found && current >= base {
		if base == 0 {
			err = c.checkpoints.DeleteTx(tx, c.cfg.ChainID)
		} else {
			err = c.checkpoints.SetTx(tx, c.cfg.ChainID, base-1)
		}
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	c.cache.Drop(base)

	metrics.ReorgDetectedLog(c.cfg.ChainID, reorgErr.Depth)
	metrics.RowsRolledBackInc(c.cfg.ChainID, deleted)

	c.log.Infof("reorg rollback complete on chain %s: deleted %d rows, checkpoint rewound below block %d",
		c.cfg.ChainID, deleted, base)

	return nil
}
