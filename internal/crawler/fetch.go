package crawler

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/keeperlabs/depositwatch/internal/blockcache"
	"github.com/keeperlabs/depositwatch/internal/events"
	"github.com/keeperlabs/depositwatch/internal/rpc"
	"golang.org/x/sync/errgroup"
)

// fetchLogs queries the watched contract's logs for the window, narrowing
// the range when the provider rejects it as too large. The returned from/to
// describe the range actually covered.
func (c *Crawler) fetchLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, uint64, uint64, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []ethcommon.Address{c.contract},
		Topics:    [][]ethcommon.Hash{c.registry.Topics()},
	}

	logs, err := c.client.GetLogs(ctx, query)
	if err != nil {
		ok, errData := rpc.IsTooManyResultsError(err)
		if !ok {
			return nil, 0, 0, err
		}

		var newFrom, newTo uint64
		if suggestedFrom, suggestedTo, ok := rpc.ParseSuggestedBlockRange(errData); ok &&
			suggestedFrom == fromBlock && suggestedTo >= fromBlock && suggestedTo < toBlock {
			c.log.Infof("too many logs, retrying with suggested block range [%d, %d] (original [%d, %d])",
				suggestedFrom, suggestedTo, fromBlock, toBlock)
			newFrom, newTo = suggestedFrom, suggestedTo
		} else {
			mid := (fromBlock + toBlock) / 2
			if mid == fromBlock {
				return nil, 0, 0, fmt.Errorf("cannot split range further, single block %d has too many logs", fromBlock)
			}

			c.log.Infof("too many logs, retrying with halved block range [%d, %d] (original [%d, %d])",
				fromBlock, mid, fromBlock, toBlock)
			newFrom, newTo = fromBlock, mid
		}

		return c.fetchLogs(ctx, newFrom, newTo)
	}

	return logs, fromBlock, toBlock, nil
}

// fetchHeaders resolves block metadata for the needed heights, serving from
// the cache and fan-out fetching the rest with bounded concurrency.
func (c *Crawler) fetchHeaders(ctx context.Context, need map[uint64]struct{}) (map[uint64]blockcache.Entry, error) {
	entries := make(map[uint64]blockcache.Entry, len(need))

	var missing []uint64
	for blockNum := range need {
		if entry, ok := c.cache.Get(blockNum); ok {
			entries[blockNum] = entry
			continue
		}
		missing = append(missing, blockNum)
	}
	if len(missing) == 0 {
		return entries, nil
	}
	slices.Sort(missing)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.BlockFetchConcurrency)

	for _, blockNum := range missing {
		g.Go(func() error {
			header, err := c.client.GetBlockHeader(gctx, blockNum)
			if err != nil {
				return fmt.Errorf("failed to fetch header for block %d: %w", blockNum, err)
			}
			if header == nil {
				return fmt.Errorf("block %d not found", blockNum)
			}

			mu.Lock()
			entries[blockNum] = blockcache.EntryFromHeader(header)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return entries, nil
}

// fetchReceipts resolves the execution status for every event transaction in
// the batch. The result maps each transaction hash to its receipt status.
func (c *Crawler) fetchReceipts(ctx context.Context, parsed []*events.ParsedEvent) (map[ethcommon.Hash]uint64, error) {
	unique := make(map[ethcommon.Hash]struct{}, len(parsed))
	for _, ev := range parsed {
		unique[ev.TxHash] = struct{}{}
	}
	if len(unique) == 0 {
		return nil, nil
	}

	statuses := make(map[ethcommon.Hash]uint64, len(unique))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.BlockFetchConcurrency)

	for txHash := range unique {
		g.Go(func() error {
			receipt, err := c.client.GetTransactionReceipt(gctx, txHash)
			if err != nil {
				return fmt.Errorf("failed to fetch receipt for tx %s: %w", txHash.Hex(), err)
			}
			if receipt == nil {
				return fmt.Errorf("receipt for tx %s not found", txHash.Hex())
			}

			mu.Lock()
			statuses[txHash] = receipt.Status
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return statuses, nil
}
