// Package rpctest provides a scripted in-memory EthClient for tests.
package rpctest

import (
	"context"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	pkgrpc "github.com/keeperlabs/depositwatch/pkg/rpc"
)

var _ pkgrpc.EthClient = (*Client)(nil)

// Client is a fake EthClient backed by an in-memory canonical chain.
// Tests mutate the chain between crawler cycles to simulate head advances
// and reorgs.
type Client struct {
	mu       sync.Mutex
	head     uint64
	headers  map[uint64]*types.Header
	logs     []types.Log
	receipts map[common.Hash]*types.Receipt

	// Scripted one-shot errors, returned once then cleared.
	NextHeadErr    error
	NextLogsErr    error
	NextHeaderErr  error
	NextReceiptErr error
}

// NewClient creates an empty fake chain.
func NewClient() *Client {
	return &Client{
		headers:  make(map[uint64]*types.Header),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

// SetHead sets the current head block number.
func (c *Client) SetHead(head uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = head
}

// SetHeader installs (or replaces, for reorg simulation) the canonical header
// at its height.
func (c *Client) SetHeader(header *types.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[header.Number.Uint64()] = header
}

// AddLog appends a log to the canonical log set.
func (c *Client) AddLog(log types.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, log)
}

// RemoveLogsFrom drops logs at or above the given height (reorg simulation).
func (c *Client) RemoveLogsFrom(blockNum uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.logs[:0]
	for _, l := range c.logs {
		if l.BlockNumber < blockNum {
			kept = append(kept, l)
		}
	}
	c.logs = kept
}

// SetReceipt installs a receipt by transaction hash.
func (c *Client) SetReceipt(receipt *types.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[receipt.TxHash] = receipt
}

func (c *Client) GetHeadBlockNumber(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.NextHeadErr; err != nil {
		c.NextHeadErr = nil
		return 0, err
	}
	return c.head, nil
}

func (c *Client) GetBlockHeader(_ context.Context, blockNum uint64) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.NextHeaderErr; err != nil {
		c.NextHeaderErr = nil
		return nil, err
	}
	return c.headers[blockNum], nil
}

func (c *Client) GetTransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.NextReceiptErr; err != nil {
		c.NextReceiptErr = nil
		return nil, err
	}
	return c.receipts[txHash], nil
}

func (c *Client) GetLogs(_ context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.NextLogsErr; err != nil {
		c.NextLogsErr = nil
		return nil, err
	}

	var from, to uint64
	if query.FromBlock != nil {
		from = query.FromBlock.Uint64()
	}
	if query.ToBlock != nil {
		to = query.ToBlock.Uint64()
	} else {
		to = c.head
	}

	var out []types.Log
	for _, l := range c.logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if len(query.Addresses) > 0 && !slices.Contains(query.Addresses, l.Address) {
			continue
		}
		if len(query.Topics) > 0 && len(query.Topics[0]) > 0 {
			if len(l.Topics) == 0 || !slices.Contains(query.Topics[0], l.Topics[0]) {
				continue
			}
		}
		out = append(out, l)
	}
	return out, nil
}

func (c *Client) BatchGetBlockHeaders(_ context.Context, blockNums []uint64) ([]*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.NextHeaderErr; err != nil {
		c.NextHeaderErr = nil
		return nil, err
	}
	results := make([]*types.Header, len(blockNums))
	for i, n := range blockNums {
		results[i] = c.headers[n]
	}
	return results, nil
}

func (c *Client) Close() {}
