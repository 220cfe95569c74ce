package rpc

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EthClient is the RPC surface the crawler and the fallback verifier consume.
// Implemented by internal/rpc.Client (single endpoint) and internal/rpc.Pool
// (failover over an endpoint list).
type EthClient interface {
	// GetHeadBlockNumber returns the current head block number.
	GetHeadBlockNumber(ctx context.Context) (uint64, error)

	// GetBlockHeader retrieves the header at the given height. Returns
	// (nil, nil) when the node has not yet seen the block.
	GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error)

	// GetTransactionReceipt retrieves the receipt for a transaction hash.
	// Returns (nil, nil) when the transaction is not on chain.
	GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	// GetLogs retrieves logs matching the given filter query.
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)

	// BatchGetBlockHeaders retrieves headers for multiple block numbers in
	// batched eth_getBlockByNumber calls. Missing blocks yield nil entries.
	BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error)

	// Close releases the underlying connections.
	Close()
}
