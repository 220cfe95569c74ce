package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/keeperlabs/depositwatch/internal/logger"
	pkgrpc "github.com/keeperlabs/depositwatch/pkg/rpc"
)

// Compile-time check to ensure Pool implements pkgrpc.EthClient interface.
var _ pkgrpc.EthClient = (*Pool)(nil)

// Pool is a façade over an ordered list of RPC endpoints for one chain.
// Each operation runs against the endpoints in order: the first successful
// result wins, recoverable failures advance to the next endpoint, any other
// error propagates immediately. Connections are memoized per endpoint.
type Pool struct {
	endpoints   []string
	callTimeout time.Duration
	log         *logger.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// NewPool creates a pool over the given endpoints. Connections are dialed
// lazily on first use so a dead endpoint at startup does not block the rest.
func NewPool(endpoints []string, callTimeout time.Duration, log *logger.Logger) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}

	return &Pool{
		endpoints:   endpoints,
		callTimeout: callTimeout,
		log:         log,
		clients:     make(map[string]*Client),
	}, nil
}

// client returns the memoized client for an endpoint, dialing on first use.
func (p *Pool) client(ctx context.Context, endpoint string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[endpoint]; ok {
		return c, nil
	}

	c, err := NewClient(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	p.clients[endpoint] = c

	return c, nil
}

// evict drops a memoized client whose transport failed so the next attempt
// redials instead of reusing a dead connection.
func (p *Pool) evict(endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[endpoint]; ok {
		c.Close()
		delete(p.clients, endpoint)
	}
}

// do runs fn against the endpoints in order until one succeeds.
// Each attempt gets its own per-call deadline.
func (p *Pool) do(ctx context.Context, operation string, fn func(ctx context.Context, c *Client) error) error {
	var lastErr error

	for _, endpoint := range p.endpoints {
		if err := ctx.Err(); err != nil {
			return err
		}

		client, err := p.client(ctx, endpoint)
		if err != nil {
			if !Recoverable(err) {
				return fmt.Errorf("%s: dial %s: %w", operation, endpoint, err)
			}
			RPCFailoverInc(operation)
			p.log.Warnf("failed to dial %s for %s, trying next endpoint: %v", endpoint, operation, err)
			lastErr = err
			continue
		}

		start := time.Now()
		callCtx := ctx
		var cancel context.CancelFunc
		if p.callTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.callTimeout)
		}
		err = fn(callCtx, client)
		if cancel != nil {
			cancel()
		}
		RPCMethodInc(operation)
		RPCMethodDuration(operation, time.Since(start))

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !Recoverable(err) {
			RPCMethodError(operation, "non_recoverable")
			return err
		}

		RPCMethodError(operation, "recoverable")
		RPCFailoverInc(operation)
		p.log.Warnf("%s failed on %s, trying next endpoint: %v", operation, endpoint, err)
		p.evict(endpoint)
		lastErr = err
	}

	return fmt.Errorf("%s: all %d endpoints failed: %w", operation, len(p.endpoints), lastErr)
}

// GetHeadBlockNumber returns the current head block number.
func (p *Pool) GetHeadBlockNumber(ctx context.Context) (uint64, error) {
	var result uint64
	err := p.do(ctx, "eth_blockNumber", func(ctx context.Context, c *Client) error {
		var err error
		result, err = c.GetHeadBlockNumber(ctx)
		return err
	})
	return result, err
}

// GetBlockHeader retrieves the header at the given height, or (nil, nil) when
// no endpoint has seen the block yet.
func (p *Pool) GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error) {
	var result *types.Header
	err := p.do(ctx, "eth_getBlockByNumber", func(ctx context.Context, c *Client) error {
		var err error
		result, err = c.GetBlockHeader(ctx, blockNum)
		return err
	})
	return result, err
}

// GetTransactionReceipt retrieves the receipt for a transaction hash, or
// (nil, nil) when the transaction is not on chain.
func (p *Pool) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var result *types.Receipt
	err := p.do(ctx, "eth_getTransactionReceipt", func(ctx context.Context, c *Client) error {
		var err error
		result, err = c.GetTransactionReceipt(ctx, txHash)
		return err
	})
	return result, err
}

// GetLogs retrieves logs matching the given filter query.
func (p *Pool) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var result []types.Log
	err := p.do(ctx, "eth_getLogs", func(ctx context.Context, c *Client) error {
		var err error
		result, err = c.GetLogs(ctx, query)
		return err
	})
	return result, err
}

// BatchGetBlockHeaders retrieves headers for multiple block numbers.
func (p *Pool) BatchGetBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error) {
	var result []*types.Header
	err := p.do(ctx, "eth_getBlockByNumber/batch", func(ctx context.Context, c *Client) error {
		var err error
		result, err = c.BatchGetBlockHeaders(ctx, blockNums)
		return err
	})
	return result, err
}

// Close closes all memoized connections.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for endpoint, client := range p.clients {
		client.Close()
		delete(p.clients, endpoint)
	}
}
