package rpc

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

const jsonRPCInternalError = -32603

// Recoverable reports whether an RPC error should trigger failover to the
// next endpoint. Anything not classified here propagates immediately.
//
// The classification is substring-based where providers give us nothing
// better; it is kept as a single predicate so it can be swapped for
// structured error codes when clients expose them.
func Recoverable(err error) bool {
	if err == nil {
		return false
	}

	// Parent cancellation is never something another endpoint can fix.
	if errors.Is(err, context.Canceled) {
		return false
	}

	// Per-call timeouts are recoverable (the pool wraps each call in its own
	// deadline).
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Network and connection errors
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	// Structured "internal" JSON-RPC errors
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == jsonRPCInternalError {
		return true
	}

	errStr := strings.ToLower(err.Error())

	// Rate limiting / throttling
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "throttle") {
		return true
	}

	// Pruned or otherwise missing history. "not found" for data the chain
	// head already covers means a lagging replica behind a load balancer.
	if strings.Contains(errStr, "pruned") ||
		strings.Contains(errStr, "missing trie node") ||
		strings.Contains(errStr, "state not available") ||
		strings.Contains(errStr, "not found") {
		return true
	}

	// Transport disconnects
	if strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "websocket: close") ||
		strings.Contains(errStr, "unexpected eof") ||
		strings.Contains(errStr, "disconnect") {
		return true
	}

	// Network detection failure on first call
	if strings.Contains(errStr, "could not detect network") ||
		strings.Contains(errStr, "failed to detect network") {
		return true
	}

	// Generic "internal" server-side failures
	if strings.Contains(errStr, "internal error") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") {
		return true
	}

	// Timeouts reported as plain strings
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return true
	}

	return false
}
