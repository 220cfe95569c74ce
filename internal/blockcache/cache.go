// Package blockcache holds the recent block hashes one crawler instance uses
// for reorg detection. The cache is in-process state of a single crawler and
// is rebuilt lazily after a restart.
package blockcache

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Entry is the retained metadata for one block.
type Entry struct {
	Hash       common.Hash
	ParentHash common.Hash

	// BlockTimeMs is the block timestamp in milliseconds since epoch.
	BlockTimeMs int64
}

// EntryFromHeader builds a cache entry from a canonical header.
func EntryFromHeader(header *types.Header) Entry {
	return Entry{
		Hash:        header.Hash(),
		ParentHash:  header.ParentHash,
		BlockTimeMs: int64(header.Time) * 1000,
	}
}

// Cache maps block number to block metadata, bounded to the reorg window.
type Cache struct {
	mu      sync.Mutex
	entries map[uint64]Entry
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[uint64]Entry)}
}

// Get returns the entry for a block number.
func (c *Cache) Get(blockNum uint64) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[blockNum]
	return entry, ok
}

// Put records the entry for a block number. Idempotent; an existing entry is
// overwritten (the canonical RPC answer is authoritative).
func (c *Cache) Put(blockNum uint64, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[blockNum] = entry
}

// Prune removes entries with number <= keepAbove.
func (c *Cache) Prune(keepAbove uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for num := range c.entries {
		if num <= keepAbove {
			delete(c.entries, num)
		}
	}
}

// Drop removes entries with number >= fromInclusive. Used on reorg rollback.
func (c *Cache) Drop(fromInclusive uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for num := range c.entries {
		if num >= fromInclusive {
			delete(c.entries, num)
		}
	}
}

// Numbers returns the cached block numbers in no particular order.
func (c *Cache) Numbers() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	nums := make([]uint64, 0, len(c.entries))
	for num := range c.entries {
		nums = append(nums, num)
	}
	return nums
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
