package crawler

import "fmt"

// ReorgDetectedError reports a divergence between the block hashes we
// processed and the hashes the chain now considers canonical.
type ReorgDetectedError struct {
	// FirstReorgBlock is the lowest block whose stored hash no longer
	// matches the canonical chain. Rollback removes it and everything above.
	FirstReorgBlock uint64

	// Depth is the number of processed blocks the divergence covers.
	Depth uint64
}

func (e *ReorgDetectedError) Error() string {
	return fmt.Sprintf("chain reorganization detected from block %d (depth %d)",
		e.FirstReorgBlock, e.Depth)
}
