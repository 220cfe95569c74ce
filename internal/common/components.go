package common

const (
	ComponentCrawler     = "crawler"
	ComponentRPCPool     = "rpc-pool"
	ComponentTxStore     = "tx-store"
	ComponentCheckpoint  = "checkpoint"
	ComponentBlockCache  = "block-cache"
	ComponentVerifier    = "verifier"
	ComponentParser      = "event-parser"
	ComponentMaintenance = "maintenance"
)

var AllComponents = map[string]struct{}{
	ComponentCrawler:     {},
	ComponentRPCPool:     {},
	ComponentTxStore:     {},
	ComponentCheckpoint:  {},
	ComponentBlockCache:  {},
	ComponentVerifier:    {},
	ComponentParser:      {},
	ComponentMaintenance: {},
}
