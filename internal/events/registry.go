package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/keeperlabs/depositwatch/internal/logger"
)

// Registry is the dispatch table from event name (and topic) to parser.
// New event kinds plug in by registration; the crawler never changes.
type Registry struct {
	log     *logger.Logger
	byName  map[string]Parser
	byTopic map[common.Hash]Parser
	order   []string
}

// NewRegistry creates a registry pre-loaded with the Deposit and Withdraw
// parsers.
func NewRegistry(log *logger.Logger) *Registry {
	r := &Registry{
		log:     log,
		byName:  make(map[string]Parser),
		byTopic: make(map[common.Hash]Parser),
	}

	r.Register(NewDepositParser())
	r.Register(NewWithdrawParser())

	return r
}

// Register adds a parser to the registry, replacing any previous parser for
// the same event name.
func (r *Registry) Register(p Parser) {
	if _, exists := r.byName[p.Name()]; !exists {
		r.order = append(r.order, p.Name())
	}
	r.byName[p.Name()] = p
	r.byTopic[p.Topic()] = p
}

// EventNames returns the registered event names in registration order.
func (r *Registry) EventNames() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Topics returns the topic hashes of all registered events, used to build
// the eth_getLogs filter.
func (r *Registry) Topics() []common.Hash {
	topics := make([]common.Hash, 0, len(r.order))
	for _, name := range r.order {
		topics = append(topics, r.byName[name].Topic())
	}
	return topics
}

// ParserForTopic returns the parser for a topic hash.
func (r *Registry) ParserForTopic(topic common.Hash) (Parser, bool) {
	p, ok := r.byTopic[topic]
	return p, ok
}

// ParseAll decodes every log it recognizes. Logs with unknown event topics
// are skipped with a warning, decode failures are skipped with an error log;
// the batch never aborts.
func (r *Registry) ParseAll(logs []types.Log) []*ParsedEvent {
	parsed := make([]*ParsedEvent, 0, len(logs))

	for i := range logs {
		log := &logs[i]
		if len(log.Topics) == 0 {
			r.log.Warnf("skipping log without topics at block %d, tx %s", log.BlockNumber, log.TxHash.Hex())
			continue
		}

		parser, ok := r.ParserForTopic(log.Topics[0])
		if !ok {
			r.log.Warnf("skipping unknown event topic %s at block %d, tx %s",
				log.Topics[0].Hex(), log.BlockNumber, log.TxHash.Hex())
			continue
		}

		event, err := parser.Parse(log)
		if err != nil {
			r.log.Errorf("failed to parse %s event at block %d, tx %s: %v",
				parser.Name(), log.BlockNumber, log.TxHash.Hex(), err)
			continue
		}

		parsed = append(parsed, event)
	}

	return parsed
}
