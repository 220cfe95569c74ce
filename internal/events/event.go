package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Operation is the user-facing classification of a parsed event.
type Operation string

const (
	OperationDeposit  Operation = "deposit"
	OperationWithdraw Operation = "withdraw"
)

// ParsedEvent is a decoded Deposit or Withdraw log together with the log's
// block and transaction metadata.
type ParsedEvent struct {
	Operation Operation

	// User is the wallet address carried by the event.
	User common.Address

	// TokenAddress is nil when the event payload carries none.
	TokenAddress *common.Address

	// RawAmount is the uint256 amount as a decimal string (up to 78 digits).
	RawAmount string

	// Decimals is the token precision, defaulted to 18 when absent.
	Decimals uint8

	// Amount is RawAmount scaled down by 10^Decimals, fixed-scale decimal.
	Amount string

	ContractAddress common.Address
	BlockNumber     uint64
	TxHash          common.Hash
	BlockHash       common.Hash
	LogIndex        uint
}

// Parser decodes one event kind from a raw log.
type Parser interface {
	// Name is the on-chain event name this parser handles.
	Name() string

	// Topic is the keccak256 hash of the event signature.
	Topic() common.Hash

	// Parse decodes a raw log into a ParsedEvent.
	Parse(log *types.Log) (*ParsedEvent, error)
}
