package events

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// Deposit and Withdraw carry the event signature plus two indexed
	// address params (user, tokenAddress).
	expectedTopicsCount = 3

	wordSize = 32

	// DefaultDecimals applies when the event payload omits decimals.
	DefaultDecimals = 18
)

// Event signatures:
//
//	Deposit(address indexed user, address indexed tokenAddress, uint256 amount, uint8 decimals)
//	Withdraw(address indexed user, address indexed tokenAddress, uint256 amount, uint8 decimals)
const (
	DepositSignature  = "Deposit(address,address,uint256,uint8)"
	WithdrawSignature = "Withdraw(address,address,uint256,uint8)"
)

// transferParser decodes Deposit/Withdraw logs; both share the same layout
// and differ only in name and resulting operation.
type transferParser struct {
	name      string
	topic     common.Hash
	operation Operation
}

// NewDepositParser creates the parser for Deposit events.
func NewDepositParser() Parser {
	return &transferParser{
		name:      "Deposit",
		topic:     crypto.Keccak256Hash([]byte(DepositSignature)),
		operation: OperationDeposit,
	}
}

// NewWithdrawParser creates the parser for Withdraw events.
func NewWithdrawParser() Parser {
	return &transferParser{
		name:      "Withdraw",
		topic:     crypto.Keccak256Hash([]byte(WithdrawSignature)),
		operation: OperationWithdraw,
	}
}

func (p *transferParser) Name() string {
	return p.name
}

func (p *transferParser) Topic() common.Hash {
	return p.topic
}

// Parse decodes a raw log. The data section carries the amount word and,
// when present, the decimals word; absent decimals default to 18.
func (p *transferParser) Parse(log *types.Log) (*ParsedEvent, error) {
	if len(log.Topics) != expectedTopicsCount {
		return nil, fmt.Errorf("invalid %s event: expected %d topics, got %d",
			p.name, expectedTopicsCount, len(log.Topics))
	}

	if len(log.Data) != wordSize && len(log.Data) != 2*wordSize {
		return nil, fmt.Errorf("invalid %s event: expected %d or %d bytes of data, got %d",
			p.name, wordSize, 2*wordSize, len(log.Data))
	}

	user := common.BytesToAddress(log.Topics[1].Bytes())

	var tokenAddress *common.Address
	if token := common.BytesToAddress(log.Topics[2].Bytes()); token != (common.Address{}) {
		tokenAddress = &token
	}

	amount := new(big.Int).SetBytes(log.Data[:wordSize])

	decimals := uint8(DefaultDecimals)
	if len(log.Data) == 2*wordSize {
		word := new(big.Int).SetBytes(log.Data[wordSize:])
		if !word.IsUint64() || word.Uint64() > 255 {
			return nil, fmt.Errorf("invalid %s event: decimals out of range", p.name)
		}
		decimals = uint8(word.Uint64())
	}

	return &ParsedEvent{
		Operation:       p.operation,
		User:            user,
		TokenAddress:    tokenAddress,
		RawAmount:       amount.String(),
		Decimals:        decimals,
		Amount:          FormatUnits(amount, decimals),
		ContractAddress: log.Address,
		BlockNumber:     log.BlockNumber,
		TxHash:          log.TxHash,
		BlockHash:       log.BlockHash,
		LogIndex:        log.Index,
	}, nil
}
