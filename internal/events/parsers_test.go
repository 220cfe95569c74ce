package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var (
	testUser     = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	testToken    = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	testContract = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
)

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func amountWord(amount *big.Int) []byte {
	return common.LeftPadBytes(amount.Bytes(), 32)
}

func depositLog(user, token common.Address, amount *big.Int, decimals *uint8) *types.Log {
	data := amountWord(amount)
	if decimals != nil {
		data = append(data, common.LeftPadBytes(big.NewInt(int64(*decimals)).Bytes(), 32)...)
	}

	return &types.Log{
		Address: testContract,
		Topics: []common.Hash{
			crypto.Keccak256Hash([]byte(DepositSignature)),
			addressTopic(user),
			addressTopic(token),
		},
		Data:        data,
		BlockNumber: 100,
		TxHash:      common.HexToHash("0x01"),
		BlockHash:   common.HexToHash("0x02"),
		Index:       3,
	}
}

func TestDepositParserParse(t *testing.T) {
	p := NewDepositParser()
	require.Equal(t, "Deposit", p.Name())
	require.Equal(t, crypto.Keccak256Hash([]byte(DepositSignature)), p.Topic())

	amount, _ := new(big.Int).SetString("1500000000000000000", 10)
	event, err := p.Parse(depositLog(testUser, testToken, amount, nil))
	require.NoError(t, err)

	require.Equal(t, OperationDeposit, event.Operation)
	require.Equal(t, testUser, event.User)
	require.NotNil(t, event.TokenAddress)
	require.Equal(t, testToken, *event.TokenAddress)
	require.Equal(t, "1500000000000000000", event.RawAmount)
	require.Equal(t, uint8(18), event.Decimals)
	require.Equal(t, "1.500000000000000000", event.Amount)
	require.Equal(t, testContract, event.ContractAddress)
	require.Equal(t, uint64(100), event.BlockNumber)
	require.Equal(t, uint(3), event.LogIndex)
}

func TestDepositParserExplicitDecimals(t *testing.T) {
	p := NewDepositParser()

	decimals := uint8(6)
	event, err := p.Parse(depositLog(testUser, testToken, big.NewInt(2_500_000), &decimals))
	require.NoError(t, err)

	require.Equal(t, uint8(6), event.Decimals)
	require.Equal(t, "2500000", event.RawAmount)
	require.Equal(t, "2.500000000000000000", event.Amount)
}

func TestDepositParserNativeToken(t *testing.T) {
	p := NewDepositParser()

	// a zero token address means the chain's native asset
	event, err := p.Parse(depositLog(testUser, common.Address{}, big.NewInt(1), nil))
	require.NoError(t, err)
	require.Nil(t, event.TokenAddress)
}

func TestWithdrawParserParse(t *testing.T) {
	p := NewWithdrawParser()
	require.Equal(t, "Withdraw", p.Name())

	log := depositLog(testUser, testToken, big.NewInt(7), nil)
	log.Topics[0] = crypto.Keccak256Hash([]byte(WithdrawSignature))

	event, err := p.Parse(log)
	require.NoError(t, err)
	require.Equal(t, OperationWithdraw, event.Operation)
	require.Equal(t, "7", event.RawAmount)
}

func TestParserRejectsMalformedLogs(t *testing.T) {
	p := NewDepositParser()

	t.Run("wrong topic count", func(t *testing.T) {
		log := depositLog(testUser, testToken, big.NewInt(1), nil)
		log.Topics = log.Topics[:2]

		_, err := p.Parse(log)
		require.Error(t, err)
		require.Contains(t, err.Error(), "expected 3 topics")
	})

	t.Run("short data", func(t *testing.T) {
		log := depositLog(testUser, testToken, big.NewInt(1), nil)
		log.Data = log.Data[:16]

		_, err := p.Parse(log)
		require.Error(t, err)
		require.Contains(t, err.Error(), "bytes of data")
	})

	t.Run("decimals out of range", func(t *testing.T) {
		log := depositLog(testUser, testToken, big.NewInt(1), nil)
		log.Data = append(log.Data, common.LeftPadBytes(big.NewInt(300).Bytes(), 32)...)

		_, err := p.Parse(log)
		require.Error(t, err)
		require.Contains(t, err.Error(), "decimals out of range")
	})
}
