package crawler

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/keeperlabs/depositwatch/internal/checkpoint"
	intcommon "github.com/keeperlabs/depositwatch/internal/common"
	"github.com/keeperlabs/depositwatch/internal/db"
	"github.com/keeperlabs/depositwatch/internal/events"
	"github.com/keeperlabs/depositwatch/internal/logger"
	"github.com/keeperlabs/depositwatch/internal/migrations"
	"github.com/keeperlabs/depositwatch/internal/rpc/rpctest"
	"github.com/keeperlabs/depositwatch/internal/store"
	"github.com/keeperlabs/depositwatch/internal/verifier"
	"github.com/keeperlabs/depositwatch/pkg/config"
	"github.com/stretchr/testify/require"
)

var (
	testContract = ethcommon.HexToAddress("0x2222222222222222222222222222222222222222")
	testUser     = ethcommon.HexToAddress("0x1111111111111111111111111111111111111111")
	depositTopic = crypto.Keccak256Hash([]byte(events.DepositSignature))
)

func testChainConfig() config.ChainConfig {
	cfg := config.ChainConfig{
		ChainID:               "1",
		Name:                  "testnet",
		RPCURLs:               []string{"http://localhost:8545"},
		ContractAddress:       testContract.Hex(),
		StartBlock:            1,
		RequiredConfirmations: 4,
		ReorgDepth:            3,
		BatchSize:             100,
		MaxRetries:            1,
	}
	cfg.ApplyDefaults()
	cfg.PollingInterval = intcommon.NewDuration(time.Millisecond)
	cfg.RetryDelay = intcommon.NewDuration(time.Millisecond)
	return cfg
}

func setupCrawler(t *testing.T, cfg config.ChainConfig) (*Crawler, *rpctest.Client, *store.TransactionStore, *checkpoint.Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "crawler.db")
	require.NoError(t, migrations.RunMigrations(dbPath))

	database, err := db.NewSQLiteDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	log := logger.NewNopLogger()
	txStore := store.NewTransactionStore(database, log)
	checkpoints := checkpoint.New(database, log)
	fake := rpctest.NewClient()

	c := New(cfg, fake, txStore, checkpoints, &db.NoOpMaintenance{}, log)
	return c, fake, txStore, checkpoints
}

// extendChain installs canonical headers for [from, to] linked to parent,
// returning the hash of the last installed header. fork disambiguates
// competing branches at the same heights.
func extendChain(fake *rpctest.Client, parent ethcommon.Hash, from, to uint64, fork byte) ethcommon.Hash {
	for n := from; n <= to; n++ {
		header := &types.Header{
			ParentHash: parent,
			Number:     new(big.Int).SetUint64(n),
			Time:       1_700_000_000 + n,
			Extra:      []byte{fork},
		}
		fake.SetHeader(header)
		parent = header.Hash()
	}
	fake.SetHead(to)
	return parent
}

func headerHash(fake *rpctest.Client, blockNum uint64) ethcommon.Hash {
	header, err := fake.GetBlockHeader(context.Background(), blockNum)
	if err != nil || header == nil {
		return ethcommon.Hash{}
	}
	return header.Hash()
}

func addDeposit(fake *rpctest.Client, blockNum uint64, txHash ethcommon.Hash, amount *big.Int, receiptStatus uint64) {
	data := make([]byte, 32)
	amount.FillBytes(data)

	fake.AddLog(types.Log{
		Address: testContract,
		Topics: []ethcommon.Hash{
			depositTopic,
			ethcommon.BytesToHash(testUser.Bytes()),
			{},
		},
		Data:        data,
		BlockNumber: blockNum,
		TxHash:      txHash,
		BlockHash:   headerHash(fake, blockNum),
	})
	fake.SetReceipt(&types.Receipt{
		TxHash:      txHash,
		Status:      receiptStatus,
		BlockNumber: new(big.Int).SetUint64(blockNum),
	})
}

func TestCrawler_IngestsDeposit(t *testing.T) {
	t.Parallel()

	c, fake, txStore, checkpoints := setupCrawler(t, testChainConfig())

	extendChain(fake, ethcommon.Hash{}, 1, 5, 'a')
	txHash := ethcommon.HexToHash("0xd1")
	addDeposit(fake, 3, txHash, big.NewInt(1_500_000_000_000_000_000), types.ReceiptStatusSuccessful)

	require.NoError(t, c.runCycle(context.Background()))

	row, err := txStore.GetByTxHash("1", txHash)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, "deposit", row.Operation)
	require.Equal(t, testUser, row.Address)
	require.Equal(t, "1500000000000000000", row.RawAmount)
	require.Equal(t, "1.500000000000000000", row.Amount)
	require.Equal(t, uint64(3), row.BlockNumber)
	// head 5, block 3: 3 confirmations of 4 required
	require.Equal(t, uint64(3), row.Confirmations)
	require.Equal(t, store.StatusPending, row.Status)
	require.Equal(t, int64(1_700_000_003_000), row.BlockTimeMs)

	cp, found, err := checkpoints.Get("1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(5), cp)
}

func TestCrawler_ConfirmationProgression(t *testing.T) {
	t.Parallel()

	c, fake, txStore, _ := setupCrawler(t, testChainConfig())

	last := extendChain(fake, ethcommon.Hash{}, 1, 5, 'a')
	txHash := ethcommon.HexToHash("0xd2")
	addDeposit(fake, 3, txHash, big.NewInt(1), types.ReceiptStatusSuccessful)

	require.NoError(t, c.runCycle(context.Background()))

	// Head advances past the confirmation threshold
	extendChain(fake, last, 6, 7, 'a')
	require.NoError(t, c.runCycle(context.Background()))

	row, err := txStore.GetByTxHash("1", txHash)
	require.NoError(t, err)
	require.Equal(t, store.StatusConfirmed, row.Status)
	require.Equal(t, uint64(4), row.Confirmations)
}

func TestCrawler_FailedReceipt(t *testing.T) {
	t.Parallel()

	c, fake, txStore, _ := setupCrawler(t, testChainConfig())

	last := extendChain(fake, ethcommon.Hash{}, 1, 5, 'a')
	txHash := ethcommon.HexToHash("0xd3")
	addDeposit(fake, 2, txHash, big.NewInt(7), types.ReceiptStatusFailed)

	require.NoError(t, c.runCycle(context.Background()))

	row, err := txStore.GetByTxHash("1", txHash)
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, row.Status)

	// A failed transaction never flips to confirmed
	extendChain(fake, last, 6, 12, 'a')
	require.NoError(t, c.runCycle(context.Background()))

	row, err = txStore.GetByTxHash("1", txHash)
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, row.Status)
}

func TestCrawler_Idempotent(t *testing.T) {
	t.Parallel()

	c, fake, txStore, _ := setupCrawler(t, testChainConfig())

	extendChain(fake, ethcommon.Hash{}, 1, 5, 'a')
	txHash := ethcommon.HexToHash("0xd4")
	addDeposit(fake, 3, txHash, big.NewInt(42), types.ReceiptStatusSuccessful)

	require.NoError(t, c.runCycle(context.Background()))

	// Replay the same window as after a crash between commit and restart
	c.cache.Drop(0)
	processedTo, err := c.processWindow(context.Background(), 1, 5, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(5), processedTo)

	rows, err := txStore.GetByBlockRange("1", 0, 100)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestCrawler_ReorgRollbackAndRecrawl(t *testing.T) {
	t.Parallel()

	c, fake, txStore, checkpoints := setupCrawler(t, testChainConfig())

	extendChain(fake, ethcommon.Hash{}, 1, 5, 'a')
	orphaned := ethcommon.HexToHash("0xd5")
	addDeposit(fake, 4, orphaned, big.NewInt(10), types.ReceiptStatusSuccessful)

	require.NoError(t, c.runCycle(context.Background()))

	// Reorg blocks 4-5: competing branch wins, the old deposit vanishes and
	// a different one lands at the same height.
	fake.RemoveLogsFrom(4)
	extendChain(fake, headerHash(fake, 3), 4, 5, 'b')
	replacement := ethcommon.HexToHash("0xd6")
	addDeposit(fake, 4, replacement, big.NewInt(11), types.ReceiptStatusSuccessful)

	err := c.runCycle(context.Background())
	var reorgErr *ReorgDetectedError
	require.ErrorAs(t, err, &reorgErr)
	require.Equal(t, uint64(4), reorgErr.FirstReorgBlock)

	require.NoError(t, c.handleReorg(context.Background(), reorgErr))

	// Orphaned row gone, checkpoint rewound
	row, err := txStore.GetByTxHash("1", orphaned)
	require.NoError(t, err)
	require.Nil(t, row)

	cp, found, err := checkpoints.Get("1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(3), cp)

	// Next cycle re-crawls the replaced range
	require.NoError(t, c.runCycle(context.Background()))

	row, err = txStore.GetByTxHash("1", replacement)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, uint64(4), row.BlockNumber)

	cp, _, err = checkpoints.Get("1")
	require.NoError(t, err)
	require.Equal(t, uint64(5), cp)
}

func TestCrawler_LaggingHeadKeepsVerifierProgress(t *testing.T) {
	t.Parallel()

	cfg := testChainConfig()
	c, fake, txStore, checkpoints := setupCrawler(t, cfg)

	extendChain(fake, ethcommon.Hash{}, 1, 25, 'a')

	txHash := ethcommon.HexToHash("0xd9")
	data := make([]byte, 32)
	big.NewInt(9).FillBytes(data)
	depositLog := types.Log{
		Address: testContract,
		Topics: []ethcommon.Hash{
			depositTopic,
			ethcommon.BytesToHash(testUser.Bytes()),
			{},
		},
		Data:        data,
		BlockNumber: 8,
		TxHash:      txHash,
		BlockHash:   headerHash(fake, 8),
	}
	fake.AddLog(depositLog)
	fake.SetReceipt(&types.Receipt{
		TxHash:      txHash,
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(8),
		Logs:        []*types.Log{&depositLog},
	})

	// The verifier recovers the event while the head is at 25: fully confirmed
	v := verifier.New(cfg, fake, txStore, &db.NoOpMaintenance{}, logger.NewNopLogger())
	result, err := v.Verify(context.Background(), txHash)
	require.NoError(t, err)
	require.True(t, result.Found)
	require.Equal(t, store.StatusConfirmed, result.Transaction.Status)
	require.Equal(t, uint64(4), result.Transaction.Confirmations)

	// The crawler then re-observes the block through an endpoint whose head
	// lags the one the verifier used
	inTx := func(fn func(tx *sql.Tx) error) {
		tx, err := txStore.DB().Begin()
		require.NoError(t, err)
		require.NoError(t, fn(tx))
		require.NoError(t, tx.Commit())
	}
	inTx(func(tx *sql.Tx) error { return checkpoints.SetTx(tx, "1", 7) })
	fake.SetHead(10)

	require.NoError(t, c.runCycle(context.Background()))

	row, err := txStore.GetByTxHash("1", txHash)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, store.StatusConfirmed, row.Status)
	require.Equal(t, uint64(4), row.Confirmations)
}

func TestCrawler_SplitsTooLargeWindows(t *testing.T) {
	t.Parallel()

	c, fake, txStore, checkpoints := setupCrawler(t, testChainConfig())

	extendChain(fake, ethcommon.Hash{}, 1, 9, 'a')
	txHash := ethcommon.HexToHash("0xd7")
	addDeposit(fake, 2, txHash, big.NewInt(5), types.ReceiptStatusSuccessful)

	// First eth_getLogs call is rejected as too large; the crawler must
	// halve the window and continue from where the narrowed window ended.
	fake.NextLogsErr = errors.New("query returned more than 10000 results")

	require.NoError(t, c.runCycle(context.Background()))

	row, err := txStore.GetByTxHash("1", txHash)
	require.NoError(t, err)
	require.NotNil(t, row)

	cp, found, err := checkpoints.Get("1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(9), cp)
}

func TestCrawler_NoNewBlocks(t *testing.T) {
	t.Parallel()

	c, fake, _, checkpoints := setupCrawler(t, testChainConfig())

	extendChain(fake, ethcommon.Hash{}, 1, 3, 'a')
	require.NoError(t, c.runCycle(context.Background()))

	// Head unchanged: the cycle is a no-op
	require.NoError(t, c.runCycle(context.Background()))

	cp, found, err := checkpoints.Get("1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(3), cp)
}

func TestCrawler_ColdStartRecoversFromProjection(t *testing.T) {
	t.Parallel()

	cfg := testChainConfig()
	c, fake, _, checkpoints := setupCrawler(t, cfg)

	extendChain(fake, ethcommon.Hash{}, 1, 5, 'a')
	txHash := ethcommon.HexToHash("0xd8")
	addDeposit(fake, 3, txHash, big.NewInt(2), types.ReceiptStatusSuccessful)

	require.NoError(t, c.runCycle(context.Background()))

	// Checkpoint lost, rows survive: resume after the highest stored block
	require.NoError(t, checkpoints.Delete("1"))

	next, err := c.nextBlock()
	require.NoError(t, err)
	require.Equal(t, uint64(4), next)
}

func TestCrawler_RunStop(t *testing.T) {
	t.Parallel()

	c, fake, _, _ := setupCrawler(t, testChainConfig())
	extendChain(fake, ethcommon.Hash{}, 1, 2, 'a')

	done := make(chan error, 1)
	go func() {
		done <- c.Run(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	c.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("crawler did not stop")
	}
}
