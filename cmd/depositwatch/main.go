package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/keeperlabs/depositwatch/internal/checkpoint"
	"github.com/keeperlabs/depositwatch/internal/common"
	"github.com/keeperlabs/depositwatch/internal/config"
	"github.com/keeperlabs/depositwatch/internal/crawler"
	"github.com/keeperlabs/depositwatch/internal/db"
	"github.com/keeperlabs/depositwatch/internal/logger"
	"github.com/keeperlabs/depositwatch/internal/metrics"
	"github.com/keeperlabs/depositwatch/internal/migrations"
	"github.com/keeperlabs/depositwatch/internal/rpc"
	"github.com/keeperlabs/depositwatch/internal/store"
	"github.com/keeperlabs/depositwatch/internal/verifier"
	pkgconfig "github.com/keeperlabs/depositwatch/pkg/config"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "depositwatch",
	Short: "depositwatch - contract deposit/withdraw event crawler",
	Long: `depositwatch ingests a contract's Deposit and Withdraw events into a
reorg-safe relational projection. It crawls configured chains in block
windows, tracks confirmations, rolls back reorganized blocks and answers
on-demand transaction lookups.`,
	Version: version,
	RunE:    runCrawlers,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <chain-id> <tx-hash>",
	Short: "Verify a transaction against the projection and the chain",
	Long: `Verify looks up a transaction hash in the local projection and, on a
miss, queries the chain directly. A recovered event is written back into
the projection.`,
	Args: cobra.ExactArgs(2),
	RunE: runVerify,
}

var chainsCmd = &cobra.Command{
	Use:   "chains",
	Short: "List configured chains",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		for _, chain := range cfg.Chains {
			active := " "
			if cfg.Network == "" || cfg.Network == chain.ChainID {
				active = "*"
			}
			fmt.Printf("%s %s (%s): contract %s, start block %d, %d endpoint(s)\n",
				active, chain.ChainID, chain.Name, chain.ContractAddress,
				chain.StartBlock, len(chain.RPCURLs))
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(chainsCmd)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	return ctx, cancel
}

// openDatabase migrates and opens the shared database and the stores on top
// of it.
func openDatabase(cfg *pkgconfig.Config) (*store.TransactionStore, *checkpoint.Store, db.Maintenance, func(), error) {
	if err := migrations.RunMigrations(cfg.DB.Path); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	database, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to create database: %w", err)
	}

	maintenance := db.NewMaintenanceCoordinator(
		cfg.DB.Path,
		database,
		cfg.Maintenance,
		logger.NewComponentLoggerFromConfig(common.ComponentMaintenance, cfg.Logging),
	)

	txStore := store.NewTransactionStore(
		database,
		logger.NewComponentLoggerFromConfig(common.ComponentTxStore, cfg.Logging),
	)

	checkpoints := checkpoint.New(
		database,
		logger.NewComponentLoggerFromConfig(common.ComponentCheckpoint, cfg.Logging),
	)

	return txStore, checkpoints, maintenance, func() { database.Close() }, nil
}

func runCrawlers(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	log := logger.NewComponentLoggerFromConfig(common.ComponentCrawler, cfg.Logging)

	var metricsServer *metrics.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics, log)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(context.Background()); err != nil {
				log.Warnf("Failed to stop metrics server: %v", err)
			}
		}()
	}

	txStore, checkpoints, maintenance, closeDB, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := maintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start maintenance: %w", err)
	}
	defer func() {
		if err := maintenance.Stop(); err != nil {
			log.Warnf("Failed to stop maintenance: %v", err)
		}
	}()

	chains := cfg.ActiveChains()
	log.Infof("Starting depositwatch v%s with %d chain(s)", version, len(chains))

	g, gctx := errgroup.WithContext(ctx)

	for _, chain := range chains {
		chainLog := logger.NewComponentLoggerFromConfig(common.ComponentCrawler, cfg.Logging)

		pool, err := rpc.NewPool(
			chain.RPCURLs,
			chain.RPCTimeout.Duration,
			logger.NewComponentLoggerFromConfig(common.ComponentRPCPool, cfg.Logging),
		)
		if err != nil {
			return fmt.Errorf("failed to create RPC pool for chain %s: %w", chain.ChainID, err)
		}
		defer pool.Close()

		c := crawler.New(chain, pool, txStore, checkpoints, maintenance, chainLog)
		g.Go(func() error {
			return c.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("crawler failed: %w", err)
	}

	log.Info("depositwatch stopped successfully")
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	chainID, txHashArg := args[0], args[1]

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	chain, ok := cfg.ChainByID(chainID)
	if !ok {
		return fmt.Errorf("no configured chain with chain_id '%s'", chainID)
	}

	if len(txHashArg) != 66 || !strings.HasPrefix(txHashArg, "0x") {
		return fmt.Errorf("'%s' is not a transaction hash", txHashArg)
	}
	txHash := ethcommon.HexToHash(txHashArg)

	ctx, cancel := signalContext()
	defer cancel()

	txStore, _, maintenance, closeDB, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	pool, err := rpc.NewPool(
		chain.RPCURLs,
		chain.RPCTimeout.Duration,
		logger.NewComponentLoggerFromConfig(common.ComponentRPCPool, cfg.Logging),
	)
	if err != nil {
		return fmt.Errorf("failed to create RPC pool: %w", err)
	}
	defer pool.Close()

	v := verifier.New(*chain, pool, txStore, maintenance,
		logger.NewComponentLoggerFromConfig(common.ComponentVerifier, cfg.Logging))

	result, err := v.Verify(ctx, txHash)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	if !result.Found {
		fmt.Printf("Not found: %s\n", result.Message)
		return nil
	}

	row := result.Transaction
	fmt.Printf("Transaction %s on chain %s\n", row.TxHash.Hex(), row.ChainID)
	fmt.Printf("  operation:     %s\n", row.Operation)
	fmt.Printf("  user:          %s\n", row.Address.Hex())
	fmt.Printf("  amount:        %s (raw %s, %d decimals)\n", row.Amount, row.RawAmount, row.TokenDecimals)
	if row.TokenAddress != nil {
		fmt.Printf("  token:         %s\n", row.TokenAddress.Hex())
	}
	fmt.Printf("  contract:      %s\n", row.ContractAddress.Hex())
	fmt.Printf("  block:         %d (%s)\n", row.BlockNumber, row.BlockHash.Hex())
	fmt.Printf("  confirmations: %d/%d\n", row.Confirmations, row.RequireConfirmations)
	fmt.Printf("  status:        %s\n", row.Status)

	return nil
}
