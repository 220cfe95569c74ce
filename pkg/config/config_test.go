package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validChain() ChainConfig {
	return ChainConfig{
		ChainID:               "1",
		RPCURLs:               []string{"https://rpc.example.com"},
		ContractAddress:       "0x1111111111111111111111111111111111111111",
		RequiredConfirmations: 12,
		ReorgDepth:            12,
		BatchSize:             100,
	}
}

func validConfig() *Config {
	return &Config{
		Chains: []ChainConfig{validChain()},
		DB:     DatabaseConfig{Path: "/tmp/test.db"},
	}
}

func TestChainConfigApplyDefaults(t *testing.T) {
	chain := ChainConfig{ChainID: "1"}
	chain.ApplyDefaults()

	require.Equal(t, uint64(12), chain.RequiredConfirmations)
	require.Equal(t, uint64(12), chain.ReorgDepth)
	require.Equal(t, uint64(100), chain.BatchSize)
	require.Equal(t, 500*time.Millisecond, chain.PollingInterval.Duration)
	require.Equal(t, 12*time.Second, chain.RestartDelay.Duration)
	require.Equal(t, 5, chain.MaxRetries)
	require.Equal(t, time.Second, chain.RetryDelay.Duration)
	require.Equal(t, 30*time.Second, chain.MaxRetryDelay.Duration)
	require.Equal(t, 20*time.Second, chain.RPCTimeout.Duration)
	require.Equal(t, 8, chain.BlockFetchConcurrency)
}

func TestChainConfigReorgDepthFollowsConfirmations(t *testing.T) {
	chain := ChainConfig{ChainID: "1", RequiredConfirmations: 20}
	chain.ApplyDefaults()

	require.Equal(t, uint64(20), chain.ReorgDepth)
}

func TestChainConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*ChainConfig)
		errMsg string
	}{
		{"missing chain id", func(c *ChainConfig) { c.ChainID = "" }, "chain_id is required"},
		{"no rpc urls", func(c *ChainConfig) { c.RPCURLs = nil }, "at least one rpc url"},
		{"missing contract", func(c *ChainConfig) { c.ContractAddress = "" }, "contract_address is required"},
		{"zero confirmations", func(c *ChainConfig) { c.RequiredConfirmations = 0 }, "required_confirmations"},
		{"zero reorg depth", func(c *ChainConfig) { c.ReorgDepth = 0 }, "reorg_depth"},
		{"zero batch size", func(c *ChainConfig) { c.BatchSize = 0 }, "batch_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := validChain()
			tt.modify(&chain)

			err := chain.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.errMsg)
		})
	}

	chain := validChain()
	require.NoError(t, chain.Validate())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	t.Run("no chains", func(t *testing.T) {
		cfg := validConfig()
		cfg.Chains = nil
		require.ErrorContains(t, cfg.Validate(), "at least one chain")
	})

	t.Run("missing db path", func(t *testing.T) {
		cfg := validConfig()
		cfg.DB.Path = ""
		require.ErrorContains(t, cfg.Validate(), "db.path is required")
	})

	t.Run("bad journal mode", func(t *testing.T) {
		cfg := validConfig()
		cfg.DB.JournalMode = "SIDEWAYS"
		require.ErrorContains(t, cfg.Validate(), "db.journal_mode")
	})

	t.Run("duplicate chain ids", func(t *testing.T) {
		cfg := validConfig()
		cfg.Chains = append(cfg.Chains, validChain())
		require.ErrorContains(t, cfg.Validate(), "duplicate chain_id")
	})

	t.Run("network selects unknown chain", func(t *testing.T) {
		cfg := validConfig()
		cfg.Network = "42"
		require.ErrorContains(t, cfg.Validate(), "no configured chain")
	})

	t.Run("bad logging level", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging = &LoggingConfig{DefaultLevel: "loud"}
		require.ErrorContains(t, cfg.Validate(), "logging.default_level")
	})

	t.Run("unknown logging component", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging = &LoggingConfig{
			DefaultLevel:    "info",
			ComponentLevels: map[string]string{"teleporter": "debug"},
		}
		require.ErrorContains(t, cfg.Validate(), "unknown component")
	})

	t.Run("metrics path without slash", func(t *testing.T) {
		cfg := validConfig()
		cfg.Metrics = &MetricsConfig{Enabled: true, ListenAddress: ":9090", Path: "metrics"}
		require.ErrorContains(t, cfg.Validate(), "path must start with '/'")
	})

	t.Run("bad wal checkpoint mode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Maintenance = &MaintenanceConfig{Enabled: true, WALCheckpointMode: "GENTLE"}
		require.ErrorContains(t, cfg.Validate(), "wal_checkpoint_mode")
	})
}

func TestChainByID(t *testing.T) {
	cfg := validConfig()

	chain, ok := cfg.ChainByID("1")
	require.True(t, ok)
	require.Equal(t, "1", chain.ChainID)

	_, ok = cfg.ChainByID("137")
	require.False(t, ok)
}

func TestActiveChains(t *testing.T) {
	cfg := validConfig()
	second := validChain()
	second.ChainID = "137"
	cfg.Chains = append(cfg.Chains, second)

	require.Len(t, cfg.ActiveChains(), 2)

	cfg.Network = "137"
	active := cfg.ActiveChains()
	require.Len(t, active, 1)
	require.Equal(t, "137", active[0].ChainID)

	cfg.Network = "999"
	require.Empty(t, cfg.ActiveChains())
}

func TestLoggingConfigComponentLevels(t *testing.T) {
	cfg := &LoggingConfig{
		DefaultLevel:    "Info",
		ComponentLevels: map[string]string{"crawler": "debug"},
	}

	require.Equal(t, "debug", cfg.GetComponentLevel("crawler"))
	require.Equal(t, "info", cfg.GetComponentLevel("verifier"))
	require.Equal(t, "info", cfg.GetDefaultLevel())

	var none *LoggingConfig
	require.Empty(t, none.GetComponentLevel("crawler"))
	require.Empty(t, none.GetDefaultLevel())
	require.False(t, none.IsDevelopment())
}

func TestMaintenanceConfigApplyDefaults(t *testing.T) {
	m := &MaintenanceConfig{Enabled: true}
	m.ApplyDefaults()

	require.Equal(t, 30*time.Minute, m.CheckInterval.Duration)
	require.Equal(t, "TRUNCATE", m.WALCheckpointMode)
}
