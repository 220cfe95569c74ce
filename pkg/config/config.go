package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/keeperlabs/depositwatch/internal/common"
	"github.com/keeperlabs/depositwatch/internal/logger"
)

// Config represents the complete configuration for depositwatch.
type Config struct {
	// Network optionally selects which chain the process activates.
	// Empty means every configured chain runs its own crawler.
	Network string `yaml:"network" json:"network" toml:"network"`

	// Chains contains the per-chain crawler configuration
	Chains []ChainConfig `yaml:"chains" json:"chains" toml:"chains"`

	// DB contains the database configuration shared by the stores
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`

	// Maintenance contains optional database maintenance settings
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty" json:"maintenance,omitempty" toml:"maintenance,omitempty"`
}

// ChainConfig represents the configuration of one watched chain.
type ChainConfig struct {
	// ChainID is the chain identifier (decimal string, e.g. "1")
	ChainID string `yaml:"chain_id" json:"chain_id" toml:"chain_id"`

	// Name is a human-readable display name
	Name string `yaml:"name" json:"name" toml:"name"`

	// RPCURLs is the ordered list of RPC endpoints for failover
	RPCURLs []string `yaml:"rpc_urls" json:"rpc_urls" toml:"rpc_urls"`

	// ContractAddress is the contract whose Deposit/Withdraw events are tracked
	ContractAddress string `yaml:"contract_address" json:"contract_address" toml:"contract_address"`

	// StartBlock is the first block the crawler ingests
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block"`

	// RequiredConfirmations is the confirmation threshold for CONFIRMED status
	RequiredConfirmations uint64 `yaml:"required_confirmations" json:"required_confirmations" toml:"required_confirmations"`

	// ReorgDepth is the maximum ancestor distance at which reorgs are detected
	ReorgDepth uint64 `yaml:"reorg_depth" json:"reorg_depth" toml:"reorg_depth"`

	// BatchSize is the block window per eth_getLogs call
	BatchSize uint64 `yaml:"batch_size" json:"batch_size" toml:"batch_size"`

	// PollingInterval is the delay between batches within a cycle
	PollingInterval common.Duration `yaml:"polling_interval" json:"polling_interval" toml:"polling_interval"`

	// RestartDelay is the delay between full cycles (and after batch failures
	// once retries are exhausted)
	RestartDelay common.Duration `yaml:"restart_delay" json:"restart_delay" toml:"restart_delay"`

	// MaxRetries is the number of batch retry attempts before falling back to RestartDelay
	MaxRetries int `yaml:"max_retries" json:"max_retries" toml:"max_retries"`

	// RetryDelay is the initial backoff between batch retries; it doubles per
	// attempt with jitter, capped at MaxRetryDelay
	RetryDelay common.Duration `yaml:"retry_delay" json:"retry_delay" toml:"retry_delay"`

	// MaxRetryDelay caps the exponential retry backoff
	MaxRetryDelay common.Duration `yaml:"max_retry_delay,omitempty" json:"max_retry_delay,omitempty" toml:"max_retry_delay,omitempty"`

	// RPCTimeout is the per-call RPC timeout
	RPCTimeout common.Duration `yaml:"rpc_timeout,omitempty" json:"rpc_timeout,omitempty" toml:"rpc_timeout,omitempty"`

	// BlockFetchConcurrency bounds the parallel fan-out when fetching missing
	// block metadata
	BlockFetchConcurrency int `yaml:"block_fetch_concurrency,omitempty" json:"block_fetch_concurrency,omitempty" toml:"block_fetch_concurrency,omitempty"`
}

// ApplyDefaults sets default values for optional chain configuration fields.
func (c *ChainConfig) ApplyDefaults() {
	if c.RequiredConfirmations == 0 {
		c.RequiredConfirmations = 12
	}
	if c.ReorgDepth == 0 {
		c.ReorgDepth = c.RequiredConfirmations
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.PollingInterval.Duration == 0 {
		c.PollingInterval = common.NewDuration(500 * time.Millisecond)
	}
	if c.RestartDelay.Duration == 0 {
		c.RestartDelay = common.NewDuration(12 * time.Second)
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.RetryDelay.Duration == 0 {
		c.RetryDelay = common.NewDuration(1 * time.Second)
	}
	if c.MaxRetryDelay.Duration == 0 {
		c.MaxRetryDelay = common.NewDuration(30 * time.Second)
	}
	if c.RPCTimeout.Duration == 0 {
		c.RPCTimeout = common.NewDuration(20 * time.Second)
	}
	if c.BlockFetchConcurrency == 0 {
		c.BlockFetchConcurrency = 8
	}
}

// Validate checks if the chain configuration is valid.
func (c *ChainConfig) Validate() error {
	if c.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}
	if len(c.RPCURLs) == 0 {
		return fmt.Errorf("at least one rpc url is required")
	}
	if c.ContractAddress == "" {
		return fmt.Errorf("contract_address is required")
	}
	if c.RequiredConfirmations == 0 {
		return fmt.Errorf("required_confirmations must be > 0")
	}
	if c.ReorgDepth == 0 {
		return fmt.Errorf("reorg_depth must be > 0")
	}
	if c.BatchSize == 0 {
		return fmt.Errorf("batch_size must be > 0")
	}
	return nil
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
	// EnableForeignKeys defaults to false (zero value)
}

// MaintenanceConfig configures database maintenance behavior.
type MaintenanceConfig struct {
	// Enabled controls whether background maintenance runs
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// CheckInterval is how often to run maintenance (e.g., "30m", "1h")
	CheckInterval common.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`

	// VacuumOnStartup runs maintenance immediately on startup
	VacuumOnStartup bool `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`

	// WALCheckpointMode controls the WAL checkpoint aggressiveness
	// Options: PASSIVE, FULL, RESTART, TRUNCATE
	WALCheckpointMode string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = common.NewDuration(30 * time.Minute)
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
}

// Validate checks if the maintenance configuration is valid.
func (m *MaintenanceConfig) Validate() error {
	if m.WALCheckpointMode != "" {
		validModes := []string{"PASSIVE", "FULL", "RESTART", "TRUNCATE"}
		if !slices.Contains(validModes, m.WALCheckpointMode) {
			return fmt.Errorf("maintenance.wal_checkpoint_mode: must be one of: PASSIVE, FULL, RESTART, TRUNCATE")
		}
	}

	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components: crawler, rpc-pool, tx-store, checkpoint,
	// block-cache, verifier, event-parser, maintenance
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
// Nil-safe so a missing logging section behaves like the defaults.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if l == nil {
		return ""
	}
	if level, ok := l.ComponentLevels[component]; ok {
		return level
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	if l == nil {
		return ""
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l != nil && l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	// Format: "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.DB.ApplyDefaults()

	for i := range c.Chains {
		c.Chains[i].ApplyDefaults()
	}

	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}

	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}

	if c.Maintenance != nil {
		c.Maintenance.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}

	if c.DB.JournalMode != "" && c.DB.JournalMode != "WAL" &&
		c.DB.JournalMode != "DELETE" && c.DB.JournalMode != "TRUNCATE" &&
		c.DB.JournalMode != "PERSIST" && c.DB.JournalMode != "MEMORY" {
		return fmt.Errorf("db.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	if c.DB.Synchronous != "" && c.DB.Synchronous != "FULL" &&
		c.DB.Synchronous != "NORMAL" && c.DB.Synchronous != "OFF" {
		return fmt.Errorf("db.synchronous must be one of: FULL, NORMAL, OFF")
	}

	chainIDs := make(map[string]bool)
	for i := range c.Chains {
		chain := &c.Chains[i]
		if err := chain.Validate(); err != nil {
			return fmt.Errorf("chain[%d] (%s): %w", i, chain.ChainID, err)
		}
		if chainIDs[chain.ChainID] {
			return fmt.Errorf("chain[%d]: duplicate chain_id '%s'", i, chain.ChainID)
		}
		chainIDs[chain.ChainID] = true
	}

	if c.Network != "" {
		if _, ok := c.ChainByID(c.Network); !ok {
			return fmt.Errorf("network: no configured chain with chain_id '%s'", c.Network)
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	if c.Maintenance != nil {
		if err := c.Maintenance.Validate(); err != nil {
			return fmt.Errorf("maintenance: %w", err)
		}
	}

	return nil
}

// ChainByID returns the chain configuration with the given chain ID.
func (c *Config) ChainByID(chainID string) (*ChainConfig, bool) {
	for i := range c.Chains {
		if c.Chains[i].ChainID == chainID {
			return &c.Chains[i], true
		}
	}
	return nil, false
}

// ActiveChains returns the chains this process should crawl: the one selected
// by Network, or all configured chains when no selector is set.
func (c *Config) ActiveChains() []ChainConfig {
	if c.Network == "" {
		return c.Chains
	}
	if chain, ok := c.ChainByID(c.Network); ok {
		return []ChainConfig{*chain}
	}
	return nil
}
