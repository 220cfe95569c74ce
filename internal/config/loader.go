package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/keeperlabs/depositwatch/internal/common"
	pkgconfig "github.com/keeperlabs/depositwatch/pkg/config"
	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a file, auto-detecting the format by extension.
// Supported formats: .yaml, .yml, .json, .toml
func LoadFromFile(path string) (*pkgconfig.Config, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		return LoadFromYAML(path)
	case ".json":
		return LoadFromJSON(path)
	case ".toml":
		return LoadFromTOML(path)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json, .toml)", ext)
	}
}

// LoadFromYAML loads configuration from a YAML file.
func LoadFromYAML(path string) (*pkgconfig.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg pkgconfig.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return processConfig(&cfg)
}

// LoadFromJSON loads configuration from a JSON file.
func LoadFromJSON(path string) (*pkgconfig.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg pkgconfig.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON config: %w", err)
	}

	return processConfig(&cfg)
}

// LoadFromTOML loads configuration from a TOML file.
func LoadFromTOML(path string) (*pkgconfig.Config, error) {
	var cfg pkgconfig.Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}

	return processConfig(&cfg)
}

// processConfig applies the environment surface, defaults and validation.
func processConfig(cfg *pkgconfig.Config) (*pkgconfig.Config, error) {
	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnvOverrides applies the environment configuration surface on top of
// the file values. NETWORK selects the active chain; the per-chain variables
// override that chain's settings.
func ApplyEnvOverrides(cfg *pkgconfig.Config) error {
	if network := os.Getenv("NETWORK"); network != "" {
		cfg.Network = network
	}

	// Per-chain variables only make sense when a single chain is selected.
	target := -1
	if cfg.Network != "" {
		for i := range cfg.Chains {
			if cfg.Chains[i].ChainID == cfg.Network {
				target = i
				break
			}
		}
		if target == -1 {
			// The selector names a chain the file does not define; synthesize
			// it so an env-only deployment works.
			cfg.Chains = append(cfg.Chains, pkgconfig.ChainConfig{ChainID: cfg.Network})
			target = len(cfg.Chains) - 1
		}
	} else if len(cfg.Chains) == 1 {
		target = 0
	}

	if target == -1 {
		return nil
	}

	chain := &cfg.Chains[target]

	if urls := os.Getenv("RPC_URLS"); urls != "" {
		chain.RPCURLs = common.SplitAndTrim(urls)
	}
	if addr := os.Getenv("CONTRACT_ADDRESS"); addr != "" {
		chain.ContractAddress = addr
	}

	uintVars := []struct {
		name  string
		field *uint64
	}{
		{"START_BLOCK", &chain.StartBlock},
		{"REQUIRED_CONFIRMATIONS", &chain.RequiredConfirmations},
		{"REORG_DEPTH", &chain.ReorgDepth},
		{"BATCH_SIZE", &chain.BatchSize},
	}
	for _, v := range uintVars {
		raw := os.Getenv(v.name)
		if raw == "" {
			continue
		}
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", v.name, err)
		}
		*v.field = parsed
	}

	if raw := os.Getenv("MAX_RETRIES"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid MAX_RETRIES: %w", err)
		}
		chain.MaxRetries = parsed
	}

	durationVars := []struct {
		name  string
		field *common.Duration
	}{
		{"POLLING_INTERVAL", &chain.PollingInterval},
		{"RESTART_DELAY", &chain.RestartDelay},
		{"RETRY_DELAY", &chain.RetryDelay},
	}
	for _, v := range durationVars {
		raw := os.Getenv(v.name)
		if raw == "" {
			continue
		}
		parsed, err := parseEnvDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", v.name, err)
		}
		*v.field = common.NewDuration(parsed)
	}

	return nil
}

// parseEnvDuration accepts either a Go duration string ("5s") or a bare
// number of milliseconds, the format the original deployment surface used.
func parseEnvDuration(raw string) (time.Duration, error) {
	if ms, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(raw)
}
