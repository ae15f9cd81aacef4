// Package config loads the alcoved TOML configuration. A commented
// default file is written on first boot so operators edit a template
// rather than starting from an empty file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"alcove/native/market"
)

// DefaultAuthTokenEnv is the environment variable consulted for the RPC
// bearer token when AuthTokenEnv does not override it. The rpc package
// falls back to the same variable when handed an empty token.
const DefaultAuthTokenEnv = "ALCOVE_RPC_TOKEN"

const (
	defaultRPCAddress = ":8645"
	defaultDataDir    = "./alcove-data"
	defaultDBBackend  = "leveldb"
	defaultLogLevel   = "info"
)

// Load loads the configuration from the given path, creating the default
// file when it does not exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}

	for _, undecoded := range meta.Undecoded() {
		if len(undecoded) == 1 && strings.EqualFold(undecoded[0], "AuthToken") {
			return nil, fmt.Errorf("config file %s carries a raw AuthToken; export the secret through %s instead", path, cfg.TokenEnv())
		}
	}

	applyDefaults(cfg)
	return cfg, nil
}

// TokenEnv returns the environment variable that holds the RPC bearer
// token.
func (c *Config) TokenEnv() string {
	if env := strings.TrimSpace(c.AuthTokenEnv); env != "" {
		return env
	}
	return DefaultAuthTokenEnv
}

// createDefault writes the commented default configuration file and
// returns its parsed form.
func createDefault(path string) (*Config, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(path, []byte(defaultConfigTOML), 0o644); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if _, err := toml.Decode(defaultConfigTOML, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = defaultRPCAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaultDataDir
	}
	if strings.TrimSpace(cfg.DBBackend) == "" {
		cfg.DBBackend = defaultDBBackend
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.Markets == nil {
		cfg.Markets = []market.SeedConfig{}
	}
	if cfg.Balances == nil {
		cfg.Balances = []BalanceSeed{}
	}
}

const defaultConfigTOML = `# alcoved node configuration. Mantissa-valued fields are decimal strings
# scaled by 1e18 unless noted; empty strings keep the built-in defaults.

RPCAddress = ":8645"
DataDir = "./alcove-data"
# DBBackend selects the storage engine: leveldb, bolt, or memory.
DBBackend = "leveldb"
LogLevel = "info"
LogEnv = ""

# AuthTokenEnv names the environment variable read for the RPC bearer
# token. Empty keeps the ALCOVE_RPC_TOKEN default. The token itself
# never belongs in this file.
AuthTokenEnv = ""

TrustProxyHeaders = false
RateLimitPerMinute = 600.0
RateBurst = 20

# Admin may list markets, tune rates, and withdraw fee buckets.
# Guardian may pause flows and detach vaults but cannot move funds.
# Both are bech32 alc addresses; empty disables the role.
Admin = ""
Guardian = ""

# PlatformFeeRate is the platform's cut of accrued interest; withdrawals
# that name no destination pay PlatformFeeRecipient.
PlatformFeeRate = ""
PlatformFeeRecipient = ""

# CloseThreshold and LiquidationIncentive override the risk gate
# defaults of 1.0 and 1.08.
CloseThreshold = ""
LiquidationIncentive = ""

[telemetry]
Endpoint = ""
Insecure = false
Headers = ""
Metrics = false
Traces = false

# Each [[Market]] block lists one asset at boot. Rate model rates are
# annual mantissas divided down to per-second form; Kink is a
# utilization mantissa.
#
# [[Market]]
# Asset = "USDQ"
# InitialExchangeRate = "200000000000000000"
# ReserveFactor = "100000000000000000"
# ProtocolFeeRate = ""
# ProtocolSeizeRate = "22400000000000000"
# PlatformSeizeRate = "5600000000000000"
# SupplyCap = ""
# BorrowCap = ""
# MinBorrow = "1000000000000000000"
# CollateralFactor = "800000000000000000"
# Price = "1000000000000000000"
#
# [Market.RateModel]
# Kind = "jump"
# BaseRateAnnual = "0"
# MultiplierAnnual = "100000000000000000"
# JumpMultiplierAnnual = "1000000000000000000"
# Kink = "800000000000000000"

# [[Balance]] entries fund accounts when the node boots with a fresh
# store.
#
# [[Balance]]
# Asset = "USDQ"
# Address = ""
# Amount = "1000000000000000000000"
`
