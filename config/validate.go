package config

import (
	"fmt"
	"strings"

	"alcove/native/market"
)

var dbBackends = map[string]bool{
	"leveldb": true,
	"bolt":    true,
	"memory":  true,
}

// ValidateConfig checks the structural invariants of a loaded config.
// Field-level parse errors surface later through the Parameters methods.
func ValidateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress required")
	}
	backend := strings.ToLower(strings.TrimSpace(cfg.DBBackend))
	if !dbBackends[backend] {
		return fmt.Errorf("config: unknown DBBackend %q", cfg.DBBackend)
	}
	if backend != "memory" && strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("config: DataDir required for the %s backend", backend)
	}
	if cfg.RateLimitPerMinute < 0 {
		return fmt.Errorf("config: RateLimitPerMinute must not be negative")
	}
	if cfg.RateBurst < 0 {
		return fmt.Errorf("config: RateBurst must not be negative")
	}
	seen := make(map[string]bool, len(cfg.Markets))
	for _, seed := range cfg.Markets {
		asset := market.NormalizeAsset(seed.Asset)
		if asset == "" {
			return fmt.Errorf("config: market seed with empty Asset")
		}
		if seen[asset] {
			return fmt.Errorf("config: duplicate market seed %s", asset)
		}
		seen[asset] = true
	}
	for i, seed := range cfg.Balances {
		if strings.TrimSpace(seed.Address) == "" {
			return fmt.Errorf("config: balance seed %d missing Address", i)
		}
	}
	return nil
}
