package config

import "alcove/native/market"

// Config is the alcoved node configuration. Secrets never live in the
// file: the RPC bearer token is read from the environment variable named
// by AuthTokenEnv.
type Config struct {
	RPCAddress         string  `toml:"RPCAddress"`
	DataDir            string  `toml:"DataDir"`
	DBBackend          string  `toml:"DBBackend"`
	LogLevel           string  `toml:"LogLevel"`
	LogEnv             string  `toml:"LogEnv"`
	AuthTokenEnv       string  `toml:"AuthTokenEnv"`
	TrustProxyHeaders  bool    `toml:"TrustProxyHeaders"`
	RateLimitPerMinute float64 `toml:"RateLimitPerMinute"`
	RateBurst          int     `toml:"RateBurst"`

	// Admin may list markets, tune rates, and withdraw fee buckets.
	// Guardian may pause flows and detach vaults but cannot move funds.
	Admin    string `toml:"Admin"`
	Guardian string `toml:"Guardian"`

	// PlatformFeeRate is the platform's 1e18-scaled cut of accrued
	// interest; withdrawals that name no destination pay
	// PlatformFeeRecipient.
	PlatformFeeRate      string `toml:"PlatformFeeRate"`
	PlatformFeeRecipient string `toml:"PlatformFeeRecipient"`

	// CloseThreshold and LiquidationIncentive override the risk gate
	// defaults when set.
	CloseThreshold       string `toml:"CloseThreshold"`
	LiquidationIncentive string `toml:"LiquidationIncentive"`

	Telemetry Telemetry `toml:"telemetry"`

	Markets  []market.SeedConfig `toml:"Market"`
	Balances []BalanceSeed       `toml:"Balance"`
}

// Telemetry opts the daemon into OTLP export. With both switches off
// only context propagation is installed.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// BalanceSeed funds one account when the node boots with a fresh store.
type BalanceSeed struct {
	Asset   string `toml:"Asset"`
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}
