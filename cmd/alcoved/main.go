package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"alcove/config"
	"alcove/core"
	"alcove/native/market"
	"alcove/native/risk"
	"alcove/observability/logging"
	telemetry "alcove/observability/otel"
	"alcove/rpc"
	"alcove/storage"
)

func main() {
	configFile := flag.String("config", "./alcoved.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if err := config.ValidateConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	env := strings.TrimSpace(os.Getenv("ALCOVE_ENV"))
	if env == "" {
		env = strings.TrimSpace(cfg.LogEnv)
	}
	logger := logging.Setup("alcoved", env, logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "alcoved",
		Environment: env,
		Endpoint:    strings.TrimSpace(cfg.Telemetry.Endpoint),
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	params, err := cfg.Parameters()
	if err != nil {
		logger.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	seeds, err := parseSeeds(cfg)
	if err != nil {
		logger.Error("invalid market seed", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	node, err := core.NewNode(db, core.Config{Logger: logger})
	if err != nil {
		logger.Error("failed to initialise node", slog.Any("error", err))
		os.Exit(1)
	}

	node.SetGate(buildGate(params, seeds))
	node.Configure(func(l *market.Ledger) {
		if !params.Admin.IsZero() {
			l.SetAdmin(params.Admin)
		}
		if !params.Guardian.IsZero() {
			l.SetGuardian(params.Guardian)
		}
		if params.PlatformFeeRate != nil {
			l.SetFeeRegistry(market.StaticFeeRegistry{Rate: params.PlatformFeeRate})
		}
		for _, seed := range seeds {
			l.RegisterRateModel(seed.Listing.RateModel, seed.Model)
		}
	})

	if err := seedState(node, logger, params, seeds, cfg.Balances); err != nil {
		logger.Error("failed to seed state", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(node, rpc.ServerConfig{
		AuthToken:            os.Getenv(cfg.TokenEnv()),
		RateLimitPerMinute:   cfg.RateLimitPerMinute,
		RateBurst:            cfg.RateBurst,
		TrustProxyHeaders:    cfg.TrustProxyHeaders,
		PlatformFeeRecipient: params.PlatformFeeRecipient,
		Logger:               logger,
	})

	logger.Info("alcove ledger node initialised",
		"backend", strings.ToLower(strings.TrimSpace(cfg.DBBackend)),
		"markets", len(seeds))
	if err := server.ListenAndServe(ctx, cfg.RPCAddress); err != nil {
		logger.Error("rpc server terminated", slog.Any("error", err))
		os.Exit(1)
	}
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.DBBackend))
	path := cfg.DataDir
	if backend == storage.BackendBolt {
		// Bolt opens a single file and does not create parent directories.
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		path = filepath.Join(cfg.DataDir, "alcove.db")
	}
	return storage.Open(backend, path)
}

func parseSeeds(cfg *config.Config) ([]market.SeedParameters, error) {
	seeds := make([]market.SeedParameters, 0, len(cfg.Markets))
	for _, raw := range cfg.Markets {
		params, err := raw.Parameters()
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, params)
	}
	return seeds, nil
}

// buildGate assembles the risk gate from the parsed seeds. The gate is
// memory-only, so listings and quotes are rebuilt on every boot.
func buildGate(params config.Parameters, seeds []market.SeedParameters) *risk.Gate {
	prices := risk.StaticPrices{}
	for _, seed := range seeds {
		if seed.Price != nil {
			prices[seed.Listing.Asset] = seed.Price
		}
	}
	gate := risk.NewGate(prices)
	gate.SetCloseThreshold(params.CloseThreshold)
	gate.SetLiquidationIncentive(params.LiquidationIncentive)
	for _, seed := range seeds {
		gate.ListAsset(seed.Listing.Asset, risk.AssetLimits{
			SupplyCap:        seed.SupplyCap,
			BorrowCap:        seed.BorrowCap,
			MinBorrow:        seed.MinBorrow,
			CollateralFactor: seed.CollateralFactor,
		})
	}
	return gate
}

// seedState lists configured markets that are not yet stored. Balance
// seeds apply only when the store holds no markets at all, so reboots
// never double-fund.
func seedState(node *core.Node, logger *slog.Logger, params config.Parameters, seeds []market.SeedParameters, balances []config.BalanceSeed) error {
	listed := make(map[string]bool)
	if err := node.View(func(l *market.Ledger) error {
		assets, err := l.ListMarkets()
		if err != nil {
			return err
		}
		for _, asset := range assets {
			listed[asset] = true
		}
		return nil
	}); err != nil {
		return err
	}
	fresh := len(listed) == 0

	for _, seed := range seeds {
		if listed[seed.Listing.Asset] {
			continue
		}
		if params.Admin.IsZero() {
			return fmt.Errorf("Admin required to list configured markets")
		}
		listing := seed.Listing
		if err := node.Update("list_market", listing.Asset, func(l *market.Ledger) error {
			_, err := l.ListMarket(params.Admin, listing)
			return err
		}); err != nil {
			return fmt.Errorf("list market %s: %w", listing.Asset, err)
		}
		logger.Info("listed market", "asset", listing.Asset, "rate_model", listing.RateModel)
	}

	if !fresh {
		return nil
	}
	for _, raw := range balances {
		seed, err := raw.Parameters()
		if err != nil {
			return err
		}
		if err := node.Fund(seed.Asset, seed.Address, seed.Amount); err != nil {
			return fmt.Errorf("fund %s: %w", seed.Asset, err)
		}
		logger.Info("seeded balance", "asset", seed.Asset, "account", seed.Address.String())
	}
	return nil
}
