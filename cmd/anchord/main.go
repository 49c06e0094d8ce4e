package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"anchorledger/config"
	"anchorledger/core"
	"anchorledger/core/events"
	"anchorledger/core/state"
	"anchorledger/crypto"
	"anchorledger/native/rates"
	"anchorledger/native/risk"
	"anchorledger/observability/logging"
	"anchorledger/observability/otel"
	"anchorledger/rpc"
	"anchorledger/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ANCHOR_ENV"))
	logger := logging.Setup("anchord", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	if cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		shutdown, err := otel.Init(context.Background(), otel.Config{
			ServiceName: "anchord",
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Error("Telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	admin, err := resolveAdmin(cfg, logger)
	if err != nil {
		logger.Error("Failed to resolve admin address", slog.Any("error", err))
		os.Exit(1)
	}

	manager := state.NewManager(db)
	protocol, err := core.NewProtocol(manager, admin)
	if err != nil {
		panic(fmt.Sprintf("Failed to construct protocol: %v", err))
	}
	protocol.SetEmitter(events.LogEmitter{Logger: logger})

	height, err := manager.BlockHeight()
	if err != nil {
		logger.Error("Failed to load block height", slog.Any("error", err))
		os.Exit(1)
	}
	protocol.SetBlockHeight(height)

	restored, err := manager.LedgerSymbols()
	if err != nil {
		logger.Error("Failed to enumerate stored ledgers", slog.Any("error", err))
		os.Exit(1)
	}
	if len(restored) > 0 {
		logger.Info("restored market ledgers", slog.Any("markets", restored))
	}

	if err := configureMarkets(protocol, cfg, admin); err != nil {
		logger.Error("Failed to configure markets", slog.Any("error", err))
		os.Exit(1)
	}

	go advanceBlocks(protocol, manager, time.Duration(cfg.BlockSeconds)*time.Second, logger)

	logger.Info("node configured",
		slog.String("network", cfg.NetworkName),
		slog.Int("markets", len(cfg.Markets)),
		slog.Uint64("height", height),
		slog.String("admin", admin.String()),
	)

	server := rpc.NewServer(protocol)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// advanceBlocks drives the protocol's block counter off the wall clock and
// persists each height so interest accrual survives restarts.
func advanceBlocks(protocol *core.Protocol, manager *state.Manager, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		height := protocol.AdvanceBlock()
		if err := manager.PutBlockHeight(height); err != nil {
			logger.Error("Failed to persist block height", slog.Any("error", err))
		}
	}
}

// resolveAdmin decodes the configured admin address or generates a fresh one
// for development runs.
func resolveAdmin(cfg *config.Config, logger *slog.Logger) (crypto.Address, error) {
	if trimmed := strings.TrimSpace(cfg.AdminAddress); trimmed != "" {
		return crypto.DecodeAddress(trimmed)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return crypto.Address{}, err
	}
	admin := key.PubKey().Address()
	logger.Warn("no admin address configured, generated ephemeral admin",
		slog.String("admin", admin.String()))
	return admin, nil
}

// staticPriceSource serves the prices pinned in the configuration file.
type staticPriceSource struct {
	prices map[string]*big.Int
}

func (s *staticPriceSource) UnderlyingPrice(symbol string) (*big.Int, error) {
	price, ok := s.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("oracle: no price configured for %s", symbol)
	}
	return new(big.Int).Set(price), nil
}

func configureMarkets(protocol *core.Protocol, cfg *config.Config, admin crypto.Address) error {
	prices := make(map[string]*big.Int)
	riskEngine := protocol.Risk()

	for _, marketCfg := range cfg.Markets {
		symbol := strings.ToUpper(strings.TrimSpace(marketCfg.Symbol))
		vault, err := crypto.DecodeAddress(marketCfg.Vault)
		if err != nil {
			return fmt.Errorf("market %s: %w", symbol, err)
		}
		rateParams, err := marketCfg.RateParams()
		if err != nil {
			return err
		}
		initialRate, err := marketCfg.InitialExchangeRateMantissa()
		if err != nil {
			return err
		}
		reserveFactor, err := marketCfg.ReserveFactorMantissa()
		if err != nil {
			return err
		}
		model := rates.NewJumpRateModel(
			rateParams.BaseRatePerYear,
			rateParams.MultiplierPerYear,
			rateParams.JumpMultiplierPerYear,
			rateParams.Kink,
		)
		if err := protocol.AddMarket(core.MarketParams{
			Symbol:                      symbol,
			UnderlyingSymbol:            strings.ToUpper(strings.TrimSpace(marketCfg.UnderlyingSymbol)),
			Vault:                       vault,
			InitialExchangeRateMantissa: initialRate,
			ReserveFactorMantissa:       reserveFactor,
			RateModel:                   model,
		}); err != nil {
			return fmt.Errorf("market %s: %w", symbol, err)
		}
		if price, err := marketCfg.PriceMantissa(); err != nil {
			return err
		} else if price != nil {
			prices[symbol] = price
		}
	}

	if len(prices) > 0 {
		if err := riskEngine.SetPriceSource(admin, &staticPriceSource{prices: prices}, "static"); err != nil {
			return err
		}
	}

	for _, marketCfg := range cfg.Markets {
		symbol := strings.ToUpper(strings.TrimSpace(marketCfg.Symbol))
		if err := riskEngine.SupportMarket(admin, symbol); err != nil && !errors.Is(err, risk.ErrAlreadyListed) {
			return fmt.Errorf("list %s: %w", symbol, err)
		}
		factor, err := marketCfg.CollateralFactorMantissa()
		if err != nil {
			return err
		}
		if factor != nil {
			if err := riskEngine.SetCollateralFactor(admin, symbol, factor); err != nil {
				return fmt.Errorf("collateral factor %s: %w", symbol, err)
			}
		}
	}

	if closeFactor, err := cfg.Risk.CloseFactorMantissa(); err != nil {
		return err
	} else if closeFactor != nil {
		if err := riskEngine.SetCloseFactor(admin, closeFactor); err != nil {
			return err
		}
	}
	if incentive, err := cfg.Risk.LiquidationIncentiveMantissa(); err != nil {
		return err
	} else if incentive != nil {
		if err := riskEngine.SetLiquidationIncentive(admin, incentive); err != nil {
			return err
		}
	}

	if staked := cfg.StakedMarket; staked != nil {
		escrowVault, err := crypto.DecodeAddress(staked.EscrowVault)
		if err != nil {
			return err
		}
		if err := protocol.ConfigureStakedMarket(core.StakedMarketParams{
			Symbol:         strings.ToUpper(strings.TrimSpace(staked.Symbol)),
			LedgerName:     staked.LedgerName,
			ChainID:        staked.ChainID,
			EscrowVault:    escrowVault,
			EscrowDuration: staked.EscrowDurationSeconds,
		}); err != nil {
			return err
		}
	}

	return nil
}

var _ risk.PriceSource = (*staticPriceSource)(nil)
