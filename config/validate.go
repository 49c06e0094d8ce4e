package config

import (
	"fmt"
	"math/big"
	"strings"

	"anchorledger/crypto"
)

var (
	mantissaOne           = big.NewInt(1_000_000_000_000_000_000)
	collateralFactorMax   = big.NewInt(900_000_000_000_000_000)
	maxEscrowDurationSecs = uint64(365 * 24 * 3600)
)

// Validate checks the configuration for internal consistency before any
// state is touched.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}
	if strings.TrimSpace(cfg.AdminAddress) != "" {
		if _, err := crypto.DecodeAddress(cfg.AdminAddress); err != nil {
			return fmt.Errorf("config: AdminAddress: %w", err)
		}
	}

	if cfg.Risk.CloseFactor != "" {
		closeFactor, err := cfg.Risk.CloseFactorMantissa()
		if err != nil {
			return err
		}
		if closeFactor.Sign() <= 0 || closeFactor.Cmp(mantissaOne) > 0 {
			return fmt.Errorf("config: Risk.CloseFactor: must be in (0, 1e18]")
		}
	}
	if cfg.Risk.LiquidationIncentive != "" {
		incentive, err := cfg.Risk.LiquidationIncentiveMantissa()
		if err != nil {
			return err
		}
		if incentive.Cmp(mantissaOne) < 0 {
			return fmt.Errorf("config: Risk.LiquidationIncentive: must be at least 1e18")
		}
	}

	seen := make(map[string]bool, len(cfg.Markets))
	for i, market := range cfg.Markets {
		if err := validateMarket(i, market, seen); err != nil {
			return err
		}
	}

	if cfg.StakedMarket != nil {
		staked := cfg.StakedMarket
		symbol := strings.ToUpper(strings.TrimSpace(staked.Symbol))
		if symbol == "" {
			return fmt.Errorf("config: StakedMarket.Symbol: required")
		}
		if !seen[symbol] {
			return fmt.Errorf("config: StakedMarket.Symbol: %s is not a declared market", symbol)
		}
		if strings.TrimSpace(staked.LedgerName) == "" {
			return fmt.Errorf("config: StakedMarket.LedgerName: required")
		}
		if _, err := crypto.DecodeAddress(staked.EscrowVault); err != nil {
			return fmt.Errorf("config: StakedMarket.EscrowVault: %w", err)
		}
		if staked.EscrowDurationSeconds > maxEscrowDurationSecs {
			return fmt.Errorf("config: StakedMarket.EscrowDurationSeconds: out of range")
		}
	}

	return nil
}

func validateMarket(index int, market Market, seen map[string]bool) error {
	symbol := strings.ToUpper(strings.TrimSpace(market.Symbol))
	if symbol == "" {
		return fmt.Errorf("config: Markets[%d].Symbol: required", index)
	}
	if seen[symbol] {
		return fmt.Errorf("config: Markets[%d].Symbol: duplicate %s", index, symbol)
	}
	seen[symbol] = true

	if strings.TrimSpace(market.UnderlyingSymbol) == "" {
		return fmt.Errorf("config: Markets[%d].UnderlyingSymbol: required", index)
	}
	if _, err := crypto.DecodeAddress(market.Vault); err != nil {
		return fmt.Errorf("config: Markets[%d].Vault: %w", index, err)
	}

	if market.ReserveFactor != "" {
		reserveFactor, err := market.ReserveFactorMantissa()
		if err != nil {
			return err
		}
		if reserveFactor.Cmp(mantissaOne) > 0 {
			return fmt.Errorf("config: Markets[%d].ReserveFactor: must not exceed 1e18", index)
		}
	}
	if market.CollateralFactor != "" {
		collateralFactor, err := market.CollateralFactorMantissa()
		if err != nil {
			return err
		}
		if collateralFactor.Cmp(collateralFactorMax) > 0 {
			return fmt.Errorf("config: Markets[%d].CollateralFactor: must not exceed 0.9e18", index)
		}
	}
	if market.Kink != "" {
		kink, err := parseMantissa("Kink", market.Kink)
		if err != nil {
			return err
		}
		if kink.Cmp(mantissaOne) > 0 {
			return fmt.Errorf("config: Markets[%d].Kink: must not exceed 1e18", index)
		}
	}
	if _, err := market.RateParams(); err != nil {
		return err
	}
	if _, err := market.PriceMantissa(); err != nil {
		return err
	}
	if _, err := market.InitialExchangeRateMantissa(); err != nil {
		return err
	}
	return nil
}
