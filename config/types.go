package config

import (
	"fmt"
	"math/big"
	"strings"
)

// Market declares one listed money market. Mantissa fields are decimal
// strings so TOML files stay readable and exact at 18 decimals.
type Market struct {
	Symbol                string `toml:"Symbol"`
	UnderlyingSymbol      string `toml:"UnderlyingSymbol"`
	Vault                 string `toml:"Vault"`
	InitialExchangeRate   string `toml:"InitialExchangeRate"`
	ReserveFactor         string `toml:"ReserveFactor"`
	CollateralFactor      string `toml:"CollateralFactor"`
	BaseRatePerYear       string `toml:"BaseRatePerYear"`
	MultiplierPerYear     string `toml:"MultiplierPerYear"`
	JumpMultiplierPerYear string `toml:"JumpMultiplierPerYear"`
	Kink                  string `toml:"Kink"`
	// Price is a static oracle price for the underlying, used until an
	// external price source is attached.
	Price string `toml:"Price"`
}

// Risk holds the protocol-wide liquidation parameters.
type Risk struct {
	CloseFactor          string `toml:"CloseFactor"`
	LiquidationIncentive string `toml:"LiquidationIncentive"`
}

// StakedMarket configures the governance-staked market: its vote ledger and
// the delay-locked redemption escrow in front of withdrawals.
type StakedMarket struct {
	Symbol                string `toml:"Symbol"`
	LedgerName            string `toml:"LedgerName"`
	ChainID               uint64 `toml:"ChainID"`
	EscrowVault           string `toml:"EscrowVault"`
	EscrowDurationSeconds uint64 `toml:"EscrowDurationSeconds"`
}

// Telemetry configures the optional OpenTelemetry exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// parseMantissa parses a decimal 18-decimal fixed point value. An empty
// string parses to nil so callers can fall back to defaults.
func parseMantissa(field, raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("config: %s: invalid integer %q", field, raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("config: %s: must not be negative", field)
	}
	return value, nil
}

// RateParams is the parsed per-block interest rate curve for one market.
type RateParams struct {
	BaseRatePerYear       *big.Int
	MultiplierPerYear     *big.Int
	JumpMultiplierPerYear *big.Int
	Kink                  *big.Int
}

// RateParams parses the market's rate curve fields.
func (m Market) RateParams() (RateParams, error) {
	var params RateParams
	var err error
	if params.BaseRatePerYear, err = parseMantissa("BaseRatePerYear", m.BaseRatePerYear); err != nil {
		return params, err
	}
	if params.MultiplierPerYear, err = parseMantissa("MultiplierPerYear", m.MultiplierPerYear); err != nil {
		return params, err
	}
	if params.JumpMultiplierPerYear, err = parseMantissa("JumpMultiplierPerYear", m.JumpMultiplierPerYear); err != nil {
		return params, err
	}
	if params.Kink, err = parseMantissa("Kink", m.Kink); err != nil {
		return params, err
	}
	return params, nil
}

// InitialExchangeRateMantissa parses the market's starting exchange rate.
func (m Market) InitialExchangeRateMantissa() (*big.Int, error) {
	return parseMantissa("InitialExchangeRate", m.InitialExchangeRate)
}

// ReserveFactorMantissa parses the market's reserve factor.
func (m Market) ReserveFactorMantissa() (*big.Int, error) {
	return parseMantissa("ReserveFactor", m.ReserveFactor)
}

// PriceMantissa parses the market's static oracle price.
func (m Market) PriceMantissa() (*big.Int, error) {
	return parseMantissa("Price", m.Price)
}

// CollateralFactorMantissa parses the market's collateral factor.
func (m Market) CollateralFactorMantissa() (*big.Int, error) {
	return parseMantissa("CollateralFactor", m.CollateralFactor)
}

// CloseFactorMantissa parses the protocol close factor.
func (r Risk) CloseFactorMantissa() (*big.Int, error) {
	return parseMantissa("CloseFactor", r.CloseFactor)
}

// LiquidationIncentiveMantissa parses the protocol liquidation incentive.
func (r Risk) LiquidationIncentiveMantissa() (*big.Int, error) {
	return parseMantissa("LiquidationIncentive", r.LiquidationIncentive)
}
