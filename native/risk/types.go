package risk

import "math/big"

// Config is the per-market risk configuration persisted by the engine.
type Config struct {
	// Listed marks the market as admitted to the registry; unlisted markets
	// reject every gated action.
	Listed bool
	// CollateralFactorMantissa is the fraction of the market's collateral
	// value counted toward borrowing power, 18 decimal mantissa, at most
	// 0.9e18.
	CollateralFactorMantissa *big.Int
	// MintPaused and BorrowPaused close the respective gates.
	MintPaused   bool
	BorrowPaused bool
}

// Clone returns a deep copy of the market config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := &Config{Listed: c.Listed, MintPaused: c.MintPaused, BorrowPaused: c.BorrowPaused}
	if c.CollateralFactorMantissa != nil {
		clone.CollateralFactorMantissa = new(big.Int).Set(c.CollateralFactorMantissa)
	}
	return clone
}

// Params holds the protocol-wide risk scalars persisted by the engine. Nil
// fields fall back to the engine defaults.
type Params struct {
	// CloseFactorMantissa caps the share of a borrow repayable in one
	// liquidation, 18 decimal mantissa, (0, 1].
	CloseFactorMantissa *big.Int
	// LiquidationIncentiveMantissa is the liquidator premium over the repaid
	// value, 18 decimal mantissa, at least 1.0e18.
	LiquidationIncentiveMantissa *big.Int
}

// Clone returns a deep copy of the risk params.
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	clone := &Params{}
	if p.CloseFactorMantissa != nil {
		clone.CloseFactorMantissa = new(big.Int).Set(p.CloseFactorMantissa)
	}
	if p.LiquidationIncentiveMantissa != nil {
		clone.LiquidationIncentiveMantissa = new(big.Int).Set(p.LiquidationIncentiveMantissa)
	}
	return clone
}

// Liquidity is the outcome of an account solvency computation. At most one of
// Excess and Shortfall is positive.
type Liquidity struct {
	Excess    *big.Int
	Shortfall *big.Int
}
