package rates

import "math/big"

// blocksPerYear converts annualised curve parameters into per-block rates.
const blocksPerYear = 31_536_000

var (
	mantissaOne = big.NewInt(1_000_000_000_000_000_000)
	zero        = big.NewInt(0)
)

// JumpRateModel is a pure function of market utilisation. Below the kink the
// borrow rate climbs linearly from the base rate; above it the jump
// multiplier takes over to defend pool liquidity. All parameters and results
// are fixed-point mantissas with 18 decimals, expressed per block.
type JumpRateModel struct {
	BaseRatePerBlock       *big.Int
	MultiplierPerBlock     *big.Int
	JumpMultiplierPerBlock *big.Int
	Kink                   *big.Int
}

// NewJumpRateModel constructs a model from per-year mantissa rates.
func NewJumpRateModel(baseRatePerYear, multiplierPerYear, jumpMultiplierPerYear, kink *big.Int) *JumpRateModel {
	perBlock := func(perYear *big.Int) *big.Int {
		if perYear == nil || perYear.Sign() <= 0 {
			return big.NewInt(0)
		}
		return new(big.Int).Quo(perYear, big.NewInt(blocksPerYear))
	}
	model := &JumpRateModel{
		BaseRatePerBlock:       perBlock(baseRatePerYear),
		MultiplierPerBlock:     perBlock(multiplierPerYear),
		JumpMultiplierPerBlock: perBlock(jumpMultiplierPerYear),
		Kink:                   big.NewInt(0),
	}
	if kink != nil && kink.Sign() > 0 {
		model.Kink = new(big.Int).Set(kink)
	}
	return model
}

// Clone returns a deep copy of the model.
func (m *JumpRateModel) Clone() *JumpRateModel {
	if m == nil {
		return nil
	}
	clone := &JumpRateModel{
		BaseRatePerBlock:       big.NewInt(0),
		MultiplierPerBlock:     big.NewInt(0),
		JumpMultiplierPerBlock: big.NewInt(0),
		Kink:                   big.NewInt(0),
	}
	if m.BaseRatePerBlock != nil {
		clone.BaseRatePerBlock.Set(m.BaseRatePerBlock)
	}
	if m.MultiplierPerBlock != nil {
		clone.MultiplierPerBlock.Set(m.MultiplierPerBlock)
	}
	if m.JumpMultiplierPerBlock != nil {
		clone.JumpMultiplierPerBlock.Set(m.JumpMultiplierPerBlock)
	}
	if m.Kink != nil {
		clone.Kink.Set(m.Kink)
	}
	return clone
}

// Utilization computes U = borrows / (cash + borrows - reserves) as an 18
// decimal mantissa. Zero borrows define zero utilisation.
func (m *JumpRateModel) Utilization(cash, borrows, reserves *big.Int) *big.Int {
	if borrows == nil || borrows.Sign() == 0 {
		return big.NewInt(0)
	}
	denom := new(big.Int).Add(orZero(cash), borrows)
	denom.Sub(denom, orZero(reserves))
	if denom.Sign() <= 0 {
		return big.NewInt(0)
	}
	util := new(big.Int).Mul(borrows, mantissaOne)
	return util.Quo(util, denom)
}

// BorrowRate returns the per-block borrow rate mantissa for the given market
// balances. The curve is monotonically non-decreasing in utilisation.
func (m *JumpRateModel) BorrowRate(cash, borrows, reserves *big.Int) *big.Int {
	if m == nil {
		return big.NewInt(0)
	}
	util := m.Utilization(cash, borrows, reserves)
	base := orZero(m.BaseRatePerBlock)
	multiplier := orZero(m.MultiplierPerBlock)
	kink := orZero(m.Kink)

	if kink.Sign() == 0 || util.Cmp(kink) <= 0 {
		rate := new(big.Int).Mul(util, multiplier)
		rate.Quo(rate, mantissaOne)
		return rate.Add(rate, base)
	}

	// Rate at the kink plus the jump segment beyond it.
	rate := new(big.Int).Mul(kink, multiplier)
	rate.Quo(rate, mantissaOne)
	rate.Add(rate, base)

	excess := new(big.Int).Sub(util, kink)
	jump := new(big.Int).Mul(excess, orZero(m.JumpMultiplierPerBlock))
	jump.Quo(jump, mantissaOne)
	return rate.Add(rate, jump)
}

// SupplyRate derives the per-block supply rate as
// borrowRate * utilisation * (1 - reserveFactor).
func (m *JumpRateModel) SupplyRate(cash, borrows, reserves, reserveFactorMantissa *big.Int) *big.Int {
	if m == nil {
		return big.NewInt(0)
	}
	oneMinusReserve := new(big.Int).Sub(mantissaOne, orZero(reserveFactorMantissa))
	if oneMinusReserve.Sign() < 0 {
		oneMinusReserve.SetInt64(0)
	}
	borrowRate := m.BorrowRate(cash, borrows, reserves)
	rateToPool := new(big.Int).Mul(borrowRate, oneMinusReserve)
	rateToPool.Quo(rateToPool, mantissaOne)

	util := m.Utilization(cash, borrows, reserves)
	supplyRate := new(big.Int).Mul(util, rateToPool)
	return supplyRate.Quo(supplyRate, mantissaOne)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return zero
	}
	return v
}
