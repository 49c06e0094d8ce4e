package market

import "math/big"

var (
	mantissaOne = mustBigInt("1000000000000000000") // 1e18 fixed-point scale

	// maxBorrowRateMantissa bounds the per-block borrow rate a model may
	// return. Accrual halts the market instead of compounding a rate above
	// it. 0.0005% per block is far beyond any sane curve output.
	maxBorrowRateMantissa = mustBigInt("5000000000000")
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// mulTruncate computes a * b / 1e18 rounding toward zero. Used for amounts
// owed to users, where flooring favours the protocol.
func mulTruncate(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, mantissaOne)
}

// divTruncate computes a * 1e18 / b rounding toward zero.
func divTruncate(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(a, mantissaOne)
	return scaled.Quo(scaled, b)
}

// divCeil computes a * 1e18 / b rounding up. Used for amounts owed by users,
// where the ceiling favours the protocol.
func divCeil(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(a, mantissaOne)
	quo, rem := new(big.Int).QuoRem(scaled, b, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// mulScalar computes mantissa * scalar without rescaling.
func mulScalar(mantissa *big.Int, scalar uint64) *big.Int {
	if mantissa == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(mantissa, new(big.Int).SetUint64(scalar))
}
