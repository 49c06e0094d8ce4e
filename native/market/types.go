package market

import (
	"math/big"

	"anchorledger/crypto"
)

// Ledger captures the global accounting state for a single interest-bearing
// market. Amount values are denominated in wei and expressed as big integers
// to keep the on-ledger precision exact.
type Ledger struct {
	// Symbol is the asset identifier of the underlying this market pools.
	Symbol string
	// TotalSupply is the outstanding claim-token supply.
	TotalSupply *big.Int
	// TotalBorrows tracks the outstanding underlying borrowed across all
	// accounts, including accrued interest.
	TotalBorrows *big.Int
	// TotalReserves is the slice of accrued interest retained by the
	// protocol rather than suppliers.
	TotalReserves *big.Int
	// CashWei is the idle underlying held by the market vault.
	CashWei *big.Int
	// BorrowIndex is the cumulative borrow-interest multiplier. Per-account
	// debt scales by BorrowIndex / Position.InterestIndex.
	BorrowIndex *big.Int
	// AccrualBlock records the block height when interest was last accrued.
	AccrualBlock uint64
	// ReserveFactorMantissa is the share of accrued interest routed to
	// reserves, as an 18 decimal mantissa.
	ReserveFactorMantissa *big.Int
	// InitialExchangeRateMantissa seeds the exchange rate while the claim
	// token supply is zero.
	InitialExchangeRateMantissa *big.Int
}

// Position maintains the market position for an individual account.
type Position struct {
	// Address is the account the position belongs to.
	Address crypto.Address
	// TokenBalance is the account's claim-token balance.
	TokenBalance *big.Int
	// BorrowPrincipal stores the underlying owed as of the last borrow-side
	// action on this account.
	BorrowPrincipal *big.Int
	// InterestIndex is the borrow index snapshot taken with the principal.
	InterestIndex *big.Int
}

// Snapshot is the read-only view the risk engine consumes when valuing an
// account across markets.
type Snapshot struct {
	TokenBalance         *big.Int
	BorrowBalance        *big.Int
	ExchangeRateMantissa *big.Int
}

// Clone returns a deep copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return nil
	}
	clone := &Ledger{Symbol: l.Symbol, AccrualBlock: l.AccrualBlock}
	clone.TotalSupply = copyInt(l.TotalSupply)
	clone.TotalBorrows = copyInt(l.TotalBorrows)
	clone.TotalReserves = copyInt(l.TotalReserves)
	clone.CashWei = copyInt(l.CashWei)
	clone.BorrowIndex = copyInt(l.BorrowIndex)
	clone.ReserveFactorMantissa = copyInt(l.ReserveFactorMantissa)
	clone.InitialExchangeRateMantissa = copyInt(l.InitialExchangeRateMantissa)
	return clone
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{Address: p.Address}
	clone.TokenBalance = copyInt(p.TokenBalance)
	clone.BorrowPrincipal = copyInt(p.BorrowPrincipal)
	clone.InterestIndex = copyInt(p.InterestIndex)
	return clone
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
