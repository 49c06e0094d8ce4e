package events

import (
	"math/big"

	"anchorledger/core/types"
	"anchorledger/crypto"
)

const (
	TypeMarketAccrued    = "market.accrued"
	TypeMarketMinted     = "market.minted"
	TypeMarketRedeemed   = "market.redeemed"
	TypeMarketBorrowed   = "market.borrowed"
	TypeMarketRepaid     = "market.repaid"
	TypeMarketLiquidated = "market.liquidated"
	TypeMarketReserves   = "market.reserves"
)

// MarketAccrued records an interest accrual step on a market ledger.
type MarketAccrued struct {
	Symbol      string
	Block       uint64
	Interest    *big.Int
	BorrowIndex *big.Int
	TotalBorrow *big.Int
}

func (MarketAccrued) EventType() string { return TypeMarketAccrued }

func (e MarketAccrued) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketAccrued,
		Attributes: map[string]string{
			"symbol":      normalizeAsset(e.Symbol),
			"block":       uintToString(e.Block),
			"interest":    formatAmount(e.Interest),
			"borrowIndex": formatAmount(e.BorrowIndex),
			"totalBorrow": formatAmount(e.TotalBorrow),
		},
	}
}

// MarketMinted records a supply of underlying in exchange for claim tokens.
type MarketMinted struct {
	Symbol     string
	Minter     crypto.Address
	Amount     *big.Int
	MintTokens *big.Int
}

func (MarketMinted) EventType() string { return TypeMarketMinted }

func (e MarketMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketMinted,
		Attributes: map[string]string{
			"symbol":     normalizeAsset(e.Symbol),
			"minter":     e.Minter.String(),
			"amount":     formatAmount(e.Amount),
			"mintTokens": formatAmount(e.MintTokens),
		},
	}
}

// MarketRedeemed records a claim-token burn and the underlying routed to the
// redemption escrow.
type MarketRedeemed struct {
	Symbol       string
	Redeemer     crypto.Address
	RedeemTokens *big.Int
	Amount       *big.Int
}

func (MarketRedeemed) EventType() string { return TypeMarketRedeemed }

func (e MarketRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketRedeemed,
		Attributes: map[string]string{
			"symbol":       normalizeAsset(e.Symbol),
			"redeemer":     e.Redeemer.String(),
			"redeemTokens": formatAmount(e.RedeemTokens),
			"amount":       formatAmount(e.Amount),
		},
	}
}

// MarketBorrowed records a borrow drawn against posted collateral.
type MarketBorrowed struct {
	Symbol       string
	Borrower     crypto.Address
	Amount       *big.Int
	AccountDebt  *big.Int
	TotalBorrows *big.Int
}

func (MarketBorrowed) EventType() string { return TypeMarketBorrowed }

func (e MarketBorrowed) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketBorrowed,
		Attributes: map[string]string{
			"symbol":       normalizeAsset(e.Symbol),
			"borrower":     e.Borrower.String(),
			"amount":       formatAmount(e.Amount),
			"accountDebt":  formatAmount(e.AccountDebt),
			"totalBorrows": formatAmount(e.TotalBorrows),
		},
	}
}

// MarketRepaid records a borrow repayment.
type MarketRepaid struct {
	Symbol       string
	Payer        crypto.Address
	Borrower     crypto.Address
	Amount       *big.Int
	AccountDebt  *big.Int
	TotalBorrows *big.Int
}

func (MarketRepaid) EventType() string { return TypeMarketRepaid }

func (e MarketRepaid) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketRepaid,
		Attributes: map[string]string{
			"symbol":       normalizeAsset(e.Symbol),
			"payer":        e.Payer.String(),
			"borrower":     e.Borrower.String(),
			"amount":       formatAmount(e.Amount),
			"accountDebt":  formatAmount(e.AccountDebt),
			"totalBorrows": formatAmount(e.TotalBorrows),
		},
	}
}

// MarketLiquidated records a liquidation: debt repaid on the borrowed market
// and claim tokens seized on the collateral market.
type MarketLiquidated struct {
	Symbol           string
	CollateralSymbol string
	Liquidator       crypto.Address
	Borrower         crypto.Address
	RepayAmount      *big.Int
	SeizeTokens      *big.Int
}

func (MarketLiquidated) EventType() string { return TypeMarketLiquidated }

func (e MarketLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketLiquidated,
		Attributes: map[string]string{
			"symbol":           normalizeAsset(e.Symbol),
			"collateralSymbol": normalizeAsset(e.CollateralSymbol),
			"liquidator":       e.Liquidator.String(),
			"borrower":         e.Borrower.String(),
			"repayAmount":      formatAmount(e.RepayAmount),
			"seizeTokens":      formatAmount(e.SeizeTokens),
		},
	}
}

// MarketReserves records an admin reserve adjustment.
type MarketReserves struct {
	Symbol        string
	Admin         crypto.Address
	Delta         *big.Int
	TotalReserves *big.Int
}

func (MarketReserves) EventType() string { return TypeMarketReserves }

func (e MarketReserves) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketReserves,
		Attributes: map[string]string{
			"symbol":        normalizeAsset(e.Symbol),
			"admin":         e.Admin.String(),
			"delta":         formatAmount(e.Delta),
			"totalReserves": formatAmount(e.TotalReserves),
		},
	}
}
