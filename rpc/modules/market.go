package modules

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"anchorledger/core"
	"anchorledger/crypto"
	"anchorledger/observability/metrics"
)

// MarketModule exposes money market operations to the RPC layer.
type MarketModule struct {
	protocol *core.Protocol
}

func NewMarketModule(protocol *core.Protocol) *MarketModule {
	return &MarketModule{protocol: protocol}
}

func (m *MarketModule) moduleUnavailable() *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "market module not available"}
}

// LedgerResult is the JSON view of a market ledger.
type LedgerResult struct {
	Symbol        string `json:"symbol"`
	TotalSupply   string `json:"totalSupply"`
	TotalBorrows  string `json:"totalBorrows"`
	TotalReserves string `json:"totalReserves"`
	Cash          string `json:"cash"`
	BorrowIndex   string `json:"borrowIndex"`
	ExchangeRate  string `json:"exchangeRate"`
	AccrualBlock  uint64 `json:"accrualBlock"`
}

// SnapshotResult is the JSON view of an account's position in one market.
type SnapshotResult struct {
	TokenBalance  string `json:"tokenBalance"`
	BorrowBalance string `json:"borrowBalance"`
	ExchangeRate  string `json:"exchangeRate"`
}

func (m *MarketModule) GetLedger(symbol string) (*LedgerResult, *ModuleError) {
	if m == nil || m.protocol == nil {
		return nil, m.moduleUnavailable()
	}
	ledger, err := m.protocol.MarketLedger(symbol)
	if err != nil {
		return nil, m.wrapError(err)
	}
	if ledger == nil {
		return nil, &ModuleError{HTTPStatus: http.StatusNotFound, Code: codeServerError, Message: "market ledger not found"}
	}
	rate, err := m.protocol.ExchangeRate(symbol)
	if err != nil {
		return nil, m.wrapError(err)
	}
	metrics.Market().SetExchangeRate(symbol, mantissaFloat(rate))
	metrics.Market().SetTotalBorrows(symbol, mantissaFloat(ledger.TotalBorrows))
	return &LedgerResult{
		Symbol:        ledger.Symbol,
		TotalSupply:   bigString(ledger.TotalSupply),
		TotalBorrows:  bigString(ledger.TotalBorrows),
		TotalReserves: bigString(ledger.TotalReserves),
		Cash:          bigString(ledger.CashWei),
		BorrowIndex:   bigString(ledger.BorrowIndex),
		ExchangeRate:  bigString(rate),
		AccrualBlock:  ledger.AccrualBlock,
	}, nil
}

func (m *MarketModule) GetAccountSnapshot(symbol string, addr crypto.Address) (*SnapshotResult, *ModuleError) {
	if m == nil || m.protocol == nil {
		return nil, m.moduleUnavailable()
	}
	snapshot, err := m.protocol.AccountSnapshot(symbol, addr)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return &SnapshotResult{
		TokenBalance:  bigString(snapshot.TokenBalance),
		BorrowBalance: bigString(snapshot.BorrowBalance),
		ExchangeRate:  bigString(snapshot.ExchangeRateMantissa),
	}, nil
}

func (m *MarketModule) AccrueInterest(symbol string) (string, *ModuleError) {
	if m == nil || m.protocol == nil {
		return "", m.moduleUnavailable()
	}
	err := m.protocol.AccrueInterest(symbol)
	metrics.Market().ObserveOperation(symbol, "accrue", err)
	if err != nil {
		return "", m.wrapError(err)
	}
	metrics.Market().ObserveAccrual(symbol)
	return m.makeTxHash("accrue", symbol, nil), nil
}

func (m *MarketModule) Mint(symbol string, minter crypto.Address, amount *big.Int) (string, *big.Int, *ModuleError) {
	if m == nil || m.protocol == nil {
		return "", nil, m.moduleUnavailable()
	}
	minted, err := m.protocol.Mint(symbol, minter, amount)
	metrics.Market().ObserveOperation(symbol, "mint", err)
	if err != nil {
		return "", nil, m.wrapError(err)
	}
	return m.makeTxHash("mint", minter.String(), amount, minted), minted, nil
}

func (m *MarketModule) Redeem(symbol string, redeemer crypto.Address, tokens *big.Int) (string, *big.Int, *ModuleError) {
	if m == nil || m.protocol == nil {
		return "", nil, m.moduleUnavailable()
	}
	paid, err := m.protocol.Redeem(symbol, redeemer, tokens)
	metrics.Market().ObserveOperation(symbol, "redeem", err)
	if err != nil {
		return "", nil, m.wrapError(err)
	}
	return m.makeTxHash("redeem", redeemer.String(), tokens, paid), paid, nil
}

func (m *MarketModule) RedeemUnderlying(symbol string, redeemer crypto.Address, amount *big.Int) (string, *big.Int, *ModuleError) {
	if m == nil || m.protocol == nil {
		return "", nil, m.moduleUnavailable()
	}
	burned, err := m.protocol.RedeemUnderlying(symbol, redeemer, amount)
	metrics.Market().ObserveOperation(symbol, "redeemUnderlying", err)
	if err != nil {
		return "", nil, m.wrapError(err)
	}
	return m.makeTxHash("redeem-underlying", redeemer.String(), amount, burned), burned, nil
}

func (m *MarketModule) Borrow(symbol string, borrower crypto.Address, amount *big.Int) (string, *ModuleError) {
	if m == nil || m.protocol == nil {
		return "", m.moduleUnavailable()
	}
	err := m.protocol.Borrow(symbol, borrower, amount)
	metrics.Market().ObserveOperation(symbol, "borrow", err)
	if err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("borrow", borrower.String(), amount), nil
}

func (m *MarketModule) RepayBorrow(symbol string, payer, borrower crypto.Address, amount *big.Int) (string, *big.Int, *ModuleError) {
	if m == nil || m.protocol == nil {
		return "", nil, m.moduleUnavailable()
	}
	repaid, err := m.protocol.RepayBorrow(symbol, payer, borrower, amount)
	metrics.Market().ObserveOperation(symbol, "repay", err)
	if err != nil {
		return "", nil, m.wrapError(err)
	}
	primary := fmt.Sprintf("%s:%s", payer.String(), borrower.String())
	return m.makeTxHash("repay", primary, amount, repaid), repaid, nil
}

func (m *MarketModule) Liquidate(borrowedSymbol, collateralSymbol string, liquidator, borrower crypto.Address, repayAmount *big.Int) (string, *big.Int, *ModuleError) {
	if m == nil || m.protocol == nil {
		return "", nil, m.moduleUnavailable()
	}
	seized, err := m.protocol.LiquidateBorrow(borrowedSymbol, collateralSymbol, liquidator, borrower, repayAmount)
	metrics.Market().ObserveOperation(borrowedSymbol, "liquidate", err)
	if err != nil {
		return "", nil, m.wrapError(err)
	}
	metrics.Market().ObserveLiquidation(borrowedSymbol, collateralSymbol)
	primary := fmt.Sprintf("%s:%s", liquidator.String(), borrower.String())
	return m.makeTxHash("liquidate", primary, repayAmount, seized), seized, nil
}

func (m *MarketModule) makeTxHash(kind, primary string, amount *big.Int, extras ...*big.Int) string {
	parts := []string{kind, primary}
	if amount != nil {
		parts = append(parts, amount.String())
	}
	for _, extra := range extras {
		if extra != nil {
			parts = append(parts, extra.String())
		}
	}
	parts = append(parts, fmt.Sprintf("%d", m.protocol.BlockHeight()))
	parts = append(parts, uuid.NewString())
	payload := strings.Join(parts, "|")
	hash := ethcrypto.Keccak256([]byte(payload))
	return "0x" + hex.EncodeToString(hash)
}

func (m *MarketModule) wrapError(err error) *ModuleError {
	return wrapEngineError(err)
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// mantissaFloat scales an 18-decimal mantissa down for gauge export.
func mantissaFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), big.NewFloat(1e18)).Float64()
	return f
}
