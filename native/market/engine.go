package market

import (
	"errors"
	"math/big"
	"strings"

	"anchorledger/core/events"
	"anchorledger/crypto"
	nativecommon "anchorledger/native/common"
)

var (
	errNilState            = errors.New("market engine: state not configured")
	errNilLedger           = errors.New("market engine: ledger not initialised")
	errNilToken            = errors.New("market engine: underlying token not configured")
	errNilRateModel        = errors.New("market engine: rate model not configured")
	errNilRiskGate         = errors.New("market engine: risk gate not configured")
	errInvalidAmount       = errors.New("market engine: amount must be positive")
	errUnauthorized        = errors.New("market engine: unauthorized")
	errNoDebtToRepay       = errors.New("market engine: no outstanding debt to repay")
	errSelfLiquidation     = errors.New("market engine: borrower cannot liquidate themselves")
	errStaleAccrual        = errors.New("market engine: ledger accrual is stale")
	errInsufficientTokens  = errors.New("market engine: insufficient claim token balance")
	errInsufficientReserve = errors.New("market engine: insufficient reserves")

	// ErrRateOutOfBounds halts a market whose rate model returned a borrow
	// rate above the sanity ceiling.
	ErrRateOutOfBounds = errors.New("market engine: borrow rate exceeds sanity bound")
	// ErrInsufficientLiquidity signals the market vault cannot honour a payout.
	ErrInsufficientLiquidity = errors.New("market engine: insufficient liquidity")
	// ErrSeizeTooMuch signals a liquidation seize exceeding the borrower's
	// claim token balance.
	ErrSeizeTooMuch = errors.New("market engine: seize amount exceeds collateral balance")
)

const moduleName = "market"

type engineState interface {
	GetLedger(symbol string) (*Ledger, error)
	PutLedger(symbol string, ledger *Ledger) error
	GetPosition(symbol string, addr crypto.Address) (*Position, error)
	PutPosition(symbol string, position *Position) error
}

// Token exposes the external underlying asset via transfer/balance
// primitives. Any failure aborts the operation.
type Token interface {
	Transfer(from, to crypto.Address, amount *big.Int) error
	BalanceOf(addr crypto.Address) (*big.Int, error)
}

// RiskGate is the authorization surface the risk engine presents to a market.
// Every state transition asks the gate before mutating the ledger.
type RiskGate interface {
	MintAllowed(symbol string, minter crypto.Address, amount *big.Int) error
	RedeemAllowed(symbol string, redeemer crypto.Address, redeemTokens *big.Int) error
	BorrowAllowed(symbol string, borrower crypto.Address, amount *big.Int) error
	RepayAllowed(symbol string, borrower crypto.Address) error
	LiquidateAllowed(borrowedSymbol, collateralSymbol string, borrower crypto.Address, repayAmount *big.Int) error
	SeizeAllowed(collateralSymbol, borrowedSymbol string) error
	CalculateSeizeTokens(borrowedSymbol, collateralSymbol string, repayAmount *big.Int) (*big.Int, error)
}

// RateModel is the pluggable interest-rate curve.
type RateModel interface {
	BorrowRate(cash, borrows, reserves *big.Int) *big.Int
	SupplyRate(cash, borrows, reserves, reserveFactorMantissa *big.Int) *big.Int
}

// RedemptionSink receives redeemed underlying. The escrow engine implements
// it; a nil sink makes redemptions pay out directly.
type RedemptionSink interface {
	Deposit(account crypto.Address, amount *big.Int) error
}

// VoteHook observes claim-token movements so the governance vote ledger can
// shift delegated voting weight. A zero src or dst marks the mint/burn side.
type VoteHook interface {
	TokensMoved(src, dst crypto.Address, amount *big.Int, block uint64) error
}

// Engine orchestrates the state transitions for one interest-bearing market.
type Engine struct {
	state       engineState
	symbol      string
	vault       crypto.Address
	admin       crypto.Address
	token       Token
	rateModel   RateModel
	riskGate    RiskGate
	escrow      RedemptionSink
	voteHook    VoteHook
	emitter     events.Emitter
	pauses      nativecommon.PauseView
	blockHeight uint64
}

// NewEngine constructs a market engine for the given underlying symbol. The
// vault address holds the market's idle underlying.
func NewEngine(symbol string, vault crypto.Address) *Engine {
	return &Engine{
		symbol:  strings.ToUpper(strings.TrimSpace(symbol)),
		vault:   vault,
		emitter: events.NoopEmitter{},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetToken wires the underlying asset primitives.
func (e *Engine) SetToken(token Token) { e.token = token }

// SetRateModel configures the interest-rate curve used during accrual.
func (e *Engine) SetRateModel(model RateModel) { e.rateModel = model }

// SetRiskGate wires the risk engine authorization surface.
func (e *Engine) SetRiskGate(gate RiskGate) { e.riskGate = gate }

// SetEscrow routes redemption payouts through the given sink. Nil restores
// direct transfers.
func (e *Engine) SetEscrow(sink RedemptionSink) { e.escrow = sink }

// SetVoteHook registers the governance vote ledger hook used by the staked
// market variant. Nil disables vote tracking.
func (e *Engine) SetVoteHook(hook VoteHook) { e.voteHook = hook }

// SetEmitter configures the event emitter. Nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the global circuit breaker view.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetBlockHeight records the block height used when computing accrual deltas.
func (e *Engine) SetBlockHeight(height uint64) { e.blockHeight = height }

// SetAdmin assigns the address allowed to move reserves.
func (e *Engine) SetAdmin(admin crypto.Address) { e.admin = admin }

// Symbol returns the underlying asset identifier of this market.
func (e *Engine) Symbol() string { return e.symbol }

// Vault returns the address holding the market's idle underlying.
func (e *Engine) Vault() crypto.Address { return e.vault }

// AccrueInterest advances the ledger to the current block. It is idempotent
// within a block and commits on its own: a later failure of the surrounding
// operation does not undo a valid accrual.
func (e *Engine) AccrueInterest() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	ledger, err := e.ensureLedger()
	if err != nil {
		return err
	}
	changed, err := e.accrue(ledger)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return e.state.PutLedger(e.symbol, ledger)
}

func (e *Engine) accrue(ledger *Ledger) (bool, error) {
	if ledger == nil {
		return false, errNilLedger
	}
	if e.blockHeight < ledger.AccrualBlock {
		return false, errStaleAccrual
	}
	if e.blockHeight == ledger.AccrualBlock {
		return false, nil
	}
	if e.rateModel == nil {
		return false, errNilRateModel
	}

	borrowRate := e.rateModel.BorrowRate(ledger.CashWei, ledger.TotalBorrows, ledger.TotalReserves)
	if borrowRate == nil {
		borrowRate = big.NewInt(0)
	}
	if borrowRate.Cmp(maxBorrowRateMantissa) > 0 {
		return false, ErrRateOutOfBounds
	}

	delta := e.blockHeight - ledger.AccrualBlock
	simpleInterestFactor := mulScalar(borrowRate, delta)

	interest := mulTruncate(simpleInterestFactor, ledger.TotalBorrows)
	ledger.TotalBorrows = new(big.Int).Add(ledger.TotalBorrows, interest)
	reserveSlice := mulTruncate(ledger.ReserveFactorMantissa, interest)
	ledger.TotalReserves = new(big.Int).Add(ledger.TotalReserves, reserveSlice)
	indexDelta := mulTruncate(simpleInterestFactor, ledger.BorrowIndex)
	ledger.BorrowIndex = new(big.Int).Add(ledger.BorrowIndex, indexDelta)
	ledger.AccrualBlock = e.blockHeight

	e.emitter.Emit(events.MarketAccrued{
		Symbol:      e.symbol,
		Block:       e.blockHeight,
		Interest:    interest,
		BorrowIndex: new(big.Int).Set(ledger.BorrowIndex),
		TotalBorrow: new(big.Int).Set(ledger.TotalBorrows),
	})
	return true, nil
}

// Mint pulls underlying from the minter and credits claim tokens at the
// current exchange rate. Minting cannot reduce account health, so no
// solvency check is required beyond the pause gate.
func (e *Engine) Mint(minter crypto.Address, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if e.token == nil {
		return nil, errNilToken
	}
	if e.riskGate == nil {
		return nil, errNilRiskGate
	}
	if err := e.AccrueInterest(); err != nil {
		return nil, err
	}
	if err := e.riskGate.MintAllowed(e.symbol, minter, amount); err != nil {
		return nil, err
	}

	ledger, err := e.ensureLedger()
	if err != nil {
		return nil, err
	}
	rate := exchangeRate(ledger)
	mintTokens := divTruncate(amount, rate)
	if mintTokens.Sign() == 0 {
		return nil, errInvalidAmount
	}

	if err := e.token.Transfer(minter, e.vault, amount); err != nil {
		return nil, err
	}

	position, err := e.ensurePosition(minter)
	if err != nil {
		return nil, err
	}
	position.TokenBalance = new(big.Int).Add(position.TokenBalance, mintTokens)
	ledger.TotalSupply = new(big.Int).Add(ledger.TotalSupply, mintTokens)
	ledger.CashWei = new(big.Int).Add(ledger.CashWei, amount)

	if err := e.state.PutPosition(e.symbol, position); err != nil {
		return nil, err
	}
	if err := e.state.PutLedger(e.symbol, ledger); err != nil {
		return nil, err
	}
	if err := e.notifyTokensMoved(crypto.ZeroAddress(), minter, mintTokens); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.MarketMinted{
		Symbol:     e.symbol,
		Minter:     minter,
		Amount:     new(big.Int).Set(amount),
		MintTokens: new(big.Int).Set(mintTokens),
	})
	return mintTokens, nil
}

// Redeem burns the given claim tokens and routes the corresponding
// underlying through the redemption sink. The underlying amount is floored
// in the protocol's favour.
func (e *Engine) Redeem(redeemer crypto.Address, tokensIn *big.Int) (*big.Int, error) {
	if tokensIn == nil || tokensIn.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	return e.redeemInternal(redeemer, new(big.Int).Set(tokensIn), nil)
}

// RedeemUnderlying redeems exactly amountOut of underlying, burning the
// claim tokens required at the current exchange rate (rounded up).
func (e *Engine) RedeemUnderlying(redeemer crypto.Address, amountOut *big.Int) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	return e.redeemInternal(redeemer, nil, new(big.Int).Set(amountOut))
}

func (e *Engine) redeemInternal(redeemer crypto.Address, tokensIn, amountOut *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.token == nil {
		return nil, errNilToken
	}
	if e.riskGate == nil {
		return nil, errNilRiskGate
	}
	if err := e.AccrueInterest(); err != nil {
		return nil, err
	}

	ledger, err := e.ensureLedger()
	if err != nil {
		return nil, err
	}
	rate := exchangeRate(ledger)

	var redeemTokens, redeemAmount *big.Int
	if tokensIn != nil {
		redeemTokens = tokensIn
		redeemAmount = mulTruncate(tokensIn, rate)
	} else {
		redeemTokens = divCeil(amountOut, rate)
		redeemAmount = amountOut
	}
	if redeemTokens.Sign() <= 0 || redeemAmount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	position, err := e.ensurePosition(redeemer)
	if err != nil {
		return nil, err
	}
	if position.TokenBalance.Cmp(redeemTokens) < 0 {
		return nil, errInsufficientTokens
	}
	if ledger.CashWei.Cmp(redeemAmount) < 0 {
		return nil, ErrInsufficientLiquidity
	}
	if err := e.riskGate.RedeemAllowed(e.symbol, redeemer, redeemTokens); err != nil {
		return nil, err
	}

	position.TokenBalance = new(big.Int).Sub(position.TokenBalance, redeemTokens)
	ledger.TotalSupply = new(big.Int).Sub(ledger.TotalSupply, redeemTokens)
	ledger.CashWei = new(big.Int).Sub(ledger.CashWei, redeemAmount)

	if err := e.state.PutPosition(e.symbol, position); err != nil {
		return nil, err
	}
	if err := e.state.PutLedger(e.symbol, ledger); err != nil {
		return nil, err
	}

	if e.escrow != nil {
		if err := e.escrow.Deposit(redeemer, redeemAmount); err != nil {
			return nil, err
		}
	} else if err := e.token.Transfer(e.vault, redeemer, redeemAmount); err != nil {
		return nil, err
	}

	if err := e.notifyTokensMoved(redeemer, crypto.ZeroAddress(), redeemTokens); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.MarketRedeemed{
		Symbol:       e.symbol,
		Redeemer:     redeemer,
		RedeemTokens: new(big.Int).Set(redeemTokens),
		Amount:       new(big.Int).Set(redeemAmount),
	})
	if tokensIn != nil {
		return redeemAmount, nil
	}
	return redeemTokens, nil
}

// Borrow draws underlying from the vault against the borrower's collateral.
// The risk gate performs the hypothetical solvency check before any state
// changes; payout is a direct transfer, not escrowed.
func (e *Engine) Borrow(borrower crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if e.token == nil {
		return errNilToken
	}
	if e.riskGate == nil {
		return errNilRiskGate
	}
	if err := e.AccrueInterest(); err != nil {
		return err
	}

	ledger, err := e.ensureLedger()
	if err != nil {
		return err
	}
	if ledger.CashWei.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	if err := e.riskGate.BorrowAllowed(e.symbol, borrower, amount); err != nil {
		return err
	}

	position, err := e.ensurePosition(borrower)
	if err != nil {
		return err
	}
	owed := borrowBalance(position, ledger)
	newDebt := new(big.Int).Add(owed, amount)

	position.BorrowPrincipal = newDebt
	position.InterestIndex = new(big.Int).Set(ledger.BorrowIndex)
	ledger.TotalBorrows = new(big.Int).Add(ledger.TotalBorrows, amount)
	ledger.CashWei = new(big.Int).Sub(ledger.CashWei, amount)

	if err := e.state.PutPosition(e.symbol, position); err != nil {
		return err
	}
	if err := e.state.PutLedger(e.symbol, ledger); err != nil {
		return err
	}
	if err := e.token.Transfer(e.vault, borrower, amount); err != nil {
		return err
	}

	e.emitter.Emit(events.MarketBorrowed{
		Symbol:       e.symbol,
		Borrower:     borrower,
		Amount:       new(big.Int).Set(amount),
		AccountDebt:  new(big.Int).Set(newDebt),
		TotalBorrows: new(big.Int).Set(ledger.TotalBorrows),
	})
	return nil
}

// RepayBorrow pulls underlying from the payer and reduces the borrower's
// debt. The repayment is clamped to the outstanding balance; the amount
// actually repaid is returned.
func (e *Engine) RepayBorrow(payer, borrower crypto.Address, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if e.token == nil {
		return nil, errNilToken
	}
	if e.riskGate == nil {
		return nil, errNilRiskGate
	}
	if err := e.AccrueInterest(); err != nil {
		return nil, err
	}
	if err := e.riskGate.RepayAllowed(e.symbol, borrower); err != nil {
		return nil, err
	}
	return e.repayInternal(payer, borrower, amount)
}

func (e *Engine) repayInternal(payer, borrower crypto.Address, amount *big.Int) (*big.Int, error) {
	ledger, err := e.ensureLedger()
	if err != nil {
		return nil, err
	}
	position, err := e.ensurePosition(borrower)
	if err != nil {
		return nil, err
	}
	owed := borrowBalance(position, ledger)
	if owed.Sign() == 0 {
		return nil, errNoDebtToRepay
	}
	repay := new(big.Int).Set(amount)
	if repay.Cmp(owed) > 0 {
		repay = new(big.Int).Set(owed)
	}

	if err := e.token.Transfer(payer, e.vault, repay); err != nil {
		return nil, err
	}

	position.BorrowPrincipal = new(big.Int).Sub(owed, repay)
	position.InterestIndex = new(big.Int).Set(ledger.BorrowIndex)
	ledger.TotalBorrows = new(big.Int).Sub(ledger.TotalBorrows, repay)
	if ledger.TotalBorrows.Sign() < 0 {
		ledger.TotalBorrows = big.NewInt(0)
	}
	ledger.CashWei = new(big.Int).Add(ledger.CashWei, repay)

	if err := e.state.PutPosition(e.symbol, position); err != nil {
		return nil, err
	}
	if err := e.state.PutLedger(e.symbol, ledger); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.MarketRepaid{
		Symbol:       e.symbol,
		Payer:        payer,
		Borrower:     borrower,
		Amount:       new(big.Int).Set(repay),
		AccountDebt:  new(big.Int).Set(position.BorrowPrincipal),
		TotalBorrows: new(big.Int).Set(ledger.TotalBorrows),
	})
	return repay, nil
}

// LiquidateBorrow lets a third party repay part of an under-collateralized
// borrower's debt on this market in exchange for seized claim tokens on the
// collateral market. Both ledgers mutate in one logical unit: every check
// that could fail runs before the first write.
func (e *Engine) LiquidateBorrow(liquidator, borrower crypto.Address, repayAmount *big.Int, collateral *Engine) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if repayAmount == nil || repayAmount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if collateral == nil || collateral.state == nil {
		return nil, errNilState
	}
	if liquidator.Equal(borrower) {
		return nil, errSelfLiquidation
	}
	if e.token == nil {
		return nil, errNilToken
	}
	if e.riskGate == nil {
		return nil, errNilRiskGate
	}

	if err := e.AccrueInterest(); err != nil {
		return nil, err
	}
	if err := collateral.AccrueInterest(); err != nil {
		return nil, err
	}

	if err := e.riskGate.LiquidateAllowed(e.symbol, collateral.symbol, borrower, repayAmount); err != nil {
		return nil, err
	}
	seizeTokens, err := e.riskGate.CalculateSeizeTokens(e.symbol, collateral.symbol, repayAmount)
	if err != nil {
		return nil, err
	}
	if err := collateral.seizeChecks(e.symbol, borrower, seizeTokens); err != nil {
		return nil, err
	}

	repaid, err := e.repayInternal(liquidator, borrower, repayAmount)
	if err != nil {
		return nil, err
	}
	if err := collateral.applySeize(liquidator, borrower, seizeTokens); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.MarketLiquidated{
		Symbol:           e.symbol,
		CollateralSymbol: collateral.symbol,
		Liquidator:       liquidator,
		Borrower:         borrower,
		RepayAmount:      repaid,
		SeizeTokens:      new(big.Int).Set(seizeTokens),
	})
	return seizeTokens, nil
}

// Seize transfers claim-token ownership from borrower to liquidator on this
// market. No underlying moves. Called on the collateral market.
func (e *Engine) Seize(borrowedSymbol string, liquidator, borrower crypto.Address, seizeTokens *big.Int) error {
	if err := e.seizeChecks(borrowedSymbol, borrower, seizeTokens); err != nil {
		return err
	}
	return e.applySeize(liquidator, borrower, seizeTokens)
}

func (e *Engine) seizeChecks(borrowedSymbol string, borrower crypto.Address, seizeTokens *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if seizeTokens == nil || seizeTokens.Sign() <= 0 {
		return errInvalidAmount
	}
	if e.riskGate == nil {
		return errNilRiskGate
	}
	if err := e.riskGate.SeizeAllowed(e.symbol, borrowedSymbol); err != nil {
		return err
	}
	position, err := e.ensurePosition(borrower)
	if err != nil {
		return err
	}
	if position.TokenBalance.Cmp(seizeTokens) < 0 {
		return ErrSeizeTooMuch
	}
	return nil
}

func (e *Engine) applySeize(liquidator, borrower crypto.Address, seizeTokens *big.Int) error {
	borrowerPos, err := e.ensurePosition(borrower)
	if err != nil {
		return err
	}
	liquidatorPos, err := e.ensurePosition(liquidator)
	if err != nil {
		return err
	}
	borrowerPos.TokenBalance = new(big.Int).Sub(borrowerPos.TokenBalance, seizeTokens)
	liquidatorPos.TokenBalance = new(big.Int).Add(liquidatorPos.TokenBalance, seizeTokens)

	if err := e.state.PutPosition(e.symbol, borrowerPos); err != nil {
		return err
	}
	if err := e.state.PutPosition(e.symbol, liquidatorPos); err != nil {
		return err
	}
	return e.notifyTokensMoved(borrower, liquidator, seizeTokens)
}

// AddReserves pulls underlying from the caller straight into reserves.
func (e *Engine) AddReserves(from crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if e.token == nil {
		return errNilToken
	}
	if err := e.AccrueInterest(); err != nil {
		return err
	}
	ledger, err := e.ensureLedger()
	if err != nil {
		return err
	}
	if err := e.token.Transfer(from, e.vault, amount); err != nil {
		return err
	}
	ledger.TotalReserves = new(big.Int).Add(ledger.TotalReserves, amount)
	ledger.CashWei = new(big.Int).Add(ledger.CashWei, amount)
	if err := e.state.PutLedger(e.symbol, ledger); err != nil {
		return err
	}
	e.emitter.Emit(events.MarketReserves{
		Symbol:        e.symbol,
		Admin:         from,
		Delta:         new(big.Int).Set(amount),
		TotalReserves: new(big.Int).Set(ledger.TotalReserves),
	})
	return nil
}

// ReduceReserves pays accumulated reserves out to the admin.
func (e *Engine) ReduceReserves(caller crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !caller.Equal(e.admin) {
		return errUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if e.token == nil {
		return errNilToken
	}
	if err := e.AccrueInterest(); err != nil {
		return err
	}
	ledger, err := e.ensureLedger()
	if err != nil {
		return err
	}
	if ledger.TotalReserves.Cmp(amount) < 0 {
		return errInsufficientReserve
	}
	if ledger.CashWei.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	ledger.TotalReserves = new(big.Int).Sub(ledger.TotalReserves, amount)
	ledger.CashWei = new(big.Int).Sub(ledger.CashWei, amount)
	if err := e.state.PutLedger(e.symbol, ledger); err != nil {
		return err
	}
	if err := e.token.Transfer(e.vault, caller, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.MarketReserves{
		Symbol:        e.symbol,
		Admin:         caller,
		Delta:         new(big.Int).Neg(amount),
		TotalReserves: new(big.Int).Set(ledger.TotalReserves),
	})
	return nil
}

// AccountSnapshot returns the claim-token balance, current borrow balance and
// exchange rate for the account, the view the risk engine values accounts on.
func (e *Engine) AccountSnapshot(addr crypto.Address) (*Snapshot, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ledger, err := e.ensureLedger()
	if err != nil {
		return nil, err
	}
	position, err := e.ensurePosition(addr)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		TokenBalance:         new(big.Int).Set(position.TokenBalance),
		BorrowBalance:        borrowBalance(position, ledger),
		ExchangeRateMantissa: exchangeRate(ledger),
	}, nil
}

// BorrowBalance returns the account's debt scaled to the current borrow index.
func (e *Engine) BorrowBalance(addr crypto.Address) (*big.Int, error) {
	snapshot, err := e.AccountSnapshot(addr)
	if err != nil {
		return nil, err
	}
	return snapshot.BorrowBalance, nil
}

// ExchangeRate returns the current underlying-per-claim-token mantissa.
func (e *Engine) ExchangeRate() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ledger, err := e.ensureLedger()
	if err != nil {
		return nil, err
	}
	return exchangeRate(ledger), nil
}

// Cash returns the idle underlying held by the market vault.
func (e *Engine) Cash() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ledger, err := e.ensureLedger()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(ledger.CashWei), nil
}

func (e *Engine) notifyTokensMoved(src, dst crypto.Address, amount *big.Int) error {
	if e.voteHook == nil || amount == nil || amount.Sign() == 0 {
		return nil
	}
	return e.voteHook.TokensMoved(src, dst, amount, e.blockHeight)
}

func (e *Engine) ensureLedger() (*Ledger, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ledger, err := e.state.GetLedger(e.symbol)
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, errNilLedger
	}
	if ledger.TotalSupply == nil {
		ledger.TotalSupply = big.NewInt(0)
	}
	if ledger.TotalBorrows == nil {
		ledger.TotalBorrows = big.NewInt(0)
	}
	if ledger.TotalReserves == nil {
		ledger.TotalReserves = big.NewInt(0)
	}
	if ledger.CashWei == nil {
		ledger.CashWei = big.NewInt(0)
	}
	if ledger.BorrowIndex == nil || ledger.BorrowIndex.Sign() == 0 {
		ledger.BorrowIndex = new(big.Int).Set(mantissaOne)
	}
	if ledger.ReserveFactorMantissa == nil {
		ledger.ReserveFactorMantissa = big.NewInt(0)
	}
	if ledger.InitialExchangeRateMantissa == nil || ledger.InitialExchangeRateMantissa.Sign() == 0 {
		ledger.InitialExchangeRateMantissa = new(big.Int).Set(mantissaOne)
	}
	return ledger, nil
}

func (e *Engine) ensurePosition(addr crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	position, err := e.state.GetPosition(e.symbol, addr)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &Position{Address: addr}
	}
	if position.TokenBalance == nil {
		position.TokenBalance = big.NewInt(0)
	}
	if position.BorrowPrincipal == nil {
		position.BorrowPrincipal = big.NewInt(0)
	}
	if position.InterestIndex == nil || position.InterestIndex.Sign() == 0 {
		position.InterestIndex = new(big.Int).Set(mantissaOne)
	}
	return position, nil
}

// exchangeRate derives underlying-per-claim-token. While no claim tokens are
// outstanding the seeded initial rate applies.
func exchangeRate(ledger *Ledger) *big.Int {
	if ledger.TotalSupply.Sign() == 0 {
		return new(big.Int).Set(ledger.InitialExchangeRateMantissa)
	}
	net := new(big.Int).Add(ledger.CashWei, ledger.TotalBorrows)
	net.Sub(net, ledger.TotalReserves)
	return divTruncate(net, ledger.TotalSupply)
}

// borrowBalance scales the stored principal by borrowIndex / interestIndex.
func borrowBalance(position *Position, ledger *Ledger) *big.Int {
	if position.BorrowPrincipal.Sign() == 0 {
		return big.NewInt(0)
	}
	owed := new(big.Int).Mul(position.BorrowPrincipal, ledger.BorrowIndex)
	return owed.Quo(owed, position.InterestIndex)
}
