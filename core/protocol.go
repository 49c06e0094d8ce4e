package core

import (
	"errors"
	"math/big"
	"sort"
	"sync"

	"anchorledger/core/events"
	"anchorledger/core/state"
	"anchorledger/crypto"
	"anchorledger/native/escrow"
	"anchorledger/native/market"
	"anchorledger/native/rates"
	"anchorledger/native/risk"
	"anchorledger/native/votes"
)

var (
	// ErrUnknownMarket is returned when an operation names a symbol no
	// market was registered under.
	ErrUnknownMarket = errors.New("protocol: unknown market")

	errNilManager = errors.New("protocol: state manager not configured")
	errDuplicate  = errors.New("protocol: market already registered")
	errNoEscrow   = errors.New("protocol: escrow not configured")
	errNoVotes    = errors.New("protocol: vote ledger not configured")
)

// MarketParams describes one market to register with the protocol.
type MarketParams struct {
	Symbol                      string
	UnderlyingSymbol            string
	Vault                       crypto.Address
	InitialExchangeRateMantissa *big.Int
	ReserveFactorMantissa       *big.Int
	RateModel                   *rates.JumpRateModel
}

// StakedMarketParams wires one registered market as the staked-governance
// market: claim-token movements feed the vote ledger and redemptions route
// through the delay escrow.
type StakedMarketParams struct {
	Symbol         string
	LedgerName     string
	ChainID        uint64
	EscrowVault    crypto.Address
	EscrowDuration uint64
}

// Protocol assembles the engines over one state manager and serializes all
// public entry points behind a mutex. Engines themselves are single-writer
// and do not lock.
type Protocol struct {
	mu      sync.Mutex
	manager *state.Manager
	admin   crypto.Address
	emitter events.Emitter
	height  uint64

	markets     map[string]*market.Engine
	underlyings map[string]string
	risk        *risk.Engine
	votes       *votes.Ledger
	escrow      *escrow.Engine
}

// stakeSource adapts a market's claim-token balances to the vote ledger.
type stakeSource struct {
	engine *market.Engine
}

func (s stakeSource) StakedBalance(addr crypto.Address) (*big.Int, error) {
	snapshot, err := s.engine.AccountSnapshot(addr)
	if err != nil {
		return nil, err
	}
	return snapshot.TokenBalance, nil
}

// NewProtocol constructs a protocol over the given state manager with the
// given administrator.
func NewProtocol(manager *state.Manager, admin crypto.Address) (*Protocol, error) {
	if manager == nil {
		return nil, errNilManager
	}
	riskEngine := risk.NewEngine(admin)
	riskEngine.SetState(manager)
	return &Protocol{
		manager:     manager,
		admin:       admin,
		emitter:     events.NoopEmitter{},
		markets:     make(map[string]*market.Engine),
		underlyings: make(map[string]string),
		risk:        riskEngine,
	}, nil
}

// SetEmitter propagates the event emitter to every engine. Nil resets to a
// no-op.
func (p *Protocol) SetEmitter(emitter events.Emitter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	p.emitter = emitter
	p.risk.SetEmitter(emitter)
	for _, engine := range p.markets {
		engine.SetEmitter(emitter)
	}
	if p.votes != nil {
		p.votes.SetEmitter(emitter)
	}
	if p.escrow != nil {
		p.escrow.SetEmitter(emitter)
	}
}

// SetBlockHeight stamps every engine with the current block height.
func (p *Protocol) SetBlockHeight(height uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setBlockHeight(height)
}

func (p *Protocol) setBlockHeight(height uint64) {
	p.height = height
	for _, engine := range p.markets {
		engine.SetBlockHeight(height)
	}
	if p.votes != nil {
		p.votes.SetBlockHeight(height)
	}
}

// AdvanceBlock moves all engines one block forward and returns the new
// height.
func (p *Protocol) AdvanceBlock() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setBlockHeight(p.height + 1)
	return p.height
}

// BlockHeight returns the current block height.
func (p *Protocol) BlockHeight() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.height
}

// AddMarket registers a market engine, seeds its ledger on first use, and
// exposes it to the risk engine. Listing it as collateral remains an admin
// operation.
func (p *Protocol) AddMarket(params MarketParams) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.markets[params.Symbol]; ok {
		return errDuplicate
	}

	engine := market.NewEngine(params.Symbol, params.Vault)
	engine.SetState(p.manager)
	engine.SetAdmin(p.admin)
	engine.SetToken(p.manager.Token(params.UnderlyingSymbol))
	engine.SetRateModel(params.RateModel)
	engine.SetRiskGate(p.risk)
	engine.SetEmitter(p.emitter)
	engine.SetBlockHeight(p.height)

	ledger, err := p.manager.GetLedger(params.Symbol)
	if err != nil {
		return err
	}
	if ledger == nil {
		ledger = &market.Ledger{
			Symbol:                      params.Symbol,
			TotalSupply:                 big.NewInt(0),
			TotalBorrows:                big.NewInt(0),
			TotalReserves:               big.NewInt(0),
			CashWei:                     big.NewInt(0),
			BorrowIndex:                 big.NewInt(1e18),
			AccrualBlock:                p.height,
			ReserveFactorMantissa:       big.NewInt(0),
			InitialExchangeRateMantissa: big.NewInt(1e18),
		}
		if params.ReserveFactorMantissa != nil {
			ledger.ReserveFactorMantissa = new(big.Int).Set(params.ReserveFactorMantissa)
		}
		if params.InitialExchangeRateMantissa != nil {
			ledger.InitialExchangeRateMantissa = new(big.Int).Set(params.InitialExchangeRateMantissa)
		}
		if err := p.manager.PutLedger(params.Symbol, ledger); err != nil {
			return err
		}
	}

	p.markets[params.Symbol] = engine
	p.underlyings[params.Symbol] = params.UnderlyingSymbol
	p.risk.RegisterMarket(engine)
	return nil
}

// ConfigureStakedMarket wires the named market into the vote ledger and the
// redemption escrow. At most one staked market is supported.
func (p *Protocol) ConfigureStakedMarket(params StakedMarketParams) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	engine, ok := p.markets[params.Symbol]
	if !ok {
		return ErrUnknownMarket
	}

	ledger := votes.NewLedger(params.LedgerName, params.ChainID, engine.Vault())
	ledger.SetState(p.manager)
	ledger.SetStakeSource(stakeSource{engine: engine})
	ledger.SetEmitter(p.emitter)
	ledger.SetBlockHeight(p.height)
	p.votes = ledger
	engine.SetVoteHook(ledger)

	sink := escrow.NewEngine(params.EscrowVault, engine.Vault(), p.admin, params.EscrowDuration)
	sink.SetState(p.manager)
	sink.SetToken(p.manager.Token(p.underlyingOf(params.Symbol)))
	sink.SetEmitter(p.emitter)
	p.escrow = sink
	engine.SetEscrow(sink)
	return nil
}

// Market returns the engine registered under symbol.
func (p *Protocol) Market(symbol string) (*market.Engine, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	engine, ok := p.markets[symbol]
	if !ok {
		return nil, ErrUnknownMarket
	}
	return engine, nil
}

// Markets lists the registered market symbols in sorted order.
func (p *Protocol) Markets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	symbols := make([]string, 0, len(p.markets))
	for symbol := range p.markets {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Risk exposes the risk engine for admin operations.
func (p *Protocol) Risk() *risk.Engine { return p.risk }

// Votes exposes the vote ledger; nil until a staked market is configured.
func (p *Protocol) Votes() *votes.Ledger { return p.votes }

// Escrow exposes the redemption escrow; nil until a staked market is
// configured.
func (p *Protocol) Escrow() *escrow.Engine { return p.escrow }

// AccrueInterest accrues the named market up to the current block.
func (p *Protocol) AccrueInterest(symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	engine, ok := p.markets[symbol]
	if !ok {
		return ErrUnknownMarket
	}
	return engine.AccrueInterest()
}

// Mint supplies underlying to the named market.
func (p *Protocol) Mint(symbol string, minter crypto.Address, amount *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	engine, ok := p.markets[symbol]
	if !ok {
		return nil, ErrUnknownMarket
	}
	return engine.Mint(minter, amount)
}

// Redeem burns claim tokens for underlying.
func (p *Protocol) Redeem(symbol string, redeemer crypto.Address, tokens *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	engine, ok := p.markets[symbol]
	if !ok {
		return nil, ErrUnknownMarket
	}
	return engine.Redeem(redeemer, tokens)
}

// RedeemUnderlying burns however many claim tokens cover amount underlying.
func (p *Protocol) RedeemUnderlying(symbol string, redeemer crypto.Address, amount *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	engine, ok := p.markets[symbol]
	if !ok {
		return nil, ErrUnknownMarket
	}
	return engine.RedeemUnderlying(redeemer, amount)
}

// Borrow draws underlying against the borrower's collateral.
func (p *Protocol) Borrow(symbol string, borrower crypto.Address, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	engine, ok := p.markets[symbol]
	if !ok {
		return ErrUnknownMarket
	}
	return engine.Borrow(borrower, amount)
}

// RepayBorrow pays down the borrower's debt, clamped to the amount owed.
func (p *Protocol) RepayBorrow(symbol string, payer, borrower crypto.Address, amount *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	engine, ok := p.markets[symbol]
	if !ok {
		return nil, ErrUnknownMarket
	}
	return engine.RepayBorrow(payer, borrower, amount)
}

// LiquidateBorrow repays part of an underwater borrow and seizes collateral
// claim tokens in exchange.
func (p *Protocol) LiquidateBorrow(borrowedSymbol, collateralSymbol string, liquidator, borrower crypto.Address, repayAmount *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	borrowed, ok := p.markets[borrowedSymbol]
	if !ok {
		return nil, ErrUnknownMarket
	}
	collateral, ok := p.markets[collateralSymbol]
	if !ok {
		return nil, ErrUnknownMarket
	}
	return borrowed.LiquidateBorrow(liquidator, borrower, repayAmount, collateral)
}

// EnterMarkets opts the account into using the named markets as collateral.
func (p *Protocol) EnterMarkets(addr crypto.Address, symbols []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.risk.EnterMarkets(addr, symbols)
}

// ExitMarket opts the account out of using the market as collateral.
func (p *Protocol) ExitMarket(addr crypto.Address, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.risk.ExitMarket(addr, symbol)
}

// AccountLiquidity reports the account's excess liquidity and shortfall.
func (p *Protocol) AccountLiquidity(addr crypto.Address) (*risk.Liquidity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.risk.AccountLiquidity(addr)
}

// Delegate assigns the caller's staked voting weight.
func (p *Protocol) Delegate(delegator, delegatee crypto.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.votes == nil {
		return errNoVotes
	}
	return p.votes.Delegate(delegator, delegatee)
}

// DelegateBySig applies a signed offline delegation.
func (p *Protocol) DelegateBySig(delegatee crypto.Address, nonce, expiry uint64, sig []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.votes == nil {
		return errNoVotes
	}
	return p.votes.DelegateBySig(delegatee, nonce, expiry, sig)
}

// WithdrawEscrow releases the account's matured redemption escrow.
func (p *Protocol) WithdrawEscrow(account crypto.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.escrow == nil {
		return nil, errNoEscrow
	}
	return p.escrow.Withdraw(account)
}

// AccountSnapshot reports an account's balances in the named market.
func (p *Protocol) AccountSnapshot(symbol string, addr crypto.Address) (*market.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	engine, ok := p.markets[symbol]
	if !ok {
		return nil, ErrUnknownMarket
	}
	return engine.AccountSnapshot(addr)
}

// MarketLedger returns the named market's stored ledger.
func (p *Protocol) MarketLedger(symbol string) (*market.Ledger, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.markets[symbol]; !ok {
		return nil, ErrUnknownMarket
	}
	return p.manager.GetLedger(symbol)
}

// ExchangeRate returns the named market's current exchange rate mantissa.
func (p *Protocol) ExchangeRate(symbol string) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	engine, ok := p.markets[symbol]
	if !ok {
		return nil, ErrUnknownMarket
	}
	return engine.ExchangeRate()
}

// Membership lists the markets the account entered as collateral.
func (p *Protocol) Membership(addr crypto.Address) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.risk.Membership(addr)
}

// CurrentVotes reports the account's live voting weight.
func (p *Protocol) CurrentVotes(addr crypto.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.votes == nil {
		return nil, errNoVotes
	}
	return p.votes.GetCurrentVotes(addr)
}

// PriorVotes reports the account's voting weight as of a finalized block.
func (p *Protocol) PriorVotes(addr crypto.Address, blockNumber uint64) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.votes == nil {
		return nil, errNoVotes
	}
	return p.votes.GetPriorVotes(addr, blockNumber)
}

// PendingEscrow reports the account's queued redemption, if any.
func (p *Protocol) PendingEscrow(account crypto.Address) (*escrow.Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.escrow == nil {
		return nil, errNoEscrow
	}
	return p.escrow.PendingWithdrawal(account)
}

func (p *Protocol) underlyingOf(symbol string) string {
	if u, ok := p.underlyings[symbol]; ok {
		return u
	}
	return symbol
}
