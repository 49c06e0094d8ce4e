package risk

import (
	"errors"
	"math/big"
	"sort"
	"strings"

	"anchorledger/core/events"
	"anchorledger/crypto"
	"anchorledger/native/market"
)

var (
	errNilState      = errors.New("risk engine: state not configured")
	errNilOracle     = errors.New("risk engine: price source not configured")
	errInvalidParam  = errors.New("risk engine: parameter out of bounds")
	errUnknownMarket = errors.New("risk engine: market view not registered")
	errBorrowOwed    = errors.New("risk engine: cannot exit market with outstanding borrow")
	errNotPending    = errors.New("risk engine: caller is not the pending admin")

	// ErrAlreadyListed is returned when listing a market twice.
	ErrAlreadyListed = errors.New("risk engine: market already listed")
	// ErrUnauthorized is returned for admin actions from the wrong caller.
	ErrUnauthorized = errors.New("risk engine: unauthorized")
	// ErrMarketNotListed gates every action on an unsupported market.
	ErrMarketNotListed = errors.New("risk engine: market not listed")
	// ErrMarketPaused signals the mint or borrow gate is closed.
	ErrMarketPaused = errors.New("risk engine: market action paused")
	// ErrPriceUnavailable aborts any valuation touching an unpriced asset.
	ErrPriceUnavailable = errors.New("risk engine: oracle price unavailable")
	// ErrInsufficientCollateral rejects actions leaving the account with
	// shortfall.
	ErrInsufficientCollateral = errors.New("risk engine: insufficient collateral")
	// ErrInsufficientShortfall rejects liquidating a healthy borrower.
	ErrInsufficientShortfall = errors.New("risk engine: borrower has no shortfall")
	// ErrTooMuchRepay rejects a liquidation above the close factor cap.
	ErrTooMuchRepay = errors.New("risk engine: repay amount exceeds close factor")
)

var (
	mantissaOne = big.NewInt(1_000_000_000_000_000_000)

	// collateralFactorMaxMantissa caps the collateral factor at 0.9.
	collateralFactorMaxMantissa = big.NewInt(900_000_000_000_000_000)

	// defaultCloseFactorMantissa applies until governance sets a close factor.
	defaultCloseFactorMantissa = big.NewInt(500_000_000_000_000_000)
)

// MarketView is the read surface a market exposes for account valuation.
type MarketView interface {
	Symbol() string
	AccountSnapshot(addr crypto.Address) (*market.Snapshot, error)
	ExchangeRate() (*big.Int, error)
}

// PriceSource is the opaque oracle the engine values underlyings through. A
// zero price must surface as an error, never a default.
type PriceSource interface {
	UnderlyingPrice(symbol string) (*big.Int, error)
}

type engineState interface {
	GetMarketConfig(symbol string) (*Config, error)
	PutMarketConfig(symbol string, cfg *Config) error
	GetRiskParams() (*Params, error)
	PutRiskParams(params *Params) error
	GetMembership(addr crypto.Address) ([]string, error)
	PutMembership(addr crypto.Address, symbols []string) error
}

// Engine owns the market registry, account membership, and the protocol-wide
// risk scalars. It authorizes every market state transition and computes
// cross-market seize amounts during liquidation.
type Engine struct {
	state        engineState
	views        map[string]MarketView
	oracle       PriceSource
	admin        crypto.Address
	pendingAdmin crypto.Address
	emitter      events.Emitter
}

// NewEngine constructs a risk engine governed by the given admin address. The
// admin is boot configuration, not persisted state; the risk scalars live in
// the state layer.
func NewEngine(admin crypto.Address) *Engine {
	return &Engine{
		views:   make(map[string]MarketView),
		admin:   admin,
		emitter: events.NoopEmitter{},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// RegisterMarket wires a market view into the runtime registry. Listing for
// risk purposes still requires SupportMarket.
func (e *Engine) RegisterMarket(view MarketView) {
	if e == nil || view == nil {
		return
	}
	e.views[normalize(view.Symbol())] = view
}

// Admin returns the current admin address.
func (e *Engine) Admin() crypto.Address { return e.admin }

// --- admin configuration ---

// SupportMarket lists a registered market, making it eligible for
// membership, borrowing, and collateral use.
func (e *Engine) SupportMarket(caller crypto.Address, symbol string) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	symbol = normalize(symbol)
	if _, ok := e.views[symbol]; !ok {
		return errUnknownMarket
	}
	cfg, err := e.ensureConfig(symbol)
	if err != nil {
		return err
	}
	if cfg.Listed {
		return ErrAlreadyListed
	}
	cfg.Listed = true
	if err := e.state.PutMarketConfig(symbol, cfg); err != nil {
		return err
	}
	e.emitter.Emit(events.RiskMarketListed{Symbol: symbol})
	return nil
}

// SetCollateralFactor updates a listed market's collateral factor. A nonzero
// factor requires a usable oracle price so unpriced collateral can never
// count toward borrowing power.
func (e *Engine) SetCollateralFactor(caller crypto.Address, symbol string, factor *big.Int) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if factor == nil || factor.Sign() < 0 || factor.Cmp(collateralFactorMaxMantissa) > 0 {
		return errInvalidParam
	}
	symbol = normalize(symbol)
	cfg, err := e.ensureConfig(symbol)
	if err != nil {
		return err
	}
	if !cfg.Listed {
		return ErrMarketNotListed
	}
	if factor.Sign() > 0 {
		if _, err := e.price(symbol); err != nil {
			return err
		}
	}
	old := cfg.CollateralFactorMantissa
	cfg.CollateralFactorMantissa = new(big.Int).Set(factor)
	if err := e.state.PutMarketConfig(symbol, cfg); err != nil {
		return err
	}
	e.emitter.Emit(events.RiskCollateralFactorUpdated{Symbol: symbol, Old: old, New: factor})
	return nil
}

// SetCloseFactor updates the protocol-wide close factor, bounded to (0, 1].
func (e *Engine) SetCloseFactor(caller crypto.Address, factor *big.Int) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if factor == nil || factor.Sign() <= 0 || factor.Cmp(mantissaOne) > 0 {
		return errInvalidParam
	}
	params, err := e.ensureParams()
	if err != nil {
		return err
	}
	old := params.CloseFactorMantissa
	params.CloseFactorMantissa = new(big.Int).Set(factor)
	if err := e.state.PutRiskParams(params); err != nil {
		return err
	}
	e.emitter.Emit(events.RiskParamUpdated{Param: "closeFactor", Old: old, New: factor})
	return nil
}

// SetLiquidationIncentive updates the liquidator premium, at least 1.0x so
// seized collateral value always covers the repaid debt value.
func (e *Engine) SetLiquidationIncentive(caller crypto.Address, incentive *big.Int) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if incentive == nil || incentive.Cmp(mantissaOne) < 0 {
		return errInvalidParam
	}
	params, err := e.ensureParams()
	if err != nil {
		return err
	}
	old := params.LiquidationIncentiveMantissa
	params.LiquidationIncentiveMantissa = new(big.Int).Set(incentive)
	if err := e.state.PutRiskParams(params); err != nil {
		return err
	}
	e.emitter.Emit(events.RiskParamUpdated{Param: "liquidationIncentive", Old: old, New: incentive})
	return nil
}

// SetMintPaused flips the mint gate for a listed market.
func (e *Engine) SetMintPaused(caller crypto.Address, symbol string, paused bool) error {
	return e.setPaused(caller, symbol, "mint", paused)
}

// SetBorrowPaused flips the borrow gate for a listed market.
func (e *Engine) SetBorrowPaused(caller crypto.Address, symbol string, paused bool) error {
	return e.setPaused(caller, symbol, "borrow", paused)
}

func (e *Engine) setPaused(caller crypto.Address, symbol, action string, paused bool) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	symbol = normalize(symbol)
	cfg, err := e.ensureConfig(symbol)
	if err != nil {
		return err
	}
	if !cfg.Listed {
		return ErrMarketNotListed
	}
	switch action {
	case "mint":
		cfg.MintPaused = paused
	case "borrow":
		cfg.BorrowPaused = paused
	}
	if err := e.state.PutMarketConfig(symbol, cfg); err != nil {
		return err
	}
	e.emitter.Emit(events.RiskPauseUpdated{Symbol: symbol, Action: action, Paused: paused})
	return nil
}

// SetPendingAdmin proposes a new admin; the handoff completes only when the
// proposed address calls AcceptAdmin, so a typo cannot lock out governance.
func (e *Engine) SetPendingAdmin(caller, pending crypto.Address) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	e.pendingAdmin = pending
	e.emitter.Emit(events.RiskAdminChanged{Admin: pending, Accepted: false})
	return nil
}

// AcceptAdmin completes the two-step admin handoff.
func (e *Engine) AcceptAdmin(caller crypto.Address) error {
	if e.pendingAdmin.IsZero() || !caller.Equal(e.pendingAdmin) {
		return errNotPending
	}
	e.admin = e.pendingAdmin
	e.pendingAdmin = crypto.Address{}
	e.emitter.Emit(events.RiskAdminChanged{Admin: e.admin, Accepted: true})
	return nil
}

// SetPriceSource swaps the oracle the engine values underlyings through.
func (e *Engine) SetPriceSource(caller crypto.Address, oracle PriceSource, name string) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if oracle == nil {
		return errNilOracle
	}
	e.oracle = oracle
	e.emitter.Emit(events.RiskOracleUpdated{Oracle: name})
	return nil
}

// --- membership ---

// EnterMarkets adds the listed markets to the account's collateral set.
// Already-entered markets are skipped.
func (e *Engine) EnterMarkets(addr crypto.Address, symbols []string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	for _, symbol := range symbols {
		if err := e.enterMarket(addr, normalize(symbol)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) enterMarket(addr crypto.Address, symbol string) error {
	cfg, err := e.ensureConfig(symbol)
	if err != nil {
		return err
	}
	if !cfg.Listed {
		return ErrMarketNotListed
	}
	membership, err := e.state.GetMembership(addr)
	if err != nil {
		return err
	}
	for _, member := range membership {
		if member == symbol {
			return nil
		}
	}
	membership = append(membership, symbol)
	sort.Strings(membership)
	if err := e.state.PutMembership(addr, membership); err != nil {
		return err
	}
	e.emitter.Emit(events.RiskMarketMembership{Symbol: symbol, Account: addr, Entered: true})
	return nil
}

// ExitMarket removes the market from the account's collateral set. The exit
// fails while the account still owes a borrow there or would be left with a
// shortfall.
func (e *Engine) ExitMarket(addr crypto.Address, symbol string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	symbol = normalize(symbol)
	view, ok := e.views[symbol]
	if !ok {
		return errUnknownMarket
	}
	snapshot, err := view.AccountSnapshot(addr)
	if err != nil {
		return err
	}
	if snapshot.BorrowBalance.Sign() > 0 {
		return errBorrowOwed
	}
	liquidity, err := e.hypotheticalLiquidity(addr, symbol, snapshot.TokenBalance, nil)
	if err != nil {
		return err
	}
	if liquidity.Shortfall.Sign() > 0 {
		return ErrInsufficientCollateral
	}

	membership, err := e.state.GetMembership(addr)
	if err != nil {
		return err
	}
	filtered := membership[:0]
	for _, member := range membership {
		if member != symbol {
			filtered = append(filtered, member)
		}
	}
	if err := e.state.PutMembership(addr, filtered); err != nil {
		return err
	}
	e.emitter.Emit(events.RiskMarketMembership{Symbol: symbol, Account: addr, Entered: false})
	return nil
}

// Membership lists the markets the account has entered as collateral.
func (e *Engine) Membership(addr crypto.Address) ([]string, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.GetMembership(addr)
}

// --- solvency ---

// AccountLiquidity values the account across every entered market and
// returns the excess and shortfall; at most one is positive.
func (e *Engine) AccountLiquidity(addr crypto.Address) (*Liquidity, error) {
	return e.hypotheticalLiquidity(addr, "", nil, nil)
}

// HypotheticalAccountLiquidity values the account as if redeemTokens claim
// tokens were redeemed and borrowAmount borrowed on the target market,
// without persisting anything.
func (e *Engine) HypotheticalAccountLiquidity(addr crypto.Address, symbol string, redeemTokens, borrowAmount *big.Int) (*Liquidity, error) {
	return e.hypotheticalLiquidity(addr, normalize(symbol), redeemTokens, borrowAmount)
}

func (e *Engine) hypotheticalLiquidity(addr crypto.Address, target string, redeemTokens, borrowAmount *big.Int) (*Liquidity, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	membership, err := e.state.GetMembership(addr)
	if err != nil {
		return nil, err
	}

	sumCollateral := big.NewInt(0)
	sumBorrow := big.NewInt(0)
	for _, symbol := range membership {
		view, ok := e.views[symbol]
		if !ok {
			return nil, errUnknownMarket
		}
		cfg, err := e.ensureConfig(symbol)
		if err != nil {
			return nil, err
		}
		snapshot, err := view.AccountSnapshot(addr)
		if err != nil {
			return nil, err
		}
		price, err := e.price(symbol)
		if err != nil {
			return nil, err
		}

		// collateral weight per claim token:
		// collateralFactor * exchangeRate * price, mantissa-chained.
		weight := mulExp(cfg.CollateralFactorMantissa, snapshot.ExchangeRateMantissa)
		weight = mulExp(weight, price)

		sumCollateral.Add(sumCollateral, mulExp(weight, snapshot.TokenBalance))
		sumBorrow.Add(sumBorrow, mulExp(price, snapshot.BorrowBalance))

		if symbol == target {
			if redeemTokens != nil && redeemTokens.Sign() > 0 {
				sumBorrow.Add(sumBorrow, mulExp(weight, redeemTokens))
			}
			if borrowAmount != nil && borrowAmount.Sign() > 0 {
				sumBorrow.Add(sumBorrow, mulExp(price, borrowAmount))
			}
		}
	}

	liquidity := &Liquidity{Excess: big.NewInt(0), Shortfall: big.NewInt(0)}
	if sumCollateral.Cmp(sumBorrow) >= 0 {
		liquidity.Excess = new(big.Int).Sub(sumCollateral, sumBorrow)
	} else {
		liquidity.Shortfall = new(big.Int).Sub(sumBorrow, sumCollateral)
	}
	return liquidity, nil
}

// CalculateSeizeTokens converts a repay amount on the borrowed market into
// collateral claim tokens including the liquidation incentive:
// seize = repay * priceBorrowed * incentive / (priceCollateral * exchangeRate).
func (e *Engine) CalculateSeizeTokens(borrowedSymbol, collateralSymbol string, repayAmount *big.Int) (*big.Int, error) {
	if repayAmount == nil || repayAmount.Sign() <= 0 {
		return nil, errInvalidParam
	}
	priceBorrowed, err := e.price(normalize(borrowedSymbol))
	if err != nil {
		return nil, err
	}
	priceCollateral, err := e.price(normalize(collateralSymbol))
	if err != nil {
		return nil, err
	}
	view, ok := e.views[normalize(collateralSymbol)]
	if !ok {
		return nil, errUnknownMarket
	}
	rate, err := view.ExchangeRate()
	if err != nil {
		return nil, err
	}
	if rate == nil || rate.Sign() == 0 {
		return nil, errInvalidParam
	}

	params, err := e.ensureParams()
	if err != nil {
		return nil, err
	}

	numerator := new(big.Int).Mul(repayAmount, priceBorrowed)
	numerator.Mul(numerator, params.LiquidationIncentiveMantissa)
	denominator := new(big.Int).Mul(priceCollateral, rate)
	return numerator.Quo(numerator, denominator), nil
}

// --- gates ---

// MintAllowed gates supply: the market must be listed and its mint gate open.
func (e *Engine) MintAllowed(symbol string, _ crypto.Address, _ *big.Int) error {
	cfg, err := e.listedConfig(symbol)
	if err != nil {
		return err
	}
	if cfg.MintPaused {
		return ErrMarketPaused
	}
	return nil
}

// RedeemAllowed gates redemption: members must stay solvent after the burn.
func (e *Engine) RedeemAllowed(symbol string, redeemer crypto.Address, redeemTokens *big.Int) error {
	symbol = normalize(symbol)
	if _, err := e.listedConfig(symbol); err != nil {
		return err
	}
	member, err := e.isMember(redeemer, symbol)
	if err != nil {
		return err
	}
	if !member {
		// Tokens in a market the account never entered back no borrows.
		return nil
	}
	liquidity, err := e.hypotheticalLiquidity(redeemer, symbol, redeemTokens, nil)
	if err != nil {
		return err
	}
	if liquidity.Shortfall.Sign() > 0 {
		return ErrInsufficientCollateral
	}
	return nil
}

// BorrowAllowed gates borrowing: listed, unpaused, priced, and the borrower
// must stay solvent with the new debt. Borrowing auto-enters the market.
func (e *Engine) BorrowAllowed(symbol string, borrower crypto.Address, amount *big.Int) error {
	symbol = normalize(symbol)
	cfg, err := e.listedConfig(symbol)
	if err != nil {
		return err
	}
	if cfg.BorrowPaused {
		return ErrMarketPaused
	}
	if _, err := e.price(symbol); err != nil {
		return err
	}
	member, err := e.isMember(borrower, symbol)
	if err != nil {
		return err
	}
	if !member {
		if err := e.enterMarket(borrower, symbol); err != nil {
			return err
		}
	}
	liquidity, err := e.hypotheticalLiquidity(borrower, symbol, nil, amount)
	if err != nil {
		return err
	}
	if liquidity.Shortfall.Sign() > 0 {
		return ErrInsufficientCollateral
	}
	return nil
}

// RepayAllowed gates repayment; only listing is required.
func (e *Engine) RepayAllowed(symbol string, _ crypto.Address) error {
	_, err := e.listedConfig(symbol)
	return err
}

// LiquidateAllowed gates liquidation: the borrower must carry a shortfall
// and the repayment must respect the close factor cap.
func (e *Engine) LiquidateAllowed(borrowedSymbol, collateralSymbol string, borrower crypto.Address, repayAmount *big.Int) error {
	borrowedSymbol = normalize(borrowedSymbol)
	if _, err := e.listedConfig(borrowedSymbol); err != nil {
		return err
	}
	if _, err := e.listedConfig(collateralSymbol); err != nil {
		return err
	}
	liquidity, err := e.AccountLiquidity(borrower)
	if err != nil {
		return err
	}
	if liquidity.Shortfall.Sign() == 0 {
		return ErrInsufficientShortfall
	}
	view, ok := e.views[borrowedSymbol]
	if !ok {
		return errUnknownMarket
	}
	snapshot, err := view.AccountSnapshot(borrower)
	if err != nil {
		return err
	}
	params, err := e.ensureParams()
	if err != nil {
		return err
	}
	maxClose := mulExp(params.CloseFactorMantissa, snapshot.BorrowBalance)
	if repayAmount.Cmp(maxClose) > 0 {
		return ErrTooMuchRepay
	}
	return nil
}

// SeizeAllowed gates the collateral leg of a liquidation.
func (e *Engine) SeizeAllowed(collateralSymbol, borrowedSymbol string) error {
	if _, err := e.listedConfig(collateralSymbol); err != nil {
		return err
	}
	_, err := e.listedConfig(borrowedSymbol)
	return err
}

// --- helpers ---

func (e *Engine) requireAdmin(caller crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !caller.Equal(e.admin) {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) listedConfig(symbol string) (*Config, error) {
	cfg, err := e.ensureConfig(normalize(symbol))
	if err != nil {
		return nil, err
	}
	if !cfg.Listed {
		return nil, ErrMarketNotListed
	}
	return cfg, nil
}

func (e *Engine) ensureConfig(symbol string) (*Config, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	cfg, err := e.state.GetMarketConfig(symbol)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.CollateralFactorMantissa == nil {
		cfg.CollateralFactorMantissa = big.NewInt(0)
	}
	return cfg, nil
}

func (e *Engine) ensureParams() (*Params, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	params, err := e.state.GetRiskParams()
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = &Params{}
	}
	if params.CloseFactorMantissa == nil {
		params.CloseFactorMantissa = new(big.Int).Set(defaultCloseFactorMantissa)
	}
	if params.LiquidationIncentiveMantissa == nil {
		params.LiquidationIncentiveMantissa = new(big.Int).Set(mantissaOne)
	}
	return params, nil
}

func (e *Engine) isMember(addr crypto.Address, symbol string) (bool, error) {
	membership, err := e.state.GetMembership(addr)
	if err != nil {
		return false, err
	}
	for _, member := range membership {
		if member == symbol {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) price(symbol string) (*big.Int, error) {
	if e.oracle == nil {
		return nil, errNilOracle
	}
	price, err := e.oracle.UnderlyingPrice(symbol)
	if err != nil {
		return nil, ErrPriceUnavailable
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrPriceUnavailable
	}
	return price, nil
}

func mulExp(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, mantissaOne)
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
