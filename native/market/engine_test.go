package market

import (
	"errors"
	"math/big"
	"testing"

	"anchorledger/crypto"
)

type mockState struct {
	ledgers   map[string]*Ledger
	positions map[string]*Position
}

func newMockState() *mockState {
	return &mockState{
		ledgers:   make(map[string]*Ledger),
		positions: make(map[string]*Position),
	}
}

func positionKey(symbol string, addr crypto.Address) string {
	return symbol + "/" + addr.String()
}

func (m *mockState) GetLedger(symbol string) (*Ledger, error) {
	return m.ledgers[symbol].Clone(), nil
}

func (m *mockState) PutLedger(symbol string, ledger *Ledger) error {
	m.ledgers[symbol] = ledger.Clone()
	return nil
}

func (m *mockState) GetPosition(symbol string, addr crypto.Address) (*Position, error) {
	return m.positions[positionKey(symbol, addr)].Clone(), nil
}

func (m *mockState) PutPosition(symbol string, position *Position) error {
	m.positions[positionKey(symbol, position.Address)] = position.Clone()
	return nil
}

type mockToken struct {
	balances map[string]*big.Int
}

func newMockToken() *mockToken {
	return &mockToken{balances: make(map[string]*big.Int)}
}

func (m *mockToken) balance(addr crypto.Address) *big.Int {
	if bal, ok := m.balances[addr.String()]; ok {
		return bal
	}
	return big.NewInt(0)
}

func (m *mockToken) Transfer(from, to crypto.Address, amount *big.Int) error {
	fromBal := m.balance(from)
	if fromBal.Cmp(amount) < 0 {
		return errors.New("token: insufficient balance")
	}
	m.balances[from.String()] = new(big.Int).Sub(fromBal, amount)
	m.balances[to.String()] = new(big.Int).Add(m.balance(to), amount)
	return nil
}

func (m *mockToken) BalanceOf(addr crypto.Address) (*big.Int, error) {
	return new(big.Int).Set(m.balance(addr)), nil
}

// openGate authorizes everything and returns a fixed seize quote.
type openGate struct {
	seizeTokens *big.Int
	denied      error
}

func (g *openGate) MintAllowed(string, crypto.Address, *big.Int) error   { return g.denied }
func (g *openGate) RedeemAllowed(string, crypto.Address, *big.Int) error { return g.denied }
func (g *openGate) BorrowAllowed(string, crypto.Address, *big.Int) error { return g.denied }
func (g *openGate) RepayAllowed(string, crypto.Address) error            { return g.denied }
func (g *openGate) LiquidateAllowed(string, string, crypto.Address, *big.Int) error {
	return g.denied
}
func (g *openGate) SeizeAllowed(string, string) error { return g.denied }
func (g *openGate) CalculateSeizeTokens(string, string, *big.Int) (*big.Int, error) {
	if g.seizeTokens == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(g.seizeTokens), nil
}

type fixedRateModel struct {
	borrowRate *big.Int
}

func (m *fixedRateModel) BorrowRate(_, _, _ *big.Int) *big.Int {
	return new(big.Int).Set(m.borrowRate)
}

func (m *fixedRateModel) SupplyRate(_, _, _, _ *big.Int) *big.Int {
	return big.NewInt(0)
}

type recordingSink struct {
	account crypto.Address
	amount  *big.Int
}

func (s *recordingSink) Deposit(account crypto.Address, amount *big.Int) error {
	s.account = account
	s.amount = new(big.Int).Set(amount)
	return nil
}

type recordingHook struct {
	moves []struct {
		src, dst crypto.Address
		amount   *big.Int
		block    uint64
	}
}

func (h *recordingHook) TokensMoved(src, dst crypto.Address, amount *big.Int, block uint64) error {
	h.moves = append(h.moves, struct {
		src, dst crypto.Address
		amount   *big.Int
		block    uint64
	}{src, dst, new(big.Int).Set(amount), block})
	return nil
}

func testAddr(b byte) crypto.Address {
	buf := make([]byte, 20)
	buf[19] = b
	return crypto.NewAddress(crypto.AccountPrefix, buf)
}

var (
	vaultAddr = testAddr(0xF0)
	adminAddr = testAddr(0xF1)
)

const one = 1_000_000_000_000_000_000

// units scales whole underlying units to wei without overflowing int64
// constant arithmetic.
func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(one))
}

func newTestEngine(t *testing.T) (*Engine, *mockState, *mockToken, *openGate) {
	t.Helper()
	engine := NewEngine("USDM", vaultAddr)
	state := newMockState()
	token := newMockToken()
	gate := &openGate{}
	engine.SetState(state)
	engine.SetToken(token)
	engine.SetRiskGate(gate)
	engine.SetRateModel(&fixedRateModel{borrowRate: big.NewInt(0)})
	engine.SetAdmin(adminAddr)
	engine.SetBlockHeight(1)
	state.ledgers["USDM"] = &Ledger{
		Symbol:                      "USDM",
		TotalSupply:                 big.NewInt(0),
		TotalBorrows:                big.NewInt(0),
		TotalReserves:               big.NewInt(0),
		CashWei:                     big.NewInt(0),
		BorrowIndex:                 units(1),
		AccrualBlock:                1,
		ReserveFactorMantissa:       big.NewInt(0),
		InitialExchangeRateMantissa: units(1),
	}
	return engine, state, token, gate
}

func TestMintCreditsAtExchangeRate(t *testing.T) {
	engine, state, token, _ := newTestEngine(t)
	minter := testAddr(1)
	token.balances[minter.String()] = units(5)

	minted, err := engine.Mint(minter, units(1))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if minted.Cmp(units(1)) != 0 {
		t.Fatalf("expected 1e18 claim tokens at the initial rate, got %s", minted)
	}
	if token.balance(vaultAddr).Cmp(units(1)) != 0 {
		t.Fatalf("underlying not pulled into the vault")
	}
	ledger := state.ledgers["USDM"]
	if ledger.TotalSupply.Cmp(units(1)) != 0 || ledger.CashWei.Cmp(units(1)) != 0 {
		t.Fatalf("ledger totals wrong: supply=%s cash=%s", ledger.TotalSupply, ledger.CashWei)
	}
}

func TestMintRejectedByGateLeavesStateUntouched(t *testing.T) {
	engine, state, token, gate := newTestEngine(t)
	minter := testAddr(1)
	token.balances[minter.String()] = units(5)
	gate.denied = errors.New("market not listed")

	if _, err := engine.Mint(minter, units(1)); err == nil {
		t.Fatalf("expected gate error")
	}
	if token.balance(vaultAddr).Sign() != 0 {
		t.Fatalf("failed mint must not move funds")
	}
	if state.ledgers["USDM"].TotalSupply.Sign() != 0 {
		t.Fatalf("failed mint must not change supply")
	}
}

func TestAccrueInterestIdempotentPerBlock(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	engine.SetRateModel(&fixedRateModel{borrowRate: big.NewInt(1_000_000_000_000)})
	state.ledgers["USDM"].TotalBorrows = units(100)
	state.ledgers["USDM"].ReserveFactorMantissa = big.NewInt(one / 10)

	engine.SetBlockHeight(2)
	if err := engine.AccrueInterest(); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	ledger := state.ledgers["USDM"]
	// interest = rate * 1 block * borrows / 1e18 = 1e12 * 100e18 / 1e18.
	wantInterest := big.NewInt(100_000_000_000_000)
	wantBorrows := new(big.Int).Add(units(100), wantInterest)
	if ledger.TotalBorrows.Cmp(wantBorrows) != 0 {
		t.Fatalf("expected borrows %s, got %s", wantBorrows, ledger.TotalBorrows)
	}
	wantReserves := big.NewInt(10_000_000_000_000)
	if ledger.TotalReserves.Cmp(wantReserves) != 0 {
		t.Fatalf("expected reserves %s, got %s", wantReserves, ledger.TotalReserves)
	}
	wantIndex := new(big.Int).Add(units(1), big.NewInt(1_000_000_000_000))
	if ledger.BorrowIndex.Cmp(wantIndex) != 0 {
		t.Fatalf("expected index %s, got %s", wantIndex, ledger.BorrowIndex)
	}
	if ledger.AccrualBlock != 2 {
		t.Fatalf("accrual block not advanced: %d", ledger.AccrualBlock)
	}

	// Re-running at the same height changes nothing.
	if err := engine.AccrueInterest(); err != nil {
		t.Fatalf("second accrue: %v", err)
	}
	if state.ledgers["USDM"].TotalBorrows.Cmp(wantBorrows) != 0 {
		t.Fatalf("accrual must be idempotent within a block")
	}
}

func TestAccrueInterestRateCeiling(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	engine.SetRateModel(&fixedRateModel{borrowRate: new(big.Int).Add(maxBorrowRateMantissa, big.NewInt(1))})
	state.ledgers["USDM"].TotalBorrows = units(1)

	engine.SetBlockHeight(2)
	if err := engine.AccrueInterest(); !errors.Is(err, ErrRateOutOfBounds) {
		t.Fatalf("expected ErrRateOutOfBounds, got %v", err)
	}
	if state.ledgers["USDM"].AccrualBlock != 1 {
		t.Fatalf("failed accrual must leave the ledger untouched")
	}
}

func TestExchangeRateMonotoneUnderAccrual(t *testing.T) {
	engine, state, token, _ := newTestEngine(t)
	engine.SetRateModel(&fixedRateModel{borrowRate: big.NewInt(1_000_000_000_000)})
	minter := testAddr(1)
	token.balances[minter.String()] = units(100)
	if _, err := engine.Mint(minter, units(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	state.ledgers["USDM"].TotalBorrows = units(50)

	before, err := engine.ExchangeRate()
	if err != nil {
		t.Fatalf("exchange rate: %v", err)
	}
	for height := uint64(2); height <= 5; height++ {
		engine.SetBlockHeight(height)
		if err := engine.AccrueInterest(); err != nil {
			t.Fatalf("accrue at %d: %v", height, err)
		}
		after, err := engine.ExchangeRate()
		if err != nil {
			t.Fatalf("exchange rate: %v", err)
		}
		if after.Cmp(before) < 0 {
			t.Fatalf("exchange rate regressed: %s < %s", after, before)
		}
		before = after
	}
}

func TestRedeemPaysDirectlyWithoutSink(t *testing.T) {
	engine, _, token, _ := newTestEngine(t)
	redeemer := testAddr(1)
	token.balances[redeemer.String()] = units(4)
	if _, err := engine.Mint(redeemer, units(4)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	amount, err := engine.Redeem(redeemer, units(1))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if amount.Cmp(units(1)) != 0 {
		t.Fatalf("expected 1e18 underlying out, got %s", amount)
	}
	if token.balance(redeemer).Cmp(units(1)) != 0 {
		t.Fatalf("redeemer not paid")
	}
}

func TestRedeemRoutesThroughSink(t *testing.T) {
	engine, state, token, _ := newTestEngine(t)
	sink := &recordingSink{}
	engine.SetEscrow(sink)
	redeemer := testAddr(1)
	token.balances[redeemer.String()] = units(4)
	if _, err := engine.Mint(redeemer, units(4)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := engine.Redeem(redeemer, units(1)); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !sink.account.Equal(redeemer) || sink.amount.Cmp(units(1)) != 0 {
		t.Fatalf("sink not invoked with redeemed amount: %+v", sink)
	}
	// The market books the cash out; the sink owns the token movement.
	if token.balance(redeemer).Sign() != 0 {
		t.Fatalf("redeemer must not be paid directly when a sink is set")
	}
	if state.ledgers["USDM"].CashWei.Cmp(units(3)) != 0 {
		t.Fatalf("cash not reduced: %s", state.ledgers["USDM"].CashWei)
	}
}

func TestRedeemUnderlyingRoundsTokensUp(t *testing.T) {
	engine, state, token, _ := newTestEngine(t)
	redeemer := testAddr(1)
	token.balances[redeemer.String()] = units(10)
	if _, err := engine.Mint(redeemer, units(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	// Double the exchange rate by doubling net assets against supply.
	state.ledgers["USDM"].CashWei = units(20)

	tokens, err := engine.RedeemUnderlying(redeemer, new(big.Int).Add(units(3), big.NewInt(1)))
	if err != nil {
		t.Fatalf("redeem underlying: %v", err)
	}
	// 3e18+1 underlying at rate 2e18 costs 1.5e18 claim tokens rounded up.
	want := new(big.Int).Add(units(1), big.NewInt(one/2+1))
	if tokens.Cmp(want) != 0 {
		t.Fatalf("expected %s tokens burned, got %s", want, tokens)
	}
}

func TestRedeemInsufficientCash(t *testing.T) {
	engine, state, token, _ := newTestEngine(t)
	redeemer := testAddr(1)
	token.balances[redeemer.String()] = units(4)
	if _, err := engine.Mint(redeemer, units(4)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	// Most of the cash is lent out.
	state.ledgers["USDM"].CashWei = big.NewInt(one / 2)
	state.ledgers["USDM"].TotalBorrows = new(big.Int).Add(units(3), big.NewInt(one/2))

	if _, err := engine.Redeem(redeemer, units(1)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
}

func TestBorrowAndRepayClamp(t *testing.T) {
	engine, state, token, _ := newTestEngine(t)
	supplier := testAddr(1)
	borrower := testAddr(2)
	token.balances[supplier.String()] = units(10)
	token.balances[borrower.String()] = units(10)
	if _, err := engine.Mint(supplier, units(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := engine.Borrow(borrower, units(2)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if token.balance(borrower).Cmp(units(12)) != 0 {
		t.Fatalf("borrower not paid: %s", token.balance(borrower))
	}
	owed, err := engine.BorrowBalance(borrower)
	if err != nil {
		t.Fatalf("borrow balance: %v", err)
	}
	if owed.Cmp(units(2)) != 0 {
		t.Fatalf("expected debt 2e18, got %s", owed)
	}

	// Overpay: the repayment clamps to the outstanding debt.
	repaid, err := engine.RepayBorrow(borrower, borrower, units(5))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if repaid.Cmp(units(2)) != 0 {
		t.Fatalf("expected clamp to 2e18, got %s", repaid)
	}
	owed, _ = engine.BorrowBalance(borrower)
	if owed.Sign() != 0 {
		t.Fatalf("debt must be cleared, got %s", owed)
	}
	if state.ledgers["USDM"].TotalBorrows.Sign() != 0 {
		t.Fatalf("total borrows must be cleared")
	}

	if _, err := engine.RepayBorrow(borrower, borrower, units(1)); !errors.Is(err, errNoDebtToRepay) {
		t.Fatalf("expected errNoDebtToRepay, got %v", err)
	}
}

func TestBorrowInsufficientCash(t *testing.T) {
	engine, _, token, _ := newTestEngine(t)
	supplier := testAddr(1)
	token.balances[supplier.String()] = units(1)
	if _, err := engine.Mint(supplier, units(1)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := engine.Borrow(testAddr(2), units(2)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
}

func newLiquidationPair(t *testing.T) (*Engine, *Engine, *mockToken, *openGate, crypto.Address, crypto.Address) {
	t.Helper()
	borrowed, _, token, gate := newTestEngine(t)

	collateral := NewEngine("ETHM", testAddr(0xF2))
	collateral.SetState(newMockState())
	collateral.SetToken(token)
	collateral.SetRiskGate(gate)
	collateral.SetRateModel(&fixedRateModel{borrowRate: big.NewInt(0)})
	collateral.SetBlockHeight(1)
	collState := collateral.state.(*mockState)
	collState.ledgers["ETHM"] = &Ledger{
		Symbol:                      "ETHM",
		TotalSupply:                 big.NewInt(0),
		TotalBorrows:                big.NewInt(0),
		TotalReserves:               big.NewInt(0),
		CashWei:                     big.NewInt(0),
		BorrowIndex:                 units(1),
		AccrualBlock:                1,
		ReserveFactorMantissa:       big.NewInt(0),
		InitialExchangeRateMantissa: units(1),
	}

	liquidator := testAddr(3)
	borrower := testAddr(4)
	token.balances[liquidator.String()] = units(10)
	token.balances[borrower.String()] = units(10)

	// The borrower supplies collateral and takes a borrow on the other market.
	if _, err := collateral.Mint(borrower, units(5)); err != nil {
		t.Fatalf("mint collateral: %v", err)
	}
	supplier := testAddr(5)
	token.balances[supplier.String()] = units(10)
	if _, err := borrowed.Mint(supplier, units(10)); err != nil {
		t.Fatalf("mint borrowed: %v", err)
	}
	if err := borrowed.Borrow(borrower, units(4)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	return borrowed, collateral, token, gate, liquidator, borrower
}

func TestLiquidateBorrowSeizesCollateral(t *testing.T) {
	borrowed, collateral, token, gate, liquidator, borrower := newLiquidationPair(t)
	gate.seizeTokens = units(2)
	hook := &recordingHook{}
	collateral.SetVoteHook(hook)

	seized, err := borrowed.LiquidateBorrow(liquidator, borrower, units(2), collateral)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if seized.Cmp(units(2)) != 0 {
		t.Fatalf("expected 2e18 seized, got %s", seized)
	}

	owed, _ := borrowed.BorrowBalance(borrower)
	if owed.Cmp(units(2)) != 0 {
		t.Fatalf("expected residual debt 2e18, got %s", owed)
	}
	borrowerSnap, _ := collateral.AccountSnapshot(borrower)
	liquidatorSnap, _ := collateral.AccountSnapshot(liquidator)
	if borrowerSnap.TokenBalance.Cmp(units(3)) != 0 {
		t.Fatalf("borrower collateral wrong: %s", borrowerSnap.TokenBalance)
	}
	if liquidatorSnap.TokenBalance.Cmp(units(2)) != 0 {
		t.Fatalf("liquidator collateral wrong: %s", liquidatorSnap.TokenBalance)
	}
	// Repayment flowed into the borrowed market's vault.
	if token.balance(vaultAddr).Cmp(units(8)) != 0 {
		t.Fatalf("vault cash wrong after repay leg: %s", token.balance(vaultAddr))
	}
	if len(hook.moves) != 1 {
		t.Fatalf("expected the seize vote move, got %d", len(hook.moves))
	}
	if !hook.moves[0].src.Equal(borrower) || !hook.moves[0].dst.Equal(liquidator) {
		t.Fatalf("unexpected vote move: %+v", hook.moves[0])
	}
}

func TestLiquidateBorrowDeniedByGate(t *testing.T) {
	borrowed, collateral, _, gate, liquidator, borrower := newLiquidationPair(t)
	gate.seizeTokens = units(1)
	gate.denied = errors.New("insufficient shortfall")

	if _, err := borrowed.LiquidateBorrow(liquidator, borrower, units(1), collateral); err == nil {
		t.Fatalf("expected gate denial")
	}
	owed, _ := borrowed.BorrowBalance(borrower)
	if owed.Cmp(units(4)) != 0 {
		t.Fatalf("denied liquidation must not touch debt, got %s", owed)
	}
}

func TestLiquidateBorrowSeizeTooMuch(t *testing.T) {
	borrowed, collateral, _, gate, liquidator, borrower := newLiquidationPair(t)
	gate.seizeTokens = units(6)

	if _, err := borrowed.LiquidateBorrow(liquidator, borrower, units(1), collateral); !errors.Is(err, ErrSeizeTooMuch) {
		t.Fatalf("expected ErrSeizeTooMuch, got %v", err)
	}
	owed, _ := borrowed.BorrowBalance(borrower)
	if owed.Cmp(units(4)) != 0 {
		t.Fatalf("failed liquidation must not touch debt, got %s", owed)
	}
	snap, _ := collateral.AccountSnapshot(borrower)
	if snap.TokenBalance.Cmp(units(5)) != 0 {
		t.Fatalf("failed liquidation must not touch collateral, got %s", snap.TokenBalance)
	}
}

func TestLiquidateBorrowSelf(t *testing.T) {
	borrowed, collateral, _, gate, _, borrower := newLiquidationPair(t)
	gate.seizeTokens = units(1)
	if _, err := borrowed.LiquidateBorrow(borrower, borrower, units(1), collateral); !errors.Is(err, errSelfLiquidation) {
		t.Fatalf("expected errSelfLiquidation, got %v", err)
	}
}

func TestReserves(t *testing.T) {
	engine, state, token, _ := newTestEngine(t)
	funder := testAddr(1)
	token.balances[funder.String()] = units(3)

	if err := engine.AddReserves(funder, units(2)); err != nil {
		t.Fatalf("add reserves: %v", err)
	}
	ledger := state.ledgers["USDM"]
	if ledger.TotalReserves.Cmp(units(2)) != 0 || ledger.CashWei.Cmp(units(2)) != 0 {
		t.Fatalf("reserves not booked: reserves=%s cash=%s", ledger.TotalReserves, ledger.CashWei)
	}

	if err := engine.ReduceReserves(funder, units(1)); !errors.Is(err, errUnauthorized) {
		t.Fatalf("expected errUnauthorized, got %v", err)
	}
	if err := engine.ReduceReserves(adminAddr, units(3)); !errors.Is(err, errInsufficientReserve) {
		t.Fatalf("expected errInsufficientReserve, got %v", err)
	}
	if err := engine.ReduceReserves(adminAddr, units(1)); err != nil {
		t.Fatalf("reduce reserves: %v", err)
	}
	if token.balance(adminAddr).Cmp(units(1)) != 0 {
		t.Fatalf("admin not paid: %s", token.balance(adminAddr))
	}
}

func TestMintNotifiesVoteHook(t *testing.T) {
	engine, _, token, _ := newTestEngine(t)
	hook := &recordingHook{}
	engine.SetVoteHook(hook)
	minter := testAddr(1)
	token.balances[minter.String()] = units(1)

	if _, err := engine.Mint(minter, units(1)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if len(hook.moves) != 1 {
		t.Fatalf("expected one vote move, got %d", len(hook.moves))
	}
	move := hook.moves[0]
	if !move.src.IsZero() || !move.dst.Equal(minter) || move.amount.Cmp(units(1)) != 0 {
		t.Fatalf("unexpected vote move: %+v", move)
	}
}
