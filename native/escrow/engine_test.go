package escrow

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"anchorledger/crypto"
)

type mockState struct {
	entries map[string]*Entry
}

func newMockState() *mockState {
	return &mockState{entries: make(map[string]*Entry)}
}

func (m *mockState) GetEscrowEntry(addr crypto.Address) (*Entry, error) {
	return m.entries[addr.String()].Clone(), nil
}

func (m *mockState) PutEscrowEntry(addr crypto.Address, entry *Entry) error {
	m.entries[addr.String()] = entry.Clone()
	return nil
}

func (m *mockState) DeleteEscrowEntry(addr crypto.Address) error {
	delete(m.entries, addr.String())
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
		return errors.New("insufficient balance")
	}
	m.balances[from.String()] = new(big.Int).Sub(fromBal, amount)
	m.balances[to.String()] = new(big.Int).Add(m.balance(to), amount)
	return nil
}

func testAddr(b byte) crypto.Address {
	buf := make([]byte, 20)
	buf[19] = b
	return crypto.NewAddress(crypto.AccountPrefix, buf)
}

var (
	vaultAddr  = testAddr(0xE0)
	sourceAddr = testAddr(0xE1)
	govAddr    = testAddr(0xE2)
)

func newTestEngine(t *testing.T, duration uint64) (*Engine, *mockState, *mockToken, *time.Time) {
	t.Helper()
	engine := NewEngine(vaultAddr, sourceAddr, govAddr, duration)
	state := newMockState()
	token := newMockToken()
	token.balances[sourceAddr.String()] = big.NewInt(1_000_000)
	engine.SetState(state)
	engine.SetToken(token)
	now := time.Unix(10_000, 0)
	engine.SetNowFunc(func() time.Time { return now })
	return engine, state, token, &now
}

func TestDepositRecordsPendingEntry(t *testing.T) {
	engine, _, token, _ := newTestEngine(t, 600)
	redeemer := testAddr(1)

	if err := engine.Deposit(redeemer, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	entry, err := engine.PendingWithdrawal(redeemer)
	if err != nil {
		t.Fatalf("pending withdrawal: %v", err)
	}
	if entry == nil || entry.Amount.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected pending amount 500, got %+v", entry)
	}
	if entry.WithdrawalTimestamp != 10_600 {
		t.Fatalf("expected withdrawal timestamp 10600, got %d", entry.WithdrawalTimestamp)
	}
	if token.balance(vaultAddr).Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected funds held by escrow vault, got %s", token.balance(vaultAddr))
	}
	if token.balance(redeemer).Sign() != 0 {
		t.Fatalf("redeemer must not be paid before maturity")
	}
}

func TestZeroDurationPaysDirectly(t *testing.T) {
	engine, state, token, _ := newTestEngine(t, 0)
	redeemer := testAddr(1)

	if err := engine.Deposit(redeemer, big.NewInt(250)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if token.balance(redeemer).Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("expected direct payout of 250, got %s", token.balance(redeemer))
	}
	if len(state.entries) != 0 {
		t.Fatalf("no pending entry expected with zero duration")
	}
}

func TestWithdrawBeforeMaturityFails(t *testing.T) {
	engine, _, _, now := newTestEngine(t, 600)
	redeemer := testAddr(1)
	if err := engine.Deposit(redeemer, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	*now = time.Unix(10_599, 0)
	if _, err := engine.Withdraw(redeemer); !errors.Is(err, ErrNothingToWithdraw) {
		t.Fatalf("expected ErrNothingToWithdraw before maturity, got %v", err)
	}

	amount, err := engine.Withdrawable(redeemer)
	if err != nil {
		t.Fatalf("withdrawable: %v", err)
	}
	if amount.Sign() != 0 {
		t.Fatalf("nothing should be withdrawable before maturity, got %s", amount)
	}
}

func TestWithdrawAfterMaturity(t *testing.T) {
	engine, state, token, now := newTestEngine(t, 600)
	redeemer := testAddr(1)
	if err := engine.Deposit(redeemer, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	*now = time.Unix(10_600, 0)
	amount, err := engine.Withdraw(redeemer)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if amount.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected 500 released, got %s", amount)
	}
	if token.balance(redeemer).Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected redeemer paid 500, got %s", token.balance(redeemer))
	}
	if len(state.entries) != 0 {
		t.Fatalf("entry must be cleared after withdrawal")
	}
	if _, err := engine.Withdraw(redeemer); !errors.Is(err, ErrNothingToWithdraw) {
		t.Fatalf("expected ErrNothingToWithdraw after release, got %v", err)
	}
}

func TestRedepositReplacesEntry(t *testing.T) {
	engine, _, _, now := newTestEngine(t, 600)
	redeemer := testAddr(1)
	if err := engine.Deposit(redeemer, big.NewInt(500)); err != nil {
		t.Fatalf("first deposit: %v", err)
	}

	*now = time.Unix(10_300, 0)
	if err := engine.Deposit(redeemer, big.NewInt(200)); err != nil {
		t.Fatalf("second deposit: %v", err)
	}

	entry, err := engine.PendingWithdrawal(redeemer)
	if err != nil {
		t.Fatalf("pending withdrawal: %v", err)
	}
	if entry.Amount.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected replaced amount 200, got %s", entry.Amount)
	}
	if entry.WithdrawalTimestamp != 10_900 {
		t.Fatalf("expected restarted clock at 10900, got %d", entry.WithdrawalTimestamp)
	}
}

func TestDurationChangeIsNotRetroactive(t *testing.T) {
	engine, _, _, now := newTestEngine(t, 600)
	redeemer := testAddr(1)
	if err := engine.Deposit(redeemer, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.SetDuration(govAddr, 60); err != nil {
		t.Fatalf("set duration: %v", err)
	}

	entry, _ := engine.PendingWithdrawal(redeemer)
	if entry.WithdrawalTimestamp != 10_600 {
		t.Fatalf("existing entry must keep its timestamp, got %d", entry.WithdrawalTimestamp)
	}

	*now = time.Unix(10_100, 0)
	if err := engine.Deposit(testAddr(2), big.NewInt(100)); err != nil {
		t.Fatalf("deposit after change: %v", err)
	}
	fresh, _ := engine.PendingWithdrawal(testAddr(2))
	if fresh.WithdrawalTimestamp != 10_160 {
		t.Fatalf("new entry must use new duration, got %d", fresh.WithdrawalTimestamp)
	}
}

func TestGovernanceGates(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, 600)
	outsider := testAddr(9)

	if err := engine.SetDuration(outsider, 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for duration, got %v", err)
	}
	if err := engine.SetPendingGov(outsider, outsider); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for pending gov, got %v", err)
	}
}

func TestGovernanceHandoff(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, 600)
	next := testAddr(7)

	if err := engine.SetPendingGov(govAddr, next); err != nil {
		t.Fatalf("set pending gov: %v", err)
	}
	// Current governance retains control until the proposal is accepted.
	if err := engine.SetDuration(govAddr, 300); err != nil {
		t.Fatalf("set duration mid-handoff: %v", err)
	}
	if err := engine.AcceptGov(testAddr(8)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong acceptor, got %v", err)
	}
	if err := engine.AcceptGov(next); err != nil {
		t.Fatalf("accept gov: %v", err)
	}
	if !engine.Gov().Equal(next) {
		t.Fatalf("governance not transferred")
	}
	if err := engine.SetDuration(govAddr, 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old governance must lose control, got %v", err)
	}
}
