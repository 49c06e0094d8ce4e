package state

import (
	"errors"
	"math/big"
	"testing"

	"anchorledger/crypto"
	"anchorledger/native/escrow"
	"anchorledger/native/market"
	"anchorledger/native/risk"
	"anchorledger/native/votes"
	"anchorledger/storage"
)

func testAddr(b byte) crypto.Address {
	buf := make([]byte, 20)
	buf[19] = b
	return crypto.NewAddress(crypto.AccountPrefix, buf)
}

func newTestManager() *Manager {
	return NewManager(storage.NewMemDB())
}

func TestLedgerRoundTrip(t *testing.T) {
	mgr := newTestManager()

	missing, err := mgr.GetLedger("USDM")
	if err != nil {
		t.Fatalf("get missing ledger: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unseeded market, got %+v", missing)
	}

	ledger := &market.Ledger{
		Symbol:                      "USDM",
		TotalSupply:                 big.NewInt(1_000),
		TotalBorrows:                big.NewInt(400),
		TotalReserves:               big.NewInt(25),
		CashWei:                     big.NewInt(625),
		BorrowIndex:                 big.NewInt(1_050_000_000_000_000_000),
		AccrualBlock:                77,
		ReserveFactorMantissa:       big.NewInt(100_000_000_000_000_000),
		InitialExchangeRateMantissa: big.NewInt(1_000_000_000_000_000_000),
	}
	if err := mgr.PutLedger("USDM", ledger); err != nil {
		t.Fatalf("put ledger: %v", err)
	}
	loaded, err := mgr.GetLedger("USDM")
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if loaded.TotalBorrows.Cmp(ledger.TotalBorrows) != 0 || loaded.AccrualBlock != 77 {
		t.Fatalf("ledger round trip mismatch: %+v", loaded)
	}
}

func TestPositionRoundTrip(t *testing.T) {
	mgr := newTestManager()
	addr := testAddr(1)

	missing, err := mgr.GetPosition("USDM", addr)
	if err != nil {
		t.Fatalf("get missing position: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for untouched position, got %+v", missing)
	}

	position := &market.Position{
		Address:         addr,
		TokenBalance:    big.NewInt(900),
		BorrowPrincipal: big.NewInt(150),
		InterestIndex:   big.NewInt(1_020_000_000_000_000_000),
	}
	if err := mgr.PutPosition("USDM", position); err != nil {
		t.Fatalf("put position: %v", err)
	}
	loaded, err := mgr.GetPosition("USDM", addr)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if !loaded.Address.Equal(addr) || loaded.BorrowPrincipal.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("position round trip mismatch: %+v", loaded)
	}
}

func TestMarketConfigAndMembership(t *testing.T) {
	mgr := newTestManager()
	addr := testAddr(2)

	cfg := &risk.Config{Listed: true, CollateralFactorMantissa: big.NewInt(600_000_000_000_000_000)}
	if err := mgr.PutMarketConfig("ETHM", cfg); err != nil {
		t.Fatalf("put config: %v", err)
	}
	loaded, err := mgr.GetMarketConfig("ETHM")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if !loaded.Listed || loaded.CollateralFactorMantissa.Cmp(cfg.CollateralFactorMantissa) != 0 {
		t.Fatalf("config round trip mismatch: %+v", loaded)
	}

	if err := mgr.PutMembership(addr, []string{"USDM", "ETHM"}); err != nil {
		t.Fatalf("put membership: %v", err)
	}
	symbols, err := mgr.GetMembership(addr)
	if err != nil {
		t.Fatalf("get membership: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "ETHM" || symbols[1] != "USDM" {
		t.Fatalf("membership must come back sorted, got %v", symbols)
	}
}

func TestRiskParamsRoundTrip(t *testing.T) {
	mgr := newTestManager()

	missing, err := mgr.GetRiskParams()
	if err != nil {
		t.Fatalf("get missing params: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil before first write, got %+v", missing)
	}

	params := &risk.Params{
		CloseFactorMantissa:          big.NewInt(300_000_000_000_000_000),
		LiquidationIncentiveMantissa: big.NewInt(1_080_000_000_000_000_000),
	}
	if err := mgr.PutRiskParams(params); err != nil {
		t.Fatalf("put params: %v", err)
	}
	loaded, err := mgr.GetRiskParams()
	if err != nil {
		t.Fatalf("get params: %v", err)
	}
	if loaded.CloseFactorMantissa.Cmp(params.CloseFactorMantissa) != 0 ||
		loaded.LiquidationIncentiveMantissa.Cmp(params.LiquidationIncentiveMantissa) != 0 {
		t.Fatalf("params round trip mismatch: %+v", loaded)
	}
}

func TestLedgerSymbols(t *testing.T) {
	mgr := newTestManager()

	empty, err := mgr.LedgerSymbols()
	if err != nil {
		t.Fatalf("list with empty store: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no symbols, got %v", empty)
	}

	for _, symbol := range []string{"USDM", "ANCR", "ETHM"} {
		ledger := &market.Ledger{
			Symbol:                      symbol,
			TotalSupply:                 big.NewInt(0),
			TotalBorrows:                big.NewInt(0),
			TotalReserves:               big.NewInt(0),
			CashWei:                     big.NewInt(0),
			BorrowIndex:                 big.NewInt(1_000_000_000_000_000_000),
			ReserveFactorMantissa:       big.NewInt(0),
			InitialExchangeRateMantissa: big.NewInt(1_000_000_000_000_000_000),
		}
		if err := mgr.PutLedger(symbol, ledger); err != nil {
			t.Fatalf("put ledger %s: %v", symbol, err)
		}
	}

	symbols, err := mgr.LedgerSymbols()
	if err != nil {
		t.Fatalf("list symbols: %v", err)
	}
	if len(symbols) != 3 || symbols[0] != "ANCR" || symbols[1] != "ETHM" || symbols[2] != "USDM" {
		t.Fatalf("expected sorted symbols, got %v", symbols)
	}
}

func TestVotesStateRoundTrip(t *testing.T) {
	mgr := newTestManager()
	addr := testAddr(3)
	delegatee := testAddr(4)

	checkpoints := []votes.Checkpoint{
		{FromBlock: 10, Votes: big.NewInt(100)},
		{FromBlock: 20, Votes: big.NewInt(250)},
	}
	if err := mgr.PutCheckpoints(addr, checkpoints); err != nil {
		t.Fatalf("put checkpoints: %v", err)
	}
	loaded, err := mgr.GetCheckpoints(addr)
	if err != nil {
		t.Fatalf("get checkpoints: %v", err)
	}
	if len(loaded) != 2 || loaded[1].Votes.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("checkpoints round trip mismatch: %+v", loaded)
	}

	none, err := mgr.GetDelegate(addr)
	if err != nil {
		t.Fatalf("get missing delegate: %v", err)
	}
	if !none.IsZero() {
		t.Fatalf("expected zero delegate, got %s", none)
	}
	if err := mgr.PutDelegate(addr, delegatee); err != nil {
		t.Fatalf("put delegate: %v", err)
	}
	got, err := mgr.GetDelegate(addr)
	if err != nil {
		t.Fatalf("get delegate: %v", err)
	}
	if !got.Equal(delegatee) {
		t.Fatalf("delegate round trip mismatch: %s", got)
	}

	if err := mgr.PutNonce(addr, 7); err != nil {
		t.Fatalf("put nonce: %v", err)
	}
	nonce, err := mgr.GetNonce(addr)
	if err != nil {
		t.Fatalf("get nonce: %v", err)
	}
	if nonce != 7 {
		t.Fatalf("expected nonce 7, got %d", nonce)
	}
}

func TestEscrowEntryRoundTrip(t *testing.T) {
	mgr := newTestManager()
	addr := testAddr(5)

	entry := &escrow.Entry{Amount: big.NewInt(777), WithdrawalTimestamp: 12_345}
	if err := mgr.PutEscrowEntry(addr, entry); err != nil {
		t.Fatalf("put entry: %v", err)
	}
	loaded, err := mgr.GetEscrowEntry(addr)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if loaded.Amount.Cmp(big.NewInt(777)) != 0 || loaded.WithdrawalTimestamp != 12_345 {
		t.Fatalf("entry round trip mismatch: %+v", loaded)
	}

	if err := mgr.DeleteEscrowEntry(addr); err != nil {
		t.Fatalf("delete entry: %v", err)
	}
	gone, err := mgr.GetEscrowEntry(addr)
	if err != nil {
		t.Fatalf("get deleted entry: %v", err)
	}
	if gone != nil {
		t.Fatalf("expected nil after delete, got %+v", gone)
	}
	if err := mgr.DeleteEscrowEntry(addr); err != nil {
		t.Fatalf("double delete must be a no-op: %v", err)
	}
}

func TestBankTokenTransfer(t *testing.T) {
	mgr := newTestManager()
	token := mgr.Token("USDC")
	alice := testAddr(6)
	bob := testAddr(7)

	if err := token.Mint(alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := token.Transfer(alice, bob, big.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	aliceBal, err := token.BalanceOf(alice)
	if err != nil {
		t.Fatalf("balance of alice: %v", err)
	}
	bobBal, err := token.BalanceOf(bob)
	if err != nil {
		t.Fatalf("balance of bob: %v", err)
	}
	if aliceBal.Cmp(big.NewInt(600)) != 0 || bobBal.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("unexpected balances %s / %s", aliceBal, bobBal)
	}

	if err := token.Transfer(alice, bob, big.NewInt(601)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}
