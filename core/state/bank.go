package state

import (
	"errors"
	"fmt"
	"math/big"

	"anchorledger/core/types"
	"anchorledger/crypto"
)

// ErrInsufficientBalance is returned when a transfer would overdraw the
// sender.
var ErrInsufficientBalance = errors.New("state: insufficient balance")

// GetAccount loads an account record, materializing an empty one when the
// address has never been touched.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	account := new(types.Account)
	ok, err := m.getJSON(fmt.Sprintf(accountKeyFormat, addr.String()), account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balances: make(map[string]*big.Int)}, nil
	}
	if account.Balances == nil {
		account.Balances = make(map[string]*big.Int)
	}
	return account, nil
}

// PutAccount stores an account record.
func (m *Manager) PutAccount(addr crypto.Address, account *types.Account) error {
	return m.putJSON(fmt.Sprintf(accountKeyFormat, addr.String()), account)
}

// BankToken adapts a single bank-ledger denomination to the token interface
// the market and escrow engines consume.
type BankToken struct {
	mgr    *Manager
	symbol string
}

// Token returns an adapter for the given denomination.
func (m *Manager) Token(symbol string) *BankToken {
	return &BankToken{mgr: m, symbol: symbol}
}

// Transfer moves amount of the denomination between accounts. The sender
// must cover the full amount.
func (t *BankToken) Transfer(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: invalid transfer amount")
	}
	if amount.Sign() == 0 || from.Equal(to) {
		return nil
	}
	sender, err := t.mgr.GetAccount(from)
	if err != nil {
		return err
	}
	balance := sender.Balance(t.symbol)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	receiver, err := t.mgr.GetAccount(to)
	if err != nil {
		return err
	}
	sender.SetBalance(t.symbol, new(big.Int).Sub(balance, amount))
	receiver.SetBalance(t.symbol, new(big.Int).Add(receiver.Balance(t.symbol), amount))
	if err := t.mgr.PutAccount(from, sender); err != nil {
		return err
	}
	return t.mgr.PutAccount(to, receiver)
}

// BalanceOf reports the account's balance in the denomination.
func (t *BankToken) BalanceOf(addr crypto.Address) (*big.Int, error) {
	account, err := t.mgr.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.Balance(t.symbol), nil
}

// Mint credits freshly issued denomination units to an account. Genesis and
// faucet paths use it; protocol operations only move existing balances.
func (t *BankToken) Mint(addr crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: invalid mint amount")
	}
	account, err := t.mgr.GetAccount(addr)
	if err != nil {
		return err
	}
	account.SetBalance(t.symbol, new(big.Int).Add(account.Balance(t.symbol), amount))
	return t.mgr.PutAccount(addr, account)
}
