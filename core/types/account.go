package types

import "math/big"

// Account is a bank-ledger entry holding the external token balances a
// protocol participant owns, keyed by asset symbol. Claim-token balances and
// borrow positions live inside the market ledgers, not here.
type Account struct {
	Nonce    uint64              `json:"nonce"`
	Balances map[string]*big.Int `json:"balances,omitempty"`
}

// Balance returns the account's balance for the given asset symbol, never nil.
func (a *Account) Balance(symbol string) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	if bal, ok := a.Balances[symbol]; ok && bal != nil {
		return bal
	}
	return big.NewInt(0)
}

// SetBalance records the balance for the given asset symbol.
func (a *Account) SetBalance(symbol string, amount *big.Int) {
	if a == nil {
		return
	}
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	a.Balances[symbol] = amount
}
