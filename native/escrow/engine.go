package escrow

import (
	"errors"
	"math/big"
	"time"

	"anchorledger/core/events"
	"anchorledger/crypto"
	nativecommon "anchorledger/native/common"
)

const moduleName = "escrow"

var (
	errNilState = errors.New("escrow: state not configured")
	errNilToken = errors.New("escrow: token not configured")
	errInvalid  = errors.New("escrow: invalid amount")

	// ErrUnauthorized is returned when a caller other than governance invokes
	// a governance-only operation.
	ErrUnauthorized = errors.New("escrow: caller is not governance")
	// ErrNothingToWithdraw is returned when the account has no matured
	// pending withdrawal.
	ErrNothingToWithdraw = errors.New("escrow: nothing to withdraw")
)

// Entry is a single pending withdrawal. Each account holds at most one; a
// new deposit replaces it wholesale, amount and timestamp both.
type Entry struct {
	Amount              *big.Int `json:"amount"`
	WithdrawalTimestamp uint64   `json:"withdrawalTimestamp"`
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	clone := &Entry{WithdrawalTimestamp: e.WithdrawalTimestamp}
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	}
	return clone
}

type engineState interface {
	GetEscrowEntry(addr crypto.Address) (*Entry, error)
	PutEscrowEntry(addr crypto.Address, entry *Entry) error
	DeleteEscrowEntry(addr crypto.Address) error
}

// Token moves underlying between accounts on behalf of the engine.
type Token interface {
	Transfer(from, to crypto.Address, amount *big.Int) error
}

// Engine parks redeemed underlying behind a governance-set delay before the
// redeemer can claim it. The market engine is the sole depositor.
type Engine struct {
	state      engineState
	token      Token
	vault      crypto.Address
	source     crypto.Address
	gov        crypto.Address
	pendingGov crypto.Address
	duration   uint64
	nowFn      func() time.Time
	emitter    events.Emitter
	pauses     nativecommon.PauseView
}

// NewEngine constructs an escrow engine holding funds in vault, pulling
// deposits from source (the market vault), governed by gov, with the given
// delay in seconds.
func NewEngine(vault, source, gov crypto.Address, duration uint64) *Engine {
	return &Engine{
		vault:    vault,
		source:   source,
		gov:      gov,
		duration: duration,
		nowFn:    func() time.Time { return time.Now().UTC() },
		emitter:  events.NoopEmitter{},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetToken wires the underlying token adapter.
func (e *Engine) SetToken(token Token) { e.token = token }

// SetEmitter configures the event emitter. Nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the engine's time source. Nil restores the default
// UTC clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

// SetPauses wires the module pause view used to gate withdrawals.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// Deposit parks amount for account behind the current delay. With a zero
// duration the funds go straight to the account instead. A prior pending
// entry is replaced, not extended; callers redeeming in tranches should
// withdraw matured funds first.
func (e *Engine) Deposit(account crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.token == nil {
		return errNilToken
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalid
	}

	if e.duration == 0 {
		if err := e.token.Transfer(e.source, account, amount); err != nil {
			return err
		}
		e.emitter.Emit(events.EscrowDeposited{
			Account:     account,
			Amount:      new(big.Int).Set(amount),
			Immediately: true,
		})
		return nil
	}

	withdrawAt := uint64(e.nowFn().Unix()) + e.duration
	entry := &Entry{
		Amount:              new(big.Int).Set(amount),
		WithdrawalTimestamp: withdrawAt,
	}
	if err := e.state.PutEscrowEntry(account, entry); err != nil {
		return err
	}
	if err := e.token.Transfer(e.source, e.vault, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.EscrowDeposited{
		Account:    account,
		Amount:     new(big.Int).Set(amount),
		WithdrawAt: int64(withdrawAt),
	})
	return nil
}

// Withdraw releases the account's pending entry once matured. An absent or
// immature entry yields ErrNothingToWithdraw.
func (e *Engine) Withdraw(account crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.token == nil {
		return nil, errNilToken
	}
	entry, err := e.state.GetEscrowEntry(account)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.Amount == nil || entry.Amount.Sign() == 0 {
		return nil, ErrNothingToWithdraw
	}
	if uint64(e.nowFn().Unix()) < entry.WithdrawalTimestamp {
		return nil, ErrNothingToWithdraw
	}
	amount := new(big.Int).Set(entry.Amount)
	if err := e.state.DeleteEscrowEntry(account); err != nil {
		return nil, err
	}
	if err := e.token.Transfer(e.vault, account, amount); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.EscrowWithdrawn{Account: account, Amount: new(big.Int).Set(amount)})
	return amount, nil
}

// Withdrawable reports how much of the account's pending entry has matured.
func (e *Engine) Withdrawable(account crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	entry, err := e.state.GetEscrowEntry(account)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.Amount == nil {
		return big.NewInt(0), nil
	}
	if uint64(e.nowFn().Unix()) < entry.WithdrawalTimestamp {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(entry.Amount), nil
}

// PendingWithdrawal returns the account's raw pending entry, matured or not.
func (e *Engine) PendingWithdrawal(account crypto.Address) (*Entry, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	entry, err := e.state.GetEscrowEntry(account)
	if err != nil {
		return nil, err
	}
	return entry.Clone(), nil
}

// SetDuration updates the escrow delay. Governance only. Existing entries
// keep the timestamp they were written with.
func (e *Engine) SetDuration(caller crypto.Address, duration uint64) error {
	if e == nil {
		return errNilState
	}
	if !caller.Equal(e.gov) {
		return ErrUnauthorized
	}
	old := e.duration
	e.duration = duration
	e.emitter.Emit(events.EscrowDurationUpdated{Old: old, New: duration})
	return nil
}

// Duration returns the current escrow delay in seconds.
func (e *Engine) Duration() uint64 { return e.duration }

// SetPendingGov proposes a governance handoff. Governance only.
func (e *Engine) SetPendingGov(caller, pending crypto.Address) error {
	if e == nil {
		return errNilState
	}
	if !caller.Equal(e.gov) {
		return ErrUnauthorized
	}
	e.pendingGov = pending
	e.emitter.Emit(events.EscrowGovChanged{Gov: pending})
	return nil
}

// AcceptGov completes the handoff. Only the proposed governance may accept.
func (e *Engine) AcceptGov(caller crypto.Address) error {
	if e == nil {
		return errNilState
	}
	if e.pendingGov.IsZero() || !caller.Equal(e.pendingGov) {
		return ErrUnauthorized
	}
	e.gov = caller
	e.pendingGov = crypto.Address{}
	e.emitter.Emit(events.EscrowGovChanged{Gov: caller, Accepted: true})
	return nil
}

// Gov returns the current governance address.
func (e *Engine) Gov() crypto.Address { return e.gov }
