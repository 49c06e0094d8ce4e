package votes

import (
	"errors"
	"math/big"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"anchorledger/core/events"
	"anchorledger/crypto"
)

var (
	errNilState    = errors.New("vote ledger: state not configured")
	errNilBalances = errors.New("vote ledger: stake source not configured")
	errVoteUnder   = errors.New("vote ledger: vote amount underflows")

	// ErrInvalidSignature is returned when a delegation signature does not
	// recover to a usable signatory.
	ErrInvalidSignature = errors.New("vote ledger: invalid signature")
	// ErrInvalidNonce is returned when the signed nonce does not match the
	// signatory's stored nonce exactly.
	ErrInvalidNonce = errors.New("vote ledger: invalid nonce")
	// ErrExpired is returned when a signed delegation is submitted after its
	// expiry timestamp.
	ErrExpired = errors.New("vote ledger: signature expired")
	// ErrNotYetDetermined rejects prior-vote queries for the current or a
	// future block; only finalized history is queryable.
	ErrNotYetDetermined = errors.New("vote ledger: block not yet determined")
)

var (
	domainTypehash     = gethcrypto.Keccak256([]byte("EIP712Domain(string name,uint256 chainId,address verifyingContract)"))
	delegationTypehash = gethcrypto.Keccak256([]byte("Delegation(address delegatee,uint256 nonce,uint256 expiry)"))
)

// Checkpoint is a block-stamped voting power snapshot. Per account the
// sequence is strictly increasing in FromBlock with at most one entry per
// block.
type Checkpoint struct {
	FromBlock uint64   `json:"fromBlock"`
	Votes     *big.Int `json:"votes"`
}

type engineState interface {
	GetCheckpoints(addr crypto.Address) ([]Checkpoint, error)
	PutCheckpoints(addr crypto.Address, checkpoints []Checkpoint) error
	GetDelegate(addr crypto.Address) (crypto.Address, error)
	PutDelegate(addr crypto.Address, delegatee crypto.Address) error
	GetNonce(addr crypto.Address) (uint64, error)
	PutNonce(addr crypto.Address, nonce uint64) error
}

// StakeSource reports the staked claim-token balance that backs an account's
// delegatable voting weight.
type StakeSource interface {
	StakedBalance(addr crypto.Address) (*big.Int, error)
}

// Ledger tracks per-account voting power checkpoints and the delegation
// graph for the staked-governance market. Raw balances carry no votes until
// delegated.
type Ledger struct {
	state       engineState
	balances    StakeSource
	emitter     events.Emitter
	nowFn       func() time.Time
	blockHeight uint64
	name        string
	chainID     uint64
	address     crypto.Address
}

// NewLedger constructs a vote ledger. Name, chain id and the ledger address
// pin the signed-delegation domain.
func NewLedger(name string, chainID uint64, address crypto.Address) *Ledger {
	return &Ledger{
		emitter: events.NoopEmitter{},
		nowFn:   func() time.Time { return time.Now().UTC() },
		name:    name,
		chainID: chainID,
		address: address,
	}
}

// SetState wires the ledger to the external persistence layer.
func (l *Ledger) SetState(state engineState) { l.state = state }

// SetStakeSource wires the staked market the ledger reads balances from.
func (l *Ledger) SetStakeSource(source StakeSource) { l.balances = source }

// SetEmitter configures the event emitter. Nil resets it to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetNowFunc overrides the time source used for signature expiry. Nil
// restores the default UTC clock.
func (l *Ledger) SetNowFunc(now func() time.Time) {
	if now == nil {
		l.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	l.nowFn = now
}

// SetBlockHeight records the block height new checkpoints are stamped with.
func (l *Ledger) SetBlockHeight(height uint64) { l.blockHeight = height }

// Delegate moves the caller's voting weight from their current delegatee to
// the new one.
func (l *Ledger) Delegate(delegator, delegatee crypto.Address) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if l.balances == nil {
		return errNilBalances
	}
	current, err := l.state.GetDelegate(delegator)
	if err != nil {
		return err
	}
	balance, err := l.balances.StakedBalance(delegator)
	if err != nil {
		return err
	}
	if err := l.state.PutDelegate(delegator, delegatee); err != nil {
		return err
	}
	if err := l.moveDelegates(current, delegatee, balance, l.blockHeight); err != nil {
		return err
	}
	l.emitter.Emit(events.DelegateChanged{
		Delegator:    delegator,
		FromDelegate: current,
		ToDelegate:   delegatee,
	})
	return nil
}

// DelegateBySig applies a delegation authorized by an offline secp256k1
// signature over the EIP-712 style delegation digest. The signature is the
// 65-byte [R || S || V] form with V in {0, 1}.
func (l *Ledger) DelegateBySig(delegatee crypto.Address, nonce, expiry uint64, sig []byte) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if len(sig) != 65 {
		return ErrInvalidSignature
	}
	digest := l.delegationDigest(delegatee, nonce, expiry)
	pubkey, err := gethcrypto.SigToPub(digest, sig)
	if err != nil {
		return ErrInvalidSignature
	}
	signatory := crypto.NewAddress(crypto.AccountPrefix, gethcrypto.PubkeyToAddress(*pubkey).Bytes())
	if signatory.IsZero() {
		return ErrInvalidSignature
	}
	stored, err := l.state.GetNonce(signatory)
	if err != nil {
		return err
	}
	if nonce != stored {
		return ErrInvalidNonce
	}
	if uint64(l.nowFn().Unix()) > expiry {
		return ErrExpired
	}
	if err := l.state.PutNonce(signatory, stored+1); err != nil {
		return err
	}
	return l.Delegate(signatory, delegatee)
}

// DelegationDigest exposes the digest signed by DelegateBySig callers.
func (l *Ledger) DelegationDigest(delegatee crypto.Address, nonce, expiry uint64) []byte {
	return l.delegationDigest(delegatee, nonce, expiry)
}

func (l *Ledger) delegationDigest(delegatee crypto.Address, nonce, expiry uint64) []byte {
	domainSeparator := gethcrypto.Keccak256(
		domainTypehash,
		gethcrypto.Keccak256([]byte(l.name)),
		pad32(new(big.Int).SetUint64(l.chainID)),
		padAddress(l.address),
	)
	structHash := gethcrypto.Keccak256(
		delegationTypehash,
		padAddress(delegatee),
		pad32(new(big.Int).SetUint64(nonce)),
		pad32(new(big.Int).SetUint64(expiry)),
	)
	return gethcrypto.Keccak256([]byte{0x19, 0x01}, domainSeparator, structHash)
}

// TokensMoved shifts delegated voting weight when staked claim tokens move.
// A zero src or dst marks the mint or burn side of the movement.
func (l *Ledger) TokensMoved(src, dst crypto.Address, amount *big.Int, block uint64) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	srcDelegate, err := l.delegateOf(src)
	if err != nil {
		return err
	}
	dstDelegate, err := l.delegateOf(dst)
	if err != nil {
		return err
	}
	return l.moveDelegates(srcDelegate, dstDelegate, amount, block)
}

// GetCurrentVotes returns the account's voting power at the most recent
// checkpoint, or zero.
func (l *Ledger) GetCurrentVotes(addr crypto.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	checkpoints, err := l.state.GetCheckpoints(addr)
	if err != nil {
		return nil, err
	}
	if len(checkpoints) == 0 {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(checkpoints[len(checkpoints)-1].Votes), nil
}

// GetPriorVotes returns the account's voting power at the given past block.
// Only finalized blocks are queryable.
func (l *Ledger) GetPriorVotes(addr crypto.Address, blockNumber uint64) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	if blockNumber >= l.blockHeight {
		return nil, ErrNotYetDetermined
	}
	checkpoints, err := l.state.GetCheckpoints(addr)
	if err != nil {
		return nil, err
	}
	if len(checkpoints) == 0 {
		return big.NewInt(0), nil
	}
	if checkpoints[0].FromBlock > blockNumber {
		return big.NewInt(0), nil
	}
	if checkpoints[len(checkpoints)-1].FromBlock <= blockNumber {
		return new(big.Int).Set(checkpoints[len(checkpoints)-1].Votes), nil
	}

	// Binary search for the latest checkpoint at or before blockNumber.
	lower, upper := 0, len(checkpoints)-1
	for upper > lower {
		center := upper - (upper-lower)/2
		if checkpoints[center].FromBlock == blockNumber {
			return new(big.Int).Set(checkpoints[center].Votes), nil
		}
		if checkpoints[center].FromBlock < blockNumber {
			lower = center
		} else {
			upper = center - 1
		}
	}
	return new(big.Int).Set(checkpoints[lower].Votes), nil
}

// NumCheckpoints returns the number of checkpoints recorded for the account.
func (l *Ledger) NumCheckpoints(addr crypto.Address) (int, error) {
	if l == nil || l.state == nil {
		return 0, errNilState
	}
	checkpoints, err := l.state.GetCheckpoints(addr)
	if err != nil {
		return 0, err
	}
	return len(checkpoints), nil
}

// Delegates returns the account's current delegatee; a zero address means no
// delegation is in effect.
func (l *Ledger) Delegates(addr crypto.Address) (crypto.Address, error) {
	if l == nil || l.state == nil {
		return crypto.Address{}, errNilState
	}
	return l.state.GetDelegate(addr)
}

// Nonce returns the next expected signed-delegation nonce for the account.
func (l *Ledger) Nonce(addr crypto.Address) (uint64, error) {
	if l == nil || l.state == nil {
		return 0, errNilState
	}
	return l.state.GetNonce(addr)
}

func (l *Ledger) delegateOf(addr crypto.Address) (crypto.Address, error) {
	if addr.IsZero() {
		return crypto.Address{}, nil
	}
	return l.state.GetDelegate(addr)
}

func (l *Ledger) moveDelegates(src, dst crypto.Address, amount *big.Int, block uint64) error {
	if amount == nil || amount.Sign() == 0 || src.Equal(dst) {
		return nil
	}
	if !src.IsZero() {
		old, err := l.latestVotes(src)
		if err != nil {
			return err
		}
		updated := new(big.Int).Sub(old, amount)
		if updated.Sign() < 0 {
			return errVoteUnder
		}
		if err := l.writeCheckpoint(src, old, updated, block); err != nil {
			return err
		}
	}
	if !dst.IsZero() {
		old, err := l.latestVotes(dst)
		if err != nil {
			return err
		}
		updated := new(big.Int).Add(old, amount)
		if err := l.writeCheckpoint(dst, old, updated, block); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) latestVotes(addr crypto.Address) (*big.Int, error) {
	checkpoints, err := l.state.GetCheckpoints(addr)
	if err != nil {
		return nil, err
	}
	if len(checkpoints) == 0 {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(checkpoints[len(checkpoints)-1].Votes), nil
}

// writeCheckpoint appends a checkpoint at the given block, or overwrites the
// last entry in place when it already carries that block. This is what
// bounds checkpoints to one per account per block.
func (l *Ledger) writeCheckpoint(addr crypto.Address, old, votes *big.Int, block uint64) error {
	checkpoints, err := l.state.GetCheckpoints(addr)
	if err != nil {
		return err
	}
	if n := len(checkpoints); n > 0 && checkpoints[n-1].FromBlock == block {
		checkpoints[n-1].Votes = new(big.Int).Set(votes)
	} else {
		checkpoints = append(checkpoints, Checkpoint{FromBlock: block, Votes: new(big.Int).Set(votes)})
	}
	if err := l.state.PutCheckpoints(addr, checkpoints); err != nil {
		return err
	}
	l.emitter.Emit(events.VotesChanged{
		Delegatee: addr,
		Old:       old,
		New:       new(big.Int).Set(votes),
		Block:     block,
	})
	return nil
}

func pad32(v *big.Int) []byte {
	buf := make([]byte, 32)
	return v.FillBytes(buf)
}

func padAddress(addr crypto.Address) []byte {
	buf := make([]byte, 32)
	copy(buf[12:], addr.Bytes())
	return buf
}
