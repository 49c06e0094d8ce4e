package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"anchorledger/crypto"
	"anchorledger/native/escrow"
	"anchorledger/native/market"
	"anchorledger/native/risk"
	"anchorledger/native/votes"
	"anchorledger/storage"
)

var (
	marketLedgerKeyFormat   = "market/ledger/%s"
	marketPositionKeyFormat = "market/position/%s/%s"
	riskConfigKeyFormat     = "risk/config/%s"
	riskParamsKey           = "risk/params"
	riskMembershipKeyFmt    = "risk/membership/%s"
	votesCheckpointsKeyFmt  = "votes/checkpoints/%s"
	votesDelegateKeyFormat  = "votes/delegate/%s"
	votesNonceKeyFormat     = "votes/nonce/%s"
	escrowEntryKeyFormat    = "escrow/entry/%s"
	accountKeyFormat        = "account/%s"
	blockHeightKey          = "chain/height"
)

// Manager persists engine state in a flat key/value database with JSON
// encoding. It satisfies the narrow state interfaces every native engine
// declares, so one manager backs all of them.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) getJSON(key string, out interface{}) (bool, error) {
	data, err := m.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

func (m *Manager) putJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	return m.db.Put([]byte(key), data)
}

// GetLedger loads a market ledger, or nil when the market was never seeded.
func (m *Manager) GetLedger(symbol string) (*market.Ledger, error) {
	ledger := new(market.Ledger)
	ok, err := m.getJSON(fmt.Sprintf(marketLedgerKeyFormat, symbol), ledger)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return ledger, nil
}

// PutLedger stores a market ledger.
func (m *Manager) PutLedger(symbol string, ledger *market.Ledger) error {
	return m.putJSON(fmt.Sprintf(marketLedgerKeyFormat, symbol), ledger)
}

// LedgerSymbols lists every market symbol with a persisted ledger, sorted.
func (m *Manager) LedgerSymbols() ([]string, error) {
	prefix := strings.TrimSuffix(marketLedgerKeyFormat, "%s")
	keys, err := m.db.KeysWithPrefix([]byte(prefix))
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(keys))
	for _, key := range keys {
		symbols = append(symbols, strings.TrimPrefix(string(key), prefix))
	}
	sort.Strings(symbols)
	return symbols, nil
}

// GetPosition loads an account's position in a market, or nil when absent.
func (m *Manager) GetPosition(symbol string, addr crypto.Address) (*market.Position, error) {
	position := new(market.Position)
	ok, err := m.getJSON(fmt.Sprintf(marketPositionKeyFormat, symbol, addr.String()), position)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return position, nil
}

// PutPosition stores an account's position in a market.
func (m *Manager) PutPosition(symbol string, position *market.Position) error {
	return m.putJSON(fmt.Sprintf(marketPositionKeyFormat, symbol, position.Address.String()), position)
}

// GetMarketConfig loads a market's risk configuration, or nil when unlisted.
func (m *Manager) GetMarketConfig(symbol string) (*risk.Config, error) {
	cfg := new(risk.Config)
	ok, err := m.getJSON(fmt.Sprintf(riskConfigKeyFormat, symbol), cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return cfg, nil
}

// PutMarketConfig stores a market's risk configuration.
func (m *Manager) PutMarketConfig(symbol string, cfg *risk.Config) error {
	return m.putJSON(fmt.Sprintf(riskConfigKeyFormat, symbol), cfg)
}

// GetRiskParams loads the protocol-wide risk scalars, or nil when never set.
func (m *Manager) GetRiskParams() (*risk.Params, error) {
	params := new(risk.Params)
	ok, err := m.getJSON(riskParamsKey, params)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return params, nil
}

// PutRiskParams stores the protocol-wide risk scalars.
func (m *Manager) PutRiskParams(params *risk.Params) error {
	return m.putJSON(riskParamsKey, params)
}

// GetMembership loads the markets an account has entered as collateral.
func (m *Manager) GetMembership(addr crypto.Address) ([]string, error) {
	var symbols []string
	if _, err := m.getJSON(fmt.Sprintf(riskMembershipKeyFmt, addr.String()), &symbols); err != nil {
		return nil, err
	}
	sort.Strings(symbols)
	return symbols, nil
}

// PutMembership stores an account's market membership.
func (m *Manager) PutMembership(addr crypto.Address, symbols []string) error {
	return m.putJSON(fmt.Sprintf(riskMembershipKeyFmt, addr.String()), symbols)
}

// GetCheckpoints loads an account's voting power history.
func (m *Manager) GetCheckpoints(addr crypto.Address) ([]votes.Checkpoint, error) {
	var checkpoints []votes.Checkpoint
	if _, err := m.getJSON(fmt.Sprintf(votesCheckpointsKeyFmt, addr.String()), &checkpoints); err != nil {
		return nil, err
	}
	return checkpoints, nil
}

// PutCheckpoints stores an account's voting power history.
func (m *Manager) PutCheckpoints(addr crypto.Address, checkpoints []votes.Checkpoint) error {
	return m.putJSON(fmt.Sprintf(votesCheckpointsKeyFmt, addr.String()), checkpoints)
}

// GetDelegate loads an account's delegatee; the zero address means none.
func (m *Manager) GetDelegate(addr crypto.Address) (crypto.Address, error) {
	var encoded string
	ok, err := m.getJSON(fmt.Sprintf(votesDelegateKeyFormat, addr.String()), &encoded)
	if err != nil || !ok {
		return crypto.Address{}, err
	}
	if encoded == "" {
		return crypto.Address{}, nil
	}
	return crypto.DecodeAddress(encoded)
}

// PutDelegate stores an account's delegatee.
func (m *Manager) PutDelegate(addr, delegatee crypto.Address) error {
	encoded := ""
	if !delegatee.IsZero() {
		encoded = delegatee.String()
	}
	return m.putJSON(fmt.Sprintf(votesDelegateKeyFormat, addr.String()), encoded)
}

// GetNonce loads an account's signed-delegation nonce.
func (m *Manager) GetNonce(addr crypto.Address) (uint64, error) {
	var encoded string
	ok, err := m.getJSON(fmt.Sprintf(votesNonceKeyFormat, addr.String()), &encoded)
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseUint(encoded, 10, 64)
}

// PutNonce stores an account's signed-delegation nonce.
func (m *Manager) PutNonce(addr crypto.Address, nonce uint64) error {
	return m.putJSON(fmt.Sprintf(votesNonceKeyFormat, addr.String()), strconv.FormatUint(nonce, 10))
}

// BlockHeight loads the last persisted block height, zero when never set.
func (m *Manager) BlockHeight() (uint64, error) {
	var encoded string
	ok, err := m.getJSON(blockHeightKey, &encoded)
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseUint(encoded, 10, 64)
}

// PutBlockHeight persists the current block height.
func (m *Manager) PutBlockHeight(height uint64) error {
	return m.putJSON(blockHeightKey, strconv.FormatUint(height, 10))
}

// GetEscrowEntry loads an account's pending withdrawal, or nil when absent.
func (m *Manager) GetEscrowEntry(addr crypto.Address) (*escrow.Entry, error) {
	entry := new(escrow.Entry)
	ok, err := m.getJSON(fmt.Sprintf(escrowEntryKeyFormat, addr.String()), entry)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return entry, nil
}

// PutEscrowEntry stores an account's pending withdrawal.
func (m *Manager) PutEscrowEntry(addr crypto.Address, entry *escrow.Entry) error {
	return m.putJSON(fmt.Sprintf(escrowEntryKeyFormat, addr.String()), entry)
}

// DeleteEscrowEntry removes an account's pending withdrawal.
func (m *Manager) DeleteEscrowEntry(addr crypto.Address) error {
	err := m.db.Delete([]byte(fmt.Sprintf(escrowEntryKeyFormat, addr.String())))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil
	}
	return err
}
