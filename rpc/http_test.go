package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"anchorledger/core"
	"anchorledger/core/state"
	"anchorledger/crypto"
	"anchorledger/native/rates"
	"anchorledger/storage"
)

const testToken = "test-secret"

func testAddr(b byte) crypto.Address {
	buf := make([]byte, 20)
	buf[19] = b
	return crypto.NewAddress(crypto.AccountPrefix, buf)
}

var (
	adminAddr  = testAddr(0xA0)
	vaultAddr  = testAddr(0xB0)
	minterAddr = testAddr(0x01)
)

type staticOracle struct {
	prices map[string]*big.Int
}

func (o *staticOracle) UnderlyingPrice(symbol string) (*big.Int, error) {
	price, ok := o.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("oracle: no price for %s", symbol)
	}
	return new(big.Int).Set(price), nil
}

func newTestServer(t *testing.T) (*Server, *core.Protocol) {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	protocol, err := core.NewProtocol(manager, adminAddr)
	require.NoError(t, err)

	oracle := &staticOracle{prices: map[string]*big.Int{
		"USDM": big.NewInt(1_000_000_000_000_000_000),
	}}
	require.NoError(t, protocol.Risk().SetPriceSource(adminAddr, oracle, "static"))

	model := rates.NewJumpRateModel(
		big.NewInt(0), big.NewInt(0), big.NewInt(0),
		big.NewInt(800_000_000_000_000_000),
	)
	require.NoError(t, protocol.AddMarket(core.MarketParams{
		Symbol:           "USDM",
		UnderlyingSymbol: "USDC",
		Vault:            vaultAddr,
		RateModel:        model,
	}))
	require.NoError(t, protocol.Risk().SupportMarket(adminAddr, "USDM"))
	require.NoError(t, manager.Token("USDC").Mint(minterAddr, big.NewInt(1_000_000)))
	protocol.SetBlockHeight(1)

	server := NewServer(protocol)
	server.authToken = testToken
	return server, protocol
}

type rpcCall struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

func post(t *testing.T, ts *httptest.Server, auth bool, method string, params ...interface{}) (*http.Response, RPCResponse) {
	t.Helper()
	payload, err := json.Marshal(rpcCall{JSONRPC: jsonRPCVersion, Method: method, Params: params, ID: 1})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(payload))
	require.NoError(t, err)
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func resultMap(t *testing.T, decoded RPCResponse) map[string]interface{} {
	t.Helper()
	require.Nil(t, decoded.Error)
	out, ok := decoded.Result.(map[string]interface{})
	require.True(t, ok, "expected object result, got %T", decoded.Result)
	return out
}

func TestHandleRejectsGarbage(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(http.HandlerFunc(server.handle))
	defer ts.Close()

	resp, err := ts.Client().Post(ts.URL, "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	httpResp, decoded := post(t, ts, false, "no_suchMethod")
	require.Equal(t, http.StatusNotFound, httpResp.StatusCode)
	require.NotNil(t, decoded.Error)
	require.Equal(t, codeMethodNotFound, decoded.Error.Code)
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(http.HandlerFunc(server.handle))
	defer ts.Close()

	params := map[string]string{"symbol": "USDM", "address": minterAddr.String(), "amount": "1000"}
	resp, decoded := post(t, ts, false, "market_mint", params)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotNil(t, decoded.Error)
	require.Equal(t, codeUnauthorized, decoded.Error.Code)
}

func TestMarketMintAndQueries(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(http.HandlerFunc(server.handle))
	defer ts.Close()

	params := map[string]string{"symbol": "USDM", "address": minterAddr.String(), "amount": "1000"}
	resp, decoded := post(t, ts, true, "market_mint", params)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := resultMap(t, decoded)
	require.Contains(t, result["txHash"], "0x")
	require.Equal(t, "1000", result["mintedTokens"])

	_, decoded = post(t, ts, false, "market_getLedger", map[string]string{"symbol": "USDM"})
	ledger := resultMap(t, decoded)
	require.Equal(t, "USDM", ledger["symbol"])
	require.Equal(t, "1000", ledger["totalSupply"])
	require.Equal(t, "1000", ledger["cash"])

	_, decoded = post(t, ts, false, "market_getAccountSnapshot", map[string]string{"symbol": "USDM", "address": minterAddr.String()})
	snapshot := resultMap(t, decoded)
	require.Equal(t, "1000", snapshot["tokenBalance"])
	require.Equal(t, "0", snapshot["borrowBalance"])
}

func TestMarketMintRejectsBadParams(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(http.HandlerFunc(server.handle))
	defer ts.Close()

	bad := map[string]string{"symbol": "USDM", "address": "nope", "amount": "1000"}
	resp, decoded := post(t, ts, true, "market_mint", bad)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, decoded.Error)

	negative := map[string]string{"symbol": "USDM", "address": minterAddr.String(), "amount": "-5"}
	resp, decoded = post(t, ts, true, "market_mint", negative)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, decoded.Error)

	ghost := map[string]string{"symbol": "GHOST", "address": minterAddr.String(), "amount": "5"}
	resp, decoded = post(t, ts, true, "market_mint", ghost)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, decoded.Error)
}

func TestRiskMembershipFlow(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(http.HandlerFunc(server.handle))
	defer ts.Close()

	enter := map[string]interface{}{"address": minterAddr.String(), "symbols": []string{"USDM"}}
	resp, decoded := post(t, ts, true, "risk_enterMarkets", enter)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	membership := resultMap(t, decoded)
	require.Equal(t, []interface{}{"USDM"}, membership["markets"])

	_, decoded = post(t, ts, false, "risk_getMembership", map[string]string{"address": minterAddr.String()})
	membership = resultMap(t, decoded)
	require.Equal(t, []interface{}{"USDM"}, membership["markets"])

	exit := map[string]string{"address": minterAddr.String(), "symbol": "USDM"}
	_, decoded = post(t, ts, true, "risk_exitMarket", exit)
	membership = resultMap(t, decoded)
	require.Equal(t, []interface{}{}, membership["markets"])
}

func TestEscrowUnconfigured(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(http.HandlerFunc(server.handle))
	defer ts.Close()

	resp, decoded := post(t, ts, true, "escrow_withdraw", map[string]string{"account": minterAddr.String()})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, decoded.Error)
	require.Contains(t, decoded.Error.Message, "escrow not configured")
}

func TestBodySizeLimit(t *testing.T) {
	server, _ := newTestServer(t)
	ts := httptest.NewServer(http.HandlerFunc(server.handle))
	defer ts.Close()

	huge := fmt.Sprintf(`{"jsonrpc":"2.0","method":"market_getLedger","params":[{"symbol":"%s"}],"id":1}`,
		bytes.Repeat([]byte("A"), maxRequestBytes))
	resp, err := ts.Client().Post(ts.URL, "application/json", bytes.NewReader([]byte(huge)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}
