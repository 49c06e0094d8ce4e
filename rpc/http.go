package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"anchorledger/core"
	"anchorledger/observability"
	"anchorledger/rpc/modules"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

type Server struct {
	protocol  *core.Protocol
	authToken string

	market  *modules.MarketModule
	risk    *modules.RiskModule
	staking *modules.StakingModule
}

func NewServer(protocol *core.Protocol) *Server {
	token := strings.TrimSpace(os.Getenv("ANCHOR_RPC_TOKEN"))
	return &Server{
		protocol:  protocol,
		authToken: token,
		market:    modules.NewMarketModule(protocol),
		risk:      modules.NewRiskModule(protocol),
		staking:   modules.NewStakingModule(protocol),
	}
}

// Start serves JSON-RPC on addr until the listener fails. The Prometheus
// scrape endpoint is exposed on the same listener.
func (s *Server) Start(addr string) error {
	slog.Info("starting JSON-RPC server", "component", "rpc", "addr", addr)
	mux := http.NewServeMux()
	mux.Handle("/", otelhttp.NewHandler(http.HandlerFunc(s.handle), "rpc"))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return http.ListenAndServe(addr, mux)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// statusWriter remembers the status code written to the underlying writer so
// the request metrics can segment by outcome.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to per-module handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	s.dispatch(sw, r, req)
	module, method, _ := strings.Cut(req.Method, "_")
	observability.ModuleMetrics().Observe(module, method, sw.status, time.Since(start))
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "market_getLedger":
		s.handleMarketGetLedger(w, r, req)
	case "market_getAccountSnapshot":
		s.handleMarketGetAccountSnapshot(w, r, req)
	case "market_accrueInterest":
		s.handleMarketAccrueInterest(w, r, req)
	case "market_mint":
		s.withAuth(w, r, req, s.handleMarketMint)
	case "market_redeem":
		s.withAuth(w, r, req, s.handleMarketRedeem)
	case "market_redeemUnderlying":
		s.withAuth(w, r, req, s.handleMarketRedeemUnderlying)
	case "market_borrow":
		s.withAuth(w, r, req, s.handleMarketBorrow)
	case "market_repayBorrow":
		s.withAuth(w, r, req, s.handleMarketRepayBorrow)
	case "market_liquidateBorrow":
		s.withAuth(w, r, req, s.handleMarketLiquidateBorrow)
	case "risk_enterMarkets":
		s.withAuth(w, r, req, s.handleRiskEnterMarkets)
	case "risk_exitMarket":
		s.withAuth(w, r, req, s.handleRiskExitMarket)
	case "risk_getMembership":
		s.handleRiskGetMembership(w, r, req)
	case "risk_getAccountLiquidity":
		s.handleRiskGetAccountLiquidity(w, r, req)
	case "votes_delegate":
		s.withAuth(w, r, req, s.handleVotesDelegate)
	case "votes_delegateBySig":
		s.handleVotesDelegateBySig(w, r, req)
	case "votes_getCurrentVotes":
		s.handleVotesGetCurrentVotes(w, r, req)
	case "votes_getPriorVotes":
		s.handleVotesGetPriorVotes(w, r, req)
	case "escrow_withdraw":
		s.withAuth(w, r, req, s.handleEscrowWithdraw)
	case "escrow_getPending":
		s.handleEscrowGetPending(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

type rpcHandler func(http.ResponseWriter, *http.Request, *RPCRequest)

func (s *Server) withAuth(w http.ResponseWriter, r *http.Request, req *RPCRequest, next rpcHandler) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	next(w, r, req)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}
