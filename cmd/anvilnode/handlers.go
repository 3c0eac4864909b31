package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"evmforge/internal/forkdb"
)

// parseHexWord decodes a "0x"-prefixed hex string into a storage word.
func parseHexWord(s string) (*big.Int, bool) {
	s = strings.TrimPrefix(s, "0x")
	v, ok := new(big.Int).SetString(s, 16)
	return v, ok
}

// rpcEnvelope/rpcResponse mirror internal/rpcclient's own wire shape
// ({method, params} request, {result, error{code, message}} response) so a
// rpcclient.Client can talk to this node directly.
type rpcEnvelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcErr         `json:"error,omitempty"`
}

type rpcErr struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var env rpcEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeRPCError(w, fmt.Errorf("decode request: %w", err))
		return
	}

	var (
		result any
		err    error
	)
	switch env.Method {
	case "eth_blockNumber":
		result, err = s.ethBlockNumber(r.Context())
	case "eth_getBalance":
		result, err = s.ethGetBalance(r.Context(), env.Params)
	case "eth_getStorageAt":
		result, err = s.ethGetStorageAt(r.Context(), env.Params)
	case "eth_feeHistory":
		result, err = s.ethFeeHistory(env.Params)
	default:
		writeRPCError(w, fmt.Errorf("method not supported: %s", env.Method))
		return
	}
	if err != nil {
		s.logger.LogEvent(logrus.ErrorLevel, err.Error())
		writeRPCError(w, err)
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		writeRPCError(w, fmt.Errorf("marshal result: %w", err))
		return
	}
	writeJSON(w, rpcResponse{Result: raw})
}

func writeRPCError(w http.ResponseWriter, err error) {
	writeJSON(w, rpcResponse{Error: &rpcErr{Code: -32000, Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// ethBlockNumber always reports 0x0: tracking a live chain tip is out of
// scope for this thin node (only the four listed methods are implemented).
func (s *server) ethBlockNumber(ctx context.Context) (string, error) {
	return "0x0", nil
}

type getBalanceParams struct {
	Address forkdb.Address `json:"address"`
}

func (s *server) ethGetBalance(ctx context.Context, raw json.RawMessage) (string, error) {
	var p getBalanceParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("decode params: %w", err)
	}
	acct, _, err := s.node.db.Basic(ctx, p.Address, s.node.journal)
	if err != nil {
		return "", err
	}
	if acct.Balance == nil {
		return "0x0", nil
	}
	return "0x" + acct.Balance.Text(16), nil
}

type getStorageAtParams struct {
	Address forkdb.Address `json:"address"`
	Key     string         `json:"key"`
}

func (s *server) ethGetStorageAt(ctx context.Context, raw json.RawMessage) (string, error) {
	var p getStorageAtParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("decode params: %w", err)
	}
	key, ok := parseHexWord(p.Key)
	if !ok {
		return "", fmt.Errorf("invalid storage key %q", p.Key)
	}
	val, err := s.node.db.Storage(ctx, p.Address, *key, s.node.journal)
	if err != nil {
		return "", err
	}
	return "0x" + val.Text(16), nil
}

type feeHistoryParams struct {
	BlockCount int    `json:"blockCount"`
	NewestBlk  uint64 `json:"newestBlock"`
}

func (s *server) ethFeeHistory(raw json.RawMessage) (any, error) {
	var p feeHistoryParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	type row struct {
		Number       uint64   `json:"number"`
		BaseFee      string   `json:"baseFeePerGas"`
		GasUsedRatio float64  `json:"gasUsedRatio"`
	}
	out := make([]row, 0, p.BlockCount)
	for n := p.NewestBlk; n > 0 && len(out) < p.BlockCount; n-- {
		entry, ok := s.node.history.Get(n)
		if !ok {
			continue
		}
		out = append(out, row{Number: n, BaseFee: "0x" + entry.BaseFee.Text(16), GasUsedRatio: entry.GasUsedRatio})
	}
	return out, nil
}

// handleWS upgrades to a websocket and streams a single ack, the minimal
// stand-in for a subscribe_blocks feed (full subscription semantics are out
// of scope per spec.md's explicit JSON-RPC-surface Non-goal).
func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.LogEvent(logrus.ErrorLevel, fmt.Sprintf("ws upgrade: %v", err))
		return
	}
	defer conn.Close()
	_ = conn.WriteJSON(map[string]string{"status": "subscribed"})
}
