package main

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"evmforge/internal/broadcast"
	"evmforge/internal/chainconfig"
	"evmforge/internal/fees"
	"evmforge/internal/forkdb"
	"evmforge/internal/rpcclient"
	"evmforge/pkg/telemetry"
)

func newTestServer(t *testing.T) *server {
	t.Helper()
	db := forkdb.NewDatabase(func(url string) (*rpcclient.Client, error) {
		return rpcclient.Dial(url)
	})
	node := &nodeState{
		db:      db,
		journal: forkdb.NewJournal(),
		fees:    fees.NewManager(chainconfig.HardforkLondon, big.NewInt(1_000_000_000), nil, 8, 2),
		history: fees.NewHistory(2),
		pool:    broadcast.New(),
		chainID: 1,
	}
	logger, err := telemetry.New(node, filepath.Join(t.TempDir(), "node.log"))
	if err != nil {
		t.Fatalf("telemetry: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return newServer("127.0.0.1:0", node, logger)
}

func postRPC(t *testing.T, s *server, method string, params any) rpcResponse {
	t.Helper()
	rawParams, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	body, err := json.Marshal(rpcEnvelope{Method: method, Params: rawParams})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleRPC(rec, req)

	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestHandleRPCGetBalanceOnLocalSession(t *testing.T) {
	s := newTestServer(t)
	resp := postRPC(t, s, "eth_getBalance", map[string]string{"address": "0x0000000000000000000000000000000000000001"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var balance string
	if err := json.Unmarshal(resp.Result, &balance); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if balance != "0x0" {
		t.Fatalf("expected zero balance for an untouched local account, got %s", balance)
	}
}

func TestHandleRPCUnknownMethodErrors(t *testing.T) {
	s := newTestServer(t)
	resp := postRPC(t, s, "eth_sendTransaction", map[string]string{})
	if resp.Error == nil {
		t.Fatalf("expected an error for an unsupported method")
	}
}

func TestHandleRPCFeeHistoryEmpty(t *testing.T) {
	s := newTestServer(t)
	resp := postRPC(t, s, "eth_feeHistory", map[string]any{"blockCount": 4, "newestBlock": 10})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var rows []map[string]any
	if err := json.Unmarshal(resp.Result, &rows); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows from an empty history, got %d", len(rows))
	}
}
