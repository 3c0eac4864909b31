package forkdb

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"evmforge/internal/chainconfig"
	"evmforge/internal/rpcclient"
)

// fakeChain serves a minimal canned JSON-RPC backend sufficient to exercise
// CreateFork/RollFork/Basic/Storage without a real network.
type fakeChain struct {
	srv        *httptest.Server
	blockNum   uint64
	balances   map[string]string
	storageVal string
}

func newFakeChain() *fakeChain {
	fc := &fakeChain{blockNum: 100, balances: map[string]string{}, storageVal: "0x0"}
	fc.srv = httptest.NewServer(http.HandlerFunc(fc.handle))
	return fc
}

type jsonrpcReq struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (fc *fakeChain) handle(w http.ResponseWriter, r *http.Request) {
	var req jsonrpcReq
	_ = json.NewDecoder(r.Body).Decode(&req)
	w.Header().Set("Content-Type", "application/json")

	var result any
	switch req.Method {
	case "eth_blockNumber":
		result = blockNumberTag(fc.blockNum)
	case "eth_getBlockByNumber":
		result = rpcBlockHeader{
			Number:       blockNumberTag(fc.blockNum),
			Hash:         "0x" + "11",
			ParentHash:   "0x" + "00",
			Timestamp:    "0x1",
			GasUsed:      "0x5208",
			GasLimit:     "0x1c9c380",
			BaseFee:      "0x3b9aca00",
			Miner:        "0x0000000000000000000000000000000000000001",
			Difficulty:   "0x0",
			Transactions: []string{},
		}
	case "eth_getBalance":
		result = "0x64"
	case "eth_getTransactionCount":
		result = "0x1"
	case "eth_getCode":
		result = "0x"
	case "eth_getStorageAt":
		result = fc.storageVal
	default:
		http.Error(w, "unsupported method "+req.Method, http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
}

func (fc *fakeChain) dialer(url string) (*rpcclient.Client, error) {
	return rpcclient.Dial(fc.srv.URL)
}

func TestCreateForkAndBasicLoadsThroughRPC(t *testing.T) {
	fc := newFakeChain()
	defer fc.srv.Close()

	db := NewDatabase(fc.dialer)
	ctx := context.Background()
	desc := ForkDescriptor{URL: fc.srv.URL, Env: chainconfig.DefaultCfgEnv(1)}

	id, err := db.CreateFork(ctx, desc)
	if err != nil {
		t.Fatalf("create_fork: %v", err)
	}

	journal := NewJournal()
	if err := db.SelectFork(id, journal); err != nil {
		t.Fatalf("select_fork: %v", err)
	}

	addr := Address{0xAA}
	acct, cold, err := db.Basic(ctx, addr, journal)
	if err != nil {
		t.Fatalf("basic: %v", err)
	}
	if !cold {
		t.Fatal("expected cold load on first query")
	}
	if acct.Balance.Int64() != 0x64 {
		t.Fatalf("expected balance 0x64, got %v", acct.Balance)
	}

	_, cold2, err := db.Basic(ctx, addr, journal)
	if err != nil {
		t.Fatalf("basic reload: %v", err)
	}
	if cold2 {
		t.Fatal("expected warm load on second query (cache-consistency property)")
	}
}

func TestActiveForkIDNilWithNoFork(t *testing.T) {
	db := NewDatabase(func(string) (*rpcclient.Client, error) { return nil, nil })
	if id := db.ActiveForkID(); id != nil {
		t.Fatalf("expected no active fork, got %v", *id)
	}
}

func TestSnapshotRevertIsSingleUse(t *testing.T) {
	db := NewDatabase(func(string) (*rpcclient.Client, error) { return nil, nil })
	journal := NewJournal()
	addr := Address{0xBB}
	journal.SetCode(addr, []byte{0x01})

	id := db.Snapshot(journal, BlockEnv{Number: 1})

	journal.SetCode(addr, []byte{0x02, 0x03})

	restored, ok := db.Revert(id)
	if !ok {
		t.Fatal("expected first revert to succeed")
	}
	acct, _ := restored.lookupAccount(addr)
	if len(acct.Code) != 1 {
		t.Fatalf("expected restored journal to have pre-mutation code, got %v", acct.Code)
	}

	if _, ok := db.Revert(id); ok {
		t.Fatal("expected second revert of the same id to report not-found")
	}
}

func TestRevertInvalidatesLaterSnapshots(t *testing.T) {
	db := NewDatabase(func(string) (*rpcclient.Client, error) { return nil, nil })
	journal := NewJournal()
	addr := Address{0xCC}
	journal.SetCode(addr, []byte{0x01})

	s1 := db.Snapshot(journal, BlockEnv{Number: 1})
	journal.SetCode(addr, []byte{0x02})
	s2 := db.Snapshot(journal, BlockEnv{Number: 2})
	journal.SetCode(addr, []byte{0x03})

	if _, ok := db.Revert(s1); !ok {
		t.Fatal("expected revert of s1 to succeed")
	}

	if _, ok := db.Revert(s2); ok {
		t.Fatal("expected s2, taken after s1, to have been invalidated by reverting s1")
	}
}

func TestPersistentAccountSurvivesForkSwitch(t *testing.T) {
	fc := newFakeChain()
	defer fc.srv.Close()

	db := NewDatabase(fc.dialer)
	ctx := context.Background()
	desc1 := ForkDescriptor{URL: fc.srv.URL, Env: chainconfig.DefaultCfgEnv(1)}
	desc2 := ForkDescriptor{URL: fc.srv.URL, Env: chainconfig.DefaultCfgEnv(2)}

	id1, err := db.CreateFork(ctx, desc1)
	if err != nil {
		t.Fatalf("create_fork 1: %v", err)
	}
	id2, err := db.CreateFork(ctx, desc2)
	if err != nil {
		t.Fatalf("create_fork 2: %v", err)
	}

	journal := NewJournal()
	addr := Address{0xCC}
	db.AddPersistentAccount(addr)

	if err := db.SelectFork(id1, journal); err != nil {
		t.Fatalf("select_fork 1: %v", err)
	}
	journal.SetBalance(addr, bigOne())
	db.snapshotPersistentLocked(journal)

	if err := db.SelectFork(id2, journal); err != nil {
		t.Fatalf("select_fork 2: %v", err)
	}
	acct, ok := journal.lookupAccount(addr)
	if !ok {
		t.Fatal("expected persistent account to be carried into the new fork")
	}
	if acct.Balance.Cmp(bigOne()) != 0 {
		t.Fatalf("expected persistent balance to survive fork switch, got %v", acct.Balance)
	}
}

func bigOne() *Word { return big.NewInt(1) }
