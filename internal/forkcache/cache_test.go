package forkcache

import (
	"math/big"
	"path/filepath"
	"testing"

	"evmforge/internal/chainconfig"
)

func testEnv() (chainconfig.CfgEnv, chainconfig.BlockEnv) {
	return chainconfig.DefaultCfgEnv(1), chainconfig.BlockEnv{Number: 100}
}

// TestCacheConsistency implements spec.md §8's universal property: the first
// observed value for an address is returned for all subsequent reads.
func TestCacheConsistency(t *testing.T) {
	cfg, block := testEnv()
	c := New(cfg, block, "https://rpc.example")

	addr := [20]byte{1}
	acct := &Account{Balance: big.NewInt(42), Nonce: 3}
	c.PutAccount(addr, acct)

	for i := 0; i < 5; i++ {
		got, ok := c.GetAccount(addr)
		if !ok {
			t.Fatalf("expected hit on read %d", i)
		}
		if got.Balance.Cmp(big.NewInt(42)) != 0 || got.Nonce != 3 {
			t.Fatalf("read %d returned stale/different value: %+v", i, got)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "cache.json")

	cfg, block := testEnv()
	c := New(cfg, block, "https://rpc.example")
	c.path = path
	addr := [20]byte{0xAA}
	slot := [32]byte{0xBB}
	c.PutAccount(addr, &Account{Balance: big.NewInt(7), Nonce: 1})
	c.PutStorage(addr, slot, big.NewInt(99))
	c.PutBlockHash(100, [32]byte{0xCC})

	if err := c.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path, cfg, block)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	acct, ok := loaded.GetAccount(addr)
	if !ok || acct.Balance.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("account not round-tripped: %+v ok=%v", acct, ok)
	}
	val, ok := loaded.GetStorage(addr, slot)
	if !ok || val.Cmp(big.NewInt(99)) != 0 {
		t.Fatalf("storage not round-tripped: %v ok=%v", val, ok)
	}
	h, ok := loaded.GetBlockHash(100)
	if !ok || h != ([32]byte{0xCC}) {
		t.Fatalf("block hash not round-tripped: %x ok=%v", h, ok)
	}
}

// TestCacheMismatchStartsFresh covers spec.md §4.1: a cache file whose meta
// disagrees with the caller's meta is discarded and a fresh cache started,
// with hosts unioned into the new meta.
func TestCacheMismatchStartsFresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")

	cfg, block := testEnv()
	c := New(cfg, block, "https://old-host.example")
	c.path = path
	c.PutAccount([20]byte{1}, &Account{Balance: big.NewInt(1)})
	if err := c.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	otherBlock := chainconfig.BlockEnv{Number: 999}
	loaded, err := Load(path, cfg, otherBlock, "https://new-host.example")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := loaded.GetAccount([20]byte{1}); ok {
		t.Fatal("expected fresh cache, but stale account survived mismatch")
	}
	if _, ok := loaded.meta.Hosts["https://old-host.example"]; !ok {
		t.Fatal("expected old host to be unioned into fresh cache's meta")
	}
	if _, ok := loaded.meta.Hosts["https://new-host.example"]; !ok {
		t.Fatal("expected new host present in fresh cache's meta")
	}
}

func TestCommitOrdersDeletionsBeforeInsertionsAndWipesStorage(t *testing.T) {
	cfg, block := testEnv()
	c := New(cfg, block)
	addr := [20]byte{5}
	slot := [32]byte{6}
	c.PutStorage(addr, slot, big.NewInt(1))
	c.PutAccount(addr, &Account{Balance: big.NewInt(10)})

	c.Commit([]AccountDelta{
		{Addr: addr, StorageWipe: true, Account: &Account{Balance: big.NewInt(20)}},
	})

	if _, ok := c.GetStorage(addr, slot); ok {
		t.Fatal("expected storage wipe to drop pre-existing slot")
	}
	acct, ok := c.GetAccount(addr)
	if !ok || acct.Balance.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("expected committed account balance 20, got %+v", acct)
	}

	c.Commit([]AccountDelta{{Addr: addr, Deleted: true}})
	if _, ok := c.GetAccount(addr); ok {
		t.Fatal("expected account to be removed after deletion commit")
	}
}
