// Package forkcache implements the process-wide, content-addressed Fork
// Cache (C2, spec.md §4.2): an in-memory LRU fast path in front of a single
// JSON file per configuration, shared between every fork that agrees on
// (cfg_env, block_env).
package forkcache

import (
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"evmforge/internal/chainconfig"
)

// Account mirrors spec.md §3 "Account record", omitting the code body when
// it is identical to CodeHash (the zero-code sentinel).
type Account struct {
	Balance  *big.Int `json:"balance"`
	Nonce    uint64   `json:"nonce"`
	CodeHash [32]byte `json:"code_hash"`
	Code     []byte   `json:"code,omitempty"`
}

// storageKey identifies one (address, slot) pair.
type storageKey struct {
	addr [20]byte
	slot [32]byte
}

// meta is the fork-cache-entry metadata (spec.md §3 "Fork cache entry").
// Hosts participates in identity-for-lookup (endpoints are unioned on
// write) but never in equality.
type meta struct {
	CfgEnv   chainconfig.CfgEnv   `json:"cfg_env"`
	BlockEnv chainconfig.BlockEnv `json:"block_env"`
	Hosts    hostSet              `json:"hosts"`
}

// Equal reports whether two metas are compatible per spec.md §3: equal
// cfg_env and block_env, irrespective of hosts.
func (m meta) Equal(o meta) bool {
	return m.CfgEnv == o.CfgEnv && m.BlockEnv == o.BlockEnv
}

// Cache is the in-process, file-backed store described in spec.md §4.2.
// All four inner tables (accounts, storage, block_hashes, meta) are guarded
// by independent shared-exclusive locks so writers on distinct tables never
// serialize against each other (spec.md §5).
type Cache struct {
	path string
	log  *logrus.Entry

	metaMu sync.RWMutex
	meta   meta

	acctMu   sync.RWMutex
	accounts *lru.Cache[[20]byte, *Account]

	storeMu sync.RWMutex
	storage *lru.Cache[storageKey, *big.Int]

	blockMu     sync.RWMutex
	blockHashes map[uint64][32]byte

	dirty bool
}

const lruCapacity = 1 << 16

// New constructs an empty in-memory cache (no file attached). Use Load to
// additionally hydrate from disk.
func New(m chainconfig.CfgEnv, b chainconfig.BlockEnv, hosts ...string) *Cache {
	accounts, _ := lru.New[[20]byte, *Account](lruCapacity)
	storage, _ := lru.New[storageKey, *big.Int](lruCapacity)
	return &Cache{
		meta:        meta{CfgEnv: m, BlockEnv: b, Hosts: newHostSet(hosts...)},
		accounts:    accounts,
		storage:     storage,
		blockHashes: make(map[uint64][32]byte),
		log:         logrus.WithField("component", "forkcache"),
	}
}

// Meta returns the cache's current cfg_env and block_env; the host set is
// not returned.
func (c *Cache) Meta() (chainconfig.CfgEnv, chainconfig.BlockEnv) {
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()
	return c.meta.CfgEnv, c.meta.BlockEnv
}

// AddHost unions a new endpoint host into the cache's identity set without
// affecting equality (spec.md §3).
func (c *Cache) AddHost(host string) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	c.meta.Hosts.add(host)
}

// GetAccount returns the cached account for addr, if present.
func (c *Cache) GetAccount(addr [20]byte) (*Account, bool) {
	c.acctMu.RLock()
	defer c.acctMu.RUnlock()
	return c.accounts.Get(addr)
}

// PutAccount inserts or replaces the cached account for addr.
func (c *Cache) PutAccount(addr [20]byte, acct *Account) {
	c.acctMu.Lock()
	c.accounts.Add(addr, acct)
	c.dirty = true
	c.acctMu.Unlock()
}

// GetStorage returns the cached slot value, if present.
func (c *Cache) GetStorage(addr [20]byte, slot [32]byte) (*big.Int, bool) {
	c.storeMu.RLock()
	defer c.storeMu.RUnlock()
	return c.storage.Get(storageKey{addr, slot})
}

// PutStorage inserts or replaces the cached slot value.
func (c *Cache) PutStorage(addr [20]byte, slot [32]byte, val *big.Int) {
	c.storeMu.Lock()
	c.storage.Add(storageKey{addr, slot}, val)
	c.dirty = true
	c.storeMu.Unlock()
}

// GetBlockHash returns the cached hash for a block number, if present.
func (c *Cache) GetBlockHash(n uint64) ([32]byte, bool) {
	c.blockMu.RLock()
	defer c.blockMu.RUnlock()
	h, ok := c.blockHashes[n]
	return h, ok
}

// PutBlockHash inserts or replaces the cached hash for a block number.
func (c *Cache) PutBlockHash(n uint64, h [32]byte) {
	c.blockMu.Lock()
	c.blockHashes[n] = h
	c.dirty = true
	c.blockMu.Unlock()
}

// AccountDelta is one account mutation applied by Commit (spec.md §4.2
// "Commit (batch apply)").
type AccountDelta struct {
	Addr            [20]byte
	Deleted         bool // empty or selfdestructed: remove before insertions
	Account         *Account
	StorageWrites   map[[32]byte]*big.Int
	StorageWipe     bool // owner marked storage abandoned: drop all cached slots first
}

// Commit applies a batch of account/storage changes under exclusive locks on
// both the accounts and storage tables, honoring the ordering rules of
// spec.md §4.2: deletions before insertions, code_hash recomputed from
// freshly written code (or inheriting the empty-code sentinel), abandoned
// storage wiped.
func (c *Cache) Commit(deltas []AccountDelta) {
	c.acctMu.Lock()
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	defer c.acctMu.Unlock()

	// Pass 1: deletions.
	for _, d := range deltas {
		if d.Deleted {
			c.accounts.Remove(d.Addr)
		}
	}
	// Pass 2: storage wipes, then insertions.
	for _, d := range deltas {
		if d.StorageWipe {
			c.wipeStorageLocked(d.Addr)
		}
	}
	for _, d := range deltas {
		if d.Deleted {
			continue
		}
		if d.Account != nil {
			acct := *d.Account
			if len(acct.Code) > 0 {
				acct.CodeHash = keccakCodeHash(acct.Code)
			} else if acct.CodeHash == ([32]byte{}) {
				acct.CodeHash = emptyCodeHash
			}
			c.accounts.Add(d.Addr, &acct)
		}
		for slot, val := range d.StorageWrites {
			c.storage.Add(storageKey{d.Addr, slot}, val)
		}
		if d.Account != nil || len(d.StorageWrites) > 0 {
			c.dirty = true
		}
	}
}

// wipeStorageLocked drops every cached slot for addr. Callers must hold
// storeMu.
func (c *Cache) wipeStorageLocked(addr [20]byte) {
	for _, k := range c.storage.Keys() {
		if k.addr == addr {
			c.storage.Remove(k)
		}
	}
}

func keccakCodeHash(code []byte) [32]byte {
	h := crypto.Keccak256(code)
	var out [32]byte
	copy(out[:], h)
	return out
}

var emptyCodeHash = keccakCodeHash(nil)

// Len reports the number of cached accounts, for tests and metrics.
func (c *Cache) Len() int {
	c.acctMu.RLock()
	defer c.acctMu.RUnlock()
	return c.accounts.Len()
}

// path helpers used by persist.go.
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func normalizeKey(s string) string {
	return filepath.ToSlash(s)
}
