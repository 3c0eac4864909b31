package forkcache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/sirupsen/logrus"

	"evmforge/internal/chainconfig"
)

// hostSet is meta.Hosts: a set of endpoint hosts that accepts either a
// single legacy string or a JSON array on read (spec.md §6 "Cache-file
// layout"), and always writes as an array.
type hostSet map[string]struct{}

func newHostSet(hosts ...string) hostSet {
	s := make(hostSet, len(hosts))
	for _, h := range hosts {
		if h != "" {
			s[h] = struct{}{}
		}
	}
	return s
}

func (s hostSet) add(h string) {
	if h != "" {
		s[h] = struct{}{}
	}
}

func (s hostSet) MarshalJSON() ([]byte, error) {
	list := make([]string, 0, len(s))
	for h := range s {
		list = append(list, h)
	}
	return json.Marshal(list)
}

func (s *hostSet) UnmarshalJSON(data []byte) error {
	*s = make(hostSet)
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		s.add(single)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	for _, h := range list {
		s.add(h)
	}
	return nil
}

// fileFormat is the on-disk JSON layout of spec.md §6 "Cache-file layout":
// a single object with keys {meta, accounts, storage, block_hashes}.
type fileFormat struct {
	Meta struct {
		CfgEnv   chainconfig.CfgEnv   `json:"cfg_env"`
		BlockEnv chainconfig.BlockEnv `json:"block_env"`
		Hosts    hostSet              `json:"hosts"`
	} `json:"meta"`
	Accounts    map[string]accountJSON          `json:"accounts"`
	Storage     map[string]map[string]string    `json:"storage"` // addr -> slot(hex) -> value(hex)
	BlockHashes map[string]string               `json:"block_hashes"`
}

type accountJSON struct {
	Balance  string `json:"balance"`
	Nonce    uint64 `json:"nonce"`
	CodeHash string `json:"code_hash"`
	Code     string `json:"code,omitempty"`
}

// Load reads a cache file from path. If the file does not exist, an empty
// cache bound to (want, block) is returned. If the file exists but its meta
// disagrees with (want, block), spec.md §4.1's CacheMismatch recovery
// applies: the file is discarded and a fresh cache is started, unioning the
// discarded file's hosts into the new meta.
func Load(path string, want chainconfig.CfgEnv, block chainconfig.BlockEnv, hosts ...string) (*Cache, error) {
	c := New(want, block, hosts...)
	c.path = path

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("forkcache: read %s: %w", path, err)
	}

	var ff fileFormat
	if err := json.Unmarshal(raw, &ff); err != nil {
		c.log.WithError(err).Warn("forkcache: corrupt cache file, starting fresh")
		return c, nil
	}

	onDisk := meta{CfgEnv: ff.Meta.CfgEnv, BlockEnv: ff.Meta.BlockEnv, Hosts: ff.Meta.Hosts}
	wanted := meta{CfgEnv: want, BlockEnv: block}
	if !onDisk.Equal(wanted) {
		c.log.WithFields(logrus.Fields{"on_disk": onDisk.CfgEnv, "wanted": wanted.CfgEnv}).
			Info("forkcache: CacheMismatch, starting fresh cache")
		for h := range onDisk.Hosts {
			c.meta.Hosts.add(h)
		}
		return c, nil
	}
	for h := range onDisk.Hosts {
		c.meta.Hosts.add(h)
	}

	for addrHex, a := range ff.Accounts {
		addr, err := hexToAddr(addrHex)
		if err != nil {
			continue
		}
		bal, ok := new(big.Int).SetString(a.Balance, 16)
		if !ok {
			bal = big.NewInt(0)
		}
		acct := &Account{Balance: bal, Nonce: a.Nonce}
		if ch, err := hex.DecodeString(trim0x(a.CodeHash)); err == nil {
			copy(acct.CodeHash[:], ch)
		}
		if a.Code != "" {
			if code, err := hex.DecodeString(trim0x(a.Code)); err == nil {
				acct.Code = code
			}
		}
		c.accounts.Add(addr, acct)
	}
	for addrHex, slots := range ff.Storage {
		addr, err := hexToAddr(addrHex)
		if err != nil {
			continue
		}
		for slotHex, valHex := range slots {
			slot, err := hexToHash(slotHex)
			if err != nil {
				continue
			}
			val, ok := new(big.Int).SetString(trim0x(valHex), 16)
			if !ok {
				val = big.NewInt(0)
			}
			c.storage.Add(storageKey{addr, slot}, val)
		}
	}
	for numHex, hashHex := range ff.BlockHashes {
		var n uint64
		fmt.Sscanf(numHex, "%d", &n)
		if h, err := hexToHash(hashHex); err == nil {
			c.blockHashes[n] = h
		}
	}

	return c, nil
}

// Save atomically serializes the cache's full contents to its file, creating
// missing parent directories on demand (spec.md §6).
func (c *Cache) Save() error {
	if c.path == "" {
		return nil
	}
	if err := ensureDir(c.path); err != nil {
		return fmt.Errorf("forkcache: mkdir: %w", err)
	}

	var ff fileFormat
	c.metaMu.RLock()
	ff.Meta.CfgEnv = c.meta.CfgEnv
	ff.Meta.BlockEnv = c.meta.BlockEnv
	ff.Meta.Hosts = c.meta.Hosts
	c.metaMu.RUnlock()

	c.acctMu.RLock()
	ff.Accounts = make(map[string]accountJSON, c.accounts.Len())
	for _, addr := range c.accounts.Keys() {
		acct, ok := c.accounts.Peek(addr)
		if !ok {
			continue
		}
		aj := accountJSON{Nonce: acct.Nonce, CodeHash: "0x" + hex.EncodeToString(acct.CodeHash[:])}
		if acct.Balance != nil {
			aj.Balance = acct.Balance.Text(16)
		} else {
			aj.Balance = "0"
		}
		if len(acct.Code) > 0 {
			aj.Code = "0x" + hex.EncodeToString(acct.Code)
		}
		ff.Accounts[normalizeKey("0x"+hex.EncodeToString(addr[:]))] = aj
	}
	c.acctMu.RUnlock()

	c.storeMu.RLock()
	ff.Storage = make(map[string]map[string]string)
	for _, k := range c.storage.Keys() {
		v, ok := c.storage.Peek(k)
		if !ok {
			continue
		}
		addrKey := normalizeKey("0x" + hex.EncodeToString(k.addr[:]))
		slotKey := normalizeKey("0x" + hex.EncodeToString(k.slot[:]))
		if ff.Storage[addrKey] == nil {
			ff.Storage[addrKey] = make(map[string]string)
		}
		ff.Storage[addrKey][slotKey] = v.Text(16)
	}
	c.storeMu.RUnlock()

	c.blockMu.RLock()
	ff.BlockHashes = make(map[string]string, len(c.blockHashes))
	for n, h := range c.blockHashes {
		ff.BlockHashes[fmt.Sprintf("%d", n)] = "0x" + hex.EncodeToString(h[:])
	}
	c.blockMu.RUnlock()

	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("forkcache: marshal: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("forkcache: write temp: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("forkcache: rename: %w", err)
	}
	c.dirty = false
	return nil
}

// Owner is the "flush-on-drop" sentinel described in spec.md §4.2: a value
// whose Close persists the cache exactly once.
type Owner struct {
	cache    *Cache
	closed   bool
}

// NewOwner wraps c so that Close() flushes it to disk if it has unsaved
// writes.
func NewOwner(c *Cache) *Owner { return &Owner{cache: c} }

// Close flushes the owned cache to disk, if dirty, and is idempotent.
func (o *Owner) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	if !o.cache.dirty {
		return nil
	}
	return o.cache.Save()
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func hexToAddr(s string) ([20]byte, error) {
	var a [20]byte
	b, err := hex.DecodeString(trim0x(s))
	if err != nil || len(b) != 20 {
		return a, fmt.Errorf("bad address %q", s)
	}
	copy(a[:], b)
	return a, nil
}

func hexToHash(s string) ([32]byte, error) {
	var h [32]byte
	b, err := hex.DecodeString(trim0x(s))
	if err != nil || len(b) != 32 {
		return h, fmt.Errorf("bad hash %q", s)
	}
	copy(h[:], b)
	return h, nil
}
