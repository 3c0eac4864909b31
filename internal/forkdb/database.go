package forkdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"evmforge/internal/chainconfig"
	"evmforge/internal/forkcache"
	"evmforge/internal/forkerrors"
	"evmforge/internal/rpcclient"
)

// Executor is the narrow, structurally-typed capability Transact needs from
// the byte-code interpreter. It is defined here rather than imported from
// internal/interp so that interp can depend on forkdb without forkdb
// depending back on interp; any interp.Interpreter implementation satisfies
// this interface structurally.
type Executor interface {
	Exec(ctx context.Context, journal *Journal, env BlockEnv, loader Loader, txHash Hash, host any) error
}

type cacheKey struct {
	Cfg   chainconfig.CfgEnv
	Block chainconfig.BlockEnv
}

// forkState is the per-fork bundle of (descriptor, pinned block env, shared
// cache handle, RPC client) that CreateFork allocates (spec.md §4.1).
type forkState struct {
	id       ForkId
	desc     ForkDescriptor
	cfgEnv   chainconfig.CfgEnv
	blockEnv chainconfig.BlockEnv
	cache    *forkcache.Cache
	client   *rpcclient.Client
}

type savedSnapshot struct {
	journal  *Journal
	env      BlockEnv
	consumed bool
}

// Dialer constructs an RPC client for a fork's URL; tests substitute a fake
// to avoid real network I/O.
type Dialer func(url string) (*rpcclient.Client, error)

// Database is the Fork Database (C4, spec.md §4.1): it composes the RPC
// Client Handle (C1), the Fork Cache (C2) and the Journaled State (C3) into
// the DatabaseExt contract the byte-code interpreter queries.
type Database struct {
	mu sync.Mutex

	dial Dialer

	caches map[cacheKey]*forkcache.Cache
	forks  map[ForkId]*forkState

	activeID *ForkId

	nextForkID uint64
	nextSnapID uint64

	snapshots map[SnapshotId]*savedSnapshot

	persistentAccounts map[Address]bool
	persistentStore    map[Address]*AccountInfo
	persistentStorage  map[Address]map[Hash]*Word

	cheatAccess map[Address]bool

	codeByHash map[Hash][]byte
}

// NewDatabase returns an empty Database. dialer is used to build an RPC
// client for each fork's URL; pass rpcclient.Dial to talk to real
// endpoints, or a fake in tests.
func NewDatabase(dial Dialer) *Database {
	return &Database{
		dial:               dial,
		caches:             make(map[cacheKey]*forkcache.Cache),
		forks:              make(map[ForkId]*forkState),
		snapshots:          make(map[SnapshotId]*savedSnapshot),
		persistentAccounts: make(map[Address]bool),
		persistentStore:    make(map[Address]*AccountInfo),
		persistentStorage:  make(map[Address]map[Hash]*Word),
		cheatAccess:        make(map[Address]bool),
		codeByHash:         make(map[Hash][]byte),
	}
}

func (d *Database) rememberCode(hash Hash, code []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.codeByHash[hash] = code
}

// ActiveForkID returns nil for a pure-local session with no active fork
// (spec.md §4.1).
func (d *Database) ActiveForkID() *ForkId {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.activeID == nil {
		return nil
	}
	id := *d.activeID
	return &id
}

// ForkCount returns the number of forks currently registered, for
// telemetry (pkg/telemetry.Source).
func (d *Database) ForkCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.forks)
}

// ActiveForkURL returns the active fork's endpoint, if any.
func (d *Database) ActiveForkURL() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.activeID == nil {
		return "", false
	}
	fs, ok := d.forks[*d.activeID]
	if !ok {
		return "", false
	}
	return fs.desc.URL, true
}

func (d *Database) cacheFor(cfg chainconfig.CfgEnv, block chainconfig.BlockEnv, hosts ...string) *forkcache.Cache {
	key := cacheKey{Cfg: cfg, Block: block}
	if c, ok := d.caches[key]; ok {
		for _, h := range hosts {
			c.AddHost(h)
		}
		return c
	}
	c := forkcache.New(cfg, block, hosts...)
	d.caches[key] = c
	return c
}

// CreateFork allocates a new fork, eagerly resolving the chain id and block
// header at the pinned block (or the endpoint's current tip if
// ForkBlockNumber is unset) but never switching to it (spec.md §4.1).
func (d *Database) CreateFork(ctx context.Context, desc ForkDescriptor) (ForkId, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createForkLocked(ctx, desc)
}

func (d *Database) createForkLocked(ctx context.Context, desc ForkDescriptor) (ForkId, error) {
	client, err := d.dial(desc.URL)
	if err != nil {
		return 0, forkerrors.New(forkerrors.KindTransport, "create_fork", err)
	}

	blockNum := uint64(0)
	if desc.ForkBlockNumber != nil {
		blockNum = *desc.ForkBlockNumber
	} else {
		raw, err := client.Call(ctx, "eth_blockNumber", nil)
		if err != nil {
			return 0, forkerrors.Rpc("eth_blockNumber", err)
		}
		n, err := decodeHexQuantity(raw)
		if err != nil {
			return 0, forkerrors.New(forkerrors.KindDecode, "create_fork", err)
		}
		blockNum = n.Uint64()
	}

	hdr, err := fetchBlockByNumber(ctx, client, blockNum)
	if err != nil {
		return 0, err
	}
	blockEnv := blockEnvFromHeader(hdr)

	cache := d.cacheFor(desc.Env, blockEnv, desc.URL)

	id := ForkId(atomic.AddUint64(&d.nextForkID, 1))
	d.forks[id] = &forkState{
		id:       id,
		desc:     desc,
		cfgEnv:   desc.Env,
		blockEnv: blockEnv,
		cache:    cache,
		client:   client,
	}
	return id, nil
}

func blockEnvFromHeader(hdr *rpcBlockHeader) chainconfig.BlockEnv {
	num, _ := parseHexUint(hdr.Number)
	ts, _ := parseHexUint(hdr.Timestamp)
	gl, _ := parseHexUint(hdr.GasLimit)
	bf, _ := parseHexUint(hdr.BaseFee)
	diff, _ := parseHexUint(hdr.Difficulty)
	return chainconfig.BlockEnv{
		Number:     num,
		Timestamp:  ts,
		GasLimit:   gl,
		BaseFee:    bf,
		Difficulty: diff,
		Coinbase:   hexToAddress(hdr.Miner),
	}
}

// CreateSelectFork creates a fork and immediately switches to it.
func (d *Database) CreateSelectFork(ctx context.Context, desc ForkDescriptor, journal *Journal) (ForkId, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, err := d.createForkLocked(ctx, desc)
	if err != nil {
		return 0, err
	}
	if err := d.selectForkLocked(id, journal); err != nil {
		return 0, err
	}
	return id, nil
}

// CreateForkAtTransaction pins the fork to tx's enclosing block and
// pre-executes every transaction in that block preceding tx (spec.md §4.1).
func (d *Database) CreateForkAtTransaction(ctx context.Context, desc ForkDescriptor, journal *Journal, txHash Hash, exec Executor, host any) (ForkId, error) {
	d.mu.Lock()
	client, err := d.dial(desc.URL)
	d.mu.Unlock()
	if err != nil {
		return 0, forkerrors.New(forkerrors.KindTransport, "create_fork_at_transaction", err)
	}

	tx, err := fetchTransactionByHash(ctx, client, txHash)
	if err != nil {
		client.Close()
		return 0, err
	}
	blockNum, err := parseHexUint(tx.BlockNumber)
	if err != nil {
		client.Close()
		return 0, forkerrors.New(forkerrors.KindDecode, "create_fork_at_transaction", err)
	}
	client.Close()

	desc.ForkBlockNumber = &blockNum
	d.mu.Lock()
	id, err := d.createForkLocked(ctx, desc)
	d.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if err := d.replayPriorTransactions(ctx, id, blockNum, txHash, journal, exec, host); err != nil {
		return 0, err
	}
	return id, nil
}

// replayPriorTransactions re-executes every transaction in blockNum that
// precedes (but does not include) stopAt.
func (d *Database) replayPriorTransactions(ctx context.Context, id ForkId, blockNum uint64, stopAt Hash, journal *Journal, exec Executor, host any) error {
	d.mu.Lock()
	fs, ok := d.forks[id]
	d.mu.Unlock()
	if !ok {
		return forkerrors.New(forkerrors.KindBackend, "replay_prior_transactions", fmt.Errorf("unknown fork %d", id))
	}
	hdr, err := fetchBlockByNumber(ctx, fs.client, blockNum)
	if err != nil {
		return err
	}
	if exec == nil {
		return nil
	}
	loader := &forkLoader{ctx: ctx, fs: fs, db: d}
	for _, txHexHash := range hdr.Transactions {
		if txHexHash == stopAt.Hex() {
			return nil
		}
		if err := exec.Exec(ctx, journal, fs.blockEnv, loader, hexToHashValue(txHexHash), host); err != nil {
			return err
		}
	}
	return nil
}

// SelectFork switches the active fork, carrying over persistent accounts
// and resetting the journal to the fork's environment (spec.md §4.1).
func (d *Database) SelectFork(id ForkId, journal *Journal) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selectForkLocked(id, journal)
}

func (d *Database) selectForkLocked(id ForkId, journal *Journal) error {
	if _, ok := d.forks[id]; !ok {
		return forkerrors.New(forkerrors.KindBackend, "select_fork", fmt.Errorf("unknown fork %d", id))
	}
	copyID := id
	d.activeID = &copyID
	d.restorePersistentLocked(journal)
	return nil
}

// restorePersistentLocked re-seeds the journal's base checkpoint with the
// carried-over persistent account/storage records, guaranteeing
// persistent-account invariance across fork switches (spec.md §8). The
// actual stack access happens inside Journal.RestorePersistent, behind
// the journal's own lock, rather than reaching into its fields here.
func (d *Database) restorePersistentLocked(journal *Journal) {
	if journal == nil {
		return
	}
	accounts := make(map[Address]*AccountInfo, len(d.persistentAccounts))
	storage := make(map[Address]map[Hash]*Word, len(d.persistentAccounts))
	for addr := range d.persistentAccounts {
		if acct, ok := d.persistentStore[addr]; ok {
			accounts[addr] = acct
		}
		if slots, ok := d.persistentStorage[addr]; ok {
			storage[addr] = slots
		}
	}
	journal.RestorePersistent(accounts, storage)
}

// snapshotPersistentLocked copies the current journal's view of every
// persistent account into the Database's carry-over store, to be restored
// by the next SelectFork/RollFork.
func (d *Database) snapshotPersistentLocked(journal *Journal) {
	if journal == nil {
		return
	}
	flat := journal.flatten()
	for addr := range d.persistentAccounts {
		if acct, ok := flat.accounts[addr]; ok {
			d.persistentStore[addr] = acct
		}
		if slots, ok := flat.storage[addr]; ok {
			cp := make(map[Hash]*Word, len(slots))
			for k, v := range slots {
				cp[k] = v
			}
			d.persistentStorage[addr] = cp
		}
	}
}

// RollFork moves id's (or the active fork's) pin to block, invalidating
// cache entries only when the (cfg_env, block_env) key actually changes
// (spec.md §4.1).
func (d *Database) RollFork(ctx context.Context, id *ForkId, block uint64, journal *Journal) error {
	d.mu.Lock()
	fid, fs, err := d.resolveForkLocked(id)
	d.mu.Unlock()
	if err != nil {
		return err
	}

	hdr, err := fetchBlockByNumber(ctx, fs.client, block)
	if err != nil {
		return err
	}
	newEnv := blockEnvFromHeader(hdr)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshotPersistentLocked(journal)

	if newEnv == fs.blockEnv {
		return nil // no-op with respect to cache contents, per spec.md §4.1 invariant
	}
	fs.blockEnv = newEnv
	fs.cache = d.cacheFor(fs.cfgEnv, newEnv, fs.desc.URL)
	d.forks[fid] = fs
	if d.activeID != nil && *d.activeID == fid {
		d.restorePersistentLocked(journal)
	}
	return nil
}

// RollForkToTransaction rolls to tx's block, then replays every transaction
// in that block preceding tx (spec.md §4.1).
func (d *Database) RollForkToTransaction(ctx context.Context, id *ForkId, txHash Hash, journal *Journal, exec Executor, host any) error {
	d.mu.Lock()
	fid, fs, err := d.resolveForkLocked(id)
	d.mu.Unlock()
	if err != nil {
		return err
	}

	tx, err := fetchTransactionByHash(ctx, fs.client, txHash)
	if err != nil {
		return err
	}
	blockNum, err := parseHexUint(tx.BlockNumber)
	if err != nil {
		return forkerrors.New(forkerrors.KindDecode, "roll_fork_to_transaction", err)
	}

	if err := d.RollFork(ctx, &fid, blockNum, journal); err != nil {
		return err
	}
	return d.replayPriorTransactions(ctx, fid, blockNum, txHash, journal, exec, host)
}

// Transact replays one historical transaction against current state, as if
// it had been executed locally (spec.md §4.1).
func (d *Database) Transact(ctx context.Context, id *ForkId, txHash Hash, journal *Journal, exec Executor, host any) error {
	d.mu.Lock()
	_, fs, err := d.resolveForkLocked(id)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if exec == nil {
		return forkerrors.New(forkerrors.KindInvalidInput, "transact", fmt.Errorf("nil executor"))
	}
	loader := &forkLoader{ctx: ctx, fs: fs, db: d}
	return exec.Exec(ctx, journal, fs.blockEnv, loader, txHash, host)
}

func (d *Database) resolveForkLocked(id *ForkId) (ForkId, *forkState, error) {
	var fid ForkId
	if id != nil {
		fid = *id
	} else if d.activeID != nil {
		fid = *d.activeID
	} else {
		return 0, nil, forkerrors.New(forkerrors.KindBackend, "resolve_fork", fmt.Errorf("no active fork"))
	}
	fs, ok := d.forks[fid]
	if !ok {
		return 0, nil, forkerrors.New(forkerrors.KindBackend, "resolve_fork", fmt.Errorf("unknown fork %d", fid))
	}
	return fid, fs, nil
}

// Snapshot captures a deep copy of journal plus env, returning a
// single-use id (spec.md §3 "Snapshot", §4.1).
func (d *Database) Snapshot(journal *Journal, env BlockEnv) SnapshotId {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := SnapshotId(atomic.AddUint64(&d.nextSnapID, 1))
	d.snapshots[id] = &savedSnapshot{journal: journal.Clone(), env: env}
	return id
}

// Revert replaces journal with the snapshot saved under id, exactly once,
// and invalidates every snapshot taken after it: since ids are a
// monotonic counter, any id > id was captured later and is discarded
// along with it (spec.md §3 "Snapshot lifecycle" — "all snapshots taken
// after it are invalidated"). A second revert of the same id, or of an
// id already invalidated this way, returns (nil, false) — the
// "not-found" sentinel of spec.md §4.1.
func (d *Database) Revert(id SnapshotId) (*Journal, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap, ok := d.snapshots[id]
	if !ok || snap.consumed {
		return nil, false
	}
	snap.consumed = true
	delete(d.snapshots, id)
	for laterID := range d.snapshots {
		if laterID > id {
			delete(d.snapshots, laterID)
		}
	}
	return snap.journal, true
}

func (d *Database) AddPersistentAccount(addr Address) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.persistentAccounts[addr] = true
}

func (d *Database) RemovePersistentAccount(addr Address) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.persistentAccounts, addr)
	delete(d.persistentStore, addr)
	delete(d.persistentStorage, addr)
}

func (d *Database) AddPersistentAccounts(addrs []Address) {
	for _, a := range addrs {
		d.AddPersistentAccount(a)
	}
}

func (d *Database) RemovePersistentAccounts(addrs []Address) {
	for _, a := range addrs {
		d.RemovePersistentAccount(a)
	}
}

func (d *Database) IsPersistent(addr Address) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.persistentAccounts[addr]
}

func (d *Database) AllowCheatcodeAccess(addr Address) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cheatAccess[addr] = true
}

func (d *Database) HasCheatcodeAccess(addr Address) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cheatAccess[addr]
}

// --- DatabaseExt surface (spec.md §6) ---

// Basic loads addr's account following the load path of spec.md §4.1: the
// journal's view first, then the default account if no fork is active,
// then the fork cache, then RPC (inserting the response into the cache).
func (d *Database) Basic(ctx context.Context, addr Address, journal *Journal) (*AccountInfo, bool, error) {
	d.mu.Lock()
	var fs *forkState
	if d.activeID != nil {
		fs = d.forks[*d.activeID]
	}
	d.mu.Unlock()

	loader := &forkLoader{ctx: ctx, fs: fs, db: d}
	return journal.LoadAccount(addr, loader)
}

// CodeByHash returns previously observed code for hash, or DataUnavailable.
func (d *Database) CodeByHash(hash Hash) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	code, ok := d.codeByHash[hash]
	if !ok {
		return nil, forkerrors.New(forkerrors.KindDataUnavailable, "code_by_hash", fmt.Errorf("unknown code hash %s", hash.Hex()))
	}
	return code, nil
}

// Storage loads the word at (addr, key) following the same load path as
// Basic.
func (d *Database) Storage(ctx context.Context, addr Address, key Word, journal *Journal) (*Word, error) {
	d.mu.Lock()
	var fs *forkState
	if d.activeID != nil {
		fs = d.forks[*d.activeID]
	}
	d.mu.Unlock()

	loader := &forkLoader{ctx: ctx, fs: fs, db: d}
	return journal.SLoad(addr, key, loader)
}

// BlockHash resolves the hash of block n, consulting the active fork's
// cache first and falling back to RPC.
func (d *Database) BlockHash(ctx context.Context, n uint64) (Hash, error) {
	d.mu.Lock()
	var fs *forkState
	if d.activeID != nil {
		fs = d.forks[*d.activeID]
	}
	d.mu.Unlock()

	if fs == nil {
		return Hash{}, nil
	}
	if h, ok := fs.cache.GetBlockHash(n); ok {
		return h, nil
	}
	hdr, err := fetchBlockByNumber(ctx, fs.client, n)
	if err != nil {
		return Hash{}, err
	}
	h := hexToHashValue(hdr.Hash)
	fs.cache.PutBlockHash(n, h)
	return h, nil
}

// Commit applies a batch of account deltas to the active fork's cache,
// following the commit rules of spec.md §4.2 (deletions, then storage
// wipes, then insertions).
func (d *Database) Commit(deltas []AccountDelta) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.activeID == nil {
		return forkerrors.New(forkerrors.KindBackend, "commit", fmt.Errorf("no active fork"))
	}
	fs, ok := d.forks[*d.activeID]
	if !ok {
		return forkerrors.New(forkerrors.KindBackend, "commit", fmt.Errorf("unknown fork %d", *d.activeID))
	}
	for _, delta := range deltas {
		if delta.Account != nil && len(delta.Account.Code) > 0 {
			d.codeByHash[delta.Account.CodeHash] = delta.Account.Code
		}
	}
	fs.cache.Commit(deltas)
	return nil
}
