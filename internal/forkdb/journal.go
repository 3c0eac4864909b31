package forkdb

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"evmforge/internal/forkerrors"
)

func codeHash(code []byte) [32]byte {
	h := crypto.Keccak256(code)
	var out [32]byte
	copy(out[:], h)
	return out
}

// Loader is the narrow capability the journal needs from the fork database
// to materialize a cold account or slot. It is passed by reference into
// each journal operation rather than stored as a back-pointer, avoiding the
// journal<->database reference cycle flagged in spec.md §9 "Design Notes":
// "Model as a capability handle passed by reference into each journal
// operation rather than a stored back-pointer; avoid cycles entirely."
type Loader interface {
	LoadAccountFromBackend(addr Address) (*AccountInfo, error)
	LoadStorageFromBackend(addr Address, key Word) (*Word, error)
}

// checkpoint is one entry of the journal's stack: the delta-set of touched
// accounts and written slots since the checkpoint was pushed (spec.md §3
// "Journaled state").
type checkpoint struct {
	accounts  map[Address]*AccountInfo
	destroyed map[Address]bool
	storage   map[Address]map[Hash]*Word
	code      map[Address][]byte
	touched   map[Address]bool
}

func newCheckpoint() *checkpoint {
	return &checkpoint{
		accounts:  make(map[Address]*AccountInfo),
		destroyed: make(map[Address]bool),
		storage:   make(map[Address]map[Hash]*Word),
		code:      make(map[Address][]byte),
		touched:   make(map[Address]bool),
	}
}

func (c *checkpoint) clone() *checkpoint {
	out := newCheckpoint()
	for k, v := range c.accounts {
		cp := *v
		if v.Balance != nil {
			cp.Balance = new(big.Int).Set(v.Balance)
		}
		out.accounts[k] = &cp
	}
	for k, v := range c.destroyed {
		out.destroyed[k] = v
	}
	for addr, slots := range c.storage {
		m := make(map[Hash]*Word, len(slots))
		for slot, val := range slots {
			m[slot] = new(big.Int).Set(val)
		}
		out.storage[addr] = m
	}
	for k, v := range c.code {
		cp := make([]byte, len(v))
		copy(cp, v)
		out.code[k] = cp
	}
	for k, v := range c.touched {
		out.touched[k] = v
	}
	return out
}

// AccessRecorder mirrors every slot read and write until consumed
// (spec.md §4.3 "Access recorder").
type AccessRecorder struct {
	mu     sync.Mutex
	active bool
	Reads  map[Address][]Word
	Writes map[Address][]Word
}

// NewAccessRecorder returns a recorder that is not yet attached to any
// journal activity; call Start to begin taping.
func NewAccessRecorder() *AccessRecorder {
	return &AccessRecorder{Reads: make(map[Address][]Word), Writes: make(map[Address][]Word)}
}

func (r *AccessRecorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = true
	r.Reads = make(map[Address][]Word)
	r.Writes = make(map[Address][]Word)
}

func (r *AccessRecorder) recordRead(addr Address, key Word) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.Reads[addr] = append(r.Reads[addr], key)
}

func (r *AccessRecorder) recordWrite(addr Address, key Word) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.Writes[addr] = append(r.Writes[addr], key)
}

// Consume stops taping and returns (and clears) the recorded maps.
func (r *AccessRecorder) Consume() (reads, writes map[Address][]Word) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reads, writes = r.Reads, r.Writes
	r.active = false
	r.Reads = make(map[Address][]Word)
	r.Writes = make(map[Address][]Word)
	return reads, writes
}

// Journal is the stack-structured delta over the fork database
// (spec.md §4.3).
type Journal struct {
	mu       sync.Mutex
	stack    []*checkpoint
	recorder *AccessRecorder
}

// NewJournal returns a journal with a single base checkpoint.
func NewJournal() *Journal {
	return &Journal{stack: []*checkpoint{newCheckpoint()}}
}

// Clone deep-copies j, used by Snapshot to capture a point-in-time view
// (spec.md §3 "Snapshot").
func (j *Journal) Clone() *Journal {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := &Journal{stack: make([]*checkpoint, len(j.stack))}
	for i, c := range j.stack {
		cp.stack[i] = c.clone()
	}
	return cp
}

// AttachRecorder installs an access recorder that taps every read/write
// until Consume is called.
func (j *Journal) AttachRecorder(r *AccessRecorder) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recorder = r
}

func (j *Journal) top() *checkpoint {
	return j.stack[len(j.stack)-1]
}

// Depth returns the current checkpoint stack depth, for telemetry
// (pkg/telemetry.Source).
func (j *Journal) Depth() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.stack)
}

// RestorePersistent re-seeds the journal's base checkpoint with
// carried-over persistent account/storage records, taking the journal's
// own lock rather than leaving callers to reach into the stack directly
// (spec.md §8 persistent-account invariance across fork switches).
func (j *Journal) RestorePersistent(accounts map[Address]*AccountInfo, storage map[Address]map[Hash]*Word) {
	j.mu.Lock()
	defer j.mu.Unlock()
	base := j.stack[0]
	for addr, acct := range accounts {
		base.accounts[addr] = acct
	}
	for addr, slots := range storage {
		if base.storage[addr] == nil {
			base.storage[addr] = make(map[Hash]*Word)
		}
		for slot, val := range slots {
			base.storage[addr][slot] = val
		}
	}
}

// Push starts a new nested checkpoint (spec.md §4.3 "Checkpoint
// discipline").
func (j *Journal) Push() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stack = append(j.stack, newCheckpoint())
}

// Commit merges the topmost checkpoint into its parent. Checkpoint
// discipline is strictly LIFO: Commit with only the base checkpoint on the
// stack returns a KindBackend error.
func (j *Journal) Commit() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.stack) < 2 {
		return forkerrors.New(forkerrors.KindBackend, "journal.Commit", fmt.Errorf("no checkpoint to commit"))
	}
	top := j.stack[len(j.stack)-1]
	parent := j.stack[len(j.stack)-2]
	for addr, acct := range top.accounts {
		parent.accounts[addr] = acct
	}
	for addr, d := range top.destroyed {
		parent.destroyed[addr] = d
	}
	for addr, slots := range top.storage {
		if parent.storage[addr] == nil {
			parent.storage[addr] = make(map[Hash]*Word)
		}
		for slot, val := range slots {
			parent.storage[addr][slot] = val
		}
	}
	for addr, code := range top.code {
		parent.code[addr] = code
	}
	for addr := range top.touched {
		parent.touched[addr] = true
	}
	j.stack = j.stack[:len(j.stack)-1]
	return nil
}

// Revert discards the topmost checkpoint.
func (j *Journal) Revert() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.stack) < 2 {
		return forkerrors.New(forkerrors.KindBackend, "journal.Revert", fmt.Errorf("no checkpoint to revert"))
	}
	j.stack = j.stack[:len(j.stack)-1]
	return nil
}

// Touch marks addr for inclusion in the next commit even without a write
// (spec.md §4.3).
func (j *Journal) Touch(addr Address) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.top().touched[addr] = true
}

// lookupAccount walks the stack top-down for a materialized account.
func (j *Journal) lookupAccount(addr Address) (*AccountInfo, bool) {
	for i := len(j.stack) - 1; i >= 0; i-- {
		if a, ok := j.stack[i].accounts[addr]; ok {
			return a, true
		}
	}
	return nil, false
}

// LoadAccount touches addr, forcing a fetch through loader if cold, and
// returns the account plus whether the fetch was cold (spec.md §4.3).
func (j *Journal) LoadAccount(addr Address, loader Loader) (*AccountInfo, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if a, ok := j.lookupAccount(addr); ok {
		j.top().touched[addr] = true
		return a, false, nil
	}

	var acct *AccountInfo
	var err error
	if loader == nil {
		acct = EmptyAccount()
	} else {
		acct, err = loader.LoadAccountFromBackend(addr)
		if err != nil {
			return nil, false, err
		}
		if acct == nil {
			acct = EmptyAccount()
		}
	}
	j.top().accounts[addr] = acct
	j.top().touched[addr] = true
	return acct, true, nil
}

// lookupStorage walks the stack top-down for a materialized slot.
func (j *Journal) lookupStorage(addr Address, key Hash) (*Word, bool) {
	for i := len(j.stack) - 1; i >= 0; i-- {
		if slots, ok := j.stack[i].storage[addr]; ok {
			if v, ok := slots[key]; ok {
				return v, true
			}
		}
	}
	return nil, false
}

// SLoad returns the value at (addr, key), fetching through loader on a cold
// miss and buffering the result in the current checkpoint (spec.md §4.3).
func (j *Journal) SLoad(addr Address, key Word, loader Loader) (*Word, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	hkey := Hash(bigIntToHash(&key))
	if v, ok := j.lookupStorage(addr, hkey); ok {
		if j.recorder != nil {
			j.recorder.recordRead(addr, key)
		}
		return v, nil
	}

	var val *Word
	var err error
	if loader == nil {
		val = big.NewInt(0)
	} else {
		val, err = loader.LoadStorageFromBackend(addr, key)
		if err != nil {
			return nil, err
		}
		if val == nil {
			val = big.NewInt(0)
		}
	}
	if j.top().storage[addr] == nil {
		j.top().storage[addr] = make(map[Hash]*Word)
	}
	j.top().storage[addr][hkey] = val
	if j.recorder != nil {
		j.recorder.recordRead(addr, key)
	}
	return val, nil
}

// SStore writes (addr, key)=val into the current checkpoint; writes are
// buffered until commit (spec.md §4.3).
func (j *Journal) SStore(addr Address, key Word, val *Word) {
	j.mu.Lock()
	defer j.mu.Unlock()
	hkey := Hash(bigIntToHash(&key))
	if j.top().storage[addr] == nil {
		j.top().storage[addr] = make(map[Hash]*Word)
	}
	j.top().storage[addr][hkey] = val
	j.top().touched[addr] = true
	if j.recorder != nil {
		j.recorder.recordWrite(addr, key)
	}
}

// SetCode writes code for addr and recomputes its code hash (spec.md §4.3).
func (j *Journal) SetCode(addr Address, code []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.top().code[addr] = code
	acct, ok := j.lookupAccount(addr)
	if !ok {
		acct = EmptyAccount()
	} else {
		cp := *acct
		acct = &cp
	}
	acct.Code = code
	acct.CodeHash = codeHash(code)
	j.top().accounts[addr] = acct
	j.top().touched[addr] = true
}

// MarkDestroyed records addr as selfdestructed in the current checkpoint.
func (j *Journal) MarkDestroyed(addr Address) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.top().destroyed[addr] = true
	j.top().touched[addr] = true
}

// SetBalance overrides an account's balance directly.
func (j *Journal) SetBalance(addr Address, balance *big.Int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	acct, ok := j.lookupAccount(addr)
	var cp AccountInfo
	if ok {
		cp = *acct
	} else {
		cp = *EmptyAccount()
	}
	cp.Balance = balance
	j.top().accounts[addr] = &cp
	j.top().touched[addr] = true
}

// SetNonce overrides an account's nonce directly.
func (j *Journal) SetNonce(addr Address, nonce uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	acct, ok := j.lookupAccount(addr)
	var cp AccountInfo
	if ok {
		cp = *acct
	} else {
		cp = *EmptyAccount()
	}
	cp.Nonce = nonce
	j.top().accounts[addr] = &cp
	j.top().touched[addr] = true
}

// TouchedAccounts returns every address touched across the full stack, used
// when flattening a journal into a Commit batch (spec.md §4.1's load path
// step 1 and §4.2's Commit).
func (j *Journal) TouchedAccounts() map[Address]bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[Address]bool)
	for _, c := range j.stack {
		for addr := range c.touched {
			out[addr] = true
		}
	}
	return out
}

// Flatten merges the full checkpoint stack into a single checkpoint view,
// used to build a Commit batch or answer a read directly (bottom to top, so
// later checkpoints win).
func (j *Journal) flatten() *checkpoint {
	out := newCheckpoint()
	for _, c := range j.stack {
		for k, v := range c.accounts {
			out.accounts[k] = v
		}
		for k, v := range c.destroyed {
			out.destroyed[k] = v
		}
		for addr, slots := range c.storage {
			if out.storage[addr] == nil {
				out.storage[addr] = make(map[Hash]*Word)
			}
			for slot, val := range slots {
				out.storage[addr][slot] = val
			}
		}
		for k, v := range c.code {
			out.code[k] = v
		}
		for k, v := range c.touched {
			out.touched[k] = v
		}
	}
	return out
}

func bigIntToHash(w *Word) Hash {
	var h Hash
	if w == nil {
		return h
	}
	b := w.Bytes()
	copy(h[len(h)-len(b):], b)
	return h
}
