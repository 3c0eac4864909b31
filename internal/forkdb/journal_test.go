package forkdb

import (
	"math/big"
	"testing"
)

type stubLoader struct {
	accounts map[Address]*AccountInfo
	storage  map[Address]map[Hash]*Word
}

func (s *stubLoader) LoadAccountFromBackend(addr Address) (*AccountInfo, error) {
	if a, ok := s.accounts[addr]; ok {
		return a, nil
	}
	return EmptyAccount(), nil
}

func (s *stubLoader) LoadStorageFromBackend(addr Address, key Word) (*Word, error) {
	if slots, ok := s.storage[addr]; ok {
		if v, ok := slots[Hash(bigIntToHash(&key))]; ok {
			return v, nil
		}
	}
	return big.NewInt(0), nil
}

func TestJournalLoadAccountColdThenWarm(t *testing.T) {
	addr := Address{0x01}
	loader := &stubLoader{accounts: map[Address]*AccountInfo{
		addr: {Balance: big.NewInt(42), Nonce: 3},
	}}
	j := NewJournal()

	acct, cold, err := j.LoadAccount(addr, loader)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cold {
		t.Fatal("expected first load to be cold")
	}
	if acct.Balance.Cmp(big.NewInt(42)) != 0 || acct.Nonce != 3 {
		t.Fatalf("unexpected account: %+v", acct)
	}

	_, cold2, err := j.LoadAccount(addr, loader)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cold2 {
		t.Fatal("expected second load to be warm")
	}
}

func TestJournalCheckpointCommitIsLIFO(t *testing.T) {
	addr := Address{0x02}
	j := NewJournal()

	j.Push()
	j.SStore(addr, *big.NewInt(1), big.NewInt(100))
	if err := j.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	val, err := j.SLoad(addr, *big.NewInt(1), nil)
	if err != nil {
		t.Fatalf("sload: %v", err)
	}
	if val.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected committed write to survive, got %v", val)
	}

	if err := j.Commit(); err == nil {
		t.Fatal("expected error committing the base checkpoint")
	}
}

func TestJournalCheckpointRevertDiscardsWrites(t *testing.T) {
	addr := Address{0x03}
	j := NewJournal()

	j.SStore(addr, *big.NewInt(1), big.NewInt(5))
	j.Push()
	j.SStore(addr, *big.NewInt(1), big.NewInt(999))
	if err := j.Revert(); err != nil {
		t.Fatalf("revert: %v", err)
	}

	val, err := j.SLoad(addr, *big.NewInt(1), nil)
	if err != nil {
		t.Fatalf("sload: %v", err)
	}
	if val.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("expected pre-push write to survive revert, got %v", val)
	}
}

func TestJournalCloneIsIndependent(t *testing.T) {
	addr := Address{0x04}
	j := NewJournal()
	j.SStore(addr, *big.NewInt(1), big.NewInt(1))

	clone := j.Clone()
	j.SStore(addr, *big.NewInt(1), big.NewInt(2))

	val, _ := clone.SLoad(addr, *big.NewInt(1), nil)
	if val.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("clone should not observe later writes to the original, got %v", val)
	}
}

func TestAccessRecorderTapsReadsAndWrites(t *testing.T) {
	addr := Address{0x05}
	j := NewJournal()
	rec := NewAccessRecorder()
	rec.Start()
	j.AttachRecorder(rec)

	j.SStore(addr, *big.NewInt(7), big.NewInt(1))
	if _, err := j.SLoad(addr, *big.NewInt(7), nil); err != nil {
		t.Fatalf("sload: %v", err)
	}

	reads, writes := rec.Consume()
	if len(reads[addr]) != 1 {
		t.Fatalf("expected 1 recorded read, got %d", len(reads[addr]))
	}
	if len(writes[addr]) != 1 {
		t.Fatalf("expected 1 recorded write, got %d", len(writes[addr]))
	}
}

func TestSetCodeRecomputesCodeHash(t *testing.T) {
	addr := Address{0x06}
	j := NewJournal()
	code := []byte{0x60, 0x00, 0x60, 0x00}
	j.SetCode(addr, code)

	acct, _ := j.lookupAccount(addr)
	if acct == nil {
		t.Fatal("expected account to be materialized by SetCode")
	}
	if acct.CodeHash != codeHash(code) {
		t.Fatal("expected code hash to match codeHash(code)")
	}
}
