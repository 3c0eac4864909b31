package interp

import (
	"math/big"
	"testing"
)

// WasmAdapter's Exec path requires compiling real wasm byte-code through
// wasmer-go, which has no fixture in this tree, so Exec has no test here.
// bigFromInt64 is the one pure helper worth a direct test.

func TestBigFromInt64RoundTrips(t *testing.T) {
	cases := []int64{0, 1, -1, 1 << 40}
	for _, c := range cases {
		got := bigFromInt64(c)
		if got.Cmp(big.NewInt(c)) != 0 {
			t.Fatalf("bigFromInt64(%d) = %s", c, got.String())
		}
	}
}

func TestNewWasmAdapterStartsWithEmptyModuleTable(t *testing.T) {
	w := NewWasmAdapter()
	if len(w.Modules) != 0 {
		t.Fatalf("expected empty module table, got %d entries", len(w.Modules))
	}
	if w.engine == nil || w.store == nil {
		t.Fatalf("expected engine and store to be initialized")
	}
}
