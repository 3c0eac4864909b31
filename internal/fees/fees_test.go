package fees

import (
	"math/big"
	"testing"

	"evmforge/internal/chainconfig"
	"evmforge/internal/txtypes"
)

func TestBaseFeeFloorPin(t *testing.T) {
	m := NewManager(chainconfig.HardforkLondon, big.NewInt(0), big.NewInt(0), 8, 2)
	got := m.GetNextBlockBaseFeePerGas(123456, 30_000_000, big.NewInt(999))
	if got.Sign() != 0 {
		t.Fatalf("expected zero base fee when pinned, got %v", got)
	}
}

func TestFeeMonotonicityInGasUsed(t *testing.T) {
	m := NewManager(chainconfig.HardforkLondon, big.NewInt(1_000_000_000), big.NewInt(0), 8, 2)
	lastFee := big.NewInt(1_000_000_000)
	gasLimit := uint64(30_000_000)

	prev := m.GetNextBlockBaseFeePerGas(0, gasLimit, lastFee)
	for g := uint64(1_000_000); g <= gasLimit; g += 1_000_000 {
		cur := m.GetNextBlockBaseFeePerGas(g, gasLimit, lastFee)
		if cur.Cmp(prev) < 0 {
			t.Fatalf("expected non-decreasing base fee as gas_used increases: g=%d prev=%v cur=%v", g, prev, cur)
		}
		prev = cur
	}
}

func TestFeeDetailsLegacyPromotion(t *testing.T) {
	fd, err := NewFeeDetails(big.NewInt(10), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fd.GasPrice.Int64() != 10 || fd.MaxFee.Int64() != 10 || fd.MaxPriority.Int64() != 10 {
		t.Fatalf("expected all three fields to equal 10, got %+v", fd)
	}
}

func TestFeeDetailsRejectsPriorityAboveMax(t *testing.T) {
	_, err := NewFeeDetails(nil, big.NewInt(5), big.NewInt(7))
	if err == nil {
		t.Fatal("expected InvalidInput error when max_priority > max_fee")
	}
}

func TestHistoryEvictsByPosition(t *testing.T) {
	h := NewHistory(2)
	for n := uint64(1); n <= historyLimit+10; n++ {
		h.OnBlock(&BlockView{Number: n, GasUsed: 100, GasLimit: 200, BaseFee: big.NewInt(1)})
	}
	if h.Len() != historyLimit {
		t.Fatalf("expected history capped at %d entries, got %d", historyLimit, h.Len())
	}
	if _, ok := h.Get(5); ok {
		t.Fatal("expected oldest entries to have been evicted")
	}
	if _, ok := h.Get(historyLimit + 10); !ok {
		t.Fatal("expected most recent entry to be retained")
	}
}

func TestHistoryRewardTableLegacyEnvelope(t *testing.T) {
	h := NewHistory(2)
	env := &txtypes.Envelope{Kind: txtypes.Legacy, GasPrice: big.NewInt(100)}
	h.OnBlock(&BlockView{
		Number:     1,
		GasUsed:    21000,
		GasLimit:   30_000_000,
		BaseFee:    big.NewInt(40),
		Envelopes:  []*txtypes.Envelope{env},
		GasUsedPer: []uint64{21000},
	})
	entry, ok := h.Get(1)
	if !ok {
		t.Fatal("expected entry to be recorded")
	}
	if entry.Rewards[len(entry.Rewards)-1].Int64() != 60 {
		t.Fatalf("expected top percentile reward 60 (100-40), got %v", entry.Rewards[len(entry.Rewards)-1])
	}
}

func TestHistoryRecordMissing(t *testing.T) {
	h := NewHistory(2)
	h.RecordMissing(42)
	entry, ok := h.Get(42)
	if !ok {
		t.Fatal("expected a placeholder entry")
	}
	for _, r := range entry.Rewards {
		if r.Sign() != 0 {
			t.Fatalf("expected all-zero rewards for a missing block, got %v", r)
		}
	}
}
