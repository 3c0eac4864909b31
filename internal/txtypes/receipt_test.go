package txtypes

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func addr(hexSuffix string) common.Address {
	var a common.Address
	copy(a[len(a)-len(hexSuffix)/2:], common.FromHex(hexSuffix))
	return a
}

func hash(hexSuffix string) common.Hash {
	var h common.Hash
	copy(h[len(h)-len(hexSuffix)/2:], common.FromHex(hexSuffix))
	return h
}

// TestReceiptRoundTrip implements spec.md §8's universal property: for
// every envelope variant v, decode(encode(v)) == v.
func TestReceiptRoundTrip(t *testing.T) {
	nonce := uint64(7)
	cases := []*Receipt{
		{
			Kind:    Legacy,
			Status:  0,
			GasUsed: 1,
			Logs: []*Log{{
				Address: addr("0011"),
				Topics:  []common.Hash{hash("dead"), hash("beef")},
				Data:    []byte{0x01, 0x00, 0xff},
			}},
		},
		{Kind: AccessList, Status: 1, GasUsed: 21000, Logs: nil},
		{Kind: DynamicFee, Status: 1, GasUsed: 42000, Logs: []*Log{{Address: addr("22"), Topics: nil, Data: []byte{0x01}}}},
		{Kind: Blob, Status: 1, GasUsed: 100000, Logs: nil},
		{Kind: Deposit, Status: 1, GasUsed: 0, Logs: nil, DepositNonce: &nonce},
	}
	for _, want := range cases {
		enc, err := want.Encode()
		if err != nil {
			t.Fatalf("encode %v: %v", want.Kind, err)
		}
		got, err := DecodeReceipt(enc)
		if err != nil {
			t.Fatalf("decode %v: %v", want.Kind, err)
		}
		if got.Kind != want.Kind || got.Status != want.Status || got.GasUsed != want.GasUsed {
			t.Fatalf("round-trip mismatch: got %+v want %+v", got, want)
		}
		if len(got.Logs) != len(want.Logs) {
			t.Fatalf("log count mismatch: got %d want %d", len(got.Logs), len(want.Logs))
		}
		for i := range want.Logs {
			if got.Logs[i].Address != want.Logs[i].Address {
				t.Fatalf("log address mismatch at %d", i)
			}
		}
		if want.Kind == Deposit {
			if got.DepositNonce == nil || *got.DepositNonce != *want.DepositNonce {
				t.Fatalf("deposit nonce mismatch: got %v want %v", got.DepositNonce, want.DepositNonce)
			}
		}
	}
}

// TestDecodeUnknownReceiptType covers spec.md §6: "any other leading byte
// yields UnknownReceiptType".
func TestDecodeUnknownReceiptType(t *testing.T) {
	_, err := DecodeReceipt([]byte{0x42, 0x00})
	if err == nil {
		t.Fatal("expected error for unknown receipt type")
	}
}

func TestComputeBloomContainsContributedLog(t *testing.T) {
	l := &Log{Address: addr("0011"), Topics: []common.Hash{hash("dead"), hash("beef")}, Data: []byte{1, 0, 0xff}}
	bloom := ComputeBloom([]*Log{l})
	if !BloomContains(bloom, l.Address[:]) {
		t.Fatal("bloom should contain contributed address")
	}
	for _, topic := range l.Topics {
		if !BloomContains(bloom, topic[:]) {
			t.Fatalf("bloom should contain contributed topic %x", topic)
		}
	}
	if BloomContains(bloom, addr("9999").Bytes()) {
		// Not a hard guarantee (false positives are allowed) but astronomically
		// unlikely for this fixed input; flags a broken implementation if hit.
		t.Log("bloom false positive on unrelated address (not necessarily a bug)")
	}
}

// TestEncodeDerivesBloomFromLogs covers SPEC_FULL.md §3 "Supplemented":
// logs_bloom is derived from a receipt's logs rather than caller-supplied,
// so a Receipt built with a stale or zero Bloom field still round-trips
// the correct filter once it crosses Encode/DecodeReceipt.
func TestEncodeDerivesBloomFromLogs(t *testing.T) {
	l := &Log{Address: addr("0011"), Topics: []common.Hash{hash("dead")}, Data: []byte{0x01}}
	r := &Receipt{Kind: Legacy, Status: 1, GasUsed: 100, Logs: []*Log{l}}

	enc, err := r.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeReceipt(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := ComputeBloom(r.Logs)
	if got.Bloom != want {
		t.Fatalf("expected decoded bloom to match ComputeBloom(logs), got %x want %x", got.Bloom, want)
	}
}

// TestNewReceiptDerivesBloom covers the constructor path.
func TestNewReceiptDerivesBloom(t *testing.T) {
	l := &Log{Address: addr("22"), Topics: nil, Data: []byte{0x01}}
	r := NewReceipt(DynamicFee, 1, 21000, []*Log{l}, nil)
	want := ComputeBloom(r.Logs)
	if r.Bloom != want {
		t.Fatalf("expected NewReceipt to derive Bloom, got %x want %x", r.Bloom, want)
	}
}

func TestEnvelopeEffectiveTipSaturatesAtZero(t *testing.T) {
	e := &Envelope{Kind: DynamicFee, MaxFeePerGas: big.NewInt(10), MaxPriorityFeePerGas: big.NewInt(5)}
	tip := e.EffectiveTip(big.NewInt(100))
	if tip.Sign() != 0 {
		t.Fatalf("expected saturated-zero tip, got %s", tip)
	}
}

func TestEnvelopeEffectiveTipMinOfHeadroomAndPriority(t *testing.T) {
	e := &Envelope{Kind: DynamicFee, MaxFeePerGas: big.NewInt(100), MaxPriorityFeePerGas: big.NewInt(5)}
	tip := e.EffectiveTip(big.NewInt(90))
	if tip.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("expected tip 5, got %s", tip)
	}
	e2 := &Envelope{Kind: DynamicFee, MaxFeePerGas: big.NewInt(100), MaxPriorityFeePerGas: big.NewInt(20)}
	tip2 := e2.EffectiveTip(big.NewInt(90))
	if tip2.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected tip 10 (headroom-bound), got %s", tip2)
	}
}
