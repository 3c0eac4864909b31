package txtypes

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"evmforge/internal/forkerrors"
)

// Log is the per-event record carried by a Receipt (spec.md §3 "Receipt").
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// Receipt is the tagged union of spec.md §3/§6: Legacy receipts are
// list-encoded; AccessList (type 1) and DynamicFee (type 2) receipts are
// wrapped with a leading type byte; Deposit (type 0x7E) additionally carries
// an optional deposit nonce (SPEC_FULL.md "Supplemented").
type Receipt struct {
	Kind         EnvelopeKind
	Status       uint64
	GasUsed      uint64
	Bloom        [256]byte
	Logs         []*Log
	DepositNonce *uint64
}

// receiptRLP is the inner list payload shared by every receipt variant.
// Field order and tags mirror spec.md §6's `[status, gas_used, logs_bloom,
// logs]` layout.
type receiptRLP struct {
	Status  uint64
	GasUsed uint64
	Bloom   [256]byte
	Logs    []*rlpLog
}

type depositReceiptRLP struct {
	Status       uint64
	GasUsed      uint64
	Bloom        [256]byte
	Logs         []*rlpLog
	DepositNonce *uint64 `rlp:"nil"`
}

type rlpLog struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

func toRLPLogs(logs []*Log) []*rlpLog {
	out := make([]*rlpLog, len(logs))
	for i, l := range logs {
		out[i] = &rlpLog{Address: l.Address, Topics: l.Topics, Data: l.Data}
	}
	return out
}

func fromRLPLogs(logs []*rlpLog) []*Log {
	out := make([]*Log, len(logs))
	for i, l := range logs {
		out[i] = &Log{Address: l.Address, Topics: l.Topics, Data: l.Data}
	}
	return out
}

// NewReceipt builds a Receipt with Bloom derived from logs rather than
// left for the caller to supply (SPEC_FULL.md §3 "Supplemented": logs_bloom
// is derived deterministically from a receipt's logs).
func NewReceipt(kind EnvelopeKind, status, gasUsed uint64, logs []*Log, depositNonce *uint64) *Receipt {
	return &Receipt{
		Kind:         kind,
		Status:       status,
		GasUsed:      gasUsed,
		Bloom:        ComputeBloom(logs),
		Logs:         logs,
		DepositNonce: depositNonce,
	}
}

// typeByte returns the leading type byte for typed receipts, or -1 for the
// untyped (Legacy) encoding.
func (k EnvelopeKind) typeByte() int {
	switch k {
	case AccessList:
		return 0x01
	case DynamicFee:
		return 0x02
	case Blob:
		return 0x03
	case Deposit:
		return 0x7E
	default:
		return -1
	}
}

// Encode renders r onto the wire per spec.md §6 "Receipt wire format":
// Legacy is a bare RLP list; typed variants are [type byte][RLP list].
// Bloom is always recomputed from Logs rather than trusting r.Bloom, so a
// Receipt built by zero value or with a stale Bloom still serializes the
// correct filter (SPEC_FULL.md §3 "Supplemented").
func (r *Receipt) Encode() ([]byte, error) {
	bloom := ComputeBloom(r.Logs)
	var payload []byte
	var err error
	if r.Kind == Deposit {
		payload, err = rlp.EncodeToBytes(&depositReceiptRLP{
			Status: r.Status, GasUsed: r.GasUsed, Bloom: bloom,
			Logs: toRLPLogs(r.Logs), DepositNonce: r.DepositNonce,
		})
	} else {
		payload, err = rlp.EncodeToBytes(&receiptRLP{
			Status: r.Status, GasUsed: r.GasUsed, Bloom: bloom,
			Logs: toRLPLogs(r.Logs),
		})
	}
	if err != nil {
		return nil, forkerrors.New(forkerrors.KindDecode, "receipt.encode", err)
	}
	tb := r.Kind.typeByte()
	if tb < 0 {
		return payload, nil
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, byte(tb))
	out = append(out, payload...)
	return out, nil
}

// DecodeReceipt reverses Encode. A leading byte in {0xc0..0xff} (an RLP list
// header) decodes as Legacy; 0x01/0x02/0x03/0x7E decode as the matching typed
// variant; any other leading byte is UnknownReceiptType (spec.md §6).
func DecodeReceipt(data []byte) (*Receipt, error) {
	if len(data) == 0 {
		return nil, forkerrors.New(forkerrors.KindDecode, "receipt.decode", fmt.Errorf("empty input"))
	}
	lead := data[0]
	switch {
	case lead >= 0xc0:
		var body receiptRLP
		if err := rlp.DecodeBytes(data, &body); err != nil {
			return nil, forkerrors.New(forkerrors.KindDecode, "receipt.decode", err)
		}
		return &Receipt{Kind: Legacy, Status: body.Status, GasUsed: body.GasUsed, Bloom: body.Bloom, Logs: fromRLPLogs(body.Logs)}, nil
	case lead == 0x01, lead == 0x02, lead == 0x03:
		var body receiptRLP
		if err := rlp.DecodeBytes(data[1:], &body); err != nil {
			return nil, forkerrors.New(forkerrors.KindDecode, "receipt.decode", err)
		}
		kind := AccessList
		if lead == 0x02 {
			kind = DynamicFee
		} else if lead == 0x03 {
			kind = Blob
		}
		return &Receipt{Kind: kind, Status: body.Status, GasUsed: body.GasUsed, Bloom: body.Bloom, Logs: fromRLPLogs(body.Logs)}, nil
	case lead == 0x7E:
		var body depositReceiptRLP
		if err := rlp.DecodeBytes(data[1:], &body); err != nil {
			return nil, forkerrors.New(forkerrors.KindDecode, "receipt.decode", err)
		}
		return &Receipt{Kind: Deposit, Status: body.Status, GasUsed: body.GasUsed, Bloom: body.Bloom, Logs: fromRLPLogs(body.Logs), DepositNonce: body.DepositNonce}, nil
	default:
		return nil, forkerrors.New(forkerrors.KindDecode, "receipt.decode", fmt.Errorf("unknown receipt type 0x%02x", lead))
	}
}

// WrapTyped returns payload prefixed with a byte-string header whose length
// includes the type byte, for embedding a typed receipt inside another RLP
// structure (spec.md §6, "when encoded inside another RLP structure the
// typed form is wrapped in a byte-string header").
func WrapTyped(typed []byte) ([]byte, error) {
	return rlp.EncodeToBytes(typed)
}
