package txtypes

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/ethereum/go-ethereum/crypto"
)

// bloomBits is the size in bits of a receipt's logs_bloom field (2048 bits =
// 256 bytes, spec.md §3 "Block header" / §6 "Receipt wire format").
const bloomBits = 2048

// ComputeBloom derives the 256-byte logs_bloom for a set of logs using the
// standard Ethereum bloom-filter construction: each log contributes its
// address and every topic, and each contributed item sets 3 bits derived
// from its Keccak256 hash. Grounded on original_source's receipt bloom
// computation (spec.md §3 "Supplemented" note in SPEC_FULL.md).
func ComputeBloom(logs []*Log) [256]byte {
	bs := bitset.New(bloomBits)
	for _, l := range logs {
		bloomAdd(bs, l.Address[:])
		for _, t := range l.Topics {
			bloomAdd(bs, t[:])
		}
	}
	var out [256]byte
	// Bit position p (0 = least significant) maps to byte 255-(p/8), with
	// the most-significant bit of that byte being bit 7.
	for p := uint(0); p < bloomBits; p++ {
		if bs.Test(p) {
			byteIdx := 255 - p/8
			out[byteIdx] |= 1 << (p % 8)
		}
	}
	return out
}

// bloomAdd sets the 3 bits that data contributes to the bloom filter.
func bloomAdd(bs *bitset.BitSet, data []byte) {
	h := crypto.Keccak256(data)
	for i := 0; i < 3; i++ {
		// Each pair of bytes from the hash selects one of the 2048 bits,
		// masked to 11 bits per the Ethereum bloom-filter specification.
		bit := (uint(h[i*2])<<8 | uint(h[i*2+1])) & (bloomBits - 1)
		bs.Set(bit)
	}
}

// BloomContains reports whether bloom might contain data (false positives
// are possible by construction; false negatives are not).
func BloomContains(bloom [256]byte, data []byte) bool {
	bs := bitset.New(bloomBits)
	for i := 0; i < 256; i++ {
		b := bloom[i]
		for bit := 0; bit < 8; bit++ {
			if b&(1<<(7-bit)) != 0 {
				pos := uint((255-i)*8 + (7 - bit))
				bs.Set(pos)
			}
		}
	}
	h := crypto.Keccak256(data)
	for i := 0; i < 3; i++ {
		bit := (uint(h[i*2])<<8 | uint(h[i*2+1])) & (bloomBits - 1)
		if !bs.Test(bit) {
			return false
		}
	}
	return true
}
