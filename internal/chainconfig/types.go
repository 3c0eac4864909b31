// Package chainconfig holds the small value types shared by the fork
// database, the fee manager and the fee-history service: the hardfork tag,
// the chain config ("cfg env") and the per-block environment ("block env").
package chainconfig

import "github.com/ethereum/go-ethereum/common"

// HardforkTag orders hardforks so activation checks reduce to a single
// comparison (see Manager.IsEIP1559 in internal/fees).
type HardforkTag int

const (
	HardforkFrontier HardforkTag = iota
	HardforkByzantium
	HardforkIstanbul
	HardforkBerlin
	HardforkLondon // EIP-1559 activates here
	HardforkShanghai
	HardforkCancun
)

// CfgEnv is the chain-wide configuration a fork is pinned against. Two fork
// cache entries are interchangeable iff their CfgEnv and BlockEnv are equal
// (spec.md §3, "Fork cache entry").
type CfgEnv struct {
	ChainID  uint64
	SpecID   HardforkTag
	Limit    uint64 // base-fee-change denominator
	Elastic  uint64 // elasticity multiplier
}

// BlockEnv is the subset of a block header the fork engine cares about.
type BlockEnv struct {
	Number     uint64
	Timestamp  uint64
	GasLimit   uint64
	BaseFee    uint64
	Difficulty uint64
	Coinbase   common.Address
}

// DefaultCfgEnv returns the London-era defaults used when a caller does not
// supply an explicit chain configuration.
func DefaultCfgEnv(chainID uint64) CfgEnv {
	return CfgEnv{
		ChainID: chainID,
		SpecID:  HardforkLondon,
		Limit:   8,
		Elastic: 2,
	}
}

// IsEIP1559 reports whether c's hardfork has activated EIP-1559 base fees.
func (c CfgEnv) IsEIP1559() bool {
	return c.SpecID >= HardforkLondon
}
