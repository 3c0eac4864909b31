// Package fees implements the Fee Manager (C5, spec.md §4.4) and the
// Fee-History Service (C6, spec.md §4.5): EIP-1559 base-fee tracking and a
// bounded, percentile-indexed fee-history cache fed from a block
// notification stream.
package fees

import (
	"math/big"
	"sync"

	"evmforge/internal/chainconfig"
)

// suggestedPriorityFee is the constant priority fee this manager suggests
// when no caller-supplied value is available (spec.md §4.4).
var suggestedPriorityFee = big.NewInt(1_000_000_000) // 10^9 wei

// Manager holds the current base fee, gas price and elasticity, and
// computes the next block's base fee under the EIP-1559 rule (spec.md §4.4).
type Manager struct {
	mu sync.Mutex

	hardfork chainconfig.HardforkTag
	baseFee  *big.Int
	gasPrice *big.Int

	baseFeeChangeDenominator uint64
	elasticityMultiplier     uint64
}

// NewManager returns a Manager seeded with initial base fee and gas price.
func NewManager(hardfork chainconfig.HardforkTag, baseFee, gasPrice *big.Int, denom, elasticity uint64) *Manager {
	if denom == 0 {
		denom = 8
	}
	if elasticity == 0 {
		elasticity = 2
	}
	return &Manager{
		hardfork:                 hardfork,
		baseFee:                  bigOrZero(baseFee),
		gasPrice:                 bigOrZero(gasPrice),
		baseFeeChangeDenominator: denom,
		elasticityMultiplier:     elasticity,
	}
}

// IsEIP1559 is true iff the hardfork tag is at or past the activation tag
// (spec.md §4.4).
func (m *Manager) IsEIP1559() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hardfork >= chainconfig.HardforkLondon
}

// BaseFee returns the current base fee.
func (m *Manager) BaseFee() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.baseFee)
}

// SetBaseFee pins the base fee, e.g. to zero for a user-pinned constant
// (spec.md §4.4, scenario 2 "Base-fee floor pin").
func (m *Manager) SetBaseFee(v *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseFee = new(big.Int).Set(v)
}

// GasPrice returns base_fee + suggested_priority_fee in EIP-1559 mode, or
// the stored legacy gas price otherwise (spec.md §4.4).
func (m *Manager) GasPrice() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hardfork >= chainconfig.HardforkLondon {
		return new(big.Int).Add(m.baseFee, suggestedPriorityFee)
	}
	return new(big.Int).Set(m.gasPrice)
}

// SuggestedPriorityFee returns the constant suggested priority fee.
func (m *Manager) SuggestedPriorityFee() *big.Int {
	return new(big.Int).Set(suggestedPriorityFee)
}

// GetNextBlockBaseFeePerGas applies the EIP-1559 base-fee update rule. If
// the current base fee is zero (a user-pinned constant) it returns zero
// unconditionally (spec.md §4.4, scenario 2).
func (m *Manager) GetNextBlockBaseFeePerGas(gasUsed, gasLimit uint64, lastFee *big.Int) *big.Int {
	m.mu.Lock()
	denom := m.baseFeeChangeDenominator
	elasticity := m.elasticityMultiplier
	pinned := m.baseFee.Sign() == 0
	m.mu.Unlock()

	if pinned {
		return big.NewInt(0)
	}
	return nextBaseFee(gasUsed, gasLimit, lastFee, denom, elasticity)
}

// nextBaseFee implements the EIP-1559 formula: gas_target = gas_limit /
// elasticity; if gas_used == gas_target the fee is unchanged; if above
// target the fee increases proportionally to the excess (floor 1 wei of
// change), if below it decreases proportionally (floor zero).
func nextBaseFee(gasUsed, gasLimit uint64, lastFee *big.Int, denom, elasticity uint64) *big.Int {
	if gasLimit == 0 || elasticity == 0 {
		return new(big.Int).Set(lastFee)
	}
	gasTarget := gasLimit / elasticity

	if gasUsed == gasTarget {
		return new(big.Int).Set(lastFee)
	}

	if gasUsed > gasTarget {
		delta := gasUsed - gasTarget
		change := new(big.Int).Mul(lastFee, big.NewInt(int64(delta)))
		change.Div(change, big.NewInt(int64(gasTarget)))
		change.Div(change, big.NewInt(int64(denom)))
		if change.Sign() == 0 {
			change = big.NewInt(1)
		}
		return new(big.Int).Add(lastFee, change)
	}

	delta := gasTarget - gasUsed
	change := new(big.Int).Mul(lastFee, big.NewInt(int64(delta)))
	change.Div(change, big.NewInt(int64(gasTarget)))
	change.Div(change, big.NewInt(int64(denom)))
	next := new(big.Int).Sub(lastFee, change)
	if next.Sign() < 0 {
		return big.NewInt(0)
	}
	return next
}
