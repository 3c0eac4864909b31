// Package txtypes implements the transaction-envelope and receipt tagged
// unions of spec.md §3/§6, including their RLP wire codec.
package txtypes

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EnvelopeKind tags the transaction envelope variant.
type EnvelopeKind uint8

const (
	Legacy EnvelopeKind = iota
	AccessList
	DynamicFee
	Blob
	Deposit
)

// AccessTuple is one entry of an EIP-2930 access list.
type AccessTuple struct {
	Address     common.Address
	StorageKeys []common.Hash
}

// Authorization is one entry of an EIP-7702 authorization list.
type Authorization struct {
	ChainID uint64
	Address common.Address
	Nonce   uint64
	V       uint8
	R, S    *big.Int
}

// Envelope is the tagged union over {Legacy, AccessList, DynamicFee, Blob,
// Deposit} described in spec.md §3. Fields not meaningful for a given Kind
// are left at their zero value.
type Envelope struct {
	Kind EnvelopeKind

	ChainID  uint64
	Nonce    uint64
	GasLimit uint64
	To       *common.Address // nil ⇒ contract creation
	Value    *big.Int
	Input    []byte

	// Legacy / AccessList pricing.
	GasPrice *big.Int

	// DynamicFee / Blob pricing.
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int

	AccessList []AccessTuple

	// Blob-specific.
	BlobHashes    []common.Hash
	MaxFeePerBlob *big.Int

	// EIP-7702.
	AuthorizationList []Authorization

	// Deposit-specific (op-stack style system/deposit transactions).
	SourceHash          common.Hash
	From                common.Address
	Mint                *big.Int
	IsSystemTransaction bool

	V, R, S *big.Int
}

// EffectiveGasPrice returns the price actually paid per unit of gas given a
// block base fee.
func (e *Envelope) EffectiveGasPrice(baseFee *big.Int) *big.Int {
	switch e.Kind {
	case Legacy, AccessList:
		if e.GasPrice == nil {
			return big.NewInt(0)
		}
		return new(big.Int).Set(e.GasPrice)
	case DynamicFee, Blob:
		return dynamicFeeEffectivePrice(e.MaxFeePerGas, e.MaxPriorityFeePerGas, baseFee)
	case Deposit:
		return big.NewInt(0)
	default:
		return big.NewInt(0)
	}
}

func dynamicFeeEffectivePrice(maxFee, maxPriority, baseFee *big.Int) *big.Int {
	if maxFee == nil || maxPriority == nil || baseFee == nil {
		return big.NewInt(0)
	}
	headroom := new(big.Int).Sub(maxFee, baseFee)
	if headroom.Sign() < 0 {
		headroom = big.NewInt(0)
	}
	tip := maxPriority
	if headroom.Cmp(tip) < 0 {
		tip = headroom
	}
	return new(big.Int).Add(baseFee, tip)
}

// EffectiveTip returns the saturating miner reward for this envelope given a
// block base fee, per the reward formula of spec.md §4.5 step 3.
func (e *Envelope) EffectiveTip(baseFee *big.Int) *big.Int {
	zero := big.NewInt(0)
	switch e.Kind {
	case Legacy, AccessList:
		if e.GasPrice == nil {
			return zero
		}
		tip := new(big.Int).Sub(e.GasPrice, baseFee)
		if tip.Sign() < 0 {
			return zero
		}
		return tip
	case DynamicFee, Blob:
		if e.MaxFeePerGas == nil || e.MaxPriorityFeePerGas == nil {
			return zero
		}
		headroom := new(big.Int).Sub(e.MaxFeePerGas, baseFee)
		if headroom.Sign() < 0 {
			headroom = zero
		}
		if headroom.Cmp(e.MaxPriorityFeePerGas) < 0 {
			return headroom
		}
		return new(big.Int).Set(e.MaxPriorityFeePerGas)
	case Deposit:
		return zero
	default:
		return zero
	}
}
