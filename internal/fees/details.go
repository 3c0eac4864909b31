package fees

import (
	"errors"
	"math/big"

	"evmforge/internal/forkerrors"
)

// FeeDetails is the per-request fee decomposition of spec.md §4.4: a
// (gas_price, max_fee, max_priority_fee) triple coerced from whatever
// subset of fields a caller actually supplied.
type FeeDetails struct {
	GasPrice    *big.Int
	MaxFee      *big.Int
	MaxPriority *big.Int
}

// NewFeeDetails implements the coercion rule of spec.md §4.4: if only
// gas_price is supplied, all three fields are populated from it (legacy
// coercion); otherwise max_priority <= max_fee is enforced and gas_price is
// set equal to max_fee.
func NewFeeDetails(gasPrice, maxFee, maxPriority *big.Int) (*FeeDetails, error) {
	if gasPrice != nil && maxFee == nil && maxPriority == nil {
		return &FeeDetails{
			GasPrice:    new(big.Int).Set(gasPrice),
			MaxFee:      new(big.Int).Set(gasPrice),
			MaxPriority: new(big.Int).Set(gasPrice),
		}, nil
	}

	if maxFee == nil || maxPriority == nil {
		return nil, forkerrors.New(forkerrors.KindInvalidInput, "fee_details.new",
			errMissingField)
	}
	if maxPriority.Cmp(maxFee) > 0 {
		return nil, forkerrors.New(forkerrors.KindInvalidInput, "fee_details.new", errPriorityExceedsMax)
	}

	return &FeeDetails{
		GasPrice:    new(big.Int).Set(maxFee),
		MaxFee:      new(big.Int).Set(maxFee),
		MaxPriority: new(big.Int).Set(maxPriority),
	}, nil
}

var (
	errMissingField       = errors.New("max_fee and max_priority_fee must both be supplied when gas_price is absent")
	errPriorityExceedsMax = errors.New("max_priority_fee exceeds max_fee")
)
