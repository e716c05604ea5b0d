package core

import (
	"errors"
	"math/big"
)

var (
	errFeeExceedsCap = errors.New("pool: profit fee exceeds 100%")

	basisPoints = big.NewInt(10_000)
)

// FeeCollector computes the protocol's cut of gross profit before the
// waterfall runs. The returned fee must never exceed the gross amount.
type FeeCollector interface {
	Collect(gross *big.Int) (*big.Int, error)
}

// NoopFeeCollector takes nothing.
type NoopFeeCollector struct{}

func (NoopFeeCollector) Collect(*big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

// BasisPointFeeCollector takes a flat basis point cut, rounded down.
type BasisPointFeeCollector struct {
	bps uint64
}

// NewBasisPointFeeCollector builds a collector for the given cut. Zero basis
// points yields the no-op collector.
func NewBasisPointFeeCollector(bps uint64) (FeeCollector, error) {
	if bps > 10_000 {
		return nil, errFeeExceedsCap
	}
	if bps == 0 {
		return NoopFeeCollector{}, nil
	}
	return BasisPointFeeCollector{bps: bps}, nil
}

func (c BasisPointFeeCollector) Collect(gross *big.Int) (*big.Int, error) {
	if gross == nil || gross.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	fee := new(big.Int).Mul(gross, new(big.Int).SetUint64(c.bps))
	return fee.Quo(fee, basisPoints), nil
}
