// Package cover implements the pool's ordered first-loss cover schedule.
// Covers absorb losses before the tranches do (list order), earn a
// risk-weighted share of non-senior profit, and are made whole last when
// losses recover (reverse list order).
package cover

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrInvalidCover = errors.New("cover: invalid cover parameters")

	basisPoints = big.NewInt(10_000)
)

// Cover is one first-loss cushion. Assets is the capital currently backing
// it; CoveredLoss is the cumulative loss it has absorbed and not yet
// recovered. CoverRateBps and CoverCap bound how much of a single loss event
// the cover takes; RiskYieldMultiplierBps weights its profit share against
// junior capital.
type Cover struct {
	Name                   string
	Assets                 *big.Int
	CoveredLoss            *big.Int
	RiskYieldMultiplierBps uint64
	CoverRateBps           uint64
	CoverCap               *big.Int
}

func (c Cover) Clone() Cover {
	return Cover{
		Name:                   c.Name,
		Assets:                 copyBigInt(c.Assets),
		CoveredLoss:            copyBigInt(c.CoveredLoss),
		RiskYieldMultiplierBps: c.RiskYieldMultiplierBps,
		CoverRateBps:           c.CoverRateBps,
		CoverCap:               copyBigInt(c.CoverCap),
	}
}

func (c Cover) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidCover)
	}
	if c.CoverRateBps > 10_000 {
		return fmt.Errorf("%w: cover rate %d bps exceeds 10000", ErrInvalidCover, c.CoverRateBps)
	}
	if c.Assets != nil && c.Assets.Sign() < 0 {
		return fmt.Errorf("%w: negative assets", ErrInvalidCover)
	}
	if c.CoveredLoss != nil && c.CoveredLoss.Sign() < 0 {
		return fmt.Errorf("%w: negative covered loss", ErrInvalidCover)
	}
	if c.CoverCap != nil && c.CoverCap.Sign() < 0 {
		return fmt.Errorf("%w: negative cover cap", ErrInvalidCover)
	}
	return nil
}

// CloneAll deep-copies a cover schedule, preserving order.
func CloneAll(covers []Cover) []Cover {
	out := make([]Cover, len(covers))
	for i, c := range covers {
		out[i] = c.Clone()
	}
	return out
}

// ProfitAllocation is the outcome of splitting non-senior profit between the
// covers and the junior tranche. Shares align with the input schedule;
// conservation is exact: Junior + sum(Shares) equals the allocated profit.
type ProfitAllocation struct {
	Shares []*big.Int
	Junior *big.Int
	Covers []Cover
}

// AllocateProfit splits nonSeniorProfit across the cover schedule and the
// junior tranche by risk-weighted capital. Each cover weighs
// assets*multiplier/10000 against the full junior capital; the junior side
// claims every rounding remainder. A zero total weight sends everything to
// junior.
func AllocateProfit(nonSeniorProfit, juniorAssets *big.Int, covers []Cover) (*ProfitAllocation, error) {
	if nonSeniorProfit == nil || nonSeniorProfit.Sign() < 0 {
		return nil, errors.New("cover: profit must not be negative")
	}
	post := CloneAll(covers)
	shares := make([]*big.Int, len(covers))
	weights := make([]*big.Int, len(covers))
	totalWeight := copyBigInt(juniorAssets)
	for i, c := range post {
		w := new(big.Int).Mul(c.Assets, new(big.Int).SetUint64(c.RiskYieldMultiplierBps))
		w.Quo(w, basisPoints)
		weights[i] = w
		totalWeight.Add(totalWeight, w)
	}
	junior := copyBigInt(nonSeniorProfit)
	if totalWeight.Sign() == 0 {
		for i := range shares {
			shares[i] = big.NewInt(0)
		}
		return &ProfitAllocation{Shares: shares, Junior: junior, Covers: post}, nil
	}
	for i := range post {
		share := new(big.Int).Mul(nonSeniorProfit, weights[i])
		share.Quo(share, totalWeight)
		shares[i] = share
		post[i].Assets = new(big.Int).Add(post[i].Assets, share)
		junior.Sub(junior, share)
	}
	return &ProfitAllocation{Shares: shares, Junior: junior, Covers: post}, nil
}

// LossAbsorption is the outcome of running a loss through the schedule.
type LossAbsorption struct {
	Absorbed  []*big.Int
	Remaining *big.Int
	Covers    []Cover
}

// AbsorbLoss runs a loss through the covers in list order. Each cover takes
// min(poolAssets*rate/10000, cap, its assets, remaining loss); the remainder
// falls through to the tranches. poolAssets is the combined senior and junior
// assets at the start of the operation.
func AbsorbLoss(loss, poolAssets *big.Int, covers []Cover) (*LossAbsorption, error) {
	if loss == nil || loss.Sign() < 0 {
		return nil, errors.New("cover: loss must not be negative")
	}
	post := CloneAll(covers)
	absorbed := make([]*big.Int, len(covers))
	remaining := copyBigInt(loss)
	for i := range post {
		capacity := new(big.Int).Mul(copyBigInt(poolAssets), new(big.Int).SetUint64(post[i].CoverRateBps))
		capacity.Quo(capacity, basisPoints)
		if post[i].CoverCap != nil && capacity.Cmp(post[i].CoverCap) > 0 {
			capacity.Set(post[i].CoverCap)
		}
		if capacity.Cmp(post[i].Assets) > 0 {
			capacity.Set(post[i].Assets)
		}
		take := minBigInt(capacity, remaining)
		absorbed[i] = take
		post[i].Assets = new(big.Int).Sub(post[i].Assets, take)
		post[i].CoveredLoss = new(big.Int).Add(post[i].CoveredLoss, take)
		remaining.Sub(remaining, take)
	}
	return &LossAbsorption{Absorbed: absorbed, Remaining: remaining, Covers: post}, nil
}

// Recovery is the outcome of returning recovered funds to the schedule.
type Recovery struct {
	Recovered []*big.Int
	Remaining *big.Int
	Covers    []Cover
}

// RecoverLoss returns recovered funds to the covers in reverse list order,
// each capped at its cumulative covered loss. The remainder (recovery beyond
// anything the covers ever absorbed) is handed back to the caller, which
// treats a nonzero value as a precondition violation at the operation level.
func RecoverLoss(recovery *big.Int, covers []Cover) (*Recovery, error) {
	if recovery == nil || recovery.Sign() < 0 {
		return nil, errors.New("cover: recovery must not be negative")
	}
	post := CloneAll(covers)
	recovered := make([]*big.Int, len(covers))
	for i := range recovered {
		recovered[i] = big.NewInt(0)
	}
	remaining := copyBigInt(recovery)
	for i := len(post) - 1; i >= 0; i-- {
		take := minBigInt(post[i].CoveredLoss, remaining)
		recovered[i] = take
		post[i].Assets = new(big.Int).Add(post[i].Assets, take)
		post[i].CoveredLoss = new(big.Int).Sub(post[i].CoveredLoss, take)
		remaining.Sub(remaining, take)
	}
	return &Recovery{Recovered: recovered, Remaining: remaining, Covers: post}, nil
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func minBigInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
