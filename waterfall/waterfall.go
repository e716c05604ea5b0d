// Package waterfall computes profit, loss, and loss-recovery distributions
// across the pool's capital structure. All entry points are pure: they take
// snapshots, return outcomes, and leave persistence to the caller, so a
// failed operation can be discarded without unwinding anything.
package waterfall

import (
	"errors"
	"math/big"
	"time"

	"capstack/cover"
	"capstack/tranche"
)

var (
	ErrInvalidAmount = errors.New("waterfall: amount must be positive")

	// ErrRecoveryExceedsLoss rejects recoveries larger than everything the
	// tranches and covers ever lost. Booking phantom recoveries would mint
	// assets out of thin air.
	ErrRecoveryExceedsLoss = errors.New("waterfall: recovery exceeds recorded losses")
)

// ProfitOutcome describes one profit distribution. SeniorProfit +
// JuniorProfit + sum(CoverShares) equals PoolProfit exactly.
type ProfitOutcome struct {
	PoolProfit   *big.Int
	SeniorProfit *big.Int
	JuniorProfit *big.Int
	CoverShares  []*big.Int
	Assets       tranche.Assets
	Covers       []cover.Cover
	Tracker      *tranche.SeniorYieldTracker
}

// DistributeProfit runs post-fee pool profit through the tranche policy and
// the cover schedule: the policy splits between senior and the non-senior
// side, the covers take their risk-weighted cut of the non-senior side, and
// junior keeps the remainder.
func DistributeProfit(poolProfit *big.Int, assets tranche.Assets, covers []cover.Cover, policy tranche.Policy, tracker *tranche.SeniorYieldTracker, asOf time.Time) (*ProfitOutcome, error) {
	if poolProfit == nil || poolProfit.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	split, err := policy.SplitProfit(poolProfit, assets, tracker, asOf)
	if err != nil {
		return nil, err
	}
	alloc, err := cover.AllocateProfit(split.Junior, assets.Of(tranche.Junior), covers)
	if err != nil {
		return nil, err
	}
	post := assets.Clone()
	post.Senior = new(big.Int).Add(post.Senior, split.Senior)
	post.Junior = new(big.Int).Add(post.Junior, alloc.Junior)
	return &ProfitOutcome{
		PoolProfit:   new(big.Int).Set(poolProfit),
		SeniorProfit: split.Senior,
		JuniorProfit: alloc.Junior,
		CoverShares:  alloc.Shares,
		Assets:       post,
		Covers:       alloc.Covers,
		Tracker:      split.Tracker,
	}, nil
}

// LossOutcome describes one loss distribution. sum(CoverAbsorbed) +
// SeniorLoss + JuniorLoss equals the applied loss exactly.
type LossOutcome struct {
	Loss          *big.Int
	CoverAbsorbed []*big.Int
	SeniorLoss    *big.Int
	JuniorLoss    *big.Int
	Assets        tranche.Assets
	Losses        tranche.Losses
	Covers        []cover.Cover
}

// DistributeLoss runs a loss through the covers in schedule order, then
// through the tranches junior-first. A loss beyond the combined capacity is
// a precondition violation surfaced from the tranche layer.
func DistributeLoss(loss *big.Int, assets tranche.Assets, losses tranche.Losses, covers []cover.Cover) (*LossOutcome, error) {
	if loss == nil || loss.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	absorption, err := cover.AbsorbLoss(loss, assets.Total(), covers)
	if err != nil {
		return nil, err
	}
	postAssets, postLosses, split, err := tranche.ApplyLoss(absorption.Remaining, assets, losses)
	if err != nil {
		return nil, err
	}
	return &LossOutcome{
		Loss:          new(big.Int).Set(loss),
		CoverAbsorbed: absorption.Absorbed,
		SeniorLoss:    split.Senior,
		JuniorLoss:    split.Junior,
		Assets:        postAssets,
		Losses:        postLosses,
		Covers:        absorption.Covers,
	}, nil
}

// RecoveryOutcome describes one loss recovery. SeniorRecovered +
// JuniorRecovered + sum(CoverRecovered) equals the recovery exactly.
type RecoveryOutcome struct {
	Recovery        *big.Int
	SeniorRecovered *big.Int
	JuniorRecovered *big.Int
	CoverRecovered  []*big.Int
	Assets          tranche.Assets
	Losses          tranche.Losses
	Covers          []cover.Cover
}

// DistributeLossRecovery restores recovered funds in reverse loss order:
// senior tranche first, then junior, then the covers from the back of the
// schedule. Recovery beyond all recorded losses aborts the whole operation.
func DistributeLossRecovery(recovery *big.Int, assets tranche.Assets, losses tranche.Losses, covers []cover.Cover) (*RecoveryOutcome, error) {
	if recovery == nil || recovery.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	postAssets, postLosses, split, remaining, err := tranche.ApplyRecovery(recovery, assets, losses)
	if err != nil {
		return nil, err
	}
	rec, err := cover.RecoverLoss(remaining, covers)
	if err != nil {
		return nil, err
	}
	if rec.Remaining.Sign() > 0 {
		return nil, ErrRecoveryExceedsLoss
	}
	return &RecoveryOutcome{
		Recovery:        new(big.Int).Set(recovery),
		SeniorRecovered: split.Senior,
		JuniorRecovered: split.Junior,
		CoverRecovered:  rec.Recovered,
		Assets:          postAssets,
		Losses:          postLosses,
		Covers:          rec.Covers,
	}, nil
}
