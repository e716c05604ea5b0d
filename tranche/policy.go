package tranche

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

// PolicyKind names a profit split policy on the wire and in configuration.
type PolicyKind string

const (
	PolicyRiskAdjusted     PolicyKind = "risk-adjusted"
	PolicyFixedSeniorYield PolicyKind = "fixed-senior-yield"
)

var (
	ErrNoTrancheCapital = errors.New("tranche: profit with zero tranche capital")
	ErrInvalidPolicy    = errors.New("tranche: invalid policy parameters")

	basisPoints = big.NewInt(10_000)
	// yieldDenominator folds the 360-day year into the bps denominator.
	yieldDenominator = big.NewInt(360 * 10_000)
	secondsPerDay    = int64(86_400)
)

// ProfitSplit is the outcome of dividing pool profit between the tranches.
// Senior plus Junior always equals the distributed profit exactly; Tracker is
// the updated accrual state for policies that carry one, nil otherwise.
type ProfitSplit struct {
	Senior  *big.Int
	Junior  *big.Int
	Tracker *SeniorYieldTracker
}

// Policy decides how pool profit is divided between the senior and junior
// tranches. Implementations are pure: accrual state travels through the
// tracker argument and comes back in the result, so a caller can discard an
// outcome without unwinding anything.
type Policy interface {
	Kind() PolicyKind

	// SplitProfit divides profit between the tranches as of the given time.
	// profit must be positive and the pool must hold tranche capital.
	SplitProfit(profit *big.Int, assets Assets, tracker *SeniorYieldTracker, asOf time.Time) (ProfitSplit, error)

	// Resync refreshes the policy's accrual state after tranche assets
	// changed outside profit distribution (deposits, losses, recoveries,
	// redemptions). Policies without accrual state pass the tracker through.
	Resync(assets Assets, tracker *SeniorYieldTracker, asOf time.Time) (*SeniorYieldTracker, error)
}

// NewPolicy constructs the policy named by kind.
// rateBps is the risk adjustment for the risk-adjusted policy and the fixed
// annual senior yield for the fixed-yield policy.
func NewPolicy(kind PolicyKind, rateBps uint64) (Policy, error) {
	switch kind {
	case PolicyRiskAdjusted:
		return NewRiskAdjusted(rateBps)
	case PolicyFixedSeniorYield:
		return NewFixedSeniorYield(rateBps)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidPolicy, kind)
	}
}

// RiskAdjusted shifts a fixed fraction of the senior tranche's pro-rata
// profit to the junior side as compensation for first-loss risk.
type RiskAdjusted struct {
	adjustmentBps *big.Int
}

func NewRiskAdjusted(adjustmentBps uint64) (*RiskAdjusted, error) {
	if adjustmentBps > 10_000 {
		return nil, fmt.Errorf("%w: risk adjustment %d bps exceeds 10000", ErrInvalidPolicy, adjustmentBps)
	}
	return &RiskAdjusted{adjustmentBps: new(big.Int).SetUint64(adjustmentBps)}, nil
}

func (p *RiskAdjusted) Kind() PolicyKind { return PolicyRiskAdjusted }

func (p *RiskAdjusted) SplitProfit(profit *big.Int, assets Assets, tracker *SeniorYieldTracker, _ time.Time) (ProfitSplit, error) {
	if profit == nil || profit.Sign() <= 0 {
		return ProfitSplit{}, errors.New("tranche: profit must be positive")
	}
	total := assets.Total()
	if total.Sign() == 0 {
		return ProfitSplit{}, ErrNoTrancheCapital
	}
	raw := new(big.Int).Mul(profit, copyBigInt(assets.Senior))
	raw.Quo(raw, total)
	adjustment := new(big.Int).Mul(raw, p.adjustmentBps)
	adjustment.Quo(adjustment, basisPoints)
	senior := new(big.Int).Sub(raw, adjustment)
	junior := new(big.Int).Sub(profit, senior)
	return ProfitSplit{Senior: senior, Junior: junior, Tracker: tracker.Clone()}, nil
}

func (p *RiskAdjusted) Resync(_ Assets, tracker *SeniorYieldTracker, _ time.Time) (*SeniorYieldTracker, error) {
	return tracker.Clone(), nil
}

// FixedSeniorYield pays the senior tranche a fixed annual rate, accrued on a
// 360-day calendar, before the junior side sees any profit.
type FixedSeniorYield struct {
	yieldBps *big.Int
}

func NewFixedSeniorYield(yieldBps uint64) (*FixedSeniorYield, error) {
	if yieldBps == 0 {
		return nil, fmt.Errorf("%w: fixed senior yield must be positive", ErrInvalidPolicy)
	}
	return &FixedSeniorYield{yieldBps: new(big.Int).SetUint64(yieldBps)}, nil
}

func (p *FixedSeniorYield) Kind() PolicyKind { return PolicyFixedSeniorYield }

func (p *FixedSeniorYield) SplitProfit(profit *big.Int, assets Assets, tracker *SeniorYieldTracker, asOf time.Time) (ProfitSplit, error) {
	if profit == nil || profit.Sign() <= 0 {
		return ProfitSplit{}, errors.New("tranche: profit must be positive")
	}
	if assets.Total().Sign() == 0 {
		return ProfitSplit{}, ErrNoTrancheCapital
	}
	tr := p.accrued(assets, tracker, asOf)
	senior := minBigInt(profit, tr.UnpaidYield)
	tr.UnpaidYield = new(big.Int).Sub(tr.UnpaidYield, senior)
	junior := new(big.Int).Sub(profit, senior)
	tr.TotalAssets = new(big.Int).Add(copyBigInt(assets.Senior), senior)
	return ProfitSplit{Senior: senior, Junior: junior, Tracker: tr}, nil
}

func (p *FixedSeniorYield) Resync(assets Assets, tracker *SeniorYieldTracker, asOf time.Time) (*SeniorYieldTracker, error) {
	tr := p.accrued(assets, tracker, asOf)
	tr.TotalAssets = copyBigInt(assets.Senior)
	return tr, nil
}

// accrued returns a tracker advanced to asOf. A nil tracker seeds from the
// current senior assets with nothing owed.
func (p *FixedSeniorYield) accrued(assets Assets, tracker *SeniorYieldTracker, asOf time.Time) *SeniorYieldTracker {
	day := DayNumber(asOf)
	if tracker == nil {
		return &SeniorYieldTracker{
			TotalAssets:    copyBigInt(assets.Senior),
			UnpaidYield:    big.NewInt(0),
			LastUpdatedDay: day,
		}
	}
	tr := tracker.Clone()
	if day <= tr.LastUpdatedDay {
		return tr
	}
	days := new(big.Int).SetUint64(day - tr.LastUpdatedDay)
	accrual := new(big.Int).Mul(copyBigInt(tr.TotalAssets), p.yieldBps)
	accrual.Mul(accrual, days)
	accrual.Quo(accrual, yieldDenominator)
	tr.UnpaidYield = new(big.Int).Add(copyBigInt(tr.UnpaidYield), accrual)
	tr.LastUpdatedDay = day
	return tr
}

// SeniorYieldTracker carries the fixed-yield policy's accrual state: the
// senior principal the yield accrues on, the yield earned but not yet paid,
// and the UTC day the accrual last advanced to.
type SeniorYieldTracker struct {
	TotalAssets    *big.Int
	UnpaidYield    *big.Int
	LastUpdatedDay uint64
}

func (t *SeniorYieldTracker) Clone() *SeniorYieldTracker {
	if t == nil {
		return nil
	}
	return &SeniorYieldTracker{
		TotalAssets:    copyBigInt(t.TotalAssets),
		UnpaidYield:    copyBigInt(t.UnpaidYield),
		LastUpdatedDay: t.LastUpdatedDay,
	}
}

// DayNumber maps a timestamp to its UTC day number.
func DayNumber(ts time.Time) uint64 {
	secs := ts.UTC().Unix()
	if secs < 0 {
		return 0
	}
	return uint64(secs / secondsPerDay)
}
