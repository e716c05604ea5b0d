package epoch

import (
	"errors"
	"math/big"

	"capstack/tranche"
)

var (
	errMissingRatio  = errors.New("epoch: max senior junior ratio required")
	errNegativePrice = errors.New("epoch: negative share price")

	basisPoints = big.NewInt(10_000)
)

// TrancheInput is one tranche's view going into a settlement: its ray-scaled
// share price and its unfulfilled epochs, oldest first.
type TrancheInput struct {
	Price   *big.Int
	Pending []*Info
}

// SettleInput is a complete settlement request. Available is the liquidity
// reserved for redemptions; Assets are the pre-settlement tranche assets.
type SettleInput struct {
	CurrentEpoch            uint64
	FlexWindow              uint64
	MaxSeniorJuniorRatioBps uint64
	Available               *big.Int
	Assets                  tranche.Assets
	Senior                  TrancheInput
	Junior                  TrancheInput
}

// TrancheOutcome carries one tranche's settlement result: every pending
// epoch (updated in place order-preserving), plus the share and amount
// deltas of this close.
type TrancheOutcome struct {
	Epochs          []*Info
	SharesProcessed *big.Int
	AmountProcessed *big.Int
}

// Fulfilled returns the ids of epochs that finished in this close.
func (o TrancheOutcome) Fulfilled() []uint64 {
	var ids []uint64
	for _, info := range o.Epochs {
		if info.State() == StateFulfilled {
			ids = append(ids, info.ID)
		}
	}
	return ids
}

// Outcome is the full result of settling both tranches.
type Outcome struct {
	Senior         TrancheOutcome
	Junior         TrancheOutcome
	Assets         tranche.Assets
	AvailableAfter *big.Int
	// UnmetDemand is the queued demand still unfilled at current prices;
	// the pool forwards it as the next liquidity reservation target.
	UnmetDemand *big.Int
}

// Settle fills queued redemption demand against the available liquidity.
// Mature epochs (older than the flex window) go first, senior before junior;
// junior fills are additionally capped so the post-settlement structure keeps
// juniorAssets * ratio >= seniorAssets * 10000. With liquidity left over and
// a nonzero flex window, the same pass runs across the not-yet-mature epochs.
// Settle is pure: inputs are never mutated.
func Settle(in SettleInput) (*Outcome, error) {
	if in.MaxSeniorJuniorRatioBps == 0 {
		return nil, errMissingRatio
	}
	if priceInvalid(in.Senior.Price) || priceInvalid(in.Junior.Price) {
		return nil, errNegativePrice
	}

	run := &settleRun{
		available: copyBigInt(in.Available),
		assets:    in.Assets.Clone(),
		ratioBps:  new(big.Int).SetUint64(in.MaxSeniorJuniorRatioBps),
	}
	senior := newTrancheRun(tranche.Senior, in.Senior)
	junior := newTrancheRun(tranche.Junior, in.Junior)

	matureLimit, hasMature := matureCutoff(in.CurrentEpoch, in.FlexWindow)

	// Mature pass: obligations past the flex window, senior first.
	if hasMature {
		run.fill(senior, matureLimit)
		run.fill(junior, matureLimit)
	}
	// Flex pass: early processing of younger epochs with leftover liquidity.
	if in.FlexWindow > 0 && run.available.Sign() > 0 {
		run.fill(senior, in.CurrentEpoch)
		run.fill(junior, in.CurrentEpoch)
	}

	unmet := new(big.Int).Add(senior.unmetDemand(), junior.unmetDemand())
	return &Outcome{
		Senior:         senior.outcome(),
		Junior:         junior.outcome(),
		Assets:         run.assets,
		AvailableAfter: run.available,
		UnmetDemand:    unmet,
	}, nil
}

// matureCutoff returns the newest epoch id considered mature. With a flex
// window larger than the current epoch id nothing is mature yet.
func matureCutoff(current, flexWindow uint64) (uint64, bool) {
	if flexWindow > current {
		return 0, false
	}
	return current - flexWindow, true
}

func priceInvalid(price *big.Int) bool {
	return price != nil && price.Sign() < 0
}

type settleRun struct {
	available *big.Int
	assets    tranche.Assets
	ratioBps  *big.Int
}

type trancheRun struct {
	id        tranche.Tranche
	price     *big.Int
	epochs    []*Info
	shares    *big.Int
	amount    *big.Int
	nextIndex int
}

func newTrancheRun(id tranche.Tranche, in TrancheInput) *trancheRun {
	epochs := make([]*Info, len(in.Pending))
	for i, info := range in.Pending {
		epochs[i] = info.Clone()
	}
	return &trancheRun{
		id:     id,
		price:  copyBigInt(in.Price),
		epochs: epochs,
		shares: big.NewInt(0),
		amount: big.NewInt(0),
	}
}

func (t *trancheRun) outcome() TrancheOutcome {
	return TrancheOutcome{Epochs: t.epochs, SharesProcessed: t.shares, AmountProcessed: t.amount}
}

// unmetDemand values the still-unfilled shares at the current price.
func (t *trancheRun) unmetDemand() *big.Int {
	remaining := big.NewInt(0)
	for _, info := range t.epochs {
		remaining.Add(remaining, info.RemainingShares())
	}
	remaining.Mul(remaining, t.price)
	return remaining.Quo(remaining, Ray)
}

// fill processes t's epochs with id <= limit, FIFO, within the run's
// remaining liquidity and, for the junior tranche, within the leverage cap.
func (r *settleRun) fill(t *trancheRun, limit uint64) {
	var capRemaining *big.Int
	if t.id == tranche.Junior {
		capRemaining = r.juniorCap()
	}
	for ; t.nextIndex < len(t.epochs); t.nextIndex++ {
		info := t.epochs[t.nextIndex]
		if info.ID > limit {
			return
		}
		remaining := info.RemainingShares()
		if remaining.Sign() == 0 {
			continue
		}

		// A zero price means the tranche was wiped out: retire the shares in
		// full for nothing owed so the queue cannot wedge.
		if t.price.Sign() == 0 {
			info.SharesProcessed = new(big.Int).Add(copyBigInt(info.SharesProcessed), remaining)
			t.shares.Add(t.shares, remaining)
			continue
		}

		budget := copyBigInt(r.available)
		if capRemaining != nil {
			budget = minBigInt(budget, capRemaining)
		}
		if budget.Sign() == 0 {
			return
		}
		maxShares := new(big.Int).Mul(budget, Ray)
		maxShares.Quo(maxShares, t.price)
		shares := minBigInt(remaining, maxShares)
		if shares.Sign() == 0 {
			// Liquidity left is worth less than one share.
			return
		}
		amount := new(big.Int).Mul(shares, t.price)
		amount.Quo(amount, Ray)

		info.SharesProcessed = new(big.Int).Add(copyBigInt(info.SharesProcessed), shares)
		info.AmountProcessed = new(big.Int).Add(copyBigInt(info.AmountProcessed), amount)
		t.shares.Add(t.shares, shares)
		t.amount.Add(t.amount, amount)
		r.available.Sub(r.available, amount)
		if capRemaining != nil {
			capRemaining.Sub(capRemaining, amount)
		}
		newBalance := new(big.Int).Sub(r.assets.Of(t.id), amount)
		r.assets.Set(t.id, newBalance)

		if info.RemainingShares().Sign() > 0 {
			// Budget exhausted inside this epoch.
			return
		}
	}
}

// juniorCap returns how much junior value may leave the pool before the
// senior:junior leverage bound would break. Senior assets are taken as
// already reduced by this close's senior fills.
func (r *settleRun) juniorCap() *big.Int {
	minJunior := new(big.Int).Mul(r.assets.Of(tranche.Senior), basisPoints)
	minJunior = ceilDiv(minJunior, r.ratioBps)
	cap := new(big.Int).Sub(r.assets.Of(tranche.Junior), minJunior)
	if cap.Sign() < 0 {
		return big.NewInt(0)
	}
	return cap
}
