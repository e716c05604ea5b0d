package core

import (
	"math/big"

	"capstack/core/events"
	"capstack/tranche"
	"capstack/waterfall"
)

// DistributeProfit books gross profit into the pool: the fee collector takes
// its cut, the remainder runs through the policy and cover waterfall, and the
// cash lands on the reserve account. Everything commits atomically or not at
// all.
func (p *Pool) DistributeProfit(gross *big.Int) (*waterfall.ProfitOutcome, error) {
	if gross == nil || gross.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if !tranche.FitsAmount(gross) {
		return nil, tranche.ErrAmountOverflow
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.state.Discard()

	assets, err := p.state.TrancheAssets()
	if err != nil {
		return nil, err
	}
	covers, err := p.state.Covers()
	if err != nil {
		return nil, err
	}
	tracker, err := p.state.YieldTracker()
	if err != nil {
		return nil, err
	}

	fee, err := p.fees.Collect(gross)
	if err != nil {
		return nil, err
	}
	net := new(big.Int).Sub(gross, fee)

	var outcome *waterfall.ProfitOutcome
	if net.Sign() > 0 {
		outcome, err = waterfall.DistributeProfit(net, assets, covers, p.policy, tracker, p.nowFn())
		if err != nil {
			return nil, err
		}
	} else {
		// The fee consumed the whole distribution; assets stay put.
		outcome = &waterfall.ProfitOutcome{
			PoolProfit:   big.NewInt(0),
			SeniorProfit: big.NewInt(0),
			JuniorProfit: big.NewInt(0),
			Assets:       assets.Clone(),
			Covers:       covers,
			Tracker:      tracker,
		}
	}
	if err := checkAssetBounds(outcome.Assets, outcome.Covers); err != nil {
		return nil, err
	}

	if err := p.state.SetTrancheAssets(outcome.Assets); err != nil {
		return nil, err
	}
	if err := p.state.SetCovers(outcome.Covers); err != nil {
		return nil, err
	}
	if err := p.state.SetYieldTracker(outcome.Tracker); err != nil {
		return nil, err
	}
	if err := p.state.Credit(reserveAccount, gross); err != nil {
		return nil, err
	}
	if fee.Sign() > 0 {
		if err := p.state.MoveFunds(reserveAccount, feeAccount, fee); err != nil {
			return nil, err
		}
	}
	if err := p.record(events.ProfitDistributed{
		Gross:          gross,
		PoolProfit:     outcome.PoolProfit,
		SeniorProfit:   outcome.SeniorProfit,
		JuniorProfit:   outcome.JuniorProfit,
		CoverProfit:    sumAmounts(outcome.CoverShares),
		CoverBreakdown: coverBreakdown(outcome.Covers, outcome.CoverShares),
	}); err != nil {
		return nil, err
	}
	if err := p.state.Commit(); err != nil {
		return nil, err
	}
	p.flush()
	return outcome, nil
}

// DistributeLoss writes a credit loss down the capital structure: covers
// absorb first in schedule order, then junior, then senior. A loss past the
// combined capacity is rejected untouched.
func (p *Pool) DistributeLoss(loss *big.Int) (*waterfall.LossOutcome, error) {
	if loss == nil || loss.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if !tranche.FitsAmount(loss) {
		return nil, tranche.ErrAmountOverflow
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.state.Discard()

	assets, err := p.state.TrancheAssets()
	if err != nil {
		return nil, err
	}
	losses, err := p.state.TrancheLosses()
	if err != nil {
		return nil, err
	}
	covers, err := p.state.Covers()
	if err != nil {
		return nil, err
	}

	outcome, err := waterfall.DistributeLoss(loss, assets, losses, covers)
	if err != nil {
		return nil, err
	}
	tracker, err := p.state.YieldTracker()
	if err != nil {
		return nil, err
	}
	tracker, err = p.policy.Resync(outcome.Assets, tracker, p.nowFn())
	if err != nil {
		return nil, err
	}

	if err := p.state.SetTrancheAssets(outcome.Assets); err != nil {
		return nil, err
	}
	if err := p.state.SetTrancheLosses(outcome.Losses); err != nil {
		return nil, err
	}
	if err := p.state.SetCovers(outcome.Covers); err != nil {
		return nil, err
	}
	if err := p.state.SetYieldTracker(tracker); err != nil {
		return nil, err
	}
	if err := p.record(events.LossDistributed{
		Loss:           loss,
		SeniorLoss:     outcome.SeniorLoss,
		JuniorLoss:     outcome.JuniorLoss,
		CoverAbsorbed:  sumAmounts(outcome.CoverAbsorbed),
		CoverBreakdown: coverBreakdown(outcome.Covers, outcome.CoverAbsorbed),
	}); err != nil {
		return nil, err
	}
	if err := p.state.Commit(); err != nil {
		return nil, err
	}
	p.flush()
	return outcome, nil
}

// DistributeLossRecovery books recovered funds against recorded losses in
// reverse loss order: senior first, then junior, then the covers from the
// back of the schedule. The recovered cash lands on the reserve account.
func (p *Pool) DistributeLossRecovery(recovery *big.Int) (*waterfall.RecoveryOutcome, error) {
	if recovery == nil || recovery.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if !tranche.FitsAmount(recovery) {
		return nil, tranche.ErrAmountOverflow
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.state.Discard()

	assets, err := p.state.TrancheAssets()
	if err != nil {
		return nil, err
	}
	losses, err := p.state.TrancheLosses()
	if err != nil {
		return nil, err
	}
	covers, err := p.state.Covers()
	if err != nil {
		return nil, err
	}

	outcome, err := waterfall.DistributeLossRecovery(recovery, assets, losses, covers)
	if err != nil {
		return nil, err
	}
	if err := checkAssetBounds(outcome.Assets, outcome.Covers); err != nil {
		return nil, err
	}
	tracker, err := p.state.YieldTracker()
	if err != nil {
		return nil, err
	}
	tracker, err = p.policy.Resync(outcome.Assets, tracker, p.nowFn())
	if err != nil {
		return nil, err
	}

	if err := p.state.SetTrancheAssets(outcome.Assets); err != nil {
		return nil, err
	}
	if err := p.state.SetTrancheLosses(outcome.Losses); err != nil {
		return nil, err
	}
	if err := p.state.SetCovers(outcome.Covers); err != nil {
		return nil, err
	}
	if err := p.state.SetYieldTracker(tracker); err != nil {
		return nil, err
	}
	if err := p.state.Credit(reserveAccount, recovery); err != nil {
		return nil, err
	}
	if err := p.record(events.LossRecovered{
		Recovery:        recovery,
		SeniorRecovered: outcome.SeniorRecovered,
		JuniorRecovered: outcome.JuniorRecovered,
		CoverRecovered:  sumAmounts(outcome.CoverRecovered),
		CoverBreakdown:  coverBreakdown(outcome.Covers, outcome.CoverRecovered),
	}); err != nil {
		return nil, err
	}
	if err := p.state.Commit(); err != nil {
		return nil, err
	}
	p.flush()
	return outcome, nil
}
