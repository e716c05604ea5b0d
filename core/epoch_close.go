package core

import (
	"math/big"

	"capstack/core/events"
	"capstack/epoch"
	"capstack/tranche"
)

// CloseReport describes one epoch close: the settled epoch id, the share
// prices used, and the settlement outcome.
type CloseReport struct {
	EpochID     uint64
	SeniorPrice *big.Int
	JuniorPrice *big.Int
	Outcome     *epoch.Outcome
}

// CloseEpoch settles queued redemption demand against the reserve at current
// share prices and opens the next epoch. Fills burn the escrowed shares,
// shrink the tranche assets, and move the paid amounts onto the redemption
// escrow account for later disbursement. When demand is queued but the
// reserve is empty the close aborts and the epoch stays open.
func (p *Pool) CloseEpoch() (*CloseReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.state.Discard()

	current, err := p.state.CurrentEpoch()
	if err != nil {
		return nil, err
	}
	seniorPending, err := p.ledger.PendingEpochs(tranche.Senior)
	if err != nil {
		return nil, err
	}
	juniorPending, err := p.ledger.PendingEpochs(tranche.Junior)
	if err != nil {
		return nil, err
	}
	assets, err := p.state.TrancheAssets()
	if err != nil {
		return nil, err
	}
	seniorPrice, err := p.sharePrice(tranche.Senior, assets)
	if err != nil {
		return nil, err
	}
	juniorPrice, err := p.sharePrice(tranche.Junior, assets)
	if err != nil {
		return nil, err
	}
	available, err := p.state.Balance(reserveAccount)
	if err != nil {
		return nil, err
	}
	if available.Sign() == 0 && len(seniorPending)+len(juniorPending) > 0 {
		return nil, ErrNoLiquidity
	}

	outcome, err := epoch.Settle(epoch.SettleInput{
		CurrentEpoch:            current,
		FlexWindow:              p.flexWindow,
		MaxSeniorJuniorRatioBps: p.ratioBps,
		Available:               available,
		Assets:                  assets,
		Senior:                  epoch.TrancheInput{Price: seniorPrice, Pending: seniorPending},
		Junior:                  epoch.TrancheInput{Price: juniorPrice, Pending: juniorPending},
	})
	if err != nil {
		return nil, err
	}

	if err := p.state.SetTrancheAssets(outcome.Assets); err != nil {
		return nil, err
	}
	if err := p.ledger.ApplySettlement(tranche.Senior, outcome.Senior.Epochs, outcome.Senior.SharesProcessed); err != nil {
		return nil, err
	}
	if err := p.ledger.ApplySettlement(tranche.Junior, outcome.Junior.Epochs, outcome.Junior.SharesProcessed); err != nil {
		return nil, err
	}
	moved := new(big.Int).Add(outcome.Senior.AmountProcessed, outcome.Junior.AmountProcessed)
	if moved.Sign() > 0 {
		if err := p.state.MoveFunds(reserveAccount, escrowAccount, moved); err != nil {
			return nil, err
		}
	}
	tracker, err := p.state.YieldTracker()
	if err != nil {
		return nil, err
	}
	tracker, err = p.policy.Resync(outcome.Assets, tracker, p.nowFn())
	if err != nil {
		return nil, err
	}
	if err := p.state.SetYieldTracker(tracker); err != nil {
		return nil, err
	}
	if err := p.state.SetReservationTarget(outcome.UnmetDemand); err != nil {
		return nil, err
	}
	if err := p.state.SetCurrentEpoch(current + 1); err != nil {
		return nil, err
	}
	if err := p.record(events.EpochClosed{
		EpochID:      current,
		SeniorShares: outcome.Senior.SharesProcessed,
		SeniorAmount: outcome.Senior.AmountProcessed,
		JuniorShares: outcome.Junior.SharesProcessed,
		JuniorAmount: outcome.Junior.AmountProcessed,
		UnmetDemand:  outcome.UnmetDemand,
		SeniorPrice:  seniorPrice,
		JuniorPrice:  juniorPrice,
	}); err != nil {
		return nil, err
	}
	if err := p.state.Commit(); err != nil {
		return nil, err
	}
	p.flush()
	return &CloseReport{
		EpochID:     current,
		SeniorPrice: seniorPrice,
		JuniorPrice: juniorPrice,
		Outcome:     outcome,
	}, nil
}
