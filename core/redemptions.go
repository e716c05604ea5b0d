package core

import (
	"math/big"

	"capstack/core/events"
	"capstack/crypto"
	"capstack/epoch"
	"capstack/tranche"
	"capstack/vault"
)

// AddRedemptionRequest queues shares for redemption in the current epoch.
// The shares move to the vault escrow immediately so the lender cannot spend
// them while queued.
func (p *Pool) AddRedemptionRequest(t tranche.Tranche, lender crypto.Address, shares *big.Int) (*epoch.Info, error) {
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
	info, err := p.ledger.AddRedemptionRequest(t, lender, shares, current)
	if err != nil {
		return nil, err
	}
	if err := p.record(events.RedemptionRequested{
		Tranche: t,
		Lender:  lender,
		Shares:  shares,
		EpochID: current,
	}); err != nil {
		return nil, err
	}
	if err := p.state.Commit(); err != nil {
		return nil, err
	}
	p.flush()
	return info, nil
}

// CancelRedemptionRequest returns queued shares to the lender. Only the
// lender's most recent request is cancellable, and only while its epoch is
// still the open one.
func (p *Pool) CancelRedemptionRequest(t tranche.Tranche, lender crypto.Address, shares *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(); err != nil {
		return err
	}
	defer p.state.Discard()

	current, err := p.state.CurrentEpoch()
	if err != nil {
		return err
	}
	if err := p.ledger.CancelRedemptionRequest(t, lender, shares, current); err != nil {
		return err
	}
	if err := p.record(events.RedemptionCancelled{
		Tranche: t,
		Lender:  lender,
		Shares:  shares,
		EpochID: current,
	}); err != nil {
		return err
	}
	if err := p.state.Commit(); err != nil {
		return err
	}
	p.flush()
	return nil
}

// Withdrawable returns the amount the lender could disburse right now
// without changing any state.
func (p *Pool) Withdrawable(t tranche.Tranche, lender crypto.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	current, err := p.state.CurrentEpoch()
	if err != nil {
		return nil, err
	}
	return p.ledger.Withdrawable(t, lender, current)
}

// Disburse pays out everything the lender's settled requests have earned and
// advances the disbursement cursor. The cash moves from the redemption
// escrow to the lender's account in the same commit. Disbursing with nothing
// settled is a harmless no-op.
func (p *Pool) Disburse(t tranche.Tranche, lender crypto.Address) (*vault.Disbursement, error) {
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
	disbursed, err := p.ledger.Disburse(t, lender, current)
	if err != nil {
		return nil, err
	}
	if disbursed.Amount.Sign() > 0 {
		if err := p.state.MoveFunds(escrowAccount, lender, disbursed.Amount); err != nil {
			return nil, err
		}
		if err := p.record(events.RedemptionDisbursed{
			Tranche: t,
			Lender:  lender,
			Shares:  disbursed.Shares,
			Amount:  disbursed.Amount,
		}); err != nil {
			return nil, err
		}
	}
	if err := p.state.Commit(); err != nil {
		return nil, err
	}
	p.flush()
	return disbursed, nil
}

// RedemptionStatus returns the lender's queued requests, cursor position,
// and currently withdrawable amount.
func (p *Pool) RedemptionStatus(t tranche.Tranche, lender crypto.Address) (*vault.RedemptionStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	current, err := p.state.CurrentEpoch()
	if err != nil {
		return nil, err
	}
	return p.ledger.Status(t, lender, current)
}
