package core

import (
	"errors"
	"math/big"

	"capstack/core/events"
	"capstack/crypto"
	"capstack/tranche"
)

// ErrReservedLiquidity rejects reserve withdrawals that would dip into the
// cash earmarked for the next settlement.
var ErrReservedLiquidity = errors.New("pool: withdrawal would break the redemption reservation")

// FundReserve books external cash arriving on the reserve account, typically
// principal flowing back from the credit side.
func (p *Pool) FundReserve(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !tranche.FitsAmount(amount) {
		return tranche.ErrAmountOverflow
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(); err != nil {
		return err
	}
	defer p.state.Discard()

	if err := p.state.Credit(reserveAccount, amount); err != nil {
		return err
	}
	if err := p.record(events.ReserveFunded{Amount: amount}); err != nil {
		return err
	}
	if err := p.state.Commit(); err != nil {
		return err
	}
	p.flush()
	return nil
}

// WithdrawReserve deploys reserve cash to the destination account, typically
// a credit facility. The withdrawal may never cut into the reservation
// target recorded at the last epoch close; that cash belongs to the queued
// redemptions.
func (p *Pool) WithdrawReserve(to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !tranche.FitsAmount(amount) {
		return tranche.ErrAmountOverflow
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(); err != nil {
		return err
	}
	defer p.state.Discard()

	balance, err := p.state.Balance(reserveAccount)
	if err != nil {
		return err
	}
	target, err := p.state.ReservationTarget()
	if err != nil {
		return err
	}
	remaining := new(big.Int).Sub(balance, amount)
	if remaining.Sign() < 0 || remaining.Cmp(target) < 0 {
		return ErrReservedLiquidity
	}
	if err := p.state.MoveFunds(reserveAccount, to, amount); err != nil {
		return err
	}
	if err := p.record(events.ReserveWithdrawn{To: to, Amount: amount}); err != nil {
		return err
	}
	if err := p.state.Commit(); err != nil {
		return err
	}
	p.flush()
	return nil
}
