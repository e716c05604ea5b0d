package core

import (
	"errors"
	"math/big"

	"capstack/core/events"
	"capstack/crypto"
	"capstack/tranche"
)

var (
	ErrUnknownTranche  = errors.New("pool: unknown tranche")
	ErrDepositTooSmall = errors.New("pool: deposit too small to mint a share")
)

// DepositReceipt reports the shares minted for a deposit.
type DepositReceipt struct {
	Tranche tranche.Tranche
	Lender  crypto.Address
	Amount  *big.Int
	Shares  *big.Int
}

// Deposit adds lender capital to a tranche at the current share price and
// mints shares for it. An empty share book mints one share per unit. Senior
// deposits must keep the structure inside the configured leverage ratio so a
// deposit can never manufacture senior exposure the junior side cannot carry.
func (p *Pool) Deposit(t tranche.Tranche, lender crypto.Address, amount *big.Int) (*DepositReceipt, error) {
	if !t.Valid() {
		return nil, ErrUnknownTranche
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if !tranche.FitsAmount(amount) {
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
	supply, err := p.state.TotalSupply(t)
	if err != nil {
		return nil, err
	}

	var shares *big.Int
	if supply.Sign() == 0 || assets.Of(t).Sign() == 0 {
		shares = new(big.Int).Set(amount)
	} else {
		shares = new(big.Int).Mul(amount, supply)
		shares.Quo(shares, assets.Of(t))
	}
	if shares.Sign() == 0 {
		return nil, ErrDepositTooSmall
	}

	value := new(big.Int).Add(assets.Of(t), amount)
	if !tranche.FitsAmount(value) {
		return nil, tranche.ErrAmountOverflow
	}
	if t == tranche.Senior {
		// seniorAssets * 10000 <= juniorAssets * ratio must hold after
		// the deposit.
		lhs := new(big.Int).Mul(value, basisPoints)
		rhs := new(big.Int).Mul(assets.Junior, new(big.Int).SetUint64(p.ratioBps))
		if lhs.Cmp(rhs) > 0 {
			return nil, ErrSeniorCapExceeded
		}
	}
	assets.Set(t, value)

	if err := p.state.SetTrancheAssets(assets); err != nil {
		return nil, err
	}
	if err := p.state.Mint(t, lender, shares); err != nil {
		return nil, err
	}
	if err := p.state.Credit(reserveAccount, amount); err != nil {
		return nil, err
	}
	if t == tranche.Senior {
		tracker, err := p.state.YieldTracker()
		if err != nil {
			return nil, err
		}
		tracker, err = p.policy.Resync(assets, tracker, p.nowFn())
		if err != nil {
			return nil, err
		}
		if err := p.state.SetYieldTracker(tracker); err != nil {
			return nil, err
		}
	}
	if err := p.record(events.TrancheDeposit{
		Tranche: t,
		Lender:  lender,
		Amount:  amount,
		Shares:  shares,
	}); err != nil {
		return nil, err
	}
	if err := p.state.Commit(); err != nil {
		return nil, err
	}
	p.flush()
	return &DepositReceipt{
		Tranche: t,
		Lender:  lender,
		Amount:  new(big.Int).Set(amount),
		Shares:  shares,
	}, nil
}
