package core

import (
	"errors"
	"math/big"

	"capstack/core/events"
	"capstack/crypto"
	"capstack/epoch"
	"capstack/tranche"
)

// ErrEpochNotFound marks lookups of epochs that never received a request.
var ErrEpochNotFound = errors.New("pool: epoch not found")

// CurrentEpoch returns the id of the open redemption epoch.
func (p *Pool) CurrentEpoch() (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.CurrentEpoch()
}

// PendingEpochs returns the tranche's epochs with unfilled demand, oldest
// first.
func (p *Pool) PendingEpochs(t tranche.Tranche) ([]*epoch.Info, error) {
	if !t.Valid() {
		return nil, ErrUnknownTranche
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledger.PendingEpochs(t)
}

// EpochInfo returns the fill record of one epoch, fulfilled ones included.
func (p *Pool) EpochInfo(t tranche.Tranche, id uint64) (*epoch.Info, error) {
	if !t.Valid() {
		return nil, ErrUnknownTranche
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	info, err := p.state.RedemptionEpoch(t, id)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, ErrEpochNotFound
	}
	return info, nil
}

// ShareBalance returns the lender's share balance in the tranche.
func (p *Pool) ShareBalance(t tranche.Tranche, lender crypto.Address) (*big.Int, error) {
	if !t.Valid() {
		return nil, ErrUnknownTranche
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.BalanceOf(t, lender)
}

// AccountBalance returns the cash balance of an account, lender or module.
func (p *Pool) AccountBalance(addr crypto.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Balance(addr)
}

// Events returns up to limit committed events with sequences strictly after
// the cursor. A limit of zero or less means no cap.
func (p *Pool) Events(after uint64, limit int) ([]events.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.EventsAfter(after, limit)
}

// SubscribeEvents returns the backlog after the cursor together with a live
// channel for everything committed afterwards. Backlog and subscription are
// taken under the same lock that publishers hold, so no event can fall into
// the gap between them. The cancel function must be called to release the
// subscription.
func (p *Pool) SubscribeEvents(after uint64, buffer int) ([]events.Record, <-chan events.Record, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	backlog, err := p.state.EventsAfter(after, 0)
	if err != nil {
		return nil, nil, nil, err
	}
	if p.hub == nil {
		p.hub = events.NewHub()
	}
	ch, cancel := p.hub.Subscribe(buffer)
	return backlog, ch, cancel, nil
}
