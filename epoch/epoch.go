// Package epoch models redemption epochs and computes their settlement.
// Redemption demand accumulates per tranche under the current epoch id;
// closing an epoch fills the queued demand FIFO against reserved liquidity
// at the tranche share price and advances the counter.
package epoch

import (
	"fmt"
	"math/big"
)

// Ray is the fixed-point scale for tranche share prices: a price of Ray
// means one share redeems for exactly one unit of the underlying.
var Ray = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// State classifies how far an epoch's demand has been processed.
type State uint8

const (
	StateOpen State = iota
	StatePartiallyFilled
	StateFulfilled
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StatePartiallyFilled:
		return "partially-filled"
	case StateFulfilled:
		return "fulfilled"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Info is the aggregate redemption record of one tranche-epoch: how many
// shares lenders queued, how many have been retired so far, and the amount
// of underlying those retirements paid in total. Amounts accumulate across
// closes when an epoch is filled in several rounds at different prices.
type Info struct {
	ID              uint64
	SharesRequested *big.Int
	SharesProcessed *big.Int
	AmountProcessed *big.Int
}

func NewInfo(id uint64) *Info {
	return &Info{
		ID:              id,
		SharesRequested: big.NewInt(0),
		SharesProcessed: big.NewInt(0),
		AmountProcessed: big.NewInt(0),
	}
}

func (i *Info) Clone() *Info {
	if i == nil {
		return nil
	}
	return &Info{
		ID:              i.ID,
		SharesRequested: copyBigInt(i.SharesRequested),
		SharesProcessed: copyBigInt(i.SharesProcessed),
		AmountProcessed: copyBigInt(i.AmountProcessed),
	}
}

// State derives the processing state from the share counters.
func (i *Info) State() State {
	requested := copyBigInt(i.SharesRequested)
	processed := copyBigInt(i.SharesProcessed)
	if processed.Sign() == 0 {
		return StateOpen
	}
	if processed.Cmp(requested) < 0 {
		return StatePartiallyFilled
	}
	return StateFulfilled
}

// RemainingShares returns the still unprocessed demand.
func (i *Info) RemainingShares() *big.Int {
	remaining := new(big.Int).Sub(copyBigInt(i.SharesRequested), copyBigInt(i.SharesProcessed))
	if remaining.Sign() < 0 {
		return big.NewInt(0)
	}
	return remaining
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

// ceilDiv divides rounding up. Used for the junior floor so the leverage
// invariant holds exactly after flooring fills.
func ceilDiv(num, den *big.Int) *big.Int {
	out := new(big.Int).Add(num, new(big.Int).Sub(den, big.NewInt(1)))
	return out.Quo(out, den)
}
