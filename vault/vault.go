// Package vault keeps the per-tranche redemption ledger: who asked to
// redeem how many shares in which epoch, what the epoch settlements paid,
// and how much of that each lender has already collected. Aggregate demand
// lives in shared epoch records; per-lender positions are reconstructed
// pro-rata from them, so settlement cost does not scale with lender count.
package vault

import (
	"errors"
	"math/big"

	"capstack/crypto"
	"capstack/epoch"
	"capstack/tranche"
)

var (
	ErrNilState          = errors.New("vault: state not configured")
	ErrInvalidShares     = errors.New("vault: shares must be positive")
	ErrNoRequest         = errors.New("vault: no redemption request")
	ErrCancelNotCurrent  = errors.New("vault: only the current epoch request can be cancelled")
	ErrCancelExceeds     = errors.New("vault: cancellation exceeds requested shares")
	errMissingEpoch      = errors.New("vault: missing epoch record")
	errInconsistentEpoch = errors.New("vault: epoch record inconsistent with pending set")
)

// RedemptionRequest is one lender's demand within a single epoch.
type RedemptionRequest struct {
	EpochID uint64
	Shares  *big.Int
}

func (r RedemptionRequest) clone() RedemptionRequest {
	return RedemptionRequest{EpochID: r.EpochID, Shares: copyBigInt(r.Shares)}
}

// DisbursementCursor marks how far a lender's requests have been paid out.
// Everything before NextIndex is settled and collected; PartialShares and
// PartialAmount are the already-collected slice of the request at NextIndex
// when its epoch has been filled across several closes.
type DisbursementCursor struct {
	NextIndex     uint64
	PartialShares *big.Int
	PartialAmount *big.Int
}

func (c DisbursementCursor) clone() DisbursementCursor {
	return DisbursementCursor{
		NextIndex:     c.NextIndex,
		PartialShares: copyBigInt(c.PartialShares),
		PartialAmount: copyBigInt(c.PartialAmount),
	}
}

// LenderRecord is the full redemption position of one lender in one tranche.
type LenderRecord struct {
	Requests []RedemptionRequest
	Cursor   DisbursementCursor
}

func (r *LenderRecord) Clone() *LenderRecord {
	if r == nil {
		return nil
	}
	out := &LenderRecord{
		Requests: make([]RedemptionRequest, len(r.Requests)),
		Cursor:   r.Cursor.clone(),
	}
	for i, req := range r.Requests {
		out.Requests[i] = req.clone()
	}
	return out
}

// State is the persistence surface the ledger operates on. Epoch records
// outlive their pending-set membership: fulfilled epochs stay readable for
// lender reconstruction, only the pending id list forgets them.
type State interface {
	RedemptionEpoch(t tranche.Tranche, id uint64) (*epoch.Info, error)
	PutRedemptionEpoch(t tranche.Tranche, info *epoch.Info) error
	DeleteRedemptionEpoch(t tranche.Tranche, id uint64) error
	PendingEpochIDs(t tranche.Tranche) ([]uint64, error)
	SetPendingEpochIDs(t tranche.Tranche, ids []uint64) error
	LenderRecord(t tranche.Tranche, lender crypto.Address) (*LenderRecord, error)
	PutLenderRecord(t tranche.Tranche, lender crypto.Address, rec *LenderRecord) error
}

// ShareLedger moves tranche shares between lenders and the vault escrow.
type ShareLedger interface {
	TotalSupply(t tranche.Tranche) (*big.Int, error)
	BalanceOf(t tranche.Tranche, addr crypto.Address) (*big.Int, error)
	Transfer(t tranche.Tranche, from, to crypto.Address, amount *big.Int) error
	Mint(t tranche.Tranche, to crypto.Address, amount *big.Int) error
	Burn(t tranche.Tranche, from crypto.Address, amount *big.Int) error
}

// Ledger is the redemption ledger engine for both tranches.
type Ledger struct {
	state  State
	shares ShareLedger
	escrow crypto.Address
}

func NewLedger(state State, shares ShareLedger, escrow crypto.Address) *Ledger {
	return &Ledger{state: state, shares: shares, escrow: escrow}
}

// Escrow returns the address holding shares queued for redemption.
func (l *Ledger) Escrow() crypto.Address {
	return l.escrow
}

func (l *Ledger) guard(t tranche.Tranche) error {
	if l == nil || l.state == nil || l.shares == nil {
		return ErrNilState
	}
	if !t.Valid() {
		return errors.New("vault: unknown tranche")
	}
	return nil
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
