package vault

import (
	"fmt"
	"math/big"

	"capstack/crypto"
	"capstack/epoch"
	"capstack/tranche"
)

// AddRedemptionRequest queues shares for redemption in the current epoch.
// The shares move from the lender into the vault escrow immediately; demand
// is booked against the current epoch's aggregate and the lender's own
// request list (merging with an existing current-epoch request).
func (l *Ledger) AddRedemptionRequest(t tranche.Tranche, lender crypto.Address, shares *big.Int, currentEpoch uint64) (*epoch.Info, error) {
	if err := l.guard(t); err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidShares
	}
	if err := l.shares.Transfer(t, lender, l.escrow, shares); err != nil {
		return nil, fmt.Errorf("escrow shares: %w", err)
	}

	info, err := l.state.RedemptionEpoch(t, currentEpoch)
	if err != nil {
		return nil, err
	}
	if info == nil {
		info = epoch.NewInfo(currentEpoch)
		ids, err := l.state.PendingEpochIDs(t)
		if err != nil {
			return nil, err
		}
		if err := l.state.SetPendingEpochIDs(t, append(ids, currentEpoch)); err != nil {
			return nil, err
		}
	} else {
		info = info.Clone()
	}
	info.SharesRequested = new(big.Int).Add(copyBigInt(info.SharesRequested), shares)
	if !tranche.FitsAmount(info.SharesRequested) {
		return nil, tranche.ErrAmountOverflow
	}
	if err := l.state.PutRedemptionEpoch(t, info); err != nil {
		return nil, err
	}

	rec, err := l.state.LenderRecord(t, lender)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &LenderRecord{Cursor: DisbursementCursor{PartialShares: big.NewInt(0), PartialAmount: big.NewInt(0)}}
	} else {
		rec = rec.Clone()
	}
	if n := len(rec.Requests); n > 0 && rec.Requests[n-1].EpochID == currentEpoch {
		rec.Requests[n-1].Shares = new(big.Int).Add(rec.Requests[n-1].Shares, shares)
	} else {
		rec.Requests = append(rec.Requests, RedemptionRequest{EpochID: currentEpoch, Shares: copyBigInt(shares)})
	}
	if err := l.state.PutLenderRecord(t, lender, rec); err != nil {
		return nil, err
	}
	return info, nil
}

// CancelRedemptionRequest takes shares back out of the queue. Only the
// lender's most recent request can shrink, and only while its epoch is still
// the open one; settled or older demand is history. A full cancellation
// removes the request, and an epoch whose aggregate drops to zero disappears
// from the pending set entirely.
func (l *Ledger) CancelRedemptionRequest(t tranche.Tranche, lender crypto.Address, shares *big.Int, currentEpoch uint64) error {
	if err := l.guard(t); err != nil {
		return err
	}
	if shares == nil || shares.Sign() <= 0 {
		return ErrInvalidShares
	}
	rec, err := l.state.LenderRecord(t, lender)
	if err != nil {
		return err
	}
	if rec == nil || len(rec.Requests) == 0 {
		return ErrNoRequest
	}
	rec = rec.Clone()
	last := &rec.Requests[len(rec.Requests)-1]
	if last.EpochID != currentEpoch {
		return ErrCancelNotCurrent
	}
	if shares.Cmp(last.Shares) > 0 {
		return ErrCancelExceeds
	}

	info, err := l.state.RedemptionEpoch(t, currentEpoch)
	if err != nil {
		return err
	}
	if info == nil {
		return errMissingEpoch
	}
	info = info.Clone()
	info.SharesRequested = new(big.Int).Sub(copyBigInt(info.SharesRequested), shares)
	if info.SharesRequested.Sign() < 0 {
		return errInconsistentEpoch
	}

	if err := l.shares.Transfer(t, l.escrow, lender, shares); err != nil {
		return fmt.Errorf("release escrowed shares: %w", err)
	}

	last.Shares = new(big.Int).Sub(last.Shares, shares)
	if last.Shares.Sign() == 0 {
		rec.Requests = rec.Requests[:len(rec.Requests)-1]
	}
	if err := l.state.PutLenderRecord(t, lender, rec); err != nil {
		return err
	}

	if info.SharesRequested.Sign() == 0 {
		if err := l.state.DeleteRedemptionEpoch(t, currentEpoch); err != nil {
			return err
		}
		ids, err := l.state.PendingEpochIDs(t)
		if err != nil {
			return err
		}
		if err := l.state.SetPendingEpochIDs(t, removeID(ids, currentEpoch)); err != nil {
			return err
		}
		return nil
	}
	return l.state.PutRedemptionEpoch(t, info)
}

// PendingEpochs loads the unfulfilled epoch records oldest first.
func (l *Ledger) PendingEpochs(t tranche.Tranche) ([]*epoch.Info, error) {
	if err := l.guard(t); err != nil {
		return nil, err
	}
	ids, err := l.state.PendingEpochIDs(t)
	if err != nil {
		return nil, err
	}
	infos := make([]*epoch.Info, 0, len(ids))
	for _, id := range ids {
		info, err := l.state.RedemptionEpoch(t, id)
		if err != nil {
			return nil, err
		}
		if info == nil {
			return nil, errMissingEpoch
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ApplySettlement pushes the epoch-close result into the ledger: updated
// epoch records are persisted, fulfilled ones leave the pending set, and the
// shares retired by the settlement burn out of the escrow.
func (l *Ledger) ApplySettlement(t tranche.Tranche, updated []*epoch.Info, sharesProcessed *big.Int) error {
	if err := l.guard(t); err != nil {
		return err
	}
	ids, err := l.state.PendingEpochIDs(t)
	if err != nil {
		return err
	}
	for _, info := range updated {
		if !containsID(ids, info.ID) {
			return errInconsistentEpoch
		}
		if err := l.state.PutRedemptionEpoch(t, info.Clone()); err != nil {
			return err
		}
		if info.State() == epoch.StateFulfilled {
			ids = removeID(ids, info.ID)
		}
	}
	if err := l.state.SetPendingEpochIDs(t, ids); err != nil {
		return err
	}
	if sharesProcessed != nil && sharesProcessed.Sign() > 0 {
		if err := l.shares.Burn(t, l.escrow, sharesProcessed); err != nil {
			return fmt.Errorf("burn settled shares: %w", err)
		}
	}
	return nil
}

func removeID(ids []uint64, id uint64) []uint64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func containsID(ids []uint64, id uint64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
