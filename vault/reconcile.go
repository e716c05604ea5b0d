package vault

import (
	"math/big"

	"capstack/crypto"
	"capstack/epoch"
	"capstack/tranche"
)

// settledView is the result of reconciling a lender against the epoch
// records: the amount and shares newly collectable since the cursor, and the
// cursor that would mark all of it as collected.
type settledView struct {
	Amount *big.Int
	Shares *big.Int
	Cursor DisbursementCursor
}

// reconcile walks the lender's requests from the cursor forward. Requests in
// epochs older than the first still-open epoch are fully settled: their
// pro-rata amount (minus any partial baseline) is credited and the cursor
// advances past them. The walk stops at the first request whose epoch is
// still open; if that epoch has been partially filled, its pro-rata portion
// is credited and remembered as the new partial baseline. Requests beyond
// the stop point are in even newer epochs and cannot be resolved yet.
func (l *Ledger) reconcile(t tranche.Tranche, rec *LenderRecord, firstOpen uint64) (*settledView, error) {
	cur := rec.Cursor.clone()
	amount := big.NewInt(0)
	shares := big.NewInt(0)

	for i := cur.NextIndex; i < uint64(len(rec.Requests)); i++ {
		req := rec.Requests[i]
		info, err := l.state.RedemptionEpoch(t, req.EpochID)
		if err != nil {
			return nil, err
		}
		if info == nil {
			return nil, errMissingEpoch
		}

		if req.EpochID < firstOpen {
			if info.State() != epoch.StateFulfilled {
				return nil, errInconsistentEpoch
			}
			proShares, proAmount := prorate(req.Shares, info)
			amount.Add(amount, new(big.Int).Sub(proAmount, copyBigInt(cur.PartialAmount)))
			shares.Add(shares, new(big.Int).Sub(proShares, copyBigInt(cur.PartialShares)))
			cur.NextIndex = i + 1
			cur.PartialShares = big.NewInt(0)
			cur.PartialAmount = big.NewInt(0)
			continue
		}

		if req.EpochID == firstOpen && copyBigInt(info.SharesProcessed).Sign() > 0 {
			proShares, proAmount := prorate(req.Shares, info)
			amount.Add(amount, new(big.Int).Sub(proAmount, copyBigInt(cur.PartialAmount)))
			shares.Add(shares, new(big.Int).Sub(proShares, copyBigInt(cur.PartialShares)))
			cur.PartialShares = proShares
			cur.PartialAmount = proAmount
		}
		break
	}
	return &settledView{Amount: amount, Shares: shares, Cursor: cur}, nil
}

// prorate computes the lender's share of an epoch's processed fills, floor
// division against the frozen aggregate demand.
func prorate(lenderShares *big.Int, info *epoch.Info) (*big.Int, *big.Int) {
	requested := copyBigInt(info.SharesRequested)
	if requested.Sign() == 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	shares := new(big.Int).Mul(copyBigInt(lenderShares), copyBigInt(info.SharesProcessed))
	shares.Quo(shares, requested)
	amount := new(big.Int).Mul(copyBigInt(lenderShares), copyBigInt(info.AmountProcessed))
	amount.Quo(amount, requested)
	return shares, amount
}

// firstOpenEpoch is the oldest unfulfilled epoch, or the current epoch when
// nothing is pending.
func (l *Ledger) firstOpenEpoch(t tranche.Tranche, currentEpoch uint64) (uint64, error) {
	ids, err := l.state.PendingEpochIDs(t)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return currentEpoch, nil
	}
	return ids[0], nil
}

// Withdrawable reports the amount a disbursement would pay the lender right
// now. Pure: the advanced cursor is computed and discarded.
func (l *Ledger) Withdrawable(t tranche.Tranche, lender crypto.Address, currentEpoch uint64) (*big.Int, error) {
	if err := l.guard(t); err != nil {
		return nil, err
	}
	rec, err := l.state.LenderRecord(t, lender)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return big.NewInt(0), nil
	}
	firstOpen, err := l.firstOpenEpoch(t, currentEpoch)
	if err != nil {
		return nil, err
	}
	view, err := l.reconcile(t, rec, firstOpen)
	if err != nil {
		return nil, err
	}
	return view.Amount, nil
}

// Disbursement is the committed result of a payout: the amount owed, the
// share count it represents, and whether anything moved at all.
type Disbursement struct {
	Amount *big.Int
	Shares *big.Int
}

// Disburse reconciles the lender and commits the advanced cursor. The
// returned amount is exactly what Withdrawable reported; paying it out of
// the redemption escrow is the caller's half of the operation, kept inside
// the same atomic commit. A second disburse with no new settlements pays
// zero and changes nothing.
func (l *Ledger) Disburse(t tranche.Tranche, lender crypto.Address, currentEpoch uint64) (*Disbursement, error) {
	if err := l.guard(t); err != nil {
		return nil, err
	}
	rec, err := l.state.LenderRecord(t, lender)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNoRequest
	}
	firstOpen, err := l.firstOpenEpoch(t, currentEpoch)
	if err != nil {
		return nil, err
	}
	view, err := l.reconcile(t, rec, firstOpen)
	if err != nil {
		return nil, err
	}
	if view.Amount.Sign() == 0 && view.Shares.Sign() == 0 {
		return &Disbursement{Amount: big.NewInt(0), Shares: big.NewInt(0)}, nil
	}
	updated := rec.Clone()
	updated.Cursor = view.Cursor
	if err := l.state.PutLenderRecord(t, lender, updated); err != nil {
		return nil, err
	}
	return &Disbursement{Amount: view.Amount, Shares: view.Shares}, nil
}

// RedemptionStatus is a lender's queue position for RPC inspection.
type RedemptionStatus struct {
	Requests     []RedemptionRequest
	Cursor       DisbursementCursor
	Withdrawable *big.Int
}

// Status reports the lender's open requests and collectable amount.
func (l *Ledger) Status(t tranche.Tranche, lender crypto.Address, currentEpoch uint64) (*RedemptionStatus, error) {
	if err := l.guard(t); err != nil {
		return nil, err
	}
	rec, err := l.state.LenderRecord(t, lender)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &RedemptionStatus{Withdrawable: big.NewInt(0)}, nil
	}
	firstOpen, err := l.firstOpenEpoch(t, currentEpoch)
	if err != nil {
		return nil, err
	}
	view, err := l.reconcile(t, rec, firstOpen)
	if err != nil {
		return nil, err
	}
	snapshot := rec.Clone()
	return &RedemptionStatus{
		Requests:     snapshot.Requests,
		Cursor:       snapshot.Cursor,
		Withdrawable: view.Amount,
	}, nil
}
