package state

import (
	"math/big"
	"sort"

	"capstack/core/events"
	"capstack/cover"
	"capstack/epoch"
	"capstack/tranche"
	"capstack/vault"
)

// Stored records mirror the in-memory types field for field. RLP refuses nil
// big.Int pointers and maps, so conversions normalise amounts and flatten
// attribute maps into sorted key/value slices.

type assetsRecord struct {
	Senior *big.Int
	Junior *big.Int
}

type lossesRecord struct {
	Senior *big.Int
	Junior *big.Int
}

type coverRecord struct {
	Name                   string
	Assets                 *big.Int
	CoveredLoss            *big.Int
	RiskYieldMultiplierBps uint64
	CoverRateBps           uint64
	CoverCap               *big.Int
}

type coverListRecord struct {
	Covers []coverRecord
}

type trackerRecord struct {
	TotalAssets    *big.Int
	UnpaidYield    *big.Int
	LastUpdatedDay uint64
}

type epochInfoRecord struct {
	ID              uint64
	SharesRequested *big.Int
	SharesProcessed *big.Int
	AmountProcessed *big.Int
}

type pendingEpochsRecord struct {
	IDs []uint64
}

type redemptionRequestRecord struct {
	EpochID uint64
	Shares  *big.Int
}

type cursorRecord struct {
	NextIndex     uint64
	PartialShares *big.Int
	PartialAmount *big.Int
}

type lenderStateRecord struct {
	Requests []redemptionRequestRecord
	Cursor   cursorRecord
}

type eventRecord struct {
	Sequence uint64
	Type     string
	Keys     []string
	Values   []string
}

func storedAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func newAssetsRecord(a tranche.Assets) assetsRecord {
	return assetsRecord{Senior: storedAmount(a.Senior), Junior: storedAmount(a.Junior)}
}

func (r assetsRecord) assets() tranche.Assets {
	return tranche.NewAssets(r.Senior, r.Junior)
}

func newLossesRecord(l tranche.Losses) lossesRecord {
	return lossesRecord{Senior: storedAmount(l.Senior), Junior: storedAmount(l.Junior)}
}

func (r lossesRecord) losses() tranche.Losses {
	return tranche.NewLosses(r.Senior, r.Junior)
}

func newCoverListRecord(covers []cover.Cover) coverListRecord {
	rec := coverListRecord{Covers: make([]coverRecord, len(covers))}
	for i, c := range covers {
		rec.Covers[i] = coverRecord{
			Name:                   c.Name,
			Assets:                 storedAmount(c.Assets),
			CoveredLoss:            storedAmount(c.CoveredLoss),
			RiskYieldMultiplierBps: c.RiskYieldMultiplierBps,
			CoverRateBps:           c.CoverRateBps,
			CoverCap:               storedAmount(c.CoverCap),
		}
	}
	return rec
}

func (r coverListRecord) covers() []cover.Cover {
	out := make([]cover.Cover, len(r.Covers))
	for i, c := range r.Covers {
		out[i] = cover.Cover{
			Name:                   c.Name,
			Assets:                 storedAmount(c.Assets),
			CoveredLoss:            storedAmount(c.CoveredLoss),
			RiskYieldMultiplierBps: c.RiskYieldMultiplierBps,
			CoverRateBps:           c.CoverRateBps,
			CoverCap:               storedAmount(c.CoverCap),
		}
	}
	return out
}

func newTrackerRecord(t *tranche.SeniorYieldTracker) trackerRecord {
	return trackerRecord{
		TotalAssets:    storedAmount(t.TotalAssets),
		UnpaidYield:    storedAmount(t.UnpaidYield),
		LastUpdatedDay: t.LastUpdatedDay,
	}
}

func (r trackerRecord) tracker() *tranche.SeniorYieldTracker {
	return &tranche.SeniorYieldTracker{
		TotalAssets:    storedAmount(r.TotalAssets),
		UnpaidYield:    storedAmount(r.UnpaidYield),
		LastUpdatedDay: r.LastUpdatedDay,
	}
}

func newEpochInfoRecord(info *epoch.Info) epochInfoRecord {
	return epochInfoRecord{
		ID:              info.ID,
		SharesRequested: storedAmount(info.SharesRequested),
		SharesProcessed: storedAmount(info.SharesProcessed),
		AmountProcessed: storedAmount(info.AmountProcessed),
	}
}

func (r epochInfoRecord) info() *epoch.Info {
	return &epoch.Info{
		ID:              r.ID,
		SharesRequested: storedAmount(r.SharesRequested),
		SharesProcessed: storedAmount(r.SharesProcessed),
		AmountProcessed: storedAmount(r.AmountProcessed),
	}
}

func newLenderStateRecord(rec *vault.LenderRecord) lenderStateRecord {
	stored := lenderStateRecord{
		Requests: make([]redemptionRequestRecord, len(rec.Requests)),
		Cursor: cursorRecord{
			NextIndex:     rec.Cursor.NextIndex,
			PartialShares: storedAmount(rec.Cursor.PartialShares),
			PartialAmount: storedAmount(rec.Cursor.PartialAmount),
		},
	}
	for i, req := range rec.Requests {
		stored.Requests[i] = redemptionRequestRecord{
			EpochID: req.EpochID,
			Shares:  storedAmount(req.Shares),
		}
	}
	return stored
}

func (r lenderStateRecord) lender() *vault.LenderRecord {
	rec := &vault.LenderRecord{
		Requests: make([]vault.RedemptionRequest, len(r.Requests)),
		Cursor: vault.DisbursementCursor{
			NextIndex:     r.Cursor.NextIndex,
			PartialShares: storedAmount(r.Cursor.PartialShares),
			PartialAmount: storedAmount(r.Cursor.PartialAmount),
		},
	}
	for i, req := range r.Requests {
		rec.Requests[i] = vault.RedemptionRequest{
			EpochID: req.EpochID,
			Shares:  storedAmount(req.Shares),
		}
	}
	return rec
}

func newEventRecord(rec events.Record) eventRecord {
	stored := eventRecord{Sequence: rec.Sequence, Type: rec.Type}
	keys := make([]string, 0, len(rec.Attributes))
	for k := range rec.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	stored.Keys = keys
	stored.Values = make([]string, len(keys))
	for i, k := range keys {
		stored.Values[i] = rec.Attributes[k]
	}
	return stored
}

func (r eventRecord) record() events.Record {
	rec := events.Record{Sequence: r.Sequence, Type: r.Type}
	if len(r.Keys) > 0 {
		rec.Attributes = make(map[string]string, len(r.Keys))
		for i, k := range r.Keys {
			if i < len(r.Values) {
				rec.Attributes[k] = r.Values[i]
			}
		}
	}
	return rec
}
