package observability

import (
	"math/big"

	"capstack/core"
	"capstack/core/events"
	"capstack/tranche"
)

// PoolRecorder mirrors committed ledger activity into the Prometheus
// registry. It satisfies core.HistoryRecorder so it rides the same
// post-commit hook as the relational history.
type PoolRecorder struct{}

// NewPoolRecorder returns a recorder ready to hand to core.Pool.SetHistory.
func NewPoolRecorder() PoolRecorder { return PoolRecorder{} }

// RecordEvent counts the event and accumulates the amounts it carries.
func (PoolRecorder) RecordEvent(rec events.Record) {
	m := Ledger()
	m.RecordEventType(rec.Type)
	switch rec.Type {
	case events.TypeProfitDistributed:
		m.RecordDistributed("senior", attrAmount(rec, "seniorProfit"))
		m.RecordDistributed("junior", attrAmount(rec, "juniorProfit"))
		m.RecordDistributed("cover", attrAmount(rec, "coverProfit"))
		fee := new(big.Int).Sub(attrAmount(rec, "gross"), attrAmount(rec, "poolProfit"))
		m.RecordDistributed("fee", fee)
	case events.TypeEpochClosed:
		m.RecordSettlement(tranche.Senior.String(), attrAmount(rec, "seniorShares"), attrAmount(rec, "seniorAmount"))
		m.RecordSettlement(tranche.Junior.String(), attrAmount(rec, "juniorShares"), attrAmount(rec, "juniorAmount"))
	}
}

// RecordSnapshot refreshes the pool gauges from the post-commit snapshot.
func (PoolRecorder) RecordSnapshot(snap core.Snapshot) {
	g := PoolGauges()
	g.assets.WithLabelValues(tranche.Senior.String()).Set(bigToFloat(snap.Assets.Senior))
	g.assets.WithLabelValues(tranche.Junior.String()).Set(bigToFloat(snap.Assets.Junior))
	g.losses.WithLabelValues(tranche.Senior.String()).Set(bigToFloat(snap.Losses.Senior))
	g.losses.WithLabelValues(tranche.Junior.String()).Set(bigToFloat(snap.Losses.Junior))
	g.shareSupply.WithLabelValues(tranche.Senior.String()).Set(bigToFloat(snap.SeniorSupply))
	g.shareSupply.WithLabelValues(tranche.Junior.String()).Set(bigToFloat(snap.JuniorSupply))
	for _, c := range snap.Covers {
		g.coverAssets.WithLabelValues(c.Name).Set(bigToFloat(c.Assets))
	}
	g.balances.WithLabelValues("reserve").Set(bigToFloat(snap.ReserveBalance))
	g.balances.WithLabelValues("escrow").Set(bigToFloat(snap.EscrowBalance))
	g.pendingDemand.Set(bigToFloat(snap.ReservationTarget))
	g.currentEpoch.Set(float64(snap.CurrentEpoch))
}

func attrAmount(rec events.Record, key string) *big.Int {
	raw, ok := rec.Attributes[key]
	if !ok {
		return big.NewInt(0)
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return big.NewInt(0)
	}
	return value
}
