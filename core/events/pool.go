package events

import (
	"math/big"
	"strconv"

	"capstack/crypto"
	"capstack/tranche"
)

const (
	TypeProfitDistributed   = "pnl.profit_distributed"
	TypeLossDistributed     = "pnl.loss_distributed"
	TypeLossRecovered       = "pnl.loss_recovered"
	TypeEpochClosed         = "epoch.closed"
	TypeRedemptionRequested = "redemption.requested"
	TypeRedemptionCancelled = "redemption.cancelled"
	TypeRedemptionDisbursed = "redemption.disbursed"
	TypeTrancheDeposit      = "tranche.deposit"
	TypeReserveFunded       = "reserve.funded"
	TypeReserveWithdrawn    = "reserve.withdrawn"
)

type ReserveFunded struct {
	Amount *big.Int
}

func (ReserveFunded) EventType() string { return TypeReserveFunded }

func (e ReserveFunded) Record() Record {
	return Record{
		Type: TypeReserveFunded,
		Attributes: map[string]string{
			"amount": formatAmount(e.Amount),
		},
	}
}

type ReserveWithdrawn struct {
	To     crypto.Address
	Amount *big.Int
}

func (ReserveWithdrawn) EventType() string { return TypeReserveWithdrawn }

func (e ReserveWithdrawn) Record() Record {
	return Record{
		Type: TypeReserveWithdrawn,
		Attributes: map[string]string{
			"to":     e.To.String(),
			"amount": formatAmount(e.Amount),
		},
	}
}

type ProfitDistributed struct {
	Gross        *big.Int
	PoolProfit   *big.Int
	SeniorProfit *big.Int
	JuniorProfit *big.Int
	CoverProfit  *big.Int
	// CoverBreakdown maps cover names to the slice each one earned.
	CoverBreakdown map[string]string
}

func (ProfitDistributed) EventType() string { return TypeProfitDistributed }

func (e ProfitDistributed) Record() Record {
	return Record{
		Type: TypeProfitDistributed,
		Attributes: withCoverAttrs(map[string]string{
			"gross":        formatAmount(e.Gross),
			"poolProfit":   formatAmount(e.PoolProfit),
			"seniorProfit": formatAmount(e.SeniorProfit),
			"juniorProfit": formatAmount(e.JuniorProfit),
			"coverProfit":  formatAmount(e.CoverProfit),
		}, e.CoverBreakdown),
	}
}

type LossDistributed struct {
	Loss           *big.Int
	SeniorLoss     *big.Int
	JuniorLoss     *big.Int
	CoverAbsorbed  *big.Int
	CoverBreakdown map[string]string
}

func (LossDistributed) EventType() string { return TypeLossDistributed }

func (e LossDistributed) Record() Record {
	return Record{
		Type: TypeLossDistributed,
		Attributes: withCoverAttrs(map[string]string{
			"loss":          formatAmount(e.Loss),
			"seniorLoss":    formatAmount(e.SeniorLoss),
			"juniorLoss":    formatAmount(e.JuniorLoss),
			"coverAbsorbed": formatAmount(e.CoverAbsorbed),
		}, e.CoverBreakdown),
	}
}

type LossRecovered struct {
	Recovery        *big.Int
	SeniorRecovered *big.Int
	JuniorRecovered *big.Int
	CoverRecovered  *big.Int
	CoverBreakdown  map[string]string
}

func (LossRecovered) EventType() string { return TypeLossRecovered }

func (e LossRecovered) Record() Record {
	return Record{
		Type: TypeLossRecovered,
		Attributes: withCoverAttrs(map[string]string{
			"recovery":        formatAmount(e.Recovery),
			"seniorRecovered": formatAmount(e.SeniorRecovered),
			"juniorRecovered": formatAmount(e.JuniorRecovered),
			"coverRecovered":  formatAmount(e.CoverRecovered),
		}, e.CoverBreakdown),
	}
}

type EpochClosed struct {
	EpochID      uint64
	SeniorShares *big.Int
	SeniorAmount *big.Int
	JuniorShares *big.Int
	JuniorAmount *big.Int
	UnmetDemand  *big.Int
	SeniorPrice  *big.Int
	JuniorPrice  *big.Int
}

func (EpochClosed) EventType() string { return TypeEpochClosed }

func (e EpochClosed) Record() Record {
	return Record{
		Type: TypeEpochClosed,
		Attributes: map[string]string{
			"epochId":      strconv.FormatUint(e.EpochID, 10),
			"seniorShares": formatAmount(e.SeniorShares),
			"seniorAmount": formatAmount(e.SeniorAmount),
			"juniorShares": formatAmount(e.JuniorShares),
			"juniorAmount": formatAmount(e.JuniorAmount),
			"unmetDemand":  formatAmount(e.UnmetDemand),
			"seniorPrice":  formatAmount(e.SeniorPrice),
			"juniorPrice":  formatAmount(e.JuniorPrice),
		},
	}
}

type RedemptionRequested struct {
	Tranche tranche.Tranche
	Lender  crypto.Address
	Shares  *big.Int
	EpochID uint64
}

func (RedemptionRequested) EventType() string { return TypeRedemptionRequested }

func (e RedemptionRequested) Record() Record {
	return Record{
		Type: TypeRedemptionRequested,
		Attributes: map[string]string{
			"tranche": e.Tranche.String(),
			"lender":  e.Lender.String(),
			"shares":  formatAmount(e.Shares),
			"epochId": strconv.FormatUint(e.EpochID, 10),
		},
	}
}

type RedemptionCancelled struct {
	Tranche tranche.Tranche
	Lender  crypto.Address
	Shares  *big.Int
	EpochID uint64
}

func (RedemptionCancelled) EventType() string { return TypeRedemptionCancelled }

func (e RedemptionCancelled) Record() Record {
	return Record{
		Type: TypeRedemptionCancelled,
		Attributes: map[string]string{
			"tranche": e.Tranche.String(),
			"lender":  e.Lender.String(),
			"shares":  formatAmount(e.Shares),
			"epochId": strconv.FormatUint(e.EpochID, 10),
		},
	}
}

type RedemptionDisbursed struct {
	Tranche tranche.Tranche
	Lender  crypto.Address
	Shares  *big.Int
	Amount  *big.Int
}

func (RedemptionDisbursed) EventType() string { return TypeRedemptionDisbursed }

func (e RedemptionDisbursed) Record() Record {
	return Record{
		Type: TypeRedemptionDisbursed,
		Attributes: map[string]string{
			"tranche": e.Tranche.String(),
			"lender":  e.Lender.String(),
			"shares":  formatAmount(e.Shares),
			"amount":  formatAmount(e.Amount),
		},
	}
}

type TrancheDeposit struct {
	Tranche tranche.Tranche
	Lender  crypto.Address
	Amount  *big.Int
	Shares  *big.Int
}

func (TrancheDeposit) EventType() string { return TypeTrancheDeposit }

func (e TrancheDeposit) Record() Record {
	return Record{
		Type: TypeTrancheDeposit,
		Attributes: map[string]string{
			"tranche": e.Tranche.String(),
			"lender":  e.Lender.String(),
			"amount":  formatAmount(e.Amount),
			"shares":  formatAmount(e.Shares),
		},
	}
}

// CoverAttrPrefix marks attributes that attribute one waterfall slice to a
// named cover.
const CoverAttrPrefix = "cover:"

func withCoverAttrs(attrs map[string]string, breakdown map[string]string) map[string]string {
	for name, amount := range breakdown {
		attrs[CoverAttrPrefix+name] = amount
	}
	return attrs
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
