package rpc

import (
	"fmt"
	"math/big"
	"strings"

	"capstack/core"
	"capstack/core/events"
	"capstack/cover"
	"capstack/crypto"
	"capstack/epoch"
	"capstack/tranche"
	"capstack/vault"
	"capstack/waterfall"
)

// Amounts cross the wire as base-10 strings so callers never lose precision
// to float decoding.

type CoverResult struct {
	Name                   string `json:"name"`
	Assets                 string `json:"assets"`
	CoveredLoss            string `json:"coveredLoss"`
	RiskYieldMultiplierBps uint64 `json:"riskYieldMultiplierBps"`
	CoverRateBps           uint64 `json:"coverRateBps"`
	CoverCap               string `json:"coverCap,omitempty"`
}

type YieldTrackerResult struct {
	TotalAssets    string `json:"totalAssets"`
	UnpaidYield    string `json:"unpaidYield"`
	LastUpdatedDay uint64 `json:"lastUpdatedDay"`
}

type PoolStateResult struct {
	SeniorAssets      string              `json:"seniorAssets"`
	JuniorAssets      string              `json:"juniorAssets"`
	SeniorLosses      string              `json:"seniorLosses"`
	JuniorLosses      string              `json:"juniorLosses"`
	SeniorSupply      string              `json:"seniorShareSupply"`
	JuniorSupply      string              `json:"juniorShareSupply"`
	ReserveBalance    string              `json:"reserveBalance"`
	EscrowBalance     string              `json:"escrowBalance"`
	CurrentEpoch      uint64              `json:"currentEpoch"`
	ReservationTarget string              `json:"reservationTarget"`
	Covers            []CoverResult       `json:"covers"`
	SeniorYield       *YieldTrackerResult `json:"seniorYield,omitempty"`
}

type DepositResult struct {
	Tranche string `json:"tranche"`
	Lender  string `json:"lender"`
	Amount  string `json:"amount"`
	Shares  string `json:"shares"`
}

type ProfitResult struct {
	Gross        string        `json:"gross"`
	Fee          string        `json:"fee"`
	PoolProfit   string        `json:"poolProfit"`
	SeniorProfit string        `json:"seniorProfit"`
	JuniorProfit string        `json:"juniorProfit"`
	CoverShares  []CoverAmount `json:"coverShares,omitempty"`
}

type LossResult struct {
	Loss          string        `json:"loss"`
	SeniorLoss    string        `json:"seniorLoss"`
	JuniorLoss    string        `json:"juniorLoss"`
	CoverAbsorbed []CoverAmount `json:"coverAbsorbed,omitempty"`
}

type RecoveryResult struct {
	Recovery        string        `json:"recovery"`
	SeniorRecovered string        `json:"seniorRecovered"`
	JuniorRecovered string        `json:"juniorRecovered"`
	CoverRecovered  []CoverAmount `json:"coverRecovered,omitempty"`
}

// CoverAmount attributes one waterfall slice to a named cover.
type CoverAmount struct {
	Cover  string `json:"cover"`
	Amount string `json:"amount"`
}

type ReserveResult struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

type EpochInfoResult struct {
	ID              uint64 `json:"id"`
	Tranche         string `json:"tranche"`
	State           string `json:"state"`
	SharesRequested string `json:"sharesRequested"`
	SharesProcessed string `json:"sharesProcessed"`
	AmountProcessed string `json:"amountProcessed"`
}

type TrancheCloseResult struct {
	SharesProcessed string   `json:"sharesProcessed"`
	AmountProcessed string   `json:"amountProcessed"`
	FulfilledEpochs []uint64 `json:"fulfilledEpochs,omitempty"`
}

type EpochCloseResult struct {
	Epoch          uint64             `json:"epoch"`
	NextEpoch      uint64             `json:"nextEpoch"`
	SeniorPrice    string             `json:"seniorSharePrice"`
	JuniorPrice    string             `json:"juniorSharePrice"`
	Senior         TrancheCloseResult `json:"senior"`
	Junior         TrancheCloseResult `json:"junior"`
	AvailableAfter string             `json:"availableAfter"`
	UnmetDemand    string             `json:"unmetDemand"`
}

type RedemptionRequestResult struct {
	Tranche string          `json:"tranche"`
	Lender  string          `json:"lender"`
	Epoch   EpochInfoResult `json:"epoch"`
}

type WithdrawableResult struct {
	Tranche string `json:"tranche"`
	Lender  string `json:"lender"`
	Amount  string `json:"amount"`
}

type DisburseResult struct {
	Tranche string `json:"tranche"`
	Lender  string `json:"lender"`
	Amount  string `json:"amount"`
	Shares  string `json:"shares"`
}

type RedemptionStatusResult struct {
	Tranche      string                 `json:"tranche"`
	Lender       string                 `json:"lender"`
	Requests     []RedemptionLineResult `json:"requests"`
	NextIndex    uint64                 `json:"nextIndex"`
	Withdrawable string                 `json:"withdrawable"`
}

type RedemptionLineResult struct {
	Epoch  uint64 `json:"epoch"`
	Shares string `json:"shares"`
}

type EventResult struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return value, nil
}

func parseTranche(raw string) (tranche.Tranche, error) {
	t, err := tranche.Parse(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return 0, fmt.Errorf("unknown tranche %q", raw)
	}
	return t, nil
}

func parseAddress(raw string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid address %q: %v", raw, err)
	}
	return addr, nil
}

func coverResults(covers []cover.Cover) []CoverResult {
	out := make([]CoverResult, 0, len(covers))
	for _, cv := range covers {
		entry := CoverResult{
			Name:                   cv.Name,
			Assets:                 formatAmount(cv.Assets),
			CoveredLoss:            formatAmount(cv.CoveredLoss),
			RiskYieldMultiplierBps: cv.RiskYieldMultiplierBps,
			CoverRateBps:           cv.CoverRateBps,
		}
		if cv.CoverCap != nil {
			entry.CoverCap = cv.CoverCap.String()
		}
		out = append(out, entry)
	}
	return out
}

func coverAmounts(covers []cover.Cover, amounts []*big.Int) []CoverAmount {
	out := make([]CoverAmount, 0, len(amounts))
	for i, amount := range amounts {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		name := fmt.Sprintf("cover-%d", i)
		if i < len(covers) {
			name = covers[i].Name
		}
		out = append(out, CoverAmount{Cover: name, Amount: amount.String()})
	}
	return out
}

func poolStateResult(snap *core.Snapshot) PoolStateResult {
	result := PoolStateResult{
		SeniorAssets:      formatAmount(snap.Assets.Senior),
		JuniorAssets:      formatAmount(snap.Assets.Junior),
		SeniorLosses:      formatAmount(snap.Losses.Senior),
		JuniorLosses:      formatAmount(snap.Losses.Junior),
		SeniorSupply:      formatAmount(snap.SeniorSupply),
		JuniorSupply:      formatAmount(snap.JuniorSupply),
		ReserveBalance:    formatAmount(snap.ReserveBalance),
		EscrowBalance:     formatAmount(snap.EscrowBalance),
		CurrentEpoch:      snap.CurrentEpoch,
		ReservationTarget: formatAmount(snap.ReservationTarget),
		Covers:            coverResults(snap.Covers),
	}
	if snap.Tracker != nil {
		result.SeniorYield = &YieldTrackerResult{
			TotalAssets:    formatAmount(snap.Tracker.TotalAssets),
			UnpaidYield:    formatAmount(snap.Tracker.UnpaidYield),
			LastUpdatedDay: snap.Tracker.LastUpdatedDay,
		}
	}
	return result
}

func profitResult(gross *big.Int, outcome *waterfall.ProfitOutcome) ProfitResult {
	fee := new(big.Int).Sub(gross, outcome.PoolProfit)
	return ProfitResult{
		Gross:        formatAmount(gross),
		Fee:          formatAmount(fee),
		PoolProfit:   formatAmount(outcome.PoolProfit),
		SeniorProfit: formatAmount(outcome.SeniorProfit),
		JuniorProfit: formatAmount(outcome.JuniorProfit),
		CoverShares:  coverAmounts(outcome.Covers, outcome.CoverShares),
	}
}

func lossResult(outcome *waterfall.LossOutcome) LossResult {
	return LossResult{
		Loss:          formatAmount(outcome.Loss),
		SeniorLoss:    formatAmount(outcome.SeniorLoss),
		JuniorLoss:    formatAmount(outcome.JuniorLoss),
		CoverAbsorbed: coverAmounts(outcome.Covers, outcome.CoverAbsorbed),
	}
}

func recoveryResult(outcome *waterfall.RecoveryOutcome) RecoveryResult {
	return RecoveryResult{
		Recovery:        formatAmount(outcome.Recovery),
		SeniorRecovered: formatAmount(outcome.SeniorRecovered),
		JuniorRecovered: formatAmount(outcome.JuniorRecovered),
		CoverRecovered:  coverAmounts(outcome.Covers, outcome.CoverRecovered),
	}
}

func epochInfoResult(t tranche.Tranche, info *epoch.Info) EpochInfoResult {
	return EpochInfoResult{
		ID:              info.ID,
		Tranche:         t.String(),
		State:           info.State().String(),
		SharesRequested: formatAmount(info.SharesRequested),
		SharesProcessed: formatAmount(info.SharesProcessed),
		AmountProcessed: formatAmount(info.AmountProcessed),
	}
}

func trancheCloseResult(o epoch.TrancheOutcome) TrancheCloseResult {
	return TrancheCloseResult{
		SharesProcessed: formatAmount(o.SharesProcessed),
		AmountProcessed: formatAmount(o.AmountProcessed),
		FulfilledEpochs: o.Fulfilled(),
	}
}

func epochCloseResult(report *core.CloseReport) EpochCloseResult {
	return EpochCloseResult{
		Epoch:          report.EpochID,
		NextEpoch:      report.EpochID + 1,
		SeniorPrice:    formatAmount(report.SeniorPrice),
		JuniorPrice:    formatAmount(report.JuniorPrice),
		Senior:         trancheCloseResult(report.Outcome.Senior),
		Junior:         trancheCloseResult(report.Outcome.Junior),
		AvailableAfter: formatAmount(report.Outcome.AvailableAfter),
		UnmetDemand:    formatAmount(report.Outcome.UnmetDemand),
	}
}

func redemptionStatusResult(t tranche.Tranche, lender crypto.Address, status *vault.RedemptionStatus) RedemptionStatusResult {
	requests := make([]RedemptionLineResult, 0, len(status.Requests))
	for _, req := range status.Requests {
		requests = append(requests, RedemptionLineResult{
			Epoch:  req.EpochID,
			Shares: formatAmount(req.Shares),
		})
	}
	return RedemptionStatusResult{
		Tranche:      t.String(),
		Lender:       lender.String(),
		Requests:     requests,
		NextIndex:    status.Cursor.NextIndex,
		Withdrawable: formatAmount(status.Withdrawable),
	}
}

func eventResult(rec events.Record) EventResult {
	return EventResult{
		Sequence:   rec.Sequence,
		Type:       rec.Type,
		Attributes: rec.Attributes,
	}
}
