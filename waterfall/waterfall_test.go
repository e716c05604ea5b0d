package waterfall

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"capstack/cover"
	"capstack/tranche"
)

func testPolicy(t *testing.T) tranche.Policy {
	t.Helper()
	policy, err := tranche.NewRiskAdjusted(2000)
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	return policy
}

func testCovers() []cover.Cover {
	return []cover.Cover{{
		Name:                   "borrower",
		Assets:                 big.NewInt(50),
		CoveredLoss:            big.NewInt(0),
		RiskYieldMultiplierBps: 15000,
		CoverRateBps:           500,
		CoverCap:               big.NewInt(1_000_000),
	}}
}

func TestDistributeProfitFullWaterfall(t *testing.T) {
	// 800/200 at 2000 bps adjustment: senior 64, non-senior 36.
	// Cover weight 75 vs junior 200: cover 9, junior 27.
	assets := tranche.NewAssets(big.NewInt(800), big.NewInt(200))
	out, err := DistributeProfit(big.NewInt(100), assets, testCovers(), testPolicy(t), nil, time.Now())
	if err != nil {
		t.Fatalf("distribute profit: %v", err)
	}
	if out.SeniorProfit.Cmp(big.NewInt(64)) != 0 {
		t.Fatalf("senior profit: got %s want 64", out.SeniorProfit)
	}
	if out.CoverShares[0].Cmp(big.NewInt(9)) != 0 {
		t.Fatalf("cover share: got %s want 9", out.CoverShares[0])
	}
	if out.JuniorProfit.Cmp(big.NewInt(27)) != 0 {
		t.Fatalf("junior profit: got %s want 27", out.JuniorProfit)
	}
	if out.Assets.Senior.Cmp(big.NewInt(864)) != 0 || out.Assets.Junior.Cmp(big.NewInt(227)) != 0 {
		t.Fatalf("post assets wrong: %s/%s", out.Assets.Senior, out.Assets.Junior)
	}
	if out.Covers[0].Assets.Cmp(big.NewInt(59)) != 0 {
		t.Fatalf("cover assets wrong: %s", out.Covers[0].Assets)
	}
	total := new(big.Int).Add(out.SeniorProfit, out.JuniorProfit)
	total.Add(total, out.CoverShares[0])
	if total.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("conservation broken: distributed %s of 100", total)
	}
}

func TestDistributeProfitRejectsNonPositive(t *testing.T) {
	assets := tranche.NewAssets(big.NewInt(800), big.NewInt(200))
	if _, err := DistributeProfit(big.NewInt(0), assets, nil, testPolicy(t), nil, time.Now()); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := DistributeProfit(big.NewInt(-5), assets, nil, testPolicy(t), nil, time.Now()); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestDistributeLossThroughCoversThenTranches(t *testing.T) {
	assets := tranche.NewAssets(big.NewInt(800), big.NewInt(200))
	covers := []cover.Cover{{
		Name:                   "borrower",
		Assets:                 big.NewInt(100),
		CoveredLoss:            big.NewInt(0),
		RiskYieldMultiplierBps: 15000,
		CoverRateBps:           10000,
		CoverCap:               big.NewInt(60),
	}}
	out, err := DistributeLoss(big.NewInt(300), assets, tranche.Losses{}, covers)
	if err != nil {
		t.Fatalf("distribute loss: %v", err)
	}
	if out.CoverAbsorbed[0].Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("cover should absorb its cap 60, got %s", out.CoverAbsorbed[0])
	}
	if out.JuniorLoss.Cmp(big.NewInt(200)) != 0 || out.SeniorLoss.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("tranche split wrong: senior=%s junior=%s", out.SeniorLoss, out.JuniorLoss)
	}
	if out.Assets.Senior.Cmp(big.NewInt(760)) != 0 || out.Assets.Junior.Sign() != 0 {
		t.Fatalf("post assets wrong: %s/%s", out.Assets.Senior, out.Assets.Junior)
	}
	booked := new(big.Int).Add(out.SeniorLoss, out.JuniorLoss)
	booked.Add(booked, out.CoverAbsorbed[0])
	if booked.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("loss conservation broken: %s", booked)
	}
}

func TestDistributeRecoveryReversesLossOrder(t *testing.T) {
	assets := tranche.NewAssets(big.NewInt(800), big.NewInt(200))
	covers := []cover.Cover{{
		Name:                   "borrower",
		Assets:                 big.NewInt(100),
		CoveredLoss:            big.NewInt(0),
		RiskYieldMultiplierBps: 15000,
		CoverRateBps:           10000,
		CoverCap:               big.NewInt(60),
	}}
	lossOut, err := DistributeLoss(big.NewInt(300), assets, tranche.Losses{}, covers)
	if err != nil {
		t.Fatalf("distribute loss: %v", err)
	}
	recOut, err := DistributeLossRecovery(big.NewInt(300), lossOut.Assets, lossOut.Losses, lossOut.Covers)
	if err != nil {
		t.Fatalf("distribute recovery: %v", err)
	}
	if recOut.SeniorRecovered.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("senior recovers first: got %s want 40", recOut.SeniorRecovered)
	}
	if recOut.JuniorRecovered.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("junior recovers second: got %s want 200", recOut.JuniorRecovered)
	}
	if recOut.CoverRecovered[0].Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("cover recovers last: got %s want 60", recOut.CoverRecovered[0])
	}
	if recOut.Assets.Senior.Cmp(big.NewInt(800)) != 0 || recOut.Assets.Junior.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("assets not restored: %s/%s", recOut.Assets.Senior, recOut.Assets.Junior)
	}
	if recOut.Losses.Total().Sign() != 0 {
		t.Fatalf("losses not cleared: %s", recOut.Losses.Total())
	}
	if recOut.Covers[0].Assets.Cmp(big.NewInt(100)) != 0 || recOut.Covers[0].CoveredLoss.Sign() != 0 {
		t.Fatalf("cover not restored: assets=%s covered=%s", recOut.Covers[0].Assets, recOut.Covers[0].CoveredLoss)
	}
}

func TestDistributeRecoveryBeyondLossesFails(t *testing.T) {
	assets := tranche.NewAssets(big.NewInt(700), big.NewInt(100))
	losses := tranche.NewLosses(big.NewInt(50), big.NewInt(100))
	covers := []cover.Cover{{Name: "c", Assets: big.NewInt(0), CoveredLoss: big.NewInt(25)}}
	if _, err := DistributeLossRecovery(big.NewInt(176), assets, losses, covers); !errors.Is(err, ErrRecoveryExceedsLoss) {
		t.Fatalf("expected ErrRecoveryExceedsLoss, got %v", err)
	}
	out, err := DistributeLossRecovery(big.NewInt(175), assets, losses, covers)
	if err != nil {
		t.Fatalf("exact recovery should pass: %v", err)
	}
	if out.CoverRecovered[0].Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("cover should recover 25, got %s", out.CoverRecovered[0])
	}
}

func TestPartialProfitDistribution(t *testing.T) {
	// Fixed yield policy with nothing accrued sends all profit junior-side.
	policy, err := tranche.NewFixedSeniorYield(800)
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	assets := tranche.NewAssets(big.NewInt(800), big.NewInt(200))
	tracker, err := policy.Resync(assets, nil, at)
	if err != nil {
		t.Fatalf("seed tracker: %v", err)
	}
	out, err := DistributeProfit(big.NewInt(100), assets, testCovers(), policy, tracker, at)
	if err != nil {
		t.Fatalf("distribute profit: %v", err)
	}
	if out.SeniorProfit.Sign() != 0 {
		t.Fatalf("senior owed nothing, got %s", out.SeniorProfit)
	}
	sum := new(big.Int).Add(out.JuniorProfit, out.CoverShares[0])
	if sum.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("non-senior side must take everything, got %s", sum)
	}
}
