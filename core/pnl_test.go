package core

import (
	"math/big"
	"testing"
	"time"

	"capstack/cover"
	"capstack/tranche"
	"capstack/waterfall"
)

func insuranceCover() cover.Cover {
	return cover.Cover{
		Name:                   "insurance",
		Assets:                 big.NewInt(50),
		CoveredLoss:            big.NewInt(0),
		RiskYieldMultiplierBps: 15_000,
		CoverRateBps:           1_000,
		CoverCap:               big.NewInt(1_000_000),
	}
}

func TestDistributeProfitRiskAdjustedWaterfall(t *testing.T) {
	cfg := testConfig()
	cfg.Covers = []cover.Cover{insuranceCover()}
	pool, _ := newTestPool(t, cfg)

	mustDeposit(t, pool, tranche.Junior, testLender(1), 200)
	mustDeposit(t, pool, tranche.Senior, testLender(2), 800)

	outcome, err := pool.DistributeProfit(big.NewInt(100))
	if err != nil {
		t.Fatalf("distribute profit: %v", err)
	}
	if outcome.SeniorProfit.Cmp(big.NewInt(64)) != 0 {
		t.Fatalf("expected senior profit 64, got %s", outcome.SeniorProfit)
	}
	if outcome.JuniorProfit.Cmp(big.NewInt(27)) != 0 {
		t.Fatalf("expected junior profit 27, got %s", outcome.JuniorProfit)
	}
	if len(outcome.CoverShares) != 1 || outcome.CoverShares[0].Cmp(big.NewInt(9)) != 0 {
		t.Fatalf("expected cover share 9, got %v", outcome.CoverShares)
	}

	snap, err := pool.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Assets.Senior.Cmp(big.NewInt(864)) != 0 || snap.Assets.Junior.Cmp(big.NewInt(227)) != 0 {
		t.Fatalf("unexpected post assets: %s/%s", snap.Assets.Senior, snap.Assets.Junior)
	}
	if len(snap.Covers) != 1 || snap.Covers[0].Assets.Cmp(big.NewInt(59)) != 0 {
		t.Fatalf("cover assets should grow to 59, got %+v", snap.Covers)
	}
	// 1000 deposited plus 100 profit.
	if snap.ReserveBalance.Cmp(big.NewInt(1100)) != 0 {
		t.Fatalf("profit cash should land on the reserve, got %s", snap.ReserveBalance)
	}
}

func TestDistributeProfitTakesFee(t *testing.T) {
	cfg := testConfig()
	cfg.ProfitFeeBps = 500
	pool, _ := newTestPool(t, cfg)

	mustDeposit(t, pool, tranche.Junior, testLender(1), 200)
	mustDeposit(t, pool, tranche.Senior, testLender(2), 800)

	outcome, err := pool.DistributeProfit(big.NewInt(100))
	if err != nil {
		t.Fatalf("distribute profit: %v", err)
	}
	// Fee 5, net 95: senior raw 76, adjustment 15, senior 61, junior 34.
	if outcome.PoolProfit.Cmp(big.NewInt(95)) != 0 {
		t.Fatalf("expected net profit 95, got %s", outcome.PoolProfit)
	}
	if outcome.SeniorProfit.Cmp(big.NewInt(61)) != 0 || outcome.JuniorProfit.Cmp(big.NewInt(34)) != 0 {
		t.Fatalf("unexpected split: %s/%s", outcome.SeniorProfit, outcome.JuniorProfit)
	}

	feeBalance, err := pool.AccountBalance(pool.FeeAccount())
	if err != nil {
		t.Fatalf("fee balance: %v", err)
	}
	if feeBalance.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("expected fee account 5, got %s", feeBalance)
	}
	reserve, err := pool.AccountBalance(pool.ReserveAccount())
	if err != nil {
		t.Fatalf("reserve balance: %v", err)
	}
	if reserve.Cmp(big.NewInt(1095)) != 0 {
		t.Fatalf("expected reserve 1095, got %s", reserve)
	}
}

func TestDistributeProfitRequiresCapital(t *testing.T) {
	pool, _ := newTestPool(t, testConfig())

	if _, err := pool.DistributeProfit(big.NewInt(100)); err != tranche.ErrNoTrancheCapital {
		t.Fatalf("expected ErrNoTrancheCapital, got %v", err)
	}
	if _, err := pool.DistributeProfit(big.NewInt(0)); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount for zero, got %v", err)
	}
	if _, err := pool.DistributeProfit(big.NewInt(-5)); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount for negative, got %v", err)
	}
}

func TestDistributeLossThroughCoversFirst(t *testing.T) {
	cfg := testConfig()
	cfg.Covers = []cover.Cover{insuranceCover()}
	pool, _ := newTestPool(t, cfg)

	mustDeposit(t, pool, tranche.Junior, testLender(1), 200)
	mustDeposit(t, pool, tranche.Senior, testLender(2), 800)

	outcome, err := pool.DistributeLoss(big.NewInt(100))
	if err != nil {
		t.Fatalf("distribute loss: %v", err)
	}
	// Cover capacity min(1000*10%, cap, 50 assets) = 50, junior takes the rest.
	if len(outcome.CoverAbsorbed) != 1 || outcome.CoverAbsorbed[0].Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected cover absorption 50, got %v", outcome.CoverAbsorbed)
	}
	if outcome.JuniorLoss.Cmp(big.NewInt(50)) != 0 || outcome.SeniorLoss.Sign() != 0 {
		t.Fatalf("unexpected tranche split: senior %s junior %s", outcome.SeniorLoss, outcome.JuniorLoss)
	}

	snap, err := pool.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Assets.Junior.Cmp(big.NewInt(150)) != 0 || snap.Assets.Senior.Cmp(big.NewInt(800)) != 0 {
		t.Fatalf("unexpected post assets: %s/%s", snap.Assets.Senior, snap.Assets.Junior)
	}
	if snap.Covers[0].Assets.Sign() != 0 || snap.Covers[0].CoveredLoss.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("cover should be depleted with covered loss 50: %+v", snap.Covers[0])
	}
	if snap.Losses.Junior.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("junior loss should be recorded, got %s", snap.Losses.Junior)
	}
	// Losses are writedowns, not cash movements.
	if snap.ReserveBalance.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("loss must not touch reserve cash, got %s", snap.ReserveBalance)
	}
}

func TestLossRecoveryRestoresSeniorFirst(t *testing.T) {
	pool, _ := newTestPool(t, testConfig())

	mustDeposit(t, pool, tranche.Junior, testLender(1), 200)
	mustDeposit(t, pool, tranche.Senior, testLender(2), 800)

	if _, err := pool.DistributeLoss(big.NewInt(900)); err != nil {
		t.Fatalf("distribute loss: %v", err)
	}
	snap, err := pool.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Assets.Junior.Sign() != 0 || snap.Assets.Senior.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("loss should wipe junior then bite senior: %s/%s", snap.Assets.Senior, snap.Assets.Junior)
	}

	outcome, err := pool.DistributeLossRecovery(big.NewInt(750))
	if err != nil {
		t.Fatalf("distribute recovery: %v", err)
	}
	if outcome.SeniorRecovered.Cmp(big.NewInt(700)) != 0 || outcome.JuniorRecovered.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("recovery should refill senior first: %s/%s", outcome.SeniorRecovered, outcome.JuniorRecovered)
	}

	snap, err = pool.Snapshot()
	if err != nil {
		t.Fatalf("snapshot after recovery: %v", err)
	}
	if snap.Assets.Senior.Cmp(big.NewInt(800)) != 0 || snap.Assets.Junior.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected post recovery assets: %s/%s", snap.Assets.Senior, snap.Assets.Junior)
	}
	if snap.Losses.Senior.Sign() != 0 || snap.Losses.Junior.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("unexpected outstanding losses: %s/%s", snap.Losses.Senior, snap.Losses.Junior)
	}
	// Recovered cash arrives on the reserve.
	if snap.ReserveBalance.Cmp(big.NewInt(1750)) != 0 {
		t.Fatalf("expected reserve 1750, got %s", snap.ReserveBalance)
	}

	// Only 150 of recorded loss remains; recovering 200 must abort whole.
	if _, err := pool.DistributeLossRecovery(big.NewInt(200)); err != waterfall.ErrRecoveryExceedsLoss {
		t.Fatalf("expected ErrRecoveryExceedsLoss, got %v", err)
	}
	after, err := pool.Snapshot()
	if err != nil {
		t.Fatalf("snapshot after rejected recovery: %v", err)
	}
	if after.Assets.Junior.Cmp(snap.Assets.Junior) != 0 || after.ReserveBalance.Cmp(snap.ReserveBalance) != 0 {
		t.Fatalf("rejected recovery mutated state")
	}
}

func TestFixedYieldAccruesAcrossDays(t *testing.T) {
	cfg := Config{
		PolicyKind:              tranche.PolicyFixedSeniorYield,
		PolicyRateBps:           800,
		MaxSeniorJuniorRatioBps: 40_000,
	}
	pool, _ := newTestPool(t, cfg)

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	pool.SetNowFunc(func() time.Time { return now })

	mustDeposit(t, pool, tranche.Junior, testLender(1), 250_000)
	mustDeposit(t, pool, tranche.Senior, testLender(2), 1_000_000)

	now = start.Add(30 * 24 * time.Hour)
	outcome, err := pool.DistributeProfit(big.NewInt(10_000))
	if err != nil {
		t.Fatalf("distribute profit: %v", err)
	}
	// 1,000,000 * 800bps * 30/360 days = 6666 accrued for senior.
	if outcome.SeniorProfit.Cmp(big.NewInt(6666)) != 0 {
		t.Fatalf("expected senior profit 6666, got %s", outcome.SeniorProfit)
	}
	if outcome.JuniorProfit.Cmp(big.NewInt(3334)) != 0 {
		t.Fatalf("expected junior profit 3334, got %s", outcome.JuniorProfit)
	}

	snap, err := pool.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Tracker == nil {
		t.Fatalf("fixed yield policy should persist a tracker")
	}
	if snap.Tracker.UnpaidYield.Sign() != 0 {
		t.Fatalf("accrued yield was paid in full, unpaid should be 0, got %s", snap.Tracker.UnpaidYield)
	}
	if snap.Tracker.TotalAssets.Cmp(big.NewInt(1_006_666)) != 0 {
		t.Fatalf("tracker should follow senior assets, got %s", snap.Tracker.TotalAssets)
	}
}
