// Package audit recomputes redemption conservation from the relational
// history and exports the findings for operator review.
package audit

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"capstack/epoch"
	"capstack/history"
	"capstack/tranche"
)

// Anomaly types flagged by a run.
const (
	AnomalyOverpaidSettlement = "overpaid_settlement"
	AnomalyOverDisbursement   = "over_disbursement"
	AnomalyEscrowDrift        = "escrow_drift"
	AnomalyBadAmount          = "bad_amount"
)

// RunConfig carries the dependencies for one audit run.
type RunConfig struct {
	DB        *gorm.DB
	OutputDir string
	Now       func() time.Time
	Logger    *slog.Logger
}

// EpochRow aggregates the settlements one tranche received for one epoch
// close, summed across partial fills.
type EpochRow struct {
	EpochID       uint64
	Tranche       string
	SettledShares *big.Int
	SettledAmount *big.Int
	LastPrice     *big.Int
	Fulfilled     bool
	Anomalous     bool
}

// Anomaly is one conservation failure. EpochID is nil for tranche-level and
// pool-level findings.
type Anomaly struct {
	Type    string
	EpochID *uint64
	Tranche string
	Details string
}

// TrancheTotals accumulates settled and disbursed amounts for one tranche.
type TrancheTotals struct {
	Settled   *big.Int
	Disbursed *big.Int
}

// Result summarises an audit run and points at the written artefacts.
type Result struct {
	ReportID    uuid.UUID
	Rows        []*EpochRow
	Anomalies   []Anomaly
	Totals      map[string]*TrancheTotals
	ReportPath  string
	AnomalyPath string
}

// Run loads the settlement and disbursement history, rechecks the share math
// behind every paid amount, and writes a parquet report plus an anomaly CSV
// under OutputDir.
//
// The checks, in order:
//   - each settlement row pays at most shares*price/Ray
//   - per tranche, total disbursed never exceeds total settled
//   - the escrow balance on the latest snapshot equals settled minus disbursed
func Run(cfg RunConfig) (*Result, error) {
	if cfg.DB == nil {
		return nil, errors.New("audit: db required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	outputDir := strings.TrimSpace(cfg.OutputDir)
	if outputDir == "" {
		outputDir = "capstack-audit"
	}

	var settlements []history.Settlement
	if err := cfg.DB.Order("sequence asc, tranche asc").Find(&settlements).Error; err != nil {
		return nil, fmt.Errorf("audit: load settlements: %w", err)
	}
	var flows []history.RedemptionFlow
	if err := cfg.DB.Where("operation = ?", history.OpDisburse).Order("sequence asc").Find(&flows).Error; err != nil {
		return nil, fmt.Errorf("audit: load disbursements: %w", err)
	}
	var snapshots []history.PoolSnapshot
	if err := cfg.DB.Order("created_at asc").Find(&snapshots).Error; err != nil {
		return nil, fmt.Errorf("audit: load snapshots: %w", err)
	}

	type rowKey struct {
		epoch uint64
		name  string
	}
	rowIndex := make(map[rowKey]*EpochRow)
	totals := make(map[string]*TrancheTotals)
	var anomalies []Anomaly

	totalFor := func(name string) *TrancheTotals {
		t, ok := totals[name]
		if !ok {
			t = &TrancheTotals{Settled: big.NewInt(0), Disbursed: big.NewInt(0)}
			totals[name] = t
		}
		return t
	}

	for _, st := range settlements {
		shares, sErr := parseAmount(st.Shares)
		amount, aErr := parseAmount(st.Amount)
		price, pErr := parseAmount(st.Price)
		if err := errors.Join(sErr, aErr, pErr); err != nil {
			anomalies = append(anomalies, Anomaly{
				Type:    AnomalyBadAmount,
				EpochID: ptrUint(st.EpochID),
				Tranche: st.Tranche,
				Details: fmt.Sprintf("settlement %s: %v", st.ID, err),
			})
			continue
		}
		k := rowKey{st.EpochID, st.Tranche}
		row, ok := rowIndex[k]
		if !ok {
			row = &EpochRow{
				EpochID:       st.EpochID,
				Tranche:       st.Tranche,
				SettledShares: big.NewInt(0),
				SettledAmount: big.NewInt(0),
				LastPrice:     big.NewInt(0),
			}
			rowIndex[k] = row
		}
		row.SettledShares.Add(row.SettledShares, shares)
		row.SettledAmount.Add(row.SettledAmount, amount)
		row.LastPrice.Set(price)
		if st.Fulfilled {
			row.Fulfilled = true
		}

		// Per-fill flooring only rounds down, so a close can never pay
		// more than shares*price/Ray.
		ceiling := new(big.Int).Mul(shares, price)
		ceiling.Quo(ceiling, epoch.Ray)
		if amount.Cmp(ceiling) > 0 {
			row.Anomalous = true
			anomalies = append(anomalies, Anomaly{
				Type:    AnomalyOverpaidSettlement,
				EpochID: ptrUint(st.EpochID),
				Tranche: st.Tranche,
				Details: fmt.Sprintf("paid %s for %s shares at price %s, ceiling %s", amount, shares, price, ceiling),
			})
		}
		t := totalFor(st.Tranche)
		t.Settled.Add(t.Settled, amount)
	}

	for _, flow := range flows {
		amount, err := parseAmount(flow.Amount)
		if err != nil {
			anomalies = append(anomalies, Anomaly{
				Type:    AnomalyBadAmount,
				Tranche: flow.Tranche,
				Details: fmt.Sprintf("disbursement %s: %v", flow.ID, err),
			})
			continue
		}
		t := totalFor(flow.Tranche)
		t.Disbursed.Add(t.Disbursed, amount)
	}

	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Strings(names)

	settledAll := big.NewInt(0)
	disbursedAll := big.NewInt(0)
	for _, name := range names {
		t := totals[name]
		settledAll.Add(settledAll, t.Settled)
		disbursedAll.Add(disbursedAll, t.Disbursed)
		if t.Disbursed.Cmp(t.Settled) > 0 {
			anomalies = append(anomalies, Anomaly{
				Type:    AnomalyOverDisbursement,
				Tranche: name,
				Details: fmt.Sprintf("disbursed %s exceeds settled %s", t.Disbursed, t.Settled),
			})
		}
	}

	if len(snapshots) > 0 {
		last := snapshots[len(snapshots)-1]
		escrow, err := parseAmount(last.EscrowBalance)
		if err != nil {
			anomalies = append(anomalies, Anomaly{
				Type:    AnomalyBadAmount,
				Details: fmt.Sprintf("snapshot %s escrow: %v", last.ID, err),
			})
		} else {
			expected := new(big.Int).Sub(settledAll, disbursedAll)
			if escrow.Cmp(expected) != 0 {
				anomalies = append(anomalies, Anomaly{
					Type:    AnomalyEscrowDrift,
					Details: fmt.Sprintf("escrow %s, settled minus disbursed %s", escrow, expected),
				})
			}
		}
	}

	rows := make([]*EpochRow, 0, len(rowIndex))
	for _, row := range rowIndex {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].EpochID != rows[j].EpochID {
			return rows[i].EpochID < rows[j].EpochID
		}
		return trancheRank(rows[i].Tranche) < trancheRank(rows[j].Tranche)
	})

	reportID := uuid.New()
	runDir := filepath.Join(outputDir, cfg.Now().UTC().Format("20060102T150405Z"))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: ensure output dir: %w", err)
	}
	reportPath := filepath.Join(runDir, fmt.Sprintf("settlements_%s.parquet", reportID))
	if err := writeReport(reportPath, reportID, rows); err != nil {
		return nil, err
	}
	anomalyPath := filepath.Join(runDir, fmt.Sprintf("anomalies_%s.csv", reportID))
	if err := writeAnomalies(anomalyPath, anomalies); err != nil {
		return nil, err
	}

	cfg.Logger.Info("audit complete",
		slog.String("report_id", reportID.String()),
		slog.Int("epochs", len(rows)),
		slog.Int("anomalies", len(anomalies)),
		slog.String("report", reportPath))

	return &Result{
		ReportID:    reportID,
		Rows:        rows,
		Anomalies:   anomalies,
		Totals:      totals,
		ReportPath:  reportPath,
		AnomalyPath: anomalyPath,
	}, nil
}

func trancheRank(name string) int {
	switch name {
	case tranche.Senior.String():
		return 0
	case tranche.Junior.String():
		return 1
	default:
		return 2
	}
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal: %q", raw)
	}
	return value, nil
}

func ptrUint(v uint64) *uint64 {
	out := v
	return &out
}
