// Package history mirrors committed pool operations into a relational store
// for reporting and offline audit. Recording happens after commit and never
// blocks or fails a ledger operation; write errors are logged and dropped.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"capstack/core"
	"capstack/core/events"
)

// Open connects to the configured history database.
func Open(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	case "postgres":
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("history: unknown driver %q", driver)
	}
}

// Recorder persists committed events and snapshots through GORM. It
// implements core.HistoryRecorder.
type Recorder struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewRecorder migrates the schema and wraps the connection.
func NewRecorder(db *gorm.DB, logger *slog.Logger) (*Recorder, error) {
	if db == nil {
		return nil, errors.New("history: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Recorder{db: db, logger: logger}, nil
}

// RecordEvent stores the rows derived from one committed event.
func (r *Recorder) RecordEvent(rec events.Record) {
	if r == nil {
		return
	}
	switch rec.Type {
	case events.TypeProfitDistributed:
		r.createDistribution(rec, KindProfit, attr(rec, "gross"), profitFee(rec), attr(rec, "seniorProfit"), attr(rec, "juniorProfit"), attr(rec, "coverProfit"))
	case events.TypeLossDistributed:
		r.createDistribution(rec, KindLoss, attr(rec, "loss"), "0", attr(rec, "seniorLoss"), attr(rec, "juniorLoss"), attr(rec, "coverAbsorbed"))
	case events.TypeLossRecovered:
		r.createDistribution(rec, KindRecovery, attr(rec, "recovery"), "0", attr(rec, "seniorRecovered"), attr(rec, "juniorRecovered"), attr(rec, "coverRecovered"))
	case events.TypeEpochClosed:
		r.createSettlements(rec)
	case events.TypeRedemptionRequested:
		r.createFlow(rec, OpRequest)
	case events.TypeRedemptionCancelled:
		r.createFlow(rec, OpCancel)
	case events.TypeRedemptionDisbursed:
		r.createFlow(rec, OpDisburse)
	}
}

// RecordSnapshot stores the post-commit ledger totals.
func (r *Recorder) RecordSnapshot(snap core.Snapshot) {
	if r == nil {
		return
	}
	row := PoolSnapshot{
		ID:                uuid.New(),
		SeniorAssets:      formatAmount(snap.Assets.Senior),
		JuniorAssets:      formatAmount(snap.Assets.Junior),
		SeniorLosses:      formatAmount(snap.Losses.Senior),
		JuniorLosses:      formatAmount(snap.Losses.Junior),
		SeniorSupply:      formatAmount(snap.SeniorSupply),
		JuniorSupply:      formatAmount(snap.JuniorSupply),
		ReserveBalance:    formatAmount(snap.ReserveBalance),
		EscrowBalance:     formatAmount(snap.EscrowBalance),
		CoverAssets:       coverAssetsJSON(snap),
		CurrentEpoch:      snap.CurrentEpoch,
		ReservationTarget: formatAmount(snap.ReservationTarget),
	}
	if err := r.db.Create(&row).Error; err != nil {
		r.logger.Warn("history snapshot write failed", slog.Any("error", err))
	}
}

func (r *Recorder) createDistribution(rec events.Record, kind, amount, fee, senior, junior, coverTotal string) {
	row := Distribution{
		ID:          uuid.New(),
		Sequence:    rec.Sequence,
		Kind:        kind,
		Amount:      amount,
		Fee:         fee,
		Senior:      senior,
		Junior:      junior,
		CoverTotal:  coverTotal,
		CoverDetail: coverDetailJSON(rec),
	}
	if err := r.db.Create(&row).Error; err != nil {
		r.logger.Warn("history distribution write failed",
			slog.String("kind", kind),
			slog.Uint64("sequence", rec.Sequence),
			slog.Any("error", err))
	}
}

func (r *Recorder) createSettlements(rec events.Record) {
	epochID := attrUint(rec, "epochId")
	fulfilled := attr(rec, "unmetDemand") == "0"
	rows := []Settlement{
		{
			ID:        uuid.New(),
			Sequence:  rec.Sequence,
			EpochID:   epochID,
			Tranche:   "senior",
			Shares:    attr(rec, "seniorShares"),
			Amount:    attr(rec, "seniorAmount"),
			Price:     attr(rec, "seniorPrice"),
			Fulfilled: fulfilled,
		},
		{
			ID:        uuid.New(),
			Sequence:  rec.Sequence,
			EpochID:   epochID,
			Tranche:   "junior",
			Shares:    attr(rec, "juniorShares"),
			Amount:    attr(rec, "juniorAmount"),
			Price:     attr(rec, "juniorPrice"),
			Fulfilled: fulfilled,
		},
	}
	if err := r.db.Create(&rows).Error; err != nil {
		r.logger.Warn("history settlement write failed",
			slog.Uint64("epoch", epochID),
			slog.Any("error", err))
	}
}

func (r *Recorder) createFlow(rec events.Record, operation string) {
	row := RedemptionFlow{
		ID:        uuid.New(),
		Sequence:  rec.Sequence,
		Operation: operation,
		Tranche:   attr(rec, "tranche"),
		Lender:    attr(rec, "lender"),
		Shares:    attr(rec, "shares"),
		Amount:    attr(rec, "amount"),
		EpochID:   attrUint(rec, "epochId"),
	}
	if row.Amount == "" {
		row.Amount = "0"
	}
	if err := r.db.Create(&row).Error; err != nil {
		r.logger.Warn("history redemption write failed",
			slog.String("operation", operation),
			slog.Uint64("sequence", rec.Sequence),
			slog.Any("error", err))
	}
}

func attr(rec events.Record, key string) string {
	value := strings.TrimSpace(rec.Attributes[key])
	if value == "" {
		return "0"
	}
	return value
}

func attrUint(rec events.Record, key string) uint64 {
	value, err := strconv.ParseUint(strings.TrimSpace(rec.Attributes[key]), 10, 64)
	if err != nil {
		return 0
	}
	return value
}

// profitFee derives the operator fee as gross minus the distributed pool
// profit.
func profitFee(rec events.Record) string {
	gross, okGross := new(big.Int).SetString(attr(rec, "gross"), 10)
	pool, okPool := new(big.Int).SetString(attr(rec, "poolProfit"), 10)
	if !okGross || !okPool {
		return "0"
	}
	fee := new(big.Int).Sub(gross, pool)
	if fee.Sign() < 0 {
		return "0"
	}
	return fee.String()
}

func coverDetailJSON(rec events.Record) string {
	var detail map[string]string
	for key, value := range rec.Attributes {
		if !strings.HasPrefix(key, events.CoverAttrPrefix) {
			continue
		}
		if detail == nil {
			detail = make(map[string]string)
		}
		detail[strings.TrimPrefix(key, events.CoverAttrPrefix)] = value
	}
	if detail == nil {
		return ""
	}
	encoded, err := json.Marshal(detail)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func coverAssetsJSON(snap core.Snapshot) string {
	if len(snap.Covers) == 0 {
		return ""
	}
	assets := make(map[string]string, len(snap.Covers))
	for _, cv := range snap.Covers {
		assets[cv.Name] = formatAmount(cv.Assets)
	}
	encoded, err := json.Marshal(assets)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
