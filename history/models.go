package history

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Distribution kinds persisted per waterfall run.
const (
	KindProfit   = "profit"
	KindLoss     = "loss"
	KindRecovery = "recovery"
)

// Redemption flow operations.
const (
	OpRequest  = "request"
	OpCancel   = "cancel"
	OpDisburse = "disburse"
)

// Distribution is one committed waterfall run. Amounts are stored as base-10
// strings; CoverDetail is a JSON object mapping cover names to their slice.
type Distribution struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence    uint64    `gorm:"uniqueIndex"`
	Kind        string    `gorm:"size:16;index"`
	Amount      string    `gorm:"size:64"`
	Fee         string    `gorm:"size:64"`
	Senior      string    `gorm:"size:64"`
	Junior      string    `gorm:"size:64"`
	CoverTotal  string    `gorm:"size:64"`
	CoverDetail string    `gorm:"type:text"`
	CreatedAt   time.Time
}

// Settlement is one tranche's share of an epoch close: the shares retired,
// the amount they were paid, and the ray-scaled price used.
type Settlement struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence  uint64    `gorm:"uniqueIndex:idx_settlements_seq_tranche"`
	EpochID   uint64    `gorm:"index"`
	Tranche   string    `gorm:"size:8;uniqueIndex:idx_settlements_seq_tranche"`
	Shares    string    `gorm:"size:64"`
	Amount    string    `gorm:"size:64"`
	Price     string    `gorm:"size:64"`
	Fulfilled bool
	CreatedAt time.Time
}

// RedemptionFlow is one lender-visible redemption operation.
type RedemptionFlow struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence  uint64    `gorm:"uniqueIndex"`
	Operation string    `gorm:"size:16;index"`
	Tranche   string    `gorm:"size:8;index"`
	Lender    string    `gorm:"size:64;index"`
	Shares    string    `gorm:"size:64"`
	Amount    string    `gorm:"size:64"`
	EpochID   uint64    `gorm:"index"`
	CreatedAt time.Time
}

// PoolSnapshot is the ledger totals after a committed operation. The audit
// tool replays these against the flows to confirm conservation.
type PoolSnapshot struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	SeniorAssets      string    `gorm:"size:64"`
	JuniorAssets      string    `gorm:"size:64"`
	SeniorLosses      string    `gorm:"size:64"`
	JuniorLosses      string    `gorm:"size:64"`
	SeniorSupply      string    `gorm:"size:64"`
	JuniorSupply      string    `gorm:"size:64"`
	ReserveBalance    string    `gorm:"size:64"`
	EscrowBalance     string    `gorm:"size:64"`
	CoverAssets       string    `gorm:"type:text"`
	CurrentEpoch      uint64    `gorm:"index"`
	ReservationTarget string    `gorm:"size:64"`
	CreatedAt         time.Time
}

// AutoMigrate performs all schema migrations for the history store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Distribution{},
		&Settlement{},
		&RedemptionFlow{},
		&PoolSnapshot{},
	)
}
