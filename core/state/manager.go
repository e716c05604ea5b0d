// Package state persists the pool ledger and stages multi-record mutations so
// an operation commits all of its writes or none of them.
package state

import (
	"errors"
	"fmt"

	"capstack/crypto"
	"capstack/storage"
	"capstack/tranche"
)

var (
	ErrStagingActive      = errors.New("state: staging already begun")
	ErrNoStaging          = errors.New("state: no staging in progress")
	ErrInsufficientFunds  = errors.New("state: insufficient account balance")
	ErrInsufficientShares = errors.New("state: insufficient share balance")
)

// Manager wraps the key-value store with typed accessors and an optional
// staging overlay. The pool serialises access behind its own mutex, so the
// manager carries no locks. While staging is active every write lands in the
// overlay and every read sees overlay entries first; Commit flushes the
// overlay to the database, Discard drops it.
type Manager struct {
	db      storage.Database
	overlay map[string]overlayEntry
}

type overlayEntry struct {
	value   []byte
	deleted bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens a staging overlay. Staging never nests: a second Begin before
// Commit or Discard is a programming error.
func (m *Manager) Begin() error {
	if m.overlay != nil {
		return ErrStagingActive
	}
	m.overlay = make(map[string]overlayEntry)
	return nil
}

// Commit flushes the overlay to the database and closes staging.
func (m *Manager) Commit() error {
	if m.overlay == nil {
		return ErrNoStaging
	}
	for key, entry := range m.overlay {
		if entry.deleted {
			if err := m.db.Delete([]byte(key)); err != nil {
				return fmt.Errorf("state: commit delete %q: %w", key, err)
			}
			continue
		}
		if err := m.db.Put([]byte(key), entry.value); err != nil {
			return fmt.Errorf("state: commit put %q: %w", key, err)
		}
	}
	m.overlay = nil
	return nil
}

// Discard drops the overlay without touching the database. Safe to call when
// no staging is active.
func (m *Manager) Discard() {
	m.overlay = nil
}

// Staging reports whether an overlay is open.
func (m *Manager) Staging() bool {
	return m.overlay != nil
}

func (m *Manager) get(key string) ([]byte, error) {
	if m.overlay != nil {
		if entry, ok := m.overlay[key]; ok {
			if entry.deleted {
				return nil, storage.ErrNotFound
			}
			return entry.value, nil
		}
	}
	return m.db.Get([]byte(key))
}

func (m *Manager) put(key string, value []byte) error {
	if m.overlay != nil {
		m.overlay[key] = overlayEntry{value: value}
		return nil
	}
	return m.db.Put([]byte(key), value)
}

func (m *Manager) del(key string) error {
	if m.overlay != nil {
		m.overlay[key] = overlayEntry{deleted: true}
		return nil
	}
	return m.db.Delete([]byte(key))
}

// Storage keys. Epoch ids and event sequences are fixed-width hex so related
// keys sort in numeric order.
const (
	keyInitialized  = "pool/initialised"
	keyAssets       = "pool/assets"
	keyLosses       = "pool/losses"
	keyCovers       = "pool/covers"
	keyTracker      = "pool/yield-tracker"
	keyReservation  = "pool/reservation-target"
	keyCurrentEpoch = "epoch/current"
	keyEventSeq     = "events/sequence"
)

func pendingEpochsKey(t tranche.Tranche) string {
	return fmt.Sprintf("epoch/pending/%s", t)
}

func epochInfoKey(t tranche.Tranche, id uint64) string {
	return fmt.Sprintf("epoch/info/%s/%016x", t, id)
}

func lenderRecordKey(t tranche.Tranche, lender crypto.Address) string {
	return fmt.Sprintf("vault/lender/%s/%x", t, lender.Bytes())
}

func accountKey(addr crypto.Address) string {
	return fmt.Sprintf("account/%x", addr.Bytes())
}

func shareSupplyKey(t tranche.Tranche) string {
	return fmt.Sprintf("shares/supply/%s", t)
}

func shareBalanceKey(t tranche.Tranche, addr crypto.Address) string {
	return fmt.Sprintf("shares/balance/%s/%x", t, addr.Bytes())
}

func eventLogKey(seq uint64) string {
	return fmt.Sprintf("events/log/%016x", seq)
}
