package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"capstack/cover"
	"capstack/storage"
	"capstack/tranche"
)

// Initialized reports whether the pool records have been seeded.
func (m *Manager) Initialized() (bool, error) {
	_, err := m.get(keyInitialized)
	if err != nil {
		if err == storage.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SetInitialized marks the pool records as seeded.
func (m *Manager) SetInitialized() error {
	encoded, err := rlp.EncodeToBytes(uint64(1))
	if err != nil {
		return fmt.Errorf("state: encode init marker: %w", err)
	}
	return m.put(keyInitialized, encoded)
}

// TrancheAssets returns the persisted tranche principal. Missing entries
// default to zero on both sides.
func (m *Manager) TrancheAssets() (tranche.Assets, error) {
	data, err := m.get(keyAssets)
	if err != nil {
		if err == storage.ErrNotFound {
			return tranche.NewAssets(nil, nil), nil
		}
		return tranche.Assets{}, err
	}
	var rec assetsRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return tranche.Assets{}, fmt.Errorf("state: decode tranche assets: %w", err)
	}
	return rec.assets(), nil
}

// SetTrancheAssets overwrites the persisted tranche principal.
func (m *Manager) SetTrancheAssets(assets tranche.Assets) error {
	encoded, err := rlp.EncodeToBytes(newAssetsRecord(assets))
	if err != nil {
		return fmt.Errorf("state: encode tranche assets: %w", err)
	}
	return m.put(keyAssets, encoded)
}

// TrancheLosses returns the outstanding unrecovered loss per tranche.
func (m *Manager) TrancheLosses() (tranche.Losses, error) {
	data, err := m.get(keyLosses)
	if err != nil {
		if err == storage.ErrNotFound {
			return tranche.NewLosses(nil, nil), nil
		}
		return tranche.Losses{}, err
	}
	var rec lossesRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return tranche.Losses{}, fmt.Errorf("state: decode tranche losses: %w", err)
	}
	return rec.losses(), nil
}

// SetTrancheLosses overwrites the outstanding unrecovered loss per tranche.
func (m *Manager) SetTrancheLosses(losses tranche.Losses) error {
	encoded, err := rlp.EncodeToBytes(newLossesRecord(losses))
	if err != nil {
		return fmt.Errorf("state: encode tranche losses: %w", err)
	}
	return m.put(keyLosses, encoded)
}

// Covers returns the configured first-loss covers in waterfall order.
func (m *Manager) Covers() ([]cover.Cover, error) {
	data, err := m.get(keyCovers)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var rec coverListRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, fmt.Errorf("state: decode covers: %w", err)
	}
	return rec.covers(), nil
}

// SetCovers overwrites the cover schedule. Order is preserved as given.
func (m *Manager) SetCovers(covers []cover.Cover) error {
	encoded, err := rlp.EncodeToBytes(newCoverListRecord(covers))
	if err != nil {
		return fmt.Errorf("state: encode covers: %w", err)
	}
	return m.put(keyCovers, encoded)
}

// YieldTracker returns the senior yield accrual tracker, or nil when none has
// been seeded yet.
func (m *Manager) YieldTracker() (*tranche.SeniorYieldTracker, error) {
	data, err := m.get(keyTracker)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var rec trackerRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, fmt.Errorf("state: decode yield tracker: %w", err)
	}
	return rec.tracker(), nil
}

// SetYieldTracker overwrites the tracker. A nil tracker clears the record,
// which is the steady state for the risk-adjusted policy.
func (m *Manager) SetYieldTracker(tracker *tranche.SeniorYieldTracker) error {
	if tracker == nil {
		return m.del(keyTracker)
	}
	encoded, err := rlp.EncodeToBytes(newTrackerRecord(tracker))
	if err != nil {
		return fmt.Errorf("state: encode yield tracker: %w", err)
	}
	return m.put(keyTracker, encoded)
}

// CurrentEpoch returns the open redemption epoch counter. A fresh database
// starts at epoch 1.
func (m *Manager) CurrentEpoch() (uint64, error) {
	data, err := m.get(keyCurrentEpoch)
	if err != nil {
		if err == storage.ErrNotFound {
			return 1, nil
		}
		return 0, err
	}
	var id uint64
	if err := rlp.DecodeBytes(data, &id); err != nil {
		return 0, fmt.Errorf("state: decode current epoch: %w", err)
	}
	return id, nil
}

// SetCurrentEpoch overwrites the open redemption epoch counter.
func (m *Manager) SetCurrentEpoch(id uint64) error {
	encoded, err := rlp.EncodeToBytes(id)
	if err != nil {
		return fmt.Errorf("state: encode current epoch: %w", err)
	}
	return m.put(keyCurrentEpoch, encoded)
}

// ReservationTarget returns the liquidity amount the pool should keep
// reserved for the next settlement. Missing entries default to zero.
func (m *Manager) ReservationTarget() (*big.Int, error) {
	data, err := m.get(keyReservation)
	if err != nil {
		if err == storage.ErrNotFound {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	target := new(big.Int)
	if err := rlp.DecodeBytes(data, target); err != nil {
		return nil, fmt.Errorf("state: decode reservation target: %w", err)
	}
	return target, nil
}

// SetReservationTarget overwrites the reserved liquidity amount.
func (m *Manager) SetReservationTarget(target *big.Int) error {
	encoded, err := rlp.EncodeToBytes(storedAmount(target))
	if err != nil {
		return fmt.Errorf("state: encode reservation target: %w", err)
	}
	return m.put(keyReservation, encoded)
}
