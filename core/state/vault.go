package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"capstack/crypto"
	"capstack/epoch"
	"capstack/storage"
	"capstack/tranche"
	"capstack/vault"
)

// The manager satisfies vault.State so the redemption ledger reads and writes
// through the same staging overlay as the rest of an operation.

// RedemptionEpoch returns the stored epoch fill record, or nil when the epoch
// has never received a request.
func (m *Manager) RedemptionEpoch(t tranche.Tranche, id uint64) (*epoch.Info, error) {
	data, err := m.get(epochInfoKey(t, id))
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var rec epochInfoRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, fmt.Errorf("state: decode epoch %d: %w", id, err)
	}
	return rec.info(), nil
}

// PutRedemptionEpoch overwrites the stored epoch fill record.
func (m *Manager) PutRedemptionEpoch(t tranche.Tranche, info *epoch.Info) error {
	if info == nil {
		return fmt.Errorf("state: nil epoch info")
	}
	encoded, err := rlp.EncodeToBytes(newEpochInfoRecord(info))
	if err != nil {
		return fmt.Errorf("state: encode epoch %d: %w", info.ID, err)
	}
	return m.put(epochInfoKey(t, info.ID), encoded)
}

// DeleteRedemptionEpoch removes the stored epoch fill record.
func (m *Manager) DeleteRedemptionEpoch(t tranche.Tranche, id uint64) error {
	return m.del(epochInfoKey(t, id))
}

// PendingEpochIDs returns the ids of epochs with unfilled demand, oldest
// first.
func (m *Manager) PendingEpochIDs(t tranche.Tranche) ([]uint64, error) {
	data, err := m.get(pendingEpochsKey(t))
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var rec pendingEpochsRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, fmt.Errorf("state: decode pending epochs: %w", err)
	}
	return rec.IDs, nil
}

// SetPendingEpochIDs overwrites the pending epoch index. An empty list clears
// the record.
func (m *Manager) SetPendingEpochIDs(t tranche.Tranche, ids []uint64) error {
	if len(ids) == 0 {
		return m.del(pendingEpochsKey(t))
	}
	encoded, err := rlp.EncodeToBytes(pendingEpochsRecord{IDs: ids})
	if err != nil {
		return fmt.Errorf("state: encode pending epochs: %w", err)
	}
	return m.put(pendingEpochsKey(t), encoded)
}

// LenderRecord returns the stored redemption history for the lender, or nil
// when the lender has never requested a redemption.
func (m *Manager) LenderRecord(t tranche.Tranche, lender crypto.Address) (*vault.LenderRecord, error) {
	data, err := m.get(lenderRecordKey(t, lender))
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var rec lenderStateRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, fmt.Errorf("state: decode lender record: %w", err)
	}
	return rec.lender(), nil
}

// PutLenderRecord overwrites the lender's redemption history.
func (m *Manager) PutLenderRecord(t tranche.Tranche, lender crypto.Address, rec *vault.LenderRecord) error {
	if rec == nil {
		return fmt.Errorf("state: nil lender record")
	}
	encoded, err := rlp.EncodeToBytes(newLenderStateRecord(rec))
	if err != nil {
		return fmt.Errorf("state: encode lender record: %w", err)
	}
	return m.put(lenderRecordKey(t, lender), encoded)
}
