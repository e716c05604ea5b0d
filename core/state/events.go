package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"capstack/core/events"
	"capstack/storage"
)

// Persisted event log. Sequences start at 1 and never repeat; the log is the
// replay source for websocket subscribers that reconnect with a cursor.

// LastEventSequence returns the sequence of the most recently appended event,
// zero when the log is empty.
func (m *Manager) LastEventSequence() (uint64, error) {
	data, err := m.get(keyEventSeq)
	if err != nil {
		if err == storage.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	var seq uint64
	if err := rlp.DecodeBytes(data, &seq); err != nil {
		return 0, fmt.Errorf("state: decode event sequence: %w", err)
	}
	return seq, nil
}

// AppendEvent assigns the next sequence to the record and persists it. The
// returned record carries the assigned sequence.
func (m *Manager) AppendEvent(rec events.Record) (events.Record, error) {
	seq, err := m.LastEventSequence()
	if err != nil {
		return events.Record{}, err
	}
	rec.Sequence = seq + 1
	encoded, err := rlp.EncodeToBytes(newEventRecord(rec))
	if err != nil {
		return events.Record{}, fmt.Errorf("state: encode event: %w", err)
	}
	if err := m.put(eventLogKey(rec.Sequence), encoded); err != nil {
		return events.Record{}, err
	}
	seqEncoded, err := rlp.EncodeToBytes(rec.Sequence)
	if err != nil {
		return events.Record{}, fmt.Errorf("state: encode event sequence: %w", err)
	}
	if err := m.put(keyEventSeq, seqEncoded); err != nil {
		return events.Record{}, err
	}
	return rec, nil
}

// EventsAfter returns up to limit events with sequences strictly greater than
// after, in sequence order. A limit of zero or less means no cap.
func (m *Manager) EventsAfter(after uint64, limit int) ([]events.Record, error) {
	last, err := m.LastEventSequence()
	if err != nil {
		return nil, err
	}
	if after >= last {
		return nil, nil
	}
	var out []events.Record
	for seq := after + 1; seq <= last; seq++ {
		data, err := m.get(eventLogKey(seq))
		if err != nil {
			if err == storage.ErrNotFound {
				continue
			}
			return nil, err
		}
		var rec eventRecord
		if err := rlp.DecodeBytes(data, &rec); err != nil {
			return nil, fmt.Errorf("state: decode event %d: %w", seq, err)
		}
		out = append(out, rec.record())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
