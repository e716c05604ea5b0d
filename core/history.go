package core

import "capstack/core/events"

// multiHistory forwards committed records to every recorder in order.
type multiHistory struct {
	recorders []HistoryRecorder
}

// MultiHistory combines several history recorders into one, so committed
// events can feed durable storage and live gauges at the same time. Nil
// entries are skipped; with no recorders left the result is a no-op.
func MultiHistory(recorders ...HistoryRecorder) HistoryRecorder {
	kept := make([]HistoryRecorder, 0, len(recorders))
	for _, rec := range recorders {
		if rec != nil {
			kept = append(kept, rec)
		}
	}
	switch len(kept) {
	case 0:
		return NoopHistory{}
	case 1:
		return kept[0]
	default:
		return &multiHistory{recorders: kept}
	}
}

func (m *multiHistory) RecordEvent(rec events.Record) {
	for _, r := range m.recorders {
		r.RecordEvent(rec)
	}
}

func (m *multiHistory) RecordSnapshot(snap Snapshot) {
	for _, r := range m.recorders {
		r.RecordSnapshot(snap)
	}
}
