package syncengine

import "github.com/Zideooop/Equipments-Management-Lite-sub000/internal/equipment"

// Decision is the outcome of resolving one incoming record.
type Decision int

const (
	// DecisionKeepLocal leaves the local copy untouched.
	DecisionKeepLocal Decision = iota
	// DecisionInsert adds a record the client did not hold.
	DecisionInsert
	// DecisionReplace overwrites the local copy with the remote one.
	DecisionReplace
	// DecisionSkip ignores an unknown record that arrives already deleted.
	DecisionSkip
)

func (d Decision) String() string {
	switch d {
	case DecisionInsert:
		return "insert"
	case DecisionReplace:
		return "replace"
	case DecisionSkip:
		return "skip"
	default:
		return "keep_local"
	}
}

// Resolve applies whole-record last-write-wins. The remote copy wins only when its
// update time is strictly later; ties keep the local copy. The returned record is the
// one the local store should hold afterwards.
func Resolve(local equipment.Record, exists bool, incoming equipment.Record) (equipment.Record, Decision) {
	if !exists {
		if incoming.IsDeleted {
			return equipment.Record{}, DecisionSkip
		}
		incoming.IsSynced = true
		incoming.PermanentDelete = false
		return incoming, DecisionInsert
	}
	if incoming.UpdateTime.After(local.UpdateTime) {
		incoming.IsSynced = true
		incoming.PermanentDelete = false
		return incoming, DecisionReplace
	}
	return local, DecisionKeepLocal
}
