package occupancy

import (
	"sort"
	"time"
)

// StateVersion is the schema version stamped into every StateBlob
// produced by DumpState.
const StateVersion = 2

// LocationStateBlob is the serializable form of one location's State.
type LocationStateBlob struct {
	Occupied              bool      `json:"occupied" yaml:"occupied"`
	OccupiedUntil         *time.Time `json:"occupied_until,omitempty" yaml:"occupied_until,omitempty"`
	TimerRemainingSeconds *int64    `json:"timer_remaining_seconds,omitempty" yaml:"timer_remaining_seconds,omitempty"`
	ActiveHolds           []string  `json:"active_holds,omitempty" yaml:"active_holds,omitempty"`
	LockedBy              []string  `json:"locked_by,omitempty" yaml:"locked_by,omitempty"`
}

// StateBlob is the full snapshot produced by DumpState and accepted by
// RestoreState.
type StateBlob struct {
	Version   int                          `json:"version" yaml:"version"`
	SavedAt   time.Time                    `json:"saved_at" yaml:"saved_at"`
	Locations map[string]LocationStateBlob `json:"locations" yaml:"locations"`
}

// DumpState snapshots every tracked location's runtime state.
func (m *Module) DumpState(now time.Time) StateBlob {
	m.mu.Lock()
	defer m.mu.Unlock()

	blob := StateBlob{
		Version:   StateVersion,
		SavedAt:   now,
		Locations: make(map[string]LocationStateBlob, len(m.states)),
	}
	for id, s := range m.states {
		rec := LocationStateBlob{
			Occupied:    s.IsOccupied,
			ActiveHolds: sortedKeys(s.ActiveHolds),
			LockedBy:    sortedKeys(s.LockedBy),
		}
		if s.OccupiedUntil != nil {
			t := *s.OccupiedUntil
			rec.OccupiedUntil = &t
		}
		if s.TimerRemaining != nil {
			secs := int64(s.TimerRemaining.Seconds())
			rec.TimerRemainingSeconds = &secs
		}
		blob.Locations[id] = rec
	}
	return blob
}

// RestoreState replaces the module's tracked state from a previously
// dumped blob. A version mismatch is rejected outright, falling
// back to an empty state. Locked locations are restored unconditionally
// (locks survive restarts); unlocked records older than maxAge are
// dropped. Any surviving record whose occupied_until already lies in the
// past is normalized to vacant. No events are emitted for restored
// state — a subsequent CheckTimeouts call will drive any further
// transitions the host expects.
func (m *Module) RestoreState(blob StateBlob, now time.Time, maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if blob.Version != StateVersion {
		m.states = make(map[string]State)
		return
	}

	age := now.Sub(blob.SavedAt)
	next := make(map[string]State, len(blob.Locations))

	ids := make([]string, 0, len(blob.Locations))
	for id := range blob.Locations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec := blob.Locations[id]
		locked := len(rec.LockedBy) > 0
		if !locked && age > maxAge {
			continue
		}

		s := State{
			IsOccupied:  rec.Occupied,
			ActiveHolds: toSet(rec.ActiveHolds),
			LockedBy:    toSet(rec.LockedBy),
		}
		if rec.OccupiedUntil != nil {
			t := *rec.OccupiedUntil
			s.OccupiedUntil = &t
		}
		if rec.TimerRemainingSeconds != nil {
			d := time.Duration(*rec.TimerRemainingSeconds) * time.Second
			s.TimerRemaining = &d
		}

		if s.OccupiedUntil != nil && s.OccupiedUntil.Before(now) {
			s.IsOccupied = false
			s.OccupiedUntil = nil
		}

		next[id] = s
	}

	m.states = next
}

func toSet(ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
