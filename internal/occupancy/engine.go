package occupancy

import (
	"time"

	"github.com/mjcumming/home-topology/internal/topology"
)

// Trigger applies an activity pulse. timeout == 0 means
// "use config.DefaultTimeout"; a positive value is used verbatim; a
// negative value is a ValidationError. If the location is locked the
// event is dropped (state returned unchanged).
func Trigger(prev State, cfg Config, timeout time.Duration, now time.Time) (State, error) {
	if timeout < 0 {
		return prev, &topology.ValidationError{Field: "timeout", Value: timeout, Message: "timeout must not be negative"}
	}
	if prev.IsLocked() {
		return prev, nil
	}

	t := timeout
	if t == 0 {
		t = cfg.DefaultTimeout
	}
	candidate := now.Add(t)

	next := prev.clone()
	next.OccupiedUntil = laterOf(prev.OccupiedUntil, candidate, now)
	next.IsOccupied = true
	return next, nil
}

// laterOf implements the "extends, never shortens" rule: the new deadline
// is the later of the existing one (if it is still in the future) and the
// candidate.
func laterOf(existing *time.Time, candidate time.Time, now time.Time) *time.Time {
	if existing != nil && existing.After(now) && existing.After(candidate) {
		t := *existing
		return &t
	}
	t := candidate
	return &t
}

// Hold starts indefinite presence for sourceID. Adding a
// source already present is idempotent. A prior timer is preserved
// (not cleared) so it survives a later Release. Dropped while locked.
func Hold(prev State, sourceID string, _ time.Time) State {
	if prev.IsLocked() {
		return prev
	}
	next := prev.clone()
	next.ActiveHolds = setWith(prev.ActiveHolds, sourceID)
	next.IsOccupied = true
	return next
}

// Release ends presence for sourceID. Releasing an unknown
// source is a no-op. If holds remain, nothing else changes. Otherwise a
// trailing timeout is applied, never shortening an existing deadline that
// runs later. Dropped while locked.
func Release(prev State, cfg Config, sourceID string, trailingTimeout time.Duration, now time.Time) (State, error) {
	if trailingTimeout < 0 {
		return prev, &topology.ValidationError{Field: "trailing_timeout", Value: trailingTimeout, Message: "trailing_timeout must not be negative"}
	}
	if prev.IsLocked() {
		return prev, nil
	}
	if _, held := prev.ActiveHolds[sourceID]; !held {
		return prev, nil
	}

	next := prev.clone()
	next.ActiveHolds = setWithout(prev.ActiveHolds, sourceID)

	if len(next.ActiveHolds) > 0 {
		return next, nil
	}

	t := trailingTimeout
	if t == 0 {
		t = cfg.HoldReleaseTimeout
	}
	candidate := now.Add(t)

	if next.OccupiedUntil != nil && next.OccupiedUntil.After(candidate) {
		// Keep existing — do not shorten.
		return next, nil
	}
	c := candidate
	next.OccupiedUntil = &c
	return next, nil
}

// Vacate forces the location vacant. Dropped while locked.
func Vacate(prev State) State {
	if prev.IsLocked() {
		return prev
	}
	return State{
		IsOccupied:     false,
		OccupiedUntil:  nil,
		TimerRemaining: nil,
		ActiveHolds:    nil,
		LockedBy:       cloneSet(prev.LockedBy),
	}
}

// Lock freezes transitions for the location. The first lock
// suspends a running timer into TimerRemaining; a subsequent lock (while
// already locked) does not alter the suspended timer.
func Lock(prev State, sourceID string, now time.Time) State {
	next := prev.clone()
	firstLock := !prev.IsLocked()
	next.LockedBy = setWith(prev.LockedBy, sourceID)

	if firstLock && prev.OccupiedUntil != nil && prev.OccupiedUntil.After(now) {
		remaining := prev.OccupiedUntil.Sub(now)
		next.TimerRemaining = &remaining
		next.OccupiedUntil = nil
	}
	return next
}

// Unlock releases one outstanding lock. An unknown source is
// a no-op. When the last lock is released, a suspended timer resumes from
// where it left off.
func Unlock(prev State, sourceID string, now time.Time) State {
	next := prev.clone()
	next.LockedBy = setWithout(prev.LockedBy, sourceID)
	return resumeIfUnlocked(next, now)
}

// UnlockAll releases every outstanding lock, resuming a
// suspended timer identically to Unlock's last step.
func UnlockAll(prev State, now time.Time) State {
	next := prev.clone()
	next.LockedBy = nil
	return resumeIfUnlocked(next, now)
}

func resumeIfUnlocked(s State, now time.Time) State {
	if len(s.LockedBy) > 0 || s.TimerRemaining == nil {
		return s
	}
	resumed := now.Add(*s.TimerRemaining)
	s.OccupiedUntil = &resumed
	s.TimerRemaining = nil
	return s
}

// Tick applies timer expiry. Locked or
// held locations are unaffected; otherwise an expired OccupiedUntil
// flips the location vacant.
func Tick(prev State, now time.Time) State {
	if prev.IsLocked() || prev.IsHeld() {
		return prev
	}
	if prev.OccupiedUntil == nil || prev.OccupiedUntil.After(now) {
		return prev
	}
	next := prev.clone()
	next.OccupiedUntil = nil
	next.IsOccupied = false
	return next
}
