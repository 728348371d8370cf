package occupancy

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mjcumming/home-topology/internal/eventbus"
	"github.com/mjcumming/home-topology/internal/htlog"
	"github.com/mjcumming/home-topology/internal/htmetrics"
	"github.com/mjcumming/home-topology/internal/topology"
)

// EventType is the inbound event type the module subscribes to.
const EventType = "sensor.state_changed"

// ChangedEventType is the outbound semantic event the module emits on
// every observable state change.
const ChangedEventType = "occupancy.changed"

// Module is the stateful wrapper around the pure engine: it
// subscribes to the bus, drives engine operations, emits occupancy.changed,
// and tracks per-location runtime state.
type Module struct {
	mu     sync.Mutex
	store  *topology.Store
	bus    *eventbus.Bus
	states map[string]State
	token  eventbus.Token
}

// New constructs an unattached occupancy module.
func New() *Module {
	return &Module{states: make(map[string]State)}
}

// Attach captures the store and bus references, subscribes to
// sensor.state_changed with no filter, and registers the module's
// on_location_deleted cleanup hook.
func (m *Module) Attach(bus *eventbus.Bus, store *topology.Store) {
	m.mu.Lock()
	m.bus = bus
	m.store = store
	m.mu.Unlock()

	m.token = bus.Subscribe(eventbus.Subscription{
		EventType: EventType,
		Handler:   m.handleSensorEvent,
		ID:        "occupancy",
	})
	store.RegisterDeletionHook(m.OnLocationDeleted)
}

// OnLocationDeleted drops any tracked runtime state for a deleted location.
func (m *Module) OnLocationDeleted(locationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, locationID)
}

// OnLocationConfigChanged is a no-op hook point: config is resolved
// lazily from the store on every operation, so there is nothing to
// eagerly recompute.
func (m *Module) OnLocationConfigChanged(string, topology.ConfigBlob) {}

// --- config / state accessors --------------------------------------------

func (m *Module) configFor(locationID string) Config {
	blob := m.store.GetModuleConfig(locationID, ModuleID)
	cfg, err := ConfigFromBlob(blob)
	if err != nil {
		htlog.Component("occupancy").Warn().
			Str(htlog.FieldLocationID, locationID).
			Msg("invalid occupancy config blob; using defaults: " + err.Error())
		return DefaultConfig()
	}
	return cfg
}

// stateFor must be called with m.mu held.
func (m *Module) stateFor(locationID string) State {
	return m.states[locationID]
}

// --- sensor.state_changed dispatch ----------------------------------------

func (m *Module) handleSensorEvent(ev eventbus.Event) error {
	op, _ := ev.Payload["op"].(string)
	sourceID, _ := ev.Payload["source_id"].(string)
	timeout := parseDuration(ev.Payload["timeout"])
	trailing := parseDuration(ev.Payload["trailing_timeout"])
	now := ev.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	switch op {
	case "TRIGGER":
		return m.Trigger(ev.LocationID, sourceID, timeout, now)
	case "HOLD":
		return m.Hold(ev.LocationID, sourceID, now)
	case "RELEASE":
		return m.Release(ev.LocationID, sourceID, trailing, now)
	case "VACATE":
		return m.Vacate(ev.LocationID, now)
	case "LOCK":
		return m.Lock(ev.LocationID, sourceID, now)
	case "UNLOCK":
		return m.Unlock(ev.LocationID, sourceID, now)
	case "UNLOCK_ALL":
		return m.UnlockAll(ev.LocationID, now)
	default:
		// Unknown payload shapes are not this module's concern.
		return nil
	}
}

func parseDuration(v any) time.Duration {
	switch n := v.(type) {
	case time.Duration:
		return n
	case int:
		return time.Duration(n) * time.Second
	case int64:
		return time.Duration(n) * time.Second
	case float64:
		return time.Duration(n * float64(time.Second))
	default:
		return 0
	}
}

// --- direct API ----------------------------------------------------

func (m *Module) requireLocation(locationID string) error {
	if !m.store.Exists(locationID) {
		return &topology.ValidationError{Field: "location_id", Value: locationID, Message: "location does not exist"}
	}
	return nil
}

// Trigger applies an activity pulse to locationID.
func (m *Module) Trigger(locationID, sourceID string, timeout time.Duration, now time.Time) error {
	if err := m.requireLocation(locationID); err != nil {
		return err
	}
	return m.apply(locationID, now, fmt.Sprintf("trigger:%s", sourceID), func(s State, cfg Config) (State, error) {
		return Trigger(s, cfg, timeout, now)
	})
}

// Hold starts indefinite presence for sourceID at locationID.
func (m *Module) Hold(locationID, sourceID string, now time.Time) error {
	if err := m.requireLocation(locationID); err != nil {
		return err
	}
	return m.apply(locationID, now, fmt.Sprintf("hold:%s", sourceID), func(s State, _ Config) (State, error) {
		return Hold(s, sourceID, now), nil
	})
}

// Release ends presence for sourceID at locationID.
func (m *Module) Release(locationID, sourceID string, trailingTimeout time.Duration, now time.Time) error {
	if err := m.requireLocation(locationID); err != nil {
		return err
	}
	return m.apply(locationID, now, fmt.Sprintf("release:%s", sourceID), func(s State, cfg Config) (State, error) {
		return Release(s, cfg, sourceID, trailingTimeout, now)
	})
}

// Vacate forces locationID vacant.
func (m *Module) Vacate(locationID string, now time.Time) error {
	if err := m.requireLocation(locationID); err != nil {
		return err
	}
	return m.apply(locationID, now, "vacate", func(s State, _ Config) (State, error) {
		return Vacate(s), nil
	})
}

// Lock freezes locationID.
func (m *Module) Lock(locationID, sourceID string, now time.Time) error {
	if err := m.requireLocation(locationID); err != nil {
		return err
	}
	return m.apply(locationID, now, fmt.Sprintf("lock:%s", sourceID), func(s State, _ Config) (State, error) {
		return Lock(s, sourceID, now), nil
	})
}

// Unlock releases one outstanding lock on locationID.
func (m *Module) Unlock(locationID, sourceID string, now time.Time) error {
	if err := m.requireLocation(locationID); err != nil {
		return err
	}
	return m.apply(locationID, now, fmt.Sprintf("unlock:%s", sourceID), func(s State, _ Config) (State, error) {
		return Unlock(s, sourceID, now), nil
	})
}

// UnlockAll releases every outstanding lock on locationID.
func (m *Module) UnlockAll(locationID string, now time.Time) error {
	if err := m.requireLocation(locationID); err != nil {
		return err
	}
	return m.apply(locationID, now, "unlock_all", func(s State, _ Config) (State, error) {
		return UnlockAll(s, now), nil
	})
}

// VacateArea collects locationID and all of its descendants, and vacates
// them in reverse pre-order (children first). A locked location is
// skipped unless includeLocked is true, in which case it is unlocked
// (UNLOCK_ALL) before being vacated. Returns the ids actually
// vacated, in the order processed.
func (m *Module) VacateArea(locationID string, includeLocked bool, now time.Time) ([]string, error) {
	if err := m.requireLocation(locationID); err != nil {
		return nil, err
	}

	descendants := m.store.DescendantsOf(locationID)
	order := make([]string, 0, len(descendants)+1)
	order = append(order, locationID)
	for _, d := range descendants {
		order = append(order, d.ID)
	}
	// Reverse pre-order (root-first): puts the deepest descendants first
	// and locationID itself last, so every node is vacated after its children.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}

	var vacated []string
	for _, id := range order {
		m.mu.Lock()
		locked := m.stateFor(id).IsLocked()
		m.mu.Unlock()

		if locked && !includeLocked {
			continue
		}
		if locked && includeLocked {
			if err := m.UnlockAll(id, now); err != nil {
				return vacated, err
			}
		}
		if err := m.Vacate(id, now); err != nil {
			return vacated, err
		}
		vacated = append(vacated, id)
	}
	return vacated, nil
}

// --- core apply + propagation ---------------------------------------------

// apply runs a single engine transition against locationID's tracked
// state, emits occupancy.changed on observable change, and propagates the
// change upward (and mirrors it downward into follow_parent children).
func (m *Module) apply(locationID string, now time.Time, reason string, transition func(State, Config) (State, error)) error {
	m.mu.Lock()
	cfg := m.configFor(locationID)
	prev := m.stateFor(locationID)
	next, err := transition(prev, cfg)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.states[locationID] = next
	m.mu.Unlock()

	m.emitChanged(locationID, prev, next, reason, now)

	if cfg.ContributesToParent {
		m.propagateUpward(locationID, now)
	}
	m.mirrorDownward(locationID, now)
	return nil
}

func (m *Module) emitChanged(locationID string, prev, next State, reason string, now time.Time) {
	if equalObservable(prev, next) {
		return
	}
	htmetrics.OccupancyTransitionsTotal.WithLabelValues(reasonPrefix(reason)).Inc()

	payload := map[string]any{
		"occupied":          next.IsOccupied,
		"previous_occupied": prev.IsOccupied,
		"reason":            reason,
		"active_holds":      sortedKeys(next.ActiveHolds),
		"locked_by":         sortedKeys(next.LockedBy),
	}
	if next.OccupiedUntil != nil {
		payload["occupied_until"] = next.OccupiedUntil.UTC().Format(time.RFC3339)
	} else {
		payload["occupied_until"] = nil
	}

	if m.bus != nil {
		m.bus.Publish(eventbus.Event{
			Type:       ChangedEventType,
			Source:     ModuleID,
			LocationID: locationID,
			Payload:    payload,
			Timestamp:  now,
		})
	}
}

func reasonPrefix(reason string) string {
	for i, r := range reason {
		if r == ':' {
			return reason[:i]
		}
	}
	return reason
}

// propagateUpward walks ancestors nearest-first, recomputing each
// independent ancestor's aggregate state from its own contributing
// children, and stops at (excluding) the first follow_parent ancestor
// encountered.
func (m *Module) propagateUpward(locationID string, now time.Time) {
	ancestors := m.store.AncestorsOf(locationID)
	for _, a := range ancestors {
		cfg := m.configFor(a.ID)
		if cfg.Strategy == StrategyFollowParent {
			break
		}
		changed, prev, next := m.recomputeAncestor(a.ID, cfg, now)
		if !changed {
			continue
		}
		m.emitChanged(a.ID, prev, next, fmt.Sprintf("propagated:%s", locationID), now)
	}
}

// recomputeAncestor aggregates ancestorID's state from its direct,
// contributing children's currently tracked states.
func (m *Module) recomputeAncestor(ancestorID string, cfg Config, now time.Time) (changed bool, prev, next State) {
	m.mu.Lock()
	prev = m.stateFor(ancestorID)
	if prev.IsLocked() {
		m.mu.Unlock()
		return false, prev, prev
	}

	children := m.store.ChildrenOf(ancestorID)
	childIDs := make(map[string]struct{}, len(children))
	anyOccupied := false
	var maxCandidate *time.Time
	var heldChildren []string

	for _, c := range children {
		ccfg := m.configFor(c.ID)
		if !ccfg.ContributesToParent {
			continue
		}
		childIDs[c.ID] = struct{}{}
		cs := m.stateFor(c.ID)
		if !cs.IsOccupied {
			continue
		}
		anyOccupied = true
		if cs.OccupiedUntil == nil {
			heldChildren = append(heldChildren, c.ID)
		} else if maxCandidate == nil || cs.OccupiedUntil.After(*maxCandidate) {
			t := *cs.OccupiedUntil
			maxCandidate = &t
		}
	}
	sort.Strings(heldChildren)

	next = prev.clone()
	// Drop any stale synthetic (child-keyed) holds, then re-add live ones.
	retained := make(map[string]struct{})
	for k := range prev.ActiveHolds {
		if _, isChild := childIDs[k]; !isChild {
			retained[k] = struct{}{}
		}
	}
	for _, cid := range heldChildren {
		retained[cid] = struct{}{}
	}
	if len(retained) == 0 {
		next.ActiveHolds = nil
	} else {
		next.ActiveHolds = retained
	}

	switch {
	case len(heldChildren) > 0:
		next.OccupiedUntil = nil
		next.IsOccupied = true

	case anyOccupied:
		if next.OccupiedUntil == nil || (maxCandidate != nil && maxCandidate.After(*next.OccupiedUntil)) {
			next.OccupiedUntil = maxCandidate
		}
		next.IsOccupied = true

	default:
		// No contributing child is occupied. If the ancestor is still held
		// by some hold of its own (not child-derived), that is untouched by
		// this recompute. Otherwise, only a child-derived hold that just
		// disappeared gets the RELEASE-style trailing timeout; a plain
		// finite-timer ancestor keeps its own deadline and is only ticked
		// here, so a deadline that has already passed flips it vacant.
		if len(retained) > 0 {
			next.OccupiedUntil = nil
			next.IsOccupied = true
			break
		}

		wasHeldByChildren := false
		for k := range prev.ActiveHolds {
			if _, isChild := childIDs[k]; isChild {
				wasHeldByChildren = true
				break
			}
		}
		if !wasHeldByChildren {
			next = Tick(prev, now)
			break
		}

		t := now.Add(cfg.HoldReleaseTimeout)
		if next.OccupiedUntil != nil && next.OccupiedUntil.After(t) {
			// keep the longer-running existing deadline
		} else {
			next.OccupiedUntil = &t
		}
		next.IsOccupied = true
	}

	m.states[ancestorID] = next
	m.mu.Unlock()

	return !equalObservable(prev, next), prev, next
}

// mirrorDownward makes every direct follow_parent child of locationID
// mirror locationID's current state, cascading further down through any
// chain of follow_parent descendants.
func (m *Module) mirrorDownward(locationID string, now time.Time) {
	m.mu.Lock()
	parentState := m.stateFor(locationID)
	m.mu.Unlock()

	for _, child := range m.store.ChildrenOf(locationID) {
		ccfg := m.configFor(child.ID)
		if ccfg.Strategy != StrategyFollowParent {
			continue
		}

		m.mu.Lock()
		prev := m.stateFor(child.ID)
		if prev.IsLocked() {
			m.mu.Unlock()
			continue
		}
		next := prev.clone()
		next.IsOccupied = parentState.IsOccupied
		if parentState.OccupiedUntil != nil {
			t := *parentState.OccupiedUntil
			next.OccupiedUntil = &t
		} else {
			next.OccupiedUntil = nil
		}
		m.states[child.ID] = next
		m.mu.Unlock()

		m.emitChanged(child.ID, prev, next, fmt.Sprintf("propagated:%s", locationID), now)
		m.mirrorDownward(child.ID, now)
	}
}

// --- effective timeout / scheduling --------------------------------

// GetEffectiveTimeout returns the latest instant at which locationID's
// subtree will have been continuously vacant, or nil if the location or
// any descendant is currently held/locked (indefinite), or
// if the subtree is currently vacant with no future expiry.
func (m *Module) GetEffectiveTimeout(locationID string) *time.Time {
	t, indefinite := m.effectiveTimeout(locationID)
	if indefinite {
		return nil
	}
	return t
}

func (m *Module) effectiveTimeout(locationID string) (*time.Time, bool) {
	m.mu.Lock()
	s := m.stateFor(locationID)
	m.mu.Unlock()

	if s.IsHeld() || s.IsLocked() {
		return nil, true
	}

	var maxT *time.Time
	if s.OccupiedUntil != nil {
		t := *s.OccupiedUntil
		maxT = &t
	}

	for _, child := range m.store.ChildrenOf(locationID) {
		ct, indefinite := m.effectiveTimeout(child.ID)
		if indefinite {
			return nil, true
		}
		if ct != nil && (maxT == nil || ct.After(*maxT)) {
			maxT = ct
		}
	}
	return maxT, false
}

// GetNextTimeout returns the minimum occupied_until over every tracked
// location that is neither locked nor held, or nil if none exists.
func (m *Module) GetNextTimeout() *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	var min *time.Time
	for _, s := range m.states {
		if s.IsLocked() || s.IsHeld() || s.OccupiedUntil == nil {
			continue
		}
		if min == nil || s.OccupiedUntil.Before(*min) {
			t := *s.OccupiedUntil
			min = &t
		}
	}
	return min
}

// CheckTimeouts applies timer expiry to every tracked location, emitting
// occupancy.changed and propagating for each visible transition.
// The host is expected to call this on a cadence; the module itself owns
// no clock.
func (m *Module) CheckTimeouts(now time.Time) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)

	for _, id := range ids {
		m.mu.Lock()
		prev := m.stateFor(id)
		next := Tick(prev, now)
		m.states[id] = next
		cfg := m.configFor(id)
		m.mu.Unlock()

		if equalObservable(prev, next) {
			continue
		}
		m.emitChanged(id, prev, next, "tick", now)
		if cfg.ContributesToParent {
			m.propagateUpward(id, now)
		}
		m.mirrorDownward(id, now)
	}
}
