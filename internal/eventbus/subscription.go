package eventbus

// Handler processes a single event. Returning an error (or panicking) is
// isolated by the bus: it is logged with the handler's identifier and the
// triggering event type, and never prevents delivery to other handlers.
type Handler func(Event) error

// Subscription describes a filter and the handler to invoke for matching
// events.
type Subscription struct {
	// EventType, if non-empty, must match exactly.
	EventType string
	// LocationID is the filter anchor; "" means "no location filter".
	LocationID         string
	IncludeAncestors   bool
	IncludeDescendants bool
	Handler            Handler

	// ID is a caller-facing label used only for logging/metrics. Optional;
	// the bus falls back to the opaque Token if empty.
	ID string
}

// Token identifies an active subscription, returned by Subscribe and
// accepted by Unsubscribe. Backed by a UUID rather than a counter so
// tokens stay stable and unique across a process that tears down and
// rebuilds its bus (e.g. in tests).
type Token string

// LocationManager supplies the ancestor/descendant relationships used to
// evaluate hierarchy-aware filters. *topology.Store satisfies this
// interface; if none is set via SetLocationManager, hierarchy filters
// degrade to exact-location matching.
type LocationManager interface {
	IsAncestor(candidateAncestor, id string) bool
}

// matches reports whether the subscription matches the event: event_type
// match AND (no location anchor, OR exact location match, OR hierarchy
// match via the location manager).
func (sub *Subscription) matches(ev Event, locMgr LocationManager) bool {
	if sub.EventType != "" && sub.EventType != ev.Type {
		return false
	}
	if sub.LocationID == "" {
		return true
	}
	if ev.LocationID == "" {
		// Events with no location only match subscriptions without an anchor.
		return false
	}
	if ev.LocationID == sub.LocationID {
		return true
	}
	if locMgr == nil {
		return false
	}
	if sub.IncludeAncestors && locMgr.IsAncestor(ev.LocationID, sub.LocationID) {
		return true
	}
	if sub.IncludeDescendants && locMgr.IsAncestor(sub.LocationID, ev.LocationID) {
		return true
	}
	return false
}
