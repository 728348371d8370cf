package topology

import (
	"sort"
	"sync"

	"github.com/mjcumming/home-topology/internal/htlog"
)

// DeletionHook is invoked once per deleted location, before the location's
// data is removed from the store. Hooks are expected to represent a
// module's on_location_deleted callback; a panic inside a hook is logged
// and swallowed rather than propagated to the caller.
type DeletionHook func(locationID string)

// Store owns the location tree, the entity-to-location reverse index, and
// per-location module configuration. All public methods are synchronous
// and atomic with respect to the location tree's invariants.
type Store struct {
	mu sync.RWMutex

	locations map[string]*Location
	// children maps a parent id (or "" for top-level) to the ordered ids of
	// its direct children, preserving insertion order.
	children map[string][]string
	// entityIndex is the reverse index: entity id -> location id.
	entityIndex map[string]string

	hooks []DeletionHook
}

// NewStore constructs an empty location store.
func NewStore() *Store {
	return &Store{
		locations:   make(map[string]*Location),
		children:    make(map[string][]string),
		entityIndex: make(map[string]string),
	}
}

// RegisterDeletionHook registers a callback fired for every location that
// is about to be deleted, in registration order, before that location's
// data is removed. Modules register one from their Attach (e.g.
// occupancy.Module) to implement on_location_deleted.
func (s *Store) RegisterDeletionHook(h DeletionHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// --- Mutations -------------------------------------------------------------

// CreateLocation creates a new location. parentID == "" means top-level.
func (s *Store) CreateLocation(id, name, parentID string, isExplicitRoot bool, haAreaID string, aliases []string) (*Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		return nil, newValidationError("id", "id must not be empty", id)
	}
	if _, exists := s.locations[id]; exists {
		return nil, newValidationError("id", "id already exists", id)
	}
	if parentID != "" {
		if _, ok := s.locations[parentID]; !ok {
			return nil, newValidationError("parent_id", "parent does not exist", parentID)
		}
		if parentID == id {
			return nil, newValidationError("parent_id", "location cannot be its own parent", parentID)
		}
	}

	loc := &Location{
		ID:             id,
		Name:           name,
		ParentID:       parentID,
		IsExplicitRoot: isExplicitRoot,
		HAAreaID:       haAreaID,
		EntityIDs:      nil,
		Aliases:        append([]string(nil), aliases...),
		Modules:        nil,
	}
	s.locations[id] = loc
	s.children[parentID] = append(s.children[parentID], id)

	return loc.clone(), nil
}

// UpdateLocation mutates name/parent/aliases. A nil pointer argument means
// "keep current". parentID, when non-nil and pointing at an empty string,
// means "set parent to None".
func (s *Store) UpdateLocation(id string, name *string, parentID *string, aliases *[]string) (*Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, ok := s.locations[id]
	if !ok {
		return nil, newValidationError("id", "location does not exist", id)
	}

	newParent := loc.ParentID
	parentChanged := false
	if parentID != nil && *parentID != loc.ParentID {
		newParent = *parentID
		parentChanged = true

		if newParent != "" {
			if _, ok := s.locations[newParent]; !ok {
				return nil, newValidationError("parent_id", "parent does not exist", newParent)
			}
			if newParent == id {
				return nil, newValidationError("parent_id", "location cannot be its own parent", newParent)
			}
			if s.introducesCycle(id, newParent) {
				return nil, newValidationError("parent_id", "reparenting would introduce a cycle", newParent)
			}
		}
	}

	if name != nil {
		loc.Name = *name
	}
	if aliases != nil {
		loc.Aliases = append([]string(nil), (*aliases)...)
	}
	if parentChanged {
		s.removeChild(loc.ParentID, id)
		loc.ParentID = newParent
		s.children[newParent] = append(s.children[newParent], id)
	}

	return loc.clone(), nil
}

// introducesCycle reports whether reparenting `id` under `newParent` would
// make `id` an ancestor of itself.
func (s *Store) introducesCycle(id, newParent string) bool {
	cur := newParent
	seen := make(map[string]bool)
	for cur != "" {
		if cur == id || seen[cur] {
			return true
		}
		seen[cur] = true
		next, ok := s.locations[cur]
		if !ok {
			return false
		}
		cur = next.ParentID
	}
	return false
}

func (s *Store) removeChild(parentID, childID string) {
	lst := s.children[parentID]
	out := lst[:0]
	for _, c := range lst {
		if c != childID {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		delete(s.children, parentID)
	} else {
		s.children[parentID] = out
	}
}

// DeleteLocation removes a location honoring the cascade/orphanChildren
// flags, invoking registered deletion hooks before each removal and
// returning the ids deleted, children-first.
func (s *Store) DeleteLocation(id string, cascade, orphanChildren bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locations[id]; !ok {
		return nil, newValidationError("id", "location does not exist", id)
	}

	kids := s.children[id]
	hasChildren := len(kids) > 0

	switch {
	case !hasChildren:
		s.fireDeletionHook(id)
		s.removeOne(id)
		return []string{id}, nil

	case cascade:
		order := s.descendantsPreOrderLocked(id)
		// Delete bottom-up: reverse of pre-order descendants, then id.
		deleteOrder := make([]string, 0, len(order)+1)
		for i := len(order) - 1; i >= 0; i-- {
			deleteOrder = append(deleteOrder, order[i])
		}
		deleteOrder = append(deleteOrder, id)
		for _, delID := range deleteOrder {
			s.fireDeletionHook(delID)
			s.removeOne(delID)
		}
		return deleteOrder, nil

	case orphanChildren:
		for _, childID := range append([]string(nil), kids...) {
			child := s.locations[childID]
			s.removeChild(id, childID)
			child.ParentID = ""
			child.IsExplicitRoot = false
			s.children[""] = append(s.children[""], childID)
		}
		s.fireDeletionHook(id)
		s.removeOne(id)
		return []string{id}, nil

	default:
		return nil, newValidationError("id", "has children", id)
	}
}

func (s *Store) fireDeletionHook(id string) {
	for _, h := range s.hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					htlog.Component("topology").Warn().
						Str(htlog.FieldLocationID, id).
						Msg("on_location_deleted hook panicked; swallowed")
				}
			}()
			h(id)
		}()
	}
}

// removeOne deletes a single location's data: drops it from its parent's
// child list, drops its own (now-empty, since children are deleted
// bottom-up by the caller) child entry, and clears its entity mappings.
func (s *Store) removeOne(id string) {
	loc := s.locations[id]
	if loc == nil {
		return
	}
	s.removeChild(loc.ParentID, id)
	delete(s.children, id)
	for _, eid := range loc.EntityIDs {
		delete(s.entityIndex, eid)
	}
	delete(s.locations, id)
}

// --- Queries -----------------------------------------------------------

// Get returns a copy of the location, or nil if it does not exist.
func (s *Store) Get(id string) *Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.locations[id]
	if !ok {
		return nil
	}
	return loc.clone()
}

// Exists reports whether a location id is present.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.locations[id]
	return ok
}

// ParentOf returns the parent location, or nil if the location is
// top-level or does not exist.
func (s *Store) ParentOf(id string) *Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.locations[id]
	if !ok || loc.ParentID == "" {
		return nil
	}
	return s.locations[loc.ParentID].clone()
}

// ChildrenOf returns the direct children, in insertion order.
func (s *Store) ChildrenOf(id string) []*Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.childrenOfLocked(id)
}

func (s *Store) childrenOfLocked(id string) []*Location {
	ids := s.children[id]
	out := make([]*Location, 0, len(ids))
	for _, cid := range ids {
		out = append(out, s.locations[cid].clone())
	}
	return out
}

// AncestorsOf walks the parent chain nearest-first, excluding self.
func (s *Store) AncestorsOf(id string) []*Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ancestorsOfLocked(id)
}

func (s *Store) ancestorsOfLocked(id string) []*Location {
	var out []*Location
	loc, ok := s.locations[id]
	if !ok {
		return nil
	}
	cur := loc.ParentID
	seen := make(map[string]bool)
	for cur != "" && !seen[cur] {
		seen[cur] = true
		p, ok := s.locations[cur]
		if !ok {
			break
		}
		out = append(out, p.clone())
		cur = p.ParentID
	}
	return out
}

// IsAncestor reports whether candidateAncestor is an ancestor of id.
func (s *Store) IsAncestor(candidateAncestor, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.locations[id]
	if !ok {
		return false
	}
	cur := loc.ParentID
	seen := make(map[string]bool)
	for cur != "" && !seen[cur] {
		if cur == candidateAncestor {
			return true
		}
		seen[cur] = true
		p, ok := s.locations[cur]
		if !ok {
			break
		}
		cur = p.ParentID
	}
	return false
}

// DescendantsOf returns the descendants in pre-order, excluding self.
func (s *Store) DescendantsOf(id string) []*Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.descendantsPreOrderLocked(id)
	out := make([]*Location, 0, len(ids))
	for _, cid := range ids {
		out = append(out, s.locations[cid].clone())
	}
	return out
}

func (s *Store) descendantsPreOrderLocked(id string) []string {
	var out []string
	var walk func(string)
	walk = func(cur string) {
		for _, childID := range s.children[cur] {
			out = append(out, childID)
			walk(childID)
		}
	}
	walk(id)
	return out
}

// AllLocations returns every location in the store, in no particular order.
func (s *Store) AllLocations() []*Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Location, 0, len(s.locations))
	for _, loc := range s.locations {
		out = append(out, loc.clone())
	}
	return out
}

// GetRootLocations returns top-level locations marked as explicit roots.
func (s *Store) GetRootLocations() []*Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Location
	for _, cid := range s.children[""] {
		loc := s.locations[cid]
		if loc.IsExplicitRoot {
			out = append(out, loc.clone())
		}
	}
	return out
}

// GetUnassignedLocations returns top-level locations not marked as explicit
// roots (the "inbox").
func (s *Store) GetUnassignedLocations() []*Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Location
	for _, cid := range s.children[""] {
		loc := s.locations[cid]
		if !loc.IsExplicitRoot {
			out = append(out, loc.clone())
		}
	}
	return out
}

// GetLocationByName returns the first location with an exact name match,
// scanning locations in lexicographic id order, so the pick among
// same-named locations is deterministic.
func (s *Store) GetLocationByName(name string) *Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.sortedIDsLocked() {
		loc := s.locations[id]
		if loc.Name == name {
			return loc.clone()
		}
	}
	return nil
}

// FindByAlias returns the first location carrying the given alias.
func (s *Store) FindByAlias(alias string) *Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.sortedIDsLocked() {
		loc := s.locations[id]
		for _, a := range loc.Aliases {
			if a == alias {
				return loc.clone()
			}
		}
	}
	return nil
}

// sortedIDsLocked returns location ids in a stable, deterministic order
// (lexicographic) so name/alias lookups are reproducible across runs even
// though the backing map has no intrinsic order.
func (s *Store) sortedIDsLocked() []string {
	ids := make([]string, 0, len(s.locations))
	for id := range s.locations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
