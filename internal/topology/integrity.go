package topology

import "sort"

// IssueType classifies an integrity problem found by Validate.
type IssueType string

const (
	IssueBrokenParent    IssueType = "broken_parent"
	IssueCycle           IssueType = "cycle"
	IssueOrphanedEntity  IssueType = "orphaned_entity"
	IssueDuplicateEntity IssueType = "duplicate_entity"
	IssueEmptyLocation   IssueType = "empty_location"
)

// Severity classifies how urgently an issue needs attention.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is a single finding produced by Validate.
type Issue struct {
	Type       IssueType
	LocationID string
	EntityID   string
	ModuleID   string
	Severity   Severity
	Details    string

	// duplicateOther records the losing location id for a duplicate_entity
	// finding, so AutoRepair knows where to remove the entity from.
	duplicateOther string
}

// Validate runs the integrity checks over the store and returns an ordered
// list of issues: broken-parent, cycle, orphaned-entity, duplicate-entity,
// then empty-location. It is a pure read-only pass.
func Validate(s *Store) []Issue {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var issues []Issue

	ids := s.sortedIDsLocked()

	// broken-parent
	for _, id := range ids {
		loc := s.locations[id]
		if loc.ParentID != "" {
			if _, ok := s.locations[loc.ParentID]; !ok {
				issues = append(issues, Issue{
					Type:       IssueBrokenParent,
					LocationID: id,
					Severity:   SeverityError,
					Details:    "parent_id references a non-existent location",
				})
			}
		}
	}

	// cycle: cycle-safe (visited set, never unbounded recursion)
	for _, id := range ids {
		if s.locationInOwnAncestryLocked(id) {
			issues = append(issues, Issue{
				Type:       IssueCycle,
				LocationID: id,
				Severity:   SeverityError,
				Details:    "location appears in its own ancestry",
			})
		}
	}

	// orphaned-entity: reverse index points to a non-existent location
	entityIDs := make([]string, 0, len(s.entityIndex))
	for eid := range s.entityIndex {
		entityIDs = append(entityIDs, eid)
	}
	sort.Strings(entityIDs)
	for _, eid := range entityIDs {
		locID := s.entityIndex[eid]
		if _, ok := s.locations[locID]; !ok {
			issues = append(issues, Issue{
				Type:     IssueOrphanedEntity,
				EntityID: eid,
				Severity: SeverityError,
				Details:  "entity reverse index points to a non-existent location",
			})
		}
	}

	// duplicate-entity: same entity id held by more than one location's
	// entity list. The reverse index should preclude this; this is the
	// detector of corruption where it doesn't.
	holders := make(map[string][]string)
	for _, id := range ids {
		for _, eid := range s.locations[id].EntityIDs {
			holders[eid] = append(holders[eid], id)
		}
	}
	dupEntityIDs := make([]string, 0)
	for eid, locs := range holders {
		if len(locs) > 1 {
			dupEntityIDs = append(dupEntityIDs, eid)
		}
	}
	sort.Strings(dupEntityIDs)
	for _, eid := range dupEntityIDs {
		locs := append([]string(nil), holders[eid]...)
		sort.Strings(locs)
		for _, locID := range locs[1:] {
			issues = append(issues, Issue{
				Type:           IssueDuplicateEntity,
				EntityID:       eid,
				LocationID:     locs[0],
				Severity:       SeverityError,
				Details:        "entity appears in more than one location's entity list",
				duplicateOther: locID,
			})
		}
	}

	// empty-location: no children, no entities, no module configs, not an
	// explicit root.
	for _, id := range ids {
		loc := s.locations[id]
		if loc.IsExplicitRoot {
			continue
		}
		if len(s.children[id]) > 0 || len(loc.EntityIDs) > 0 || len(loc.Modules) > 0 {
			continue
		}
		issues = append(issues, Issue{
			Type:       IssueEmptyLocation,
			LocationID: id,
			Severity:   SeverityInfo,
			Details:    "location has no children, entities, or module configs",
		})
	}

	return issues
}

func (s *Store) locationInOwnAncestryLocked(id string) bool {
	cur := s.locations[id].ParentID
	seen := make(map[string]bool)
	for i := 0; cur != "" && i <= len(s.locations); i++ {
		if cur == id {
			return true
		}
		if seen[cur] {
			// Cycle among ancestors not involving id directly; still caught
			// when we reach the node whose own check runs.
			return false
		}
		seen[cur] = true
		p, ok := s.locations[cur]
		if !ok {
			return false
		}
		cur = p.ParentID
	}
	return false
}

// AutoRepair handles the subset of issue types with an unambiguous fix:
// orphaned-entity (drop from reverse index), duplicate-entity (keep the
// lexicographically-first location, remove from the loser), and
// empty-location (delete). All other types require manual intervention
// and AutoRepair returns false for them.
func (s *Store) AutoRepair(issue Issue) (repaired bool) {
	switch issue.Type {
	case IssueOrphanedEntity:
		s.mu.Lock()
		delete(s.entityIndex, issue.EntityID)
		s.mu.Unlock()
		return true

	case IssueDuplicateEntity:
		s.mu.Lock()
		s.removeEntityFromLocationLocked(issue.EntityID, issue.duplicateOther)
		s.mu.Unlock()
		return true

	case IssueEmptyLocation:
		_, err := s.DeleteLocation(issue.LocationID, false, false)
		return err == nil

	default:
		return false
	}
}
