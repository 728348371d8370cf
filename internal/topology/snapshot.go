package topology

import (
	"encoding/json"
	"sort"

	"gopkg.in/yaml.v3"
)

// SnapshotVersion is the version stamped into every Snapshot produced by
// Store.Snapshot.
const SnapshotVersion = 1

// LocationSnapshot is the serializable form of one Location.
type LocationSnapshot struct {
	ID             string              `json:"id" yaml:"id"`
	Name           string              `json:"name" yaml:"name"`
	ParentID       string              `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	IsExplicitRoot bool                `json:"is_explicit_root" yaml:"is_explicit_root"`
	HAAreaID       string              `json:"ha_area_id,omitempty" yaml:"ha_area_id,omitempty"`
	EntityIDs      []string            `json:"entity_ids,omitempty" yaml:"entity_ids,omitempty"`
	Aliases        []string            `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Modules        map[string]ConfigBlob `json:"modules,omitempty" yaml:"modules,omitempty"`
}

// Snapshot is the full topology persistence blob: every location's
// attributes and entity lists, with module config blobs included
// verbatim. Opaque to the core beyond the version field.
type Snapshot struct {
	Version   int                `json:"version" yaml:"version"`
	Locations []LocationSnapshot `json:"locations" yaml:"locations"`
}

// Snapshot captures every location in the store, ordered deterministically
// by id.
func (s *Store) Snapshot() Snapshot {
	locs := s.AllLocations()
	sort.Slice(locs, func(i, j int) bool { return locs[i].ID < locs[j].ID })

	out := Snapshot{Version: SnapshotVersion, Locations: make([]LocationSnapshot, 0, len(locs))}
	for _, l := range locs {
		out.Locations = append(out.Locations, LocationSnapshot{
			ID:             l.ID,
			Name:           l.Name,
			ParentID:       l.ParentID,
			IsExplicitRoot: l.IsExplicitRoot,
			HAAreaID:       l.HAAreaID,
			EntityIDs:      l.EntityIDs,
			Aliases:        l.Aliases,
			Modules:        l.Modules,
		})
	}
	return out
}

// SnapshotJSON encodes Snapshot as JSON.
func (s *Store) SnapshotJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// SnapshotYAML encodes Snapshot as YAML.
func (s *Store) SnapshotYAML() ([]byte, error) {
	return yaml.Marshal(s.Snapshot())
}

// RestoreSnapshot replaces the store's contents with the given snapshot.
// A version mismatch is rejected. Locations are created in parent-before-
// child order regardless of the snapshot's own ordering, so a snapshot
// round-tripped through an unordered encoder still restores correctly.
func (s *Store) RestoreSnapshot(snap Snapshot) error {
	if snap.Version != SnapshotVersion {
		return newValidationError("version", "unsupported snapshot version", snap.Version)
	}

	byID := make(map[string]LocationSnapshot, len(snap.Locations))
	for _, l := range snap.Locations {
		byID[l.ID] = l
	}

	s.mu.Lock()
	s.locations = make(map[string]*Location)
	s.children = make(map[string][]string)
	s.entityIndex = make(map[string]string)
	s.mu.Unlock()

	created := make(map[string]bool, len(snap.Locations))
	remaining := len(snap.Locations)
	for remaining > 0 {
		progressed := false
		for id, l := range byID {
			if created[id] {
				continue
			}
			if l.ParentID != "" && !created[l.ParentID] {
				continue
			}
			if _, err := s.CreateLocation(l.ID, l.Name, l.ParentID, l.IsExplicitRoot, l.HAAreaID, l.Aliases); err != nil {
				return err
			}
			if err := s.AddEntitiesToLocation(l.EntityIDs, l.ID); err != nil {
				return err
			}
			for moduleID, blob := range l.Modules {
				if err := s.SetModuleConfig(l.ID, moduleID, blob); err != nil {
					return err
				}
			}
			created[id] = true
			remaining--
			progressed = true
		}
		if !progressed {
			return newValidationError("parent_id", "snapshot contains an unresolvable parent reference", nil)
		}
	}
	return nil
}
