package topology

// AddEntityToLocation maps an entity to a location, removing any prior
// mapping for that entity first.
func (s *Store) AddEntityToLocation(entityID, locationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addEntityLocked(entityID, locationID)
}

func (s *Store) addEntityLocked(entityID, locationID string) error {
	loc, ok := s.locations[locationID]
	if !ok {
		return newValidationError("location_id", "location does not exist", locationID)
	}
	if prevLocID, ok := s.entityIndex[entityID]; ok {
		if prevLocID == locationID {
			return nil
		}
		s.removeEntityFromLocationLocked(entityID, prevLocID)
	}
	loc.EntityIDs = append(loc.EntityIDs, entityID)
	s.entityIndex[entityID] = locationID
	return nil
}

func (s *Store) removeEntityFromLocationLocked(entityID, locationID string) {
	loc, ok := s.locations[locationID]
	if !ok {
		return
	}
	out := loc.EntityIDs[:0]
	for _, e := range loc.EntityIDs {
		if e != entityID {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		loc.EntityIDs = nil
	} else {
		loc.EntityIDs = out
	}
}

// AddEntitiesToLocation is the batch form of AddEntityToLocation.
func (s *Store) AddEntitiesToLocation(entityIDs []string, locationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locations[locationID]; !ok {
		return newValidationError("location_id", "location does not exist", locationID)
	}
	for _, eid := range entityIDs {
		if err := s.addEntityLocked(eid, locationID); err != nil {
			return err
		}
	}
	return nil
}

// RemoveEntitiesFromLocation removes the given entities from whatever
// location they currently map to, regardless of which location that is.
func (s *Store) RemoveEntitiesFromLocation(entityIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, eid := range entityIDs {
		if locID, ok := s.entityIndex[eid]; ok {
			s.removeEntityFromLocationLocked(eid, locID)
			delete(s.entityIndex, eid)
		}
	}
}

// MoveEntities atomically re-maps entities to a new location, equivalent to
// remove-then-add.
func (s *Store) MoveEntities(entityIDs []string, toLocationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locations[toLocationID]; !ok {
		return newValidationError("location_id", "location does not exist", toLocationID)
	}
	for _, eid := range entityIDs {
		if locID, ok := s.entityIndex[eid]; ok {
			s.removeEntityFromLocationLocked(eid, locID)
			delete(s.entityIndex, eid)
		}
	}
	for _, eid := range entityIDs {
		if err := s.addEntityLocked(eid, toLocationID); err != nil {
			return err
		}
	}
	return nil
}

// GetEntityLocation returns the location id an entity currently maps to, or
// "" if unmapped.
func (s *Store) GetEntityLocation(entityID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entityIndex[entityID]
}

// GetEntitiesInLocation returns the ordered list of entity ids attached to
// a location.
func (s *Store) GetEntitiesInLocation(locationID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.locations[locationID]
	if !ok {
		return nil
	}
	return append([]string(nil), loc.EntityIDs...)
}

// --- Module config -------------------------------------------------------

// SetModuleConfig replaces the blob for (locationID, moduleID). A blob
// must be empty or carry a positive integer "version" field.
func (s *Store) SetModuleConfig(locationID, moduleID string, blob ConfigBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[locationID]
	if !ok {
		return newValidationError("location_id", "location does not exist", locationID)
	}
	if err := validateModuleConfigVersion(blob); err != nil {
		return err
	}
	if loc.Modules == nil {
		loc.Modules = make(map[string]ConfigBlob)
	}
	loc.Modules[moduleID] = cloneBlob(blob)
	return nil
}

func validateModuleConfigVersion(blob ConfigBlob) error {
	if len(blob) == 0 {
		return nil
	}
	raw, ok := blob["version"]
	if !ok {
		return newValidationError("version", "module config must carry a version field when non-empty", blob)
	}
	n, ok := toPositiveInt(raw)
	if !ok || n <= 0 {
		return newValidationError("version", "version must be a positive integer", raw)
	}
	return nil
}

func toPositiveInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

// GetModuleConfig returns the blob for (locationID, moduleID), or nil if
// unset.
func (s *Store) GetModuleConfig(locationID, moduleID string) ConfigBlob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.locations[locationID]
	if !ok {
		return nil
	}
	return cloneBlob(loc.Modules[moduleID])
}

// RemoveModuleConfig clears the blob for (locationID, moduleID).
func (s *Store) RemoveModuleConfig(locationID, moduleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[locationID]
	if !ok {
		return
	}
	delete(loc.Modules, moduleID)
}

// --- Aliases ---------------------------------------------------------------

// AddAlias appends an alias if not already present.
func (s *Store) AddAlias(locationID, alias string) error {
	return s.AddAliases(locationID, []string{alias})
}

// AddAliases appends any not-already-present aliases, in order.
func (s *Store) AddAliases(locationID string, aliases []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[locationID]
	if !ok {
		return newValidationError("location_id", "location does not exist", locationID)
	}
	existing := make(map[string]bool, len(loc.Aliases))
	for _, a := range loc.Aliases {
		existing[a] = true
	}
	for _, a := range aliases {
		if !existing[a] {
			loc.Aliases = append(loc.Aliases, a)
			existing[a] = true
		}
	}
	return nil
}

// RemoveAlias removes an alias if present; no-op otherwise.
func (s *Store) RemoveAlias(locationID, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[locationID]
	if !ok {
		return newValidationError("location_id", "location does not exist", locationID)
	}
	out := loc.Aliases[:0]
	for _, a := range loc.Aliases {
		if a != alias {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		loc.Aliases = nil
	} else {
		loc.Aliases = out
	}
	return nil
}

// SetAliases replaces the alias list wholesale.
func (s *Store) SetAliases(locationID string, aliases []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[locationID]
	if !ok {
		return newValidationError("location_id", "location does not exist", locationID)
	}
	loc.Aliases = append([]string(nil), aliases...)
	return nil
}
