// Package topology implements the home-topology kernel's location store: a
// mutable, queryable tree of locations with entity-to-location mappings and
// per-module opaque configuration storage.
package topology

// ConfigBlob is an opaque, JSON-shaped per-module configuration value. The
// store never interprets its contents beyond checking the "version" field
// invariant.
type ConfigBlob map[string]any

// Location is a node in the home's spatial tree: a room, floor, zone,
// building, or outdoor area.
type Location struct {
	ID              string
	Name            string
	ParentID        string // empty means "no parent"
	IsExplicitRoot  bool
	HAAreaID        string // opaque cross-reference; empty means unset
	EntityIDs       []string
	Aliases         []string
	Modules         map[string]ConfigBlob
}

// clone returns a deep copy so callers (and the store's own internal maps)
// never share mutable slices/maps with a returned Location.
func (l *Location) clone() *Location {
	if l == nil {
		return nil
	}
	cp := *l
	cp.EntityIDs = append([]string(nil), l.EntityIDs...)
	cp.Aliases = append([]string(nil), l.Aliases...)
	if l.Modules != nil {
		cp.Modules = make(map[string]ConfigBlob, len(l.Modules))
		for k, v := range l.Modules {
			cp.Modules[k] = cloneBlob(v)
		}
	}
	return &cp
}

func cloneBlob(b ConfigBlob) ConfigBlob {
	if b == nil {
		return nil
	}
	cp := make(ConfigBlob, len(b))
	for k, v := range b {
		cp[k] = v
	}
	return cp
}

// HasParent reports whether the location has a parent set.
func (l *Location) HasParent() bool { return l.ParentID != "" }
