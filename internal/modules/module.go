// Package modules defines the behavior-module contract the kernel's other
// packages implement against and a small registry so a host
// can attach, enumerate, and persist every module it wires in one place,
// rather than each module reimplementing that bookkeeping ad hoc.
package modules

import (
	"time"

	"github.com/mjcumming/home-topology/internal/eventbus"
	"github.com/mjcumming/home-topology/internal/topology"
)

// Module is the abstract behavior-module contract. internal/occupancy
// implements it; a future module (e.g. a presence-confidence scorer) would
// implement the same shape.
type Module interface {
	// ID is the store's module-config key this module owns.
	ID() string

	// CurrentConfigVersion is the version MigrateConfig normalizes a blob to.
	CurrentConfigVersion() int

	// DefaultConfig returns the blob a newly-configured location gets when
	// no explicit config has been set.
	DefaultConfig() topology.ConfigBlob

	// LocationConfigSchema describes the shape DefaultConfig/MigrateConfig
	// accept, for introspection by a UI or validator (descriptive metadata
	// only; the module's own decode path is authoritative).
	LocationConfigSchema() map[string]any

	// MigrateConfig returns blob updated to CurrentConfigVersion. Must
	// accept any version the module has ever emitted.
	MigrateConfig(blob topology.ConfigBlob) topology.ConfigBlob

	// Attach captures the bus/store references and subscribes to whatever
	// events the module cares about. Called once, at registration time.
	Attach(bus *eventbus.Bus, store *topology.Store)

	// OnLocationConfigChanged notifies the module that a location's config
	// blob for this module id was just replaced.
	OnLocationConfigChanged(locationID string, blob topology.ConfigBlob)

	// OnLocationDeleted notifies the module that a location was deleted,
	// so it can drop any runtime state keyed by that id.
	OnLocationDeleted(locationID string)

	// DumpStateAny and RestoreStateAny round-trip the module's runtime
	// state through an opaque value (the module's own concrete blob type),
	// so the registry can persist every registered module uniformly.
	DumpStateAny(now time.Time) any
	RestoreStateAny(blob any, now time.Time, maxAge time.Duration) error
}

// Registry holds every module attached to a given bus/store pair. It
// exists so a host wires modules in one place instead of hand-rolling
// attach/dump/restore bookkeeping per module.
type Registry struct {
	bus     *eventbus.Bus
	store   *topology.Store
	modules map[string]Module
	order   []string
}

// NewRegistry binds a registry to a bus/store pair. Modules registered
// through it are attached to this same pair.
func NewRegistry(bus *eventbus.Bus, store *topology.Store) *Registry {
	return &Registry{bus: bus, store: store, modules: make(map[string]Module)}
}

// Register attaches m to the registry's bus/store and makes it
// retrievable by ID. Registering the same ID twice attaches the new module
// and replaces the prior one in the registry; the prior module is not
// detached, so its subscriptions and hooks stay live (the caller is
// responsible for not double-registering a live module).
func (r *Registry) Register(m Module) {
	if _, exists := r.modules[m.ID()]; !exists {
		r.order = append(r.order, m.ID())
	}
	m.Attach(r.bus, r.store)
	r.modules[m.ID()] = m
}

// Get returns a registered module by id.
func (r *Registry) Get(id string) (Module, bool) {
	m, ok := r.modules[id]
	return m, ok
}

// All returns every registered module, in registration order.
func (r *Registry) All() []Module {
	out := make([]Module, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.modules[id])
	}
	return out
}

// DumpAll snapshots every registered module's state, keyed by module id.
func (r *Registry) DumpAll(now time.Time) map[string]any {
	out := make(map[string]any, len(r.modules))
	for _, id := range r.order {
		out[id] = r.modules[id].DumpStateAny(now)
	}
	return out
}

// RestoreAll restores every registered module whose id appears in blobs.
// A module present in the registry but absent from blobs is left
// untouched (e.g. a module added after the snapshot was taken).
func (r *Registry) RestoreAll(blobs map[string]any, now time.Time, maxAge time.Duration) error {
	for id, blob := range blobs {
		m, ok := r.modules[id]
		if !ok {
			continue
		}
		if err := m.RestoreStateAny(blob, now, maxAge); err != nil {
			return err
		}
	}
	return nil
}
