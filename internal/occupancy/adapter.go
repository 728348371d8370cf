package occupancy

import (
	"time"

	"github.com/mjcumming/home-topology/internal/topology"
)

// configSchema describes the blob ConfigFromBlob/Migrate accept (
// location_config_schema). Descriptive metadata only — ConfigFromBlob's
// decode path is authoritative.
var configSchema = map[string]any{
	"default_timeout_seconds":     map[string]any{"type": "integer", "minimum": 0, "default": 300},
	"hold_release_timeout_seconds": map[string]any{"type": "integer", "minimum": 0, "default": 120},
	"occupancy_strategy": map[string]any{
		"type": "string", "enum": []string{string(StrategyIndependent), string(StrategyFollowParent)},
		"default": string(StrategyIndependent),
	},
	"contributes_to_parent": map[string]any{"type": "boolean", "default": true},
}

// ID satisfies modules.Module.
func (m *Module) ID() string { return ModuleID }

// CurrentConfigVersion satisfies modules.Module.
func (m *Module) CurrentConfigVersion() int { return CurrentConfigVersion }

// DefaultConfig satisfies modules.Module, serializing DefaultConfig() into
// the blob shape ConfigFromBlob decodes.
func (m *Module) DefaultConfig() topology.ConfigBlob {
	cfg := DefaultConfig()
	return topology.ConfigBlob{
		"version":                      CurrentConfigVersion,
		"default_timeout_seconds":      int(cfg.DefaultTimeout.Seconds()),
		"hold_release_timeout_seconds": int(cfg.HoldReleaseTimeout.Seconds()),
		"occupancy_strategy":           string(cfg.Strategy),
		"contributes_to_parent":        cfg.ContributesToParent,
	}
}

// LocationConfigSchema satisfies modules.Module.
func (m *Module) LocationConfigSchema() map[string]any { return configSchema }

// MigrateConfig satisfies modules.Module.
func (m *Module) MigrateConfig(blob topology.ConfigBlob) topology.ConfigBlob { return Migrate(blob) }

// DumpStateAny satisfies modules.Module.
func (m *Module) DumpStateAny(now time.Time) any { return m.DumpState(now) }

// RestoreStateAny satisfies modules.Module, rejecting a blob of the wrong
// concrete type instead of restoring garbage.
func (m *Module) RestoreStateAny(blob any, now time.Time, maxAge time.Duration) error {
	sb, ok := blob.(StateBlob)
	if !ok {
		return &topology.ValidationError{Field: "blob", Value: blob, Message: "expected occupancy.StateBlob"}
	}
	m.RestoreState(sb, now, maxAge)
	return nil
}
