package occupancy

import (
	"time"

	"github.com/mjcumming/home-topology/internal/topology"
)

// ModuleID is the store's module-config key this package registers under.
const ModuleID = "occupancy"

// CurrentConfigVersion is the version every Migrate call normalizes
// a blob to.
const CurrentConfigVersion = 1

// Strategy selects how a location's occupancy is derived.
type Strategy string

const (
	StrategyIndependent  Strategy = "independent"
	StrategyFollowParent Strategy = "follow_parent"
)

// Config is the per-location occupancy configuration.
type Config struct {
	DefaultTimeout      time.Duration
	HoldReleaseTimeout  time.Duration
	Strategy            Strategy
	ContributesToParent bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:      300 * time.Second,
		HoldReleaseTimeout:  120 * time.Second,
		Strategy:            StrategyIndependent,
		ContributesToParent: true,
	}
}

// ConfigFromBlob decodes a store ConfigBlob into a Config, applying
// defaults for any field the blob omits. It validates field shapes,
// bundling every violation via a MultiValidationError. The adapter's
// location_config_schema is descriptive metadata only; this is the
// authoritative decode path.
func ConfigFromBlob(blob topology.ConfigBlob) (Config, error) {
	cfg := DefaultConfig()
	if len(blob) == 0 {
		return cfg, nil
	}

	v := &fieldValidator{}

	if raw, ok := blob["default_timeout_seconds"]; ok {
		if n, ok := asNonNegativeSeconds(raw); ok {
			cfg.DefaultTimeout = n
		} else {
			v.addf("default_timeout_seconds", "must be a non-negative number of seconds", raw)
		}
	}
	if raw, ok := blob["hold_release_timeout_seconds"]; ok {
		if n, ok := asNonNegativeSeconds(raw); ok {
			cfg.HoldReleaseTimeout = n
		} else {
			v.addf("hold_release_timeout_seconds", "must be a non-negative number of seconds", raw)
		}
	}
	if raw, ok := blob["occupancy_strategy"]; ok {
		if s, ok := raw.(string); ok && (s == string(StrategyIndependent) || s == string(StrategyFollowParent)) {
			cfg.Strategy = Strategy(s)
		} else {
			v.addf("occupancy_strategy", "must be 'independent' or 'follow_parent'", raw)
		}
	}
	if raw, ok := blob["contributes_to_parent"]; ok {
		if b, ok := raw.(bool); ok {
			cfg.ContributesToParent = b
		} else {
			v.addf("contributes_to_parent", "must be a boolean", raw)
		}
	}

	return cfg, v.err()
}

func asNonNegativeSeconds(v any) (time.Duration, bool) {
	switch n := v.(type) {
	case int:
		if n < 0 {
			return 0, false
		}
		return time.Duration(n) * time.Second, true
	case int64:
		if n < 0 {
			return 0, false
		}
		return time.Duration(n) * time.Second, true
	case float64:
		if n < 0 {
			return 0, false
		}
		return time.Duration(n * float64(time.Second)), true
	}
	return 0, false
}

// Migrate returns a blob updated to CurrentConfigVersion. It must accept
// any older version occupancy has ever emitted; version 1 is the
// only version that has ever existed, so this is currently the identity
// plus a stamped version field.
func Migrate(blob topology.ConfigBlob) topology.ConfigBlob {
	out := make(topology.ConfigBlob, len(blob)+1)
	for k, v := range blob {
		out[k] = v
	}
	out["version"] = CurrentConfigVersion
	return out
}

// fieldValidator accumulates field-level ValidationErrors for a config
// blob, bundling them into one reported error (mirrors
// topology.validator, which is unexported and so not usable here).
type fieldValidator struct {
	errors []error
}

func (v *fieldValidator) addf(field, message string, value any) {
	v.errors = append(v.errors, &topology.ValidationError{Field: field, Message: message, Value: value})
}

func (v *fieldValidator) err() error {
	if len(v.errors) == 0 {
		return nil
	}
	errs := make([]*topology.ValidationError, len(v.errors))
	for i, e := range v.errors {
		errs[i] = e.(*topology.ValidationError)
	}
	return &topology.MultiValidationError{Errors: errs}
}
