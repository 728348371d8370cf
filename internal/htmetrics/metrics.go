// Package htmetrics provides the Prometheus metrics surface for the
// topology kernel. There is no transport boundary to trace (no HTTP, no
// wire protocol), so metrics rather than tracing carry the bulk of the
// kernel's observability, alongside htlog.
package htmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BusPublishTotal counts every Publish call, by event type.
	BusPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "home_topology_bus_publish_total",
		Help: "Total number of events published on the event bus, by event type.",
	}, []string{"event_type"})

	// BusHandlerInvocationsTotal counts every handler invocation resulting
	// from fan-out, by event type and outcome ("ok" or "error").
	BusHandlerInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "home_topology_bus_handler_invocations_total",
		Help: "Total number of subscription handler invocations, by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// BusHandlerErrorsTotal counts handler failures isolated by the bus.
	BusHandlerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "home_topology_bus_handler_errors_total",
		Help: "Total number of handler errors swallowed by the event bus, by handler id.",
	}, []string{"handler_id"})

	// OccupancyTransitionsTotal counts observable occupancy state changes,
	// by reason prefix (trigger, hold, release, vacate, lock, unlock,
	// unlock_all, tick, propagated).
	OccupancyTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "home_topology_occupancy_transitions_total",
		Help: "Total number of observable occupancy state transitions, by reason.",
	}, []string{"reason"})

	// OccupancyOccupiedLocations is registered for the count of occupied
	// locations. No package in this module sets it, so it reads zero
	// unless a host updates it.
	OccupancyOccupiedLocations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "home_topology_occupancy_occupied_locations",
		Help: "Current number of locations the occupancy module considers occupied.",
	})

	// IntegrityIssuesFound is registered for the size of an integrity
	// validation pass, by severity. topology.Validate does not set it; it
	// reads zero unless a host updates it from Validate's result.
	IntegrityIssuesFound = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "home_topology_integrity_issues",
		Help: "Number of integrity issues found by the last validation pass, by severity.",
	}, []string{"severity"})
)
