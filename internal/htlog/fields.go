package htlog

// Canonical structured-log field names, kept stable so downstream log
// processors can rely on them across releases.
const (
	FieldComponent  = "component"
	FieldLocationID = "location_id"
	FieldEntityID   = "entity_id"
	FieldModuleID   = "module_id"
	FieldEventType  = "event_type"
	FieldHandlerID  = "handler_id"
	FieldSourceID   = "source_id"
	FieldReason     = "reason"
)
