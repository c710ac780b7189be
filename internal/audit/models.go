package audit

import "time"

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with civic-audit significance. These
	// require tamper-evident storage and long retention.
	// Examples: CAP records received or rejected.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to integrity monitoring.
	// Examples: schema hash drift, canonical restores, auth failures.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging and operational
	// visibility. These can be sampled with shorter retention.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category   EventCategory
	Timestamp  time.Time
	CAPID      string
	Domain     string
	AdvisorID  string
	Action     string
	Decision   string
	Reason     string
	SchemaHash string
	RequestID  string
}

// AuditEvent names every action the bridge and validator emit.
type AuditEvent string

const (
	// Bridge events
	EventCAPReceived  AuditEvent = "cap_received"
	EventCAPRejected  AuditEvent = "cap_rejected"
	EventCAPDuplicate AuditEvent = "cap_duplicate"

	// Integrity events
	EventHashMismatch   AuditEvent = "hash_mismatch"
	EventSchemaRestored AuditEvent = "schema_restored"
	EventIntegrityRun   AuditEvent = "integrity_run"

	// Auth events
	EventAuthFailed AuditEvent = "auth_failed"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventCAPReceived:  CategoryCompliance,
	EventCAPRejected:  CategoryCompliance,
	EventCAPDuplicate: CategoryOperations,

	EventHashMismatch:   CategorySecurity,
	EventSchemaRestored: CategorySecurity,
	EventAuthFailed:     CategorySecurity,

	EventIntegrityRun: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
