package audithook

// Action constants for audit events.
const (
	// Grant actions
	ActionPointsGranted  = "points.granted"
	ActionBonusGranted   = "bonus.granted"
	ActionGrantConflict  = "grant.conflict"
	ActionGrantFailed    = "grant.failed"
	ActionGrantExhausted = "grant.exhausted"
	ActionEventRejected  = "event.rejected"

	// Engine actions
	ActionEngineStarted = "engine.started"
	ActionEngineStopped = "engine.stopped"
)

// Resource constants for audit events.
const (
	ResourceGrant  = "grant"
	ResourcePost   = "post"
	ResourceEngine = "engine"
)

// Category constants for audit events.
const (
	CategoryPoints     = "points"
	CategoryContention = "contention"
	CategoryValidation = "validation"
	CategoryLifecycle  = "lifecycle"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
