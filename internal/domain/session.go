package domain

import "time"

type SessionState string

const (
	SessionIdle      SessionState = "idle"
	SessionListening SessionState = "listening"
	SessionStopping  SessionState = "stopping"
)

// Session is the single listening session of the process. ActiveRequestID is
// empty when no generation request is outstanding.
type Session struct {
	State           SessionState
	StartedAt       time.Time
	ActiveRequestID string
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Location is a 1-based caret position in the active buffer.
type Location struct {
	Line   int
	Column int
}
