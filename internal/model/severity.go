package model

// Severity is the alert severity enum carried on the wire and persisted
// verbatim (spec.md §6).
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityMajor    Severity = "MAJOR"
	SeverityMinor    Severity = "MINOR"
	SeverityWarning  Severity = "WARNING"
	SeverityNormal   Severity = "NORMAL"
	SeverityInform   Severity = "INFORM"
	SeverityDebug    Severity = "DEBUG"
	SeverityUnknown  Severity = "UNKNOWN"
)

// severityCodes is the fixed severity->code table from spec.md §6. Unknown
// severities map to 0, which never collides with a named code.
var severityCodes = map[Severity]int{
	SeverityCritical: 1,
	SeverityMajor:    2,
	SeverityMinor:    3,
	SeverityWarning:  4,
	SeverityNormal:   5,
	SeverityInform:   6,
	SeverityDebug:    7,
}

// Code returns the severityCode for s. severityCode is always a pure
// function of severity (spec.md §3 invariant).
func (s Severity) Code() int {
	return severityCodes[s]
}

// Valid reports whether s is a recognized severity.
func (s Severity) Valid() bool {
	_, ok := severityCodes[s]
	return ok
}

// Status is the alert status enum (spec.md §6).
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusAck     Status = "ACK"
	StatusClosed  Status = "CLOSED"
	StatusExpired Status = "EXPIRED"
	StatusUnknown Status = "UNKNOWN"
)

// terminalStatuses are the statuses the duplicate-path re-evaluation
// (spec.md §4.6) treats as already settled.
var terminalStatuses = map[Status]bool{
	StatusOpen:   true,
	StatusAck:    true,
	StatusClosed: true,
}

// IsSettled reports whether s is one of OPEN/ACK/CLOSED — the set the
// duplicate path leaves untouched.
func (s Status) IsSettled() bool {
	return terminalStatuses[s]
}
