// Package statusmachine implements the severity-driven status state machine
// (spec.md §4.6, component F). It is a pure function over the Severity and
// Status enums with no I/O and no external dependency — the one component
// where no library in the corpus owns this concern, so it is implemented
// directly on the standard library (see DESIGN.md).
package statusmachine

import "github.com/opsfabric/alertflow/internal/model"

// InitialStatus computes the status assigned to a brand-new alert document
// (spec.md §4.6 "Initial status on new-insert"): NORMAL severity inserts
// already-closed, every other severity opens.
func InitialStatus(severity model.Severity) model.Status {
	if severity == model.SeverityNormal {
		return model.StatusClosed
	}
	return model.StatusOpen
}

// Transition computes the next status for an existing alert given its
// incoming severity, its previousSeverity (the severity it held before this
// fold), and its current status. It returns the target status and whether
// that differs from current — callers persist a status-history entry only
// when changed is true.
//
// Both the duplicate path and the severity-change path call Transition
// (spec.md §4.5 step 3 and step 4). The duplicate path calls it only when
// the current status is outside OPEN/ACK/CLOSED, so it always takes the
// initial-status branch below and corrects a status value left stale by an
// earlier fault (see §9's preserved behaviour note).
func Transition(severity, previousSeverity model.Severity, current model.Status) (target model.Status, changed bool) {
	if !current.IsSettled() {
		target = InitialStatus(severity)
		return target, target != current
	}

	target, transitions := lookupOpenTransition(severity, previousSeverity)
	if !transitions {
		return current, false
	}
	return target, target != current
}

// lookupOpenTransition implements spec.md §4.6's severity-change table: each
// row names the previousSeverity values that cause a transition to OPEN for
// the given incoming severity. NORMAL always transitions to CLOSED
// regardless of previousSeverity.
func lookupOpenTransition(severity, previousSeverity model.Severity) (model.Status, bool) {
	switch severity {
	case model.SeverityDebug, model.SeverityInform:
		return model.StatusOpen, true
	case model.SeverityNormal:
		return model.StatusClosed, true
	case model.SeverityWarning:
		if oneOf(previousSeverity, model.SeverityNormal) {
			return model.StatusOpen, true
		}
	case model.SeverityMinor:
		if oneOf(previousSeverity, model.SeverityNormal, model.SeverityWarning) {
			return model.StatusOpen, true
		}
	case model.SeverityMajor:
		if oneOf(previousSeverity, model.SeverityNormal, model.SeverityWarning, model.SeverityMinor) {
			return model.StatusOpen, true
		}
	case model.SeverityCritical:
		if oneOf(previousSeverity, model.SeverityNormal, model.SeverityWarning, model.SeverityMinor, model.SeverityMajor) {
			return model.StatusOpen, true
		}
	default:
		return model.StatusUnknown, true
	}
	return "", false
}

func oneOf(s model.Severity, candidates ...model.Severity) bool {
	for _, c := range candidates {
		if s == c {
			return true
		}
	}
	return false
}
