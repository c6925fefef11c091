package statusmachine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opsfabric/alertflow/internal/model"
)

func TestInitialStatus(t *testing.T) {
	assert.Equal(t, model.StatusClosed, InitialStatus(model.SeverityNormal))
	assert.Equal(t, model.StatusOpen, InitialStatus(model.SeverityMajor))
	assert.Equal(t, model.StatusOpen, InitialStatus(model.SeverityCritical))
}

func TestTransitionNonSettledStatus(t *testing.T) {
	target, changed := Transition(model.SeverityMajor, model.SeverityMajor, model.StatusExpired)
	assert.True(t, changed)
	assert.Equal(t, model.StatusOpen, target)

	target, changed = Transition(model.SeverityNormal, model.SeverityNormal, model.StatusUnknown)
	assert.True(t, changed)
	assert.Equal(t, model.StatusClosed, target)
}

func TestTransitionSeverityUnchangedNoOp(t *testing.T) {
	target, changed := Transition(model.SeverityMajor, model.SeverityMajor, model.StatusOpen)
	assert.False(t, changed)
	assert.Equal(t, model.StatusOpen, target)
}

func TestTransitionMajorToCriticalStaysOpen(t *testing.T) {
	// spec scenario 3: MAJOR -> CRITICAL, status remains OPEN (CRITICAL's
	// row fires for previousSeverity MAJOR, but its target OPEN is the
	// current status, so nothing changes).
	target, changed := Transition(model.SeverityCritical, model.SeverityMajor, model.StatusOpen)
	assert.False(t, changed)
	assert.Equal(t, model.StatusOpen, target)
}

func TestTransitionClearingToClosed(t *testing.T) {
	// spec scenario 4: clearing to NORMAL always closes.
	target, changed := Transition(model.SeverityNormal, model.SeverityCritical, model.StatusOpen)
	assert.True(t, changed)
	assert.Equal(t, model.StatusClosed, target)
}

func TestTransitionWarningReopensFromNormal(t *testing.T) {
	target, changed := Transition(model.SeverityWarning, model.SeverityNormal, model.StatusClosed)
	assert.True(t, changed)
	assert.Equal(t, model.StatusOpen, target)
}

func TestTransitionWarningNoChangeFromMinor(t *testing.T) {
	// WARNING's row only fires for previousSeverity == NORMAL.
	target, changed := Transition(model.SeverityWarning, model.SeverityMinor, model.StatusClosed)
	assert.False(t, changed)
	assert.Equal(t, model.StatusClosed, target)
}

func TestTransitionAckHonoredUntilTableFires(t *testing.T) {
	// Major's row only fires for previousSeverity in {NORMAL, WARNING,
	// MINOR}; previousSeverity == MAJOR (unchanged) never transitions an
	// ACK'd alert back to OPEN.
	target, changed := Transition(model.SeverityMajor, model.SeverityMajor, model.StatusAck)
	assert.False(t, changed)
	assert.Equal(t, model.StatusAck, target)
}

func TestTransitionCriticalReopensFromMajor(t *testing.T) {
	target, changed := Transition(model.SeverityCritical, model.SeverityMajor, model.StatusClosed)
	assert.True(t, changed)
	assert.Equal(t, model.StatusOpen, target)
}
