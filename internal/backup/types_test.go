package backup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTypeValid(t *testing.T) {
	for _, known := range Types {
		assert.True(t, known.Valid())
	}
	assert.False(t, Type("SNAPSHOT").Valid())
	assert.False(t, Type("full").Valid(), "types are case sensitive")
	assert.False(t, Type("").Valid())
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusRunning))
	assert.True(t, StatusPending.CanTransition(StatusFailed))
	assert.True(t, StatusRunning.CanTransition(StatusCompleted))
	assert.True(t, StatusRunning.CanTransition(StatusCancelled))

	// Terminal states never move again.
	for _, terminal := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		assert.True(t, terminal.Terminal())
		for _, next := range []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled} {
			assert.False(t, terminal.CanTransition(next), "%s -> %s", terminal, next)
		}
	}

	assert.False(t, StatusRunning.CanTransition(StatusPending), "no going backwards")
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
}

func TestOperationActive(t *testing.T) {
	now := time.Now()
	op := &Operation{Status: StatusCompleted, StartTime: now}
	assert.True(t, op.Active())

	op.IsDeleted = true
	assert.False(t, op.Active())

	op = &Operation{Status: StatusFailed, StartTime: now}
	assert.False(t, op.Active())
}
