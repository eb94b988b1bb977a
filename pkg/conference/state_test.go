package conference

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateNames(t *testing.T) {
	for s := StateCreated; s <= StateDestroyed; s++ {
		assert.Equal(t, s, stateForName(s.String()))
	}
}

func TestStateClassification(t *testing.T) {
	assert.True(t, StateDestroyed.Terminal())
	assert.False(t, StateConnected.Terminal())

	assert.True(t, StateBusy.Failure())
	assert.True(t, StateDisconnected.Failure())
	assert.False(t, StateConnected.Failure())
	assert.False(t, StateDestroyed.Failure())
}

func TestInvalidTransitionKeepsState(t *testing.T) {
	machine := newStateMachine(func(State) {})

	// Из CREATED нельзя сразу в CONNECTED
	assert.False(t, transition(machine, StateConnected, slog.Default()))
	assert.Equal(t, StateCreated.String(), machine.Current())

	assert.True(t, transition(machine, StateWaitingAccept, slog.Default()))
	assert.Equal(t, StateWaitingAccept.String(), machine.Current())
}
