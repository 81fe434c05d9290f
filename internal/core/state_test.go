package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHappyPathIsAllowed(t *testing.T) {
	path := []EngineState{StateIdle, StateJoining, StateNegotiating, StateConnected, StateLeaving, StateIdle}
	for i := 1; i < len(path); i++ {
		assert.True(t, CanTransition(path[i-1], path[i]), "%s -> %s", path[i-1], path[i])
	}
}

func TestFailedOnlyFromJoinPhases(t *testing.T) {
	assert.True(t, CanTransition(StateJoining, StateFailed))
	assert.True(t, CanTransition(StateNegotiating, StateFailed))
	assert.False(t, CanTransition(StateConnected, StateFailed))
	assert.False(t, CanTransition(StateIdle, StateFailed))
}

func TestNoShortcuts(t *testing.T) {
	assert.False(t, CanTransition(StateIdle, StateConnected))
	assert.False(t, CanTransition(StateLeaving, StateJoining))
	assert.Equal(t, "state(42)", EngineState(42).String())
}
