package core

import "fmt"

type EngineState int32

const (
	StateIdle EngineState = iota
	StateJoining
	StateNegotiating
	StateConnected
	StateLeaving
	StateFailed
)

func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateLeaving:
		return "leaving"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var transitions = map[EngineState][]EngineState{
	StateIdle:        {StateJoining},
	StateJoining:     {StateNegotiating, StateFailed, StateLeaving},
	StateNegotiating: {StateConnected, StateFailed, StateLeaving},
	StateConnected:   {StateNegotiating, StateLeaving},
	StateLeaving:     {StateIdle},
	StateFailed:      {StateJoining, StateLeaving, StateIdle},
}

// CanTransition reports whether from→to is an edge of the session state machine.
func CanTransition(from, to EngineState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
