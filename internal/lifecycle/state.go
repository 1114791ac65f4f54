package lifecycle

import (
	"errors"
	"fmt"
)

// State is a phase of the engine's life.
type State int

const (
	NotStarted State = iota
	Starting
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition classifies every *TransitionError.
var ErrInvalidTransition = errors.New("invalid state transition")

// TransitionError reports an illegal state change.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Starting goes to Stopping rather than Running when a stop was latched
// during startup or startup failed.
var validTransitions = map[State][]State{
	NotStarted: {Starting},
	Starting:   {Running, Stopping},
	Running:    {Stopping},
	Stopping:   {Stopped},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
