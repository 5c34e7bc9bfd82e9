package orchestrator

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned for lifecycle moves the state machine
// does not allow.
var ErrInvalidTransition = errors.New("invalid worker lifecycle transition")

// State is the lifecycle of the worker of one run.
type State int

// Worker lifecycle states. Completed and Failed are terminal.
const (
	NotStarted State = iota
	Running
	Completed
	Failed
)

var stateNames = [...]string{"not-started", "running", "completed", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}

	return stateNames[s]
}

// MarshalText renders the state by name in JSON and YAML reports.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

func (s State) canMoveTo(next State) bool {
	switch s {
	case NotStarted:
		return next == Running || next == Failed
	case Running:
		return next == Completed || next == Failed
	default:
		return false
	}
}

type lifecycle struct {
	state State
}

func (l *lifecycle) moveTo(next State) error {
	if !l.state.canMoveTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, next)
	}

	l.state = next

	return nil
}
