package pipeline

import (
	"fmt"
	"sync"
)

// State is the pipeline's service lifecycle state.
type State int

const (
	StateCreated State = iota
	StateInitializing
	StateRunning
	StateStopping
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// TransitionError reports a lifecycle transition that is not allowed.
type TransitionError struct {
	From State
	To   State
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid lifecycle transition %s -> %s", e.From, e.To)
}

// transitions maps each state to the states reachable from it. Stop is
// only legal from running or error; stopped is terminal.
var transitions = map[State][]State{
	StateCreated:      {StateInitializing},
	StateInitializing: {StateRunning, StateError},
	StateRunning:      {StateStopping, StateError},
	StateError:        {StateStopping},
	StateStopping:     {StateStopped, StateError},
	StateStopped:      {},
}

// Lifecycle is a guarded state machine over State.
type Lifecycle struct {
	mu    sync.Mutex
	state State
}

// NewLifecycle starts in StateCreated.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateCreated}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

// Transition moves to the given state, or returns a TransitionError when
// the move is not allowed from the current state.
func (l *Lifecycle) Transition(to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, allowed := range transitions[l.state] {
		if allowed == to {
			l.state = to
			return nil
		}
	}

	return TransitionError{From: l.state, To: to}
}
