package supervisor

// State is the lifecycle state of the worker.
type State int

const (
	StateAbsent State = iota
	StateStarting
	StateRunning
	StateCrashed
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateCrashed:
		return "crashed"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// TransitionFunc observes state changes.
type TransitionFunc func(from, to State)

// validTransitions lists the edges of the state machine.
var validTransitions = map[State][]State{
	StateAbsent:   {StateStarting},
	StateStarting: {StateRunning, StateCrashed, StateStopping},
	StateRunning:  {StateCrashed, StateStopping},
	StateCrashed:  {StateAbsent},
	StateStopping: {StateAbsent},
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
