package component

// State is a component's position in its lifecycle.
type State int32

const (
	StateClosed State = iota
	StateInitialising
	StateInitialised
	StateStarting
	StateStarted
	StateStopping
	StateStopped
	StateFailed
)

var stateNames = [...]string{
	StateClosed:       "CLOSED",
	StateInitialising: "INITIALISING",
	StateInitialised:  "INITIALISED",
	StateStarting:     "STARTING",
	StateStarted:      "STARTED",
	StateStopping:     "STOPPING",
	StateStopped:      "STOPPED",
	StateFailed:       "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// In reports whether s is one of states.
func (s State) In(states ...State) bool {
	for _, candidate := range states {
		if s == candidate {
			return true
		}
	}
	return false
}

func stateStrings(states []State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = s.String()
	}
	return out
}
