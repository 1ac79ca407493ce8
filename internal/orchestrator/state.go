package orchestrator

// State is a step of one generation call.
type State int

const (
	StateIdle State = iota
	StateAttempting
	StateRetrying
	StateSucceeded
	StateExhausted
	StateFallbackGenerating
	StateFallbackSucceeded
	// StateFailed ends a call that surfaced an error to the caller.
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateRetrying:
		return "retrying"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	case StateFallbackGenerating:
		return "fallback_generating"
	case StateFallbackSucceeded:
		return "fallback_succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFallbackSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Transition is one state change of a generation call.
type Transition struct {
	CallID  string
	From    State
	To      State
	Attempt int
	Err     error
}

// StateObserver receives transitions synchronously from the generating
// goroutine. It must not block.
type StateObserver func(Transition)
