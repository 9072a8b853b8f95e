package pipeline

// State is the stage an ingest request is in.
type State int

const (
	StateIdle State = iota
	StateClassifying
	StateCaptioning
	StateMerging
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClassifying:
		return "classifying"
	case StateCaptioning:
		return "captioning"
	case StateMerging:
		return "merging"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions follow s within one request.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// ProgressFunc observes state transitions of one ingest, identified by its
// correlation id. Every request ends with StateIdle after StateDone or
// StateFailed. It is called synchronously, so it must not block.
type ProgressFunc func(correlationID string, state State)

// validTransition reports whether from -> to is allowed. Failed is reachable
// from Idle (generation, edit or input preparation failed) and Classifying,
// never from Captioning or later.
func validTransition(from, to State) bool {
	switch to {
	case StateIdle:
		return from.Terminal()
	case StateClassifying:
		return from == StateIdle
	case StateCaptioning:
		return from == StateClassifying
	case StateMerging:
		return from == StateCaptioning
	case StateDone:
		return from == StateMerging
	case StateFailed:
		return from == StateIdle || from == StateClassifying
	}
	return false
}
