package recorder

import "fmt"

type State string

type Event string

const (
	StateIdle      State = "idle"
	StateArmed     State = "armed"
	StateRecording State = "recording"
	StateFailed    State = "failed"
)

const (
	EventArm    Event = "arm"
	EventOpened Event = "opened"
	EventStop   Event = "stop"
	EventAbort  Event = "abort"
	EventFail   Event = "fail"
)

// Transition returns the state reached from current on event.
func Transition(current State, event Event) (State, error) {
	switch current {
	case StateIdle, StateFailed:
		switch event {
		case EventArm:
			return StateArmed, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateArmed:
		switch event {
		case EventOpened:
			return StateRecording, nil
		case EventFail:
			return StateFailed, nil
		case EventAbort:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRecording:
		switch event {
		case EventStop, EventAbort:
			return StateIdle, nil
		case EventFail:
			return StateFailed, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Active reports whether a session is arming or recording.
func (s State) Active() bool {
	return s == StateArmed || s == StateRecording
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
