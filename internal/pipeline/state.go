package pipeline

import (
	"errors"
	"fmt"
)

// State is a step of a detection request
type State int

const (
	Idle State = iota
	FaceLocalizing
	Cropping
	Normalizing
	Classifying
	Ranked
	Failed
)

var stateNames = map[State]string{
	Idle:           "idle",
	FaceLocalizing: "face_localizing",
	Cropping:       "cropping",
	Normalizing:    "normalizing",
	Classifying:    "classifying",
	Ranked:         "ranked",
	Failed:         "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether a request in this state has finished
func (s State) Terminal() bool {
	return s == Ranked || s == Failed
}

// InFlight reports whether a request in this state is still running
func (s State) InFlight() bool {
	return s > Idle && s < Ranked
}

// Event drives the state machine
type Event int

const (
	EventRequest Event = iota
	EventFaceFound
	EventRegionReady
	EventTensorReady
	EventRanked
	EventFail
)

var eventNames = [...]string{"request", "face_found", "region_ready", "tensor_ready", "ranked", "fail"}

func (e Event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// ErrIllegalTransition is returned by Transition for an event the current
// state does not accept.
var ErrIllegalTransition = errors.New("illegal state transition")

// Transition returns the state reached from cur on ev. A request may start
// from Idle or from a finished request. Failure is accepted from any state.
func Transition(cur State, ev Event) (State, error) {
	switch ev {
	case EventFail:
		return Failed, nil
	case EventRequest:
		if cur == Idle || cur.Terminal() {
			return FaceLocalizing, nil
		}
	case EventFaceFound:
		if cur == FaceLocalizing {
			return Cropping, nil
		}
	case EventRegionReady:
		if cur == Cropping {
			return Normalizing, nil
		}
	case EventTensorReady:
		if cur == Normalizing {
			return Classifying, nil
		}
	case EventRanked:
		if cur == Classifying {
			return Ranked, nil
		}
	}
	return cur, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, ev, cur)
}
