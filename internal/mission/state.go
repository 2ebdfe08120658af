package mission

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when an event does not apply to the
	// current state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrUnknownState is returned for a state value outside the closed set.
	ErrUnknownState = errors.New("unknown state")
)

// State is a coordinator state.
type State int

const (
	StateWaitingForMap State = iota
	StateReadyForGoal
	StateObserving
	StateCircleApproached
	StateDone
)

var stateNames = map[State]string{
	StateWaitingForMap:    "WAITING_FOR_MAP",
	StateReadyForGoal:     "READY_FOR_GOAL",
	StateObserving:        "OBSERVING",
	StateCircleApproached: "CIRCLE_APPROACHED",
	StateDone:             "DONE",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for v, n := range stateNames {
		if n == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("%q: %w", b, ErrUnknownState)
}

// Event drives a state transition.
type Event int

const (
	EventMapReady Event = iota
	EventGoalReached
	EventGoalFailed
	EventSweepDone
	EventTargetReached
	EventManipulated
	EventTargetsComplete
)

var eventNames = map[Event]string{
	EventMapReady:        "map_ready",
	EventGoalReached:     "goal_reached",
	EventGoalFailed:      "goal_failed",
	EventSweepDone:       "sweep_done",
	EventTargetReached:   "target_reached",
	EventManipulated:     "manipulated",
	EventTargetsComplete: "targets_complete",
}

func (e Event) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// MarshalText implements encoding.TextMarshaler.
func (e Event) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Event) UnmarshalText(b []byte) error {
	for v, n := range eventNames {
		if n == string(b) {
			*e = v
			return nil
		}
	}
	return fmt.Errorf("unknown event %q", b)
}

// Transition returns the state reached from s on e. It has no side effects.
func Transition(s State, e Event) (State, error) {
	switch s {
	case StateWaitingForMap, StateReadyForGoal, StateObserving, StateCircleApproached:
		if e == EventTargetsComplete {
			return StateDone, nil
		}
	case StateDone:
		return s, fmt.Errorf("%s on %s: %w", e, s, ErrInvalidTransition)
	default:
		return s, fmt.Errorf("%s: %w", s, ErrUnknownState)
	}

	switch {
	case s == StateWaitingForMap && e == EventMapReady:
		return StateReadyForGoal, nil
	case s == StateReadyForGoal && e == EventGoalReached:
		return StateObserving, nil
	case s == StateReadyForGoal && e == EventGoalFailed:
		return StateReadyForGoal, nil
	case s == StateObserving && e == EventSweepDone:
		return StateReadyForGoal, nil
	case (s == StateReadyForGoal || s == StateWaitingForMap) && e == EventTargetReached:
		return StateCircleApproached, nil
	case s == StateCircleApproached && e == EventManipulated:
		return StateReadyForGoal, nil
	}
	return s, fmt.Errorf("%s on %s: %w", e, s, ErrInvalidTransition)
}
