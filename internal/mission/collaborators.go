package mission

import (
	"context"
	"time"

	"github.com/golang/geo/s1"
)

// Manipulator picks up and drops coins.
type Manipulator interface {
	Grab() error
	// Release drops the coin; count is the number dropped before this one.
	Release(count int) error
}

// Announcer speaks a message and blocks for hold.
type Announcer interface {
	Say(text string, hold time.Duration) error
}

// Sweeper rotates the robot in place, blocking until the rotation ends.
type Sweeper interface {
	Rotate(ctx context.Context, angle s1.Angle, speed float64) error
}

// TransitionRecord is one state change.
type TransitionRecord struct {
	At     time.Time `json:"at"`
	From   State     `json:"from"`
	Event  Event     `json:"event"`
	To     State     `json:"to"`
	Detail string    `json:"detail,omitempty"`
}

// EventRecorder persists transitions. Errors are logged and otherwise
// ignored.
type EventRecorder interface {
	RecordTransition(rec TransitionRecord) error
}
