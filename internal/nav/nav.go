// Package nav defines the navigation boundary: a Navigator moves the robot
// to a pose and reports a terminal goal status. Adapters for an HTTP
// navigation bridge and an in-process simulator live alongside.
package nav

import (
	"context"
	"fmt"
	"strings"

	"github.com/banshee-data/cryptomaster/internal/geom"
)

// Status is the terminal state of a navigation goal. Values follow the
// actionlib goal status numbering, with TimedOut appended for goals that
// exceed the local deadline.
type Status int

const (
	StatusPending Status = iota
	StatusActive
	StatusPreempted
	StatusSucceeded
	StatusAborted
	StatusRejected
	StatusPreempting
	StatusRecalling
	StatusRecalled
	StatusLost
	StatusTimedOut
)

var statusNames = [...]string{
	StatusPending:    "PENDING",
	StatusActive:     "ACTIVE",
	StatusPreempted:  "PREEMPTED",
	StatusSucceeded:  "SUCCEEDED",
	StatusAborted:    "ABORTED",
	StatusRejected:   "REJECTED",
	StatusPreempting: "PREEMPTING",
	StatusRecalling:  "RECALLING",
	StatusRecalled:   "RECALLED",
	StatusLost:       "LOST",
	StatusTimedOut:   "TIMED_OUT",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// Succeeded reports whether the goal was reached.
func (s Status) Succeeded() bool { return s == StatusSucceeded }

// ParseStatus converts a status name (case-insensitive) to a Status.
func ParseStatus(name string) (Status, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return StatusLost, fmt.Errorf("unknown navigation status %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Navigator drives the robot to a pose. MoveTo blocks until the goal
// terminates or ctx expires; an expired context yields StatusTimedOut.
type Navigator interface {
	MoveTo(ctx context.Context, pose geom.Pose) (Status, error)
}

// timeoutStatus maps a finished context to the status reported for it.
func timeoutStatus(ctx context.Context) (Status, bool) {
	switch ctx.Err() {
	case nil:
		return 0, false
	case context.DeadlineExceeded:
		return StatusTimedOut, true
	default:
		return StatusPreempted, true
	}
}
