package nav

import (
	"context"
	"sync"

	"github.com/banshee-data/cryptomaster/internal/geom"
)

// SimNavigator reaches every goal instantly unless scripted otherwise. It
// records the poses it was sent.
type SimNavigator struct {
	mu     sync.Mutex
	script []Status
	goals  []geom.Pose
	pose   geom.Pose
}

// NewSimNavigator returns a simulator starting at start. Statuses in script
// are returned for the first goals in order; later goals succeed.
func NewSimNavigator(start geom.Point, script ...Status) *SimNavigator {
	return &SimNavigator{pose: geom.PoseAt(start), script: script}
}

// MoveTo implements Navigator.
func (s *SimNavigator) MoveTo(ctx context.Context, pose geom.Pose) (Status, error) {
	if st, done := timeoutStatus(ctx); done {
		return st, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goals = append(s.goals, pose)
	status := StatusSucceeded
	if len(s.script) > 0 {
		status = s.script[0]
		s.script = s.script[1:]
	}
	if status.Succeeded() {
		s.pose = pose
	}
	return status, nil
}

// Goals returns the poses sent so far.
func (s *SimNavigator) Goals() []geom.Pose {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]geom.Pose(nil), s.goals...)
}

// Pose returns the last reached pose.
func (s *SimNavigator) Pose() geom.Pose {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pose
}
