package hardware

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/cryptomaster/internal/timeutil"
	"github.com/golang/geo/s1"
)

// SimManipulator logs arm actions and counts them.
type SimManipulator struct {
	mu       sync.Mutex
	grabs    int
	releases []int
}

// Grab implements mission.Manipulator.
func (m *SimManipulator) Grab() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grabs++
	logf("sim: grab coin")
	return nil
}

// Release implements mission.Manipulator.
func (m *SimManipulator) Release(count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases = append(m.releases, count)
	logf("sim: release coin %d", count)
	return nil
}

// Counts returns the number of grabs and the release arguments so far.
func (m *SimManipulator) Counts() (grabs int, releases []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grabs, append([]int(nil), m.releases...)
}

// LogAnnouncer writes announcements to the log and holds on clock.
type LogAnnouncer struct {
	Clock timeutil.Clock
}

// Say implements mission.Announcer.
func (a LogAnnouncer) Say(text string, hold time.Duration) error {
	logf("say %q (hold %s)", text, hold)
	if hold > 0 && a.Clock != nil {
		a.Clock.Sleep(hold)
	}
	return nil
}

// SimDrive pretends to rotate, taking the nominal time on its clock.
type SimDrive struct {
	Clock timeutil.Clock
	// OnRotate, when set, runs while the rotation is in progress.
	OnRotate func()
}

// Rotate implements mission.Sweeper.
func (d SimDrive) Rotate(ctx context.Context, angle s1.Angle, speed float64) error {
	logf("sim: rotate %.1f deg at %.2f rad/s", angle.Degrees(), speed)
	if d.OnRotate != nil {
		d.OnRotate()
	}
	if d.Clock != nil {
		d.Clock.Sleep(rotationTime(angle, speed))
	}
	return ctx.Err()
}
