package hardware

import (
	"context"
	"math"
	"time"

	"github.com/banshee-data/cryptomaster/internal/serialmux"
	"github.com/banshee-data/cryptomaster/internal/timeutil"
	"github.com/golang/geo/s1"
)

// SerialManipulator drives the coin arm over the bridge.
type SerialManipulator struct {
	bridge *Bridge
}

// NewSerialManipulator returns a manipulator using bridge.
func NewSerialManipulator(bridge *Bridge) *SerialManipulator {
	return &SerialManipulator{bridge: bridge}
}

// Grab picks up a coin.
func (m *SerialManipulator) Grab() error {
	return m.bridge.Do(context.Background(), serialmux.CommandGrab, 0)
}

// Release drops the coin; count selects the drop slot.
func (m *SerialManipulator) Release(count int) error {
	return m.bridge.Do(context.Background(), serialmux.ReleaseCommand(count), 0)
}

// SerialAnnouncer speaks through the bridge's speaker and holds for the
// requested time.
type SerialAnnouncer struct {
	bridge *Bridge
	clock  timeutil.Clock
}

// NewSerialAnnouncer returns an announcer using bridge. A nil clock uses
// the real one.
func NewSerialAnnouncer(bridge *Bridge, clock timeutil.Clock) *SerialAnnouncer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SerialAnnouncer{bridge: bridge, clock: clock}
}

// Say implements mission.Announcer.
func (a *SerialAnnouncer) Say(text string, hold time.Duration) error {
	logf("say %q", text)
	err := a.bridge.Do(context.Background(), serialmux.SayCommand(text, hold), 0)
	if hold > 0 {
		a.clock.Sleep(hold)
	}
	return err
}

// SerialDrive rotates the base in place through the bridge.
type SerialDrive struct {
	bridge *Bridge
}

// NewSerialDrive returns a drive using bridge.
func NewSerialDrive(bridge *Bridge) *SerialDrive {
	return &SerialDrive{bridge: bridge}
}

// Rotate implements mission.Sweeper. It waits up to the nominal rotation
// time on top of the bridge timeout.
func (d *SerialDrive) Rotate(ctx context.Context, angle s1.Angle, speed float64) error {
	return d.bridge.Do(ctx, serialmux.RotateCommand(angle.Radians(), speed), rotationTime(angle, speed))
}

// rotationTime is how long a rotation of angle at speed rad/s takes.
func rotationTime(angle s1.Angle, speed float64) time.Duration {
	if !(speed > 0) {
		return 0
	}
	return time.Duration(math.Abs(angle.Radians()) / speed * float64(time.Second))
}
