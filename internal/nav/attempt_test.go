package nav

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/banshee-data/cryptomaster/internal/geom"
	"github.com/stretchr/testify/assert"
)

type navFunc func(ctx context.Context, pose geom.Pose) (Status, error)

func (f navFunc) MoveTo(ctx context.Context, pose geom.Pose) (Status, error) { return f(ctx, pose) }

func TestAttemptRetries(t *testing.T) {
	t.Parallel()

	sim := NewSimNavigator(geom.Pt(0, 0), StatusAborted, StatusRejected)
	st, err := Attempt(context.Background(), sim, geom.PoseAt(geom.Pt(1, 0)), time.Second, 0)
	assert.NoError(t, err)
	assert.Equal(t, StatusAborted, st)
	assert.Len(t, sim.Goals(), 1)

	st, err = Attempt(context.Background(), sim, geom.PoseAt(geom.Pt(1, 0)), time.Second, 3)
	assert.NoError(t, err)
	assert.Equal(t, StatusSucceeded, st)
	assert.Len(t, sim.Goals(), 3)
}

func TestAttemptReportsLastError(t *testing.T) {
	t.Parallel()

	calls := 0
	n := navFunc(func(context.Context, geom.Pose) (Status, error) {
		calls++
		return StatusLost, errors.New("bridge down")
	})
	st, err := Attempt(context.Background(), n, geom.Pose{}, 0, 2)
	assert.EqualError(t, err, "bridge down")
	assert.Equal(t, StatusLost, st)
	assert.Equal(t, 3, calls)
}

func TestAttemptTimesOut(t *testing.T) {
	t.Parallel()

	n := navFunc(func(ctx context.Context, _ geom.Pose) (Status, error) {
		<-ctx.Done()
		return StatusActive, nil
	})
	st, err := Attempt(context.Background(), n, geom.Pose{}, 10*time.Millisecond, 0)
	assert.NoError(t, err)
	assert.Equal(t, StatusTimedOut, st)
}

func TestAttemptStopsOnCancelledParent(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	n := navFunc(func(context.Context, geom.Pose) (Status, error) {
		calls++
		return StatusPreempted, nil
	})
	st, _ := Attempt(ctx, n, geom.Pose{}, time.Second, 5)
	assert.Equal(t, StatusPreempted, st)
	assert.Equal(t, 1, calls)
}
