package geom

import (
	"math"
	"testing"

	"github.com/golang/geo/s1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
)

const eps = 1e-9

func TestDistance(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 5.0, Distance(Pt(0, 0), Pt(3, 4)), eps)
	assert.InDelta(t, 0.0, Distance(Pt(1, 1), Pt(1, 1)), eps)
	assert.InDelta(t, Distance(Pt(-1, 2), Pt(4, -3)), Distance(Pt(4, -3), Pt(-1, 2)), eps)
}

func TestBearing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		from, to Point
		wantDeg  float64
	}{
		{"east", Pt(0, 0), Pt(1, 0), 0},
		{"north", Pt(0, 0), Pt(0, 2), 90},
		{"west", Pt(1, 1), Pt(-1, 1), 180},
		{"south-west", Pt(0, 0), Pt(-1, -1), -135},
		{"coincident", Pt(2, 2), Pt(2, 2), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.wantDeg, Bearing(tt.from, tt.to).Degrees(), 1e-6)
		})
	}
}

func TestToward(t *testing.T) {
	t.Parallel()

	got := Toward(Pt(4, 0), Pt(5, 0), 0.7)
	assert.InDelta(t, 4.7, got.X, eps)
	assert.InDelta(t, 0.0, got.Y, eps)

	got = Toward(Pt(0, 0), Pt(3, 4), 1)
	assert.InDelta(t, 0.6, got.X, eps)
	assert.InDelta(t, 0.8, got.Y, eps)

	// No direction: stays put.
	assert.Equal(t, Pt(1, 2), Toward(Pt(1, 2), Pt(1, 2), 0.7))
}

func TestNearest(t *testing.T) {
	t.Parallel()

	_, ok := Nearest(Pt(0, 0), nil)
	assert.False(t, ok)

	pts := []Point{Pt(5, 0), Pt(1, 0), Pt(0, 1), Pt(3, 3)}
	idx, ok := Nearest(Pt(0, 0), pts)
	require.True(t, ok)
	// (1,0) and (0,1) tie; the first one wins.
	assert.Equal(t, 1, idx)
}

func TestYawQuaternionRoundTrip(t *testing.T) {
	t.Parallel()

	for _, deg := range []float64{0, 30, 90, 135, 179, -45, -90} {
		q := YawQuaternion(s1.Angle(deg) * s1.Degree)
		assert.InDelta(t, 1.0, quat.Abs(q), eps, "unit quaternion for %v", deg)
		assert.InDelta(t, deg, Yaw(q).Degrees(), 1e-6)
	}
}

func TestRotateYaw(t *testing.T) {
	t.Parallel()

	q := YawQuaternion(0)
	r := RotateYaw(q, 90*s1.Degree)
	assert.InDelta(t, 90.0, Yaw(r).Degrees(), 1e-6)

	// Wraps past 180.
	r = RotateYaw(YawQuaternion(135*s1.Degree), 90*s1.Degree)
	assert.InDelta(t, -135.0, Yaw(r).Degrees(), 1e-6)
	assert.InDelta(t, 1.0, quat.Abs(r), eps)
}

func TestFacing(t *testing.T) {
	t.Parallel()

	p := Facing(Pt(4, 0), Pt(5, 0))
	assert.Equal(t, Pt(4, 0), p.Position)
	assert.InDelta(t, 0.0, Yaw(p.Orientation).Degrees(), 1e-6)

	p = Facing(Pt(0, 0), Pt(0, -3))
	assert.InDelta(t, -90.0, Yaw(p.Orientation).Degrees(), 1e-6)
}

func TestPoseAtIdentity(t *testing.T) {
	t.Parallel()

	p := PoseAt(Pt(1, 2))
	assert.Equal(t, quat.Number{Real: 1}, p.Orientation)
	assert.False(t, math.IsNaN(Yaw(p.Orientation).Radians()))
}
