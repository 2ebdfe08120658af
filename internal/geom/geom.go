// Package geom holds the planar distance and orientation primitives used by
// clustering, goal selection and target approach. Positions are in the
// world (map) frame, in metres.
package geom

import (
	"fmt"
	"math"

	"github.com/golang/geo/s1"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r2"
)

// Point is a position in the world frame.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point { return Point{X: x, Y: y} }

func (p Point) vec() r2.Vec { return r2.Vec{X: p.X, Y: p.Y} }

func fromVec(v r2.Vec) Point { return Point{X: v.X, Y: v.Y} }

func (p Point) String() string { return fmt.Sprintf("(%.3f, %.3f)", p.X, p.Y) }

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Point) float64 {
	return r2.Norm(r2.Sub(a.vec(), b.vec()))
}

// Bearing returns the heading from `from` towards `to`, measured
// counter-clockwise from the +X axis. Coincident points give zero.
func Bearing(from, to Point) s1.Angle {
	d := r2.Sub(to.vec(), from.vec())
	return s1.Angle(math.Atan2(d.Y, d.X))
}

// Toward returns the point at distance d from `from` in the direction of
// `to`. When the two points coincide there is no direction and `from` is
// returned unchanged.
func Toward(from, to Point, d float64) Point {
	delta := r2.Sub(to.vec(), from.vec())
	if r2.Norm(delta) == 0 {
		return from
	}
	return fromVec(r2.Add(from.vec(), r2.Scale(d, r2.Unit(delta))))
}

// Nearest returns the index of the point in pts closest to p. Ties go to the
// first point found at the minimum distance. ok is false when pts is empty.
func Nearest(p Point, pts []Point) (idx int, ok bool) {
	idx = -1
	best := math.Inf(1)
	for i, q := range pts {
		if d := Distance(p, q); d < best {
			best = d
			idx = i
		}
	}
	return idx, idx >= 0
}

// Pose is a position plus a planar orientation stored as a unit quaternion
// about the Z axis.
type Pose struct {
	Position    Point       `json:"position"`
	Orientation quat.Number `json:"orientation"`
}

// PoseAt returns a pose at p with the identity orientation.
func PoseAt(p Point) Pose {
	return Pose{Position: p, Orientation: quat.Number{Real: 1}}
}

// YawQuaternion returns the unit quaternion for a rotation of yaw about Z.
func YawQuaternion(yaw s1.Angle) quat.Number {
	half := yaw.Radians() / 2
	return quat.Number{Real: math.Cos(half), Kmag: math.Sin(half)}
}

// Yaw extracts the heading from a quaternion, assuming a rotation about Z.
// The result is normalized to (-pi, pi].
func Yaw(q quat.Number) s1.Angle {
	// Full ZYX extraction; for pure Z rotations this reduces to 2*atan2(k, w).
	siny := 2 * (q.Real*q.Kmag + q.Imag*q.Jmag)
	cosy := 1 - 2*(q.Jmag*q.Jmag+q.Kmag*q.Kmag)
	return s1.Angle(math.Atan2(siny, cosy)).Normalized()
}

// RotateYaw composes q with an additional rotation of delta about Z.
func RotateYaw(q quat.Number, delta s1.Angle) quat.Number {
	r := quat.Mul(YawQuaternion(delta), q)
	if n := quat.Abs(r); n > 0 {
		r = quat.Scale(1/n, r)
	}
	return r
}

// Facing returns the pose at `from` oriented towards `to`.
func Facing(from, to Point) Pose {
	return Pose{Position: from, Orientation: YawQuaternion(Bearing(from, to))}
}
