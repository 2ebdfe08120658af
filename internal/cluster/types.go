package cluster

import (
	"encoding/json"
	"fmt"

	"github.com/banshee-data/cryptomaster/internal/geom"
)

// Discrete colour labels produced by ExtractColor.
const (
	LabelRed    = "red"
	LabelGreen  = "green"
	LabelBlue   = "blue"
	LabelYellow = "yellow"
)

// RGB is a colour with 0-255 channels as reported by the marker detector.
type RGB struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// ExtractColor maps a detector colour onto a discrete label. Yellow is
// recognised first (strong red and green, weak blue); otherwise the dominant
// channel wins, checked in blue, red, green order so that exact ties resolve
// the same way every time.
func ExtractColor(c RGB) string {
	if c.B < 50 && c.R > 100 && c.G > 100 {
		return LabelYellow
	}
	label, best := LabelBlue, c.B
	if c.R > best {
		label, best = LabelRed, c.R
	}
	if c.G > best {
		label = LabelGreen
	}
	return label
}

// Observation is one detection of a point-like object.
type Observation struct {
	Position geom.Point      `json:"position"`
	Label    string          `json:"label"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Point is a cluster: an evolving centroid estimate plus metadata.
type Point struct {
	ID      string          `json:"id"`
	Index   int             `json:"index"`
	X       float64         `json:"x"`
	Y       float64         `json:"y"`
	N       int             `json:"n"`
	Visited bool            `json:"visited"`
	Label   string          `json:"label"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Position returns the centroid as a geom.Point.
func (p Point) Position() geom.Point { return geom.Pt(p.X, p.Y) }

func (p Point) String() string {
	return fmt.Sprintf("[%s x: %.3f, y: %.3f, n: %d, visited: %v]", p.Label, p.X, p.Y, p.N, p.Visited)
}

// moveCenter returns p with obs folded into the running mean.
func (p Point) moveCenter(obs geom.Point) Point {
	n := float64(p.N)
	p.X = (n*p.X + obs.X) / (n + 1)
	p.Y = (n*p.Y + obs.Y) / (n + 1)
	p.N++
	return p
}

func (p Point) clone() Point {
	if p.Payload != nil {
		p.Payload = append(json.RawMessage(nil), p.Payload...)
	}
	return p
}

// OutcomeKind classifies the result of Engine.Assign.
type OutcomeKind string

const (
	OutcomeCreated   OutcomeKind = "created"
	OutcomeUpdated   OutcomeKind = "updated"
	OutcomeConfirmed OutcomeKind = "confirmed" // updated and crossed the threshold
	OutcomeDiscarded OutcomeKind = "discarded" // engine not observing
)

// Outcome reports what Assign did with an observation.
type Outcome struct {
	Kind      OutcomeKind
	Index     int     // arena index of the affected cluster, -1 when discarded
	Point     Point   // copy of the cluster after the assignment
	Distance  float64 // distance to the matched cluster (0 when created)
	Ambiguous bool    // more than one cluster at the minimum distance
}

// Confirmed reports whether the assignment confirmed a cluster.
func (o Outcome) Confirmed() bool { return o.Kind == OutcomeConfirmed }

// Stats are running counters for an Engine.
type Stats struct {
	Observations int `json:"observations"`
	Created      int `json:"created"`
	Updated      int `json:"updated"`
	Confirmed    int `json:"confirmed"`
	Discarded    int `json:"discarded"`
	Ambiguous    int `json:"ambiguous"`
	Resets       int `json:"resets"`
}
