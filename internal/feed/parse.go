// Package feed turns raw observation lines from the marker detector into
// cluster observations. Lines arrive over the serial bridge, as UDP
// datagrams, or from a PCAP recording of those datagrams.
package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/cryptomaster/internal/cluster"
	"github.com/banshee-data/cryptomaster/internal/geom"
)

// ErrMalformedLine is returned for lines that cannot be decoded into an
// observation.
var ErrMalformedLine = errors.New("malformed observation line")

// wireObservation is the JSON shape emitted by the detector:
//
//	{"x": 1.2, "y": -0.4, "color": {"r": 200, "g": 10, "b": 30}, "text": "{\"id\": 7}"}
//
// A plain "label" may replace "color".
type wireObservation struct {
	X     *float64     `json:"x"`
	Y     *float64     `json:"y"`
	Color *cluster.RGB `json:"color,omitempty"`
	Label string       `json:"label,omitempty"`
	Text  string       `json:"text,omitempty"`
}

// ParseLine decodes one detector line. The label comes from the colour when
// one is present. The marker text becomes the payload only when it is
// itself valid JSON; other text is ignored.
func ParseLine(line []byte) (cluster.Observation, error) {
	line = bytes.TrimSpace(line)
	var w wireObservation
	if err := json.Unmarshal(line, &w); err != nil {
		return cluster.Observation{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	if w.X == nil || w.Y == nil {
		return cluster.Observation{}, fmt.Errorf("%w: missing coordinates", ErrMalformedLine)
	}
	if !finite(*w.X) || !finite(*w.Y) {
		return cluster.Observation{}, fmt.Errorf("%w: non-finite coordinates", ErrMalformedLine)
	}

	obs := cluster.Observation{Position: geom.Pt(*w.X, *w.Y)}
	switch {
	case w.Color != nil:
		obs.Label = cluster.ExtractColor(*w.Color)
	case w.Label != "":
		obs.Label = w.Label
	default:
		return cluster.Observation{}, fmt.Errorf("%w: no colour or label", ErrMalformedLine)
	}
	if w.Text != "" && json.Valid([]byte(w.Text)) {
		obs.Payload = json.RawMessage(w.Text)
	}
	return obs, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
