// Package monitor renders debugging views of the cluster arena: an
// interactive go-echarts scatter page and a static PNG snapshot.
package monitor

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/banshee-data/cryptomaster/internal/cluster"
	"github.com/banshee-data/cryptomaster/internal/geom"
	"github.com/banshee-data/cryptomaster/internal/monitoring"
)

var logf = monitoring.Component("monitor")

// Snapshot is the data drawn by the views.
type Snapshot struct {
	Clusters   []cluster.Point
	Viewpoints []geom.Point
	GoalsLeft  []geom.Point
	Robot      geom.Point
}

// Source produces the current snapshot.
type Source func() Snapshot

// Handler serves the cluster views.
type Handler struct {
	source Source
	topK   int
}

// NewHandler returns a Handler drawing from source. topK limits the
// highlighted clusters; the rest are drawn muted.
func NewHandler(source Source, topK int) *Handler {
	if topK <= 0 {
		topK = 3
	}
	return &Handler{source: source, topK: topK}
}

// AttachRoutes registers /debug/clusters and /debug/clusters.png.
func (h *Handler) AttachRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/clusters", h.handleScatter)
	mux.HandleFunc("/debug/clusters.png", h.handlePNG)
}

// topK reads an optional "k" query parameter.
func (h *Handler) topKParam(r *http.Request) int {
	if v := r.URL.Query().Get("k"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			return k
		}
	}
	return h.topK
}

// splitTop partitions clusters into the k most observed (descending N,
// ties in arena order) and the rest.
func splitTop(points []cluster.Point, k int) (top, rest []cluster.Point) {
	sorted := append([]cluster.Point(nil), points...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].N > sorted[j].N })
	if k > len(sorted) {
		k = len(sorted)
	}
	return sorted[:k], sorted[k:]
}

// bounds returns a square extent covering every drawn point with a margin.
func bounds(s Snapshot) (min, max float64) {
	min, max = -1, 1
	grow := func(p geom.Point) {
		for _, v := range []float64{p.X, p.Y} {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}
	for _, c := range s.Clusters {
		grow(c.Position())
	}
	for _, v := range s.Viewpoints {
		grow(v)
	}
	grow(s.Robot)
	pad := 0.05 * (max - min)
	return min - pad, max + pad
}
