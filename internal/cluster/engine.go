package cluster

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/banshee-data/cryptomaster/internal/config"
	"github.com/banshee-data/cryptomaster/internal/geom"
	"github.com/banshee-data/cryptomaster/internal/monitoring"
	"github.com/google/uuid"
)

// ErrClusterNotFound is returned when a cluster index is out of range.
var ErrClusterNotFound = errors.New("cluster not found")

// ambiguityEpsilon is the distance tolerance under which two candidate
// clusters count as equidistant.
const ambiguityEpsilon = 1e-9

var logf = monitoring.Component("cluster")

// EngineConfig holds the clustering parameters.
type EngineConfig struct {
	ConfirmationThreshold int     // observations needed to confirm a cluster (> 1)
	ClusterRadius         float64 // max distance (metres) for joining an existing cluster
}

// EngineConfigFromMission builds an EngineConfig from the loaded mission config.
func EngineConfigFromMission(cfg *config.MissionConfig) EngineConfig {
	return EngineConfig{
		ConfirmationThreshold: cfg.GetConfirmationThreshold(),
		ClusterRadius:         cfg.GetClusterRadius(),
	}
}

// Recorder persists cluster snapshots. Errors are logged and never affect
// clustering.
type Recorder interface {
	RecordCluster(p Point) error
}

// Engine maintains the cluster arena. Observation feeds call Assign from
// their own goroutines while the coordinator toggles observing and reads
// snapshots; a single RWMutex serialises all of it.
type Engine struct {
	mu        sync.RWMutex
	config    EngineConfig
	points    []Point
	observing bool
	stats     Stats

	onConfirm func(Point)
	recorder  Recorder
	counters  *monitoring.Counters
}

// NewEngine creates an empty engine. A threshold below 2 is raised to 2 so
// that creation can never double as confirmation. A non-positive radius
// lets every observation join the nearest existing cluster.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.ConfirmationThreshold < 2 {
		cfg.ConfirmationThreshold = 2
	}
	if !(cfg.ClusterRadius > 0) {
		cfg.ClusterRadius = math.Inf(1)
	}
	return &Engine{
		config:   cfg,
		counters: monitoring.Default,
	}
}

// SetConfirmHandler installs the function called with a copy of every newly
// confirmed cluster. It runs on the goroutine that called Assign while the
// engine lock is held, so it must not call back into the Engine. Once
// SetObserving(false) returns, every confirmation made while observing has
// been handed to it.
func (e *Engine) SetConfirmHandler(fn func(Point)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onConfirm = fn
}

// SetRecorder installs an optional persistence hook.
func (e *Engine) SetRecorder(r Recorder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recorder = r
}

// SetCounters replaces the diagnostic counter set (monitoring.Default by default).
func (e *Engine) SetCounters(c *monitoring.Counters) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c == nil {
		c = &monitoring.Counters{}
	}
	e.counters = c
}

// SetObserving enables or disables observation processing.
func (e *Engine) SetObserving(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observing = on
}

// Observing reports whether observations are currently processed.
func (e *Engine) Observing() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.observing
}

// Config returns the engine configuration.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// Assign folds one observation into the arena: it joins the nearest cluster
// within the clustering radius or starts a new one. Observations received
// while the engine is not observing are dropped without side effects.
func (e *Engine) Assign(obs Observation) Outcome {
	e.mu.Lock()

	if !e.observing {
		e.stats.Discarded++
		counters := e.counters
		e.mu.Unlock()
		counters.Inc(monitoring.CounterDiscardedObservations)
		return Outcome{Kind: OutcomeDiscarded, Index: -1}
	}
	e.stats.Observations++

	idx, dist, ambiguous := e.nearestLocked(obs.Position)

	var out Outcome
	if idx >= 0 && dist <= e.config.ClusterRadius {
		updated := e.points[idx].moveCenter(obs.Position)
		out = Outcome{Kind: OutcomeUpdated, Index: idx, Distance: dist, Ambiguous: ambiguous}
		if updated.N >= e.config.ConfirmationThreshold && !updated.Visited {
			updated.Visited = true
			out.Kind = OutcomeConfirmed
			e.stats.Confirmed++
		}
		e.points[idx] = updated
		e.stats.Updated++
		out.Point = updated.clone()
	} else {
		p := Point{
			ID:      uuid.NewString(),
			Index:   len(e.points),
			X:       obs.Position.X,
			Y:       obs.Position.Y,
			N:       1,
			Label:   obs.Label,
			Payload: obs.Payload,
		}.clone()
		e.points = append(e.points, p)
		e.stats.Created++
		out = Outcome{Kind: OutcomeCreated, Index: p.Index, Point: p.clone()}
	}
	if out.Ambiguous {
		e.stats.Ambiguous++
	}

	if out.Confirmed() && e.onConfirm != nil {
		e.onConfirm(out.Point.clone())
	}

	recorder, counters := e.recorder, e.counters
	e.mu.Unlock()

	if out.Ambiguous {
		n := counters.Inc(monitoring.CounterAmbiguousAssignments)
		logf("observation at %s is equidistant (%.3f m) from several clusters; using cluster %d (ambiguous total %d)",
			obs.Position, out.Distance, out.Index, n)
	}
	switch out.Kind {
	case OutcomeCreated:
		logf("adding new cluster %d at %s label=%s", out.Index, obs.Position, obs.Label)
	case OutcomeConfirmed:
		logf("cluster %d confirmed after %d observations: %s", out.Index, out.Point.N, out.Point)
	}

	if recorder != nil {
		if err := recorder.RecordCluster(out.Point); err != nil {
			logf("failed to record cluster %d: %v", out.Index, err)
		}
	}
	return out
}

// nearestLocked returns the index of the cluster closest to p, the distance
// to it and whether another cluster lies at the same distance. Ties keep the
// first cluster in arena order. idx is -1 when the arena is empty.
func (e *Engine) nearestLocked(p geom.Point) (idx int, dist float64, ambiguous bool) {
	idx = -1
	dist = math.Inf(1)
	for i, c := range e.points {
		d := geom.Distance(p, c.Position())
		switch {
		case d < dist-ambiguityEpsilon:
			idx, dist, ambiguous = i, d, false
		case math.Abs(d-dist) <= ambiguityEpsilon:
			ambiguous = true
		}
	}
	return idx, dist, ambiguous
}

// ResetCluster clears the count and visited flag of the cluster at index
// while keeping its position and identity, so a failed job can be
// re-detected.
func (e *Engine) ResetCluster(index int) error {
	e.mu.Lock()
	if index < 0 || index >= len(e.points) {
		e.mu.Unlock()
		return fmt.Errorf("reset cluster %d: %w", index, ErrClusterNotFound)
	}
	p := e.points[index]
	p.N = 1
	p.Visited = false
	e.points[index] = p
	e.stats.Resets++
	recorder := e.recorder
	snapshot := p.clone()
	e.mu.Unlock()

	logf("cluster %d reset at %s", index, snapshot.Position())
	if recorder != nil {
		if err := recorder.RecordCluster(snapshot); err != nil {
			logf("failed to record cluster %d: %v", index, err)
		}
	}
	return nil
}

// TopClusters returns up to k clusters with the highest observation counts,
// descending, ties kept in arena order. Intended for presentation only.
func (e *Engine) TopClusters(k int) []Point {
	if k <= 0 {
		return []Point{}
	}
	all := e.Clusters()
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].N > all[j].N
	})
	if len(all) > k {
		all = all[:k]
	}
	return all
}

// Clusters returns a copy of the arena in index order.
func (e *Engine) Clusters() []Point {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Point, len(e.points))
	for i, p := range e.points {
		out[i] = p.clone()
	}
	return out
}

// Cluster returns a copy of the cluster at index.
func (e *Engine) Cluster(index int) (Point, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if index < 0 || index >= len(e.points) {
		return Point{}, fmt.Errorf("cluster %d: %w", index, ErrClusterNotFound)
	}
	return e.points[index].clone(), nil
}

// Len returns the number of clusters.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.points)
}

// Stats returns a copy of the running counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}
