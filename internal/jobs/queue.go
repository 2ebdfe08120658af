// Package jobs holds the FIFO of confirmed targets waiting to be visited.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/cryptomaster/internal/cluster"
	"github.com/banshee-data/cryptomaster/internal/geom"
	"github.com/google/uuid"
)

// ErrEmptyQueue is returned by Dequeue when there is nothing to dispatch.
var ErrEmptyQueue = errors.New("job queue is empty")

// Job is a unit of work derived from one cluster confirmation.
type Job struct {
	ID           string          `json:"id"`
	ClusterID    string          `json:"cluster_id"`
	ClusterIndex int             `json:"cluster_index"`
	Label        string          `json:"label"`
	Position     geom.Point      `json:"position"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ConfirmedAt  time.Time       `json:"confirmed_at"`
}

// FromCluster builds a job for a just-confirmed cluster.
func FromCluster(p cluster.Point, at time.Time) Job {
	var payload json.RawMessage
	if p.Payload != nil {
		payload = append(json.RawMessage(nil), p.Payload...)
	}
	return Job{
		ID:           uuid.NewString(),
		ClusterID:    p.ID,
		ClusterIndex: p.Index,
		Label:        p.Label,
		Position:     p.Position(),
		Payload:      payload,
		ConfirmedAt:  at,
	}
}

func (j Job) String() string {
	return fmt.Sprintf("job %s (cluster %d, %s at %s)", j.ID[:min(8, len(j.ID))], j.ClusterIndex, j.Label, j.Position)
}

// Queue is a mutex-guarded FIFO. Confirmation handlers enqueue from feed
// goroutines while the coordinator dequeues and reorders from its tick.
type Queue struct {
	mu   sync.Mutex
	jobs []Job
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends job at the back.
func (q *Queue) Enqueue(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
}

// Dequeue removes and returns the front job.
func (q *Queue) Dequeue() (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return Job{}, ErrEmptyQueue
	}
	job := q.jobs[0]
	q.jobs[0] = Job{}
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.jobs = nil
	}
	return job, nil
}

// ReorderByGain stable-sorts the pending jobs by gains[label], highest
// first. Labels absent from gains rank below every known label and keep
// their relative order.
func (q *Queue) ReorderByGain(gains map[string]float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	gainOf := func(label string) float64 {
		if g, ok := gains[label]; ok {
			return g
		}
		return math.Inf(-1)
	}
	sort.SliceStable(q.jobs, func(i, j int) bool {
		return gainOf(q.jobs[i].Label) > gainOf(q.jobs[j].Label)
	})
}

// Size returns the number of pending jobs.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// IsEmpty reports whether no jobs are pending.
func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

// Snapshot returns a copy of the pending jobs in dispatch order.
func (q *Queue) Snapshot() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}
