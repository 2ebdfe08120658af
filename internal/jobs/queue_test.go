package jobs

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/cryptomaster/internal/cluster"
	"github.com/banshee-data/cryptomaster/internal/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func job(label string, x float64) Job {
	return Job{ID: label + "-job", Label: label, Position: geom.Pt(x, 0)}
}

func labels(jobs []Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.Label
	}
	return out
}

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	assert.True(t, q.IsEmpty())

	q.Enqueue(job("red", 1))
	q.Enqueue(job("green", 2))
	q.Enqueue(job("blue", 3))
	assert.Equal(t, 3, q.Size())

	for _, want := range []string{"red", "green", "blue"} {
		got, err := q.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, want, got.Label)
	}
	assert.True(t, q.IsEmpty())
}

func TestDequeueEmpty(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	_, err := q.Dequeue()
	assert.True(t, errors.Is(err, ErrEmptyQueue))

	q.Enqueue(job("red", 0))
	_, err = q.Dequeue()
	require.NoError(t, err)
	_, err = q.Dequeue()
	assert.ErrorIs(t, err, ErrEmptyQueue)
}

// Scenario C: reorder by gain, then dispatch order follows the gains.
func TestReorderByGain(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.Enqueue(job("red", 1))
	q.Enqueue(job("blue", 2))
	q.Enqueue(job("green", 3))

	q.ReorderByGain(map[string]float64{"red": 1, "blue": 5, "green": 3})
	assert.Equal(t, []string{"blue", "green", "red"}, labels(q.Snapshot()))

	got, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "blue", got.Label)
}

func TestReorderByGainIsStable(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.Enqueue(Job{ID: "a", Label: "red"})
	q.Enqueue(Job{ID: "b", Label: "blue"})
	q.Enqueue(Job{ID: "c", Label: "red"})
	q.Enqueue(Job{ID: "d", Label: "blue"})

	q.ReorderByGain(map[string]float64{"red": 2, "blue": 2})
	ids := func() []string {
		var out []string
		for _, j := range q.Snapshot() {
			out = append(out, j.ID)
		}
		return out
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids())

	q.ReorderByGain(map[string]float64{"red": 1, "blue": 2})
	assert.Equal(t, []string{"b", "d", "a", "c"}, ids())
}

func TestReorderByGainMissingLabelsSinkToBack(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.Enqueue(Job{ID: "1", Label: "purple"})
	q.Enqueue(Job{ID: "2", Label: "red"})
	q.Enqueue(Job{ID: "3", Label: ""})
	q.Enqueue(Job{ID: "4", Label: "green"})

	q.ReorderByGain(map[string]float64{"red": -100, "green": 0})
	snap := q.Snapshot()
	assert.Equal(t, []string{"4", "2", "1", "3"}, []string{snap[0].ID, snap[1].ID, snap[2].ID, snap[3].ID})

	// Nil gains: everything ties and order is untouched.
	q.ReorderByGain(nil)
	assert.Equal(t, snap, q.Snapshot())
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.Enqueue(job("red", 1))
	snap := q.Snapshot()
	snap[0].Label = "changed"
	assert.Equal(t, []string{"red"}, labels(q.Snapshot()))
	assert.Empty(t, NewQueue().Snapshot())
}

func TestFromCluster(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := cluster.Point{
		ID: "c-1", Index: 4, X: 1.5, Y: -2, N: 15, Visited: true,
		Label: cluster.LabelGreen, Payload: json.RawMessage(`{"n":1}`),
	}
	j := FromCluster(p, at)

	assert.NotEmpty(t, j.ID)
	assert.Equal(t, "c-1", j.ClusterID)
	assert.Equal(t, 4, j.ClusterIndex)
	assert.Equal(t, cluster.LabelGreen, j.Label)
	assert.Equal(t, geom.Pt(1.5, -2), j.Position)
	assert.Equal(t, at, j.ConfirmedAt)
	assert.JSONEq(t, `{"n":1}`, string(j.Payload))

	p.Payload[1] = 'X'
	assert.JSONEq(t, `{"n":1}`, string(j.Payload))

	other := FromCluster(p, at)
	assert.NotEqual(t, j.ID, other.ID)
	assert.Contains(t, j.String(), "cluster 4")
}

func TestQueueConcurrentEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	const producers, perProducer = 4, 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(job("red", float64(i)))
			}
		}()
	}

	var mu sync.Mutex
	dequeued := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			mu.Lock()
			n := dequeued
			mu.Unlock()
			if n == producers*perProducer {
				return
			}
			if _, err := q.Dequeue(); err == nil {
				mu.Lock()
				dequeued++
				mu.Unlock()
			}
			q.ReorderByGain(map[string]float64{"red": 1})
		}
	}()

	wg.Wait()
	<-done
	assert.True(t, q.IsEmpty())
}

func TestReorderByGainRedBeforeBlue(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	q.Enqueue(job("blue", 1))
	q.Enqueue(job("red", 2))
	q.ReorderByGain(map[string]float64{"red": 10, "blue": 1})
	assert.Equal(t, []string{"red", "blue"}, labels(q.Snapshot()))
}
