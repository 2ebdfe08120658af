package monitoring

import (
	"sort"
	"sync"
)

// Well-known counter names.
const (
	CounterAmbiguousAssignments  = "ambiguous_assignments"
	CounterDiscardedObservations = "discarded_observations"
	CounterMalformedLines        = "malformed_lines"
	CounterNavigationFailures    = "navigation_failures"
	CounterAbortedJobs           = "aborted_jobs"
)

// Counters is a set of named monotonically increasing diagnostic counters.
// The zero value is ready to use.
type Counters struct {
	mu     sync.Mutex
	values map[string]int64
}

// Default is the process-wide counter set used when no explicit set is wired.
var Default = &Counters{}

// Inc adds one to the named counter and returns the new value.
func (c *Counters) Inc(name string) int64 {
	return c.Add(name, 1)
}

// Add adds delta to the named counter and returns the new value.
func (c *Counters) Add(name string, delta int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]int64)
	}
	c.values[name] += delta
	return c.values[name]
}

// Get returns the current value of the named counter.
func (c *Counters) Get(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[name]
}

// Snapshot returns a copy of all counters.
func (c *Counters) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Names returns the counter names in sorted order.
func (c *Counters) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.values))
	for k := range c.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
