// Package cluster fuses a stream of noisy point observations into stable
// target locations.
//
// Each cluster keeps a running-mean centroid and an observation count.
// When the count first reaches the confirmation threshold the cluster is
// marked visited and a copy is handed to the confirmation handler, which in
// the mission wiring enqueues a job. A cluster is confirmed at most once
// unless an operator resets it.
//
// Key types: Engine, Point, Observation, Outcome.
package cluster
