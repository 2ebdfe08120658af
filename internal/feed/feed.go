package feed

import (
	"bytes"
	"errors"
	"sync/atomic"

	"github.com/banshee-data/cryptomaster/internal/cluster"
	"github.com/banshee-data/cryptomaster/internal/monitoring"
)

var logf = monitoring.Component("feed")

// Sink receives decoded observations. *cluster.Engine satisfies it.
type Sink interface {
	Assign(obs cluster.Observation) cluster.Outcome
}

// Stats are running totals for a Feed.
type Stats struct {
	Lines     int64 `json:"lines"`
	Malformed int64 `json:"malformed"`
	Accepted  int64 `json:"accepted"`
	Discarded int64 `json:"discarded"`
}

// Feed decodes observation lines and hands them to a Sink. One Feed may be
// shared by several sources; it is safe for concurrent use.
type Feed struct {
	sink     Sink
	counters *monitoring.Counters

	lines     atomic.Int64
	malformed atomic.Int64
	accepted  atomic.Int64
	discarded atomic.Int64
}

// New returns a Feed delivering into sink.
func New(sink Sink) *Feed {
	return &Feed{sink: sink, counters: monitoring.Default}
}

// SetCounters replaces the diagnostic counter set. Call before starting any
// source.
func (f *Feed) SetCounters(c *monitoring.Counters) {
	if c == nil {
		c = &monitoring.Counters{}
	}
	f.counters = c
}

// HandleLine decodes one line and assigns it. Blank lines are ignored.
// Malformed lines are counted, logged and returned as ErrMalformedLine; the
// caller may carry on with the next line.
func (f *Feed) HandleLine(source string, line []byte) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	f.lines.Add(1)

	obs, err := ParseLine(line)
	if err != nil {
		f.malformed.Add(1)
		n := f.counters.Inc(monitoring.CounterMalformedLines)
		logf("dropping line from %s (%d dropped so far): %v", source, n, err)
		return err
	}

	out := f.sink.Assign(obs)
	if out.Kind == cluster.OutcomeDiscarded {
		f.discarded.Add(1)
	} else {
		f.accepted.Add(1)
	}
	return nil
}

// HandlePacket splits a datagram into lines and handles each. It returns the
// number of malformed lines.
func (f *Feed) HandlePacket(source string, packet []byte) int {
	bad := 0
	for _, line := range bytes.Split(packet, []byte("\n")) {
		if err := f.HandleLine(source, line); errors.Is(err, ErrMalformedLine) {
			bad++
		}
	}
	return bad
}

// Stats returns a snapshot of the running totals.
func (f *Feed) Stats() Stats {
	return Stats{
		Lines:     f.lines.Load(),
		Malformed: f.malformed.Load(),
		Accepted:  f.accepted.Load(),
		Discarded: f.discarded.Load(),
	}
}
