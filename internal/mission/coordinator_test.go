package mission

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/cryptomaster/internal/approach"
	"github.com/banshee-data/cryptomaster/internal/cluster"
	"github.com/banshee-data/cryptomaster/internal/geom"
	"github.com/banshee-data/cryptomaster/internal/jobs"
	"github.com/banshee-data/cryptomaster/internal/monitoring"
	"github.com/banshee-data/cryptomaster/internal/nav"
	"github.com/banshee-data/cryptomaster/internal/timeutil"
	"github.com/golang/geo/s1"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeManipulator struct {
	mu       sync.Mutex
	grabs    int
	releases []int
	err      error
}

func (f *fakeManipulator) Grab() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grabs++
	return f.err
}

func (f *fakeManipulator) Release(count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, count)
	return f.err
}

type announcement struct {
	Text string
	Hold time.Duration
}

type fakeAnnouncer struct {
	mu   sync.Mutex
	said []announcement
}

func (f *fakeAnnouncer) Say(text string, hold time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.said = append(f.said, announcement{text, hold})
	return nil
}

func (f *fakeAnnouncer) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, a := range f.said {
		out = append(out, a.Text)
	}
	return out
}

type fakeSweeper struct {
	mu       sync.Mutex
	rotates  int
	angles   []s1.Angle
	onRotate func(n int)
	err      error
}

func (f *fakeSweeper) Rotate(ctx context.Context, angle s1.Angle, speed float64) error {
	f.mu.Lock()
	n := f.rotates
	f.rotates++
	f.angles = append(f.angles, angle)
	hook := f.onRotate
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return f.err
}

type fakeEventRecorder struct {
	mu   sync.Mutex
	recs []TransitionRecord
}

func (f *fakeEventRecorder) RecordTransition(rec TransitionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	engine   *cluster.Engine
	queue    *jobs.Queue
	sim      *nav.SimNavigator
	manip    *fakeManipulator
	ann      *fakeAnnouncer
	sweep    *fakeSweeper
	rec      *fakeEventRecorder
	clock    *timeutil.MockClock
	counters *monitoring.Counters
	coord    *Coordinator
}

func testSettings(targets int) Settings {
	return Settings{
		TargetCount:  targets,
		TickInterval: 500 * time.Millisecond,
		GoalTimeout:  time.Second,
		Start:        geom.Pt(0, 0),
		SweepAngle:   360 * s1.Degree,
		SweepSpeed:   0.5,
		DetectedHold: 3 * time.Second,
		DroppedHold:  time.Second,
	}
}

func newHarness(t *testing.T, settings Settings, script ...nav.Status) *harness {
	t.Helper()

	h := &harness{
		engine:   cluster.NewEngine(cluster.EngineConfig{ConfirmationThreshold: 3, ClusterRadius: 0.6}),
		queue:    jobs.NewQueue(),
		sim:      nav.NewSimNavigator(settings.Start, script...),
		manip:    &fakeManipulator{},
		ann:      &fakeAnnouncer{},
		sweep:    &fakeSweeper{},
		rec:      &fakeEventRecorder{},
		clock:    timeutil.NewMockClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)),
		counters: &monitoring.Counters{},
	}
	h.engine.SetCounters(h.counters)
	proto := approach.NewProtocol(approach.Config{Standoff: 0.7, Rotation: 90 * s1.Degree})
	proto.SetCounters(h.counters)

	coord, err := NewCoordinator(settings, Deps{
		Engine:      h.engine,
		Queue:       h.queue,
		Navigator:   h.sim,
		Approach:    proto,
		Manipulator: h.manip,
		Announcer:   h.ann,
		Sweeper:     h.sweep,
		Clock:       h.clock,
		Recorder:    h.rec,
		Counters:    h.counters,
	})
	require.NoError(t, err)
	h.coord = coord
	return h
}

// observeDuringSweep feeds n observations at p during the sweep numbered sweep.
func (h *harness) observeDuringSweep(sweep int, p geom.Point, label string, n int) {
	prev := h.sweep.onRotate
	h.sweep.onRotate = func(i int) {
		if prev != nil {
			prev(i)
		}
		if i != sweep {
			return
		}
		for k := 0; k < n; k++ {
			h.engine.Assign(cluster.Observation{Position: p, Label: label})
		}
	}
}

func goalPositions(poses []geom.Pose) []geom.Point {
	out := make([]geom.Point, len(poses))
	for i, p := range poses {
		out[i] = p.Position
	}
	return out
}

func approxPoints() cmp.Option {
	return cmp.Comparer(func(a, b float64) bool { return math.Abs(a-b) < 1e-9 })
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestNewCoordinatorValidates(t *testing.T) {
	t.Parallel()

	_, err := NewCoordinator(testSettings(1), Deps{})
	assert.Error(t, err)

	h := newHarness(t, testSettings(1))
	deps := h.coord.deps
	_, err = NewCoordinator(testSettings(0), deps)
	assert.Error(t, err)

	deps.Sweeper = nil
	_, err = NewCoordinator(testSettings(1), deps)
	assert.Error(t, err)
}

func TestTickWaitsForMap(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings(1))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, h.coord.Tick(ctx))
	}
	assert.Equal(t, StateWaitingForMap, h.coord.State())
	assert.Empty(t, h.sim.Goals())
	assert.Zero(t, h.sweep.rotates)
	assert.False(t, h.coord.Status().MapLoaded)
}

func TestMapAppliedOnNextTick(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings(1))
	require.NoError(t, h.coord.MapReady([]geom.Point{geom.Pt(5, 0), geom.Pt(1, 0), geom.Pt(2, 2)}))
	assert.Equal(t, StateWaitingForMap, h.coord.State())

	require.NoError(t, h.coord.Tick(context.Background()))
	st := h.coord.Status()
	assert.True(t, st.MapLoaded)
	assert.Equal(t, 3, st.Viewpoints)
	assert.Equal(t, StateReadyForGoal, st.State)

	// First goal is the nearest to the start; it is consumed.
	assert.Equal(t, []geom.Point{geom.Pt(1, 0)}, goalPositions(h.sim.Goals()))
	assert.Equal(t, []geom.Point{geom.Pt(5, 0), geom.Pt(2, 2)}, st.GoalsLeft)
	assert.Equal(t, geom.Pt(1, 0), st.Robot.Position)
	assert.InDelta(t, 0, geom.Yaw(st.Robot.Orientation).Radians(), 1e-9)

	assert.ErrorIs(t, h.coord.MapReady(nil), ErrMapAlreadyLoaded)
}

func TestGoalsVisitedNearestFirst(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings(1))
	require.NoError(t, h.coord.MapReady([]geom.Point{geom.Pt(5, 0), geom.Pt(1, 0), geom.Pt(2, 2), geom.Pt(-1, 0)}))

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.NoError(t, h.coord.Tick(ctx))
	}

	// Start (0,0): (1,0) and (-1,0) tie, the first in the pool wins. After
	// that each goal is the nearest to the previous one.
	want := []geom.Point{geom.Pt(1, 0), geom.Pt(-1, 0), geom.Pt(2, 2), geom.Pt(5, 0)}
	if diff := cmp.Diff(want, goalPositions(h.sim.Goals())); diff != "" {
		t.Errorf("goal order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 4, h.sweep.rotates)
	assert.Equal(t, StateReadyForGoal, h.coord.State())
	assert.Empty(t, h.coord.Status().GoalsLeft)
	assert.False(t, h.engine.Observing())
}

func TestGoalFailureConsumesGoal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings(1), nav.StatusAborted)
	require.NoError(t, h.coord.MapReady([]geom.Point{geom.Pt(1, 0), geom.Pt(3, 0)}))

	require.NoError(t, h.coord.Tick(context.Background()))
	assert.Equal(t, StateReadyForGoal, h.coord.State())
	assert.Zero(t, h.sweep.rotates)
	assert.Equal(t, []string{SayGoalFailed}, h.ann.texts())
	assert.Equal(t, int64(1), h.counters.Get(monitoring.CounterNavigationFailures))
	assert.Equal(t, []geom.Point{geom.Pt(3, 0)}, h.coord.Status().GoalsLeft)

	// The next tick moves on to the remaining goal.
	require.NoError(t, h.coord.Tick(context.Background()))
	assert.Equal(t, []geom.Point{geom.Pt(1, 0), geom.Pt(3, 0)}, goalPositions(h.sim.Goals()))
	assert.Equal(t, 1, h.sweep.rotates)
}

func TestGoalRetriesBounded(t *testing.T) {
	t.Parallel()

	s := testSettings(1)
	s.GoalRetries = 1
	h := newHarness(t, s, nav.StatusAborted)
	require.NoError(t, h.coord.MapReady([]geom.Point{geom.Pt(1, 0)}))

	require.NoError(t, h.coord.Tick(context.Background()))
	assert.Len(t, h.sim.Goals(), 2)
	assert.Equal(t, 1, h.sweep.rotates)
	assert.Zero(t, h.counters.Get(monitoring.CounterNavigationFailures))
}

func TestObservationsOnlyCountDuringSweep(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings(1))
	h.engine.Assign(cluster.Observation{Position: geom.Pt(3, 0), Label: cluster.LabelRed})
	assert.Zero(t, h.engine.Len())

	var observingDuringSweep bool
	h.sweep.onRotate = func(int) { observingDuringSweep = h.engine.Observing() }
	require.NoError(t, h.coord.MapReady([]geom.Point{geom.Pt(1, 0)}))
	require.NoError(t, h.coord.Tick(context.Background()))

	assert.True(t, observingDuringSweep)
	assert.False(t, h.engine.Observing())
}

func TestConfirmedTargetIsApproachedAndMissionEnds(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings(1))
	h.observeDuringSweep(0, geom.Pt(3, 0), cluster.LabelRed, 3)
	require.NoError(t, h.coord.MapReady([]geom.Point{geom.Pt(1, 0), geom.Pt(4, 0)}))

	require.NoError(t, h.coord.Tick(context.Background()))

	// goal, viewpoint, close approach
	got := goalPositions(h.sim.Goals())
	want := []geom.Point{geom.Pt(1, 0), geom.Pt(1, 0), geom.Pt(1.7, 0)}
	if diff := cmp.Diff(want, got, approxPoints()); diff != "" {
		t.Errorf("navigation goals mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 1, h.manip.grabs)
	assert.Equal(t, []int{0}, h.manip.releases)
	assert.Equal(t, []announcement{
		{SayCylinderDetected, 3 * time.Second},
		{SayCoinDropped, time.Second},
		{SayFinished, 0},
	}, h.ann.said)

	st := h.coord.Status()
	assert.Equal(t, StateDone, st.State)
	assert.Equal(t, 1, st.Handled)
	assert.Equal(t, 1, st.CoinsDropped)
	assert.Zero(t, st.PendingJobs)
	assert.Nil(t, st.CurrentJob)
	assert.True(t, h.coord.Done())

	// Halted: further ticks do nothing.
	goals := len(h.sim.Goals())
	for i := 0; i < 3; i++ {
		require.NoError(t, h.coord.Tick(context.Background()))
	}
	assert.Len(t, h.sim.Goals(), goals)
	assert.Equal(t, 1, h.sweep.rotates)

	var path []State
	for _, r := range h.coord.Events() {
		path = append(path, r.To)
	}
	assert.Equal(t, []State{
		StateReadyForGoal, StateObserving, StateReadyForGoal,
		StateCircleApproached, StateReadyForGoal, StateDone,
	}, path)
	assert.Len(t, h.rec.recs, len(path))
}

func TestCoinCounterAcrossTargets(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings(3))
	h.observeDuringSweep(0, geom.Pt(3, 0), cluster.LabelRed, 3)
	h.observeDuringSweep(1, geom.Pt(6, 1), cluster.LabelBlue, 3)
	require.NoError(t, h.coord.MapReady([]geom.Point{geom.Pt(1, 0), geom.Pt(5, 0), geom.Pt(9, 9)}))

	ctx := context.Background()
	for i := 0; i < 5 && !h.coord.Done(); i++ {
		require.NoError(t, h.coord.Tick(ctx))
	}

	assert.Equal(t, []int{0, 1}, h.manip.releases)
	st := h.coord.Status()
	assert.Equal(t, 2, st.Handled)
	assert.Equal(t, 2, st.CoinsDropped)
	assert.False(t, h.coord.Done())
}

func TestJobWithoutCandidateIsAborted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings(5))
	// After approaching the first target the robot stands at (2.7, 0). The
	// second target is closer to it than the only viewpoint is.
	h.observeDuringSweep(0, geom.Pt(4, 0), cluster.LabelRed, 3)
	h.observeDuringSweep(0, geom.Pt(2.9, 0), cluster.LabelGreen, 3)
	require.NoError(t, h.coord.MapReady([]geom.Point{geom.Pt(2, 0)}))

	require.NoError(t, h.coord.Tick(context.Background()))
	assert.Equal(t, int64(1), h.counters.Get(monitoring.CounterAbortedJobs))
	assert.Equal(t, []string{SayCylinderDetected, SayCoinDropped, SayTargetAbandoned}, h.ann.texts())
	assert.Equal(t, 1, h.manip.grabs)
	assert.Equal(t, 1, h.coord.Status().Handled)
	assert.Equal(t, StateReadyForGoal, h.coord.State())
	assert.True(t, h.queue.IsEmpty())
}

// stallingClusterRecorder blocks while persisting a confirmed cluster until
// release is closed.
type stallingClusterRecorder struct {
	recording chan struct{}
	release   chan struct{}
}

func (r *stallingClusterRecorder) RecordCluster(p cluster.Point) error {
	if p.Visited {
		close(r.recording)
		<-r.release
	}
	return nil
}

func TestConfirmationAtSweepEndIsHandledBeforeNextGoal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings(2))
	rec := &stallingClusterRecorder{recording: make(chan struct{}), release: make(chan struct{})}
	h.engine.SetRecorder(rec)

	feedDone := make(chan struct{})
	h.sweep.onRotate = func(i int) {
		if i != 0 {
			return
		}
		// The feed goroutine confirms the target and is still writing it
		// out when the sweep finishes.
		go func() {
			defer close(feedDone)
			for k := 0; k < 3; k++ {
				h.engine.Assign(cluster.Observation{Position: geom.Pt(2, 0), Label: cluster.LabelRed})
			}
		}()
		select {
		case <-rec.recording:
		case <-time.After(5 * time.Second):
			t.Error("target was never confirmed")
		}
	}
	defer func() {
		close(rec.release)
		<-feedDone
	}()

	require.NoError(t, h.coord.MapReady([]geom.Point{geom.Pt(1, 0), geom.Pt(-2, 0)}))
	ctx := context.Background()
	require.NoError(t, h.coord.Tick(ctx))

	// goal, viewpoint, close approach: the target is visited in the same tick.
	want := []geom.Point{geom.Pt(1, 0), geom.Pt(1, 0), geom.Pt(1.7, 0)}
	if diff := cmp.Diff(want, goalPositions(h.sim.Goals()), approxPoints()); diff != "" {
		t.Errorf("navigation goals mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, h.coord.Status().Handled)
	assert.True(t, h.queue.IsEmpty())

	require.NoError(t, h.coord.Tick(ctx))
	want = append(want, geom.Pt(-2, 0))
	if diff := cmp.Diff(want, goalPositions(h.sim.Goals()), approxPoints()); diff != "" {
		t.Errorf("navigation goals mismatch (-want +got):\n%s", diff)
	}

	var events []Event
	for _, r := range h.coord.Events() {
		events = append(events, r.Event)
	}
	assert.Equal(t, []Event{
		EventMapReady, EventGoalReached, EventSweepDone, EventTargetReached, EventManipulated,
		EventGoalReached, EventSweepDone,
	}, events)
}

func TestGainsReorderPendingJobs(t *testing.T) {
	t.Parallel()

	s := testSettings(5)
	s.Gains = map[string]float64{cluster.LabelBlue: 10, cluster.LabelRed: 1}
	h := newHarness(t, s)
	h.sweep.onRotate = func(int) {
		for k := 0; k < 3; k++ {
			h.engine.Assign(cluster.Observation{Position: geom.Pt(2, 0), Label: cluster.LabelRed})
		}
		for k := 0; k < 3; k++ {
			h.engine.Assign(cluster.Observation{Position: geom.Pt(2, 3), Label: cluster.LabelBlue})
		}
	}
	require.NoError(t, h.coord.MapReady([]geom.Point{geom.Pt(1, 1)}))
	require.NoError(t, h.coord.Tick(context.Background()))

	var reached []string
	for _, r := range h.coord.Events() {
		if r.Event == EventTargetReached {
			reached = append(reached, r.Detail)
		}
	}
	require.Len(t, reached, 2)
	assert.Contains(t, reached[0], cluster.LabelBlue)
	assert.Contains(t, reached[1], cluster.LabelRed)
}

func TestCollaboratorErrorsDoNotHalt(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings(1))
	h.manip.err = errors.New("arm jammed")
	h.sweep.err = errors.New("wheel slip")
	h.observeDuringSweep(0, geom.Pt(3, 0), cluster.LabelRed, 3)
	require.NoError(t, h.coord.MapReady([]geom.Point{geom.Pt(1, 0)}))

	require.NoError(t, h.coord.Tick(context.Background()))
	assert.True(t, h.coord.Done())
}

func TestTickUnknownStateHalts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings(1))
	h.coord.state = State(99)
	err := h.coord.Tick(context.Background())
	assert.ErrorIs(t, err, ErrUnknownState)
}

func TestTickCancelledContext(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings(1))
	require.NoError(t, h.coord.MapReady([]geom.Point{geom.Pt(1, 0)}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.coord.Tick(ctx), context.Canceled)
}

func TestJobConfirmedAtUsesClock(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings(1))
	h.engine.SetObserving(true)
	for i := 0; i < 3; i++ {
		h.engine.Assign(cluster.Observation{Position: geom.Pt(1, 1), Label: cluster.LabelYellow})
	}
	snap := h.queue.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, h.clock.Now(), snap[0].ConfirmedAt)
	assert.Equal(t, cluster.LabelYellow, snap[0].Label)
	assert.Equal(t, 1, h.coord.Status().PendingJobs)
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func waitForTicker(t *testing.T, clock *timeutil.MockClock) *timeutil.MockTicker {
	t.Helper()
	require.Eventually(t, func() bool { return len(clock.Tickers()) == 1 }, time.Second, time.Millisecond)
	return clock.Tickers()[0]
}

func TestRunStopsWhenDone(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings(1))
	h.observeDuringSweep(0, geom.Pt(3, 0), cluster.LabelRed, 3)

	errc := make(chan error, 1)
	go func() { errc <- h.coord.Run(context.Background()) }()

	ticker := waitForTicker(t, h.clock)
	ticker.Trigger(h.clock.Now())
	assert.Equal(t, StateWaitingForMap, h.coord.State())

	require.NoError(t, h.coord.MapReady([]geom.Point{geom.Pt(1, 0)}))
	ticker.Trigger(h.clock.Now())

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after termination")
	}
	assert.True(t, ticker.Stopped())
	assert.True(t, h.coord.Done())
}

func TestRunReturnsNilOnCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings(1))
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.coord.Run(ctx) }()

	waitForTicker(t, h.clock)
	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunReturnsStateErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testSettings(1))
	h.coord.state = State(99)
	errc := make(chan error, 1)
	go func() { errc <- h.coord.Run(context.Background()) }()

	waitForTicker(t, h.clock).Trigger(h.clock.Now())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrUnknownState)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return the state error")
	}
}
