// Package mission runs the task loop: it visits navigation goals, sweeps
// for targets at each one, and approaches every confirmed target to drop a
// coin next to it.
package mission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/cryptomaster/internal/approach"
	"github.com/banshee-data/cryptomaster/internal/cluster"
	"github.com/banshee-data/cryptomaster/internal/config"
	"github.com/banshee-data/cryptomaster/internal/geom"
	"github.com/banshee-data/cryptomaster/internal/jobs"
	"github.com/banshee-data/cryptomaster/internal/monitoring"
	"github.com/banshee-data/cryptomaster/internal/nav"
	"github.com/banshee-data/cryptomaster/internal/timeutil"
	"github.com/golang/geo/s1"
)

// ErrMapAlreadyLoaded is returned by MapReady once a map has been applied.
var ErrMapAlreadyLoaded = errors.New("map already loaded")

var logf = monitoring.Component("mission")

// Announcements.
const (
	SayCylinderDetected = "Cylinder detected"
	SayCoinDropped      = "Coin thrown in!"
	SayGoalFailed       = "Goal failed"
	SayTargetAbandoned  = "Target abandoned"
	SayFinished         = "Die puny humans."
)

const maxEvents = 256

// Settings are the loop parameters, fixed for the lifetime of a Coordinator.
type Settings struct {
	TargetCount  int
	TickInterval time.Duration
	GoalTimeout  time.Duration
	GoalRetries  int
	Start        geom.Point
	SweepAngle   s1.Angle
	SweepSpeed   float64 // rad/s
	DetectedHold time.Duration
	DroppedHold  time.Duration
	// Gains, when non-empty, reorders pending jobs after every confirmation.
	Gains map[string]float64
}

// SettingsFromMission builds Settings from the mission configuration.
func SettingsFromMission(cfg *config.MissionConfig) Settings {
	return Settings{
		TargetCount:  cfg.GetTargetCount(),
		TickInterval: cfg.GetTickInterval(),
		GoalTimeout:  cfg.GetGoalTimeout(),
		GoalRetries:  cfg.GetGoalRetries(),
		Start:        geom.Pt(cfg.GetStartX(), cfg.GetStartY()),
		SweepAngle:   s1.Angle(cfg.GetSweepAngleDeg()) * s1.Degree,
		SweepSpeed:   cfg.GetSweepSpeed(),
		DetectedHold: cfg.GetDetectedHold(),
		DroppedHold:  cfg.GetDroppedHold(),
		Gains:        cfg.GetGains(),
	}
}

// Deps are the collaborators a Coordinator drives. Engine, Queue,
// Navigator, Approach, Manipulator, Announcer and Sweeper are required.
type Deps struct {
	Engine      *cluster.Engine
	Queue       *jobs.Queue
	Navigator   nav.Navigator
	Approach    *approach.Protocol
	Manipulator Manipulator
	Announcer   Announcer
	Sweeper     Sweeper

	Clock    timeutil.Clock       // defaults to timeutil.RealClock
	Recorder EventRecorder        // optional
	Counters *monitoring.Counters // defaults to monitoring.Default
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	State        State        `json:"state"`
	MapLoaded    bool         `json:"map_loaded"`
	Viewpoints   int          `json:"viewpoints"`
	GoalsLeft    []geom.Point `json:"goals_left"`
	Handled      int          `json:"handled"`
	TargetCount  int          `json:"target_count"`
	CoinsDropped int          `json:"coins_dropped"`
	Robot        geom.Pose    `json:"robot"`
	PendingJobs  int          `json:"pending_jobs"`
	CurrentJob   *jobs.Job    `json:"current_job,omitempty"`
	Observing    bool         `json:"observing"`
}

// Coordinator is the task-loop state machine. Tick and Run must be called
// from a single goroutine; MapReady, Status and Events are safe from any.
type Coordinator struct {
	settings Settings
	deps     Deps

	mu           sync.Mutex
	state        State
	pendingMap   []geom.Point
	mapPending   bool
	mapLoaded    bool
	viewpoints   []geom.Point
	goals        []geom.Point
	handled      int
	coinsDropped int
	robot        geom.Pose
	current      *jobs.Job
	events       []TransitionRecord
	idleLogged   bool
	waitLogged   bool
}

// NewCoordinator validates deps and wires the engine's confirmation handler
// to the job queue.
func NewCoordinator(settings Settings, deps Deps) (*Coordinator, error) {
	switch {
	case deps.Engine == nil:
		return nil, errors.New("mission: engine is required")
	case deps.Queue == nil:
		return nil, errors.New("mission: job queue is required")
	case deps.Navigator == nil:
		return nil, errors.New("mission: navigator is required")
	case deps.Approach == nil:
		return nil, errors.New("mission: approach protocol is required")
	case deps.Manipulator == nil:
		return nil, errors.New("mission: manipulator is required")
	case deps.Announcer == nil:
		return nil, errors.New("mission: announcer is required")
	case deps.Sweeper == nil:
		return nil, errors.New("mission: sweeper is required")
	}
	if settings.TargetCount < 1 {
		return nil, fmt.Errorf("mission: target count must be at least 1, got %d", settings.TargetCount)
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if deps.Counters == nil {
		deps.Counters = monitoring.Default
	}

	c := &Coordinator{
		settings: settings,
		deps:     deps,
		state:    StateWaitingForMap,
		robot:    geom.PoseAt(settings.Start),
	}
	deps.Engine.SetConfirmHandler(c.onConfirm)
	return c, nil
}

// onConfirm runs on the feed goroutine that confirmed p, under the engine
// lock.
func (c *Coordinator) onConfirm(p cluster.Point) {
	job := jobs.FromCluster(p, c.deps.Clock.Now())
	c.deps.Queue.Enqueue(job)
	if len(c.settings.Gains) > 0 {
		c.deps.Queue.ReorderByGain(c.settings.Gains)
	}
	logf("queued %s, %d pending", job, c.deps.Queue.Size())
}

// MapReady hands over the viewpoints. They are applied at the start of the
// next tick; a second map before then replaces the first.
func (c *Coordinator) MapReady(viewpoints []geom.Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mapLoaded {
		return ErrMapAlreadyLoaded
	}
	c.pendingMap = append([]geom.Point(nil), viewpoints...)
	c.mapPending = true
	return nil
}

// Done reports whether the loop has terminated.
func (c *Coordinator) Done() bool {
	return c.State() == StateDone
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot for presentation.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		State:        c.state,
		MapLoaded:    c.mapLoaded,
		Viewpoints:   len(c.viewpoints),
		GoalsLeft:    append([]geom.Point{}, c.goals...),
		Handled:      c.handled,
		TargetCount:  c.settings.TargetCount,
		CoinsDropped: c.coinsDropped,
		Robot:        c.robot,
		PendingJobs:  c.deps.Queue.Size(),
		Observing:    c.deps.Engine.Observing(),
	}
	if c.current != nil {
		j := *c.current
		s.CurrentJob = &j
	}
	return s
}

// Events returns the most recent transitions, oldest first.
func (c *Coordinator) Events() []TransitionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TransitionRecord(nil), c.events...)
}

// Viewpoints returns the loaded viewpoints.
func (c *Coordinator) Viewpoints() []geom.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]geom.Point(nil), c.viewpoints...)
}

// Run ticks the coordinator every TickInterval until it terminates or ctx
// is cancelled. Cancellation is a clean shutdown and returns nil; state
// errors from Tick are returned.
func (c *Coordinator) Run(ctx context.Context) error {
	interval := c.settings.TickInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := c.deps.Clock.NewTicker(interval)
	defer ticker.Stop()

	logf("mission loop started, tick every %s, %d targets to handle", interval, c.settings.TargetCount)
	for {
		select {
		case <-ctx.Done():
			logf("mission loop stopped: %v", ctx.Err())
			return nil
		case <-ticker.C():
			if err := c.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logf("mission loop halted: %v", err)
				return err
			}
			if c.Done() {
				return nil
			}
		}
	}
}

// Tick runs one step: apply a delivered map, run the handler for the
// current state, drain the job queue, then check for termination.
func (c *Coordinator) Tick(ctx context.Context) error {
	if c.State() == StateDone {
		return nil
	}

	if err := c.applyMap(); err != nil {
		return err
	}

	switch st := c.State(); st {
	case StateWaitingForMap:
		c.waitForMap()
	case StateReadyForGoal:
		if err := c.seekGoal(ctx); err != nil {
			return err
		}
	case StateObserving:
		if err := c.observe(ctx); err != nil {
			return err
		}
	case StateCircleApproached:
		if err := c.manipulate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("tick: %s: %w", st, ErrUnknownState)
	}

	if err := c.drainJobs(ctx); err != nil {
		return err
	}

	return c.checkDone()
}

func (c *Coordinator) applyMap() error {
	c.mu.Lock()
	if !c.mapPending {
		c.mu.Unlock()
		return nil
	}
	c.viewpoints = c.pendingMap
	c.goals = append([]geom.Point(nil), c.pendingMap...)
	c.pendingMap = nil
	c.mapPending = false
	c.mapLoaded = true
	waiting := c.state == StateWaitingForMap
	n := len(c.viewpoints)
	c.mu.Unlock()

	logf("map received with %d viewpoints", n)
	if !waiting {
		return nil
	}
	return c.fire(EventMapReady, fmt.Sprintf("%d viewpoints", n))
}

func (c *Coordinator) waitForMap() {
	c.mu.Lock()
	first := !c.waitLogged
	c.waitLogged = true
	c.mu.Unlock()
	if first {
		logf("waiting for map")
	}
}

// seekGoal sends the robot to the nearest remaining viewpoint. The goal is
// consumed whatever the outcome.
func (c *Coordinator) seekGoal(ctx context.Context) error {
	c.mu.Lock()
	robot := c.robot
	idx, ok := geom.Nearest(robot.Position, c.goals)
	if !ok {
		first := !c.idleLogged
		c.idleLogged = true
		c.mu.Unlock()
		if first && c.deps.Queue.IsEmpty() {
			logf("no goals left and no pending jobs, idling")
		}
		return nil
	}
	goal := c.goals[idx]
	c.goals = append(c.goals[:idx:idx], c.goals[idx+1:]...)
	left := len(c.goals)
	c.mu.Unlock()

	// Arrive at the goal facing along the direction of travel.
	pose := geom.Pose{Position: goal, Orientation: geom.YawQuaternion(geom.Bearing(robot.Position, goal))}
	logf("moving to goal %s (%d left)", goal, left)
	st, err := nav.Attempt(ctx, c.deps.Navigator, pose, c.settings.GoalTimeout, c.settings.GoalRetries)

	c.mu.Lock()
	c.robot = pose
	c.mu.Unlock()

	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if err != nil || !st.Succeeded() {
		c.deps.Counters.Inc(monitoring.CounterNavigationFailures)
		logf("goal %s failed: status=%s err=%v", goal, st, err)
		c.say(SayGoalFailed, 0)
		return c.fire(EventGoalFailed, fmt.Sprintf("goal %s: %s", goal, st))
	}

	if err := c.fire(EventGoalReached, fmt.Sprintf("goal %s", goal)); err != nil {
		return err
	}
	return c.observe(ctx)
}

// observe enables clustering for the duration of the sweep. Turning
// observation off waits for in-flight assignments, so a target confirmed
// during the sweep is already queued when the drain runs.
func (c *Coordinator) observe(ctx context.Context) error {
	c.deps.Engine.SetObserving(true)
	err := c.deps.Sweeper.Rotate(ctx, c.settings.SweepAngle, c.settings.SweepSpeed)
	c.deps.Engine.SetObserving(false)

	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if err != nil {
		logf("sweep failed: %v", err)
	}
	return c.fire(EventSweepDone, "")
}

func (c *Coordinator) drainJobs(ctx context.Context) error {
	for !c.deps.Queue.IsEmpty() {
		job, err := c.deps.Queue.Dequeue()
		if err != nil {
			return fmt.Errorf("drain jobs: %w", err)
		}
		if err := c.handleJob(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) handleJob(ctx context.Context, job jobs.Job) error {
	c.mu.Lock()
	robot := c.robot
	viewpoints := c.viewpoints
	c.mu.Unlock()

	logf("handling %s", job)
	plan, err := c.deps.Approach.Plan(job.Position, robot.Position, viewpoints)
	if errors.Is(err, approach.ErrNoCandidateViewpoint) {
		// The cluster stays visited and is not counted as handled; an
		// operator reset re-arms it.
		n := c.deps.Counters.Inc(monitoring.CounterAbortedJobs)
		logf("target abandoned: %s: %v (%d abandoned so far; POST /api/clusters/%d/reset to retry)",
			job, err, n, job.ClusterIndex)
		c.say(SayTargetAbandoned, 0)
		return nil
	}
	if err != nil {
		return fmt.Errorf("plan %s: %w", job, err)
	}

	res, err := c.deps.Approach.Execute(ctx, c.deps.Navigator, plan)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.robot = res.Pose
	c.current = &job
	c.mu.Unlock()

	if err := c.fire(EventTargetReached, fmt.Sprintf("%s reached=%v", job, res.Reached)); err != nil {
		return err
	}
	return c.manipulate()
}

// manipulate announces the target and drops a coin next to it.
func (c *Coordinator) manipulate() error {
	c.say(SayCylinderDetected, c.settings.DetectedHold)

	c.mu.Lock()
	c.handled++
	coins := c.coinsDropped
	c.mu.Unlock()

	if err := c.deps.Manipulator.Grab(); err != nil {
		logf("grab failed: %v", err)
	}
	if err := c.deps.Manipulator.Release(coins); err != nil {
		logf("release failed: %v", err)
	}
	c.say(SayCoinDropped, c.settings.DroppedHold)

	c.mu.Lock()
	c.coinsDropped++
	c.current = nil
	c.mu.Unlock()

	return c.fire(EventManipulated, fmt.Sprintf("coin %d", coins+1))
}

func (c *Coordinator) checkDone() error {
	c.mu.Lock()
	handled := c.handled
	c.mu.Unlock()
	if handled < c.settings.TargetCount {
		return nil
	}
	logf("handled %d of %d targets, stopping", handled, c.settings.TargetCount)
	c.say(SayFinished, 0)
	return c.fire(EventTargetsComplete, fmt.Sprintf("%d targets", handled))
}

func (c *Coordinator) say(text string, hold time.Duration) {
	if err := c.deps.Announcer.Say(text, hold); err != nil {
		logf("announce %q failed: %v", text, err)
	}
}

// fire applies e to the current state and records the change.
func (c *Coordinator) fire(e Event, detail string) error {
	c.mu.Lock()
	from := c.state
	to, err := Transition(from, e)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = to
	rec := TransitionRecord{At: c.deps.Clock.Now(), From: from, Event: e, To: to, Detail: detail}
	c.events = append(c.events, rec)
	if len(c.events) > maxEvents {
		c.events = c.events[len(c.events)-maxEvents:]
	}
	if to == StateReadyForGoal {
		c.idleLogged = false
	}
	c.mu.Unlock()

	logf("%s --%s--> %s %s", from, e, to, detail)
	if c.deps.Recorder != nil {
		if err := c.deps.Recorder.RecordTransition(rec); err != nil {
			logf("failed to record transition: %v", err)
		}
	}
	return nil
}
