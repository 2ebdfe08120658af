// Package approach plans and executes the two-leg move that brings the robot
// next to a confirmed target: first to a viewpoint facing the target, then
// a short stand-off step along the bearing with the manipulator side turned
// towards it.
package approach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/cryptomaster/internal/config"
	"github.com/banshee-data/cryptomaster/internal/geom"
	"github.com/banshee-data/cryptomaster/internal/monitoring"
	"github.com/banshee-data/cryptomaster/internal/nav"
	"github.com/golang/geo/s1"
)

// ErrNoCandidateViewpoint is returned when no viewpoint is at least as close
// to the robot as the target is.
var ErrNoCandidateViewpoint = errors.New("no candidate viewpoint for target")

var logf = monitoring.Component("approach")

// Config holds the approach parameters.
type Config struct {
	Standoff    float64       // metres from the viewpoint towards the target
	Rotation    s1.Angle      // extra yaw applied for the final leg
	GoalTimeout time.Duration // per-leg navigation bound
	GoalRetries int
}

// ConfigFromMission builds a Config from the mission configuration.
func ConfigFromMission(cfg *config.MissionConfig) Config {
	return Config{
		Standoff:    cfg.GetStandoffDistance(),
		Rotation:    s1.Angle(cfg.GetApproachRotationDeg()) * s1.Degree,
		GoalTimeout: cfg.GetGoalTimeout(),
		GoalRetries: cfg.GetGoalRetries(),
	}
}

// Plan is a computed approach for one target.
type Plan struct {
	Target        geom.Point `json:"target"`
	Viewpoint     geom.Point `json:"viewpoint"`
	ViewpointPose geom.Pose  `json:"viewpoint_pose"`
	ApproachPose  geom.Pose  `json:"approach_pose"`
}

// Result reports how an executed plan went. Reached is true only when the
// final leg succeeded.
type Result struct {
	ViewpointStatus nav.Status `json:"viewpoint_status"`
	ApproachStatus  nav.Status `json:"approach_status"`
	Reached         bool       `json:"reached"`
	// Pose is where the robot is assumed to be afterwards.
	Pose geom.Pose `json:"pose"`
}

// Protocol plans and executes approaches with a fixed configuration.
type Protocol struct {
	cfg      Config
	counters *monitoring.Counters
}

// NewProtocol returns a Protocol using cfg.
func NewProtocol(cfg Config) *Protocol {
	return &Protocol{cfg: cfg, counters: monitoring.Default}
}

// SetCounters replaces the counter set used for navigation failures.
func (p *Protocol) SetCounters(c *monitoring.Counters) {
	if c == nil {
		c = &monitoring.Counters{}
	}
	p.counters = c
}

// Config returns the protocol configuration.
func (p *Protocol) Config() Config { return p.cfg }

// Plan picks the viewpoint to approach target from. Candidates are the
// viewpoints no farther from the robot than the target is; the one closest
// to the target wins, ties going to the first.
func (p *Protocol) Plan(target, robot geom.Point, viewpoints []geom.Point) (Plan, error) {
	reach := geom.Distance(robot, target)
	var candidates []geom.Point
	for _, vp := range viewpoints {
		if geom.Distance(vp, robot) <= reach {
			candidates = append(candidates, vp)
		}
	}
	idx, ok := geom.Nearest(target, candidates)
	if !ok {
		return Plan{}, fmt.Errorf("target at %s from robot at %s: %w", target, robot, ErrNoCandidateViewpoint)
	}
	vp := candidates[idx]

	facing := geom.Facing(vp, target)
	closer := geom.Toward(vp, target, p.cfg.Standoff)
	return Plan{
		Target:        target,
		Viewpoint:     vp,
		ViewpointPose: facing,
		ApproachPose: geom.Pose{
			Position:    closer,
			Orientation: geom.RotateYaw(facing.Orientation, p.cfg.Rotation),
		},
	}, nil
}

// Execute drives both legs of plan. Navigation is best effort: a failed leg
// is logged and counted and the sequence continues. Only a cancelled ctx
// aborts it.
func (p *Protocol) Execute(ctx context.Context, n nav.Navigator, plan Plan) (Result, error) {
	var res Result

	logf("moving to viewpoint %s facing target %s", plan.Viewpoint, plan.Target)
	res.ViewpointStatus = p.leg(ctx, n, plan.ViewpointPose)
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("approach to %s: %w", plan.Target, err)
	}

	logf("approaching target %s, stopping at %s", plan.Target, plan.ApproachPose.Position)
	res.ApproachStatus = p.leg(ctx, n, plan.ApproachPose)
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("approach to %s: %w", plan.Target, err)
	}

	res.Reached = res.ApproachStatus.Succeeded()
	res.Pose = plan.ApproachPose
	return res, nil
}

func (p *Protocol) leg(ctx context.Context, n nav.Navigator, pose geom.Pose) nav.Status {
	st, err := nav.Attempt(ctx, n, pose, p.cfg.GoalTimeout, p.cfg.GoalRetries)
	if err != nil || !st.Succeeded() {
		p.counters.Inc(monitoring.CounterNavigationFailures)
		logf("leg to %s failed: status=%s err=%v", pose.Position, st, err)
	}
	return st
}
