package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical mission defaults file.
const DefaultConfigPath = "config/mission.defaults.json"

// MissionConfig is the root configuration loaded once at startup. Every
// field is optional; the Get* accessors supply the defaults, so partial
// files are safe.
type MissionConfig struct {
	// Clustering
	ConfirmationThreshold *int     `json:"confirmation_threshold,omitempty"`
	ClusterRadius         *float64 `json:"cluster_radius,omitempty"`
	TopK                  *int     `json:"top_k,omitempty"`

	// Approach
	StandoffDistance    *float64 `json:"standoff_distance,omitempty"`
	ApproachRotationDeg *float64 `json:"approach_rotation_deg,omitempty"`

	// Observation sweep
	SweepAngleDeg *float64 `json:"sweep_angle_deg,omitempty"`
	SweepSpeed    *float64 `json:"sweep_speed,omitempty"` // rad/s

	// Navigation
	GoalTimeout *string  `json:"goal_timeout,omitempty"` // duration string like "60s"
	GoalRetries *int     `json:"goal_retries,omitempty"`
	StartX      *float64 `json:"start_x,omitempty"`
	StartY      *float64 `json:"start_y,omitempty"`

	// Loop
	TargetCount  *int    `json:"target_count,omitempty"`
	TickInterval *string `json:"tick_interval,omitempty"` // duration string like "500ms"

	// Announcements
	DetectedHold *string `json:"detected_hold,omitempty"`
	DroppedHold  *string `json:"dropped_hold,omitempty"`

	// Gains reorders pending jobs by label after every confirmation when
	// non-empty.
	Gains map[string]float64 `json:"gains,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyMissionConfig returns a MissionConfig with all fields unset.
func EmptyMissionConfig() *MissionConfig {
	return &MissionConfig{}
}

// DefaultMissionConfig returns a MissionConfig with every field populated
// from the built-in defaults.
func DefaultMissionConfig() *MissionConfig {
	c := EmptyMissionConfig()
	return &MissionConfig{
		ConfirmationThreshold: ptrInt(c.GetConfirmationThreshold()),
		ClusterRadius:         ptrFloat64(c.GetClusterRadius()),
		TopK:                  ptrInt(c.GetTopK()),
		StandoffDistance:      ptrFloat64(c.GetStandoffDistance()),
		ApproachRotationDeg:   ptrFloat64(c.GetApproachRotationDeg()),
		SweepAngleDeg:         ptrFloat64(c.GetSweepAngleDeg()),
		SweepSpeed:            ptrFloat64(c.GetSweepSpeed()),
		GoalTimeout:           ptrString(c.GetGoalTimeout().String()),
		GoalRetries:           ptrInt(c.GetGoalRetries()),
		StartX:                ptrFloat64(c.GetStartX()),
		StartY:                ptrFloat64(c.GetStartY()),
		TargetCount:           ptrInt(c.GetTargetCount()),
		TickInterval:          ptrString(c.GetTickInterval().String()),
		DetectedHold:          ptrString(c.GetDetectedHold().String()),
		DroppedHold:           ptrString(c.GetDroppedHold().String()),
	}
}

// LoadMissionConfig loads a MissionConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadMissionConfig(path string) (*MissionConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyMissionConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file
// cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *MissionConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadMissionConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *MissionConfig) Validate() error {
	// A threshold of 1 would confirm on creation.
	if c.ConfirmationThreshold != nil && *c.ConfirmationThreshold < 2 {
		return fmt.Errorf("confirmation_threshold must be at least 2, got %d", *c.ConfirmationThreshold)
	}
	if c.ClusterRadius != nil && !(*c.ClusterRadius > 0) {
		return fmt.Errorf("cluster_radius must be positive, got %f", *c.ClusterRadius)
	}
	if c.TopK != nil && *c.TopK < 0 {
		return fmt.Errorf("top_k must be non-negative, got %d", *c.TopK)
	}
	if c.StandoffDistance != nil && *c.StandoffDistance < 0 {
		return fmt.Errorf("standoff_distance must be non-negative, got %f", *c.StandoffDistance)
	}
	if c.SweepSpeed != nil && !(*c.SweepSpeed > 0) {
		return fmt.Errorf("sweep_speed must be positive, got %f", *c.SweepSpeed)
	}
	if c.GoalRetries != nil && *c.GoalRetries < 0 {
		return fmt.Errorf("goal_retries must be non-negative, got %d", *c.GoalRetries)
	}
	if c.TargetCount != nil && *c.TargetCount < 1 {
		return fmt.Errorf("target_count must be at least 1, got %d", *c.TargetCount)
	}
	for name, v := range map[string]*string{
		"goal_timeout":  c.GoalTimeout,
		"tick_interval": c.TickInterval,
		"detected_hold": c.DetectedHold,
		"dropped_hold":  c.DroppedHold,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}
	for label, g := range c.Gains {
		if math.IsNaN(g) {
			return fmt.Errorf("gain for label %q is NaN", label)
		}
	}
	return nil
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetConfirmationThreshold returns the confirmation_threshold value or the default.
func (c *MissionConfig) GetConfirmationThreshold() int {
	if c.ConfirmationThreshold == nil {
		return 15
	}
	return *c.ConfirmationThreshold
}

// GetClusterRadius returns the cluster_radius value (metres) or the default.
func (c *MissionConfig) GetClusterRadius() float64 {
	if c.ClusterRadius == nil {
		return 0.6
	}
	return *c.ClusterRadius
}

// GetTopK returns the top_k value or the default.
func (c *MissionConfig) GetTopK() int {
	if c.TopK == nil {
		return 3
	}
	return *c.TopK
}

// GetStandoffDistance returns the standoff_distance value or the default.
func (c *MissionConfig) GetStandoffDistance() float64 {
	if c.StandoffDistance == nil {
		return 0.7
	}
	return *c.StandoffDistance
}

// GetApproachRotationDeg returns the approach_rotation_deg value or the default.
func (c *MissionConfig) GetApproachRotationDeg() float64 {
	if c.ApproachRotationDeg == nil {
		return 90
	}
	return *c.ApproachRotationDeg
}

// GetSweepAngleDeg returns the sweep_angle_deg value or the default.
func (c *MissionConfig) GetSweepAngleDeg() float64 {
	if c.SweepAngleDeg == nil {
		return 360
	}
	return *c.SweepAngleDeg
}

// GetSweepSpeed returns the sweep_speed value (rad/s) or the default.
func (c *MissionConfig) GetSweepSpeed() float64 {
	if c.SweepSpeed == nil {
		return 0.5
	}
	return *c.SweepSpeed
}

// GetGoalTimeout parses and returns the GoalTimeout as a time.Duration.
func (c *MissionConfig) GetGoalTimeout() time.Duration {
	return parseDurationOr(c.GoalTimeout, 60*time.Second)
}

// GetGoalRetries returns the goal_retries value or the default.
func (c *MissionConfig) GetGoalRetries() int {
	if c.GoalRetries == nil {
		return 0
	}
	return *c.GoalRetries
}

// GetStartX returns the start_x value or the default.
func (c *MissionConfig) GetStartX() float64 {
	if c.StartX == nil {
		return 0
	}
	return *c.StartX
}

// GetStartY returns the start_y value or the default.
func (c *MissionConfig) GetStartY() float64 {
	if c.StartY == nil {
		return 0
	}
	return *c.StartY
}

// GetTargetCount returns the target_count value or the default.
func (c *MissionConfig) GetTargetCount() int {
	if c.TargetCount == nil {
		return 4
	}
	return *c.TargetCount
}

// GetTickInterval parses and returns the TickInterval as a time.Duration.
func (c *MissionConfig) GetTickInterval() time.Duration {
	return parseDurationOr(c.TickInterval, 500*time.Millisecond)
}

// GetDetectedHold parses and returns the DetectedHold as a time.Duration.
func (c *MissionConfig) GetDetectedHold() time.Duration {
	return parseDurationOr(c.DetectedHold, 3*time.Second)
}

// GetDroppedHold parses and returns the DroppedHold as a time.Duration.
func (c *MissionConfig) GetDroppedHold() time.Duration {
	return parseDurationOr(c.DroppedHold, 1*time.Second)
}

// GetGains returns a copy of the gains map (nil when unset).
func (c *MissionConfig) GetGains() map[string]float64 {
	if len(c.Gains) == 0 {
		return nil
	}
	out := make(map[string]float64, len(c.Gains))
	for k, v := range c.Gains {
		out[k] = v
	}
	return out
}
