package scheduler

import "time"

// snapMultipliers are the exact target-period multiples delta snapping can
// lock onto, carried verbatim from whisker_time.c's snap table.
var snapMultipliers = []float64{1.0 / 4, 1.0 / 3, 1.0 / 2, 1, 2, 2.5, 3, 4}

// snapEpsilonFraction is the tolerance (as a fraction of the target period)
// within which a measured delta snaps to the nearest multiplier.
const snapEpsilonFraction = 0.0025

// averageWindow is the rolling-average window size for delta averaging,
// matching the source's default of N=4.
const averageWindow = 4

// TimeStepConfig declares one time step's target rate and which smoothing
// behaviors are active, per spec.md §4.5.
type TimeStepConfig struct {
	Name                     string  `yaml:"name"`
	TargetHz                 float64 `yaml:"target_hz"` // 0 means uncapped
	Clamp                    bool    `yaml:"clamp"`
	Snap                     bool    `yaml:"snap"`
	Average                  bool    `yaml:"average"`
	Accumulate               bool    `yaml:"accumulate"`
	AccumulationClampSeconds float64 `yaml:"accumulation_clamp_seconds"`
	UpdateCountMax           int     `yaml:"update_count_max"` // 0 = uncapped
}

// DefaultFixedTimeStep returns the repository default for a capped phase:
// 60 Hz with clamp, snap, accumulation, and averaging all enabled, per
// spec.md §6 "Defaults". UpdateCountMax defaults to 1 update per phase, per
// that same section, so a phase never silently bursts multiple updates in
// one frame unless a caller explicitly raises the cap.
func DefaultFixedTimeStep(name string) TimeStepConfig {
	return TimeStepConfig{
		Name:                     name,
		TargetHz:                 60,
		Clamp:                    true,
		Snap:                     true,
		Average:                  true,
		Accumulate:               true,
		AccumulationClampSeconds: 0.25,
		UpdateCountMax:           1,
	}
}

// DefaultRenderTimeStep returns the repository default for an uncapped
// render phase: no rate target, no smoothing, always exactly one update.
func DefaultRenderTimeStep(name string) TimeStepConfig {
	return TimeStepConfig{Name: name}
}

// TimeStep turns elapsed wall-clock time into a discrete update count under
// one of several smoothing policies (spec.md §4.5).
type TimeStep struct {
	cfg    TimeStepConfig
	target time.Duration

	accumulator time.Duration
	history     [averageWindow]time.Duration
	historyLen  int
	historyPos  int

	deltaTimeFixed time.Duration
	updated        bool
}

// NewTimeStep constructs a time step from cfg.
func NewTimeStep(cfg TimeStepConfig) *TimeStep {
	ts := &TimeStep{cfg: cfg}
	if cfg.TargetHz > 0 {
		ts.target = time.Duration(float64(time.Second) / cfg.TargetHz)
	}
	return ts
}

// Uncapped reports whether this time step has no target rate - it always
// reports exactly one update per Advance, driven by the measured delta.
func (ts *TimeStep) Uncapped() bool {
	return ts.cfg.TargetHz <= 0
}

// DeltaTimeFixed returns the delta each reported update should use: the
// measured delta for an uncapped step, or the fixed target period for a
// capped one.
func (ts *TimeStep) DeltaTimeFixed() time.Duration {
	return ts.deltaTimeFixed
}

// Updated reports whether Advance has run this time step at least once
// since the last ResetUpdated.
func (ts *TimeStep) Updated() bool {
	return ts.updated
}

// ResetUpdated clears the updated flag; called by the scheduler at the end
// of every frame.
func (ts *TimeStep) ResetUpdated() {
	ts.updated = false
}

// Advance applies this time step's smoothing policy to a freshly measured
// wall-clock delta and returns how many updates the caller should run this
// frame (clamped by UpdateCountMax when set).
func (ts *TimeStep) Advance(delta time.Duration) int {
	ts.updated = true

	if ts.Uncapped() {
		ts.deltaTimeFixed = delta
		return 1
	}

	if ts.cfg.Clamp {
		if max := ts.target * 8; delta > max {
			delta = max
		}
	}

	if ts.cfg.Snap {
		delta = snapDelta(delta, ts.target)
	}

	if ts.cfg.Average {
		delta = ts.rollingAverage(delta)
	}

	ts.deltaTimeFixed = ts.target

	if !ts.cfg.Accumulate {
		return 1
	}

	ts.accumulator += delta
	if ts.cfg.AccumulationClampSeconds > 0 {
		if max := time.Duration(ts.cfg.AccumulationClampSeconds * float64(time.Second)); ts.accumulator > max {
			ts.accumulator = max
		}
	}

	count := 0
	for ts.accumulator >= ts.target && (ts.cfg.UpdateCountMax == 0 || count < ts.cfg.UpdateCountMax) {
		ts.accumulator -= ts.target
		count++
	}
	return count
}

func (ts *TimeStep) rollingAverage(delta time.Duration) time.Duration {
	ts.history[ts.historyPos%averageWindow] = delta
	ts.historyPos++
	if ts.historyLen < averageWindow {
		ts.historyLen++
	}

	var sum time.Duration
	for i := 0; i < ts.historyLen; i++ {
		sum += ts.history[i]
	}
	return sum / time.Duration(ts.historyLen)
}

// snapDelta locks delta onto the nearest of snapMultipliers * target if it
// falls within snapEpsilonFraction of it, else returns delta unchanged.
func snapDelta(delta, target time.Duration) time.Duration {
	epsilon := time.Duration(float64(target) * snapEpsilonFraction)
	for _, m := range snapMultipliers {
		candidate := time.Duration(float64(target) * m)
		diff := delta - candidate
		if diff < 0 {
			diff = -diff
		}
		if diff <= epsilon {
			return candidate
		}
	}
	return delta
}
