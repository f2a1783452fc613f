package scheduler

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the scheduler's declarative configuration: the set of time
// steps to register and the phase order to apply once every phase the
// caller needs has been registered. It plays the same role the teacher's
// ecs.WorldConfig/DefaultWorldConfig play, loaded from a file instead of
// hardcoded.
type Config struct {
	TimeSteps  []TimeStepConfig `yaml:"time_steps"`
	PhaseOrder []string         `yaml:"phase_order"`
}

// DefaultConfig mirrors spec.md §6's defaults: a 60 Hz fixed step with
// clamp/snap/accumulate/average all on, and an uncapped render step, bound
// to the reserved update/render phase order.
func DefaultConfig() Config {
	return Config{
		TimeSteps: []TimeStepConfig{
			DefaultFixedTimeStep("fixed"),
			DefaultRenderTimeStep("render"),
		},
		PhaseOrder: []string{
			PhaseOnStartup,
			PhasePreLoad,
			PhasePreUpdate,
			PhaseFixedUpdate,
			PhaseOnUpdate,
			PhasePostUpdate,
			PhaseFinal,
			PhasePreRender,
			PhaseOnRender,
			PhasePostRender,
			PhaseFinalRender,
		},
	}
}

// LoadConfig reads and parses a YAML scheduler configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaultPhases registers the reserved update/render phases against
// cfg's time steps and applies cfg's phase order. timeStepForPhase maps
// a phase name to the name of the cfg.TimeSteps entry it should use;
// phases not present in the map, or mapped to an unknown time-step name,
// default to the first time step.
func (s *Scheduler) ApplyDefaultPhases(cfg Config, timeStepForPhase map[string]string) {
	timeStepID := make(map[string]int, len(cfg.TimeSteps))
	for _, tsCfg := range cfg.TimeSteps {
		timeStepID[tsCfg.Name] = s.RegisterTimeStep(tsCfg)
	}

	defaultTimeStep := 0
	if len(cfg.TimeSteps) > 0 {
		defaultTimeStep = timeStepID[cfg.TimeSteps[0].Name]
	}

	for _, name := range cfg.PhaseOrder {
		tsID := defaultTimeStep
		if tsName, ok := timeStepForPhase[name]; ok {
			if id, ok := timeStepID[tsName]; ok {
				tsID = id
			}
		}
		s.RegisterPhase(name, tsID, false)
	}

	s.SetPhaseOrder(cfg.PhaseOrder)
}
