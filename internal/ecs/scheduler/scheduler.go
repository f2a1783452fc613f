// Package scheduler implements the Whisker process-phase scheduler: phase
// registration, per-phase time steppers, per-system thread dispatch, and
// the frame update driver that interleaves phase execution with deferred
// action draining (spec.md §4.5).
package scheduler

import (
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"whisker/internal/ecs"
	"whisker/internal/ecs/component"
	"whisker/internal/ecs/query"
)

// Reserved phase names, per spec.md §6.
const (
	PhaseOnStartup   = "w_phase_on_startup"
	PhasePreLoad     = "w_phase_pre_load"
	PhasePreUpdate   = "w_phase_pre_update"
	PhaseFixedUpdate = "w_phase_fixed_update"
	PhaseOnUpdate    = "w_phase_on_update"
	PhasePostUpdate  = "w_phase_post_update"
	PhaseFinal       = "w_phase_final"
	PhasePreRender   = "w_phase_pre_render"
	PhaseOnRender    = "w_phase_on_render"
	PhasePostRender  = "w_phase_post_render"
	PhaseFinalRender = "w_phase_final_render"

	phaseReserved  = "w_phase_reserved"
	phasePrePhase  = "w_phase_pre_phase_"
	phasePostPhase = "w_phase_post_phase_"
)

// systemIndexName is the name-indexed entity holding each registered
// system's positional index in the systems list, per spec.md §6.
const systemIndexName = "w_ecs_system_idx"

// Phase is a named scheduling point bound to a time step. Every registered
// phase carries structural pre/post pointers to the scheduler's two global
// reserved phases, rather than re-querying an entity set for them each
// frame - the Go rendition of spec.md §9's "reserved phases injected at
// order-set time" design note.
type Phase struct {
	ID               ecs.ComponentID
	Name             string
	TimeStepID       int
	ManualScheduling bool

	pre  *Phase
	post *Phase
}

// SystemContext is the per-thread-slice handle passed to a system function.
// Systems issue queries and deferred mutations through it.
type SystemContext struct {
	ThreadID  uint64
	ThreadMax uint64
	DeltaTime time.Duration

	Store    *component.Store
	Registry *ecs.Registry
	Queries  *query.Cache
}

// SystemFunc is a user system's entry point, called once per thread slice
// per update.
type SystemFunc func(ctx *SystemContext)

// System binds a function to a phase with a fixed thread-slice count.
type System struct {
	Name        string
	Entity      ecs.EntityID
	Phase       *Phase
	ThreadCount int

	fn       SystemFunc
	contexts []*SystemContext
}

// Scheduler owns the phase list, time steps, and registered systems, and
// drives the per-frame update loop.
type Scheduler struct {
	registry *ecs.Registry
	store    *component.Store

	mu             sync.Mutex
	phases         []*Phase
	phaseByName    map[string]*Phase
	timeSteps      []*TimeStep
	timeStepByName map[string]int
	systems        []*System // registration order; indexed by the value stamped under w_ecs_system_idx

	prePhase  *Phase
	postPhase *Phase
}

// New creates a scheduler bound to registry and store.
func New(registry *ecs.Registry, store *component.Store) *Scheduler {
	return &Scheduler{
		registry:       registry,
		store:          store,
		phaseByName:    make(map[string]*Phase),
		timeStepByName: make(map[string]int),
	}
}

// RegisterTimeStep adds a time step and returns its id, used by
// RegisterPhase's timeStepID argument.
func (s *Scheduler) RegisterTimeStep(cfg TimeStepConfig) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.timeStepByName[cfg.Name]; ok {
		return id
	}
	id := len(s.timeSteps)
	s.timeSteps = append(s.timeSteps, NewTimeStep(cfg))
	s.timeStepByName[cfg.Name] = id
	return id
}

// RegisterPhase creates (or returns, if already registered) a phase bound
// to timeStepID. Non-manual phases are wrapped by the scheduler's shared
// pre/post reserved phases, created lazily from the first non-manual
// phase's time step.
func (s *Scheduler) RegisterPhase(name string, timeStepID int, manualScheduling bool) *Phase {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.phaseByName[name]; ok {
		return p
	}

	p := &Phase{
		ID:               s.registry.CreateNamed(name).Index(),
		Name:             name,
		TimeStepID:       timeStepID,
		ManualScheduling: manualScheduling,
	}
	s.phases = append(s.phases, p)
	s.phaseByName[name] = p

	if !manualScheduling {
		if s.prePhase == nil {
			s.prePhase = &Phase{
				ID:               s.registry.CreateNamed(phasePrePhase).Index(),
				Name:             phasePrePhase,
				TimeStepID:       timeStepID,
				ManualScheduling: true,
			}
			s.postPhase = &Phase{
				ID:               s.registry.CreateNamed(phasePostPhase).Index(),
				Name:             phasePostPhase,
				TimeStepID:       timeStepID,
				ManualScheduling: true,
			}
		}
		p.pre = s.prePhase
		p.post = s.postPhase
	}

	return p
}

// SetPhaseOrder re-sorts the registered phases to match names'
// order; phases absent from names retain their relative order at the end.
func (s *Scheduler) SetPhaseOrder(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := make([]*Phase, 0, len(s.phases))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if p, ok := s.phaseByName[name]; ok {
			ordered = append(ordered, p)
			seen[name] = true
		}
	}
	for _, p := range s.phases {
		if !seen[p.Name] {
			ordered = append(ordered, p)
		}
	}
	s.phases = ordered
}

// RegisterSystem binds fn to phase with the given thread count (0 runs
// inline on the calling goroutine; N>0 fans out across N thread contexts
// via an errgroup). Registering a system stamps the phase's own
// component-id on the system's entity - the "systems tagged with this
// phase's component" spec.md §4.5 describes - and records its positional
// index in s.systems under w_ecs_system_idx (spec.md §6). Dispatch order
// for a phase is later driven by querying the store for that tag
// (systemsInPhase), not by a side-channel map.
func (s *Scheduler) RegisterSystem(name string, phase *Phase, threadCount int, fn SystemFunc) *System {
	s.mu.Lock()
	defer s.mu.Unlock()

	if threadCount < 0 {
		threadCount = 0
	}
	contextCount := threadCount
	if contextCount == 0 {
		contextCount = 1
	}

	sys := &System{
		Name:        name,
		Entity:      s.registry.CreateNamed(name),
		Phase:       phase,
		ThreadCount: threadCount,
		fn:          fn,
	}
	for i := 0; i < contextCount; i++ {
		sys.contexts = append(sys.contexts, &SystemContext{
			Store:    s.store,
			Registry: s.registry,
			Queries:  query.NewCache(),
		})
	}

	idx := len(s.systems)
	s.systems = append(s.systems, sys)

	component.SetComponent(s.store, phase.ID, sys.Entity, struct{}{})
	component.SetComponent(s.store, s.registry.CreateNamed(systemIndexName).Index(), sys.Entity, idx)

	return sys
}

// Update advances every non-manual phase in the current phase order
// (registration order unless SetPhaseOrder rearranged it): its pre
// phase, itself (its time step's Advance reported count of times), its
// post phase, then drains all deferred actions - spec.md §4.5's frame
// update and deferred-drain order.
func (s *Scheduler) Update(deltaTime time.Duration) error {
	s.mu.Lock()
	phases := make([]*Phase, len(s.phases))
	copy(phases, s.phases)
	s.mu.Unlock()

	for _, phase := range phases {
		if phase.ManualScheduling {
			continue
		}

		if err := s.runPhase(phase.pre, deltaTime); err != nil {
			return err
		}
		if err := s.runPhase(phase, deltaTime); err != nil {
			return err
		}
		if err := s.runPhase(phase.post, deltaTime); err != nil {
			return err
		}

		s.drain()
	}

	s.mu.Lock()
	for _, ts := range s.timeSteps {
		ts.ResetUpdated()
	}
	s.mu.Unlock()

	return nil
}

// systemsInPhase returns the systems tagged with phase's component, in
// ascending dense-key (i.e. entity-index) order, resolved back to their
// *System through the w_ecs_system_idx component stamped at registration -
// the query-driven dispatch order spec.md §6 describes, rather than a
// side-channel map keyed by phase.
func (s *Scheduler) systemsInPhase(phase *Phase) []*System {
	systemIdxID := s.registry.CreateNamed(systemIndexName).Index()

	keys := s.store.DenseKeys(phase.ID)
	systems := make([]*System, 0, len(keys))
	for _, key := range keys {
		entity := s.registry.CurrentID(ecs.EntityIndex(key))
		idx := component.GetComponent[int](s.store, systemIdxID, entity)
		if idx == nil {
			continue
		}
		systems = append(systems, s.systems[*idx])
	}
	return systems
}

func (s *Scheduler) runPhase(phase *Phase, deltaTime time.Duration) error {
	s.mu.Lock()
	ts := s.timeSteps[phase.TimeStepID]
	systems := s.systemsInPhase(phase)
	s.mu.Unlock()

	n := ts.Advance(deltaTime)
	for i := 0; i < n; i++ {
		for _, sys := range systems {
			if err := s.dispatch(sys, ts.DeltaTimeFixed()); err != nil {
				return err
			}
		}
	}
	return nil
}

// dispatch runs sys once: inline if ThreadCount==0, or fanned out across
// ThreadCount goroutines joined with an errgroup.Group otherwise - the
// idiomatic-Go substitute for the source's thread-pool-plus-condvar-wait
// pattern (spec.md §4.5/§5).
func (s *Scheduler) dispatch(sys *System, dt time.Duration) error {
	if sys.ThreadCount <= 0 {
		ctx := sys.contexts[0]
		ctx.DeltaTime = dt
		ctx.ThreadID = 0
		ctx.ThreadMax = 0
		sys.fn(ctx)
		return nil
	}

	var g errgroup.Group
	for i, ctx := range sys.contexts {
		ctx.DeltaTime = dt
		ctx.ThreadID = uint64(i)
		ctx.ThreadMax = uint64(sys.ThreadCount)
		fn := sys.fn
		c := ctx
		g.Go(func() error {
			fn(c)
			return nil
		})
	}
	return g.Wait()
}

// drain implements spec.md §4.5's four-step deferred drain order: pool
// routing for pending destroys, applying component actions (with the
// post-drain sort folded into component.Store.Drain), then applying entity
// actions while skipping the entities this pass already handed back to
// their pool.
func (s *Scheduler) drain() {
	reclaimed := make(map[ecs.EntityID]bool)

	s.registry.ForEachPendingDestroy(func(id ecs.EntityID) {
		if owner, ok := s.registry.ManagedByOf(id); ok {
			reclaimed[id] = true
			owner.Reclaim(id)
		} else {
			s.store.EnqueueRemoveAll(id, true)
		}
	})

	s.store.Drain()

	s.registry.DrainActions(func(id ecs.EntityID) bool {
		return reclaimed[id]
	})
}
