// Package pool implements the Whisker entity pool: a prototypical
// pre-allocator that amortizes entity creation for swarms of similar
// entities and intercepts destroy requests for the entities it owns
// (spec.md §4.6).
package pool

import (
	"sync"

	"whisker/internal/ecs"
	"whisker/internal/ecs/component"
	"whisker/internal/ecs/sparseset"
)

// Stats tracks pool activity, mirroring the teacher's PoolStatistics shape.
type Stats struct {
	Requests uint64
	Returns  uint64
	Misses   uint64
}

// Pool pre-allocates entities carrying a declared "component footprint": a
// hidden prototype entity plus the set of component-ids every requested
// entity is seeded with.
type Pool struct {
	registry *ecs.Registry
	store    *component.Store

	mu                        sync.Mutex
	prototype                 ecs.EntityID
	componentIDs              []ecs.ComponentID
	componentSet              *sparseset.Set[struct{}] // presence bitmap, per spec.md §3
	setters                   map[ecs.ComponentID]func(ecs.EntityID)
	freeList                  []ecs.EntityIndex
	reallocBlockSize          int
	propagateComponentChanges bool
	stats                     Stats
}

// Config declares a pool's initial size, batch-refill size, and whether
// DUMMY_ADD/DUMMY_REMOVE actions carry the propagate flag for observers.
type Config struct {
	InitialSize               int  `yaml:"initial_size"`
	ReallocBlockSize          int  `yaml:"realloc_block_size"`
	PropagateComponentChanges bool `yaml:"propagate_component_changes"`
}

// DefaultConfig mirrors the source's typical pool sizing: a modest initial
// reserve, doubling-style batch refills of the same size, and change
// propagation enabled.
func DefaultConfig() Config {
	return Config{InitialSize: 64, ReallocBlockSize: 64, PropagateComponentChanges: true}
}

// New creates a pool bound to registry and store, reserving a hidden
// unmanaged prototype entity and an initial free-list reserve.
func New(registry *ecs.Registry, store *component.Store, cfg Config) *Pool {
	if cfg.ReallocBlockSize <= 0 {
		cfg.ReallocBlockSize = 1
	}

	p := &Pool{
		registry:                  registry,
		store:                     store,
		prototype:                 registry.Create(),
		componentSet:              sparseset.New[struct{}](),
		setters:                   make(map[ecs.ComponentID]func(ecs.EntityID)),
		reallocBlockSize:          cfg.ReallocBlockSize,
		propagateComponentChanges: cfg.PropagateComponentChanges,
	}
	registry.SetUnmanaged(p.prototype)
	p.growLocked(cfg.InitialSize)
	return p
}

// growLocked appends n freshly created, unmanaged entities to the free
// list. Caller must hold p.mu.
func (p *Pool) growLocked(n int) {
	for i := 0; i < n; i++ {
		e := p.registry.Create()
		p.registry.SetUnmanaged(e)
		p.freeList = append(p.freeList, e.Index())
	}
}

// SetPrototypeComponent records component-id c in the pool's footprint and
// seeds the hidden prototype entity's value for it. Subsequent Request
// calls enqueue a deferred SET of value for every requested entity.
func SetPrototypeComponent[T any](p *Pool, c ecs.ComponentID, value T) {
	p.mu.Lock()
	if !p.componentSet.Contains(uint32(c)) {
		p.componentSet.Set(uint32(c), struct{}{})
		p.componentIDs = append(p.componentIDs, c)
	}
	p.setters[c] = func(e ecs.EntityID) {
		component.EnqueueSet(p.store, c, e, value, p.propagateComponentChanges)
	}
	p.mu.Unlock()

	component.SetComponent(p.store, c, p.prototype, value)
}

// Request pops a free-list entry (growing the free list by
// ReallocBlockSize entities under lock on a miss), marks the entity
// managed by this pool, and enqueues a SET of every prototype component's
// value plus a DUMMY_ADD for observers.
func (p *Pool) Request() ecs.EntityID {
	p.mu.Lock()
	if len(p.freeList) == 0 {
		p.growLocked(p.reallocBlockSize)
		p.stats.Misses++
	}

	n := len(p.freeList)
	idx := p.freeList[n-1]
	p.freeList = p.freeList[:n-1]

	componentIDs := append([]ecs.ComponentID(nil), p.componentIDs...)
	setters := make([]func(ecs.EntityID), len(componentIDs))
	for i, c := range componentIDs {
		setters[i] = p.setters[c]
	}
	propagate := p.propagateComponentChanges
	p.stats.Requests++
	p.mu.Unlock()

	e := p.registry.CurrentID(idx)
	p.registry.SetManaged(e, p)

	for _, setter := range setters {
		setter(e)
	}
	for _, c := range componentIDs {
		p.store.EnqueueDummyAdd(c, e, propagate)
	}
	return e
}

// Return enqueues a DUMMY_REMOVE for each prototype component, marks id
// unmanaged, bumps its version (invalidating any externally held stale
// IDs), and pushes its slot back onto the free list.
func (p *Pool) Return(id ecs.EntityID) {
	p.mu.Lock()
	componentIDs := append([]ecs.ComponentID(nil), p.componentIDs...)
	propagate := p.propagateComponentChanges
	p.mu.Unlock()

	for _, c := range componentIDs {
		p.store.EnqueueDummyRemove(c, id, propagate)
	}

	p.registry.SetUnmanaged(id)
	p.registry.RecycleManaged(id)

	p.mu.Lock()
	p.freeList = append(p.freeList, id.Index())
	p.stats.Returns++
	p.mu.Unlock()
}

// Reclaim implements ecs.ManagedBy: called by the scheduler's deferred
// destroy pre-process step when id was destroyed through the generic
// entity-destroy path instead of Return. Strips every component not in
// the pool's prototype set before returning id to the pool, per spec.md
// §4.5 step 1.
func (p *Pool) Reclaim(id ecs.EntityID) {
	p.mu.Lock()
	prototypeSet := make(map[ecs.ComponentID]bool, len(p.componentIDs))
	for _, c := range p.componentIDs {
		prototypeSet[c] = true
	}
	propagate := p.propagateComponentChanges
	p.mu.Unlock()

	for _, c := range p.store.ComponentsOf(id) {
		if !prototypeSet[c] {
			p.store.EnqueueRemove(c, id, propagate)
		}
	}

	p.Return(id)
}

// Stats returns a snapshot of the pool's request/return/miss counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// FreeListLen returns the number of entities currently available for
// Request without triggering a batch refill.
func (p *Pool) FreeListLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.freeList)
}

// Prototype returns the pool's hidden prototype entity id, useful for
// inspecting the declared component footprint's reference values.
func (p *Pool) Prototype() ecs.EntityID {
	return p.prototype
}

// ComponentIDs returns the component-ids in the pool's declared footprint,
// in registration order.
func (p *Pool) ComponentIDs() []ecs.ComponentID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ecs.ComponentID(nil), p.componentIDs...)
}
