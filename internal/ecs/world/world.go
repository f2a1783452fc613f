// Package world ties the registry, component store, scheduler, and entity
// pools into the single facade external collaborators use, per spec.md §6
// ("External Interfaces"): entity create/destroy, get/set/remove components
// by name, query by component-name triples, phase/time-step/system
// registration, and pool management.
package world

import (
	"log"
	"sync"
	"time"

	"whisker/internal/ecs"
	"whisker/internal/ecs/component"
	"whisker/internal/ecs/pool"
	"whisker/internal/ecs/query"
	"whisker/internal/ecs/scheduler"
)

// AllocationFailureHandler is the host-supplied hook invoked before World
// retries a failed growth operation once and then aborts, per spec.md §7's
// "try grow -> warn-and-retry -> panic" allocation failure policy. The
// argument names the operation that failed (e.g. "pool:enemies").
type AllocationFailureHandler func(context string)

// World is the root object game code constructs once per session.
type World struct {
	Registry  *ecs.Registry
	Store     *component.Store
	Scheduler *scheduler.Scheduler

	logger       *log.Logger
	allocFailure AllocationFailureHandler

	mu    sync.Mutex
	pools map[string]*pool.Pool

	queries *query.Cache
}

// New creates a World with its own registry, component store, and
// scheduler wired together, and a default logger of log.Default().
func New() *World {
	reg := ecs.NewRegistry()
	store := component.NewStore()
	return &World{
		Registry:  reg,
		Store:     store,
		Scheduler: scheduler.New(reg, store),
		logger:    log.Default(),
		pools:     make(map[string]*pool.Pool),
		queries:   query.NewCache(),
	}
}

// SetLogger overrides the logger used for allocation-failure diagnostics.
func (w *World) SetLogger(l *log.Logger) {
	if l != nil {
		w.logger = l
	}
}

// SetAllocationFailureHandler installs the warn-and-retry callback invoked
// before a fatal allocation abort. If unset, the failure is only logged
// through w.logger before the retry.
func (w *World) SetAllocationFailureHandler(fn AllocationFailureHandler) {
	w.allocFailure = fn
}

// warnAndRetry implements spec.md §7's allocation-failure policy: try once,
// give the host a chance to free caches via the installed
// AllocationFailureHandler (or just log), try once more, and if that also
// fails, abort the process with a diagnostic - allocation failure has no
// error-return channel, it is fatal by design.
func (w *World) warnAndRetry(context string, attempt func() bool) {
	if attempt() {
		return
	}
	if w.allocFailure != nil {
		w.allocFailure(context)
	} else {
		w.logger.Printf("whisker: allocation failed, retrying (%s)", context)
	}
	if attempt() {
		return
	}
	err := &ecs.WhiskerError{Code: ecs.ErrPoolExhausted, Message: "allocation failed twice, aborting: " + context}
	w.logger.Print(err.Error())
	panic(err)
}

// --- Entities ---

// Create allocates a new entity immediately.
func (w *World) Create() ecs.EntityID { return w.Registry.Create() }

// CreateNamed returns the existing entity bound to name, creating it if
// this is the first reference (spec.md §7's lookup-failure policy: names
// are identifiers, not queries).
func (w *World) CreateNamed(name string) ecs.EntityID { return w.Registry.CreateNamed(name) }

// CreateDeferred enqueues an entity creation applied at the next drain.
func (w *World) CreateDeferred() ecs.EntityID { return w.Registry.CreateDeferred() }

// Destroy immediately destroys id, returning false if it was already dead.
func (w *World) Destroy(id ecs.EntityID) bool { return w.Registry.Destroy(id) }

// DestroyDeferred enqueues id's destruction, applied at the next drain.
func (w *World) DestroyDeferred(id ecs.EntityID) { w.Registry.DestroyDeferred(id) }

// IsAlive reports whether id's index and version are both still current.
func (w *World) IsAlive(id ecs.EntityID) bool { return w.Registry.IsAlive(id) }

// Resolve returns the component/entity id bound to name, creating it if
// this is the first reference.
func (w *World) Resolve(name string) ecs.ComponentID {
	return w.Registry.CreateNamed(name).Index()
}

// --- Components ---

// SetComponent writes value for component name on entity immediately.
func SetComponent[T any](w *World, name string, entity ecs.EntityID, value T) {
	component.SetComponent(w.Store, w.Resolve(name), entity, value)
}

// GetComponent returns a pointer to entity's value for component name, or
// nil if absent or of a different type.
func GetComponent[T any](w *World, name string, entity ecs.EntityID) *T {
	return component.GetComponent[T](w.Store, w.Resolve(name), entity)
}

// EnqueueSetComponent enqueues a deferred SET of value for component name
// on entity, applied at the next drain.
func EnqueueSetComponent[T any](w *World, name string, entity ecs.EntityID, value T, propagate bool) {
	component.EnqueueSet(w.Store, w.Resolve(name), entity, value, propagate)
}

// RemoveComponent immediately removes component name from entity.
func (w *World) RemoveComponent(name string, entity ecs.EntityID) bool {
	return w.Store.RemoveComponent(w.Resolve(name), entity)
}

// EnqueueRemoveComponent enqueues a deferred REMOVE of component name from
// entity, applied at the next drain.
func (w *World) EnqueueRemoveComponent(name string, entity ecs.EntityID, propagate bool) {
	w.Store.EnqueueRemove(w.Resolve(name), entity, propagate)
}

// HasComponent reports whether entity currently carries component name.
func (w *World) HasComponent(name string, entity ecs.EntityID) bool {
	return w.Store.Has(w.Resolve(name), entity)
}

// --- Queries ---

// Query resolves read/write/optional component-name CSV lists (creating any
// component entity referenced for the first time) and returns a fresh
// iterator over their intersection, restricted to the given thread slice.
// Pass threadID=0, threadMax=0 for a single-threaded pass over everything.
func (w *World) Query(read, write, optional string, threadID, threadMax uint64) *query.Iterator {
	return query.NewCache().Query(0, w.Store, w.Registry, read, write, optional, threadID, threadMax)
}

// NamedQuery is like Query but keys the returned iterator's cache slot by
// itorIndex, so repeated calls with the same itorIndex reuse resolved component-id
// arrays across Reset()s, per spec.md §4.4's itor_index contract.
func (w *World) NamedQuery(itorIndex int, read, write, optional string, threadID, threadMax uint64) *query.Iterator {
	return w.queries.Query(itorIndex, w.Store, w.Registry, read, write, optional, threadID, threadMax)
}

// --- Scheduler passthrough ---

// Update drives one frame of the scheduler: every non-manual phase's pre,
// body, and post run in the scheduler's phase order, interleaved with the
// deferred-action drain.
func (w *World) Update(deltaTime time.Duration) error {
	return w.Scheduler.Update(deltaTime)
}

// --- Pools ---

// NewPool creates (or returns, if name is already registered) an entity
// pool sharing this World's registry and component store, bound to name
// for later lookup via Pool.
func (w *World) NewPool(name string, cfg pool.Config) *pool.Pool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pools[name]; ok {
		return p
	}

	var p *pool.Pool
	w.warnAndRetry("pool:"+name, func() bool {
		p = pool.New(w.Registry, w.Store, cfg)
		return p != nil
	})
	w.pools[name] = p
	return p
}

// Pool returns the pool registered under name, if any.
func (w *World) Pool(name string) (*pool.Pool, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pools[name]
	return p, ok
}
