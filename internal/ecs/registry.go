package ecs

import (
	"sync"
	"sync/atomic"

	"whisker/internal/ecs/blockqueue"
)

// EntityActionKind enumerates the deferred entity actions the registry can
// queue, mirroring WHISKER_ECS_ENTITY_DEFERRED_ACTION.
type EntityActionKind int

const (
	EntityActionCreate EntityActionKind = iota
	EntityActionDestroy
)

// EntityAction is a single deferred entity mutation, drained by the
// scheduler between phases in the order documented in spec.md §4.5.
type EntityAction struct {
	ID   EntityID
	Kind EntityActionKind
}

// entityRecord is the per-index slot described in spec.md's data model: a
// current id (echoing its version), two atomic flags, an optional owner,
// and an optional name. Stored behind a pointer inside Registry.entities so
// growing that slice never invalidates a previously returned pointer.
type entityRecord struct {
	id        atomic.Uint64 // EntityID, packed
	destroyed atomic.Bool
	unmanaged atomic.Bool
	managedBy atomic.Pointer[ManagedBy]
	name      atomic.Pointer[string]
}

func (r *entityRecord) currentID() EntityID {
	return EntityID(r.id.Load())
}

// Registry allocates entity ids, recycles them, tracks names, and stages
// deferred entity actions. Creation and destruction are serialized by a
// single mutex; deferred enqueues are lock-free on the common path via
// blockqueue.Queue.
type Registry struct {
	mu             sync.Mutex
	entities       []*entityRecord
	destroyedStack []EntityIndex
	names          map[string]EntityIndex

	actions *blockqueue.Queue[EntityAction]
}

// NewRegistry creates a registry with its reserved slot 0 already allocated,
// per spec.md's "ID 0 is a valid but reserved sentinel" data-model rule.
func NewRegistry() *Registry {
	r := &Registry{
		names:   make(map[string]EntityIndex),
		actions: blockqueue.New[EntityAction](),
	}
	r.Create() // reserve slot 0
	return r
}

// allocateSlot pops the destroyed stack or appends a new record, returning
// it with destroyed cleared and a stable id. Caller must hold r.mu.
func (r *Registry) allocateSlot() *entityRecord {
	if n := len(r.destroyedStack); n > 0 {
		idx := r.destroyedStack[n-1]
		r.destroyedStack = r.destroyedStack[:n-1]
		rec := r.entities[idx]
		rec.destroyed.Store(false)
		rec.unmanaged.Store(false)
		return rec
	}

	idx := EntityIndex(len(r.entities))
	rec := &entityRecord{}
	rec.id.Store(uint64(NewEntityID(idx, 0)))
	r.entities = append(r.entities, rec)
	return rec
}

// Create allocates a new entity id, recycling a destroyed slot when one is
// available. Thread-safe.
func (r *Registry) Create() EntityID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocateSlot().currentID()
}

// CreateNamed returns the existing entity bound to name if one exists,
// otherwise creates one and binds the name to it. Idempotent.
func (r *Registry) CreateNamed(name string) EntityID {
	r.mu.Lock()
	if idx, ok := r.names[name]; ok {
		rec := r.entities[idx]
		r.mu.Unlock()
		return rec.currentID()
	}
	rec := r.allocateSlot()
	r.names[name] = rec.currentID().Index()
	n := name
	rec.name.Store(&n)
	r.mu.Unlock()
	return rec.currentID()
}

// CreateDeferred allocates a stable slot immediately (so the returned id is
// usable right away as a map/query key) but leaves it marked destroyed and
// queues a CREATE action; the destroyed flag clears only when the scheduler
// drains that action.
func (r *Registry) CreateDeferred() EntityID {
	r.mu.Lock()
	rec := r.allocateSlot()
	rec.destroyed.Store(true)
	id := rec.currentID()
	r.mu.Unlock()

	*r.actions.Reserve() = EntityAction{ID: id, Kind: EntityActionCreate}
	return id
}

// IsAlive reports whether id's version matches the slot's current version.
func (r *Registry) IsAlive(id EntityID) bool {
	idx := id.Index()
	if int(idx) >= len(r.entities) {
		return false
	}
	return r.entities[idx].currentID() == id
}

// Destroyed reports whether id's slot is currently marked destroyed
// (including entities awaiting a deferred-destroy drain).
func (r *Registry) Destroyed(id EntityID) bool {
	idx := id.Index()
	if int(idx) >= len(r.entities) {
		return true
	}
	return r.entities[idx].destroyed.Load()
}

// Destroy immediately recycles id: bumps the version, clears its name, and
// pushes the slot onto the destroyed stack. Idempotent via CAS on the
// destroyed flag - a second concurrent call is a no-op and returns false.
func (r *Registry) Destroy(id EntityID) bool {
	idx := id.Index()
	if int(idx) >= len(r.entities) {
		return false
	}
	rec := r.entities[idx]
	if rec.currentID() != id {
		return false // stale id, already recycled
	}
	if !rec.destroyed.CompareAndSwap(false, true) {
		return false
	}
	r.recycle(idx, rec)
	return true
}

// recycle bumps the version, clears the name mapping, and pushes idx onto
// the destroyed stack. Caller must already have claimed the destroy via CAS
// (or skip the claim for a deferred action already marked destroyed).
func (r *Registry) recycle(idx EntityIndex, rec *entityRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := rec.currentID()
	rec.id.Store(uint64(NewEntityID(idx, current.Version()+1)))
	rec.managedBy.Store(nil)

	if namePtr := rec.name.Load(); namePtr != nil {
		delete(r.names, *namePtr)
		rec.name.Store(nil)
	}

	r.destroyedStack = append(r.destroyedStack, idx)
}

// DestroyDeferred marks id destroyed (idempotent under concurrent callers)
// and queues a DESTROY action. The version bump and destroyed-stack push
// happen later, at drain time - see SPEC_FULL.md resolution #1.
func (r *Registry) DestroyDeferred(id EntityID) {
	idx := id.Index()
	if int(idx) >= len(r.entities) {
		return
	}
	rec := r.entities[idx]
	if rec.currentID() != id {
		return
	}
	if !rec.destroyed.CompareAndSwap(false, true) {
		return
	}
	*r.actions.Reserve() = EntityAction{ID: id, Kind: EntityActionDestroy}
}

// SetManaged clears the unmanaged and destroyed flags and records the
// owning ManagedBy. Clearing destroyed here mirrors allocateSlot's own
// pop-from-destroyed-stack behavior: a pool's free list is the managed
// equivalent of the registry's destroyed stack, and a slot only becomes
// live again once something actually hands it back out (pool.Pool.Request).
func (r *Registry) SetManaged(id EntityID, owner ManagedBy) {
	idx := id.Index()
	if int(idx) >= len(r.entities) {
		return
	}
	rec := r.entities[idx]
	rec.unmanaged.Store(false)
	rec.destroyed.Store(false)
	rec.managedBy.Store(&owner)
}

// SetUnmanaged sets the unmanaged flag, hiding the entity from iteration and
// scheduler dispatch without destroying it.
func (r *Registry) SetUnmanaged(id EntityID) {
	idx := id.Index()
	if int(idx) >= len(r.entities) {
		return
	}
	r.entities[idx].unmanaged.Store(true)
}

// ClearManaged removes ownership and clears the unmanaged flag.
func (r *Registry) ClearManaged(id EntityID) {
	idx := id.Index()
	if int(idx) >= len(r.entities) {
		return
	}
	rec := r.entities[idx]
	rec.managedBy.Store(nil)
	rec.unmanaged.Store(false)
}

// IsUnmanaged reports the unmanaged flag for an index (used by the iterator
// and scheduler hot paths, which already have a raw index in hand).
func (r *Registry) IsUnmanaged(idx EntityIndex) bool {
	if int(idx) >= len(r.entities) {
		return true
	}
	return r.entities[idx].unmanaged.Load()
}

// ManagedByOf returns the owner of a managed entity, if any.
func (r *Registry) ManagedByOf(id EntityID) (ManagedBy, bool) {
	idx := id.Index()
	if int(idx) >= len(r.entities) {
		return nil, false
	}
	ptr := r.entities[idx].managedBy.Load()
	if ptr == nil {
		return nil, false
	}
	return *ptr, true
}

// LookupNamed returns the index bound to name, if any.
func (r *Registry) LookupNamed(name string) (EntityIndex, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.names[name]
	return idx, ok
}

// CurrentID returns the live id currently occupying idx.
func (r *Registry) CurrentID(idx EntityIndex) EntityID {
	if int(idx) >= len(r.entities) {
		return InvalidEntityID
	}
	return r.entities[idx].currentID()
}

// Len returns the number of allocated slots (including destroyed ones).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entities)
}

// ForEachPendingDestroy scans the queued actions for DESTROY entries without
// consuming the queue, so the scheduler's step-1 "pre-process destroys" pass
// (spec.md §4.5) can route pool-owned entities back to their pool before
// the component and entity action queues are drained.
func (r *Registry) ForEachPendingDestroy(fn func(EntityID)) {
	r.actions.Each(func(a *EntityAction) {
		if a.Kind == EntityActionDestroy {
			fn(a.ID)
		}
	})
}

// DrainActions applies every queued entity action in insertion order and
// resets the queue (spec.md §4.5 step 4). isManaged reports whether an
// entity was already fully handled by the pool in step 1 - if so its
// DESTROY action is skipped here rather than recycled through the
// registry's own destroyed stack, since pool-owned entities bypass it
// entirely (spec.md §4.6 invariants).
func (r *Registry) DrainActions(isManaged func(EntityID) bool) {
	r.actions.Each(func(a *EntityAction) {
		idx := a.ID.Index()
		if int(idx) >= len(r.entities) {
			return
		}
		rec := r.entities[idx]

		switch a.Kind {
		case EntityActionCreate:
			rec.destroyed.Store(false)
		case EntityActionDestroy:
			if isManaged != nil && isManaged(a.ID) {
				return
			}
			r.recycle(idx, rec)
		}
	})
	r.actions.Reset()
}

// RecycleManaged bumps id's version and clears its name without touching
// the registry's own destroyed stack. Used by pool.Pool.Return, which
// maintains its own free list instead (spec.md §4.6).
func (r *Registry) RecycleManaged(id EntityID) {
	idx := id.Index()
	if int(idx) >= len(r.entities) {
		return
	}
	rec := r.entities[idx]
	current := rec.currentID()
	rec.id.Store(uint64(NewEntityID(idx, current.Version()+1)))

	if namePtr := rec.name.Load(); namePtr != nil {
		r.mu.Lock()
		delete(r.names, *namePtr)
		r.mu.Unlock()
		rec.name.Store(nil)
	}
}
