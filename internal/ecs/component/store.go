// Package component implements the Whisker component store: one sparse set
// per component-id, plus the deferred-action queue that lets systems mutate
// component state safely while the iterator engine may be mid-scan over the
// same sets (spec.md §4.3).
package component

import (
	"sync"

	"whisker/internal/ecs"
	"whisker/internal/ecs/blockqueue"
	"whisker/internal/ecs/sparseset"
)

// anySet type-erases sparseset.Set[T] so a single Store can hold component
// sets of differing Go types side by side, indexed by ecs.ComponentID. This
// is the Go rendition of spec.md §9's "void* component payloads" note:
// SparseSet<Bytes> with a metadata sidecar becomes a typed wrapper behind a
// narrow interface instead of an unsafe byte buffer.
type anySet interface {
	setAny(key uint32, value any)
	remove(key uint32) bool
	contains(key uint32) bool
	sort()
	mutations() uint64
	resetMutations()
	len() int
	denseKeys() []uint32
}

type typedSet[T any] struct {
	set *sparseset.Set[T]
}

func newTypedSet[T any]() *typedSet[T] {
	return &typedSet[T]{set: sparseset.New[T]()}
}

func (t *typedSet[T]) setAny(key uint32, value any) { t.set.Set(key, value.(T)) }
func (t *typedSet[T]) remove(key uint32) bool       { return t.set.Remove(key) }
func (t *typedSet[T]) contains(key uint32) bool     { return t.set.Contains(key) }
func (t *typedSet[T]) sort()                        { t.set.Sort() }
func (t *typedSet[T]) mutations() uint64            { return t.set.Mutations() }
func (t *typedSet[T]) resetMutations()              { t.set.ResetMutations() }
func (t *typedSet[T]) len() int                     { return t.set.Len() }
func (t *typedSet[T]) denseKeys() []uint32          { return t.set.DenseKeys() }

// Action enumerates the deferred component mutations the store can queue,
// mirroring WHISKER_ECS_COMPONENT_DEFERRED_ACTION.
type Action int

const (
	ActionSet Action = iota
	ActionRemove
	ActionRemoveAll
	ActionDummyAdd
	ActionDummyRemove
)

// deferredAction is a single staged mutation. Payload carries the SET value
// directly as an any rather than an (offset, size) pair into a byte buffer -
// see SPEC_FULL.md's note on simplifying the payload buffer for a
// garbage-collected runtime.
type deferredAction struct {
	Component ecs.ComponentID
	Entity    ecs.EntityID
	Kind      Action
	Payload   any
	Propagate bool
}

// Store holds one sparse set per registered component-id and the deferred
// queue systems enqueue mutations into during a phase.
type Store struct {
	mu     sync.RWMutex
	sets   map[ecs.ComponentID]anySet
	active []ecs.ComponentID

	actions *blockqueue.Queue[deferredAction]
}

// NewStore creates an empty component store.
func NewStore() *Store {
	return &Store{
		sets:    make(map[ecs.ComponentID]anySet),
		actions: blockqueue.New[deferredAction](),
	}
}

// ActiveComponents returns the component-ids that have at least one
// registered sparse set, in registration order.
func (s *Store) ActiveComponents() []ecs.ComponentID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ecs.ComponentID, len(s.active))
	copy(out, s.active)
	return out
}

// ComponentCount returns the number of live entries for a component-id, or 0
// if it has no store yet.
func (s *Store) ComponentCount(c ecs.ComponentID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sets[c]
	if !ok {
		return 0
	}
	return set.len()
}

// DenseKeys returns component c's live entity-index keys in dense-array
// order (ascending after a Drain has re-sorted it), or nil if c has no
// store yet. Used by the query engine to drive its k-way merge cursors
// directly over the store's internal arrays without copying.
func (s *Store) DenseKeys(c ecs.ComponentID) []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sets[c]
	if !ok {
		return nil
	}
	return set.denseKeys()
}

// Has reports whether entity currently carries component c.
func (s *Store) Has(c ecs.ComponentID, entity ecs.EntityID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sets[c]
	if !ok {
		return false
	}
	return set.contains(uint32(entity.Index()))
}

// setImmediate writes value into component c's sparse set right away,
// auto-creating the set (sized by T) on first use - spec.md §4.3's
// "sparse-set provisioning" rule.
func setImmediate[T any](s *Store, c ecs.ComponentID, entity ecs.EntityID, value T) {
	s.mu.Lock()
	set, ok := s.sets[c]
	if !ok {
		typed := newTypedSet[T]()
		set = typed
		s.sets[c] = typed
		s.active = append(s.active, c)
	}
	s.mu.Unlock()
	set.setAny(uint32(entity.Index()), value)
}

// SetComponent writes value for entity's component c immediately (not
// deferred). Used by the entity pool to seed prototype values and by World
// for out-of-phase mutation.
func SetComponent[T any](s *Store, c ecs.ComponentID, entity ecs.EntityID, value T) {
	setImmediate[T](s, c, entity, value)
}

// GetComponent returns a pointer to entity's value for component c, or nil
// if absent or the set holds a different type.
func GetComponent[T any](s *Store, c ecs.ComponentID, entity ecs.EntityID) *T {
	s.mu.RLock()
	set, ok := s.sets[c]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	typed, ok := set.(*typedSet[T])
	if !ok {
		return nil
	}
	return typed.set.Get(uint32(entity.Index()))
}

// RemoveComponent removes entity's component c immediately, reporting
// whether it was present.
func (s *Store) RemoveComponent(c ecs.ComponentID, entity ecs.EntityID) bool {
	s.mu.RLock()
	set, ok := s.sets[c]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return set.remove(uint32(entity.Index()))
}

// RemoveAll removes entity from every active component set, returning the
// number of sets it was removed from.
func (s *Store) RemoveAll(entity ecs.EntityID) int {
	s.mu.RLock()
	active := make([]ecs.ComponentID, len(s.active))
	copy(active, s.active)
	sets := make([]anySet, len(active))
	for i, c := range active {
		sets[i] = s.sets[c]
	}
	s.mu.RUnlock()

	removed := 0
	key := uint32(entity.Index())
	for _, set := range sets {
		if set.remove(key) {
			removed++
		}
	}
	return removed
}

// ComponentsOf returns the component-ids entity currently carries, scanning
// the active-component-id list. Used by the entity pool to strip
// non-prototype components from a reclaimed entity (spec.md §4.5 step 1).
func (s *Store) ComponentsOf(entity ecs.EntityID) []ecs.ComponentID {
	s.mu.RLock()
	active := make([]ecs.ComponentID, len(s.active))
	copy(active, s.active)
	sets := make([]anySet, len(active))
	for i, c := range active {
		sets[i] = s.sets[c]
	}
	s.mu.RUnlock()

	key := uint32(entity.Index())
	var out []ecs.ComponentID
	for i, set := range sets {
		if set.contains(key) {
			out = append(out, active[i])
		}
	}
	return out
}

// EnqueueSet stages a SET action, applied at the next Drain. The target
// sparse set is provisioned immediately if this is component c's first
// write (spec.md §4.3's "first SET auto-creates the sparse set" rule is
// satisfied at enqueue time rather than drain time, since Go needs T to
// create the typed set and T is only known here, not from the boxed
// Payload stored in the queue).
func EnqueueSet[T any](s *Store, c ecs.ComponentID, entity ecs.EntityID, value T, propagate bool) {
	s.mu.Lock()
	if _, ok := s.sets[c]; !ok {
		typed := newTypedSet[T]()
		s.sets[c] = typed
		s.active = append(s.active, c)
	}
	s.mu.Unlock()

	*s.actions.Reserve() = deferredAction{Component: c, Entity: entity, Kind: ActionSet, Payload: value, Propagate: propagate}
}

// EnqueueRemove stages a REMOVE action.
func (s *Store) EnqueueRemove(c ecs.ComponentID, entity ecs.EntityID, propagate bool) {
	*s.actions.Reserve() = deferredAction{Component: c, Entity: entity, Kind: ActionRemove, Propagate: propagate}
}

// EnqueueRemoveAll stages a REMOVE_ALL action that, at drain time, removes
// entity from every active component set.
func (s *Store) EnqueueRemoveAll(entity ecs.EntityID, propagate bool) {
	*s.actions.Reserve() = deferredAction{Entity: entity, Kind: ActionRemoveAll, Propagate: propagate}
}

// EnqueueDummyAdd stages a no-op action that exists only to notify observers
// (the component-change-event module) without touching the store.
func (s *Store) EnqueueDummyAdd(c ecs.ComponentID, entity ecs.EntityID, propagate bool) {
	*s.actions.Reserve() = deferredAction{Component: c, Entity: entity, Kind: ActionDummyAdd, Propagate: propagate}
}

// EnqueueDummyRemove stages a no-op action mirroring EnqueueDummyAdd for
// removals.
func (s *Store) EnqueueDummyRemove(c ecs.ComponentID, entity ecs.EntityID, propagate bool) {
	*s.actions.Reserve() = deferredAction{Component: c, Entity: entity, Kind: ActionDummyRemove, Propagate: propagate}
}

// Observe walks the pending deferred actions without draining them, letting
// an external module (e.g. component-change events) react to SET/REMOVE
// activity for the frame before Drain clears the queue. Mirrors spec.md
// §6's "Observer hook".
func (s *Store) Observe(fn func(component ecs.ComponentID, entity ecs.EntityID, kind Action, propagate bool)) {
	s.actions.Each(func(a *deferredAction) {
		fn(a.Component, a.Entity, a.Kind, a.Propagate)
	})
}

// Drain applies every queued action in insertion order (spec.md §4.5 step
// 2), then re-sorts every sparse set whose mutation counter is non-zero and
// resets those counters (step 3). SET payloads are applied via a
// type-switch-free path: the target set's setAny accepts the boxed value
// directly since Go's component payloads are never raw bytes.
func (s *Store) Drain() {
	s.actions.Each(func(a *deferredAction) {
		switch a.Kind {
		case ActionSet:
			s.mu.RLock()
			set, ok := s.sets[a.Component]
			s.mu.RUnlock()
			if ok {
				set.setAny(uint32(a.Entity.Index()), a.Payload)
			}
		case ActionRemove:
			s.RemoveComponent(a.Component, a.Entity)
		case ActionRemoveAll:
			s.RemoveAll(a.Entity)
		case ActionDummyAdd, ActionDummyRemove:
			// no store effect; observers already saw this via Observe.
		}
	})
	s.actions.Reset()

	s.mu.RLock()
	active := make([]ecs.ComponentID, len(s.active))
	copy(active, s.active)
	sets := make([]anySet, len(active))
	for i, c := range active {
		sets[i] = s.sets[c]
	}
	s.mu.RUnlock()

	for _, set := range sets {
		if set.mutations() > 0 {
			set.sort()
			set.resetMutations()
		}
	}
}
