// Package ecs provides the hard core of the Whisker entity-component-system
// runtime: entity identity, the entity registry, and the WhiskerError type
// used by the world package's allocation-failure abort.
package ecs

import "fmt"

// EntityIndex uniquely identifies a slot in the registry. It is also used,
// unmodified, as the component-id and phase/system-id namespace: components,
// phases, and systems are themselves entities, named via the registry's
// name lookup, exactly as the original whisker_ecs_component.c resolves a
// component name to an entity id and indexes the component array by its
// `.index` field.
type EntityIndex uint32

// EntityID is a 64-bit entity handle with two interpretations: (index,
// version) for ordinary entities, or (entityA, entityB) for relationship
// pairs. The core never interprets the second form; it exists for callers.
type EntityID uint64

// InvalidEntityID is the reserved sentinel id occupying registry slot 0.
const InvalidEntityID EntityID = 0

// NewEntityID packs an index and version into an entity id.
func NewEntityID(index, version EntityIndex) EntityID {
	return EntityID(uint64(index) | uint64(version)<<32)
}

// Index returns the entity's registry slot.
func (id EntityID) Index() EntityIndex {
	return EntityIndex(uint32(id))
}

// Version returns the entity's recycle generation.
func (id EntityID) Version() EntityIndex {
	return EntityIndex(uint32(id >> 32))
}

// Pair interprets the id as a relationship of two 32-bit halves. The core
// never inspects this form itself; it is provided for callers that want to
// pack two entity indices into one id.
func (id EntityID) Pair() (a, b EntityIndex) {
	return EntityIndex(uint32(id)), EntityIndex(uint32(id >> 32))
}

// NewPairID packs two raw 32-bit values into a single relationship id.
func NewPairID(a, b EntityIndex) EntityID {
	return EntityID(uint64(a) | uint64(b)<<32)
}

func (id EntityID) String() string {
	return fmt.Sprintf("entity(%d:%d)", id.Index(), id.Version())
}

// ComponentID aliases EntityIndex: component identifiers share the entity
// index namespace, see EntityIndex's doc comment.
type ComponentID = EntityIndex

// ManagedBy is implemented by anything that owns entities and wants destroy
// requests routed back to it instead of being recycled directly by the
// registry - in practice, *pool.Pool. Defined here, not in package pool, to
// avoid a pool -> ecs -> pool import cycle.
type ManagedBy interface {
	// Reclaim is called by the scheduler's deferred-destroy drain when an
	// entity owned by this manager is being returned instead of recycled.
	Reclaim(EntityID)
}
