package component

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whisker/internal/ecs"
)

type position struct{ X, Y int }

func entityAt(idx uint32) ecs.EntityID {
	return ecs.NewEntityID(ecs.EntityIndex(idx), 0)
}

func Test_Store_SetAndGetImmediate(t *testing.T) {
	s := NewStore()
	e := entityAt(1)

	SetComponent(s, ecs.ComponentID(10), e, position{X: 1, Y: 2})

	got := GetComponent[position](s, ecs.ComponentID(10), e)
	require.NotNil(t, got)
	assert.Equal(t, position{1, 2}, *got)
}

func Test_Store_GetComponentWrongTypeReturnsNil(t *testing.T) {
	s := NewStore()
	e := entityAt(1)
	SetComponent(s, ecs.ComponentID(10), e, position{X: 1, Y: 2})

	got := GetComponent[int](s, ecs.ComponentID(10), e)
	assert.Nil(t, got)
}

func Test_Store_RemoveComponent(t *testing.T) {
	s := NewStore()
	e := entityAt(1)
	SetComponent(s, ecs.ComponentID(10), e, position{X: 1, Y: 2})

	assert.True(t, s.RemoveComponent(ecs.ComponentID(10), e))
	assert.False(t, s.Has(ecs.ComponentID(10), e))
	assert.False(t, s.RemoveComponent(ecs.ComponentID(10), e))
}

func Test_Store_RemoveAll(t *testing.T) {
	s := NewStore()
	e := entityAt(1)
	SetComponent(s, ecs.ComponentID(10), e, position{X: 1, Y: 2})
	SetComponent(s, ecs.ComponentID(11), e, 42)

	removed := s.RemoveAll(e)
	assert.Equal(t, 2, removed)
	assert.False(t, s.Has(ecs.ComponentID(10), e))
	assert.False(t, s.Has(ecs.ComponentID(11), e))
}

// Test_Store_DeferredMutationConfluence exercises spec.md §8's "Deferred
// mutation confluence" property: applying SET/REMOVE/REMOVE_ALL through the
// deferred queue then draining yields the same final store as applying the
// same sequence immediately.
func Test_Store_DeferredMutationConfluence(t *testing.T) {
	posID := ecs.ComponentID(10)
	velID := ecs.ComponentID(11)
	a := entityAt(1)
	b := entityAt(2)

	immediate := NewStore()
	SetComponent(immediate, posID, a, position{1, 2})
	SetComponent(immediate, posID, b, position{3, 4})
	SetComponent(immediate, velID, b, position{0, 1})
	immediate.RemoveComponent(posID, a)

	deferred := NewStore()
	EnqueueSet(deferred, posID, a, position{1, 2}, false)
	EnqueueSet(deferred, posID, b, position{3, 4}, false)
	EnqueueSet(deferred, velID, b, position{0, 1}, false)
	deferred.EnqueueRemove(posID, a, false)
	deferred.Drain()

	assert.Equal(t, immediate.Has(posID, a), deferred.Has(posID, a))
	assert.Equal(t, *GetComponent[position](immediate, posID, b), *GetComponent[position](deferred, posID, b))
	assert.Equal(t, *GetComponent[position](immediate, velID, b), *GetComponent[position](deferred, velID, b))
}

func Test_Store_DrainAppliesRemoveAll(t *testing.T) {
	s := NewStore()
	e := entityAt(1)
	EnqueueSet(s, ecs.ComponentID(10), e, position{1, 2}, false)
	EnqueueSet(s, ecs.ComponentID(11), e, 7, false)
	s.Drain()

	s.EnqueueRemoveAll(e, false)
	s.Drain()

	assert.False(t, s.Has(ecs.ComponentID(10), e))
	assert.False(t, s.Has(ecs.ComponentID(11), e))
}

func Test_Store_DrainResortsMutatedSetsAndResetsCounters(t *testing.T) {
	s := NewStore()
	id := ecs.ComponentID(10)

	EnqueueSet(s, id, entityAt(3), position{3, 3}, false)
	EnqueueSet(s, id, entityAt(1), position{1, 1}, false)
	EnqueueSet(s, id, entityAt(2), position{2, 2}, false)
	s.Drain()

	set := s.sets[id].(*typedSet[position])
	keys := set.set.DenseKeys()
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i])
	}
	assert.Equal(t, uint64(0), set.mutations())
}

func Test_Store_DummyActionsDoNotMutateStore(t *testing.T) {
	s := NewStore()
	id := ecs.ComponentID(10)
	e := entityAt(1)

	s.EnqueueDummyAdd(id, e, true)
	s.Drain()

	assert.False(t, s.Has(id, e))
}

func Test_Store_ObserveSeesPendingActionsBeforeDrain(t *testing.T) {
	s := NewStore()
	id := ecs.ComponentID(10)
	e := entityAt(1)
	EnqueueSet(s, id, e, position{1, 1}, true)

	var seenPropagate bool
	var seenKind Action
	s.Observe(func(component ecs.ComponentID, entity ecs.EntityID, kind Action, propagate bool) {
		seenPropagate = propagate
		seenKind = kind
	})

	assert.True(t, seenPropagate)
	assert.Equal(t, ActionSet, seenKind)

	// Observe must not consume the queue.
	s.Drain()
	assert.True(t, s.Has(id, e))
}

func Test_Store_ActiveComponentsTracksRegistrationOrder(t *testing.T) {
	s := NewStore()
	e := entityAt(1)
	SetComponent(s, ecs.ComponentID(5), e, 1)
	SetComponent(s, ecs.ComponentID(2), e, 2)

	assert.Equal(t, []ecs.ComponentID{5, 2}, s.ActiveComponents())
}
