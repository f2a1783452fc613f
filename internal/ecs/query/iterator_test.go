package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whisker/internal/ecs"
	"whisker/internal/ecs/component"
)

type vec2 struct{ X, Y int }

// Test_Iterator_ScenarioOneFromSpec reproduces spec.md §8 scenario 1:
// create A, B, C; set Position on A and B, Velocity on B and C; a query
// (read=Position, write=Velocity) yields only B.
func Test_Iterator_ScenarioOneFromSpec(t *testing.T) {
	reg := ecs.NewRegistry()
	store := component.NewStore()

	a := reg.Create()
	b := reg.Create()
	c := reg.Create()

	posID := reg.CreateNamed("Position").Index()
	velID := reg.CreateNamed("Velocity").Index()

	component.SetComponent(store, posID, a, vec2{1, 2})
	component.SetComponent(store, posID, b, vec2{1, 2})
	component.SetComponent(store, velID, b, vec2{0, 1})
	component.SetComponent(store, velID, c, vec2{0, 1})

	cache := NewCache()
	it := cache.Query(0, store, reg, "Position", "Velocity", "", 0, 0)

	var matched []ecs.EntityID
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		matched = append(matched, e)
	}

	require.Len(t, matched, 1)
	assert.Equal(t, b, matched[0])

	pos := component.GetComponent[vec2](store, posID, matched[0])
	vel := component.GetComponent[vec2](store, velID, matched[0])
	require.NotNil(t, pos)
	require.NotNil(t, vel)
	assert.Equal(t, vec2{1, 2}, *pos)
	assert.Equal(t, vec2{0, 1}, *vel)
}

func Test_Iterator_AscendingOrder(t *testing.T) {
	reg := ecs.NewRegistry()
	store := component.NewStore()
	posID := reg.CreateNamed("Position").Index()

	var entities []ecs.EntityID
	for i := 0; i < 20; i++ {
		e := reg.Create()
		entities = append(entities, e)
		component.SetComponent(store, posID, e, vec2{i, i})
	}

	cache := NewCache()
	it := cache.Query(0, store, reg, "Position", "", "", 0, 0)

	var prev ecs.EntityIndex = 0
	first := true
	count := 0
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		if !first {
			assert.Less(t, prev, e.Index())
		}
		prev = e.Index()
		first = false
		count++
	}
	assert.Equal(t, len(entities), count)
}

func Test_Iterator_MissingComponentYieldsNothing(t *testing.T) {
	reg := ecs.NewRegistry()
	store := component.NewStore()

	cache := NewCache()
	it := cache.Query(0, store, reg, "Position", "", "", 0, 0)

	_, ok := it.Next()
	assert.False(t, ok)
}

func Test_Iterator_SkipsUnmanagedEntities(t *testing.T) {
	reg := ecs.NewRegistry()
	store := component.NewStore()
	posID := reg.CreateNamed("Position").Index()

	a := reg.Create()
	b := reg.Create()
	component.SetComponent(store, posID, a, vec2{1, 1})
	component.SetComponent(store, posID, b, vec2{2, 2})
	reg.SetUnmanaged(a)

	cache := NewCache()
	it := cache.Query(0, store, reg, "Position", "", "", 0, 0)

	e, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, b, e)

	_, ok = it.Next()
	assert.False(t, ok)
}

func Test_Iterator_MatchNothingSentinel(t *testing.T) {
	reg := ecs.NewRegistry()
	store := component.NewStore()
	posID := reg.CreateNamed("Position").Index()
	e := reg.Create()
	component.SetComponent(store, posID, e, vec2{1, 1})

	cache := NewCache()
	it := cache.Query(0, store, reg, "Position", "", "", 0, MatchNothingThreadMax)

	_, ok := it.Next()
	assert.False(t, ok)
}

// Test_Iterator_ThreadSlicingReproducesSingleThreadedYield exercises
// spec.md §8's "Thread slicing" property: concatenating the yields of all
// thread slices of a query reproduces the single-threaded yield.
func Test_Iterator_ThreadSlicingReproducesSingleThreadedYield(t *testing.T) {
	reg := ecs.NewRegistry()
	store := component.NewStore()
	posID := reg.CreateNamed("Position").Index()

	const n = 97 // deliberately not evenly divisible by the thread count
	for i := 0; i < n; i++ {
		e := reg.Create()
		component.SetComponent(store, posID, e, vec2{i, i})
	}

	single := NewCache().Query(0, store, reg, "Position", "", "", 0, 0)
	var want []ecs.EntityID
	for {
		e, ok := single.Next()
		if !ok {
			break
		}
		want = append(want, e)
	}

	const threadMax = 4
	var got []ecs.EntityID
	cache := NewCache()
	for t := uint64(0); t < threadMax; t++ {
		it := cache.Query(int(t)+1, store, reg, "Position", "", "", t, threadMax)
		for {
			e, ok := it.Next()
			if !ok {
				break
			}
			got = append(got, e)
		}
	}

	assert.Equal(t, want, got)
}

func Test_Iterator_OptionalComponentPresenceCheck(t *testing.T) {
	reg := ecs.NewRegistry()
	store := component.NewStore()
	posID := reg.CreateNamed("Position").Index()
	hpID := reg.CreateNamed("Health").Index()

	a := reg.Create()
	b := reg.Create()
	component.SetComponent(store, posID, a, vec2{1, 1})
	component.SetComponent(store, posID, b, vec2{2, 2})
	component.SetComponent(store, hpID, a, 100)

	cache := NewCache()
	it := cache.Query(0, store, reg, "Position", "", "Health", 0, 0)

	var withHealth, withoutHealth int
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		if it.HasOptional(hpID, e) {
			withHealth++
		} else {
			withoutHealth++
		}
	}
	assert.Equal(t, 1, withHealth)
	assert.Equal(t, 1, withoutHealth)
}

func Test_Iterator_CacheReusesResolvedArraysAcrossResets(t *testing.T) {
	reg := ecs.NewRegistry()
	store := component.NewStore()
	posID := reg.CreateNamed("Position").Index()
	e := reg.Create()
	component.SetComponent(store, posID, e, vec2{1, 1})

	cache := NewCache()
	first := cache.Query(5, store, reg, "Position", "", "", 0, 0)
	second := cache.Query(5, store, reg, "Position", "", "", 0, 0)

	assert.Same(t, first, second)
}
