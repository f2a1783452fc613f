package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whisker/internal/ecs"
	"whisker/internal/ecs/component"
)

type vec2 struct{ X, Y int }

func newTestPool(t *testing.T, cfg Config) (*ecs.Registry, *component.Store, *Pool) {
	t.Helper()
	reg := ecs.NewRegistry()
	store := component.NewStore()
	p := New(reg, store, cfg)
	return reg, store, p
}

func Test_Pool_RequestSeedsPrototypeValuesAfterDrain(t *testing.T) {
	posID := ecs.ComponentID(10)
	hpID := ecs.ComponentID(11)
	reg, store, p := newTestPool(t, Config{InitialSize: 4, ReallocBlockSize: 4})
	SetPrototypeComponent(p, posID, vec2{0, 0})
	SetPrototypeComponent(p, hpID, 100)

	e := p.Request()
	store.Drain()

	pos := component.GetComponent[vec2](store, posID, e)
	hp := component.GetComponent[int](store, hpID, e)
	require.NotNil(t, pos)
	require.NotNil(t, hp)
	assert.Equal(t, vec2{0, 0}, *pos)
	assert.Equal(t, 100, *hp)
	assert.True(t, reg.IsAlive(e))
}

func Test_Pool_RequestGrowsFreeListOnMiss(t *testing.T) {
	_, _, p := newTestPool(t, Config{InitialSize: 1, ReallocBlockSize: 4})

	a := p.Request()
	b := p.Request() // triggers a miss-growth of 4 more

	assert.NotEqual(t, a.Index(), b.Index())
	assert.Equal(t, uint64(1), p.Stats().Misses)
	assert.Equal(t, uint64(2), p.Stats().Requests)
}

func Test_Pool_ReturnRestoresPrototypeValuesOnNextRequest(t *testing.T) {
	posID := ecs.ComponentID(10)
	reg, store, p := newTestPool(t, Config{InitialSize: 2, ReallocBlockSize: 2})
	SetPrototypeComponent(p, posID, vec2{0, 0})

	e := p.Request()
	store.Drain()
	pos := component.GetComponent[vec2](store, posID, e)
	require.NotNil(t, pos)
	pos.X, pos.Y = 99, 99

	p.Return(e)
	store.Drain() // applies the DUMMY_REMOVE (no store effect) queued by Return

	assert.False(t, reg.IsAlive(e))

	recreated := p.Request()
	store.Drain()

	reset := component.GetComponent[vec2](store, posID, recreated)
	require.NotNil(t, reset)
	assert.Equal(t, vec2{0, 0}, *reset)
}

// Test_Pool_ConservationProperty exercises spec.md §8's "Pool conservation"
// property: after K request/return cycles, the free list contains exactly
// K entities and no component data leaks to unmanaged slots outside the
// prototype set. The no-leak half of that guarantee belongs to the
// managed-destroy path (spec.md §4.5 step 1, Pool.Reclaim) rather than
// Pool.Return itself - return_entity's contract (§4.6) only says it enqueues
// DUMMY_REMOVE for prototype components, marks the entity unmanaged, and
// frees it, not that it strips anything else - so this drives the cycle
// through Reclaim, exactly as Test_Pool_ReclaimStripsNonPrototypeComponents
// does.
func Test_Pool_ConservationProperty(t *testing.T) {
	posID := ecs.ComponentID(10)
	extraID := ecs.ComponentID(99) // not in the prototype
	_, store, p := newTestPool(t, Config{InitialSize: 8, ReallocBlockSize: 8})
	SetPrototypeComponent(p, posID, vec2{0, 0})

	const k = 8
	entities := make([]ecs.EntityID, 0, k)
	for i := 0; i < k; i++ {
		e := p.Request()
		store.Drain()
		component.SetComponent(store, extraID, e, i) // simulate game code adding a non-prototype component
		entities = append(entities, e)
	}

	for _, e := range entities {
		p.Reclaim(e)
		store.Drain()
	}

	assert.Equal(t, k, p.FreeListLen())

	for _, e := range entities {
		assert.False(t, store.Has(extraID, e))
	}
}

// Test_Pool_ScenarioFourFromSpec reproduces spec.md §8 scenario 4: a pool
// with prototype {Position=(0,0), Health=100}; request 1000 entities,
// write Position on half, return them all, request 500 more - the
// returned entities have Position=(0,0) again.
func Test_Pool_ScenarioFourFromSpec(t *testing.T) {
	posID := ecs.ComponentID(10)
	hpID := ecs.ComponentID(11)
	_, store, p := newTestPool(t, Config{InitialSize: 1000, ReallocBlockSize: 1000})
	SetPrototypeComponent(p, posID, vec2{0, 0})
	SetPrototypeComponent(p, hpID, 100)

	const n = 1000
	entities := make([]ecs.EntityID, n)
	for i := 0; i < n; i++ {
		entities[i] = p.Request()
	}
	store.Drain()

	for i := 0; i < n/2; i++ {
		pos := component.GetComponent[vec2](store, posID, entities[i])
		require.NotNil(t, pos)
		pos.X, pos.Y = 5, 5
	}

	for _, e := range entities {
		p.Return(e)
	}
	store.Drain()

	const m = 500
	fresh := make([]ecs.EntityID, m)
	for i := 0; i < m; i++ {
		fresh[i] = p.Request()
	}
	store.Drain()

	for _, e := range fresh {
		pos := component.GetComponent[vec2](store, posID, e)
		require.NotNil(t, pos)
		assert.Equal(t, vec2{0, 0}, *pos)
	}
}

func Test_Pool_ReclaimStripsNonPrototypeComponents(t *testing.T) {
	posID := ecs.ComponentID(10)
	extraID := ecs.ComponentID(20)
	reg, store, p := newTestPool(t, Config{InitialSize: 2, ReallocBlockSize: 2})
	SetPrototypeComponent(p, posID, vec2{0, 0})

	e := p.Request()
	store.Drain()
	component.SetComponent(store, extraID, e, "tag")

	p.Reclaim(e)
	store.Drain()

	assert.False(t, store.Has(extraID, e))
	assert.False(t, reg.IsAlive(e))
	assert.Equal(t, 2, p.FreeListLen())

	recycled := p.Request()
	assert.False(t, reg.Destroyed(recycled), "a reused pool slot must not still report as destroyed")
}
