// Package query implements the Whisker iterator/query engine: a k-way
// merge over the sparse sets of a (read, write, optional) component-id
// triple, yielding matched entities in ascending index order with support
// for thread-sliced parallel iteration (spec.md §4.4).
package query

import (
	"math"
	"strings"
	"sync"

	"whisker/internal/ecs"
	"whisker/internal/ecs/component"
)

// MatchNothingThreadMax is the thread_max sentinel meaning "initialize the
// iterator but match nothing", mirroring the source's UINT64_MAX convention.
const MatchNothingThreadMax = math.MaxUint64

// Iterator drives a single (read, write, optional) query. It is not safe
// for concurrent use by multiple goroutines - each thread slice of a
// parallel system owns its own Iterator instance via Cache.
type Iterator struct {
	store    *component.Store
	registry *ecs.Registry

	read     []ecs.ComponentID
	write    []ecs.ComponentID
	optional []ecs.ComponentID
	required []ecs.ComponentID // read ++ write, resolved once at construction

	keys    [][]uint32 // per required component, that component's dense keys
	cursors []int      // per required component, monotonic scan position
	master  int        // index into required with the smallest cardinality
	end     int        // this thread slice's exclusive end on the master's keys

	matchNothing bool
}

func newIterator(store *component.Store, registry *ecs.Registry, read, write, optional []ecs.ComponentID) *Iterator {
	required := make([]ecs.ComponentID, 0, len(read)+len(write))
	required = append(required, read...)
	required = append(required, write...)
	return &Iterator{
		store:    store,
		registry: registry,
		read:     read,
		write:    write,
		optional: optional,
		required: required,
	}
}

// Reset reinitializes the iterator's cursors and master selection for a new
// pass, optionally restricted to one slice of a thread-sliced parallel
// dispatch. threadMax <= 1 means "no slicing, scan everything".
func (it *Iterator) Reset(threadID, threadMax uint64) {
	it.matchNothing = threadMax == MatchNothingThreadMax

	it.keys = make([][]uint32, len(it.required))
	for i, c := range it.required {
		keys := it.store.DenseKeys(c)
		if keys == nil {
			it.matchNothing = true
		}
		it.keys[i] = keys
	}

	if len(it.required) == 0 {
		it.matchNothing = true
	}
	if it.matchNothing {
		return
	}

	it.master = 0
	for i := 1; i < len(it.keys); i++ {
		if len(it.keys[i]) < len(it.keys[it.master]) {
			it.master = i
		}
	}

	it.cursors = make([]int, len(it.required))
	start, end := threadSlice(len(it.keys[it.master]), threadID, threadMax)
	it.cursors[it.master] = start
	it.end = end
}

// threadSlice partitions [0, n) into threadMax equal chunks, the last chunk
// absorbing any remainder, and returns the bounds for threadID's chunk.
func threadSlice(n int, threadID, threadMax uint64) (start, end int) {
	if threadMax <= 1 {
		return 0, n
	}
	chunk := n / int(threadMax)
	start = int(threadID) * chunk
	if threadID == threadMax-1 {
		return start, n
	}
	return start, start + chunk
}

// Next advances to the next matching entity. It returns false once the
// master cursor exhausts this thread slice's range.
func (it *Iterator) Next() (ecs.EntityID, bool) {
	if it.matchNothing {
		return ecs.InvalidEntityID, false
	}

	masterKeys := it.keys[it.master]
outer:
	for it.cursors[it.master] < it.end {
		candidate := masterKeys[it.cursors[it.master]]
		it.cursors[it.master]++

		idx := ecs.EntityIndex(candidate)
		if it.registry.IsUnmanaged(idx) {
			continue
		}

		for i := range it.required {
			if i == it.master {
				continue
			}
			keys := it.keys[i]
			for it.cursors[i] < len(keys) && keys[it.cursors[i]] < candidate {
				it.cursors[i]++
			}
			if it.cursors[i] >= len(keys) || keys[it.cursors[i]] != candidate {
				continue outer
			}
		}

		return it.registry.CurrentID(idx), true
	}
	return ecs.InvalidEntityID, false
}

// HasOptional reports whether entity carries optional component c.
func (it *Iterator) HasOptional(c ecs.ComponentID, entity ecs.EntityID) bool {
	return it.store.Has(c, entity)
}

// Optional returns the resolved optional component-id list, in the order
// the query string declared them.
func (it *Iterator) Optional() []ecs.ComponentID {
	return it.optional
}

// ResolveComponents splits a comma-separated component-name string into
// resolved component ids, creating the backing named entity for any name
// seen for the first time - spec.md §7's "lookup failure silently creates
// the named entity" rule, since names here are identifiers, not queries.
// Empty fields are skipped, so "" and ",," both resolve to an empty slice.
func ResolveComponents(registry *ecs.Registry, csv string) []ecs.ComponentID {
	if csv == "" {
		return nil
	}
	fields := strings.Split(csv, ",")
	ids := make([]ecs.ComponentID, 0, len(fields))
	for _, f := range fields {
		name := strings.TrimSpace(f)
		if name == "" {
			continue
		}
		ids = append(ids, registry.CreateNamed(name).Index())
	}
	return ids
}

// Cache holds one Iterator per itor_index for a single calling context
// (in practice, one per system thread context), so repeated queries across
// frames reuse the resolved component-id arrays instead of re-parsing the
// query strings every call (spec.md §4.4).
type Cache struct {
	mu        sync.Mutex
	iterators map[int]*Iterator
}

// NewCache creates an empty per-context iterator cache.
func NewCache() *Cache {
	return &Cache{iterators: make(map[int]*Iterator)}
}

// Query returns the cached iterator for itorIndex, creating and resolving
// it on first use, then resets it for a fresh pass over read/write/optional
// (comma-separated component-name lists).
func (c *Cache) Query(itorIndex int, store *component.Store, registry *ecs.Registry, read, write, optional string, threadID, threadMax uint64) *Iterator {
	c.mu.Lock()
	it, ok := c.iterators[itorIndex]
	if !ok {
		it = newIterator(store, registry,
			ResolveComponents(registry, read),
			ResolveComponents(registry, write),
			ResolveComponents(registry, optional))
		c.iterators[itorIndex] = it
	}
	c.mu.Unlock()

	it.Reset(threadID, threadMax)
	return it
}
