// Copyright 2025 The cuCollections Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cuco provides bulk-oriented associative containers built around
// fixed-capacity open-addressing hash tables.
//
// # DynamicMap
//
// A DynamicMap starts at a fixed capacity and grows by appending additional
// fixed-capacity tables ("submaps") as keys are inserted. Keys are never
// rehashed or migrated: once a key lands in a submap it stays there until it
// is erased. The map therefore federates bulk operations across an ordered
// pool of independent submaps:
//
//   - Insert walks the pool in creation order and fills each submap with
//     free headroom in turn, growing the pool first whenever the projected
//     occupancy would exceed the maximum load factor.
//   - Find and Contains probe the submaps oldest-first and resolve each key
//     at its first match. A key lives in at most one submap, so order only
//     affects cost, not correctness; oldest-first amortizes well when most
//     keys were inserted early.
//   - Erase is issued against every submap, since a key may reside in any of
//     them. A per-submap counter learns how many keys each submap actually
//     removed, and the logical size is decremented by the total after the
//     stream synchronizes.
//
// The pool mirrors a pair of view arrays (one read-only View and one
// MutableView per submap) that kernels iterate. Any structural change to
// the pool rebuilds both arrays before the next kernel can observe them.
//
// # Batches, streams, and phases
//
// The unit of work is a host-issued bulk operation over a batch. Each bulk
// operation fans the batch out across worker goroutines on a Stream;
// operations submitted to the same stream run in submission order, and the
// map provides no ordering between streams. Mutating batches (insert, erase)
// must be phase-separated from read-only batches (find, contains): growth
// rebuilds the view arrays, so overlapping them is unsupported. Within one
// batch, two elements racing for a slot are resolved by the slot's atomic
// state protocol; the orchestration layer takes no locks of its own.
//
// # Sentinels
//
// A reserved empty-key and empty-value sentinel mark unoccupied slots, and an
// optional erased-key sentinel marks tombstones. Inserting a key or value
// equal to a sentinel is undefined behavior and is deliberately not checked
// per element. Erased slots are never reclaimed wholesale: capacity consumed
// by tombstones is not returned, and the logical size is maintained by
// success counters rather than by summing submap occupancy.
//
// # Known limitation
//
// Insert does not consult older submaps, so re-inserting a key that already
// resides in an older submap yields two live copies and inflates the size.
// Callers must either avoid re-inserting live keys or run Contains first and
// filter the batch.
package cuco

import (
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

const (
	debug = false

	defaultMaxLoadFactor = 0.60
	defaultGrowthFactor  = 2.0
	defaultMinInsertSize = 1
)

var (
	// ErrSentinelCollision is returned by construction when the erased-key
	// sentinel equals the empty-key sentinel.
	ErrSentinelCollision = errors.New("cuco: erased-key sentinel equals empty-key sentinel")

	// ErrNoErasedSentinel is returned by Erase on a map constructed without
	// an erased-key sentinel.
	ErrNoErasedSentinel = errors.New("cuco: map was constructed without an erased-key sentinel")
)

// submapCounter counts per-submap successes during one bulk erase. Counters
// sit on their own cache lines so that kernel lanes hammering different
// submaps' counters do not false-share.
type submapCounter struct {
	n atomic.Uint64
	_ cpu.CacheLinePad
}

// DynamicMap is a growable map from keys to values with bulk Insert, Find,
// Contains, and Erase operations. See the package documentation for the
// growth and federation model.
//
// A DynamicMap is a unique resource handle: it owns its submaps and their
// views, supports no copy or move, and releases everything on Close. Bulk
// operations on the same map from different streams must be externally
// serialized.
type DynamicMap[K comparable, V any] struct {
	// submaps is the pool, ordered by creation time. Inserts fill the pool
	// in that order, oldest headroom first; every submap serves
	// find/contains/erase regardless of whether it still accepts inserts.
	submaps []*StaticMap[K, V]
	// views and mutableViews mirror the pool one-to-one and are rebuilt on
	// every structural change, before any kernel can read them.
	views        []View[K, V]
	mutableViews []MutableView[K, V]
	counters     []*submapCounter
	// size is the count of live entries. It is not derivable from submap
	// occupancy because tombstones keep their slots.
	size int
	// capacity is the sum of all submap capacities; it never decreases.
	capacity   int
	emptyKey   K
	emptyValue V
	cfg        config[K, V]
}

// NewDynamicMap constructs a DynamicMap with at least the specified initial
// capacity (rounded up to a power of two) and the given empty-key and
// empty-value sentinels. Construction fails if the options are inconsistent
// (see WithErasedKey, WithMaxLoadFactor, WithGrowthFactor) or if the initial
// submap cannot be allocated.
func NewDynamicMap[K comparable, V any](
	initialCapacity int, emptyKey K, emptyValue V, options ...option[K, V],
) (*DynamicMap[K, V], error) {
	cfg := defaultConfig[K, V]()
	for _, op := range options {
		op.apply(&cfg)
	}
	if cfg.maxLoadFactor <= 0 || cfg.maxLoadFactor > 1 {
		return nil, fmt.Errorf("cuco: max load factor %v outside (0, 1]", cfg.maxLoadFactor)
	}
	if cfg.growthFactor <= 1 {
		return nil, fmt.Errorf("cuco: growth factor %v must exceed 1", cfg.growthFactor)
	}
	if cfg.minInsertSize < 1 {
		return nil, fmt.Errorf("cuco: min insert size %d must be positive", cfg.minInsertSize)
	}

	m := &DynamicMap[K, V]{
		emptyKey:   emptyKey,
		emptyValue: emptyValue,
		cfg:        cfg,
	}
	sub, err := newStaticMap(initialCapacity, emptyKey, emptyValue, cfg)
	if err != nil {
		return nil, err
	}
	m.appendSubmaps(sub)
	m.checkInvariants()
	return m, nil
}

// Close releases every submap back to the configured allocator. It is
// invalid to use the map after Close, though Close itself is idempotent.
func (m *DynamicMap[K, V]) Close() {
	for _, sub := range m.submaps {
		sub.Close()
	}
	m.submaps = nil
	m.views = nil
	m.mutableViews = nil
	m.counters = nil
	m.size = 0
	m.capacity = 0
}

// Reserve grows the pool until, without further growth, at least n
// additional entries can be accepted: the projected occupancy (size+n) must
// not exceed the maximum load factor, and the newest submap must retain at
// least the minimum insert size of free capacity. On allocation failure the
// pool is left unchanged; no partially grown state is committed.
func (m *DynamicMap[K, V]) Reserve(n int) error {
	projected := m.capacity
	var pending []*StaticMap[K, V]

	newestFree := func() int {
		sub := m.submaps[len(m.submaps)-1]
		if len(pending) > 0 {
			sub = pending[len(pending)-1]
		}
		return m.freeIn(sub)
	}

	for float64(m.size+n) > m.cfg.maxLoadFactor*float64(projected) ||
		newestFree() < m.cfg.minInsertSize {
		remaining := m.size + n - int(m.cfg.maxLoadFactor*float64(projected))
		sub, err := newStaticMap(
			m.submapCapacityFor(projected, remaining), m.emptyKey, m.emptyValue, m.cfg)
		if err != nil {
			for _, p := range pending {
				p.Close()
			}
			return err
		}
		pending = append(pending, sub)
		projected += sub.Capacity()
		if debug {
			fmt.Printf("reserve(%d): appending capacity=%d projected=%d\n",
				n, sub.Capacity(), projected)
		}
	}

	if len(pending) > 0 {
		m.appendSubmaps(pending...)
	}
	m.checkInvariants()
	return nil
}

// Insert inserts all pairs in the batch, growing the pool first so the
// post-insert occupancy stays within the maximum load factor. The batch is
// routed across the submaps in creation order, filling each submap that
// retains at least the minimum insert size of free capacity before moving to
// the next. If the same key appears multiple times in the batch it is
// unspecified which instance is retained.
//
// Keys and values equal to the configured sentinels must not appear in the
// batch, and keys already live in an older submap must not be re-inserted;
// neither precondition is checked. A nil stream selects the map's stream.
func (m *DynamicMap[K, V]) Insert(pairs []Pair[K, V], s *Stream) error {
	if err := m.Reserve(len(pairs)); err != nil {
		return err
	}

	remaining := pairs
	for idx := 0; len(remaining) > 0; idx++ {
		if idx == len(m.submaps) {
			// The load-factor projection said the batch fits, but routing
			// skipped enough partially filled submaps that we ran out of
			// pool. Grow for what is left.
			if err := m.grow(len(remaining)); err != nil {
				return err
			}
		}
		sub := m.submaps[idx]
		free := m.freeIn(sub)
		if free < m.cfg.minInsertSize {
			continue
		}
		n := min(free, len(remaining))
		inserted := sub.Insert(remaining[:n], s)
		m.size += inserted
		if debug {
			fmt.Printf("insert: submap=%d batch=%d inserted=%d size=%d\n",
				idx, n, inserted, m.size)
		}
		remaining = remaining[n:]
	}
	m.checkInvariants()
	return nil
}

// Find writes, for each key in the batch, the associated value to the
// corresponding output element, or the empty-value sentinel if the key is
// not present in any submap. The work is asynchronous: the caller must
// synchronize the stream before reading out.
func (m *DynamicMap[K, V]) Find(keys []K, out []V, s *Stream) {
	views := m.views
	empty := m.emptyValue
	m.streamOf(s).submit(func() {
		launch(len(keys), func(lo, hi int) {
			for i := lo; i < hi; i++ {
				out[i] = empty
				for _, v := range views {
					if value, ok := v.Find(keys[i]); ok {
						out[i] = value
						break
					}
				}
			}
		})
	})
}

// Contains writes, for each key in the batch, whether the key is present in
// any submap. The work is asynchronous: the caller must synchronize the
// stream before reading out.
func (m *DynamicMap[K, V]) Contains(keys []K, out []bool, s *Stream) {
	views := m.views
	m.streamOf(s).submit(func() {
		launch(len(keys), func(lo, hi int) {
			for i := lo; i < hi; i++ {
				out[i] = false
				for _, v := range views {
					if v.Contains(keys[i]) {
						out[i] = true
						break
					}
				}
			}
		})
	})
}

// Erase removes every key in the batch that is present, leaving tombstones,
// and decrements the size by the number of keys actually removed. Erasing an
// absent key is a no-op, and a subsequent insert of an erased key succeeds.
// Erase synchronizes the stream to read back the per-submap success
// counters. It fails with ErrNoErasedSentinel if the map was constructed
// without an erased-key sentinel.
func (m *DynamicMap[K, V]) Erase(keys []K, s *Stream) error {
	if !m.cfg.hasErasedKey {
		return ErrNoErasedSentinel
	}
	for _, c := range m.counters {
		c.n.Store(0)
	}

	// The erase is issued against every submap: a key lives in at most one,
	// but which one is unknown, and the cross-submap duplicate limitation
	// means a key can in fact be live in several.
	mviews := m.mutableViews
	counters := m.counters
	st := m.streamOf(s)
	st.submit(func() {
		launch(len(keys), func(lo, hi int) {
			for i := lo; i < hi; i++ {
				for j := range mviews {
					if mviews[j].Erase(keys[i]) {
						counters[j].n.Add(1)
					}
				}
			}
		})
	})
	st.Sync()

	for j, c := range m.counters {
		n := int(c.n.Load())
		m.submaps[j].size -= n
		m.size -= n
	}
	m.checkInvariants()
	return nil
}

// Len returns the number of live entries across all submaps.
func (m *DynamicMap[K, V]) Len() int {
	return m.size
}

// Capacity returns the total capacity of all submaps.
func (m *DynamicMap[K, V]) Capacity() int {
	return m.capacity
}

// LoadFactor returns Len divided by Capacity.
func (m *DynamicMap[K, V]) LoadFactor() float64 {
	return float64(m.size) / float64(m.capacity)
}

func (m *DynamicMap[K, V]) submapCount() int {
	return len(m.submaps)
}

// freeIn returns how many more entries the submap can accept before its own
// occupancy crosses the maximum load factor.
func (m *DynamicMap[K, V]) freeIn(sub *StaticMap[K, V]) int {
	return int(m.cfg.maxLoadFactor*float64(sub.Capacity())) - sub.Len()
}

// submapCapacityFor sizes the next submap: the growth factor applied to the
// projected total capacity, but never less than the shortfall being reserved
// for, and never so small that routing could not place a minimum-size batch
// in it.
func (m *DynamicMap[K, V]) submapCapacityFor(projected, need int) int {
	growBy := int(float64(projected) * (m.cfg.growthFactor - 1))
	if growBy < need {
		growBy = need
	}
	if minCap := int(float64(m.cfg.minInsertSize)/m.cfg.maxLoadFactor) + 1; growBy < minCap {
		growBy = minCap
	}
	return growBy
}

// grow appends a single submap sized for need additional entries.
func (m *DynamicMap[K, V]) grow(need int) error {
	sub, err := newStaticMap(
		m.submapCapacityFor(m.capacity, need), m.emptyKey, m.emptyValue, m.cfg)
	if err != nil {
		return err
	}
	m.appendSubmaps(sub)
	return nil
}

// appendSubmaps commits fully constructed submaps to the pool and rebuilds
// the mirrored view arrays. This is the only way the pool changes shape.
func (m *DynamicMap[K, V]) appendSubmaps(subs ...*StaticMap[K, V]) {
	for _, sub := range subs {
		m.submaps = append(m.submaps, sub)
		m.counters = append(m.counters, &submapCounter{})
		m.capacity += sub.Capacity()
	}
	m.syncViews()
}

// syncViews rebuilds the device-visible view arrays from the pool. Rebuilt
// wholesale on every structural change rather than invalidated lazily, so a
// kernel launch can always iterate the arrays as they stand.
func (m *DynamicMap[K, V]) syncViews() {
	views := make([]View[K, V], len(m.submaps))
	mviews := make([]MutableView[K, V], len(m.submaps))
	for i, sub := range m.submaps {
		views[i] = sub.View()
		mviews[i] = sub.MutableView()
	}
	m.views = views
	m.mutableViews = mviews
}

func (m *DynamicMap[K, V]) streamOf(s *Stream) *Stream {
	if s != nil {
		return s
	}
	if m.cfg.stream != nil {
		return m.cfg.stream
	}
	return DefaultStream()
}

func (m *DynamicMap[K, V]) checkInvariants() {
	if invariants {
		if len(m.views) != len(m.submaps) || len(m.mutableViews) != len(m.submaps) ||
			len(m.counters) != len(m.submaps) {
			panic(fmt.Sprintf("invariant failed: %d submaps, %d views, %d mutable views, %d counters",
				len(m.submaps), len(m.views), len(m.mutableViews), len(m.counters)))
		}
		var capacity, size int
		for _, sub := range m.submaps {
			capacity += sub.Capacity()
			size += sub.Len()
		}
		if capacity != m.capacity {
			panic(fmt.Sprintf("invariant failed: submap capacities sum to %d, but capacity is %d",
				capacity, m.capacity))
		}
		if size != m.size {
			panic(fmt.Sprintf("invariant failed: submap sizes sum to %d, but size is %d",
				size, m.size))
		}
		if m.size > m.capacity {
			panic(fmt.Sprintf("invariant failed: size %d exceeds capacity %d", m.size, m.capacity))
		}
	}
}
