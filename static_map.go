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

package cuco

import (
	"fmt"
	"hash/maphash"
	"math/bits"
	"sync/atomic"
)

// StaticMap is a fixed-capacity hash table with bulk, batch-oriented
// operations. Capacity is immutable after construction; open addressing with
// linear probing places entries, an empty-key sentinel marks never-used slots
// and an optional erased-key sentinel marks tombstones. Bulk operations fan
// the batch out across worker goroutines on a stream; element-level races
// within a batch are resolved by per-slot atomic compare-and-swap.
//
// A StaticMap requires phase separation between batches: a mutating batch
// (insert, erase) must not overlap a read-only batch (find, contains) on the
// same map. Batches submitted to the same stream never overlap.
//
// Inserting a key or value equal to one of the configured sentinels is
// undefined behavior; batches are not validated.
type StaticMap[K comparable, V any] struct {
	slots        []Slot[K, V]
	size         int
	emptyKey     K
	emptyValue   V
	erasedKey    K
	hasErasedKey bool
	seed         maphash.Seed
	hash         HashFn[K]
	equal        EqualFn[K]
	allocator    Allocator[K, V]
	stream       *Stream
}

// NewStaticMap constructs a StaticMap with at least the specified capacity
// (rounded up to a power of two). Construction fails with
// ErrSentinelCollision if an erased-key sentinel equal to emptyKey was
// supplied, and surfaces allocator failure for the slot storage.
func NewStaticMap[K comparable, V any](
	capacity int, emptyKey K, emptyValue V, options ...option[K, V],
) (*StaticMap[K, V], error) {
	cfg := defaultConfig[K, V]()
	for _, op := range options {
		op.apply(&cfg)
	}
	return newStaticMap(capacity, emptyKey, emptyValue, cfg)
}

func newStaticMap[K comparable, V any](
	capacity int, emptyKey K, emptyValue V, cfg config[K, V],
) (*StaticMap[K, V], error) {
	if cfg.hasErasedKey && cfg.equal(cfg.erasedKey, emptyKey) {
		return nil, ErrSentinelCollision
	}
	capacity = roundUpPow2(capacity)
	slots, err := cfg.allocator.Alloc(capacity)
	if err != nil {
		return nil, fmt.Errorf("cuco: allocating %d slots: %w", capacity, err)
	}
	for i := range slots {
		// Allocators may recycle storage, so the state word is reset along
		// with the sentinels.
		slots[i].state.Store(slotEmpty)
		slots[i].key = emptyKey
		slots[i].value = emptyValue
	}
	return &StaticMap[K, V]{
		slots:        slots,
		emptyKey:     emptyKey,
		emptyValue:   emptyValue,
		erasedKey:    cfg.erasedKey,
		hasErasedKey: cfg.hasErasedKey,
		seed:         maphash.MakeSeed(),
		hash:         cfg.hash,
		equal:        cfg.equal,
		allocator:    cfg.allocator,
		stream:       cfg.stream,
	}, nil
}

// Close releases the slot storage back to the configured allocator. It is
// unnecessary to close a map using the default allocator. It is invalid to
// use a StaticMap after it has been closed, though Close itself is
// idempotent.
func (m *StaticMap[K, V]) Close() {
	if m.slots != nil {
		m.allocator.Free(m.slots)
		m.slots = nil
		m.size = 0
	}
}

// View returns a read-only handle usable by find/contains kernels.
func (m *StaticMap[K, V]) View() View[K, V] {
	return View[K, V]{
		slots:      m.slots,
		seed:       m.seed,
		hash:       m.hash,
		equal:      m.equal,
		emptyValue: m.emptyValue,
	}
}

// MutableView returns a mutating handle usable by insert/erase kernels.
func (m *StaticMap[K, V]) MutableView() MutableView[K, V] {
	return MutableView[K, V]{
		View:         m.View(),
		erasedKey:    m.erasedKey,
		hasErasedKey: m.hasErasedKey,
	}
}

// Insert inserts every pair in the batch whose key is not already present,
// then synchronizes the stream and returns the number of pairs inserted. If
// the same key appears multiple times in the batch it is unspecified which
// instance is retained. A nil stream selects the map's stream.
func (m *StaticMap[K, V]) Insert(pairs []Pair[K, V], s *Stream) int {
	mv := m.MutableView()
	var successes atomic.Uint64
	st := m.streamOf(s)
	st.submit(func() {
		launch(len(pairs), func(lo, hi int) {
			var n uint64
			for _, p := range pairs[lo:hi] {
				if mv.Insert(p.Key, p.Value) {
					n++
				}
			}
			if n > 0 {
				successes.Add(n)
			}
		})
	})
	st.Sync()
	n := int(successes.Load())
	m.size += n
	return n
}

// Find writes, for each key in the batch, the associated value to the
// corresponding output element, or the empty-value sentinel if the key is
// not present. The work is asynchronous: the caller must synchronize the
// stream before reading out.
func (m *StaticMap[K, V]) Find(keys []K, out []V, s *Stream) {
	v := m.View()
	m.streamOf(s).submit(func() {
		launch(len(keys), func(lo, hi int) {
			for i := lo; i < hi; i++ {
				out[i], _ = v.Find(keys[i])
			}
		})
	})
}

// Contains writes, for each key in the batch, whether the key is present.
// The work is asynchronous: the caller must synchronize the stream before
// reading out.
func (m *StaticMap[K, V]) Contains(keys []K, out []bool, s *Stream) {
	v := m.View()
	m.streamOf(s).submit(func() {
		launch(len(keys), func(lo, hi int) {
			for i := lo; i < hi; i++ {
				out[i] = v.Contains(keys[i])
			}
		})
	})
}

// Erase removes every key in the batch that is present, leaving tombstones,
// then synchronizes the stream and returns the number of keys removed.
// Erasing an absent key is a no-op. Erase fails with ErrNoErasedSentinel if
// the map was constructed without an erased-key sentinel.
func (m *StaticMap[K, V]) Erase(keys []K, s *Stream) (int, error) {
	if !m.hasErasedKey {
		return 0, ErrNoErasedSentinel
	}
	mv := m.MutableView()
	var successes atomic.Uint64
	st := m.streamOf(s)
	st.submit(func() {
		launch(len(keys), func(lo, hi int) {
			var n uint64
			for _, k := range keys[lo:hi] {
				if mv.Erase(k) {
					n++
				}
			}
			if n > 0 {
				successes.Add(n)
			}
		})
	})
	st.Sync()
	n := int(successes.Load())
	m.size -= n
	return n, nil
}

// Len returns the number of live entries in the map.
func (m *StaticMap[K, V]) Len() int {
	return m.size
}

// Capacity returns the fixed slot capacity.
func (m *StaticMap[K, V]) Capacity() int {
	return len(m.slots)
}

// LoadFactor returns Len divided by Capacity.
func (m *StaticMap[K, V]) LoadFactor() float64 {
	return float64(m.size) / float64(len(m.slots))
}

func (m *StaticMap[K, V]) streamOf(s *Stream) *Stream {
	if s != nil {
		return s
	}
	if m.stream != nil {
		return m.stream
	}
	return DefaultStream()
}

// roundUpPow2 returns the smallest power of two >= n.
func roundUpPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
