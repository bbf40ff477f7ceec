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

import "hash/maphash"

// HashFn hashes a key under a seed. The default is maphash.Comparable, which
// hashes any comparable key; any function with this shape that distributes
// keys uniformly across 64 bits is accepted.
type HashFn[K comparable] func(seed maphash.Seed, key K) uint64

// EqualFn reports whether two keys are equal. The default is ==. A supplied
// equality must be consistent with the supplied hash: equal keys must hash
// identically under the same seed.
type EqualFn[K comparable] func(a, b K) bool

// config carries the construction-time knobs shared by StaticMap and
// DynamicMap. Knobs that only concern growth are ignored by StaticMap.
type config[K comparable, V any] struct {
	hash          HashFn[K]
	equal         EqualFn[K]
	allocator     Allocator[K, V]
	erasedKey     K
	hasErasedKey  bool
	maxLoadFactor float64
	growthFactor  float64
	minInsertSize int
	stream        *Stream
}

func defaultConfig[K comparable, V any]() config[K, V] {
	return config[K, V]{
		hash:          maphash.Comparable[K],
		equal:         func(a, b K) bool { return a == b },
		allocator:     defaultAllocator[K, V]{},
		maxLoadFactor: defaultMaxLoadFactor,
		growthFactor:  defaultGrowthFactor,
		minInsertSize: defaultMinInsertSize,
	}
}

// option provides an interface to do work on a map while it is being created.
type option[K comparable, V any] interface {
	apply(c *config[K, V])
}

type optionFunc[K comparable, V any] func(c *config[K, V])

func (f optionFunc[K, V]) apply(c *config[K, V]) { f(c) }

// WithHash is an option to specify the hash function used for all probing.
func WithHash[K comparable, V any](hash HashFn[K]) option[K, V] {
	return optionFunc[K, V](func(c *config[K, V]) { c.hash = hash })
}

// WithKeyEqual is an option to specify the key equality used for all probing.
func WithKeyEqual[K comparable, V any](equal EqualFn[K]) option[K, V] {
	return optionFunc[K, V](func(c *config[K, V]) { c.equal = equal })
}

// WithErasedKey is an option to reserve a second key sentinel that marks
// erased slots. Erase is only available on maps constructed with it, and
// construction fails with ErrSentinelCollision if it equals the empty-key
// sentinel.
func WithErasedKey[K comparable, V any](key K) option[K, V] {
	return optionFunc[K, V](func(c *config[K, V]) {
		c.erasedKey = key
		c.hasErasedKey = true
	})
}

// WithMaxLoadFactor is an option to set the occupancy ratio above which a
// DynamicMap grows before accepting a batch. Must be in (0, 1].
func WithMaxLoadFactor[K comparable, V any](f float64) option[K, V] {
	return optionFunc[K, V](func(c *config[K, V]) { c.maxLoadFactor = f })
}

// WithGrowthFactor is an option to set the multiplicative factor applied to
// total capacity when a DynamicMap appends a submap. Must be greater than 1.
func WithGrowthFactor[K comparable, V any](f float64) option[K, V] {
	return optionFunc[K, V](func(c *config[K, V]) { c.growthFactor = f })
}

// WithMinInsertSize is an option to set the minimum free capacity a submap
// must retain for an insert batch to be routed to it.
func WithMinInsertSize[K comparable, V any](n int) option[K, V] {
	return optionFunc[K, V](func(c *config[K, V]) { c.minInsertSize = n })
}

// WithStream is an option to set the stream that bulk operations use when
// the caller passes a nil stream. The default is DefaultStream.
func WithStream[K comparable, V any](s *Stream) option[K, V] {
	return optionFunc[K, V](func(c *config[K, V]) { c.stream = s })
}

// Allocator specifies an interface for allocating and releasing the slot
// storage backing a map. The default allocator utilizes Go's builtin make()
// and allows the GC to reclaim memory.
//
// Alloc may fail; a failure during growth is reported to the caller and
// leaves the map unchanged. If the allocator manually manages memory then
// Close must be called on the map to ensure Free is invoked.
type Allocator[K comparable, V any] interface {
	// Alloc returns a slice equivalent to make([]Slot[K, V], n), or an error
	// if the backing memory cannot be obtained.
	Alloc(n int) ([]Slot[K, V], error)

	// Free releases the memory associated with the supplied slice, which is
	// guaranteed to have been returned by Alloc.
	Free(v []Slot[K, V])
}

type defaultAllocator[K comparable, V any] struct{}

func (defaultAllocator[K, V]) Alloc(n int) ([]Slot[K, V], error) {
	return make([]Slot[K, V], n), nil
}

func (defaultAllocator[K, V]) Free(v []Slot[K, V]) {
}

// WithAllocator is an option to specify the Allocator backing a map's slot
// storage.
func WithAllocator[K comparable, V any](allocator Allocator[K, V]) option[K, V] {
	return optionFunc[K, V](func(c *config[K, V]) { c.allocator = allocator })
}
