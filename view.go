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
	"hash/maphash"
	"runtime"
	"sync/atomic"
)

// Each slot carries a state word that doubles as the publication protocol for
// concurrent kernel lanes operating on the same batch:
//
//	   empty: never written since construction (or reclaimed, see below)
//	reserved: a lane won the claim CAS and is writing the key/value
//	    full: key/value are published and stable
//	  erased: a tombstone; the key holds the erased-key sentinel
//
// Transitions are empty/erased -> reserved -> full on insert and
// full -> reserved -> erased on erase. Every transition out of a stable state
// goes through a CAS, which is what resolves two lanes racing for the same
// slot without any locking.
const (
	slotEmpty uint32 = iota
	slotReserved
	slotFull
	slotErased
)

// Slot holds a key and value plus the slot's state word.
type Slot[K comparable, V any] struct {
	state atomic.Uint32
	key   K
	value V
}

// Pair is a key/value pair accepted by bulk insert.
type Pair[K comparable, V any] struct {
	Key   K
	Value V
}

// View is a read-only handle on a StaticMap's slots. It is small and copied
// by value into kernel closures; all copies observe the same slot storage.
// A View must not be used concurrently with inserts or erases against the
// same map.
type View[K comparable, V any] struct {
	slots      []Slot[K, V]
	seed       maphash.Seed
	hash       HashFn[K]
	equal      EqualFn[K]
	emptyValue V
}

// Find returns the value associated with key, or the empty-value sentinel and
// false if the key is not present.
func (v View[K, V]) Find(key K) (V, bool) {
	mask := uint64(len(v.slots) - 1)
	i := v.hash(v.seed, key) & mask
	for probes := 0; probes < len(v.slots); probes++ {
		s := &v.slots[i]
		switch s.state.Load() {
		case slotEmpty:
			return v.emptyValue, false
		case slotFull:
			if v.equal(s.key, key) {
				return s.value, true
			}
		}
		// Erased slots keep the probe chain going: the key may have been
		// displaced past the tombstone when it was inserted.
		i = (i + 1) & mask
	}
	return v.emptyValue, false
}

// Contains reports whether key is present.
func (v View[K, V]) Contains(key K) bool {
	_, ok := v.Find(key)
	return ok
}

// MutableView is a mutating handle on a StaticMap's slots, used by insert and
// erase kernels. Like View it is copied by value. Element-level races between
// lanes of one batch are resolved by the slot state CAS protocol; mixing
// insert/erase batches with find/contains batches is not supported.
type MutableView[K comparable, V any] struct {
	View[K, V]
	erasedKey    K
	hasErasedKey bool
}

// Insert inserts the pair if key is not already present, reclaiming the first
// tombstone on the probe chain when one exists. It returns false if the key
// was present or the table has no claimable slot left.
func (mv MutableView[K, V]) Insert(key K, value V) bool {
	mask := uint64(len(mv.slots) - 1)
	h := mv.hash(mv.seed, key) & mask
	for {
		// Probe until the key or an empty slot terminates the chain,
		// remembering the first tombstone so it can be reclaimed.
		claim := -1
		end := -1
		i := h
		for probes := 0; probes < len(mv.slots); probes++ {
			s := &mv.slots[i]
			switch s.state.Load() {
			case slotEmpty:
				end = int(i)
			case slotErased:
				if claim < 0 {
					claim = int(i)
				}
			case slotReserved:
				// Another lane is publishing this slot and may hold the same
				// key. Wait for it to settle and re-examine.
				waitSettled(&s.state)
				probes--
				continue
			case slotFull:
				if mv.equal(s.key, key) {
					return false
				}
			}
			if end >= 0 {
				break
			}
			i = (i + 1) & mask
		}
		if claim < 0 {
			claim = end
		}
		if claim < 0 {
			// Every slot on the chain is full with other keys: the table
			// cannot accept this element.
			return false
		}

		s := &mv.slots[claim]
		st := s.state.Load()
		if st != slotEmpty && st != slotErased {
			continue
		}
		if !s.state.CompareAndSwap(st, slotReserved) {
			// Lost the claim race; the winner may even have inserted this
			// same key, so reprobe from scratch.
			continue
		}
		s.key = key
		s.value = value
		s.state.Store(slotFull)
		return true
	}
}

// Erase removes key if present, leaving a tombstone whose key is the
// erased-key sentinel. It returns true if this call removed the key; when
// duplicate keys appear in one erase batch exactly one lane wins the CAS.
func (mv MutableView[K, V]) Erase(key K) bool {
	mask := uint64(len(mv.slots) - 1)
	i := mv.hash(mv.seed, key) & mask
	for probes := 0; probes < len(mv.slots); probes++ {
		s := &mv.slots[i]
		switch s.state.Load() {
		case slotEmpty:
			return false
		case slotReserved:
			// Another lane is transitioning this slot and may hold the key.
			// Wait for it to settle and re-examine.
			waitSettled(&s.state)
			probes--
			continue
		case slotFull:
			// The slot must be held before its key can be examined: a
			// duplicate key in the batch could rewrite the key concurrently
			// with a plain read.
			if !s.state.CompareAndSwap(slotFull, slotReserved) {
				probes--
				continue
			}
			if mv.equal(s.key, key) {
				s.key = mv.erasedKey
				s.value = mv.emptyValue
				s.state.Store(slotErased)
				return true
			}
			s.state.Store(slotFull)
		}
		i = (i + 1) & mask
	}
	return false
}

func waitSettled(st *atomic.Uint32) {
	for st.Load() == slotReserved {
		runtime.Gosched()
	}
}
