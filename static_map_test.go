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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/porumbes/cuCollections/keygen"
)

func TestStaticMapBasic(t *testing.T) {
	m, err := NewStaticMap[int, int](32, -1, -1, WithErasedKey[int, int](-2))
	require.NoError(t, err)
	defer m.Close()
	require.Equal(t, 32, m.Capacity())
	require.Equal(t, 0, m.Len())

	pairs := pairsFor(seqKeys(0, 10), func(k int) int { return k * 100 })
	require.Equal(t, 10, m.Insert(pairs, nil))
	require.Equal(t, 10, m.Len())

	// Reinserting the same batch must be a no-op.
	require.Equal(t, 0, m.Insert(pairs, nil))
	require.Equal(t, 10, m.Len())

	out := make([]int, 12)
	m.Find(seqKeys(0, 12), out, nil)
	m.streamOf(nil).Sync()
	for i := 0; i < 10; i++ {
		require.Equal(t, i*100, out[i])
	}
	require.Equal(t, -1, out[10])
	require.Equal(t, -1, out[11])

	present := make([]bool, 12)
	m.Contains(seqKeys(0, 12), present, nil)
	m.streamOf(nil).Sync()
	for i := range present {
		require.Equal(t, i < 10, present[i])
	}

	n, err := m.Erase(seqKeys(5, 15), nil)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, 5, m.Len())
}

func TestStaticMapCapacityRounding(t *testing.T) {
	testCases := []struct {
		requested int
		expected  int
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{5, 8},
		{8, 8},
		{1000, 1024},
	}
	for _, c := range testCases {
		t.Run("", func(t *testing.T) {
			m, err := NewStaticMap[int, int](c.requested, -1, -1)
			require.NoError(t, err)
			require.Equal(t, c.expected, m.Capacity())
			m.Close()
		})
	}
}

func TestStaticMapDuplicateInBatch(t *testing.T) {
	m, err := NewStaticMap[int, int](16, -1, -1)
	require.NoError(t, err)
	defer m.Close()

	batch := []Pair[int, int]{{Key: 5, Value: 50}, {Key: 5, Value: 51}, {Key: 5, Value: 52}}
	require.Equal(t, 1, m.Insert(batch, nil))
	require.Equal(t, 1, m.Len())

	out := make([]int, 1)
	m.Find([]int{5}, out, nil)
	m.streamOf(nil).Sync()
	require.Contains(t, []int{50, 51, 52}, out[0])
}

func TestStaticMapTombstoneReuse(t *testing.T) {
	m, err := NewStaticMap[int, int](8, -1, -1, WithErasedKey[int, int](-2))
	require.NoError(t, err)
	defer m.Close()

	erasedSlots := func() int {
		var n int
		for i := range m.slots {
			if m.slots[i].state.Load() == slotErased {
				require.Equal(t, -2, m.slots[i].key)
				n++
			}
		}
		return n
	}

	require.Equal(t, 1, m.Insert([]Pair[int, int]{{Key: 4, Value: 40}}, nil))
	n, err := m.Erase([]int{4}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 0, m.Len())
	require.Equal(t, 1, erasedSlots())

	// Reinserting the key must reclaim the tombstone on its probe chain
	// rather than consuming a fresh slot.
	require.Equal(t, 1, m.Insert([]Pair[int, int]{{Key: 4, Value: 41}}, nil))
	require.Equal(t, 0, erasedSlots())

	out := make([]int, 1)
	m.Find([]int{4}, out, nil)
	m.streamOf(nil).Sync()
	require.Equal(t, 41, out[0])
}

func TestStaticMapEraseDuplicatesInBatch(t *testing.T) {
	m, err := NewStaticMap[int64, int64](64, -1, -1, WithErasedKey[int64, int64](-2))
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, 1, m.Insert([]Pair[int64, int64]{{Key: 7, Value: 70}}, nil))

	// A batch of nothing but duplicates of one live key, large enough to fan
	// out across workers: exactly one lane removes it.
	keys := make([]int64, 8192)
	for i := range keys {
		keys[i] = 7
	}
	removed, err := m.Erase(keys, nil)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.Equal(t, 0, m.Len())

	out := make([]bool, 1)
	m.Contains([]int64{7}, out, nil)
	m.streamOf(nil).Sync()
	require.False(t, out[0])
}

func TestEraseDuplicateKeyConcurrent(t *testing.T) {
	m, err := NewStaticMap[int64, int64](32, -1, -1, WithErasedKey[int64, int64](-2))
	require.NoError(t, err)
	defer m.Close()
	mv := m.MutableView()

	// Two lanes racing to erase the same key, repeatedly; every round must
	// produce exactly one winner and no torn key reads.
	for iter := 0; iter < 10000; iter++ {
		require.True(t, mv.Insert(7, 70))
		start := make(chan struct{})
		results := make(chan bool, 2)
		for g := 0; g < 2; g++ {
			go func() {
				<-start
				results <- mv.Erase(7)
			}()
		}
		close(start)
		a, b := <-results, <-results
		require.NotEqual(t, a, b)
		require.False(t, mv.Contains(7))
	}
}

func TestStaticMapFull(t *testing.T) {
	m, err := NewStaticMap[int, int](8, -1, -1)
	require.NoError(t, err)
	defer m.Close()

	// One more key than the table can hold: exactly one element of the batch
	// fails, and which one is unspecified.
	require.Equal(t, 8, m.Insert(pairsFor(seqKeys(0, 9), func(k int) int { return k }), nil))
	require.Equal(t, 8, m.Len())
}

func TestStaticMapEraseWithoutSentinel(t *testing.T) {
	m, err := NewStaticMap[int, int](8, -1, -1)
	require.NoError(t, err)
	defer m.Close()

	m.Insert([]Pair[int, int]{{Key: 1, Value: 1}}, nil)
	_, err = m.Erase([]int{1}, nil)
	require.ErrorIs(t, err, ErrNoErasedSentinel)
	require.Equal(t, 1, m.Len())
}

func TestStaticMapLargeBatch(t *testing.T) {
	// A batch large enough to fan out across workers, cross-checked against
	// a builtin map.
	const n = 50000
	keys := keygen.Keys[int64](keygen.Unique(), n, 7)
	pairs := make([]Pair[int64, int64], n)
	model := make(map[int64]int64, n)
	for i, k := range keys {
		pairs[i] = Pair[int64, int64]{Key: k, Value: k * 2}
		model[k] = k * 2
	}

	m, err := NewStaticMap[int64, int64](2*n, -1, -1, WithErasedKey[int64, int64](-2))
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, n, m.Insert(pairs, nil))
	require.Equal(t, len(model), m.Len())

	out := make([]int64, n)
	m.Find(keys, out, nil)
	m.streamOf(nil).Sync()
	for i, k := range keys {
		require.Equal(t, model[k], out[i])
	}

	removed, err := m.Erase(keys[:n/2], nil)
	require.NoError(t, err)
	require.Equal(t, n/2, removed)
	require.Equal(t, n-n/2, m.Len())

	present := make([]bool, n)
	m.Contains(keys, present, nil)
	m.streamOf(nil).Sync()
	for i := range keys {
		require.Equal(t, i >= n/2, present[i])
	}
}

func TestViewHandlesShareStorage(t *testing.T) {
	m, err := NewStaticMap[int, int](16, -1, -1, WithErasedKey[int, int](-2))
	require.NoError(t, err)
	defer m.Close()

	// Views are by-value handles: copies taken before a mutation still
	// observe it, because they share the slot storage.
	v := m.View()
	mv := m.MutableView()
	require.False(t, v.Contains(9))

	require.True(t, mv.Insert(9, 90))
	value, ok := v.Find(9)
	require.True(t, ok)
	require.Equal(t, 90, value)

	require.True(t, mv.Erase(9))
	require.False(t, v.Contains(9))
	_, ok = v.Find(9)
	require.False(t, ok)
}
