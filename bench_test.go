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
	"strconv"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"

	"github.com/porumbes/cuCollections/keygen"
)

func benchSizes(f func(b *testing.B, n int)) func(*testing.B) {
	var cases = []int{
		1 << 10,
		1 << 14,
		1 << 18,
	}

	return func(b *testing.B) {
		for _, n := range cases {
			b.Run("len="+strconv.Itoa(n), func(b *testing.B) { f(b, n) })
		}
	}
}

func benchPairs(n int, seed int64) []Pair[int64, int64] {
	keys := keygen.Keys[int64](keygen.Unique(), n, seed)
	pairs := make([]Pair[int64, int64], n)
	for i, k := range keys {
		pairs[i] = Pair[int64, int64]{Key: k, Value: k}
	}
	return pairs
}

func BenchmarkMapInsert(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(func(b *testing.B, n int) {
		pairs := benchPairs(n, 1)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			m := make(map[int64]int64)
			for _, p := range pairs {
				m[p.Key] = p.Value
			}
		}
	}))
	b.Run("impl=dynamicMap", benchSizes(func(b *testing.B, n int) {
		cs := perfbench.Open(b)
		pairs := benchPairs(n, 1)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			m, err := NewDynamicMap[int64, int64](1024, -1, -1)
			if err != nil {
				b.Fatal(err)
			}
			_ = m.Insert(pairs, nil)
			m.Close()
		}
		cs.Stop()
	}))
}

func BenchmarkMapFindHit(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(func(b *testing.B, n int) {
		pairs := benchPairs(n, 1)
		m := make(map[int64]int64, n)
		for _, p := range pairs {
			m[p.Key] = p.Value
		}
		out := make([]int64, n)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			for j, p := range pairs {
				out[j] = m[p.Key]
			}
		}
	}))
	b.Run("impl=dynamicMap", benchSizes(func(b *testing.B, n int) {
		cs := perfbench.Open(b)
		pairs := benchPairs(n, 1)
		keys := make([]int64, n)
		for i, p := range pairs {
			keys[i] = p.Key
		}
		m, err := NewDynamicMap[int64, int64](1024, -1, -1)
		if err != nil {
			b.Fatal(err)
		}
		defer m.Close()
		_ = m.Insert(pairs, nil)
		out := make([]int64, n)
		s := DefaultStream()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			m.Find(keys, out, s)
			s.Sync()
		}
		cs.Stop()
	}))
}

func BenchmarkMapFindMiss(b *testing.B) {
	b.Run("impl=dynamicMap", benchSizes(func(b *testing.B, n int) {
		pairs := benchPairs(n, 1)
		miss := make([]int64, n)
		for i := range miss {
			miss[i] = int64(n + i)
		}
		m, err := NewDynamicMap[int64, int64](1024, -1, -1)
		if err != nil {
			b.Fatal(err)
		}
		defer m.Close()
		_ = m.Insert(pairs, nil)
		out := make([]int64, n)
		s := DefaultStream()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			m.Find(miss, out, s)
			s.Sync()
		}
	}))
}

func BenchmarkMapContains(b *testing.B) {
	b.Run("dist=unique", benchSizes(func(b *testing.B, n int) {
		pairs := benchPairs(n, 1)
		keys := make([]int64, n)
		for i, p := range pairs {
			keys[i] = p.Key
		}
		m, err := NewDynamicMap[int64, int64](1024, -1, -1)
		if err != nil {
			b.Fatal(err)
		}
		defer m.Close()
		_ = m.Insert(pairs, nil)
		out := make([]bool, n)
		s := DefaultStream()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			m.Contains(keys, out, s)
			s.Sync()
		}
	}))
	b.Run("dist=gaussian", benchSizes(func(b *testing.B, n int) {
		pairs := benchPairs(n, 1)
		probes := keygen.Keys[int64](keygen.Gaussian(4), n, 2)
		m, err := NewDynamicMap[int64, int64](1024, -1, -1)
		if err != nil {
			b.Fatal(err)
		}
		defer m.Close()
		_ = m.Insert(pairs, nil)
		out := make([]bool, n)
		s := DefaultStream()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			m.Contains(probes, out, s)
			s.Sync()
		}
	}))
}

func BenchmarkMapErase(b *testing.B) {
	b.Run("impl=dynamicMap", benchSizes(func(b *testing.B, n int) {
		pairs := benchPairs(n, 1)
		keys := make([]int64, n)
		for i, p := range pairs {
			keys[i] = p.Key
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			b.StopTimer()
			m, err := NewDynamicMap[int64, int64](1024, -1, -1,
				WithErasedKey[int64, int64](-2))
			if err != nil {
				b.Fatal(err)
			}
			_ = m.Insert(pairs, nil)
			b.StartTimer()
			_ = m.Erase(keys, nil)
			b.StopTimer()
			m.Close()
			b.StartTimer()
		}
	}))
}
