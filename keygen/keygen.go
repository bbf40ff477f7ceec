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

// Package keygen generates synthetic key batches for exercising the bulk map
// operations in tests and benchmarks. A Distribution selects the key shape:
// unique keys, uniformly repeated keys, or a gaussian pile-up around zero.
// Generated keys are non-negative, so negative sentinel values stay clear of
// generated data.
package keygen

import (
	"math"
	"math/rand"
)

type kind int

const (
	unique kind = iota
	uniform
	gaussian
)

// Distribution is a tagged description of a key population, consumed by
// Keys. Construct one with Unique, Uniform, or Gaussian.
type Distribution struct {
	kind         kind
	multiplicity int64
	skew         float64
}

// Unique describes a population where every generated key is distinct. The
// keys 0..n-1 are produced in shuffled order.
func Unique() Distribution {
	return Distribution{kind: unique}
}

// Uniform describes a population drawn uniformly from a range sized so that
// each key occurs on average multiplicity times.
func Uniform(multiplicity int64) Distribution {
	if multiplicity < 1 {
		multiplicity = 1
	}
	return Distribution{kind: uniform, multiplicity: multiplicity}
}

// Gaussian describes a population piled up around zero: keys are the
// magnitude of a normal sample with standard deviation n/skew. Larger skew
// narrows the population and raises the duplicate rate.
func Gaussian(skew float64) Distribution {
	if skew <= 0 {
		skew = 1
	}
	return Distribution{kind: gaussian, skew: skew}
}

// Integer constrains the generated key type.
type Integer interface {
	~int | ~int32 | ~int64 | ~uint32 | ~uint64
}

// Keys generates n keys from the distribution, deterministically for a given
// seed.
func Keys[K Integer](d Distribution, n int, seed int64) []K {
	rng := rand.New(rand.NewSource(seed))
	keys := make([]K, n)
	switch d.kind {
	case unique:
		for i := range keys {
			keys[i] = K(i)
		}
		rng.Shuffle(n, func(i, j int) {
			keys[i], keys[j] = keys[j], keys[i]
		})
	case uniform:
		span := int64(n) / d.multiplicity
		if span < 1 {
			span = 1
		}
		for i := range keys {
			keys[i] = K(rng.Int63n(span))
		}
	case gaussian:
		stddev := float64(n) / d.skew
		for i := range keys {
			keys[i] = K(math.Abs(rng.NormFloat64() * stddev))
		}
	}
	return keys
}

// Pairs generates n key/value pairs whose keys follow the distribution and
// whose values are derived from the keys by the supplied function.
func Pairs[K Integer, V any](d Distribution, n int, seed int64, value func(K) V) (keys []K, values []V) {
	keys = Keys[K](d, n, seed)
	values = make([]V, n)
	for i, k := range keys {
		values[i] = value(k)
	}
	return keys, values
}
