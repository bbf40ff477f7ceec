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
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// A Stream is an ordered executor for bulk map operations. Work submitted to
// a stream runs in submission order on a dedicated dispatcher goroutine; work
// on different streams is unordered with respect to each other. This mirrors
// the submission model the maps in this package are designed around: a bulk
// operation is enqueued asynchronously and the caller synchronizes on the
// stream when it needs the results to be visible.
//
// The zero value is not usable; construct streams with NewStream.
type Stream struct {
	tasks     chan func()
	closeOnce sync.Once
}

// NewStream returns a new stream with an idle dispatcher goroutine. Close
// releases the goroutine.
func NewStream() *Stream {
	s := &Stream{tasks: make(chan func(), 16)}
	go s.dispatch()
	return s
}

func (s *Stream) dispatch() {
	for fn := range s.tasks {
		fn()
	}
}

// submit enqueues fn behind all previously submitted work.
func (s *Stream) submit(fn func()) {
	s.tasks <- fn
}

// Sync blocks until all work submitted to the stream before the call has
// completed.
func (s *Stream) Sync() {
	done := make(chan struct{})
	s.tasks <- func() { close(done) }
	<-done
}

// Close drains the stream and stops its dispatcher goroutine. Close is
// idempotent. It is invalid to submit work to a closed stream.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.Sync()
		close(s.tasks)
	})
}

var defaultStreamOnce = sync.OnceValue(NewStream)

// DefaultStream returns the process-wide default stream. Maps constructed
// without WithStream submit their work here.
func DefaultStream() *Stream {
	return defaultStreamOnce()
}

// launchGrain is the minimum number of batch elements assigned to a worker.
// Fanning tiny batches across GOMAXPROCS goroutines costs more than the work
// itself.
const launchGrain = 512

// launch partitions [0, n) into contiguous chunks and runs body on each chunk
// across up to GOMAXPROCS workers. launch returns when every chunk has been
// processed. It is the data-parallel leg of a bulk operation and always runs
// inside a stream task, so ordering between bulk operations is preserved by
// the stream, not by launch.
func launch(n int, body func(lo, hi int)) {
	workers := runtime.GOMAXPROCS(0)
	if maxw := (n + launchGrain - 1) / launchGrain; workers > maxw {
		workers = maxw
	}
	if workers <= 1 {
		if n > 0 {
			body(0, n)
		}
		return
	}

	chunk := (n + workers - 1) / workers
	var g errgroup.Group
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		g.Go(func() error {
			body(lo, hi)
			return nil
		})
	}
	// Workers never return an error; Wait is just the join point.
	_ = g.Wait()
}
