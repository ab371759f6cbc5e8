// Copyright 2018 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package index

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grailbio/base/log"
)

const (
	// parallelThreshold is the number of bins above which a query is scanned
	// by a pool of workers.
	parallelThreshold = 4
	// completedQueueSize bounds the number of results waiting for the
	// coordinator.
	completedQueueSize = 128
)

type scanResult struct {
	bin     uint16
	matches []FetchEntry
	err     error
}

// scanParallel scans the jobs with a pool of workers, each owning a cursor.
// It returns the first worker failure.
func (idx *Index) scanParallel(ctx context.Context, seqID uint8, jobs []binJob, fs filterSet) ([]FetchEntry, error) {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)

	queue := make(chan binJob, len(jobs))
	for _, job := range jobs {
		queue <- job
	}
	close(queue)

	completed := make(chan scanResult, completedQueueSize)
	workers := idx.opts.Workers
	if workers > len(jobs) {
		workers = len(jobs)
	}
	alive := int32(workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer atomic.AddInt32(&alive, -1)
			idx.scanWorker(ctx, seqID, fs, queue, completed)
		}()
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	timer := time.NewTimer(idx.opts.PollInterval)
	defer timer.Stop()

	var matches []FetchEntry
	for done := 0; done < len(jobs); {
		select {
		case r := <-completed:
			if r.err != nil {
				return nil, fmt.Errorf("%w: %w", ErrWorker, r.err)
			}
			matches = append(matches, r.matches...)
			done++
		case <-timer.C:
			if atomic.LoadInt32(&alive) == 0 && len(completed) == 0 {
				log.Error.Printf("All scan workers exited with %d of %d bins outstanding.", len(jobs)-done, len(jobs))
				return nil, fmt.Errorf("%d of %d bins outstanding: %w", len(jobs)-done, len(jobs), ErrNoWorkers)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(idx.opts.PollInterval)
	}
	log.Debug.Printf("Scanned %d bins with %d workers in %.3fs.", len(jobs), workers, time.Since(start).Seconds())
	return matches, nil
}

// scanWorker scans jobs until the queue is drained, the context is done or a
// scan fails.  A failure is reported on completed and ends the worker.
func (idx *Index) scanWorker(ctx context.Context, seqID uint8, fs filterSet, queue <-chan binJob, completed chan<- scanResult) {
	send := func(r scanResult) bool {
		select {
		case completed <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var bin uint16
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic scanning bin %d: %v", bin, r)
			log.Error.Printf("Scan worker failed: %v", err)
			send(scanResult{bin: bin, err: err})
		}
	}()

	cursor, err := idx.store.NewCursor()
	if err != nil {
		log.Error.Printf("Scan worker failed to open a cursor: %v", err)
		send(scanResult{err: fmt.Errorf("opening cursor: %w", err)})
		return
	}
	defer cursor.Close()

	for job := range queue {
		if ctx.Err() != nil {
			return
		}
		bin = job.bin
		found, err := scanBin(cursor, seqID, job, fs)
		if err != nil {
			err = fmt.Errorf("scanning bin %d: %w", job.bin, err)
			log.Error.Printf("Scan worker failed: %v", err)
			send(scanResult{bin: job.bin, err: err})
			return
		}
		if !send(scanResult{bin: job.bin, matches: found}) {
			return
		}
	}
}
