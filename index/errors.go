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

import "errors"

var (
	// ErrFormat is returned when an index was written with an unsupported
	// format version.  The index must be rebuilt.
	ErrFormat = errors.New("unsupported index format")
	// ErrNotIndexed is returned when a query names a sequence that is not in
	// the index.
	ErrNotIndexed = errors.New("sequence not indexed")
	// ErrInconsistentReference is returned when a block's reference sequence
	// differs from the reference sequence of the index.
	ErrInconsistentReference = errors.New("inconsistent reference sequence")
	// ErrCapacity is returned when a build would exceed the number of species
	// or sequences an index can hold.
	ErrCapacity = errors.New("index capacity exceeded")
	// ErrWorker is returned when a concurrent scan worker fails.
	ErrWorker = errors.New("scan worker failed")
	// ErrNoWorkers is returned when every scan worker exited before all jobs
	// completed.
	ErrNoWorkers = errors.New("no scan workers alive")
	// ErrNoIntervals is returned when a query has no intervals.
	ErrNoIntervals = errors.New("no intervals specified")
	// ErrMixedChromosomes is returned when the intervals of a query are not
	// all on the same sequence.
	ErrMixedChromosomes = errors.New("intervals must be for the same sequence")
	// ErrUnknownFilter is returned for filters of an unsupported kind.
	ErrUnknownFilter = errors.New("unsupported filter")
	// ErrUnknownSpecies is returned when a filter names a species that is not
	// in the index.
	ErrUnknownSpecies = errors.New("species not indexed")
)
